package research

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jandive/jandive/config"
	"github.com/jandive/jandive/internal/safety"
	"github.com/jandive/jandive/internal/telemetry"
)

// Exchange is one earlier question/answer pair. The REPL carries recent
// exchanges so follow-up questions resolve against them.
type Exchange struct {
	Query   string
	Summary string
}

// Options parameterize one research run.
type Options struct {
	Query         string
	MaxIterations int
	Temperature   float64
	MaxTokens     int
	Offline       bool
	Concise       bool
	Conversation  []Exchange
	Progress      ProgressFunc
}

// Orchestrator drives the research loop through its phases: plan the
// sub-queries, retrieve sources for each, aggregate them into the cited
// corpus, decide whether to refine or stop, then synthesize the report.
type Orchestrator struct {
	cfg       config.ResearchConfig
	oracle    Oracle
	pipeline  *Pipeline
	synth     *Synthesizer
	evaluator *safety.Evaluator
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

func NewOrchestrator(cfg config.ResearchConfig, oracle Oracle, pipeline *Pipeline, synth *Synthesizer, evaluator *safety.Evaluator, tel *telemetry.Telemetry) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		oracle:    oracle,
		pipeline:  pipeline,
		synth:     synth,
		evaluator: evaluator,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags),
	}
}

// Run executes one research session. On a fatal synthesis failure the
// returned error is a *PhaseError and the session still carries every
// source gathered so far.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Session, error) {
	query := strings.TrimSpace(opts.Query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = o.cfg.MaxIterations
	}
	if maxIter <= 0 {
		maxIter = 3
	}
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	sess := &Session{
		ID:            uuid.New().String(),
		UserQuery:     query,
		MaxIterations: maxIter,
		Temperature:   opts.Temperature,
		StartedAt:     time.Now(),
	}
	o.logger.Printf("session %s started: %q", sess.ID, query)

	// Follow-up questions only make sense against what was asked before,
	// so the prompts see the recent exchanges while the session keeps the
	// raw query.
	oracleQuery := query
	if pre := conversationPreamble(opts.Conversation); pre != "" {
		oracleQuery = pre + query
	}

	// Plain arithmetic never needs the web or the model.
	if o.evaluator != nil && o.evaluator.IsArithmetic(query) {
		if v, err := o.evaluator.Evaluate(query); err == nil {
			answer := fmt.Sprintf("%g", v)
			sess.Report = &Report{
				Summary:  answer,
				Markdown: fmt.Sprintf("**%s = %s**\n", query, answer),
			}
			sess.FinishedAt = time.Now()
			o.notify(opts.Progress, PhaseDone, 0, "answered by calculator")
			return sess, nil
		}
	}

	if opts.Offline {
		return o.finish(ctx, sess, nil, oracleQuery, opts)
	}

	agg, err := NewAggregator()
	if err != nil {
		return nil, fmt.Errorf("corpus index: %w", err)
	}
	planner := NewPlanner(o.oracle)

	o.notify(opts.Progress, PhasePlanning, 0, "planning sub-queries")
	queue := planner.PlanInitial(ctx, oracleQuery, o.cfg.InitialSubQueries)

	for {
		if err := ctx.Err(); err != nil {
			o.logger.Printf("session %s cancelled: %v", sess.ID, err)
			break
		}

		o.notify(opts.Progress, PhaseRetrieving, sess.IterationCount+1, fmt.Sprintf("retrieving %d sub-queries", len(queue)))
		var batch []Source
		for _, sq := range queue {
			batch = append(batch, o.runSubQuery(ctx, sq, opts.Progress)...)
		}

		o.notify(opts.Progress, PhaseAggregating, sess.IterationCount+1, "aggregating sources")
		sess.Sources = append(sess.Sources, batch...)
		added := agg.Merge(batch)
		o.logger.Printf("session %s iteration %d: %d sources fetched, %d new in corpus", sess.ID, sess.IterationCount+1, len(batch), added)

		sess.IterationCount++
		o.notify(opts.Progress, PhaseDeciding, sess.IterationCount, "evaluating coverage")
		queue = o.decide(ctx, sess, planner, agg, oracleQuery)
		if len(queue) == 0 {
			break
		}
	}

	return o.finish(ctx, sess, agg, oracleQuery, opts)
}

// conversationPreamble renders earlier exchanges for the prompts. Empty
// when there is no conversation.
func conversationPreamble(conv []Exchange) string {
	if len(conv) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Earlier in this conversation:\n")
	for _, ex := range conv {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", ex.Query, ex.Summary)
	}
	b.WriteString("\nCurrent question: ")
	return b.String()
}

// decide returns the next round of sub-queries, or nothing when the run
// should move on to synthesis.
func (o *Orchestrator) decide(ctx context.Context, sess *Session, planner *Planner, agg *Aggregator, oracleQuery string) []SubQuery {
	if sess.IterationCount >= sess.MaxIterations {
		o.logger.Printf("session %s: iteration budget reached", sess.ID)
		return nil
	}
	cov := agg.Coverage()
	if cov.Sources == 0 {
		// Nothing usable came back at all; more queries against the
		// same engines rarely change that.
		o.logger.Printf("session %s: corpus empty after iteration %d, synthesizing anyway", sess.ID, sess.IterationCount)
		return nil
	}
	if cov.Words >= o.cfg.CoverageWords && cov.Hosts >= o.cfg.CoverageHosts {
		o.logger.Printf("session %s: coverage sufficient (%d words, %d hosts)", sess.ID, cov.Words, cov.Hosts)
		return nil
	}
	remaining := o.cfg.InitialSubQueries
	queue := planner.PlanRefine(ctx, oracleQuery, o.coverageSummary(agg), sess.IterationCount, remaining)
	if len(queue) == 0 {
		o.logger.Printf("session %s: planner proposed no refinements", sess.ID)
	}
	return queue
}

// coverageSummary renders what the corpus already holds for the refine
// prompt.
func (o *Orchestrator) coverageSummary(agg *Aggregator) string {
	var b strings.Builder
	for _, entry := range agg.Corpus() {
		snippet := entry.Source.ExtractedText
		if fields := strings.Fields(snippet); len(fields) > 40 {
			snippet = strings.Join(fields[:40], " ") + "..."
		}
		fmt.Fprintf(&b, "- %s: %s\n", entry.Source.Title, snippet)
	}
	if b.Len() == 0 {
		return "- nothing retrieved yet\n"
	}
	return b.String()
}

// runSubQuery shields the loop from a panicking collaborator; a panic
// degrades to a single fetch-error source for the sub-query.
func (o *Orchestrator) runSubQuery(ctx context.Context, sq SubQuery, progress ProgressFunc) (out []Source) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Printf("sub-query %q panicked: %v", sq.Text, r)
			out = []Source{{
				URL:            "about:invalid",
				Status:         StatusFetchError,
				RetrievedAt:    time.Now(),
				OriginSubQuery: sq.Text,
			}}
		}
	}()
	out = o.pipeline.Run(ctx, sq)
	if progress != nil {
		for i := range out {
			src := out[i]
			progress(ProgressEvent{Phase: PhaseRetrieving, Iteration: sq.OriginIteration + 1, Source: &src})
		}
	}
	return out
}

func (o *Orchestrator) finish(ctx context.Context, sess *Session, agg *Aggregator, oracleQuery string, opts Options) (*Session, error) {
	o.notify(opts.Progress, PhaseSynthesizing, sess.IterationCount, "writing report")

	var corpus []CorpusEntry
	if agg != nil {
		corpus = agg.TopRelevant(sess.UserQuery, len(agg.Corpus()))
	}
	start := time.Now()
	report, err := o.synth.Synthesize(ctx, oracleQuery, corpus, opts.Temperature, opts.MaxTokens, opts.Concise, opts.Offline)
	o.telemetry.RecordOracleCall("synthesis", time.Since(start), err)
	sess.FinishedAt = time.Now()
	o.telemetry.RecordRun(sess.FinishedAt.Sub(sess.StartedAt), sess.IterationCount, len(corpus))
	if err != nil {
		return sess, &PhaseError{Phase: PhaseSynthesizing, Err: fmt.Errorf("%w: %v", ErrOracleUnavailable, err)}
	}
	sess.Report = report
	o.notify(opts.Progress, PhaseDone, sess.IterationCount, "done")
	o.logger.Printf("session %s finished after %d iterations, %d citations", sess.ID, sess.IterationCount, len(report.Citations))
	return sess, nil
}

func (o *Orchestrator) notify(fn ProgressFunc, phase Phase, iteration int, msg string) {
	if fn != nil {
		fn(ProgressEvent{Phase: phase, Iteration: iteration, Message: msg})
	}
}
