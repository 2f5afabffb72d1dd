package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
)

// Planner asks the oracle to break a user query into focused web search
// queries, and later to propose refinements against what the corpus
// already covers. It deduplicates across the whole session so no query
// is ever issued twice.
type Planner struct {
	oracle Oracle
	issued map[string]struct{}
	logger *log.Logger
}

func NewPlanner(oracle Oracle) *Planner {
	return &Planner{
		oracle: oracle,
		issued: make(map[string]struct{}),
		logger: log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

const initialPlanPrompt = `You are a research planner. Break the user's question into %d focused web search queries that together cover the question. Respond with ONLY a JSON array of strings, nothing else.

Question: %s`

const refinePlanPrompt = `You are a research planner. The user asked: %s

The research so far covers:
%s

Propose up to %d NEW web search queries that fill gaps in the coverage above. Do not repeat queries already answered. If the coverage is sufficient, respond with an empty JSON array []. Respond with ONLY a JSON array of strings.`

// PlanInitial produces the first round of sub-queries. It never fails:
// if the oracle output cannot be parsed it retries once with a stricter
// instruction, and if that also fails the user's question itself becomes
// the single sub-query.
func (p *Planner) PlanInitial(ctx context.Context, userQuery string, n int) []SubQuery {
	if n <= 0 {
		n = 3
	}
	prompt := fmt.Sprintf(initialPlanPrompt, n, userQuery)
	queries := p.askWithRetry(ctx, prompt, n)
	if len(queries) == 0 {
		p.logger.Printf("falling back to verbatim query")
		queries = []string{userQuery}
	}
	return p.admit(queries, 0)
}

// PlanRefine proposes follow-up sub-queries given a summary of corpus
// coverage. Returning nothing is a valid answer and signals that the
// research can stop.
func (p *Planner) PlanRefine(ctx context.Context, userQuery, coverageSummary string, iteration, remaining int) []SubQuery {
	if remaining <= 0 {
		return nil
	}
	prompt := fmt.Sprintf(refinePlanPrompt, userQuery, coverageSummary, remaining)
	return p.admit(p.askWithRetry(ctx, prompt, remaining), iteration)
}

// askWithRetry asks once, and once more with a stricter instruction when
// the first answer yields nothing usable.
func (p *Planner) askWithRetry(ctx context.Context, prompt string, limit int) []string {
	queries := p.ask(ctx, prompt, limit)
	if len(queries) == 0 {
		strict := prompt + "\n\nRespond with a raw JSON array of strings only. No prose, no code fences."
		queries = p.ask(ctx, strict, limit)
	}
	return queries
}

func (p *Planner) ask(ctx context.Context, prompt string, limit int) []string {
	raw, err := p.oracle.Complete(ctx, prompt, 0.2, 512)
	if err != nil {
		p.logger.Printf("planning call failed: %v", err)
		return nil
	}
	queries := parseQueries(raw)
	if len(queries) > limit {
		queries = queries[:limit]
	}
	return queries
}

// admit filters out queries already issued this session and records the
// survivors.
func (p *Planner) admit(queries []string, iteration int) []SubQuery {
	var out []SubQuery
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		key := strings.ToLower(strings.Join(strings.Fields(q), " "))
		if _, dup := p.issued[key]; dup {
			continue
		}
		p.issued[key] = struct{}{}
		out = append(out, SubQuery{Text: q, OriginIteration: iteration})
	}
	return out
}

var (
	reJSONArray    = regexp.MustCompile(`(?s)\[.*\]`)
	reQuotedString = regexp.MustCompile(`"((?:[^"\\]|\\.)+)"`)
)

// parseQueries extracts a list of queries from oracle output. Models do
// not always obey the JSON-only instruction, so it degrades from strict
// JSON to quoted strings to plain line splitting.
func parseQueries(raw string) []string {
	raw = strings.TrimSpace(stripReasoning(raw))
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	if m := reJSONArray.FindString(raw); m != "" {
		var arr []string
		if err := json.Unmarshal([]byte(m), &arr); err == nil {
			return cleanQueries(arr)
		}
	}

	if ms := reQuotedString.FindAllStringSubmatch(raw, -1); len(ms) > 0 {
		var arr []string
		for _, m := range ms {
			arr = append(arr, m[1])
		}
		return cleanQueries(arr)
	}

	var arr []string
	for _, line := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == ';'
	}) {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. ")
		// Sentences are prose explaining a refusal, not search queries.
		if line == "" || strings.HasSuffix(line, ".") || strings.HasSuffix(line, "!") {
			continue
		}
		arr = append(arr, line)
	}
	return cleanQueries(arr)
}

func cleanQueries(arr []string) []string {
	var out []string
	for _, q := range arr {
		q = strings.TrimSpace(q)
		if q != "" {
			out = append(out, q)
		}
	}
	return out
}
