package research

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// FetchStatus classifies the outcome of retrieving one candidate page.
type FetchStatus string

const (
	StatusOK            FetchStatus = "ok"
	StatusBlockedRobots FetchStatus = "blocked_robots"
	StatusBlockedURL    FetchStatus = "blocked_url"
	StatusFetchError    FetchStatus = "fetch_error"
	StatusEmpty         FetchStatus = "empty"
)

// SubQuery is one search-engine query derived from the user's question.
type SubQuery struct {
	Text            string `json:"text"`
	OriginIteration int    `json:"origin_iteration"`
}

// Source records one retrieval attempt. Sources with a non-OK status carry
// no extracted text and never enter the corpus, but are kept for
// diagnostics.
type Source struct {
	URL            string      `json:"url"`
	Title          string      `json:"title"`
	ExtractedText  string      `json:"extracted_text,omitempty"`
	Status         FetchStatus `json:"status"`
	RetrievedAt    time.Time   `json:"retrieved_at"`
	OriginSubQuery string      `json:"origin_subquery"`
}

// Citation ties a stable 1-based corpus index to its URL.
type Citation struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Report is the synthesized result of one research run.
type Report struct {
	Summary           string     `json:"summary"`
	Findings          []string   `json:"findings"`
	Conclusion        string     `json:"conclusion"`
	Markdown          string     `json:"markdown"`
	Citations         []Citation `json:"citations"`
	NoSources         bool       `json:"no_sources"`
	NoExternalSources bool       `json:"no_external_sources"`
}

// Session is the state of one research run, owned by the orchestrator.
type Session struct {
	ID             string    `json:"id"`
	UserQuery      string    `json:"user_query"`
	IterationCount int       `json:"iteration_count"`
	MaxIterations  int       `json:"max_iterations"`
	Temperature    float64   `json:"temperature"`
	Sources        []Source  `json:"sources"`
	Report         *Report   `json:"report,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Phase names one state of the orchestration loop.
type Phase string

const (
	PhasePlanning     Phase = "planning"
	PhaseRetrieving   Phase = "retrieving"
	PhaseAggregating  Phase = "aggregating"
	PhaseDeciding     Phase = "deciding"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseDone         Phase = "done"
)

// ProgressEvent is emitted at phase transitions and per-source outcomes so
// front ends can display live status.
type ProgressEvent struct {
	Phase     Phase   `json:"phase"`
	Iteration int     `json:"iteration"`
	Message   string  `json:"message,omitempty"`
	Source    *Source `json:"source,omitempty"`
}

// ProgressFunc receives progress events. May be nil.
type ProgressFunc func(ProgressEvent)

// Oracle is the text-completion service. The session cache implements it
// with a serialization gate over the shared model handle.
type Oracle interface {
	Complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error)
}

// ErrOracleUnavailable marks generation failures. During planning the
// caller falls back; during synthesis it is fatal to the run.
var ErrOracleUnavailable = errors.New("oracle unavailable")

// PhaseError labels which phase a fatal failure happened in.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("research failed during %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }
