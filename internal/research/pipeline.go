package research

import (
	"context"
	"log"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jandive/jandive/config"
	"github.com/jandive/jandive/internal/fetch"
	"github.com/jandive/jandive/internal/helpers"
	searchmodels "github.com/jandive/jandive/internal/search/models"
	"github.com/jandive/jandive/internal/telemetry"
)

// Searcher produces candidate pages for one sub-query.
type Searcher interface {
	Discover(ctx context.Context, q string, k int) ([]searchmodels.Result, error)
}

// Fetcher downloads and extracts one page.
type Fetcher interface {
	Exec(ctx context.Context, link, userAgent string) (fetch.Result, error)
}

// Validator gates URLs before any network contact.
type Validator interface {
	Validate(ctx context.Context, raw string) error
}

// RobotsPolicy answers robots.txt questions.
type RobotsPolicy interface {
	IsAllowed(ctx context.Context, rawURL, userAgent string) bool
}

// Pipeline executes one sub-query end to end: search, then concurrent
// validate → robots → fetch → extract per candidate. One Pipeline is
// shared by every sub-query in a run so the concurrency cap and per-host
// politeness gates are global.
type Pipeline struct {
	searcher  Searcher
	fetcher   Fetcher
	validator Validator
	robots    RobotsPolicy
	telemetry *telemetry.Telemetry
	logger    *log.Logger

	topK         int
	fetchTimeout time.Duration
	minTextChars int
	userAgents   []string
	uaCounter    atomic.Uint64

	sem chan struct{} // global in-flight fetch cap

	hostMu   sync.Mutex
	hostGate map[string]*rate.Limiter
	hostRate rate.Limit
}

// NewPipeline wires a retrieval pipeline from config and collaborators.
func NewPipeline(cfg config.FetchConfig, topK int, searcher Searcher, fetcher Fetcher, validator Validator, robots RobotsPolicy, tel *telemetry.Telemetry) *Pipeline {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	agents := cfg.UserAgents
	if len(agents) == 0 {
		agents = []string{"jandive/1.0"}
	}
	delay := cfg.PerHostDelay
	if delay <= 0 {
		delay = time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = fetch.DefaultTimeout
	}
	minText := cfg.MinTextChars
	if minText <= 0 {
		minText = 100
	}
	if topK <= 0 {
		topK = 5
	}
	return &Pipeline{
		searcher:     searcher,
		fetcher:      fetcher,
		validator:    validator,
		robots:       robots,
		telemetry:    tel,
		logger:       log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
		topK:         topK,
		fetchTimeout: timeout,
		minTextChars: minText,
		userAgents:   agents,
		sem:          make(chan struct{}, concurrency),
		hostGate:     make(map[string]*rate.Limiter),
		hostRate:     rate.Every(delay),
	}
}

// Run retrieves sources for one sub-query. It never returns an error: a
// failed search yields zero sources and per-candidate failures become
// diagnostic Source records.
func (p *Pipeline) Run(ctx context.Context, sq SubQuery) []Source {
	results, err := p.searcher.Discover(ctx, sq.Text, p.topK)
	p.telemetry.RecordSearch(err)
	if err != nil {
		p.logger.Printf("search %q failed: %v", sq.Text, err)
		return nil
	}
	if len(results) == 0 {
		return nil
	}

	sources := make([]Source, len(results))
	g, gctx := errgroup.WithContext(ctx)
	for i, res := range results {
		i, res := i, res
		g.Go(func() error {
			sources[i] = p.retrieve(gctx, res, sq)
			return nil
		})
	}
	_ = g.Wait()

	out := sources[:0]
	for _, s := range sources {
		if s.URL != "" {
			out = append(out, s)
		}
	}
	return out
}

// retrieve handles one candidate. Every outcome is a Source; nothing
// escapes as an error.
func (p *Pipeline) retrieve(ctx context.Context, res searchmodels.Result, sq SubQuery) Source {
	if canon, err := helpers.CanonicalURL(res.URL); err == nil {
		res.URL = canon
	}
	src := Source{
		URL:            res.URL,
		Title:          res.Title,
		RetrievedAt:    time.Now(),
		OriginSubQuery: sq.Text,
	}

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		src.Status = StatusFetchError
		p.telemetry.RecordFetch(string(StatusFetchError))
		return src
	}

	if err := p.validator.Validate(ctx, res.URL); err != nil {
		p.logger.Printf("blocked url %s: %v", res.URL, err)
		src.Status = StatusBlockedURL
		p.telemetry.RecordFetch(string(StatusBlockedURL))
		return src
	}

	ua := p.nextUserAgent()
	if !p.robots.IsAllowed(ctx, res.URL, ua) {
		p.logger.Printf("blocked by robots.txt: %s", res.URL)
		src.Status = StatusBlockedRobots
		p.telemetry.RecordFetch(string(StatusBlockedRobots))
		return src
	}

	if err := p.waitForHost(ctx, res.URL); err != nil {
		src.Status = StatusFetchError
		p.telemetry.RecordFetch(string(StatusFetchError))
		return src
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()
	result, err := p.fetcher.Exec(fetchCtx, res.URL, ua)
	if err != nil {
		p.logger.Printf("fetch %s failed: %v", res.URL, err)
		src.Status = StatusFetchError
		p.telemetry.RecordFetch(string(StatusFetchError))
		return src
	}

	if result.Title != "" {
		src.Title = result.Title
	}
	src.RetrievedAt = time.Now()
	if len(result.Text) < p.minTextChars {
		src.Status = StatusEmpty
		p.telemetry.RecordFetch(string(StatusEmpty))
		return src
	}
	src.ExtractedText = result.Text
	src.Status = StatusOK
	p.telemetry.RecordFetch(string(StatusOK))
	return src
}

// waitForHost enforces the minimum interval between requests to one host.
func (p *Pipeline) waitForHost(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	host := strings.ToLower(u.Hostname())

	p.hostMu.Lock()
	limiter, ok := p.hostGate[host]
	if !ok {
		limiter = rate.NewLimiter(p.hostRate, 1)
		p.hostGate[host] = limiter
	}
	p.hostMu.Unlock()

	return limiter.Wait(ctx)
}

func (p *Pipeline) nextUserAgent() string {
	n := p.uaCounter.Add(1)
	return p.userAgents[int(n-1)%len(p.userAgents)]
}
