package research

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jandive/jandive/config"
	"github.com/jandive/jandive/internal/fetch"
	searchmodels "github.com/jandive/jandive/internal/search/models"
)

type fakeSearcher struct {
	results map[string][]searchmodels.Result
	err     error
}

func (f *fakeSearcher) Discover(_ context.Context, q string, k int) ([]searchmodels.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	res := f.results[q]
	if len(res) > k {
		res = res[:k]
	}
	return res, nil
}

type fakeFetcher struct {
	pages map[string]fetch.Result
	errs  map[string]error
}

func (f *fakeFetcher) Exec(_ context.Context, link, _ string) (fetch.Result, error) {
	if err, ok := f.errs[link]; ok {
		return fetch.Result{URL: link}, err
	}
	res, ok := f.pages[link]
	if !ok {
		return fetch.Result{URL: link}, errors.New("no such page")
	}
	return res, nil
}

type fakeValidator struct {
	blocked map[string]bool
}

func (f *fakeValidator) Validate(_ context.Context, raw string) error {
	if f.blocked[raw] {
		return errors.New("forbidden url")
	}
	return nil
}

type fakeRobots struct {
	disallowed map[string]bool
}

func (f *fakeRobots) IsAllowed(_ context.Context, rawURL, _ string) bool {
	return !f.disallowed[rawURL]
}

func testFetchConfig() config.FetchConfig {
	return config.FetchConfig{
		Timeout:      5 * time.Second,
		MaxChars:     20000,
		MinTextChars: 100,
		Concurrency:  4,
		PerHostDelay: time.Millisecond,
		UserAgents:   []string{"test-agent/1.0"},
	}
}

func longText(word string) string {
	return strings.Repeat(word+" ", 60)
}

func TestPipelineClassifiesOutcomes(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]searchmodels.Result{
		"printing press": {
			{URL: "https://good.example.com/a", Title: "Good"},
			{URL: "https://robots.example.com/b", Title: "Robots"},
			{URL: "https://bad.example.com/c", Title: "Bad URL"},
			{URL: "https://down.example.com/d", Title: "Down"},
			{URL: "https://thin.example.com/e", Title: "Thin"},
		},
	}}
	fetcher := &fakeFetcher{
		pages: map[string]fetch.Result{
			"https://good.example.com/a": {URL: "https://good.example.com/a", Title: "Good Page", Text: longText("press")},
			"https://thin.example.com/e": {URL: "https://thin.example.com/e", Title: "Thin Page", Text: "too short"},
		},
		errs: map[string]error{
			"https://down.example.com/d": errors.New("connection refused"),
		},
	}
	validator := &fakeValidator{blocked: map[string]bool{"https://bad.example.com/c": true}}
	robots := &fakeRobots{disallowed: map[string]bool{"https://robots.example.com/b": true}}

	p := NewPipeline(testFetchConfig(), 5, searcher, fetcher, validator, robots, nil)
	sources := p.Run(context.Background(), SubQuery{Text: "printing press"})

	if len(sources) != 5 {
		t.Fatalf("got %d sources, want 5", len(sources))
	}
	byURL := make(map[string]Source, len(sources))
	for _, s := range sources {
		byURL[s.URL] = s
	}

	checks := map[string]FetchStatus{
		"https://good.example.com/a":   StatusOK,
		"https://robots.example.com/b": StatusBlockedRobots,
		"https://bad.example.com/c":    StatusBlockedURL,
		"https://down.example.com/d":   StatusFetchError,
		"https://thin.example.com/e":   StatusEmpty,
	}
	for url, want := range checks {
		got, ok := byURL[url]
		if !ok {
			t.Errorf("no source recorded for %s", url)
			continue
		}
		if got.Status != want {
			t.Errorf("%s: status %s, want %s", url, got.Status, want)
		}
		if want != StatusOK && got.ExtractedText != "" {
			t.Errorf("%s: non-ok source carries text", url)
		}
	}

	if byURL["https://good.example.com/a"].Title != "Good Page" {
		t.Errorf("fetched title not preferred over search result title")
	}
	for _, s := range sources {
		if s.OriginSubQuery != "printing press" {
			t.Errorf("source %s has origin %q", s.URL, s.OriginSubQuery)
		}
	}
}

func TestPipelineSearchFailureYieldsNoSources(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("engine unavailable")}
	p := NewPipeline(testFetchConfig(), 5, searcher, &fakeFetcher{}, &fakeValidator{}, &fakeRobots{}, nil)

	sources := p.Run(context.Background(), SubQuery{Text: "anything"})
	if len(sources) != 0 {
		t.Fatalf("got %d sources after search failure, want 0", len(sources))
	}
}

func TestPipelineBlockedURLNeverReachesFetcher(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]searchmodels.Result{
		"q": {{URL: "https://internal.example.com/secret"}},
	}}
	fetcher := &fakeFetcher{} // any fetch would error with "no such page"
	validator := &fakeValidator{blocked: map[string]bool{"https://internal.example.com/secret": true}}

	p := NewPipeline(testFetchConfig(), 5, searcher, fetcher, validator, &fakeRobots{}, nil)
	sources := p.Run(context.Background(), SubQuery{Text: "q"})

	if len(sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(sources))
	}
	if sources[0].Status != StatusBlockedURL {
		t.Errorf("status = %s, want %s (fetch must not run for rejected URLs)", sources[0].Status, StatusBlockedURL)
	}
}

func TestPipelineCancelledContext(t *testing.T) {
	searcher := &fakeSearcher{results: map[string][]searchmodels.Result{
		"q": {{URL: "https://good.example.com/a"}},
	}}
	fetcher := &fakeFetcher{pages: map[string]fetch.Result{
		"https://good.example.com/a": {Text: longText("x")},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPipeline(testFetchConfig(), 5, searcher, fetcher, &fakeValidator{}, &fakeRobots{}, nil)
	sources := p.Run(ctx, SubQuery{Text: "q"})
	for _, s := range sources {
		if s.Status == StatusOK {
			t.Errorf("source %s succeeded under cancelled context", s.URL)
		}
	}
}
