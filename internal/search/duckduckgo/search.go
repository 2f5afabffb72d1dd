package duckduckgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jandive/jandive/internal/search/models"
)

// qpsGate enforces one query per second across all instances; DuckDuckGo
// throttles aggressively otherwise.
var qpsGate struct {
	mu   sync.Mutex
	last time.Time
}

// Search scrapes the DuckDuckGo HTML lite endpoint. No API key needed,
// which makes it the default provider.
type Search struct {
	client *http.Client
}

func New() *Search {
	return &Search{client: &http.Client{Timeout: 15 * time.Second}}
}

// NewWithClient overrides the HTTP client, mainly for tests.
func NewWithClient(client *http.Client) *Search {
	return &Search{client: client}
}

func (s *Search) Discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	if strings.TrimSpace(q) == "" {
		return nil, errors.New("query is empty")
	}

	qpsGate.mu.Lock()
	if wait := time.Until(qpsGate.last.Add(time.Second)); wait > 0 {
		qpsGate.mu.Unlock()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		qpsGate.mu.Lock()
	}
	qpsGate.last = time.Now()
	qpsGate.mu.Unlock()

	form := url.Values{}
	form.Set("q", q)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://lite.duckduckgo.com/lite/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseLiteHTML(string(body), k), nil
}

var (
	reResultLink = regexp.MustCompile(`<a[^>]*class=['"]result-link['"][^>]*href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
	reLinkFirst  = regexp.MustCompile(`<a[^>]*href=['"]([^'"]+)['"][^>]*class=['"]result-link['"][^>]*>([^<]+)</a>`)
	reSnippet    = regexp.MustCompile(`<td[^>]*class=['"]result-snippet['"][^>]*>([^<]+)</td>`)
)

// parseLiteHTML extracts results from the lite page, which keeps a simple
// table layout of result links followed by snippet cells.
func parseLiteHTML(html string, k int) []models.Result {
	matches := reResultLink.FindAllStringSubmatch(html, -1)
	if len(matches) == 0 {
		matches = reLinkFirst.FindAllStringSubmatch(html, -1)
	}
	snippets := reSnippet.FindAllStringSubmatch(html, -1)

	var out []models.Result
	// Snippet cells only follow organic results, so the cursor advances
	// per emitted result, never per link match.
	next := 0
	for _, m := range matches {
		if len(out) >= k {
			break
		}
		link := strings.TrimSpace(m[1])
		title := decodeEntities(strings.TrimSpace(m[2]))
		if link == "" || title == "" || strings.Contains(link, "duckduckgo.com") {
			continue
		}
		snippet := ""
		if next < len(snippets) {
			snippet = decodeEntities(strings.TrimSpace(snippets[next][1]))
			next++
		}
		out = append(out, models.Result{URL: link, Title: title, Snippet: snippet})
	}
	return out
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&nbsp;", " ",
)

func decodeEntities(s string) string { return entityReplacer.Replace(s) }
