package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
	maxBodyBytes    = 4 << 20 // 4MB cap on downloaded HTML
)

// Result is the extracted content of one page.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
}

// WebFetcher downloads one page and extracts its main textual content.
type WebFetcher interface {
	Exec(ctx context.Context, link, userAgent string) (Result, error)
}

type FetcherType string

const (
	HTTPFetcherType     FetcherType = "http"
	ChromedpFetcherType FetcherType = "chromedp"
)

var ErrNotHTML = errors.New("content is not html")

// NewWebFetcher builds a fetcher of the requested type. The chromedp
// variant is constructed lazily per call site via NewRenderer because it
// owns a long-lived browser.
func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}
	switch fetcherType {
	case HTTPFetcherType:
		return &HTTPFetcher{
			client:   &http.Client{Timeout: timeout},
			maxChars: maxChars,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported fetcher type %q", fetcherType)
	}
}

// HTTPFetcher does a plain GET and runs readability over the body.
type HTTPFetcher struct {
	client   *http.Client
	maxChars int
}

// NewHTTPFetcherWithClient is used by tests to inject an httptest client.
func NewHTTPFetcherWithClient(client *http.Client, maxChars int) *HTTPFetcher {
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}
	return &HTTPFetcher{client: client, maxChars: maxChars}
}

func (f *HTTPFetcher) Exec(ctx context.Context, link, userAgent string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return Result{URL: link}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{URL: link}, err
	}
	defer resp.Body.Close()

	out := Result{
		URL:         link,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, fmt.Errorf("http %d", resp.StatusCode)
	}
	if ct := out.ContentType; ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text/plain") {
		return out, ErrNotHTML
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return out, err
	}

	parsedURL, err := url.Parse(link)
	if err != nil {
		return out, err
	}
	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return out, fmt.Errorf("readability: %w", err)
	}

	out.Title = strings.TrimSpace(article.Title)
	out.Text = CollapseWhitespace(article.TextContent)
	if len(out.Text) > f.maxChars {
		out.Text = out.Text[:f.maxChars]
	}
	return out, nil
}

var (
	reSpaces     = regexp.MustCompile(`[ \t]+`)
	reBlankLines = regexp.MustCompile(`\n{3,}`)
)

// CollapseWhitespace squeezes runs of spaces and blank lines while keeping
// paragraph breaks.
func CollapseWhitespace(s string) string {
	s = reSpaces.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = reBlankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
