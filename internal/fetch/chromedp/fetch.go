// Package chromedp renders JS-heavy pages in a headless browser before
// readability extraction.
package chromedp

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	cdp "github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"

	"github.com/jandive/jandive/internal/fetch"
)

// Renderer owns a long-lived Chrome context for performance.
// Construct once; call Exec per URL. Call Close() on shutdown.
type Renderer struct {
	allocCtx  context.Context
	cancelAll context.CancelFunc
	brCtx     context.Context
	cancelBr  context.CancelFunc

	timeout  time.Duration
	maxChars int
}

// NewRenderer starts a reusable headless browser.
func NewRenderer(timeout time.Duration, maxChars int) *Renderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxChars <= 0 {
		maxChars = fetch.MaxCharsDefault
	}
	opts := append(cdp.DefaultExecAllocatorOptions[:],
		cdp.Flag("headless", true),
	)
	actx, cancelAlloc := cdp.NewExecAllocator(context.Background(), opts...)
	bctx, cancelBr := cdp.NewContext(actx)

	return &Renderer{
		allocCtx:  actx,
		cancelAll: cancelAlloc,
		brCtx:     bctx,
		cancelBr:  cancelBr,
		timeout:   timeout,
		maxChars:  maxChars,
	}
}

// Close tears down Chrome resources.
func (r *Renderer) Close() {
	if r.cancelBr != nil {
		r.cancelBr()
	}
	if r.cancelAll != nil {
		r.cancelAll()
	}
}

// Exec navigates to link with the given user agent, waits for the DOM,
// and extracts main content via readability.
func (r *Renderer) Exec(ctx context.Context, link, userAgent string) (fetch.Result, error) {
	if strings.TrimSpace(link) == "" {
		return fetch.Result{}, errors.New("invalid url")
	}
	tabCtx, cancelTab := cdp.NewContext(r.brCtx)
	defer cancelTab()
	tabCtx, cancelTO := context.WithTimeout(tabCtx, r.timeout)
	defer cancelTO()
	go func() {
		// Propagate caller cancellation into the tab.
		select {
		case <-ctx.Done():
			cancelTab()
		case <-tabCtx.Done():
		}
	}()

	var html string
	err := cdp.Run(tabCtx,
		emulation.SetUserAgentOverride(userAgent),
		cdp.Navigate(link),
		cdp.Sleep(500*time.Millisecond),
		cdp.OuterHTML("html", &html, cdp.ByQuery),
	)
	if err != nil {
		return fetch.Result{URL: link}, err
	}

	parsedURL, err := url.Parse(link)
	if err != nil {
		return fetch.Result{URL: link}, err
	}
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err != nil {
		return fetch.Result{URL: link, StatusCode: 200}, err
	}
	text := fetch.CollapseWhitespace(article.TextContent)
	if len(text) > r.maxChars {
		text = text[:r.maxChars]
	}
	return fetch.Result{
		URL:         link,
		Title:       strings.TrimSpace(article.Title),
		Text:        text,
		StatusCode:  200,
		ContentType: "text/html",
	}, nil
}
