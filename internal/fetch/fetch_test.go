package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const articleHTML = `<!DOCTYPE html>
<html><head><title>Printing Press History</title></head>
<body>
<nav><a href="/">Home</a><a href="/about">About</a></nav>
<article>
<h1>Printing Press History</h1>
<p>The printing press was introduced to Europe around 1440 by Johannes
Gutenberg. It enabled the mass production of books and transformed the
spread of knowledge across the continent within a few decades.</p>
<p>Movable type had existed earlier in East Asia, but Gutenberg combined
it with a screw press and oil-based inks into a practical system.</p>
</article>
<footer>Copyright notice and terms of service boilerplate.</footer>
</body></html>`

func TestHTTPFetcherExtractsMainContent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	t.Cleanup(srv.Close)

	f := NewHTTPFetcherWithClient(srv.Client(), 0)
	res, err := f.Exec(context.Background(), srv.URL+"/article", "test-agent")
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", res.StatusCode)
	}
	if !strings.Contains(res.Text, "Gutenberg") {
		t.Fatalf("extracted text missing article body: %q", res.Text)
	}
	if strings.Contains(res.Text, "terms of service") {
		t.Fatalf("boilerplate footer should be stripped: %q", res.Text)
	}
}

func TestHTTPFetcherRejectsNonHTML(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	t.Cleanup(srv.Close)

	f := NewHTTPFetcherWithClient(srv.Client(), 0)
	_, err := f.Exec(context.Background(), srv.URL+"/doc.pdf", "test-agent")
	if !errors.Is(err, ErrNotHTML) {
		t.Fatalf("expected ErrNotHTML, got %v", err)
	}
}

func TestHTTPFetcherSurfacesHTTPErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	t.Cleanup(srv.Close)

	f := NewHTTPFetcherWithClient(srv.Client(), 0)
	res, err := f.Exec(context.Background(), srv.URL+"/missing", "test-agent")
	if err == nil {
		t.Fatalf("expected error for http 410")
	}
	if res.StatusCode != http.StatusGone {
		t.Fatalf("status code not recorded: %d", res.StatusCode)
	}
}

func TestHTTPFetcherCapsTextLength(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("All work and no play makes a dull page. ", 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><article><p>" + long + "</p></article></body></html>"))
	}))
	t.Cleanup(srv.Close)

	f := NewHTTPFetcherWithClient(srv.Client(), 512)
	res, err := f.Exec(context.Background(), srv.URL+"/long", "test-agent")
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if len(res.Text) > 512 {
		t.Fatalf("text not capped: %d bytes", len(res.Text))
	}
}

func TestCollapseWhitespace(t *testing.T) {
	t.Parallel()
	in := "a   b\t\tc\n\n\n\n\nd  \n e"
	got := CollapseWhitespace(in)
	if got != "a b c\n\nd\ne" {
		t.Fatalf("CollapseWhitespace() = %q", got)
	}
}
