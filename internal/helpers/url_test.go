package helpers

import (
	"strings"
	"testing"
)

func TestCanonicalURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "defaults https and cleans path",
			in:   "Example.com/news/../tech/latest",
			want: "https://example.com/tech/latest",
		},
		{
			name: "removes default port and tracking params",
			in:   "http://news.example.com:80/article?id=123&utm_source=rss#section",
			want: "http://news.example.com/article?id=123",
		},
		{
			name: "handles schemeless url with double slash",
			in:   "//blog.example.com/post/42?utm_medium=email",
			want: "https://blog.example.com/post/42",
		},
		{
			name: "normalises repeated slashes",
			in:   "https://example.com//a//b///c",
			want: "https://example.com/a/b/c",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalURL(tt.in)
			if err != nil {
				t.Fatalf("CanonicalURL() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("CanonicalURL() got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDedupKeyIgnoresQuery(t *testing.T) {
	t.Parallel()
	a, err := DedupKey("https://example.com/article?page=2&ref=home")
	if err != nil {
		t.Fatalf("DedupKey() error = %v", err)
	}
	b, err := DedupKey("https://EXAMPLE.com/article#top")
	if err != nil {
		t.Fatalf("DedupKey() error = %v", err)
	}
	if a != b {
		t.Fatalf("expected identical keys, got %q and %q", a, b)
	}
	if strings.Contains(a, "?") {
		t.Fatalf("dedup key should not carry a query string: %q", a)
	}
}

func TestURLFingerprintDeterministic(t *testing.T) {
	t.Parallel()
	first, err := URLFingerprint("https://example.com/a")
	if err != nil {
		t.Fatalf("URLFingerprint() error = %v", err)
	}
	second, err := URLFingerprint("example.com/a?utm_source=x")
	if err != nil {
		t.Fatalf("URLFingerprint() error = %v", err)
	}
	if first != second {
		t.Fatalf("fingerprints differ: %q vs %q", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("expected sha256 hex digest, got %q", first)
	}
}

func TestCanonicalURLErrors(t *testing.T) {
	t.Parallel()
	if _, err := CanonicalURL(""); err == nil {
		t.Fatalf("expected error for empty input")
	}
	if _, err := CanonicalURL("   "); err == nil {
		t.Fatalf("expected error for blank input")
	}
}
