package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"path"
	"strings"
)

var trackingQueryParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"utm_id":       {},
	"gclid":        {},
	"dclid":        {},
	"fbclid":       {},
	"msclkid":      {},
	"igshid":       {},
}

// CanonicalURL normalises a URL string for display and comparison.
// It lowercases scheme/host, removes default ports, strips fragments,
// cleans path segments and drops tracking query parameters (utm_*, fbclid,
// etc.). When the scheme is omitted it defaults to https.
func CanonicalURL(raw string) (string, error) {
	parsed, err := parseNormalized(raw)
	if err != nil {
		return "", err
	}

	query := parsed.Query()
	for key := range query {
		if _, drop := trackingQueryParams[strings.ToLower(key)]; drop {
			query.Del(key)
		}
	}
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

// DedupKey reduces a URL to scheme+host+path, ignoring the query string and
// fragment entirely. Two URLs with the same key are treated as the same
// source when merging retrieval results.
func DedupKey(raw string) (string, error) {
	parsed, err := parseNormalized(raw)
	if err != nil {
		return "", err
	}
	parsed.RawQuery = ""
	return parsed.String(), nil
}

// URLFingerprint returns a deterministic SHA-256 hex digest of the dedup key.
func URLFingerprint(raw string) (string, error) {
	key, err := DedupKey(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]), nil
}

func parseNormalized(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty url")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" && parsed.Host == "" {
		// Schemeless formats like example.com/path or //example.com/path.
		if strings.HasPrefix(raw, "//") {
			parsed, err = url.Parse("https:" + raw)
		} else {
			parsed, err = url.Parse("https://" + raw)
		}
		if err != nil {
			return nil, err
		}
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Host)
	if host == "" {
		return nil, errors.New("url missing host")
	}
	if h, p, ok := strings.Cut(host, ":"); ok {
		if (parsed.Scheme == "http" && p == "80") || (parsed.Scheme == "https" && p == "443") {
			host = h
		}
	}
	parsed.Host = host

	cleanPath := path.Clean(parsed.Path)
	if cleanPath == "." || cleanPath == "" {
		cleanPath = "/"
	}
	if !strings.HasPrefix(cleanPath, "/") {
		cleanPath = "/" + cleanPath
	}
	parsed.Path = cleanPath
	parsed.Fragment = ""
	return parsed, nil
}
