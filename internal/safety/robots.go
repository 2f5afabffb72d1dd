package safety

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/jandive/jandive/config"
)

const robotsMaxBytes = 512 * 1024

// RobotsChecker caches one robots policy per host for the lifetime of a
// session. Fetch failures are negative-cached for a short TTL and treated
// as "allowed", matching common crawler convention.
type RobotsChecker struct {
	client   *http.Client
	errorTTL time.Duration
	logger   *log.Logger

	mu    sync.Mutex
	hosts map[string]*hostPolicy
}

type hostPolicy struct {
	mu        sync.Mutex
	data      *robotstxt.RobotsData
	fetched   bool
	failedAt  time.Time
	errCached bool
}

// NewRobotsChecker builds a checker with its own bounded-timeout client.
func NewRobotsChecker(cfg config.SafetyConfig, client *http.Client) *RobotsChecker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	ttl := cfg.RobotsErrorTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RobotsChecker{
		client:   client,
		errorTTL: ttl,
		logger:   log.New(log.Writer(), "[ROBOTS] ", log.LstdFlags),
		hosts:    make(map[string]*hostPolicy),
	}
}

// IsAllowed reports whether userAgent may fetch rawURL under the target
// host's robots.txt. Rule resolution is longest-match-wins with ties in
// favour of Allow. A missing or unfetchable robots.txt allows everything.
func (r *RobotsChecker) IsAllowed(ctx context.Context, rawURL, userAgent string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := strings.ToLower(parsed.Host)

	r.mu.Lock()
	policy, ok := r.hosts[host]
	if !ok {
		policy = &hostPolicy{}
		r.hosts[host] = policy
	}
	r.mu.Unlock()

	policy.mu.Lock()
	defer policy.mu.Unlock()

	if !policy.fetched {
		if policy.errCached && time.Since(policy.failedAt) < r.errorTTL {
			return true
		}
		data, err := r.fetch(ctx, parsed.Scheme, parsed.Host)
		if err != nil {
			r.logger.Printf("robots.txt unavailable for %s, assuming allowed: %v", host, err)
			policy.errCached = true
			policy.failedAt = time.Now()
			return true
		}
		policy.data = data
		policy.fetched = true
		policy.errCached = false
	}

	pathQuery := parsed.EscapedPath()
	if pathQuery == "" {
		pathQuery = "/"
	}
	if parsed.RawQuery != "" {
		pathQuery += "?" + parsed.RawQuery
	}
	return policy.data.FindGroup(userAgent).Test(pathQuery)
}

func (r *RobotsChecker) fetch(ctx context.Context, scheme, host string) (*robotstxt.RobotsData, error) {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBytes))
	if err != nil {
		return nil, err
	}
	return robotstxt.FromStatusAndBytes(resp.StatusCode, body)
}
