package safety

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jandive/jandive/config"
)

// Rejection explains why a URL was refused. It is recorded on the source,
// never propagated as a fatal error.
type Rejection struct {
	URL    string
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("url rejected: %s (%s)", r.Reason, r.URL)
}

// LookupIPFunc resolves a hostname to its addresses. Swappable in tests.
type LookupIPFunc func(ctx context.Context, host string) ([]net.IP, error)

// URLValidator gates every outbound fetch. It refuses non-http(s) schemes,
// hosts that are (or resolve to) loopback/private/link-local/multicast
// addresses, non-standard ports and overlong URLs.
type URLValidator struct {
	maxLength    int
	allowedPorts map[int]struct{}
	resolveHosts bool
	lookupIP     LookupIPFunc
}

// NewURLValidator builds a validator from safety config.
func NewURLValidator(cfg config.SafetyConfig) *URLValidator {
	ports := make(map[int]struct{}, len(cfg.AllowedPorts))
	for _, p := range cfg.AllowedPorts {
		ports[p] = struct{}{}
	}
	if len(ports) == 0 {
		ports[80] = struct{}{}
		ports[443] = struct{}{}
	}
	maxLen := cfg.MaxURLLength
	if maxLen <= 0 {
		maxLen = 2048
	}
	return &URLValidator{
		maxLength:    maxLen,
		allowedPorts: ports,
		resolveHosts: cfg.ResolveHosts,
		lookupIP: func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, 0, len(addrs))
			for _, a := range addrs {
				ips = append(ips, a.IP)
			}
			return ips, nil
		},
	}
}

// SetLookupIP overrides DNS resolution, for tests.
func (v *URLValidator) SetLookupIP(fn LookupIPFunc) { v.lookupIP = fn }

// Validate returns nil when the URL may be fetched, or a *Rejection.
// Hostnames are resolved and every resolved address re-checked, so a DNS
// record pointing at an internal host is refused even when the literal
// hostname looks public.
func (v *URLValidator) Validate(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &Rejection{URL: raw, Reason: "empty url"}
	}
	if len(raw) > v.maxLength {
		return &Rejection{URL: raw, Reason: fmt.Sprintf("url exceeds %d characters", v.maxLength)}
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return &Rejection{URL: raw, Reason: "unparseable url"}
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return &Rejection{URL: raw, Reason: fmt.Sprintf("scheme %q not allowed", parsed.Scheme)}
	}

	host := parsed.Hostname()
	if host == "" {
		return &Rejection{URL: raw, Reason: "missing host"}
	}

	port := 80
	if scheme == "https" {
		port = 443
	}
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return &Rejection{URL: raw, Reason: "invalid port"}
		}
	}
	if _, ok := v.allowedPorts[port]; !ok {
		return &Rejection{URL: raw, Reason: fmt.Sprintf("port %d not allowed", port)}
	}

	if ip := net.ParseIP(host); ip != nil {
		if reason := forbiddenIP(ip); reason != "" {
			return &Rejection{URL: raw, Reason: reason}
		}
		return nil
	}

	if v.resolveHosts {
		ips, err := v.lookupIP(ctx, host)
		if err != nil {
			return &Rejection{URL: raw, Reason: fmt.Sprintf("dns resolution failed: %v", err)}
		}
		for _, ip := range ips {
			if reason := forbiddenIP(ip); reason != "" {
				return &Rejection{URL: raw, Reason: fmt.Sprintf("host resolves to %s: %s", ip, reason)}
			}
		}
	}
	return nil
}

func forbiddenIP(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "loopback address"
	case ip.IsPrivate():
		return "private address"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "link-local address"
	case ip.IsMulticast():
		return "multicast address"
	case ip.IsUnspecified():
		return "unspecified address"
	}
	return ""
}
