package safety

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/jandive/jandive/config"
)

func newTestValidator() *URLValidator {
	v := NewURLValidator(config.SafetyConfig{
		MaxURLLength: 2048,
		AllowedPorts: []int{80, 443},
		ResolveHosts: true,
	})
	v.SetLookupIP(func(ctx context.Context, host string) ([]net.IP, error) {
		switch host {
		case "example.com":
			return []net.IP{net.ParseIP("93.184.216.34")}, nil
		case "rebind.example.com":
			return []net.IP{net.ParseIP("93.184.216.34"), net.ParseIP("192.168.1.10")}, nil
		default:
			return nil, errors.New("no such host")
		}
	})
	return v
}

func TestValidateRejectsUnsafeURLs(t *testing.T) {
	t.Parallel()
	v := newTestValidator()
	ctx := context.Background()

	rejected := []string{
		"http://127.0.0.1/",
		"http://169.254.169.254/latest/meta-data",
		"ftp://example.com",
		"http://10.0.0.1/admin",
		"http://192.168.1.1/",
		"http://[::1]/",
		"http://0.0.0.0/",
		"http://example.com:6379/",
		"http://example.com:22/",
	}
	for _, raw := range rejected {
		err := v.Validate(ctx, raw)
		if err == nil {
			t.Fatalf("expected rejection for %q", raw)
		}
		var rej *Rejection
		if !errors.As(err, &rej) {
			t.Fatalf("expected *Rejection for %q, got %T", raw, err)
		}
	}
}

func TestValidateAcceptsPublicURL(t *testing.T) {
	t.Parallel()
	v := newTestValidator()
	if err := v.Validate(context.Background(), "https://example.com/article"); err != nil {
		t.Fatalf("expected accept, got %v", err)
	}
}

func TestValidateBlocksDNSRebinding(t *testing.T) {
	t.Parallel()
	v := newTestValidator()
	err := v.Validate(context.Background(), "https://rebind.example.com/page")
	if err == nil {
		t.Fatalf("expected rejection when any resolved address is private")
	}
}

func TestValidateRejectsOverlongURL(t *testing.T) {
	t.Parallel()
	v := NewURLValidator(config.SafetyConfig{MaxURLLength: 30})
	long := "https://example.com/" + string(make([]byte, 64))
	if err := v.Validate(context.Background(), long); err == nil {
		t.Fatalf("expected rejection for overlong url")
	}
}
