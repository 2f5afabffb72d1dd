package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jandive/jandive/provider"
)

type slowProvider struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (p *slowProvider) Complete(context.Context, string, float64, int) (string, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		max := p.maxSeen.Load()
		if n <= max || p.maxSeen.CompareAndSwap(max, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return "ok", nil
}

func TestCacheInitialisesOnce(t *testing.T) {
	var inits atomic.Int32
	c := NewCache(func() (provider.Provider, error) {
		inits.Add(1)
		return &slowProvider{}, nil
	})

	for i := 0; i < 3; i++ {
		if _, err := c.Acquire(); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	if got := inits.Load(); got != 1 {
		t.Errorf("factory ran %d times, want 1", got)
	}
	if c.LoadedAt().IsZero() {
		t.Errorf("LoadedAt is zero after Acquire")
	}

	c.Release()
	if !c.LoadedAt().IsZero() {
		t.Errorf("LoadedAt not reset after Release")
	}
	if _, err := c.Acquire(); err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	if got := inits.Load(); got != 2 {
		t.Errorf("factory ran %d times after release, want 2", got)
	}
}

func TestCacheInitFailureIsDiagnosed(t *testing.T) {
	c := NewCache(func() (provider.Provider, error) {
		return nil, errors.New("model file missing")
	})
	_, err := c.Acquire()
	if err == nil {
		t.Fatalf("expected init failure")
	}
	if got := err.Error(); got != "language model initialisation failed: model file missing" {
		t.Errorf("diagnostic = %q", got)
	}
}

func TestCompleteSerialisesGenerations(t *testing.T) {
	p := &slowProvider{}
	c := NewCache(func() (provider.Provider, error) { return p, nil })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Complete(context.Background(), "prompt", 0.3, 16); err != nil {
				t.Errorf("Complete: %v", err)
			}
		}()
	}
	wg.Wait()

	if max := p.maxSeen.Load(); max != 1 {
		t.Errorf("saw %d concurrent generations, want 1", max)
	}
}
