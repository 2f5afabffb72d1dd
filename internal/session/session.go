// Package session holds process-wide state reused across research runs:
// the cached oracle handle and the history of past queries and reports.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jandive/jandive/provider"
)

// Cache owns the single oracle handle for the process. It is created
// lazily on first use and serializes generation calls: the underlying
// runtime is not guaranteed reentrant, so at most one completion is in
// flight at a time and concurrent callers queue.
type Cache struct {
	factory func() (provider.Provider, error)
	logger  *log.Logger

	initMu   sync.Mutex
	handle   provider.Provider
	loadedAt time.Time

	genMu sync.Mutex // generation gate, held for the whole call
}

// NewCache wires the lazy factory. Nothing is loaded until Acquire or the
// first Complete.
func NewCache(factory func() (provider.Provider, error)) *Cache {
	return &Cache{
		factory: factory,
		logger:  log.New(log.Writer(), "[SESSION] ", log.LstdFlags),
	}
}

// Acquire returns the shared handle, initialising it on first use.
// Initialisation failure is fatal to the run and reported with a clear
// diagnostic.
func (c *Cache) Acquire() (provider.Provider, error) {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.handle != nil {
		return c.handle, nil
	}
	h, err := c.factory()
	if err != nil {
		return nil, fmt.Errorf("language model initialisation failed: %w", err)
	}
	c.handle = h
	c.loadedAt = time.Now()
	c.logger.Printf("oracle handle initialised")
	return c.handle, nil
}

// LoadedAt reports when the handle was initialised; zero when not loaded.
func (c *Cache) LoadedAt() time.Time {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	return c.loadedAt
}

// Release drops the handle. The next Acquire re-initialises.
func (c *Cache) Release() {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	c.handle = nil
	c.loadedAt = time.Time{}
}

// Complete proxies one generation through the serialization gate.
func (c *Cache) Complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	h, err := c.Acquire()
	if err != nil {
		return "", err
	}
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return h.Complete(ctx, prompt, temperature, maxTokens)
}

// Entry is one past research run kept in history.
type Entry struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	Summary   string    `json:"summary"`
	Markdown  string    `json:"markdown"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps session history for the lifetime of the process (or longer,
// with the redis backend).
type Store interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, n int) ([]Entry, error)
}
