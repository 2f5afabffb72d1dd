package search

import (
	"context"

	"github.com/jandive/jandive/internal/search/brave"
	"github.com/jandive/jandive/internal/search/duckduckgo"
	"github.com/jandive/jandive/internal/search/models"
	"github.com/jandive/jandive/internal/search/serper"
)

// WebSearcher turns one sub-query into a ranked list of candidate pages.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	DuckDuckGoProvider Provider = "duckduckgo"
	BraveProvider      Provider = "brave"
	SerperProvider     Provider = "serper"
)

type Error struct{ Msg string }

func (e *Error) Error() string { return e.Msg }

var ErrUnsupportedProvider = &Error{"unsupported provider"}

func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case DuckDuckGoProvider:
		return duckduckgo.New(), nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey}, nil
	case SerperProvider:
		return serper.Search{ApiKey: apiKey}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
