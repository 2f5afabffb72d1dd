// Package server wires the engine together and exposes it over HTTP.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jandive/jandive/config"
	"github.com/jandive/jandive/internal/fetch"
	chromedp_fetch "github.com/jandive/jandive/internal/fetch/chromedp"
	"github.com/jandive/jandive/internal/research"
	"github.com/jandive/jandive/internal/safety"
	"github.com/jandive/jandive/internal/search"
	"github.com/jandive/jandive/internal/session"
	"github.com/jandive/jandive/internal/session/inmemory"
	redis_session "github.com/jandive/jandive/internal/session/redis"
	"github.com/jandive/jandive/internal/telemetry"
	"github.com/jandive/jandive/provider"
)

// Engine owns every long-lived component of the research system: the
// cached oracle handle, the retrieval pipeline with its politeness state,
// the history store, and the metrics registry. Both the CLI and the HTTP
// API drive the same Engine.
type Engine struct {
	cfg       *config.Config
	cache     *session.Cache
	orch      *research.Orchestrator
	evaluator *safety.Evaluator
	history   session.Store
	telemetry *telemetry.Telemetry
	renderer  *chromedp_fetch.Renderer
	logger    *log.Logger
}

// NewEngine builds an Engine from config. The oracle itself is not
// contacted until the first research run.
func NewEngine(ctx context.Context, cfg *config.Config) (*Engine, error) {
	tel := telemetry.New()

	cache := session.NewCache(func() (provider.Provider, error) {
		return provider.NewProvider(cfg.LLM)
	})

	searcher, err := search.NewWebSearcher(search.Provider(cfg.Search.Provider), cfg.Search.APIKey)
	if err != nil {
		return nil, fmt.Errorf("search provider: %w", err)
	}

	var fetcher fetch.WebFetcher
	var renderer *chromedp_fetch.Renderer
	if cfg.Fetch.Fetcher == string(fetch.ChromedpFetcherType) {
		renderer = chromedp_fetch.NewRenderer(cfg.Fetch.Timeout, cfg.Fetch.MaxChars)
		fetcher = renderer
	} else {
		fetcher, err = fetch.NewWebFetcher(fetch.HTTPFetcherType, cfg.Fetch.Timeout, cfg.Fetch.MaxChars)
		if err != nil {
			return nil, fmt.Errorf("fetcher: %w", err)
		}
	}

	validator := safety.NewURLValidator(cfg.Safety)
	robots := safety.NewRobotsChecker(cfg.Safety, &http.Client{Timeout: cfg.Fetch.Timeout})
	evaluator := safety.NewEvaluator(cfg.Safety.MaxEvalMagnitude)

	pipeline := research.NewPipeline(cfg.Fetch, cfg.Search.TopK, searcher, fetcher, validator, robots, tel)
	synth := research.NewSynthesizer(cache, cfg.Research.MaxContextWords)
	orch := research.NewOrchestrator(cfg.Research, cache, pipeline, synth, evaluator, tel)

	var history session.Store
	switch cfg.Storage.History {
	case "redis":
		history, err = redis_session.NewStore(ctx, cfg.Storage.Redis, 100)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
	default:
		history = inmemory.NewStore(100)
	}

	return &Engine{
		cfg:       cfg,
		cache:     cache,
		orch:      orch,
		evaluator: evaluator,
		history:   history,
		telemetry: tel,
		renderer:  renderer,
		logger:    log.New(log.Writer(), "[SERVER] ", log.LstdFlags),
	}, nil
}

// Research runs one session and records it in history.
func (e *Engine) Research(ctx context.Context, opts research.Options) (*research.Session, error) {
	if opts.Temperature == 0 {
		opts.Temperature = e.cfg.LLM.Temperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = e.cfg.LLM.MaxTokens
	}
	sess, err := e.orch.Run(ctx, opts)
	if err != nil {
		return sess, err
	}
	entry := session.Entry{
		ID:        sess.ID,
		Query:     sess.UserQuery,
		Summary:   sess.Report.Summary,
		Markdown:  sess.Report.Markdown,
		CreatedAt: sess.FinishedAt,
	}
	if herr := e.history.Append(ctx, entry); herr != nil {
		e.logger.Printf("history append failed: %v", herr)
	}
	return sess, nil
}

// History returns the most recent research runs.
func (e *Engine) History(ctx context.Context, n int) ([]session.Entry, error) {
	return e.history.Recent(ctx, n)
}

// Evaluate exposes the sandboxed calculator.
func (e *Engine) Evaluate(expr string) (float64, error) {
	return e.evaluator.Evaluate(expr)
}

// Close releases the browser (when rendering is enabled) and the oracle
// handle.
func (e *Engine) Close() {
	if e.renderer != nil {
		e.renderer.Close()
	}
	e.cache.Release()
}

type researchRequest struct {
	Query         string  `json:"query"`
	MaxIterations int     `json:"max_iterations"`
	Temperature   float64 `json:"temperature"`
	Offline       bool    `json:"offline"`
	Concise       bool    `json:"concise"`
}

// Serve runs the HTTP API until the context is cancelled or the listener
// fails.
func (e *Engine) Serve(ctx context.Context, addr string) error {
	app := echo.New()
	app.HideBanner = true
	app.Use(middleware.Logger())
	app.Use(middleware.Recover())

	app.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	app.POST("/research", func(c echo.Context) error {
		var req researchRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if strings.TrimSpace(req.Query) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "query is required")
		}
		sess, err := e.Research(c.Request().Context(), research.Options{
			Query:         req.Query,
			MaxIterations: req.MaxIterations,
			Temperature:   req.Temperature,
			Offline:       req.Offline,
			Concise:       req.Concise,
		})
		if err != nil {
			if sess != nil {
				return c.JSON(http.StatusBadGateway, map[string]interface{}{
					"error":   err.Error(),
					"session": sess,
				})
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, sess)
	})

	app.GET("/history", func(c echo.Context) error {
		entries, err := e.History(c.Request().Context(), 50)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, entries)
	})

	app.GET("/metrics", echo.WrapHandler(e.telemetry.Handler()))

	app.POST("/calc", func(c echo.Context) error {
		var req struct {
			Expression string `json:"expression"`
		}
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		v, err := e.Evaluate(req.Expression)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return c.JSON(http.StatusOK, map[string]float64{"result": v})
	})

	errCh := make(chan error, 1)
	go func() { errCh <- app.Start(addr) }()
	e.logger.Printf("listening on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
