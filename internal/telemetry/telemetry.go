package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Telemetry aggregates the engine's Prometheus metrics. All record methods
// are nil-safe so components can run without metrics in tests.
type Telemetry struct {
	registry *prometheus.Registry

	fetchesTotal  *prometheus.CounterVec
	searchesTotal *prometheus.CounterVec
	oracleCalls   *prometheus.CounterVec
	oracleLatency prometheus.Histogram
	runDuration   prometheus.Histogram
	runIterations prometheus.Histogram
	corpusSources prometheus.Histogram
}

func New() *Telemetry {
	reg := prometheus.NewRegistry()
	t := &Telemetry{
		registry: reg,
		fetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jandive_fetches_total",
			Help: "Page fetches by outcome status.",
		}, []string{"status"}),
		searchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jandive_searches_total",
			Help: "Search provider calls by outcome.",
		}, []string{"outcome"}),
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jandive_oracle_calls_total",
			Help: "Oracle completions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		oracleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jandive_oracle_latency_seconds",
			Help:    "Oracle completion latency.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jandive_run_duration_seconds",
			Help:    "End-to-end research run duration.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		runIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jandive_run_iterations",
			Help:    "Iterations consumed per research run.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		corpusSources: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jandive_corpus_sources",
			Help:    "Usable sources in the final corpus per run.",
			Buckets: prometheus.LinearBuckets(0, 2, 15),
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		t.fetchesTotal,
		t.searchesTotal,
		t.oracleCalls,
		t.oracleLatency,
		t.runDuration,
		t.runIterations,
		t.corpusSources,
	)
	return t
}

func (t *Telemetry) Registry() *prometheus.Registry {
	if t == nil {
		return nil
	}
	return t.registry
}

// Handler serves the registry for a /metrics route.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

func (t *Telemetry) RecordFetch(status string) {
	if t == nil {
		return
	}
	t.fetchesTotal.WithLabelValues(status).Inc()
}

func (t *Telemetry) RecordSearch(err error) {
	if t == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.searchesTotal.WithLabelValues(outcome).Inc()
}

func (t *Telemetry) RecordOracleCall(kind string, dur time.Duration, err error) {
	if t == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.oracleCalls.WithLabelValues(kind, outcome).Inc()
	t.oracleLatency.Observe(dur.Seconds())
}

func (t *Telemetry) RecordRun(dur time.Duration, iterations, corpusSources int) {
	if t == nil {
		return
	}
	t.runDuration.Observe(dur.Seconds())
	t.runIterations.Observe(float64(iterations))
	t.corpusSources.Observe(float64(corpusSources))
}
