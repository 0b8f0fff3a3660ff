// Package metrics exposes Prometheus collectors for generation sessions,
// compatibility probes, the model catalog and the HTTP API.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/aistudio/internal/catalog"
	"github.com/samcharles93/aistudio/internal/inference"
	"github.com/samcharles93/aistudio/internal/model"
)

const namespace = "aistudio"

// Metrics implements inference.Observer. Each instance owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive  prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	promptTokens    prometheus.Counter
	firstToken      prometheus.Histogram
	sessionDuration *prometheus.HistogramVec
	tokensPerSecond *prometheus.GaugeVec

	probesTotal   *prometheus.CounterVec
	probeDuration prometheus.Histogram
	models        *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ inference.Observer = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Generation sessions currently running",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "finished_total",
			Help:      "Generation sessions by terminal state",
		}, []string{"state", "accelerator"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "generated_tokens_total",
			Help:      "Tokens emitted to consumers",
		}, []string{"accelerator"}),
		promptTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "prompt_tokens_total",
			Help:      "Prompt tokens loaded into input buffers",
		}),
		firstToken: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "first_token_seconds",
			Help:      "Time from session start to the first fragment",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Session duration by terminal state",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"state"}),
		tokensPerSecond: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "last_tokens_per_second",
			Help:      "Decode rate of the most recent session",
		}, []string{"accelerator"}),
		probesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "total",
			Help:      "Compatibility probes by result",
		}, []string{"status", "accelerator"}),
		probeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Compatibility probe duration",
			Buckets:   prometheus.DefBuckets,
		}),
		models: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "models",
			Help:      "Models in the catalog by compatibility status",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsActive, m.sessionsTotal, m.tokensTotal, m.promptTokens,
		m.firstToken, m.sessionDuration, m.tokensPerSecond,
		m.probesTotal, m.probeDuration, m.models,
		m.httpRequests, m.httpDuration,
	)
	for _, st := range model.Statuses() {
		m.models.WithLabelValues(string(st)).Set(0)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionStarted(string, string) {
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionFinished(r inference.Report) {
	m.sessionsActive.Dec()
	accel := accelLabel(r.Accelerator.String())
	m.sessionsTotal.WithLabelValues(r.State.String(), accel).Inc()
	m.tokensTotal.WithLabelValues(accel).Add(float64(r.Stats.TokensGenerated))
	m.promptTokens.Add(float64(r.Stats.PromptTokens))
	m.sessionDuration.WithLabelValues(r.State.String()).Observe(r.Stats.Duration.Seconds())
	if r.Stats.TokensGenerated > 0 {
		m.firstToken.Observe(r.Stats.FirstToken.Seconds())
		m.tokensPerSecond.WithLabelValues(accel).Set(r.Stats.TPS)
	}
}

func (m *Metrics) ProbeFinished(c inference.Classification) {
	if c.Interrupted() {
		return
	}
	m.probesTotal.WithLabelValues(string(c.Status), accelLabel(c.Accelerator.String())).Inc()
	m.probeDuration.Observe(c.Duration.Seconds())
}

// ObserveCatalog replaces the per-status model counts.
func (m *Metrics) ObserveCatalog(models []model.Descriptor) {
	counts := make(map[model.Compatibility]int)
	for _, d := range models {
		counts[d.Compatibility]++
	}
	for _, st := range model.Statuses() {
		m.models.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

// WatchCatalog keeps the model gauges current until ctx ends or the catalog
// closes the subscription.
func (m *Metrics) WatchCatalog(ctx context.Context, c *catalog.Catalog) {
	events, cancel := c.Subscribe()
	defer cancel()
	m.ObserveCatalog(c.List())
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			m.ObserveCatalog(c.List())
		}
	}
}

// ObserveHTTP records one served request. route is the registered pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func accelLabel(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
