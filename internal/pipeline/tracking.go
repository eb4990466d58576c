package pipeline

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"go-query-pipeline/internal/model"
)

var tracer = otel.Tracer("go-query-pipeline/internal/pipeline")

var (
	// queriesTotal counts answered questions.
	// Labels: intent, outcome (ok or an error kind)
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "querypipe",
		Subsystem: "service",
		Name:      "queries_total",
		Help:      "Total questions handled by outcome",
	}, []string{"intent", "outcome"})

	// stageDuration measures each pipeline stage.
	// Labels: stage (interpret, calculate, context)
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "querypipe",
		Subsystem: "service",
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"stage"})

	// interpretationsTotal counts how intents were resolved.
	// Labels: source (heuristic, llm, degraded)
	interpretationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "querypipe",
		Subsystem: "interpreter",
		Name:      "interpretations_total",
		Help:      "Total interpretations by source",
	}, []string{"source"})

	// calculationsTotal counts calculations by cache outcome.
	// Labels: intent, cache (hit, miss, shared)
	calculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "querypipe",
		Subsystem: "calculator",
		Name:      "calculations_total",
		Help:      "Total calculations by cache outcome",
	}, []string{"intent", "cache"})
)

// ------------------- Request tracking -------------------

// StageTiming is the duration of one stage of a request
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// requestTracker times the stages of one Answer call
type requestTracker struct {
	requestID string
	start     time.Time
	logger    *slog.Logger

	mu     sync.Mutex
	stages []StageTiming
}

func newRequestTracker(requestID string, logger *slog.Logger) *requestTracker {
	return &requestTracker{requestID: requestID, start: time.Now(), logger: logger}
}

// StartStage returns the function that ends the stage
func (rt *requestTracker) StartStage(stage string) func() {
	start := time.Now()
	return func() {
		d := time.Since(start)
		stageDuration.WithLabelValues(stage).Observe(d.Seconds())
		rt.mu.Lock()
		rt.stages = append(rt.stages, StageTiming{Stage: stage, Duration: d})
		rt.mu.Unlock()
	}
}

// Complete records the outcome and logs the stage breakdown
func (rt *requestTracker) Complete(intent model.IntentType, err error) {
	outcome := outcomeOf(err)
	label := string(intent)
	if label == "" {
		label = "unknown"
	}
	queriesTotal.WithLabelValues(label, outcome).Inc()

	rt.mu.Lock()
	stages := make([]any, 0, len(rt.stages)*2)
	for _, s := range rt.stages {
		stages = append(stages, s.Stage, s.Duration)
	}
	rt.mu.Unlock()

	attrs := []any{"request_id", rt.requestID, "intent", label, "outcome", outcome, "elapsed", time.Since(rt.start)}
	attrs = append(attrs, slog.Group("stages", stages...))
	if err != nil {
		rt.logger.Warn("question failed", append(attrs, "error", err)...)
		return
	}
	rt.logger.Info("question answered", attrs...)
}

// outcomeOf maps an error onto a low-cardinality label
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case model.KindOf(err) != "":
		return string(model.KindOf(err))
	case errors.Is(err, model.ErrInvalidFilter):
		return "invalid_filter"
	case errors.Is(err, model.ErrUnsupportedIntent):
		return "unsupported_intent"
	default:
		return "error"
	}
}

// ------------------- Component stats collector -------------------

// StatsCollector exports pool, cache, breaker and retry snapshots as
// Prometheus metrics on every scrape
type StatsCollector struct {
	stats func() model.Stats

	poolConnections *prometheus.Desc
	poolRequests    *prometheus.Desc
	poolTimeouts    *prometheus.Desc
	cacheEntries    *prometheus.Desc
	cacheLookups    *prometheus.Desc
	cacheEvictions  *prometheus.Desc
	breakerState    *prometheus.Desc
	breakerRejected *prometheus.Desc
	retryAttempts   *prometheus.Desc
	retryExhausted  *prometheus.Desc
}

// NewStatsCollector wraps a stats source, usually Service.Stats
func NewStatsCollector(stats func() model.Stats) *StatsCollector {
	name := func(sub, n string) string { return prometheus.BuildFQName("querypipe", sub, n) }
	return &StatsCollector{
		stats:           stats,
		poolConnections: prometheus.NewDesc(name("pool", "connections"), "Pooled handles by state", []string{"state"}, nil),
		poolRequests:    prometheus.NewDesc(name("pool", "requests_total"), "Acquire calls by result", []string{"result"}, nil),
		poolTimeouts:    prometheus.NewDesc(name("pool", "timeouts_total"), "Acquire calls that timed out", nil, nil),
		cacheEntries:    prometheus.NewDesc(name("cache", "entries"), "Entries currently cached", nil, nil),
		cacheLookups:    prometheus.NewDesc(name("cache", "lookups_total"), "Cache lookups by result", []string{"result"}, nil),
		cacheEvictions:  prometheus.NewDesc(name("cache", "evictions_total"), "Entries evicted by reason", []string{"reason"}, nil),
		breakerState:    prometheus.NewDesc(name("breaker", "state"), "Breaker state (0 closed, 1 open, 2 half-open)", []string{"name"}, nil),
		breakerRejected: prometheus.NewDesc(name("breaker", "rejected_total"), "Calls rejected by an open breaker", []string{"name"}, nil),
		retryAttempts:   prometheus.NewDesc(name("retry", "attempts_total"), "Attempts made by retry policies", nil, nil),
		retryExhausted:  prometheus.NewDesc(name("retry", "exhausted_total"), "Calls that ran out of attempts", nil, nil),
	}
}

// Describe implements prometheus.Collector
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.poolConnections, c.poolRequests, c.poolTimeouts,
		c.cacheEntries, c.cacheLookups, c.cacheEvictions,
		c.breakerState, c.breakerRejected,
		c.retryAttempts, c.retryExhausted,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()

	ch <- prometheus.MustNewConstMetric(c.poolConnections, prometheus.GaugeValue, float64(s.Pool.ActiveConnections), "active")
	ch <- prometheus.MustNewConstMetric(c.poolConnections, prometheus.GaugeValue, float64(s.Pool.IdleConnections), "idle")
	ch <- prometheus.MustNewConstMetric(c.poolRequests, prometheus.CounterValue, float64(s.Pool.Hits), "hit")
	ch <- prometheus.MustNewConstMetric(c.poolRequests, prometheus.CounterValue, float64(s.Pool.Misses), "miss")
	ch <- prometheus.MustNewConstMetric(c.poolTimeouts, prometheus.CounterValue, float64(s.Pool.Timeouts))

	ch <- prometheus.MustNewConstMetric(c.cacheEntries, prometheus.GaugeValue, float64(s.Cache.Entries))
	ch <- prometheus.MustNewConstMetric(c.cacheLookups, prometheus.CounterValue, float64(s.Cache.Hits), "hit")
	ch <- prometheus.MustNewConstMetric(c.cacheLookups, prometheus.CounterValue, float64(s.Cache.Misses), "miss")
	ch <- prometheus.MustNewConstMetric(c.cacheEvictions, prometheus.CounterValue, float64(s.Cache.Evictions), "lru")
	ch <- prometheus.MustNewConstMetric(c.cacheEvictions, prometheus.CounterValue, float64(s.Cache.Expired), "ttl")

	for _, b := range s.Breakers {
		ch <- prometheus.MustNewConstMetric(c.breakerState, prometheus.GaugeValue, breakerStateValue(b.State), b.Name)
		ch <- prometheus.MustNewConstMetric(c.breakerRejected, prometheus.CounterValue, float64(b.Rejected), b.Name)
	}

	ch <- prometheus.MustNewConstMetric(c.retryAttempts, prometheus.CounterValue, float64(s.Retry.Attempts))
	ch <- prometheus.MustNewConstMetric(c.retryExhausted, prometheus.CounterValue, float64(s.Retry.Exhausted))
}

func breakerStateValue(state string) float64 {
	switch state {
	case "OPEN":
		return 1
	case "HALF_OPEN":
		return 2
	default:
		return 0
	}
}
