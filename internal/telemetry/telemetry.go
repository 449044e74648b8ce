// Package telemetry provides monitoring for research runs: in-process
// counters with a snapshot API, periodic log reports, and prometheus
// collectors exported through the server's /metrics endpoint.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quester-ai/quester/config"
)

// Telemetry records run, LLM, search and fetch activity.
type Telemetry struct {
	config  config.TelemetryConfig
	logger  *log.Logger
	metrics *Metrics

	runsTotal     *prometheus.CounterVec
	llmCallsTotal *prometheus.CounterVec
	searchesTotal *prometheus.CounterVec
	fetchesTotal  *prometheus.CounterVec
	runDuration   prometheus.Histogram
}

// Metrics holds the in-process counters.
type Metrics struct {
	mu sync.RWMutex

	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	AverageRunTime time.Duration

	LLMCalls       map[string]int64 // tier -> count
	LLMFailures    map[string]int64
	SearchRequests map[string]int64 // provider -> count
	SearchFailures map[string]int64
	FetchAttempts  int64
	FetchFailures  int64
}

var registerOnce sync.Once

// NewTelemetry creates a telemetry instance and registers its prometheus
// collectors on the default registry.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			LLMCalls:       make(map[string]int64),
			LLMFailures:    make(map[string]int64),
			SearchRequests: make(map[string]int64),
			SearchFailures: make(map[string]int64),
		},
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quester_runs_total",
			Help: "Research runs by outcome.",
		}, []string{"outcome"}),
		llmCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quester_llm_calls_total",
			Help: "LLM gateway calls by tier and outcome.",
		}, []string{"tier", "outcome"}),
		searchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quester_searches_total",
			Help: "Web searches by provider and outcome.",
		}, []string{"provider", "outcome"}),
		fetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quester_fetches_total",
			Help: "Page fetches by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quester_run_duration_seconds",
			Help:    "Wall time of completed research runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}

	// Registration is global; tests construct multiple instances.
	registerOnce.Do(func() {
		prometheus.MustRegister(t.runsTotal, t.llmCallsTotal, t.searchesTotal, t.fetchesTotal, t.runDuration)
	})

	if cfg.Enabled && cfg.PeriodicLogs {
		go t.startMetricsCollection()
	}
	return t
}

// RecordRun records one completed (or failed) research run.
func (t *Telemetry) RecordRun(duration time.Duration, success bool) {
	if !t.config.Enabled {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.TotalRuns++
	if success {
		t.metrics.SuccessfulRuns++
	} else {
		t.metrics.FailedRuns++
	}
	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunTime = duration
	} else {
		total := t.metrics.AverageRunTime * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageRunTime = (total + duration) / time.Duration(t.metrics.TotalRuns)
	}
	t.metrics.mu.Unlock()

	t.runsTotal.WithLabelValues(outcome(success)).Inc()
	t.runDuration.Observe(duration.Seconds())
	t.logger.Printf("Run: success=%t duration=%v", success, duration)
}

// RecordLLMCall records one gateway call on the named tier.
func (t *Telemetry) RecordLLMCall(tier string, success bool) {
	if !t.config.Enabled {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.LLMCalls[tier]++
	if !success {
		t.metrics.LLMFailures[tier]++
	}
	t.metrics.mu.Unlock()
	t.llmCallsTotal.WithLabelValues(tier, outcome(success)).Inc()
}

// RecordSearch records one provider search.
func (t *Telemetry) RecordSearch(provider string, success bool) {
	if !t.config.Enabled {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.SearchRequests[provider]++
	if !success {
		t.metrics.SearchFailures[provider]++
	}
	t.metrics.mu.Unlock()
	t.searchesTotal.WithLabelValues(provider, outcome(success)).Inc()
}

// RecordFetch records one page fetch attempt.
func (t *Telemetry) RecordFetch(success bool) {
	if !t.config.Enabled {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.FetchAttempts++
	if !success {
		t.metrics.FetchFailures++
	}
	t.metrics.mu.Unlock()
	t.fetchesTotal.WithLabelValues(outcome(success)).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// GetMetrics returns a copy of the current counters.
func (t *Telemetry) GetMetrics() Metrics {
	t.metrics.mu.RLock()
	defer t.metrics.mu.RUnlock()

	m := Metrics{
		TotalRuns:      t.metrics.TotalRuns,
		SuccessfulRuns: t.metrics.SuccessfulRuns,
		FailedRuns:     t.metrics.FailedRuns,
		AverageRunTime: t.metrics.AverageRunTime,
		FetchAttempts:  t.metrics.FetchAttempts,
		FetchFailures:  t.metrics.FetchFailures,
		LLMCalls:       make(map[string]int64),
		LLMFailures:    make(map[string]int64),
		SearchRequests: make(map[string]int64),
		SearchFailures: make(map[string]int64),
	}
	for k, v := range t.metrics.LLMCalls {
		m.LLMCalls[k] = v
	}
	for k, v := range t.metrics.LLMFailures {
		m.LLMFailures[k] = v
	}
	for k, v := range t.metrics.SearchRequests {
		m.SearchRequests[k] = v
	}
	for k, v := range t.metrics.SearchFailures {
		m.SearchFailures[k] = v
	}
	return m
}

func (t *Telemetry) startMetricsCollection() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m := t.GetMetrics()
		t.logger.Printf("Metrics Snapshot: Runs=%d/%d, AvgTime=%v, Fetches=%d (failed %d)",
			m.SuccessfulRuns, m.TotalRuns, m.AverageRunTime, m.FetchAttempts, m.FetchFailures)
	}
}

// Shutdown logs a final report.
func (t *Telemetry) Shutdown() {
	m := t.GetMetrics()
	if m.TotalRuns == 0 {
		return
	}
	t.logger.Printf("Final Report: Runs=%d, Success=%.2f%%, AvgTime=%v",
		m.TotalRuns, float64(m.SuccessfulRuns)/float64(m.TotalRuns)*100, m.AverageRunTime)
}
