package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ScanOutcome captures how a scan request completed.
type ScanOutcome string

const (
	// ScanOutcomeOK indicates the request returned highlights.
	ScanOutcomeOK ScanOutcome = "ok"
	// ScanOutcomeError indicates the rule engine call failed or timed out.
	ScanOutcomeError ScanOutcome = "error"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationLookup records scan cache lookup calls.
	CacheOperationLookup CacheOperation = "lookup"
	// CacheOperationStore records scan cache store attempts.
	CacheOperationStore CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup reused a cached scan.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no cached scan was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the lookup failed due to an error.
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a cache store attempt.
type CacheStoreOutcome string

const (
	// CacheStoreStored indicates the scan entry was cached.
	CacheStoreStored CacheStoreOutcome = "stored"
	// CacheStoreError indicates the store operation failed.
	CacheStoreError CacheStoreOutcome = "error"
)

// EngineScanResult captures the result of one rule engine invocation.
type EngineScanResult string

const (
	EngineScanOK    EngineScanResult = "ok"
	EngineScanError EngineScanResult = "error"
)

// DurableResult captures the result of a durable store operation.
type DurableResult string

const (
	DurableOK    DurableResult = "ok"
	DurableHit   DurableResult = "hit"
	DurableMiss  DurableResult = "miss"
	DurableError DurableResult = "error"
)

// Recorder publishes Prometheus metrics for orchestrator activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	scanRequests *prometheus.CounterVec
	scanLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	engineScans   *prometheus.CounterVec
	engineLatency *prometheus.HistogramVec

	durableOperations *prometheus.CounterVec
	rulesetReloads    *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	scanRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prosescan",
		Subsystem: "scan",
		Name:      "requests_total",
		Help:      "Total scan requests processed by the orchestrator.",
	}, []string{"outcome", "from_cache"})

	scanLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "prosescan",
		Subsystem: "scan",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed scan requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"outcome"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prosescan",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Scan cache operations executed by the orchestrator.",
	}, []string{"operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "prosescan",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for scan cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"operation", "result"})

	engineScans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prosescan",
		Subsystem: "engine",
		Name:      "scans_total",
		Help:      "Rule engine invocations issued by cache misses.",
	}, []string{"result"})

	engineLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "prosescan",
		Subsystem: "engine",
		Name:      "scan_duration_seconds",
		Help:      "Latency distribution for rule engine invocations.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"result"})

	durableOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prosescan",
		Subsystem: "durable",
		Name:      "operations_total",
		Help:      "Durable store operations issued by the write-through path.",
	}, []string{"operation", "result"})

	rulesetReloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prosescan",
		Subsystem: "ruleset",
		Name:      "reloads_total",
		Help:      "Administrative ruleset reloads, successful or not.",
	}, []string{"result"})

	reg.MustRegister(scanRequests, scanLatency, cacheOperations, cacheLatency, engineScans, engineLatency, durableOperations, rulesetReloads)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:          reg,
		handler:           handler,
		scanRequests:      scanRequests,
		scanLatency:       scanLatency,
		cacheOperations:   cacheOperations,
		cacheLatency:      cacheLatency,
		engineScans:       engineScans,
		engineLatency:     engineLatency,
		durableOperations: durableOperations,
		rulesetReloads:    rulesetReloads,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveScan records the outcome and latency for a completed scan request.
func (r *Recorder) ObserveScan(outcome ScanOutcome, fromCache bool, duration time.Duration) {
	if r == nil {
		return
	}
	outcomeLabel := normalizeLabel(string(outcome))
	cacheLabel := "false"
	if fromCache {
		cacheLabel = "true"
	}
	r.scanRequests.WithLabelValues(outcomeLabel, cacheLabel).Inc()
	r.scanLatency.WithLabelValues(outcomeLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a scan cache lookup.
func (r *Recorder) ObserveCacheLookup(result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache(CacheOperationLookup, resultLabel, duration)
}

// ObserveCacheStore records the result of a scan cache store attempt.
func (r *Recorder) ObserveCacheStore(result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheStoreError)
	}
	r.observeCache(CacheOperationStore, resultLabel, duration)
}

// ObserveEngineScan records one rule engine invocation.
func (r *Recorder) ObserveEngineScan(result EngineScanResult, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := normalizeLabel(string(result))
	r.engineScans.WithLabelValues(resultLabel).Inc()
	r.engineLatency.WithLabelValues(resultLabel).Observe(duration.Seconds())
}

// ObserveDurableFetch records one durable store read on the cold-start path.
func (r *Recorder) ObserveDurableFetch(result DurableResult) {
	if r == nil {
		return
	}
	r.durableOperations.WithLabelValues("fetch", normalizeLabel(string(result))).Inc()
}

// ObserveDurablePersist records one write-through persist attempt.
func (r *Recorder) ObserveDurablePersist(result DurableResult) {
	if r == nil {
		return
	}
	r.durableOperations.WithLabelValues("persist", normalizeLabel(string(result))).Inc()
}

// ObserveRulesetReload records an administrative ruleset reload attempt.
func (r *Recorder) ObserveRulesetReload(ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	r.rulesetReloads.WithLabelValues(result).Inc()
}

func (r *Recorder) observeCache(operation CacheOperation, result string, duration time.Duration) {
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(opLabel, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
