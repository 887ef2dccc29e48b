// Package metrics wraps a Prometheus registry with the trust core's
// application-specific metrics, the way the teacher's pkg/metrics wraps one
// with replication-specific metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric the trust core exposes on its debug server's
// /metrics endpoint.
type Registry struct {
	registry *prometheus.Registry

	// HTTP metrics for the debug server surface.
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Admission metrics, one series per certificate/profile kind.
	admissionsTotal        *prometheus.CounterVec
	admissionRejectedTotal *prometheus.CounterVec

	// Chain Evaluator metrics.
	verdictCacheHits   prometheus.Counter
	verdictCacheMisses prometheus.Counter
	chainDepth         prometheus.Histogram

	// Persistence metrics.
	persistenceErrorsTotal *prometheus.CounterVec
	corruptSlotsTotal      prometheus.Counter

	// System metrics.
	panicTotal *prometheus.CounterVec
}

// NewRegistry creates a Registry with every trust-core metric registered
// against a fresh Prometheus registry.
func NewRegistry(namespace string) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of debug server HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Debug server HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		admissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admissions_total",
				Help:      "Total number of certificates and profiles admitted into the graph, by kind.",
			},
			[]string{"kind"},
		),
		admissionRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admission_rejected_total",
				Help:      "Total number of certificates and profiles rejected at admission, by kind and reason.",
			},
			[]string{"kind", "reason"},
		),

		verdictCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verdict_cache_hits_total",
				Help:      "Total number of Chain Evaluator verdict cache hits.",
			},
		),
		verdictCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verdict_cache_misses_total",
				Help:      "Total number of Chain Evaluator verdict cache misses.",
			},
		),
		chainDepth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chain_evaluation_depth",
				Help:      "Depth of the endorsement chain walked to reach a trust verdict.",
				Buckets:   []float64{1, 2, 3, 4, 5, 8, 13, 21},
			},
		),

		persistenceErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persistence_errors_total",
				Help:      "Total number of persistence substrate errors, by operation.",
			},
			[]string{"operation"},
		),
		corruptSlotsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "corrupt_slots_total",
				Help:      "Total number of persisted slots skipped because their hash self-check failed.",
			},
		),

		panicTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "panics_total",
				Help:      "Total number of recovered panics, by component.",
			},
			[]string{"component"},
		),
	}

	r.registerMetrics()
	return r
}

func (r *Registry) registerMetrics() {
	collectors := []prometheus.Collector{
		r.httpRequestsTotal,
		r.httpRequestDuration,
		r.admissionsTotal,
		r.admissionRejectedTotal,
		r.verdictCacheHits,
		r.verdictCacheMisses,
		r.chainDepth,
		r.persistenceErrorsTotal,
		r.corruptSlotsTotal,
		r.panicTotal,
	}
	for _, c := range collectors {
		r.registry.MustRegister(c)
	}
}

// GetRegistry returns the underlying Prometheus registry, for mounting
// under promhttp.HandlerFor.
func (r *Registry) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordHTTPRequest records one debug server HTTP request.
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordAdmission records a successful certificate or profile admission.
func (r *Registry) RecordAdmission(kind string) {
	r.admissionsTotal.WithLabelValues(kind).Inc()
}

// RecordAdmissionRejected records a rejected admission.
func (r *Registry) RecordAdmissionRejected(kind, reason string) {
	r.admissionRejectedTotal.WithLabelValues(kind, reason).Inc()
}

// RecordVerdictCacheHit records a Chain Evaluator cache hit.
func (r *Registry) RecordVerdictCacheHit() {
	r.verdictCacheHits.Inc()
}

// RecordVerdictCacheMiss records a Chain Evaluator cache miss.
func (r *Registry) RecordVerdictCacheMiss() {
	r.verdictCacheMisses.Inc()
}

// ObserveChainDepth records the endorsement chain depth walked to reach a
// verdict.
func (r *Registry) ObserveChainDepth(depth int) {
	r.chainDepth.Observe(float64(depth))
}

// RecordPersistenceError records a persistence substrate error for operation
// (e.g. "read", "write", "enumerate").
func (r *Registry) RecordPersistenceError(operation string) {
	r.persistenceErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordCorruptSlot records a persisted slot skipped due to a failed hash
// self-check.
func (r *Registry) RecordCorruptSlot() {
	r.corruptSlotsTotal.Inc()
}

// RecordPanic records a recovered panic in component.
func (r *Registry) RecordPanic(component string) {
	r.panicTotal.WithLabelValues(component).Inc()
}
