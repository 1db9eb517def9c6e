// Package metrics provides the Prometheus collectors exposed by
// graphplane-opsd's /metrics endpoint.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the control plane registers.
type Metrics struct {
	// Backend HTTP client
	BackendRequestsTotal   *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec

	// Circuit breaker
	CircuitBreakerState      *prometheus.GaugeVec
	CircuitBreakerTripsTotal *prometheus.CounterVec

	// Allocation
	AllocationAttemptsTotal *prometheus.CounterVec
	AllocationDuration      prometheus.Histogram
	InstancesAtCapacity     prometheus.Gauge
	TierUtilizationPercent  *prometheus.GaugeVec
	TierTotalDatabases      *prometheus.GaugeVec

	// Routing / cache
	RoutingCacheHitsTotal  *prometheus.CounterVec
	RoutingLookupDuration  prometheus.Histogram

	// Credit router
	CreditConsumeAttemptsTotal *prometheus.CounterVec
	CreditCASRetriesTotal      prometheus.Counter

	// Autoscale signal
	AutoscaleSignalsEmittedTotal  *prometheus.CounterVec
	AutoscaleSignalsSuppressedTotal *prometheus.CounterVec
}

// New builds a Metrics instance and registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BackendRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphplane_backend_requests_total",
				Help: "Total backend HTTP requests issued by the control plane",
			},
			[]string{"operation", "status"},
		),
		BackendRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "graphplane_backend_request_duration_seconds",
				Help:    "Backend HTTP request duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "graphplane_circuit_breaker_state",
				Help: "Circuit breaker state per backend instance (0=closed, 1=half-open, 2=open)",
			},
			[]string{"instance_id"},
		),
		CircuitBreakerTripsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphplane_circuit_breaker_trips_total",
				Help: "Total circuit breaker trips to open per backend instance",
			},
			[]string{"instance_id"},
		),
		AllocationAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphplane_allocation_attempts_total",
				Help: "Total database allocation attempts",
			},
			[]string{"tier", "outcome"},
		),
		AllocationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "graphplane_allocation_duration_seconds",
				Help:    "Time to place a database onto an instance",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		InstancesAtCapacity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "graphplane_instances_at_capacity",
				Help: "Number of instances currently at their max database count",
			},
		),
		TierUtilizationPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "graphplane_tier_utilization_percent",
				Help: "Percent of a tier's total database capacity currently in use",
			},
			[]string{"tier"},
		),
		TierTotalDatabases: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "graphplane_tier_total_databases",
				Help: "Total databases currently placed on a tier's instances",
			},
			[]string{"tier"},
		),
		RoutingCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphplane_routing_cache_hits_total",
				Help: "Routing lookup cache hits and misses",
			},
			[]string{"result"},
		),
		RoutingLookupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "graphplane_routing_lookup_duration_seconds",
				Help:    "Time to resolve a graph ID to a backend endpoint",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1},
			},
		),
		CreditConsumeAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphplane_credit_consume_attempts_total",
				Help: "Total credit pool consume attempts",
			},
			[]string{"outcome"},
		),
		CreditCASRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "graphplane_credit_cas_retries_total",
				Help: "Total optimistic-lock retries on credit pool balance updates",
			},
		),
		AutoscaleSignalsEmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphplane_autoscale_signals_emitted_total",
				Help: "Total autoscale signals emitted per tier",
			},
			[]string{"tier"},
		),
		AutoscaleSignalsSuppressedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphplane_autoscale_signals_suppressed_total",
				Help: "Total autoscale signals suppressed by the per-tier rate limit",
			},
			[]string{"tier"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.BackendRequestsTotal,
			m.BackendRequestDuration,
			m.CircuitBreakerState,
			m.CircuitBreakerTripsTotal,
			m.AllocationAttemptsTotal,
			m.AllocationDuration,
			m.InstancesAtCapacity,
			m.TierUtilizationPercent,
			m.TierTotalDatabases,
			m.RoutingCacheHitsTotal,
			m.RoutingLookupDuration,
			m.CreditConsumeAttemptsTotal,
			m.CreditCASRetriesTotal,
			m.AutoscaleSignalsEmittedTotal,
			m.AutoscaleSignalsSuppressedTotal,
		)
	}

	return m
}

// RecordBackendRequest records a backend HTTP call's outcome and latency.
func (m *Metrics) RecordBackendRequest(operation, status string, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(operation, status).Inc()
	m.BackendRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAllocation records an allocation attempt's outcome and latency.
func (m *Metrics) RecordAllocation(tier, outcome string, duration time.Duration) {
	m.AllocationAttemptsTotal.WithLabelValues(tier, outcome).Inc()
	m.AllocationDuration.Observe(duration.Seconds())
}

// RecordRoutingLookup records whether a routing lookup hit cache and how
// long resolution took.
func (m *Metrics) RecordRoutingLookup(hit bool, duration time.Duration) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.RoutingCacheHitsTotal.WithLabelValues(result).Inc()
	m.RoutingLookupDuration.Observe(duration.Seconds())
}

// RecordCreditConsume records a credit pool consume attempt's outcome.
func (m *Metrics) RecordCreditConsume(outcome string) {
	m.CreditConsumeAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordCreditCASRetry records a single optimistic-lock retry on a credit
// pool balance update.
func (m *Metrics) RecordCreditCASRetry() {
	m.CreditCASRetriesTotal.Inc()
}

// RecordAutoscaleSignal records whether an autoscale signal for tier was
// emitted or suppressed by the rate limiter.
func (m *Metrics) RecordAutoscaleSignal(tier string, emitted bool) {
	if emitted {
		m.AutoscaleSignalsEmittedTotal.WithLabelValues(tier).Inc()
	} else {
		m.AutoscaleSignalsSuppressedTotal.WithLabelValues(tier).Inc()
	}
}

// SetCircuitBreakerState records the current numeric state of a backend
// instance's circuit breaker.
func (m *Metrics) SetCircuitBreakerState(instanceID string, state float64) {
	m.CircuitBreakerState.WithLabelValues(instanceID).Set(state)
}

// RecordCircuitBreakerTrip records a transition into the open state for a
// backend instance.
func (m *Metrics) RecordCircuitBreakerTrip(instanceID string) {
	m.CircuitBreakerTripsTotal.WithLabelValues(instanceID).Inc()
}

// SetInstancesAtCapacity updates the gauge of instances currently at their
// max database count.
func (m *Metrics) SetInstancesAtCapacity(count int) {
	m.InstancesAtCapacity.Set(float64(count))
}

// SetTierUtilization records the percent of tier's total database capacity
// currently in use.
func (m *Metrics) SetTierUtilization(tier string, percent float64) {
	m.TierUtilizationPercent.WithLabelValues(tier).Set(percent)
}

// SetTierTotalDatabases records the total databases currently placed on
// tier's instances.
func (m *Metrics) SetTierTotalDatabases(tier string, total int) {
	m.TierTotalDatabases.WithLabelValues(tier).Set(float64(total))
}

var (
	global   *Metrics
	globalMu sync.Mutex
)

// Init initializes (once) and returns the global Metrics instance,
// registered against the default Prometheus registry.
func Init() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(prometheus.DefaultRegisterer)
	}
	return global
}

// Global returns the global Metrics instance, initializing it with a nil
// registerer (no-op registration) if Init has not yet been called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(nil)
	}
	return global
}
