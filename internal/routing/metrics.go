package routing

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codecontext"

// Metrics holds the Prometheus collectors for provider routing. Each instance
// owns its registry so that several routers can coexist in one process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests           *prometheus.CounterVec
	latency            *prometheus.HistogramVec
	units              *prometheus.CounterVec
	cost               *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	health             *prometheus.GaugeVec
	exhausted          *prometheus.CounterVec
	costDropped        prometheus.Counter
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Provider calls by provider, operation and outcome.",
			},
			[]string{"provider", "operation", "status"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Provider call latency including retries.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2.5, 10), // 5ms to ~19s
			},
			[]string{"provider", "operation"},
		),
		units: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_units_total",
				Help:      "Billable units consumed per provider.",
			},
			[]string{"provider"},
		),
		cost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_cost_total",
				Help:      "Accumulated provider cost.",
			},
			[]string{"provider"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Breaker state per provider (0=closed, 1=open, 2=half-open).",
			},
			[]string{"provider"},
		),
		breakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Breaker state transitions.",
			},
			[]string{"provider", "from", "to"},
		),
		health: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_health",
				Help:      "Health per provider (0=unknown, 1=healthy, 2=degraded, 3=unhealthy).",
			},
			[]string{"provider"},
		),
		exhausted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "providers_exhausted_total",
				Help:      "Routed operations that found no working provider.",
			},
			[]string{"capability"},
		),
		costDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cost_records_dropped_total",
				Help:      "Cost records not delivered because the consumer was full.",
			},
		),
	}
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeCall(providerID, operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(providerID, operation, status).Inc()
	m.latency.WithLabelValues(providerID, operation).Observe(d.Seconds())
}

func (m *Metrics) observeCost(rec CostRecord) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(rec.ProviderID).Add(float64(rec.Units))
	m.cost.WithLabelValues(rec.ProviderID).Add(rec.Cost)
}

func (m *Metrics) observeTransition(providerID string, from, to BreakerStatus) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(providerID, from.String(), to.String()).Inc()
	m.breakerState.WithLabelValues(providerID).Set(float64(to))
}

// ObserveHealth records a probe outcome; usable as a HealthObserver.
func (m *Metrics) ObserveHealth(status HealthStatus) {
	if m == nil {
		return
	}
	m.health.WithLabelValues(status.ProviderID).Set(float64(status.Status))
}

func (m *Metrics) observeExhausted(capability string) {
	if m == nil {
		return
	}
	m.exhausted.WithLabelValues(capability).Inc()
}

func (m *Metrics) observeCostDropped() {
	if m == nil {
		return
	}
	m.costDropped.Inc()
}
