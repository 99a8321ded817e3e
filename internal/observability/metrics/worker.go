package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/file-organiser/internal/core/domain"
)

const namespace = "organizer"

// PipelineMetrics implements ports.PipelineObserver and owns the registry
// served on /metrics.
type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	itemTotal          *prometheus.CounterVec
	itemDuration       *prometheus.HistogramVec
	itemInFlight       prometheus.Gauge
	fallbackTotal      *prometheus.CounterVec
	tickDuration       *prometheus.HistogramVec
	tickTenants        prometheus.Gauge
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	itemTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "items_total",
			Help:      "Total processed queue items by outcome.",
		},
		[]string{"service", "outcome"},
	)
	itemDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "item_duration_seconds",
			Help:      "Queue item processing duration in seconds by outcome.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "outcome"},
	)
	itemInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "items_in_flight",
			Help:      "Number of queue items being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	fallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "normalization_fallback_total",
			Help:      "Completion responses stored as raw text.",
		},
		[]string{"service"},
	)
	tickDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one pass over all tenants.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"service"},
	)
	tickTenants := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tenants",
			Help:      "Tenants seen by the last tick.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"service", "operation"},
	)
	breakerTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		},
		[]string{"service", "operation", "from", "to"},
	)

	registry.MustRegister(
		itemTotal,
		itemDuration,
		itemInFlight,
		fallbackTotal,
		tickDuration,
		tickTenants,
		breakerState,
		breakerTransitions,
	)

	return &PipelineMetrics{
		registry:           registry,
		service:            service,
		itemTotal:          itemTotal,
		itemDuration:       itemDuration,
		itemInFlight:       itemInFlight,
		fallbackTotal:      fallbackTotal,
		tickDuration:       tickDuration,
		tickTenants:        tickTenants,
		breakerState:       breakerState,
		breakerTransitions: breakerTransitions,
	}
}

func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PipelineMetrics) ItemStarted() {
	m.itemInFlight.Inc()
}

func (m *PipelineMetrics) ItemFinished(outcome domain.ItemOutcome, duration time.Duration) {
	m.itemInFlight.Dec()
	m.itemTotal.WithLabelValues(m.service, string(outcome)).Inc()
	m.itemDuration.WithLabelValues(m.service, string(outcome)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) NormalizationFallback(count int) {
	if count <= 0 {
		return
	}
	m.fallbackTotal.WithLabelValues(m.service).Add(float64(count))
}

func (m *PipelineMetrics) TickFinished(tenants int, duration time.Duration) {
	m.tickTenants.Set(float64(tenants))
	m.tickDuration.WithLabelValues(m.service).Observe(duration.Seconds())
}

// BreakerStateChanged matches resilience.StateChangeFunc.
func (m *PipelineMetrics) BreakerStateChanged(operation string, from, to gobreaker.State) {
	m.breakerState.WithLabelValues(m.service, operation).Set(breakerStateValue(to))
	m.breakerTransitions.WithLabelValues(m.service, operation, from.String(), to.String()).Inc()
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
