package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mdgw/internal/domain"
)

type PrometheusMetrics struct {
	routeDuration       *prometheus.HistogramVec
	cacheLookups        *prometheus.CounterVec
	providerInvocations *prometheus.CounterVec
	providerLatency     *prometheus.HistogramVec
	providerHealth      *prometheus.GaugeVec
	providerConnections *prometheus.GaugeVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		routeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mdgw_route_duration_seconds",
				Help:    "Duration of routed tool invocations in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"tool", "venue", "status"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mdgw_cache_lookups_total",
				Help: "Total number of response cache lookups",
			},
			[]string{"category", "outcome"},
		),
		providerInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mdgw_provider_invocations_total",
				Help: "Total number of downstream provider calls",
			},
			[]string{"provider", "tool", "status"},
		),
		providerLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mdgw_provider_latency_seconds",
				Help:    "Latency of downstream provider calls in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),
		providerHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mdgw_provider_healthy",
				Help: "Whether a provider passed its last health check (1 healthy, 0 unhealthy)",
			},
			[]string{"provider"},
		),
		providerConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mdgw_provider_connections",
				Help: "Current number of open sessions per provider",
			},
			[]string{"provider"},
		),
	}
}

func (p *PrometheusMetrics) ObserveRoute(metric domain.RouteMetric) {
	p.routeDuration.
		WithLabelValues(metric.Tool, metric.Venue, string(metric.Status)).
		Observe(metric.Duration.Seconds())
}

func (p *PrometheusMetrics) ObserveCacheLookup(category string, outcome domain.CacheOutcome) {
	p.cacheLookups.WithLabelValues(category, string(outcome)).Inc()
}

func (p *PrometheusMetrics) ObserveProviderInvocation(provider string, tool string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.providerInvocations.WithLabelValues(provider, tool, status).Inc()
	p.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) SetProviderHealth(provider string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	p.providerHealth.WithLabelValues(provider).Set(value)
}

func (p *PrometheusMetrics) SetProviderConnections(provider string, count int) {
	p.providerConnections.WithLabelValues(provider).Set(float64(count))
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
