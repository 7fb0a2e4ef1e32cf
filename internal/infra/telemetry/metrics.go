package telemetry

import (
	"time"

	"mdgw/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveRoute(_ domain.RouteMetric) {}

func (n *NoopMetrics) ObserveCacheLookup(_ string, _ domain.CacheOutcome) {}

func (n *NoopMetrics) ObserveProviderInvocation(_ string, _ string, _ time.Duration, _ error) {}

func (n *NoopMetrics) SetProviderHealth(_ string, _ bool) {}

func (n *NoopMetrics) SetProviderConnections(_ string, _ int) {}

var _ domain.Metrics = (*NoopMetrics)(nil)
