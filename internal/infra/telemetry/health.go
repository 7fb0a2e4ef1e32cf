package telemetry

import (
	"sort"
	"sync"

	"mdgw/internal/domain"
)

// HealthReport is the payload served on /healthz.
type HealthReport struct {
	Status    string                `json:"status"`
	Providers []domain.HealthStatus `json:"providers,omitempty"`
}

// HealthTracker aggregates the last known health of each provider.
type HealthTracker struct {
	mu        sync.Mutex
	providers map[string]domain.HealthStatus
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{providers: make(map[string]domain.HealthStatus)}
}

func (t *HealthTracker) SetProvider(status domain.HealthStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.providers[status.Provider] = status
}

// Report returns "ok" while every tracked provider is healthy and
// "degraded" otherwise. The gateway stays up either way: routing fails
// open on unhealthy providers.
func (t *HealthTracker) Report() HealthReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := HealthReport{Status: "ok"}
	names := make([]string, 0, len(t.providers))
	for name := range t.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		status := t.providers[name]
		if !status.Healthy {
			report.Status = "degraded"
		}
		report.Providers = append(report.Providers, status)
	}
	return report
}
