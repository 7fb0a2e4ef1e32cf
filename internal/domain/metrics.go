package domain

import "time"

// RouteStatus labels the outcome of a routed request.
type RouteStatus string

const (
	RouteStatusSuccess RouteStatus = "success"
	RouteStatusError   RouteStatus = "error"
)

// RouteMetric captures one routed tool invocation.
type RouteMetric struct {
	Tool     string
	Venue    string
	Status   RouteStatus
	Code     ErrorCode
	Duration time.Duration
}

// CacheOutcome labels a cache lookup.
type CacheOutcome string

const (
	CacheHit  CacheOutcome = "hit"
	CacheMiss CacheOutcome = "miss"
)

// Metrics records operational metrics for routing, caching, and provider
// connectivity.
type Metrics interface {
	ObserveRoute(metric RouteMetric)
	ObserveCacheLookup(category string, outcome CacheOutcome)
	ObserveProviderInvocation(provider string, tool string, duration time.Duration, err error)
	SetProviderHealth(provider string, healthy bool)
	SetProviderConnections(provider string, count int)
}
