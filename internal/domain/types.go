package domain

import "time"

// ProviderSpec describes one configured upstream venue. Immutable after load.
type ProviderSpec struct {
	Name      string
	Address   string
	Enabled   bool
	PoolSize  int
	RateLimit *RateLimitSpec
}

// RateLimitSpec bounds the request rate against one provider.
type RateLimitSpec struct {
	RequestsPerSecond float64
	BurstSize         int
}

// ToolDescriptor is a capability advertised by a provider: name, human
// description, and the JSON schema of its input. InputSchema stays loosely
// typed; only the adapter boundary ever inspects it.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// UnifiedToolDescriptor maps a client-facing tool name to a provider tool
// name template parameterized by venue. Built once at router construction.
type UnifiedToolDescriptor struct {
	Name            string
	ProviderPattern string
	AvailableVenues []string
}

// RoutingInfo is attached to every successful route result.
type RoutingInfo struct {
	UnifiedTool  string  `json:"unified_tool"`
	ProviderTool string  `json:"provider_tool"`
	Venue        string  `json:"venue"`
	LatencyMs    float64 `json:"latency_ms"`
}

// RouteResult carries the provider payload plus routing metadata.
type RouteResult struct {
	Result      any         `json:"result"`
	RoutingInfo RoutingInfo `json:"routing_info"`
}

// HealthStatus reports the observed health of one provider connection pool.
// Health is informational only: the router never refuses an unhealthy
// provider, it just logs a warning and attempts the call.
type HealthStatus struct {
	Provider            string    `json:"provider"`
	Address             string    `json:"address"`
	Healthy             bool      `json:"healthy"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Connections         int       `json:"connections"`
}
