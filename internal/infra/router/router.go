package router

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"mdgw/internal/domain"
	"mdgw/internal/infra/telemetry"
)

// ProviderInvoker is the slice of a provider client the router dispatches to.
type ProviderInvoker interface {
	Name() string
	Invoke(ctx context.Context, tool string, args map[string]any, correlationID string) (any, error)
	Healthy() bool
}

// unifiedTools is the static mapping from client-facing tool names to
// provider tool name templates. The {venue} placeholder is filled with the
// resolved provider identifier, which doubles as the tool prefix on the
// provider side.
var unifiedTools = []domain.UnifiedToolDescriptor{
	{Name: "market.get_ticker", ProviderPattern: "{venue}.get_ticker"},
	{Name: "market.get_orderbook_l1", ProviderPattern: "{venue}.orderbook_l1"},
	{Name: "market.get_orderbook_l2", ProviderPattern: "{venue}.orderbook_l2"},
	{Name: "market.get_klines", ProviderPattern: "{venue}.get_klines"},
	{Name: "market.get_trades", ProviderPattern: "{venue}.get_recent_trades"},
	{Name: "market.get_volume_profile", ProviderPattern: "{venue}.get_volume_profile"},
	{Name: "market.get_orderbook_health", ProviderPattern: "{venue}.orderbook_health"},
	{Name: "market.detect_liquidity_vacuums", ProviderPattern: "{venue}.detect_liquidity_vacuums"},
	{Name: "market.detect_anomalies", ProviderPattern: "{venue}.detect_market_anomalies"},
	{Name: "market.get_microstructure_health", ProviderPattern: "{venue}.get_microstructure_health"},
}

// Router resolves unified tool invocations to exactly one provider call.
// Stateless after construction; safe for concurrent use.
type Router struct {
	logger  *zap.Logger
	metrics domain.Metrics
	venues  *domain.VenueMap
	clients map[string]ProviderInvoker
	table   map[string]domain.UnifiedToolDescriptor
}

type Options struct {
	Logger  *zap.Logger
	Metrics domain.Metrics
}

// New builds a router over the given venue map and provider clients,
// keyed by provider identifier.
func New(venues *domain.VenueMap, clients map[string]ProviderInvoker, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}

	table := make(map[string]domain.UnifiedToolDescriptor, len(unifiedTools))
	for _, descriptor := range unifiedTools {
		descriptor.AvailableVenues = venues.PublicVenues()
		table[descriptor.Name] = descriptor
	}

	return &Router{
		logger:  logger.Named("router"),
		metrics: metrics,
		venues:  venues,
		clients: clients,
		table:   table,
	}
}

// Route resolves and executes one unified tool call. Validation failures
// (unknown venue, missing provider, unsupported tool) never reach the
// network; only an actual invocation failure is wrapped as
// PROVIDER_INVOCATION_FAILED.
func (r *Router) Route(ctx context.Context, unifiedTool string, args map[string]any, correlationID string, timeout time.Duration) (*domain.RouteResult, error) {
	const op = "router.route"
	start := time.Now()

	venue := r.venues.DefaultVenue()
	if v, ok := args["venue"]; ok {
		name, ok := v.(string)
		if !ok || name == "" {
			return nil, domain.E(domain.CodeInvalidArgument, op, "venue must be a non-empty string", nil)
		}
		venue = name
	}

	providerID, err := r.venues.Resolve(venue)
	if err != nil {
		return nil, err
	}

	client, ok := r.clients[providerID]
	if !ok {
		return nil, domain.E(domain.CodeProviderNotConfigured, op,
			"no live client for provider "+providerID, nil).
			WithMeta("venue", venue).
			WithMeta("provider", providerID)
	}

	descriptor, ok := r.table[unifiedTool]
	if !ok {
		return nil, domain.E(domain.CodeUnsupportedTool, op,
			"unsupported unified tool "+unifiedTool+", supported: "+strings.Join(r.SupportedTools(), ", "), nil).
			WithMeta("tool", unifiedTool)
	}
	providerTool := strings.Replace(descriptor.ProviderPattern, "{venue}", providerID, 1)

	providerArgs := rewriteArguments(args)

	if !client.Healthy() {
		// Fail open: health state is informational, not a circuit breaker.
		r.logger.Warn("provider marked unhealthy, attempting request anyway",
			telemetry.ProviderField(providerID),
			telemetry.VenueField(venue),
			telemetry.ToolField(unifiedTool),
		)
	}

	invokeCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	raw, err := client.Invoke(invokeCtx, providerTool, providerArgs, correlationID)
	latency := time.Since(start)
	latencyMs := float64(latency.Microseconds()) / 1000.0

	if err != nil {
		r.metrics.ObserveRoute(domain.RouteMetric{
			Tool:     unifiedTool,
			Venue:    venue,
			Status:   domain.RouteStatusError,
			Code:     domain.CodeProviderInvocationError,
			Duration: latency,
		})
		r.logger.Error("route failed",
			telemetry.EventField(telemetry.EventRouteError),
			telemetry.ToolField(unifiedTool),
			telemetry.VenueField(venue),
			telemetry.DurationField(latency),
			telemetry.CorrelationIDField(correlationID),
			zap.Error(err),
		)
		return nil, domain.E(domain.CodeProviderInvocationError, op,
			"provider "+providerID+" failed to execute "+providerTool, err).
			WithMeta("venue", venue).
			WithMeta("provider_tool", providerTool)
	}

	// Map-shaped results get the timing and venue folded in directly;
	// routing_info rides alongside for every shape.
	if payload, ok := raw.(map[string]any); ok {
		payload["latency_ms"] = latencyMs
		payload["venue"] = venue
	}

	result := &domain.RouteResult{
		Result: raw,
		RoutingInfo: domain.RoutingInfo{
			UnifiedTool:  unifiedTool,
			ProviderTool: providerTool,
			Venue:        venue,
			LatencyMs:    latencyMs,
		},
	}

	r.metrics.ObserveRoute(domain.RouteMetric{
		Tool:     unifiedTool,
		Venue:    venue,
		Status:   domain.RouteStatusSuccess,
		Duration: latency,
	})
	r.logger.Info("routed",
		telemetry.EventField(telemetry.EventRouteSuccess),
		telemetry.ToolField(unifiedTool),
		telemetry.VenueField(venue),
		telemetry.DurationField(latency),
		telemetry.CorrelationIDField(correlationID),
	)
	return result, nil
}

// rewriteArguments copies args minus the venue key, renaming the
// cross-venue instrument key to the provider-native symbol key.
func rewriteArguments(args map[string]any) map[string]any {
	rewritten := make(map[string]any, len(args))
	for key, value := range args {
		if key == "venue" {
			continue
		}
		if key == "instrument" {
			rewritten["symbol"] = value
			continue
		}
		rewritten[key] = value
	}
	return rewritten
}

// SupportedTools lists every unified tool name, sorted.
func (r *Router) SupportedTools() []string {
	names := make([]string, 0, len(r.table))
	for name := range r.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AvailableVenues lists the public venues whose provider is currently
// healthy and supports the given unified tool. Unknown tools yield nil.
func (r *Router) AvailableVenues(unifiedTool string) []string {
	if _, ok := r.table[unifiedTool]; !ok {
		return nil
	}
	var venues []string
	for _, public := range r.venues.PublicVenues() {
		providerID, err := r.venues.Resolve(public)
		if err != nil {
			continue
		}
		client, ok := r.clients[providerID]
		if !ok || !client.Healthy() {
			continue
		}
		venues = append(venues, public)
	}
	return venues
}

// ToolMetadata returns the static descriptor for a unified tool name, or
// nil when unknown.
func (r *Router) ToolMetadata(unifiedTool string) *domain.UnifiedToolDescriptor {
	descriptor, ok := r.table[unifiedTool]
	if !ok {
		return nil
	}
	return &descriptor
}
