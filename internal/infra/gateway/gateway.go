// Package gateway wires the routing pipeline together: tool declarations,
// schema validation, caching, rate limiting, capability discovery, and
// health tracking, in front of the venue router and response normalizer.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mdgw/internal/domain"
	"mdgw/internal/infra/cache"
	"mdgw/internal/infra/config"
	"mdgw/internal/infra/normalize"
	"mdgw/internal/infra/providerclient"
	"mdgw/internal/infra/ratelimit"
	"mdgw/internal/infra/registry"
	"mdgw/internal/infra/router"
	"mdgw/internal/infra/telemetry"
)

// ProviderClient is the upstream connection the gateway manages. Satisfied by
// providerclient.Client; tests substitute fakes.
type ProviderClient interface {
	Name() string
	Connect(ctx context.Context) error
	Invoke(ctx context.Context, tool string, args map[string]any, correlationID string) (any, error)
	ListTools(ctx context.Context) ([]domain.ToolDescriptor, error)
	HealthCheck(ctx context.Context) domain.HealthStatus
	Status() domain.HealthStatus
	Healthy() bool
	Close() error
}

type Gateway struct {
	logger  *zap.Logger
	metrics domain.Metrics
	cfg     config.GatewayConfig

	venues     *domain.VenueMap
	clients    map[string]ProviderClient
	router     *router.Router
	normalizer *normalize.Normalizer
	cache      *cache.Cache
	limiter    *ratelimit.Limiter
	registry   *registry.Registry
	store      *registry.Store
	health     *telemetry.HealthTracker

	declarations []toolDeclaration
	declIndex    map[string]toolDeclaration
	schemas      map[string]*jsonschema.Resolved

	newID func() string

	prevHealthy map[string]bool
}

type Options struct {
	Logger  *zap.Logger
	Metrics domain.Metrics

	// Clients overrides the provider connections built from config. Keys are
	// provider IDs.
	Clients map[string]ProviderClient

	// NewID overrides correlation ID generation, for tests.
	NewID func() string
}

func New(cfg config.GatewayConfig, opts Options) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("gateway")

	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}

	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	venues := domain.NewVenueMap(cfg.Venues, cfg.DefaultVenue)
	enabled := cfg.EnabledProviders()

	clients := opts.Clients
	if clients == nil {
		clients = make(map[string]ProviderClient, len(enabled))
		for _, spec := range enabled {
			clients[spec.Name] = providerclient.New(spec, providerclient.Options{
				Logger:  logger,
				Metrics: metrics,
			})
		}
	}

	invokers := make(map[string]router.ProviderInvoker, len(clients))
	for name, client := range clients {
		invokers[name] = client
	}

	var store *registry.Store
	if cfg.RegistryPath != "" {
		opened, err := registry.OpenStore(cfg.RegistryPath)
		if err != nil {
			return nil, fmt.Errorf("open capability store: %w", err)
		}
		store = opened
	}

	declarations := unifiedToolDeclarations(venues.PublicVenues(), venues.DefaultVenue())
	declIndex := make(map[string]toolDeclaration, len(declarations))
	schemas := make(map[string]*jsonschema.Resolved, len(declarations))
	for _, decl := range declarations {
		declIndex[decl.Name] = decl
		resolved, err := compileSchema(decl.Schema)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", decl.Name, err)
		}
		schemas[decl.Name] = resolved
	}

	g := &Gateway{
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
		venues:  venues,
		clients: clients,
		router: router.New(venues, invokers, router.Options{
			Logger:  logger,
			Metrics: metrics,
		}),
		normalizer: normalize.New(normalize.Options{Logger: logger}),
		cache: cache.New(cache.Options{
			DefaultTTL: secondsToDuration(cfg.Cache.DefaultTTLSeconds),
			Categories: cacheCategories(cfg.Cache.CategoryTTLSeconds),
			Logger:     logger,
		}),
		limiter: ratelimit.NewLimiter(enabled),
		registry: registry.New(registry.Options{
			Logger: logger,
			Store:  store,
		}),
		store:        store,
		health:       telemetry.NewHealthTracker(),
		declarations: declarations,
		declIndex:    declIndex,
		schemas:      schemas,
		newID:        newID,
		prevHealthy:  make(map[string]bool, len(clients)),
	}
	return g, nil
}

func compileSchema(raw map[string]any) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}
	return schema.Resolve(nil)
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func cacheCategories(ttls []config.CategoryTTL) []cache.CategoryTTL {
	categories := make([]cache.CategoryTTL, 0, len(ttls))
	for _, ttl := range ttls {
		categories = append(categories, cache.CategoryTTL{
			Category: ttl.Category,
			TTL:      secondsToDuration(ttl.TTLSeconds),
		})
	}
	return categories
}

// Start connects the provider pools, restores and refreshes the capability
// catalog, and launches the health-check and cache-sweep loops. Connection
// failures are logged, not fatal: an unreachable provider stays registered
// and is retried by the health loop.
func (g *Gateway) Start(ctx context.Context) error {
	for name, client := range g.clients {
		if err := client.Connect(ctx); err != nil {
			g.logger.Warn("provider connect failed",
				telemetry.EventField(telemetry.EventProviderUnhealthy),
				telemetry.ProviderField(name),
				zap.Error(err))
		}
		g.recordHealth(client.Status())
	}

	if err := g.registry.Restore(); err != nil {
		g.logger.Warn("capability restore failed", zap.Error(err))
	}
	g.registry.Discover(ctx, g.capabilitySources())

	go g.runHealthLoop(ctx)
	go g.runSweepLoop(ctx)
	return nil
}

func (g *Gateway) capabilitySources() []registry.CapabilitySource {
	sources := make([]registry.CapabilitySource, 0, len(g.clients))
	for _, client := range g.clients {
		sources = append(sources, client)
	}
	return sources
}

func (g *Gateway) runHealthLoop(ctx context.Context) {
	interval := time.Duration(g.cfg.HealthCheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = domain.DefaultHealthCheckIntervalSecs * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.checkProviders(ctx)
		}
	}
}

func (g *Gateway) checkProviders(ctx context.Context) {
	for _, client := range g.clients {
		g.recordHealth(client.HealthCheck(ctx))
	}
}

func (g *Gateway) recordHealth(status domain.HealthStatus) {
	g.health.SetProvider(status)
	g.metrics.SetProviderHealth(status.Provider, status.Healthy)
	g.metrics.SetProviderConnections(status.Provider, status.Connections)

	prev, seen := g.prevHealthy[status.Provider]
	g.prevHealthy[status.Provider] = status.Healthy
	switch {
	case status.Healthy && seen && !prev:
		g.logger.Info("provider recovered",
			telemetry.EventField(telemetry.EventProviderRecovered),
			telemetry.ProviderField(status.Provider))
	case !status.Healthy && (!seen || prev):
		g.logger.Warn("provider unhealthy",
			telemetry.EventField(telemetry.EventProviderUnhealthy),
			telemetry.ProviderField(status.Provider),
			zap.Int("consecutive_failures", status.ConsecutiveFailures))
	}
}

func (g *Gateway) runSweepLoop(ctx context.Context) {
	interval := time.Duration(g.cfg.CacheSweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = domain.DefaultCacheSweepSeconds * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := g.cache.CleanupExpired()
			if removed > 0 {
				g.logger.Debug("cache sweep",
					telemetry.EventField(telemetry.EventCacheSweep),
					zap.Int("removed", removed))
			}
		}
	}
}

// Rediscover refreshes the capability catalog from every connected provider.
// Called on config file changes and safe to run while serving.
func (g *Gateway) Rediscover(ctx context.Context) {
	g.registry.Discover(ctx, g.capabilitySources())
}

// Invoke executes one tool call end to end: validation, cache lookup, rate
// limiting, routing, and normalization. correlationID may be empty; a fresh
// one is generated so every log line of the call can be tied together.
func (g *Gateway) Invoke(ctx context.Context, name string, args map[string]any, correlationID string) (map[string]any, error) {
	const op = "gateway.invoke"
	if correlationID == "" {
		correlationID = g.newID()
	}
	if args == nil {
		args = map[string]any{}
	}

	decl, unified := g.declIndex[name]
	if !unified {
		return g.invokeProviderTool(ctx, name, args, correlationID)
	}

	// Resolve the venue before schema validation so an unconfigured venue is
	// reported as UNKNOWN_VENUE rather than a generic enum violation.
	if raw, ok := args["venue"]; ok {
		if v, ok := raw.(string); ok && v != "" {
			if _, err := g.venues.Resolve(v); err != nil {
				return nil, err
			}
		}
	}

	if err := g.validateArguments(decl, args); err != nil {
		return nil, err
	}

	key, category, providerID, cacheable := g.cacheKey(name, args)
	if cacheable {
		if cached, ok := g.cache.Get(key); ok {
			g.metrics.ObserveCacheLookup(category, domain.CacheHit)
			g.logger.Debug("cache hit",
				telemetry.EventField(telemetry.EventCacheHit),
				telemetry.ToolField(name),
				telemetry.CacheKeyField(key),
				telemetry.CorrelationIDField(correlationID))
			if response, ok := cached.(map[string]any); ok {
				return response, nil
			}
		}
		g.metrics.ObserveCacheLookup(category, domain.CacheMiss)
		g.logger.Debug("cache miss",
			telemetry.EventField(telemetry.EventCacheMiss),
			telemetry.ToolField(name),
			telemetry.CacheKeyField(key),
			telemetry.CorrelationIDField(correlationID))
	}

	if providerID != "" {
		if err := g.limiter.Wait(ctx, providerID); err != nil {
			return nil, domain.Wrap(domain.CodeUnavailable, op, err)
		}
	}

	result, err := g.router.Route(ctx, name, args, correlationID, g.timeoutFor(name))
	if err != nil {
		return nil, err
	}

	dataType := dataTypeForTool[name]
	normalized, err := g.normalizer.Normalize(result.RoutingInfo.Venue, dataType, result.Result, map[string]any{
		"latency_ms": result.RoutingInfo.LatencyMs,
	})
	if err != nil {
		g.logger.Error("normalization failed",
			telemetry.EventField(telemetry.EventNormalizeError),
			telemetry.ToolField(name),
			telemetry.VenueField(result.RoutingInfo.Venue),
			telemetry.DataTypeField(string(dataType)),
			telemetry.CorrelationIDField(correlationID),
			zap.Error(err))
		return nil, err
	}

	response := map[string]any{
		"result":       normalized,
		"routing_info": result.RoutingInfo,
	}
	if cacheable {
		g.cache.Set(key, response)
	}
	return response, nil
}

// invokeProviderTool handles calls that bypass the unified interface. They
// are rejected unless provider tools are explicitly exposed and the name
// matches a configured glob pattern.
func (g *Gateway) invokeProviderTool(ctx context.Context, name string, args map[string]any, correlationID string) (map[string]any, error) {
	const op = "gateway.invoke"
	if g.cfg.ExposeUnifiedOnly || !g.providerToolExposed(name) {
		err := domain.E(domain.CodeUnsupportedTool, op,
			fmt.Sprintf("tool %q is not exposed; use the unified market.* interface", name), nil)
		if alt := unifiedAlternative(name); alt != "" {
			err = err.WithMeta("unified_alternative", alt)
		}
		return nil, err.WithMeta("available_venues", strings.Join(g.venues.PublicVenues(), ","))
	}

	providerID, _, found := strings.Cut(name, ".")
	if !found {
		return nil, domain.E(domain.CodeUnsupportedTool, op,
			fmt.Sprintf("tool %q does not name a provider", name), nil)
	}
	client, ok := g.clients[providerID]
	if !ok {
		return nil, domain.E(domain.CodeProviderNotConfigured, op,
			fmt.Sprintf("no provider %q configured", providerID), nil)
	}
	if !g.registry.HasTool(providerID, name) {
		return nil, domain.E(domain.CodeUnsupportedTool, op,
			fmt.Sprintf("provider %q does not advertise tool %q", providerID, name), nil)
	}

	if err := g.limiter.Wait(ctx, providerID); err != nil {
		return nil, domain.Wrap(domain.CodeUnavailable, op, err)
	}
	raw, err := client.Invoke(ctx, name, args, correlationID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": raw}, nil
}

func (g *Gateway) providerToolExposed(name string) bool {
	for _, pattern := range g.cfg.ExposeProviderTools {
		if matched, err := path.Match(pattern, name); err == nil && matched {
			return true
		}
	}
	return false
}

func (g *Gateway) validateArguments(decl toolDeclaration, args map[string]any) error {
	resolved, ok := g.schemas[decl.Name]
	if !ok {
		return nil
	}
	if err := resolved.Validate(args); err != nil {
		return domain.E(domain.CodeInvalidArgument, "gateway.invoke", err.Error(), err).
			WithMeta("tool", decl.Name)
	}
	return nil
}

// cacheKey derives `<provider-tool>:<symbol>` so the cache's category TTLs
// match on the provider tool name. Calls without an instrument, or with a
// venue that does not resolve, are not cached.
func (g *Gateway) cacheKey(name string, args map[string]any) (key, category, providerID string, cacheable bool) {
	venue := g.venues.DefaultVenue()
	if raw, ok := args["venue"]; ok {
		v, ok := raw.(string)
		if !ok || v == "" {
			return "", "", "", false
		}
		venue = v
	}
	providerID, err := g.venues.Resolve(venue)
	if err != nil {
		return "", "", "", false
	}
	descriptor := g.router.ToolMetadata(name)
	if descriptor == nil {
		return "", "", providerID, false
	}
	symbol, _ := args["instrument"].(string)
	if symbol == "" {
		return "", "", providerID, false
	}
	providerTool := strings.ReplaceAll(descriptor.ProviderPattern, "{venue}", providerID)
	return providerTool + ":" + symbol, string(dataTypeForTool[name]), providerID, true
}

// timeoutFor picks the per-category route deadline, falling back to the
// configured route timeout and then the built-in default.
func (g *Gateway) timeoutFor(name string) time.Duration {
	seconds := g.cfg.Timeouts.MarketDataSeconds
	if analyticsTools[name] {
		seconds = g.cfg.Timeouts.AnalyticsSeconds
	}
	if seconds <= 0 {
		seconds = g.cfg.Timeouts.RouteSeconds
	}
	if seconds <= 0 {
		seconds = domain.DefaultRouteTimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

// Tools lists the unified tool declarations exposed to clients.
func (g *Gateway) Tools() []toolDeclaration {
	out := make([]toolDeclaration, len(g.declarations))
	copy(out, g.declarations)
	return out
}

// HealthReport snapshots provider health for the observability endpoint.
func (g *Gateway) HealthReport() telemetry.HealthReport {
	return g.health.Report()
}

// HealthTracker exposes the tracker so the observability HTTP server can
// serve /healthz from the same state.
func (g *Gateway) HealthTracker() *telemetry.HealthTracker {
	return g.health
}

// CacheStats reports current cache occupancy.
func (g *Gateway) CacheStats() cache.Stats {
	return g.cache.Stats()
}

func (g *Gateway) Close() error {
	var firstErr error
	for name, client := range g.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close provider %s: %w", name, err)
		}
	}
	if g.store != nil {
		if err := g.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close capability store: %w", err)
		}
	}
	return firstErr
}
