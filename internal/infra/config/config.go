package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"mdgw/internal/domain"
)

// GatewayConfig is the fully normalized runtime configuration.
type GatewayConfig struct {
	Providers    []domain.ProviderSpec
	Venues       map[string]string
	DefaultVenue string

	// ExposeUnifiedOnly hides raw provider tools from clients. When false,
	// ExposeProviderTools glob patterns whitelist individual provider tools.
	ExposeUnifiedOnly   bool
	ExposeProviderTools []string

	Cache         CacheConfig
	Timeouts      TimeoutConfig
	Observability ObservabilityConfig

	HealthCheckIntervalSeconds int
	CacheSweepIntervalSeconds  int
	RegistryPath               string
}

// CacheConfig holds TTLs in seconds; fractional values are meaningful
// (orderbook freshness is sub-second).
type CacheConfig struct {
	DefaultTTLSeconds float64
	// CategoryTTLSeconds maps a key substring to its TTL. First match wins
	// in the order listed here.
	CategoryTTLSeconds []CategoryTTL
}

type CategoryTTL struct {
	Category   string
	TTLSeconds float64
}

type TimeoutConfig struct {
	RouteSeconds      int
	MarketDataSeconds int
	AnalyticsSeconds  int
}

type ObservabilityConfig struct {
	ListenAddress string
	EnableMetrics bool
	EnableHealthz bool
}

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("config")}
}

func newGatewayViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("defaultVenue", domain.DefaultVenue)
	v.SetDefault("exposeUnifiedOnly", true)
	v.SetDefault("cache.defaultTTLSeconds", float64(domain.DefaultCacheTTLSeconds))
	v.SetDefault("timeouts.routeSeconds", domain.DefaultRouteTimeoutSeconds)
	v.SetDefault("timeouts.marketDataSeconds", domain.DefaultMarketDataTimeoutSecs)
	v.SetDefault("timeouts.analyticsSeconds", domain.DefaultAnalyticsTimeoutSecs)
	v.SetDefault("healthCheckIntervalSeconds", domain.DefaultHealthCheckIntervalSecs)
	v.SetDefault("cacheSweepIntervalSeconds", domain.DefaultCacheSweepSeconds)
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityAddress)
	v.SetDefault("observability.enableMetrics", true)
	v.SetDefault("observability.enableHealthz", true)
}

type rawConfig struct {
	Providers                  []rawProviderSpec `mapstructure:"providers"`
	Venues                     map[string]string `mapstructure:"venues"`
	DefaultVenue               string            `mapstructure:"defaultVenue"`
	ExposeUnifiedOnly          bool              `mapstructure:"exposeUnifiedOnly"`
	ExposeProviderTools        []string          `mapstructure:"exposeProviderTools"`
	Cache                      rawCacheConfig    `mapstructure:"cache"`
	Timeouts                   rawTimeoutConfig  `mapstructure:"timeouts"`
	Observability              rawObservability  `mapstructure:"observability"`
	HealthCheckIntervalSeconds int               `mapstructure:"healthCheckIntervalSeconds"`
	CacheSweepIntervalSeconds  int               `mapstructure:"cacheSweepIntervalSeconds"`
	RegistryPath               string            `mapstructure:"registryPath"`
}

type rawProviderSpec struct {
	Name      string        `mapstructure:"name"`
	Address   string        `mapstructure:"address"`
	Enabled   *bool         `mapstructure:"enabled"`
	PoolSize  int           `mapstructure:"poolSize"`
	RateLimit *rawRateLimit `mapstructure:"rateLimit"`
}

type rawRateLimit struct {
	RequestsPerSecond float64 `mapstructure:"requestsPerSecond"`
	BurstSize         int     `mapstructure:"burstSize"`
}

type rawCacheConfig struct {
	DefaultTTLSeconds float64            `mapstructure:"defaultTTLSeconds"`
	CategoryTTLs      map[string]float64 `mapstructure:"categoryTTLSeconds"`
}

type rawTimeoutConfig struct {
	RouteSeconds      int `mapstructure:"routeSeconds"`
	MarketDataSeconds int `mapstructure:"marketDataSeconds"`
	AnalyticsSeconds  int `mapstructure:"analyticsSeconds"`
}

type rawObservability struct {
	ListenAddress string `mapstructure:"listenAddress"`
	EnableMetrics bool   `mapstructure:"enableMetrics"`
	EnableHealthz bool   `mapstructure:"enableHealthz"`
}

// Load reads, env-expands, and decodes the gateway config file.
func (l *Loader) Load(path string) (GatewayConfig, error) {
	if path == "" {
		return GatewayConfig{}, errors.New("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("read config: %w", err)
	}

	expanded, missing, err := expandConfigEnv(data)
	if err != nil {
		return GatewayConfig{}, err
	}
	if len(missing) > 0 {
		l.logger.Warn("missing environment variables in config",
			zap.String("path", path),
			zap.Strings("missing", missing),
		)
	}

	return l.Parse(expanded)
}

// Parse decodes an already-expanded YAML document.
func (l *Loader) Parse(document string) (GatewayConfig, error) {
	v := newGatewayViper()
	if err := v.ReadConfig(bytes.NewBufferString(document)); err != nil {
		return GatewayConfig{}, fmt.Errorf("parse config: %w", err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return GatewayConfig{}, fmt.Errorf("decode config: %w", err)
	}

	return normalize(raw)
}

func normalize(raw rawConfig) (GatewayConfig, error) {
	var validationErrors []string

	providers := make([]domain.ProviderSpec, 0, len(raw.Providers))
	nameSeen := make(map[string]struct{})
	for i, p := range raw.Providers {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d]: name is required", i))
			continue
		}
		if _, exists := nameSeen[name]; exists {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d]: duplicate name %q", i, name))
			continue
		}
		nameSeen[name] = struct{}{}

		if strings.TrimSpace(p.Address) == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d]: address is required", i))
			continue
		}

		enabled := true
		if p.Enabled != nil {
			enabled = *p.Enabled
		}
		poolSize := p.PoolSize
		if poolSize <= 0 {
			poolSize = domain.DefaultPoolSize
		}

		spec := domain.ProviderSpec{
			Name:     name,
			Address:  strings.TrimSpace(p.Address),
			Enabled:  enabled,
			PoolSize: poolSize,
		}
		if p.RateLimit != nil {
			spec.RateLimit = &domain.RateLimitSpec{
				RequestsPerSecond: p.RateLimit.RequestsPerSecond,
				BurstSize:         p.RateLimit.BurstSize,
			}
		}
		providers = append(providers, spec)
	}

	venues := raw.Venues
	if len(venues) == 0 {
		// With no explicit venue map, each enabled provider is its own
		// public venue.
		venues = make(map[string]string, len(providers))
		for _, p := range providers {
			venues[p.Name] = p.Name
		}
	}
	for public, providerID := range venues {
		if strings.TrimSpace(public) == "" || strings.TrimSpace(providerID) == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("venues: empty mapping %q -> %q", public, providerID))
		}
	}

	defaultVenue := strings.ToLower(strings.TrimSpace(raw.DefaultVenue))
	if defaultVenue != "" {
		if _, ok := venues[defaultVenue]; !ok {
			validationErrors = append(validationErrors, fmt.Sprintf("defaultVenue %q is not a configured venue", defaultVenue))
		}
	}

	if raw.Cache.DefaultTTLSeconds < 0 {
		validationErrors = append(validationErrors, "cache.defaultTTLSeconds must not be negative")
	}

	if len(validationErrors) > 0 {
		return GatewayConfig{}, errors.New(strings.Join(validationErrors, "; "))
	}

	categories := defaultCategoryTTLs()
	for category, ttl := range raw.Cache.CategoryTTLs {
		categories = overrideCategory(categories, category, ttl)
	}

	return GatewayConfig{
		Providers:                  providers,
		Venues:                     venues,
		DefaultVenue:               defaultVenue,
		ExposeUnifiedOnly:          raw.ExposeUnifiedOnly,
		ExposeProviderTools:        raw.ExposeProviderTools,
		Cache:                      CacheConfig{DefaultTTLSeconds: raw.Cache.DefaultTTLSeconds, CategoryTTLSeconds: categories},
		Timeouts:                   TimeoutConfig(raw.Timeouts),
		Observability:              ObservabilityConfig(raw.Observability),
		HealthCheckIntervalSeconds: raw.HealthCheckIntervalSeconds,
		CacheSweepIntervalSeconds:  raw.CacheSweepIntervalSeconds,
		RegistryPath:               raw.RegistryPath,
	}, nil
}

// defaultCategoryTTLs orders more specific substrings first so that a key
// like "binance.orderbook_l1:BTCUSDT" matches orderbook before any broader
// category.
func defaultCategoryTTLs() []CategoryTTL {
	return []CategoryTTL{
		{Category: "orderbook", TTLSeconds: 0.5},
		{Category: "ticker", TTLSeconds: 5},
		{Category: "klines", TTLSeconds: 60},
		{Category: "trades", TTLSeconds: 5},
		{Category: "exchange_info", TTLSeconds: 300},
	}
}

func overrideCategory(categories []CategoryTTL, category string, ttl float64) []CategoryTTL {
	for i := range categories {
		if categories[i].Category == category {
			categories[i].TTLSeconds = ttl
			return categories
		}
	}
	return append(categories, CategoryTTL{Category: category, TTLSeconds: ttl})
}

// EnabledProviders filters to the providers that should be connected.
func (c GatewayConfig) EnabledProviders() []domain.ProviderSpec {
	enabled := make([]domain.ProviderSpec, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled
}
