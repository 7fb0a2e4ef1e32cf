package domain

const (
	DefaultVenue = "binance"

	DefaultPoolSize = 15

	DefaultRouteTimeoutSeconds     = 5
	DefaultMarketDataTimeoutSecs   = 3
	DefaultAnalyticsTimeoutSecs    = 15
	DefaultHealthCheckTimeoutSecs  = 1
	DefaultHealthCheckIntervalSecs = 30
	DefaultDiscoveryTimeoutSecs    = 3

	DefaultCacheTTLSeconds      = 5
	DefaultCacheSweepSeconds    = 60
	DefaultRequestsPerSecond    = 10.0
	DefaultBurstSize            = 20
	DefaultObservabilityAddress = "127.0.0.1:9464"
)
