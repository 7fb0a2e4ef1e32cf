package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent         = "event"
	FieldVenue         = "venue"
	FieldTool          = "tool"
	FieldProvider      = "provider"
	FieldDataType      = "data_type"
	FieldCacheKey      = "cache_key"
	FieldDurationMs    = "duration_ms"
	FieldCorrelationID = "correlation_id"
)

const (
	EventRouteSuccess      = "route_success"
	EventRouteError        = "route_error"
	EventCacheHit          = "cache_hit"
	EventCacheMiss         = "cache_miss"
	EventCacheSweep        = "cache_sweep"
	EventProviderUnhealthy = "provider_unhealthy"
	EventProviderRecovered = "provider_recovered"
	EventNormalizeError    = "normalize_error"
	EventDiscovery         = "discovery"
	EventConfigReload      = "config_reload"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func VenueField(venue string) zap.Field {
	return zap.String(FieldVenue, venue)
}

func ToolField(tool string) zap.Field {
	return zap.String(FieldTool, tool)
}

func ProviderField(provider string) zap.Field {
	return zap.String(FieldProvider, provider)
}

func DataTypeField(dataType string) zap.Field {
	return zap.String(FieldDataType, dataType)
}

func CacheKeyField(key string) zap.Field {
	return zap.String(FieldCacheKey, key)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func CorrelationIDField(value string) zap.Field {
	return zap.String(FieldCorrelationID, value)
}
