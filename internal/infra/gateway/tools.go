package gateway

import (
	"fmt"
	"strings"

	"mdgw/internal/infra/normalize"
)

// dataTypeForTool maps each unified tool to the normalizer data type of
// its response.
var dataTypeForTool = map[string]normalize.DataType{
	"market.get_ticker":                normalize.TypeTicker,
	"market.get_orderbook_l1":          normalize.TypeOrderbookL1,
	"market.get_orderbook_l2":          normalize.TypeOrderbookL2,
	"market.get_klines":                normalize.TypeKlines,
	"market.get_trades":                normalize.TypeRecentTrades,
	"market.get_volume_profile":        normalize.TypeVolumeProfile,
	"market.get_orderbook_health":      normalize.TypeOrderbookHealth,
	"market.detect_liquidity_vacuums":  normalize.TypeLiquidityVacuums,
	"market.detect_anomalies":          normalize.TypeMarketAnomalies,
	"market.get_microstructure_health": normalize.TypeMicrostructureHealth,
}

// analyticsTools run heavier server-side aggregation and get the longer
// invoke timeout.
var analyticsTools = map[string]bool{
	"market.get_volume_profile":        true,
	"market.get_orderbook_health":      true,
	"market.detect_liquidity_vacuums":  true,
	"market.detect_anomalies":          true,
	"market.get_microstructure_health": true,
}

// unifiedAlternatives suggests the unified replacement for a rejected
// provider-native tool name.
func unifiedAlternative(providerTool string) string {
	switch {
	case strings.Contains(providerTool, "get_ticker"):
		return "market.get_ticker"
	case strings.Contains(providerTool, "orderbook_l1"):
		return "market.get_orderbook_l1"
	case strings.Contains(providerTool, "orderbook_l2"):
		return "market.get_orderbook_l2"
	case strings.Contains(providerTool, "get_klines"):
		return "market.get_klines"
	case strings.Contains(providerTool, "recent_trades"):
		return "market.get_trades"
	case strings.Contains(providerTool, "volume_profile"):
		return "market.get_volume_profile"
	case strings.Contains(providerTool, "orderbook_health"):
		return "market.get_orderbook_health"
	case strings.Contains(providerTool, "liquidity_vacuums"):
		return "market.detect_liquidity_vacuums"
	case strings.Contains(providerTool, "anomalies"):
		return "market.detect_anomalies"
	case strings.Contains(providerTool, "microstructure"):
		return "market.get_microstructure_health"
	default:
		return ""
	}
}

type toolDeclaration struct {
	Name        string
	Description string
	Schema      map[string]any
}

// unifiedToolDeclarations builds the venue-parameterized schema of every
// unified tool. The instrument is required; venue is optional and falls
// back to the configured default.
func unifiedToolDeclarations(venues []string, defaultVenue string) []toolDeclaration {
	venueList := strings.Join(venues, ", ")

	venueProp := map[string]any{
		"type":        "string",
		"description": fmt.Sprintf("Exchange venue to query. Available: %s (default: %s)", venueList, defaultVenue),
		"enum":        venues,
	}
	instrumentProp := map[string]any{
		"type":        "string",
		"description": "Trading pair symbol (e.g., BTCUSDT)",
		"examples":    []any{"BTCUSDT", "ETHUSDT"},
	}

	base := func(extra map[string]any) map[string]any {
		properties := map[string]any{
			"venue":      venueProp,
			"instrument": instrumentProp,
		}
		for key, prop := range extra {
			properties[key] = prop
		}
		return map[string]any{
			"type":       "object",
			"required":   []any{"instrument"},
			"properties": properties,
		}
	}

	limitProp := func(description string, def int) map[string]any {
		return map[string]any{
			"type":        "integer",
			"description": description,
			"default":     def,
		}
	}

	return []toolDeclaration{
		{
			Name:        "market.get_ticker",
			Description: fmt.Sprintf("Get normalized ticker data (bid, ask, mid, spread_bps) for any venue. Available venues: %s", venueList),
			Schema:      base(nil),
		},
		{
			Name:        "market.get_orderbook_l1",
			Description: fmt.Sprintf("Get normalized top-of-book orderbook (L1) for any venue. Available venues: %s", venueList),
			Schema:      base(nil),
		},
		{
			Name:        "market.get_orderbook_l2",
			Description: fmt.Sprintf("Get normalized full depth orderbook (L2) for any venue. Available venues: %s", venueList),
			Schema: base(map[string]any{
				"limit": limitProp("Number of price levels to return (default: 100)", 100),
			}),
		},
		{
			Name:        "market.get_klines",
			Description: fmt.Sprintf("Get normalized historical klines/candlesticks for any venue. Available venues: %s", venueList),
			Schema: base(map[string]any{
				"interval": map[string]any{
					"type":        "string",
					"description": "Kline interval (e.g., 1m, 5m, 1h, 1d)",
					"examples":    []any{"1m", "5m", "15m", "1h", "4h", "1d"},
				},
				"limit": limitProp("Number of klines to return (default: 500)", 500),
			}),
		},
		{
			Name:        "market.get_trades",
			Description: fmt.Sprintf("Get normalized recent public trades for any venue. Available venues: %s", venueList),
			Schema: base(map[string]any{
				"limit": limitProp("Number of trades to return (default: 100)", 100),
			}),
		},
		{
			Name:        "market.get_volume_profile",
			Description: fmt.Sprintf("Get volume profile analytics for any venue. Available venues: %s", venueList),
			Schema: base(map[string]any{
				"window": map[string]any{
					"type":        "string",
					"description": "Aggregation window (e.g., 1h, 4h, 1d)",
				},
			}),
		},
		{
			Name:        "market.get_orderbook_health",
			Description: fmt.Sprintf("Get orderbook health analytics for any venue. Available venues: %s", venueList),
			Schema:      base(nil),
		},
		{
			Name:        "market.detect_liquidity_vacuums",
			Description: fmt.Sprintf("Detect liquidity vacuums in the orderbook for any venue. Available venues: %s", venueList),
			Schema:      base(nil),
		},
		{
			Name:        "market.detect_anomalies",
			Description: fmt.Sprintf("Detect market anomalies for any venue. Available venues: %s", venueList),
			Schema: base(map[string]any{
				"window": map[string]any{
					"type":        "string",
					"description": "Lookback window (e.g., 5m, 1h)",
				},
			}),
		},
		{
			Name:        "market.get_microstructure_health",
			Description: fmt.Sprintf("Get market microstructure health score for any venue. Available venues: %s", venueList),
			Schema:      base(nil),
		},
	}
}
