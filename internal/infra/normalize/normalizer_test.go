package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mdgw/internal/domain"
)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	return New(Options{
		NowMillis: func() int64 { return 1700000000000 },
	})
}

func TestNormalizeTicker(t *testing.T) {
	n := newTestNormalizer(t)

	raw := map[string]any{
		"symbol":    "BTCUSDT",
		"bidPrice":  "43250.50",
		"askPrice":  "43251.00",
		"volume":    "1234.5",
		"closeTime": float64(1699999999999),
		"lastPrice": "43250.80",
	}

	out, err := n.Normalize("binance", TypeTicker, raw, nil)
	require.NoError(t, err)

	require.InDelta(t, 43250.50, out["bid"], 1e-9)
	require.InDelta(t, 43251.00, out["ask"], 1e-9)
	require.InDelta(t, 43250.75, out["mid"], 1e-9)
	require.InDelta(t, 0.1156, out["spread_bps"].(float64), 1e-3)
	require.InDelta(t, 1234.5, out["volume"], 1e-9)
	require.Equal(t, int64(1699999999999), out["timestamp"])
	require.Equal(t, "BTCUSDT", out["venue_symbol"])
	require.Equal(t, "binance", out["venue"])
	require.InDelta(t, 43250.80, out["last"], 1e-9)
}

func TestNormalizeTickerTimestampFallback(t *testing.T) {
	n := newTestNormalizer(t)

	out, err := n.Normalize("binance", TypeTicker, map[string]any{
		"symbol":   "ETHUSDT",
		"bidPrice": "2000",
		"askPrice": "2001",
		"volume":   "10",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1700000000000), out["timestamp"])
}

func TestNormalizeTickerZeroMid(t *testing.T) {
	n := newTestNormalizer(t)

	out, err := n.Normalize("binance", TypeTicker, map[string]any{
		"symbol":   "DEADUSDT",
		"bidPrice": "0",
		"askPrice": "0",
		"volume":   "0",
	}, nil)
	require.NoError(t, err)
	require.Zero(t, out["mid"])
	require.Zero(t, out["spread_bps"])
}

func TestNormalizeTickerMissingField(t *testing.T) {
	n := newTestNormalizer(t)

	_, err := n.Normalize("binance", TypeTicker, map[string]any{
		"symbol":   "BTCUSDT",
		"bidPrice": "43250.50",
	}, nil)
	require.Error(t, err)
	require.True(t, domain.IsCode(err, domain.CodeNormalizationFailed))
}

func TestNormalizeOrderbookL1(t *testing.T) {
	n := newTestNormalizer(t)

	raw := map[string]any{
		"lastUpdateId": float64(100),
		"bids":         []any{[]any{"43250.50", "2.0"}, []any{"43250.00", "5.0"}},
		"asks":         []any{[]any{"43251.00", "6.0"}, []any{"43252.00", "1.0"}},
	}

	out, err := n.Normalize("binance", TypeOrderbookL1, raw, nil)
	require.NoError(t, err)

	require.InDelta(t, 43250.50, out["bid_price"], 1e-9)
	require.InDelta(t, 2.0, out["bid_quantity"], 1e-9)
	require.InDelta(t, 43251.00, out["ask_price"], 1e-9)
	require.InDelta(t, 6.0, out["ask_quantity"], 1e-9)
	require.InDelta(t, 43250.75, out["mid"], 1e-9)
	require.InDelta(t, 0.5, out["spread_absolute"], 1e-9)
	require.InDelta(t, 0.25, out["imbalance_ratio"], 1e-9)
	require.Equal(t, float64(100), out["update_id"])
}

func TestNormalizeOrderbookL1EmptySideFails(t *testing.T) {
	n := newTestNormalizer(t)

	_, err := n.Normalize("binance", TypeOrderbookL1, map[string]any{
		"bids": []any{},
		"asks": []any{[]any{"1", "1"}},
	}, nil)
	require.Error(t, err)
	require.True(t, domain.IsCode(err, domain.CodeNormalizationFailed))
}

func TestNormalizeOrderbookL1NeutralImbalance(t *testing.T) {
	n := newTestNormalizer(t)

	out, err := n.Normalize("binance", TypeOrderbookL1, map[string]any{
		"bids": []any{[]any{"100", "0"}},
		"asks": []any{[]any{"101", "0"}},
	}, nil)
	require.NoError(t, err)
	require.InDelta(t, 0.5, out["imbalance_ratio"], 1e-9)
}

func TestNormalizeOrderbookL2(t *testing.T) {
	n := newTestNormalizer(t)

	out, err := n.Normalize("binance", TypeOrderbookL2, map[string]any{
		"bids": []any{[]any{"100.0", "1.5"}, []any{"99.5", "3.0"}},
		"asks": []any{[]any{"100.5", "2.0"}},
	}, nil)
	require.NoError(t, err)

	bids := out["bids"].([]map[string]any)
	require.Len(t, bids, 2)
	require.InDelta(t, 100.0, bids[0]["price"], 1e-9)
	require.InDelta(t, 1.5, bids[0]["quantity"], 1e-9)
	asks := out["asks"].([]map[string]any)
	require.Len(t, asks, 1)
	require.InDelta(t, 100.25, out["mid"], 1e-9)
	require.Equal(t, int64(1700000000000), out["timestamp"])
}

func TestNormalizeKlinesPositional(t *testing.T) {
	n := newTestNormalizer(t)

	raw := []any{
		[]any{float64(1700000000000), "100", "110", "95", "105", "42.5", float64(1700000059999)},
		[]any{float64(1700000060000), "105", "108", "104", "107", "10"},
	}

	out, err := n.Normalize("binance", TypeKlines, raw, nil)
	require.NoError(t, err)

	require.Equal(t, 2, out["count"])
	klines := out["klines"].([]map[string]any)
	require.Equal(t, int64(1700000000000), klines[0]["open_time"])
	require.InDelta(t, 100.0, klines[0]["open"], 1e-9)
	require.InDelta(t, 110.0, klines[0]["high"], 1e-9)
	require.InDelta(t, 95.0, klines[0]["low"], 1e-9)
	require.InDelta(t, 105.0, klines[0]["close"], 1e-9)
	require.InDelta(t, 42.5, klines[0]["volume"], 1e-9)
	require.Equal(t, int64(1700000059999), klines[0]["close_time"])
	// Short row: trailing close_time defaults to zero.
	require.Equal(t, int64(0), klines[1]["close_time"])
}

func TestNormalizeKlinesObjectRows(t *testing.T) {
	n := newTestNormalizer(t)

	raw := map[string]any{
		"klines": []any{
			map[string]any{
				"openTime":  float64(1700000000000),
				"open":      "100",
				"high":      "110",
				"low":       "95",
				"close":     "105",
				"volume":    "42.5",
				"closeTime": float64(1700000059999),
			},
			map[string]any{
				"open_time": float64(1700000060000),
				"open":      100.5,
				"high":      101.0,
				"low":       100.0,
				"close":     100.8,
				"volume":    7.0,
			},
		},
	}

	out, err := n.Normalize("binance", TypeKlines, raw, nil)
	require.NoError(t, err)

	klines := out["klines"].([]map[string]any)
	require.Len(t, klines, 2)
	require.Equal(t, int64(1700000000000), klines[0]["open_time"])
	require.Equal(t, int64(1700000059999), klines[0]["close_time"])
	require.Equal(t, int64(1700000060000), klines[1]["open_time"])
	require.InDelta(t, 100.8, klines[1]["close"], 1e-9)
	require.Equal(t, int64(0), klines[1]["close_time"])
}

func TestNormalizeKlinesWrappedUnderData(t *testing.T) {
	n := newTestNormalizer(t)

	out, err := n.Normalize("binance", TypeKlines, map[string]any{
		"data": []any{[]any{float64(1), "1", "2", "0.5", "1.5", "3", float64(2)}},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, out["count"])
}

func TestNormalizeOrder(t *testing.T) {
	n := newTestNormalizer(t)

	out, err := n.Normalize("binance", TypeOrder, map[string]any{
		"symbol":      "BTCUSDT",
		"orderId":     float64(12345),
		"origQty":     "10.0",
		"executedQty": "4.0",
		"status":      "PARTIALLY_FILLED",
		"side":        "BUY",
		"price":       "43000",
	}, nil)
	require.NoError(t, err)

	require.Equal(t, "BTCUSDT", out["symbol"])
	require.Equal(t, float64(12345), out["order_id"])
	require.InDelta(t, 10.0, out["original_quantity"], 1e-9)
	require.InDelta(t, 4.0, out["filled_quantity"], 1e-9)
	require.InDelta(t, 6.0, out["remaining_quantity"], 1e-9)
	require.Equal(t, "PARTIALLY_FILLED", out["status"])
	require.InDelta(t, 43000.0, out["price"], 1e-9)
}

func TestNormalizeAccountFiltersZeroBalances(t *testing.T) {
	n := newTestNormalizer(t)

	out, err := n.Normalize("binance", TypeAccount, map[string]any{
		"balances": []any{
			map[string]any{"asset": "BTC", "free": "0.5", "locked": "0.1"},
			map[string]any{"asset": "DOGE", "free": "0", "locked": "0"},
			map[string]any{"asset": "USDT", "free": "0", "locked": "100"},
		},
	}, nil)
	require.NoError(t, err)

	balances := out["balances"].([]map[string]any)
	require.Len(t, balances, 2)
	require.Equal(t, "BTC", balances[0]["asset"])
	require.InDelta(t, 0.6, balances[0]["total"], 1e-9)
	require.Equal(t, "USDT", balances[1]["asset"])
	require.InDelta(t, 100.0, balances[1]["total"], 1e-9)
}

// The two trade feeds interpret their buyer flags differently: isBuyer on a
// my-trade record means this account bought, while isBuyerMaker on a public
// trade means the aggressor sold.
func TestNormalizeTradeSideConventions(t *testing.T) {
	n := newTestNormalizer(t)

	myTrade, err := n.Normalize("binance", TypeTrade, map[string]any{
		"price":   "100",
		"qty":     "1",
		"isBuyer": true,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "BUY", myTrade["side"])

	public, err := n.Normalize("binance", TypeRecentTrades, []any{
		map[string]any{"price": "100", "qty": "1", "isBuyerMaker": true},
		map[string]any{"price": "101", "qty": "2", "isBuyerMaker": false},
	}, nil)
	require.NoError(t, err)

	trades := public["trades"].([]map[string]any)
	require.Len(t, trades, 2)
	require.Equal(t, "SELL", trades[0]["side"])
	require.Equal(t, "BUY", trades[1]["side"])
	require.Equal(t, 2, public["count"])
}

func TestNormalizeExchangeInfoFlattensFilters(t *testing.T) {
	n := newTestNormalizer(t)

	out, err := n.Normalize("binance", TypeExchangeInfo, map[string]any{
		"symbol":     "BTCUSDT",
		"status":     "TRADING",
		"baseAsset":  "BTC",
		"quoteAsset": "USDT",
		"filters": []any{
			map[string]any{
				"filterType": "PRICE_FILTER",
				"minPrice":   "0.01",
				"maxPrice":   "1000000",
				"tickSize":   "0.01",
			},
			map[string]any{
				"filterType": "LOT_SIZE",
				"minQty":     "0.0001",
				"maxQty":     "9000",
				"stepSize":   "0.0001",
			},
			map[string]any{
				"filterType":  "ICEBERG_PARTS",
				"limit":       float64(10),
				"anythingOdd": "ignored",
			},
		},
	}, nil)
	require.NoError(t, err)

	require.Equal(t, "BTCUSDT", out["symbol"])
	require.Equal(t, "BTC", out["base_asset"])
	require.InDelta(t, 0.01, out["min_price"], 1e-9)
	require.InDelta(t, 0.01, out["price_tick_size"], 1e-9)
	require.InDelta(t, 0.0001, out["min_quantity"], 1e-9)
	require.InDelta(t, 0.0001, out["quantity_step_size"], 1e-9)
	require.NotContains(t, out, "limit")
	require.NotContains(t, out, "anythingOdd")
}

func TestNormalizePassthroughDefaults(t *testing.T) {
	n := newTestNormalizer(t)

	out, err := n.Normalize("binance", TypeOrderbookHealth, map[string]any{
		"symbol": "BTCUSDT",
		"notes":  "thin book",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "thin book", out["notes"])
	require.InDelta(t, 0.5, out["health_score"], 1e-9)
	require.Zero(t, out["spread_bps"].(float64))

	out, err = n.Normalize("binance", TypeOrderbookHealth, map[string]any{
		"health_score": 0.9,
		"spread_bps":   "2.5",
	}, nil)
	require.NoError(t, err)
	require.InDelta(t, 0.9, out["health_score"], 1e-9)
	require.InDelta(t, 2.5, out["spread_bps"], 1e-9)
}

func TestNormalizeInjectsAdditionalFields(t *testing.T) {
	n := newTestNormalizer(t)

	out, err := n.Normalize("binance", TypeMarketAnomalies, map[string]any{
		"anomalies": []any{},
	}, map[string]any{
		"latency_ms": 12.5,
	})
	require.NoError(t, err)
	require.Equal(t, 12.5, out["latency_ms"])
	require.Equal(t, "binance", out["venue"])
	require.Zero(t, out["anomaly_count"].(float64))
}

func TestNormalizeUnknownVenueAndType(t *testing.T) {
	n := newTestNormalizer(t)

	_, err := n.Normalize("kraken", TypeTicker, map[string]any{}, nil)
	require.True(t, domain.IsCode(err, domain.CodeNormalizerNotFound))

	_, err = n.Normalize("binance", DataType("funding_rate"), map[string]any{}, nil)
	require.True(t, domain.IsCode(err, domain.CodeNormalizerNotFound))
}

func TestSupportedVenuesAndTypes(t *testing.T) {
	n := newTestNormalizer(t)

	require.True(t, n.Supported("binance", TypeTicker))
	require.False(t, n.Supported("binance", DataType("funding_rate")))
	require.Equal(t, []string{"binance"}, n.SupportedVenues())
	require.Contains(t, n.SupportedDataTypes("binance"), TypeKlines)
}
