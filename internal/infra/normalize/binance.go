package normalize

import (
	"fmt"
)

// Binance transforms. Field semantics follow the Binance REST shapes the
// provider forwards verbatim: prices and quantities arrive as decimal
// strings, timestamps as millisecond integers, depth levels as
// [price, quantity] string pairs.

func (n *Normalizer) registerBinance() {
	const venue = "binance"
	n.Register(venue, TypeTicker, n.binanceTicker)
	n.Register(venue, TypeOrderbookL1, n.binanceOrderbookL1)
	n.Register(venue, TypeOrderbookL2, n.binanceOrderbookL2)
	n.Register(venue, TypeKlines, binanceKlines)
	n.Register(venue, TypeOrder, binanceOrder)
	n.Register(venue, TypeAccount, binanceAccount)
	n.Register(venue, TypeTrade, binanceTrade)
	n.Register(venue, TypeRecentTrades, binanceRecentTrades)
	n.Register(venue, TypeExchangeInfo, binanceExchangeInfo)
	n.Register(venue, TypeOrderbookHealth, passthrough(map[string]float64{
		"health_score": 0.5,
		"spread_bps":   0,
	}))
	n.Register(venue, TypeVolumeProfile, passthrough(map[string]float64{
		"total_volume": 0,
	}))
	n.Register(venue, TypeLiquidityVacuums, passthrough(nil))
	n.Register(venue, TypeMarketAnomalies, passthrough(map[string]float64{
		"anomaly_count": 0,
	}))
	n.Register(venue, TypeMicrostructureHealth, passthrough(map[string]float64{
		"health_score": 0.5,
	}))
}

// midAndSpread computes the mid price and the spread in basis points.
// A non-positive mid yields a zero spread rather than a division blowup.
func midAndSpread(bid, ask float64) (mid, spreadBps float64) {
	mid = (bid + ask) / 2.0
	if mid > 0 {
		spreadBps = (ask - bid) / mid * 10000.0
	}
	return mid, spreadBps
}

func (n *Normalizer) binanceTicker(raw any) (map[string]any, error) {
	m, err := asMap(raw)
	if err != nil {
		return nil, err
	}

	bid, err := requireFloat(m, "bidPrice")
	if err != nil {
		return nil, err
	}
	ask, err := requireFloat(m, "askPrice")
	if err != nil {
		return nil, err
	}
	volume, err := requireFloat(m, "volume")
	if err != nil {
		return nil, err
	}
	symbol, err := requireString(m, "symbol")
	if err != nil {
		return nil, err
	}

	mid, spreadBps := midAndSpread(bid, ask)

	// Binance 24hr tickers carry closeTime; fall back to the current clock
	// when the provider omits it.
	var timestamp int64
	if v, ok := m["closeTime"]; ok && v != nil {
		timestamp, err = toInt(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", "closeTime", err)
		}
	} else {
		timestamp = n.nowMillis()
	}

	normalized := map[string]any{
		"bid":          bid,
		"ask":          ask,
		"mid":          mid,
		"spread_bps":   spreadBps,
		"volume":       volume,
		"timestamp":    timestamp,
		"venue_symbol": symbol,
	}
	optFloat(m, "lastPrice", normalized, "last")
	optFloat(m, "quoteVolume", normalized, "quote_volume")
	optFloat(m, "priceChangePercent", normalized, "price_change_percent")
	return normalized, nil
}

// depthLevel parses one [price, quantity] pair.
func depthLevel(v any) (price, quantity float64, err error) {
	pair, ok := v.([]any)
	if !ok || len(pair) < 2 {
		return 0, 0, fmt.Errorf("expected [price, quantity] pair, got %T", v)
	}
	price, err = toFloat(pair[0])
	if err != nil {
		return 0, 0, fmt.Errorf("level price: %w", err)
	}
	quantity, err = toFloat(pair[1])
	if err != nil {
		return 0, 0, fmt.Errorf("level quantity: %w", err)
	}
	return price, quantity, nil
}

func depthSide(m map[string]any, key string) ([]any, error) {
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("invalid orderbook: missing %s", key)
	}
	levels, ok := v.([]any)
	if !ok || len(levels) == 0 {
		return nil, fmt.Errorf("invalid orderbook: missing %s", key)
	}
	return levels, nil
}

func (n *Normalizer) binanceOrderbookL1(raw any) (map[string]any, error) {
	m, err := asMap(raw)
	if err != nil {
		return nil, err
	}

	bids, err := depthSide(m, "bids")
	if err != nil {
		return nil, err
	}
	asks, err := depthSide(m, "asks")
	if err != nil {
		return nil, err
	}

	bidPrice, bidQty, err := depthLevel(bids[0])
	if err != nil {
		return nil, fmt.Errorf("best bid: %w", err)
	}
	askPrice, askQty, err := depthLevel(asks[0])
	if err != nil {
		return nil, fmt.Errorf("best ask: %w", err)
	}

	mid, spreadBps := midAndSpread(bidPrice, askPrice)

	// Imbalance defaults to a neutral 0.5 when both sides are empty.
	imbalance := 0.5
	if total := bidQty + askQty; total > 0 {
		imbalance = bidQty / total
	}

	normalized := map[string]any{
		"bid_price":       bidPrice,
		"bid_quantity":    bidQty,
		"ask_price":       askPrice,
		"ask_quantity":    askQty,
		"mid":             mid,
		"spread_bps":      spreadBps,
		"spread_absolute": askPrice - bidPrice,
		"imbalance_ratio": imbalance,
		// Binance depth snapshots carry no timestamp of their own.
		"timestamp": n.nowMillis(),
	}
	optCopy(m, "lastUpdateId", normalized, "update_id")
	return normalized, nil
}

func (n *Normalizer) binanceOrderbookL2(raw any) (map[string]any, error) {
	m, err := asMap(raw)
	if err != nil {
		return nil, err
	}

	rawBids, err := depthSide(m, "bids")
	if err != nil {
		return nil, err
	}
	rawAsks, err := depthSide(m, "asks")
	if err != nil {
		return nil, err
	}

	parseSide := func(levels []any, side string) ([]map[string]any, error) {
		out := make([]map[string]any, 0, len(levels))
		for i, lvl := range levels {
			price, qty, err := depthLevel(lvl)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", side, i, err)
			}
			out = append(out, map[string]any{"price": price, "quantity": qty})
		}
		return out, nil
	}

	bids, err := parseSide(rawBids, "bids")
	if err != nil {
		return nil, err
	}
	asks, err := parseSide(rawAsks, "asks")
	if err != nil {
		return nil, err
	}

	mid, spreadBps := midAndSpread(bids[0]["price"].(float64), asks[0]["price"].(float64))

	normalized := map[string]any{
		"bids":       bids,
		"asks":       asks,
		"mid":        mid,
		"spread_bps": spreadBps,
		"timestamp":  n.nowMillis(),
	}
	optCopy(m, "lastUpdateId", normalized, "update_id")
	return normalized, nil
}

// klineFields are the seven positional fields of a Binance kline row, in
// wire order. Missing trailing positions default to zero.
var klineFields = []string{"open_time", "open", "high", "low", "close", "volume", "close_time"}

// klineAliases maps each unified field to the camel-style object key some
// provider snapshots use instead of the underscore form.
var klineAliases = map[string]string{
	"open_time":  "openTime",
	"close_time": "closeTime",
}

func binanceKlines(raw any) (map[string]any, error) {
	rows, err := klineRows(raw)
	if err != nil {
		return nil, err
	}

	klines := make([]map[string]any, 0, len(rows))
	for i, row := range rows {
		normalized, err := normalizeKlineRow(row)
		if err != nil {
			return nil, fmt.Errorf("kline[%d]: %w", i, err)
		}
		klines = append(klines, normalized)
	}

	return map[string]any{
		"klines": klines,
		"count":  len(klines),
	}, nil
}

// klineRows accepts the raw payload being the kline array itself or the
// array wrapped under a klines/data key.
func klineRows(raw any) ([]any, error) {
	switch typed := raw.(type) {
	case []any:
		return typed, nil
	case map[string]any:
		for _, key := range []string{"klines", "data"} {
			if v, ok := typed[key]; ok {
				rows, ok := v.([]any)
				if !ok {
					return nil, fmt.Errorf("field %q: expected array, got %T", key, v)
				}
				return rows, nil
			}
		}
		return nil, fmt.Errorf("klines payload has neither %q nor %q key", "klines", "data")
	default:
		return nil, fmt.Errorf("expected kline array or object, got %T", raw)
	}
}

func normalizeKlineRow(row any) (map[string]any, error) {
	switch typed := row.(type) {
	case []any:
		out := make(map[string]any, len(klineFields))
		for i, field := range klineFields {
			if i >= len(typed) {
				out[field] = klineZero(field)
				continue
			}
			v, err := klineValue(field, typed[i])
			if err != nil {
				return nil, err
			}
			out[field] = v
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(klineFields))
		for _, field := range klineFields {
			v, ok := typed[field]
			if !ok {
				if alias := klineAliases[field]; alias != "" {
					v, ok = typed[alias]
				}
			}
			if !ok || v == nil {
				out[field] = klineZero(field)
				continue
			}
			coerced, err := klineValue(field, v)
			if err != nil {
				return nil, err
			}
			out[field] = coerced
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected kline row array or object, got %T", row)
	}
}

func klineValue(field string, v any) (any, error) {
	if field == "open_time" || field == "close_time" {
		t, err := toInt(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		return t, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", field, err)
	}
	return f, nil
}

func klineZero(field string) any {
	if field == "open_time" || field == "close_time" {
		return int64(0)
	}
	return float64(0)
}

func binanceOrder(raw any) (map[string]any, error) {
	m, err := asMap(raw)
	if err != nil {
		return nil, err
	}

	symbol, err := requireString(m, "symbol")
	if err != nil {
		return nil, err
	}
	orderID, err := requireField(m, "orderId")
	if err != nil {
		return nil, err
	}
	origQty, err := requireFloat(m, "origQty")
	if err != nil {
		return nil, err
	}
	executedQty, err := requireFloat(m, "executedQty")
	if err != nil {
		return nil, err
	}

	normalized := map[string]any{
		"symbol":             symbol,
		"order_id":           orderID,
		"original_quantity":  origQty,
		"filled_quantity":    executedQty,
		"remaining_quantity": origQty - executedQty,
	}
	optCopy(m, "status", normalized, "status")
	optCopy(m, "side", normalized, "side")
	optCopy(m, "type", normalized, "type")
	optCopy(m, "timeInForce", normalized, "time_in_force")
	optCopy(m, "time", normalized, "timestamp")
	optFloat(m, "price", normalized, "price")

	// Average fill price only when the venue reported a non-zero one.
	if avg, err := toFloat(m["avgPrice"]); err == nil && avg != 0 {
		normalized["average_price"] = avg
	}
	return normalized, nil
}

func binanceAccount(raw any) (map[string]any, error) {
	m, err := asMap(raw)
	if err != nil {
		return nil, err
	}

	v, err := requireField(m, "balances")
	if err != nil {
		return nil, err
	}
	rawBalances, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q: expected array, got %T", "balances", v)
	}

	balances := make([]map[string]any, 0, len(rawBalances))
	for i, rb := range rawBalances {
		bm, ok := rb.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("balances[%d]: expected object, got %T", i, rb)
		}
		asset, err := requireString(bm, "asset")
		if err != nil {
			return nil, fmt.Errorf("balances[%d]: %w", i, err)
		}
		free, err := requireFloat(bm, "free")
		if err != nil {
			return nil, fmt.Errorf("balances[%d]: %w", i, err)
		}
		locked, err := requireFloat(bm, "locked")
		if err != nil {
			return nil, fmt.Errorf("balances[%d]: %w", i, err)
		}
		total := free + locked
		if total == 0 {
			continue
		}
		balances = append(balances, map[string]any{
			"asset":  asset,
			"free":   free,
			"locked": locked,
			"total":  total,
		})
	}

	normalized := map[string]any{"balances": balances}
	optCopy(m, "accountType", normalized, "account_type")
	optCopy(m, "canTrade", normalized, "can_trade")
	optCopy(m, "updateTime", normalized, "timestamp")
	return normalized, nil
}

// binanceTrade normalizes a single my-trade record. The isBuyer flag states
// whether this account was the buyer, so true means BUY.
func binanceTrade(raw any) (map[string]any, error) {
	m, err := asMap(raw)
	if err != nil {
		return nil, err
	}

	price, err := requireFloat(m, "price")
	if err != nil {
		return nil, err
	}
	qty, err := requireFloat(m, "qty")
	if err != nil {
		return nil, err
	}
	isBuyer, err := requireBool(m, "isBuyer")
	if err != nil {
		return nil, err
	}

	side := "SELL"
	if isBuyer {
		side = "BUY"
	}

	normalized := map[string]any{
		"price":    price,
		"quantity": qty,
		"side":     side,
	}
	optCopy(m, "symbol", normalized, "symbol")
	optCopy(m, "id", normalized, "trade_id")
	optCopy(m, "orderId", normalized, "order_id")
	optCopy(m, "time", normalized, "timestamp")
	optFloat(m, "quoteQty", normalized, "quote_quantity")
	optFloat(m, "commission", normalized, "commission")
	optCopy(m, "commissionAsset", normalized, "commission_asset")
	return normalized, nil
}

// binanceRecentTrades normalizes public trade records. Here the flag is
// isBuyerMaker: the resting maker order was the buy side, which means the
// aggressor was a seller, so true maps to SELL. This is deliberately the
// inverse of the my-trade convention above: the two upstream flags mean
// different things.
func binanceRecentTrades(raw any) (map[string]any, error) {
	records, err := tradeRecords(raw)
	if err != nil {
		return nil, err
	}

	trades := make([]map[string]any, 0, len(records))
	for i, rec := range records {
		m, ok := rec.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("trades[%d]: expected object, got %T", i, rec)
		}
		price, err := requireFloat(m, "price")
		if err != nil {
			return nil, fmt.Errorf("trades[%d]: %w", i, err)
		}
		qty, err := requireFloat(m, "qty")
		if err != nil {
			return nil, fmt.Errorf("trades[%d]: %w", i, err)
		}
		isBuyerMaker, err := requireBool(m, "isBuyerMaker")
		if err != nil {
			return nil, fmt.Errorf("trades[%d]: %w", i, err)
		}

		side := "BUY"
		if isBuyerMaker {
			side = "SELL"
		}

		trade := map[string]any{
			"price":    price,
			"quantity": qty,
			"side":     side,
		}
		optCopy(m, "id", trade, "trade_id")
		optCopy(m, "time", trade, "timestamp")
		optFloat(m, "quoteQty", trade, "quote_quantity")
		trades = append(trades, trade)
	}

	return map[string]any{
		"trades": trades,
		"count":  len(trades),
	}, nil
}

// tradeRecords accepts a bare array, an array wrapped under a trades key,
// or a single record.
func tradeRecords(raw any) ([]any, error) {
	switch typed := raw.(type) {
	case []any:
		return typed, nil
	case map[string]any:
		if v, ok := typed["trades"]; ok {
			records, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("field %q: expected array, got %T", "trades", v)
			}
			return records, nil
		}
		return []any{typed}, nil
	default:
		return nil, fmt.Errorf("expected trade record or array, got %T", raw)
	}
}

func binanceExchangeInfo(raw any) (map[string]any, error) {
	m, err := asMap(raw)
	if err != nil {
		return nil, err
	}

	symbol, err := requireString(m, "symbol")
	if err != nil {
		return nil, err
	}

	normalized := map[string]any{"symbol": symbol}
	optCopy(m, "status", normalized, "status")
	optCopy(m, "baseAsset", normalized, "base_asset")
	optCopy(m, "quoteAsset", normalized, "quote_asset")

	// Only the price and lot-size filters are flattened; the remaining
	// filter types pass by untouched.
	if v, ok := m["filters"]; ok {
		filters, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("field %q: expected array, got %T", "filters", v)
		}
		for i, rf := range filters {
			fm, ok := rf.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("filters[%d]: expected object, got %T", i, rf)
			}
			filterType, _ := fm["filterType"].(string)
			switch filterType {
			case "PRICE_FILTER":
				optFloat(fm, "minPrice", normalized, "min_price")
				optFloat(fm, "maxPrice", normalized, "max_price")
				optFloat(fm, "tickSize", normalized, "price_tick_size")
			case "LOT_SIZE":
				optFloat(fm, "minQty", normalized, "min_quantity")
				optFloat(fm, "maxQty", normalized, "max_quantity")
				optFloat(fm, "stepSize", normalized, "quantity_step_size")
			}
		}
	}
	return normalized, nil
}

// passthrough returns an identity transform for analytics payloads the
// provider already shapes. Known numeric fields are coerced with defaults
// so downstream consumers never see a missing score.
func passthrough(numericDefaults map[string]float64) Transform {
	return func(raw any) (map[string]any, error) {
		m, err := asMap(raw)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(m)+len(numericDefaults))
		for key, value := range m {
			out[key] = value
		}
		for key, def := range numericDefaults {
			out[key] = numericOrDefault(m, key, def)
		}
		return out, nil
	}
}
