// Package normalize converts provider-native response shapes into the
// gateway's unified schema. Transforms are pure functions registered per
// (venue, data type); a second venue can be added without touching existing
// transforms because each venue owns its own independent set.
package normalize

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"mdgw/internal/domain"
)

// DataType tags the shape of a provider payload for transform dispatch.
type DataType string

const (
	TypeTicker               DataType = "ticker"
	TypeOrderbookL1          DataType = "orderbook_l1"
	TypeOrderbookL2          DataType = "orderbook_l2"
	TypeKlines               DataType = "klines"
	TypeOrder                DataType = "order"
	TypeAccount              DataType = "account"
	TypeTrade                DataType = "trade"
	TypeRecentTrades         DataType = "recent_trades"
	TypeExchangeInfo         DataType = "exchange_info"
	TypeOrderbookHealth      DataType = "orderbook_health"
	TypeVolumeProfile        DataType = "volume_profile"
	TypeLiquidityVacuums     DataType = "liquidity_vacuums"
	TypeMarketAnomalies      DataType = "market_anomalies"
	TypeMicrostructureHealth DataType = "microstructure_health"
)

// Transform reshapes one raw provider payload. Raw is any because some
// providers return bare arrays (klines, recent trades); everything after
// this boundary is a unified map.
type Transform func(raw any) (map[string]any, error)

type Normalizer struct {
	transforms map[string]map[DataType]Transform
	logger     *zap.Logger
	nowMillis  func() int64
}

type Options struct {
	Logger *zap.Logger
	// NowMillis overrides the fallback-timestamp clock, for tests.
	NowMillis func() int64
}

func New(opts Options) *Normalizer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	nowMillis := opts.NowMillis
	if nowMillis == nil {
		nowMillis = func() int64 { return time.Now().UnixMilli() }
	}
	n := &Normalizer{
		transforms: make(map[string]map[DataType]Transform),
		logger:     logger.Named("normalizer"),
		nowMillis:  nowMillis,
	}
	n.registerBinance()
	return n
}

// Register installs a transform for one (venue, dataType) pair, replacing
// any previous registration.
func (n *Normalizer) Register(venue string, dataType DataType, fn Transform) {
	venue = strings.ToLower(venue)
	set, ok := n.transforms[venue]
	if !ok {
		set = make(map[DataType]Transform)
		n.transforms[venue] = set
	}
	set[dataType] = fn
}

// Normalize runs the registered transform, merges additional fields on top
// (overwriting on collision), and injects the venue if the transform did
// not set one.
func (n *Normalizer) Normalize(venue string, dataType DataType, raw any, additional map[string]any) (map[string]any, error) {
	fn, err := n.lookup(venue, dataType)
	if err != nil {
		return nil, err
	}

	normalized, err := fn(raw)
	if err != nil {
		return nil, domain.E(domain.CodeNormalizationFailed, "normalizer.normalize",
			fmt.Sprintf("normalization failed for %s.%s", venue, dataType), err).
			WithMeta("venue", venue).
			WithMeta("data_type", string(dataType))
	}

	for key, value := range additional {
		normalized[key] = value
	}
	if _, ok := normalized["venue"]; !ok {
		normalized["venue"] = strings.ToLower(venue)
	}
	return normalized, nil
}

// Supported reports whether a transform is registered for (venue, dataType).
func (n *Normalizer) Supported(venue string, dataType DataType) bool {
	_, err := n.lookup(venue, dataType)
	return err == nil
}

// SupportedVenues lists venues with at least one registered transform.
func (n *Normalizer) SupportedVenues() []string {
	venues := make([]string, 0, len(n.transforms))
	for venue := range n.transforms {
		venues = append(venues, venue)
	}
	sort.Strings(venues)
	return venues
}

// SupportedDataTypes lists data types registered for a venue.
func (n *Normalizer) SupportedDataTypes(venue string) []DataType {
	set := n.transforms[strings.ToLower(venue)]
	types := make([]DataType, 0, len(set))
	for dataType := range set {
		types = append(types, dataType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (n *Normalizer) lookup(venue string, dataType DataType) (Transform, error) {
	set, ok := n.transforms[strings.ToLower(venue)]
	if !ok {
		return nil, domain.E(domain.CodeNormalizerNotFound, "normalizer.normalize",
			fmt.Sprintf("no normalizer for venue %q, supported venues: %s",
				venue, strings.Join(n.SupportedVenues(), ", ")), nil).
			WithMeta("venue", venue)
	}
	fn, ok := set[dataType]
	if !ok {
		return nil, domain.E(domain.CodeNormalizerNotFound, "normalizer.normalize",
			fmt.Sprintf("no normalizer for %s.%s", strings.ToLower(venue), dataType), nil).
			WithMeta("venue", venue).
			WithMeta("data_type", string(dataType))
	}
	return fn, nil
}
