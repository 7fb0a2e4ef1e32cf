package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mdgw/internal/domain"
)

type fakeInvoker struct {
	name    string
	healthy bool

	calls    int
	lastTool string
	lastArgs map[string]any
	lastCorr string

	result any
	err    error
}

func (f *fakeInvoker) Name() string  { return f.name }
func (f *fakeInvoker) Healthy() bool { return f.healthy }

func (f *fakeInvoker) Invoke(_ context.Context, tool string, args map[string]any, correlationID string) (any, error) {
	f.calls++
	f.lastTool = tool
	f.lastArgs = args
	f.lastCorr = correlationID
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestRouter(t *testing.T, invoker *fakeInvoker) *Router {
	t.Helper()
	venues := domain.NewVenueMap(map[string]string{"binance": invoker.name}, "binance")
	return New(venues, map[string]ProviderInvoker{invoker.name: invoker}, Options{})
}

func TestRouteRewritesArguments(t *testing.T) {
	invoker := &fakeInvoker{name: "binance", healthy: true, result: map[string]any{"bidPrice": "100"}}
	r := newTestRouter(t, invoker)

	result, err := r.Route(context.Background(), "market.get_ticker", map[string]any{
		"venue":      "binance",
		"instrument": "BTCUSDT",
		"limit":      float64(10),
	}, "corr-42", time.Second)
	require.NoError(t, err)

	require.Equal(t, 1, invoker.calls)
	require.Equal(t, "binance.get_ticker", invoker.lastTool)
	require.Equal(t, "corr-42", invoker.lastCorr)
	require.Equal(t, "BTCUSDT", invoker.lastArgs["symbol"])
	require.NotContains(t, invoker.lastArgs, "venue")
	require.NotContains(t, invoker.lastArgs, "instrument")
	require.Equal(t, float64(10), invoker.lastArgs["limit"])

	require.Equal(t, "market.get_ticker", result.RoutingInfo.UnifiedTool)
	require.Equal(t, "binance.get_ticker", result.RoutingInfo.ProviderTool)
	require.Equal(t, "binance", result.RoutingInfo.Venue)
	require.GreaterOrEqual(t, result.RoutingInfo.LatencyMs, 0.0)

	payload := result.Result.(map[string]any)
	require.Equal(t, "binance", payload["venue"])
	require.Contains(t, payload, "latency_ms")
}

func TestRouteDefaultsVenue(t *testing.T) {
	invoker := &fakeInvoker{name: "binance", healthy: true, result: map[string]any{}}
	r := newTestRouter(t, invoker)

	result, err := r.Route(context.Background(), "market.get_ticker", map[string]any{
		"instrument": "ETHUSDT",
	}, "", time.Second)
	require.NoError(t, err)
	require.Equal(t, "binance", result.RoutingInfo.Venue)
	require.Equal(t, 1, invoker.calls)
}

func TestRouteUnknownVenueNeverInvokes(t *testing.T) {
	invoker := &fakeInvoker{name: "binance", healthy: true}
	r := newTestRouter(t, invoker)

	_, err := r.Route(context.Background(), "market.get_ticker", map[string]any{
		"venue":      "kraken",
		"instrument": "BTCUSDT",
	}, "", time.Second)
	require.Error(t, err)
	require.True(t, domain.IsCode(err, domain.CodeUnknownVenue))
	require.Contains(t, err.Error(), "binance")
	require.Zero(t, invoker.calls)
}

func TestRouteProviderNotConfigured(t *testing.T) {
	invoker := &fakeInvoker{name: "binance", healthy: true}
	venues := domain.NewVenueMap(map[string]string{
		"binance": "binance",
		"bybit":   "bybit-provider",
	}, "binance")
	r := New(venues, map[string]ProviderInvoker{"binance": invoker}, Options{})

	_, err := r.Route(context.Background(), "market.get_ticker", map[string]any{
		"venue": "bybit",
	}, "", time.Second)
	require.True(t, domain.IsCode(err, domain.CodeProviderNotConfigured))
	require.Zero(t, invoker.calls)
}

func TestRouteUnsupportedTool(t *testing.T) {
	invoker := &fakeInvoker{name: "binance", healthy: true}
	r := newTestRouter(t, invoker)

	_, err := r.Route(context.Background(), "market.get_positions", map[string]any{
		"venue": "binance",
	}, "", time.Second)
	require.True(t, domain.IsCode(err, domain.CodeUnsupportedTool))
	require.Contains(t, err.Error(), "market.get_ticker")
	require.Zero(t, invoker.calls)
}

func TestRouteFailsOpenOnUnhealthyProvider(t *testing.T) {
	invoker := &fakeInvoker{name: "binance", healthy: false, result: map[string]any{}}
	r := newTestRouter(t, invoker)

	_, err := r.Route(context.Background(), "market.get_ticker", map[string]any{
		"venue": "binance", "instrument": "BTCUSDT",
	}, "", time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, invoker.calls)
}

func TestRouteWrapsInvocationFailure(t *testing.T) {
	invoker := &fakeInvoker{name: "binance", healthy: true, err: errors.New("connection reset")}
	r := newTestRouter(t, invoker)

	_, err := r.Route(context.Background(), "market.get_ticker", map[string]any{
		"venue": "binance", "instrument": "BTCUSDT",
	}, "", time.Second)
	require.Error(t, err)
	require.True(t, domain.IsCode(err, domain.CodeProviderInvocationError))

	var typed *domain.Error
	require.ErrorAs(t, err, &typed)
	require.Equal(t, "binance", typed.Meta["venue"])
	require.Equal(t, "binance.get_ticker", typed.Meta["provider_tool"])
}

func TestRouteListResultGetsRoutingInfoOnly(t *testing.T) {
	invoker := &fakeInvoker{name: "binance", healthy: true, result: []any{
		map[string]any{"price": "1"},
	}}
	r := newTestRouter(t, invoker)

	result, err := r.Route(context.Background(), "market.get_trades", map[string]any{
		"venue": "binance", "instrument": "BTCUSDT",
	}, "", time.Second)
	require.NoError(t, err)

	// List payloads are left untouched; only routing_info carries metadata.
	rows := result.Result.([]any)
	require.Len(t, rows, 1)
	require.NotContains(t, rows[0].(map[string]any), "venue")
	require.Equal(t, "binance.get_recent_trades", result.RoutingInfo.ProviderTool)
}

func TestSupportedToolsAndMetadata(t *testing.T) {
	invoker := &fakeInvoker{name: "binance", healthy: true}
	r := newTestRouter(t, invoker)

	tools := r.SupportedTools()
	require.Len(t, tools, 10)
	require.Contains(t, tools, "market.get_klines")

	meta := r.ToolMetadata("market.get_ticker")
	require.NotNil(t, meta)
	require.Equal(t, "{venue}.get_ticker", meta.ProviderPattern)
	require.Equal(t, []string{"binance"}, meta.AvailableVenues)

	require.Nil(t, r.ToolMetadata("market.get_positions"))
}

func TestAvailableVenuesFiltersUnhealthy(t *testing.T) {
	invoker := &fakeInvoker{name: "binance", healthy: true}
	r := newTestRouter(t, invoker)
	require.Equal(t, []string{"binance"}, r.AvailableVenues("market.get_ticker"))

	invoker.healthy = false
	require.Empty(t, r.AvailableVenues("market.get_ticker"))

	require.Nil(t, r.AvailableVenues("market.get_positions"))
}
