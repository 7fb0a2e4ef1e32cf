package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"mdgw/internal/domain"
)

type fakeSource struct {
	name  string
	tools []domain.ToolDescriptor
	err   error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) ListTools(_ context.Context) ([]domain.ToolDescriptor, error) {
	return f.tools, f.err
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)

	tools := []domain.ToolDescriptor{
		{Name: "get_ticker", Description: "24hr ticker", InputSchema: map[string]any{"type": "object"}},
		{Name: "get_orderbook"},
	}
	require.NoError(t, store.SaveCapabilities("binance-provider", tools))

	loaded, err := store.LoadCapabilities("binance-provider")
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(tools, loaded))

	providers, err := store.Providers()
	require.NoError(t, err)
	require.Equal(t, []string{"binance-provider"}, providers)
}

func TestStoreLoadUnknownProvider(t *testing.T) {
	store := openTestStore(t)

	loaded, err := store.LoadCapabilities("nonexistent")
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestDiscoverUpdatesAndPersists(t *testing.T) {
	store := openTestStore(t)
	reg := New(Options{Store: store})

	reg.Discover(context.Background(), []CapabilitySource{
		&fakeSource{name: "binance-provider", tools: []domain.ToolDescriptor{{Name: "get_ticker"}}},
		&fakeSource{name: "analytics-provider", err: errors.New("connection refused")},
	})

	require.Len(t, reg.Tools("binance-provider"), 1)
	require.Nil(t, reg.Tools("analytics-provider"))
	require.Equal(t, []string{"binance-provider"}, reg.Providers())

	persisted, err := store.LoadCapabilities("binance-provider")
	require.NoError(t, err)
	require.Len(t, persisted, 1)
}

func TestDiscoverFailureKeepsPrevious(t *testing.T) {
	reg := New(Options{})

	source := &fakeSource{name: "binance-provider", tools: []domain.ToolDescriptor{{Name: "get_ticker"}}}
	reg.Discover(context.Background(), []CapabilitySource{source})
	require.Len(t, reg.Tools("binance-provider"), 1)

	source.err = errors.New("timeout")
	reg.Discover(context.Background(), []CapabilitySource{source})
	require.Len(t, reg.Tools("binance-provider"), 1)
}

func TestRestoreFromStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	store, err := OpenStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveCapabilities("binance-provider", []domain.ToolDescriptor{{Name: "get_ticker"}}))
	require.NoError(t, store.Close())

	store, err = OpenStore(path)
	require.NoError(t, err)
	defer store.Close()

	reg := New(Options{Store: store})
	require.NoError(t, reg.Restore())
	require.Len(t, reg.Tools("binance-provider"), 1)
}

func TestHasToolOptimisticWhenUndiscovered(t *testing.T) {
	reg := New(Options{})
	require.True(t, reg.HasTool("binance-provider", "get_ticker"))

	reg.Discover(context.Background(), []CapabilitySource{
		&fakeSource{name: "binance-provider", tools: []domain.ToolDescriptor{{Name: "get_ticker"}}},
	})
	require.True(t, reg.HasTool("binance-provider", "get_ticker"))
	require.False(t, reg.HasTool("binance-provider", "get_positions"))
}
