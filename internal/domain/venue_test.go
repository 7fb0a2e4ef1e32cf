package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVenueMap_Resolve(t *testing.T) {
	m := NewVenueMap(map[string]string{"binance": "binance", "okx": "okx-spot"}, "binance")

	id, err := m.Resolve("binance")
	require.NoError(t, err)
	require.Equal(t, "binance", id)

	id, err = m.Resolve("OKX")
	require.NoError(t, err)
	require.Equal(t, "okx-spot", id)
}

func TestVenueMap_ResolveUnknown(t *testing.T) {
	m := NewVenueMap(map[string]string{"binance": "binance"}, "binance")

	_, err := m.Resolve("kraken")
	require.Error(t, err)
	require.True(t, IsCode(err, CodeUnknownVenue))
	require.Contains(t, err.Error(), "binance")
}

func TestVenueMap_PublicVenuesSorted(t *testing.T) {
	m := NewVenueMap(map[string]string{"okx": "okx", "binance": "binance"}, "")
	require.Equal(t, []string{"binance", "okx"}, m.PublicVenues())
	require.Empty(t, m.DefaultVenue())
}
