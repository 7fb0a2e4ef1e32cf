package domain

import (
	"fmt"
	"sort"
	"strings"
)

// VenueMap resolves public-facing venue names to internal provider
// identifiers. The public name and the provider id may differ when one
// logical venue is served by a differently named backing provider.
// Resolution fails closed: names outside the allow-list are rejected before
// any provider lookup happens.
type VenueMap struct {
	mapping      map[string]string
	defaultVenue string
}

func NewVenueMap(mapping map[string]string, defaultVenue string) *VenueMap {
	copied := make(map[string]string, len(mapping))
	for public, providerID := range mapping {
		copied[strings.ToLower(public)] = providerID
	}
	return &VenueMap{
		mapping:      copied,
		defaultVenue: strings.ToLower(defaultVenue),
	}
}

// DefaultVenue returns the venue applied when a request omits one.
// Empty means callers must always supply a venue.
func (m *VenueMap) DefaultVenue() string {
	return m.defaultVenue
}

// Resolve maps a public venue name to its provider identifier.
func (m *VenueMap) Resolve(public string) (string, error) {
	providerID, ok := m.mapping[strings.ToLower(public)]
	if !ok {
		return "", E(CodeUnknownVenue, "venue.resolve",
			fmt.Sprintf("unknown venue %q, available venues: %s", public, strings.Join(m.PublicVenues(), ", ")), nil).
			WithMeta("venue", public)
	}
	return providerID, nil
}

// PublicVenues lists the venue names exposed to clients, sorted for stable
// error messages and tool schemas.
func (m *VenueMap) PublicVenues() []string {
	venues := make([]string, 0, len(m.mapping))
	for public := range m.mapping {
		venues = append(venues, public)
	}
	sort.Strings(venues)
	return venues
}
