// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

// Package mapper converts raw subgraph fragments into domain entities:
// tiles for the map index and NFT records for the metadata endpoints.
// All functions are pure; the special-tile registry and external URL
// base are injected at construction.
package mapper

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/mapgrid/atlas/internal/models"
	"github.com/mapgrid/atlas/internal/models/subgraph"
)

// weiPerToken is the denomination of subgraph order prices.
var weiPerToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Mapper builds domain entities from subgraph fragments.
type Mapper struct {
	specials *SpecialRegistry
	baseURL  string

	// now is injectable for tests; returns unix seconds.
	now func() int64
}

// New creates a mapper. baseURL is the public URL of this service,
// used to build image links in NFT records.
func New(specials *SpecialRegistry, baseURL string) *Mapper {
	return &Mapper{
		specials: specials,
		baseURL:  baseURL,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// BuildTile converts a parcel fragment into a tile, attaching the open
// rental listing when one is provided.
//
// When the parcel belongs to an estate, the estate projection's name,
// owner and active order supersede the parcel's own, and updatedAt is
// the max of the two so estate-level changes propagate to member
// tiles. The special-tile registry overrides computed ownership for
// roads, plazas and districts.
func (m *Mapper) BuildTile(p *subgraph.ParcelFragment, listing *models.RentalListing) (*models.Tile, error) {
	x, err := strconv.Atoi(p.X)
	if err != nil {
		return nil, fmt.Errorf("malformed parcel x %q (token %s): %w", p.X, p.TokenID, err)
	}
	y, err := strconv.Atoi(p.Y)
	if err != nil {
		return nil, fmt.Errorf("malformed parcel y %q (token %s): %w", p.Y, p.TokenID, err)
	}

	updatedAt, err := parseUnixSeconds(p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("malformed parcel updatedAt (token %s): %w", p.TokenID, err)
	}

	name := stringValue(p.Name)
	owner := accountID(p.Owner)
	order := p.ActiveOrder
	estateID := ""

	if p.Estate != nil {
		estateID = p.Estate.TokenID
		if p.Estate.Name != nil {
			name = *p.Estate.Name
		}
		if id := accountID(p.Estate.Owner); id != "" {
			owner = id
		}
		order = p.Estate.ActiveOrder

		estateUpdated, err := parseUnixSeconds(p.Estate.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("malformed estate updatedAt (estate %s): %w", p.Estate.TokenID, err)
		}
		if estateUpdated > updatedAt {
			updatedAt = estateUpdated
		}
	}

	t := &models.Tile{
		ID:            models.TileID(x, y),
		X:             x,
		Y:             y,
		Type:          models.TypeUnowned,
		UpdatedAt:     updatedAt,
		Name:          name,
		Owner:         owner,
		EstateID:      estateID,
		TokenID:       p.TokenID,
		RentalListing: listing,
	}
	if owner != "" {
		t.Type = models.TypeOwned
	}

	if order != nil {
		expiresAt := msStringToSeconds(order.ExpiresAt)
		if expiresAt > m.now() {
			t.Price = roundTokenPrice(order.Price)
			t.ExpiresAt = expiresAt
		}
	}

	m.specials.Overlay(t)
	return t, nil
}

// BuildParcel projects a parcel fragment into its NFT metadata record.
func (m *Mapper) BuildParcel(p *subgraph.ParcelFragment) (models.NFT, error) {
	x, err := strconv.Atoi(p.X)
	if err != nil {
		return models.NFT{}, fmt.Errorf("malformed parcel x %q (token %s): %w", p.X, p.TokenID, err)
	}
	y, err := strconv.Atoi(p.Y)
	if err != nil {
		return models.NFT{}, fmt.Errorf("malformed parcel y %q (token %s): %w", p.Y, p.TokenID, err)
	}

	name := stringValue(p.Name)
	if name == "" {
		name = fmt.Sprintf("Parcel %d,%d", x, y)
	}

	attributes := []models.Attribute{
		{TraitType: "X", Value: x, DisplayType: "number"},
		{TraitType: "Y", Value: y, DisplayType: "number"},
	}
	attributes = append(attributes, m.proximityAttributes(x, y)...)

	return models.NFT{
		ID:              p.TokenID,
		Name:            name,
		Description:     fmt.Sprintf("Land parcel at %d,%d.", x, y),
		Image:           fmt.Sprintf("%s/v2/parcels/%d/%d/map.png?size=24&width=1024&height=1024", m.baseURL, x, y),
		ExternalURL:     fmt.Sprintf("%s/v2/parcels/%d/%d", m.baseURL, x, y),
		Attributes:      attributes,
		BackgroundColor: "000000",
	}, nil
}

// BuildEstate projects an estate fragment into its NFT metadata record.
// Size and proximity attributes aggregate over member parcels; the
// distance attributes take the minimum across all member coordinates.
func (m *Mapper) BuildEstate(e *subgraph.EstateFragment) models.NFT {
	name := stringValue(e.Name)
	if name == "" {
		name = fmt.Sprintf("Estate %s", e.TokenID)
	}

	attributes := []models.Attribute{
		{TraitType: "Size", Value: e.Size, DisplayType: "number"},
	}

	best := Proximity{Road: -1, Plaza: -1, District: -1}
	centerX, centerY := 0, 0
	for _, p := range e.Parcels {
		x, err1 := strconv.Atoi(p.X)
		y, err2 := strconv.Atoi(p.Y)
		if err1 != nil || err2 != nil {
			continue
		}
		centerX, centerY = x, y
		if prox, ok := m.specials.Distances(x, y); ok {
			best.Road = minDistance(best.Road, prox.Road)
			best.Plaza = minDistance(best.Plaza, prox.Plaza)
			best.District = minDistance(best.District, prox.District)
		}
	}
	attributes = append(attributes, proximityToAttributes(best)...)

	return models.NFT{
		ID:              e.TokenID,
		Name:            name,
		Description:     fmt.Sprintf("Estate of %d parcels.", e.Size),
		Image:           fmt.Sprintf("%s/v2/map.png?size=24&width=1024&height=1024&center=%d,%d&estate=%s", m.baseURL, centerX, centerY, e.TokenID),
		ExternalURL:     fmt.Sprintf("%s/v2/estates/%s", m.baseURL, e.TokenID),
		Attributes:      attributes,
		BackgroundColor: "000000",
	}
}

// DissolvedEstate builds the stub record for an estate whose parcels
// have all been sold off individually. Returns nil when the estate
// still has members (callers should use BuildEstate instead).
func (m *Mapper) DissolvedEstate(e *subgraph.EstateFragment) *models.NFT {
	if e == nil || e.Size > 0 {
		return nil
	}
	name := stringValue(e.Name)
	if name == "" {
		name = fmt.Sprintf("Estate %s", e.TokenID)
	}
	return &models.NFT{
		ID:              e.TokenID,
		Name:            name,
		Description:     "This estate has been dissolved; it no longer contains any parcels.",
		ExternalURL:     fmt.Sprintf("%s/v2/estates/%s", m.baseURL, e.TokenID),
		Attributes:      []models.Attribute{{TraitType: "Size", Value: 0, DisplayType: "number"}},
		BackgroundColor: "000000",
	}
}

// proximityAttributes returns distance attributes for one coordinate.
func (m *Mapper) proximityAttributes(x, y int) []models.Attribute {
	prox, ok := m.specials.Distances(x, y)
	if !ok {
		return nil
	}
	return proximityToAttributes(prox)
}

func proximityToAttributes(p Proximity) []models.Attribute {
	var attrs []models.Attribute
	if p.Road >= 0 {
		attrs = append(attrs, models.Attribute{TraitType: "Distance to Road", Value: p.Road, DisplayType: "number"})
	}
	if p.Plaza >= 0 {
		attrs = append(attrs, models.Attribute{TraitType: "Distance to Plaza", Value: p.Plaza, DisplayType: "number"})
	}
	if p.District >= 0 {
		attrs = append(attrs, models.Attribute{TraitType: "Distance to District", Value: p.District, DisplayType: "number"})
	}
	return attrs
}

// minDistance merges two distance values where -1 means "unknown".
func minDistance(a, b int) int {
	if a < 0 {
		return b
	}
	if b < 0 || a < b {
		return a
	}
	return b
}

// roundTokenPrice converts a wei-denominated integer string into whole
// tokens rounded to the nearest integer. This is a deliberate lossy
// simplification for display.
func roundTokenPrice(wei string) int {
	value, ok := new(big.Int).SetString(wei, 10)
	if !ok {
		return 0
	}
	half := new(big.Int).Rsh(weiPerToken, 1)
	value = value.Add(value, half)
	value = value.Div(value, weiPerToken)
	return int(value.Int64())
}

// parseUnixSeconds parses a unix-seconds string from the subgraph.
func parseUnixSeconds(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return v, nil
}

// msStringToSeconds parses a millisecond-epoch string, returning zero
// for malformed values.
func msStringToSeconds(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v / 1000
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func accountID(a *subgraph.Account) string {
	if a == nil {
		return ""
	}
	return a.ID
}
