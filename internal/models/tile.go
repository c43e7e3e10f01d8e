// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

// Package models defines the domain entities of the Atlas map: tiles,
// NFT projections (parcels and estates), rental listings, and the
// transient fetch result aggregate.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// TileType classifies a grid cell.
type TileType string

// Tile types. Roads, plazas and districts come from the static
// special-tile registry and override computed ownership.
const (
	TypeOwned    TileType = "owned"
	TypeUnowned  TileType = "unowned"
	TypePlaza    TileType = "plaza"
	TypeRoad     TileType = "road"
	TypeDistrict TileType = "district"
)

// Tile represents one grid cell of the land map.
//
// Top, Left and TopLeft are derived adjacency flags: true iff the tile
// at the corresponding neighbor offset exists, is owned, and shares the
// same non-empty EstateID. They are recomputed by the map engine on
// every change and never come from source data, except for special
// tiles whose static flags describe the connectivity of fixed shapes.
type Tile struct {
	ID        string   `json:"id"`
	X         int      `json:"x"`
	Y         int      `json:"y"`
	Type      TileType `json:"type"`
	Top       bool     `json:"top"`
	Left      bool     `json:"left"`
	TopLeft   bool     `json:"topLeft"`
	UpdatedAt int64    `json:"updatedAt"`

	Name     string `json:"name,omitempty"`
	Owner    string `json:"owner,omitempty"`
	EstateID string `json:"estateId,omitempty"`
	TokenID  string `json:"tokenId,omitempty"`

	// Price is the active order price in whole tokens, rounded for
	// display. Zero when no active unexpired order exists.
	Price     int   `json:"price,omitempty"`
	ExpiresAt int64 `json:"expiresAt,omitempty"`

	RentalListing *RentalListing `json:"rentalListing,omitempty"`
}

// Clone returns a deep copy of the tile. The engine clones tiles it is
// about to mutate so generations already published stay immutable.
func (t *Tile) Clone() *Tile {
	c := *t
	if t.RentalListing != nil {
		r := t.RentalListing.Clone()
		c.RentalListing = &r
	}
	return &c
}

// RentalListing is the shortened projection of a rental listing
// attached to a tile while the listing is open.
type RentalListing struct {
	Expiration int64          `json:"expiration"`
	CreatedAt  int64          `json:"createdAt"`
	Periods    []RentalPeriod `json:"periods"`
}

// Clone returns a deep copy of the listing.
func (r RentalListing) Clone() RentalListing {
	c := r
	c.Periods = append([]RentalPeriod(nil), r.Periods...)
	return c
}

// RentalPeriod is one offered rental period.
type RentalPeriod struct {
	MinDays     int    `json:"minDays"`
	MaxDays     int    `json:"maxDays"`
	PricePerDay string `json:"pricePerDay"`
}

// TileID returns the canonical "{x},{y}" id for a coordinate.
func TileID(x, y int) string {
	return strconv.Itoa(x) + "," + strconv.Itoa(y)
}

// ParseTileID parses a canonical "{x},{y}" id back into coordinates.
func ParseTileID(id string) (x, y int, err error) {
	sx, sy, found := strings.Cut(id, ",")
	if !found {
		return 0, 0, fmt.Errorf("invalid tile id %q", id)
	}
	if x, err = strconv.Atoi(sx); err != nil {
		return 0, 0, fmt.Errorf("invalid tile id %q: %w", id, err)
	}
	if y, err = strconv.Atoi(sy); err != nil {
		return 0, 0, fmt.Errorf("invalid tile id %q: %w", id, err)
	}
	return x, y, nil
}
