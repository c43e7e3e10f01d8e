// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mapgrid/atlas/internal/models"
)

// bounds is an optional rectangular filter on the tile index.
type bounds struct {
	x1, y1, x2, y2 int
}

func (b *bounds) contains(t *models.Tile) bool {
	return t.X >= b.x1 && t.X <= b.x2 && t.Y >= b.y1 && t.Y <= b.y2
}

// parseBounds reads x1/y1/x2/y2 query params. All four must be present
// to activate filtering; none returns (nil, nil).
func parseBounds(q url.Values) (*bounds, error) {
	keys := []string{"x1", "y1", "x2", "y2"}
	present := 0
	for _, k := range keys {
		if q.Get(k) != "" {
			present++
		}
	}
	if present == 0 {
		return nil, nil
	}
	if present != len(keys) {
		return nil, fmt.Errorf("bounds filter requires all of x1, y1, x2, y2")
	}

	vals := make([]int, len(keys))
	for i, k := range keys {
		v, err := strconv.Atoi(q.Get(k))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q", k, q.Get(k))
		}
		vals[i] = v
	}
	b := &bounds{x1: vals[0], y1: vals[1], x2: vals[2], y2: vals[3]}
	if b.x1 > b.x2 {
		b.x1, b.x2 = b.x2, b.x1
	}
	if b.y1 > b.y2 {
		b.y1, b.y2 = b.y2, b.y1
	}
	return b, nil
}

// tileFields are the field names accepted by the include filter.
var tileFields = map[string]bool{
	"id": true, "x": true, "y": true, "type": true,
	"top": true, "left": true, "topLeft": true, "updatedAt": true,
	"name": true, "owner": true, "estateId": true, "tokenId": true,
	"price": true, "expiresAt": true, "rentalListing": true,
}

// parseInclude reads the include query param, a comma-separated field
// list. Empty means all fields.
func parseInclude(q url.Values) ([]string, error) {
	raw := q.Get("include")
	if raw == "" {
		return nil, nil
	}
	fields := strings.Split(raw, ",")
	for _, f := range fields {
		if !tileFields[f] {
			return nil, fmt.Errorf("unknown field %q", f)
		}
	}
	return fields, nil
}

// projectTiles applies bounds and include filters. With no include
// filter the tiles are returned as-is (they are immutable once
// published, so sharing is safe).
func projectTiles(tiles map[string]*models.Tile, b *bounds, include []string) interface{} {
	if b == nil && include == nil {
		return tiles
	}

	if include == nil {
		out := make(map[string]*models.Tile)
		for id, t := range tiles {
			if b.contains(t) {
				out[id] = t
			}
		}
		return out
	}

	out := make(map[string]map[string]interface{})
	for id, t := range tiles {
		if b != nil && !b.contains(t) {
			continue
		}
		out[id] = projectTile(t, include)
	}
	return out
}

func projectTile(t *models.Tile, include []string) map[string]interface{} {
	m := make(map[string]interface{}, len(include))
	for _, f := range include {
		switch f {
		case "id":
			m[f] = t.ID
		case "x":
			m[f] = t.X
		case "y":
			m[f] = t.Y
		case "type":
			m[f] = t.Type
		case "top":
			m[f] = t.Top
		case "left":
			m[f] = t.Left
		case "topLeft":
			m[f] = t.TopLeft
		case "updatedAt":
			m[f] = t.UpdatedAt
		case "name":
			if t.Name != "" {
				m[f] = t.Name
			}
		case "owner":
			if t.Owner != "" {
				m[f] = t.Owner
			}
		case "estateId":
			if t.EstateID != "" {
				m[f] = t.EstateID
			}
		case "tokenId":
			if t.TokenID != "" {
				m[f] = t.TokenID
			}
		case "price":
			if t.Price > 0 {
				m[f] = t.Price
			}
		case "expiresAt":
			if t.ExpiresAt > 0 {
				m[f] = t.ExpiresAt
			}
		case "rentalListing":
			if t.RentalListing != nil {
				m[f] = t.RentalListing
			}
		}
	}
	return m
}

// Legacy numeric tile types served on /v1/tiles.
const (
	legacyTypeDistrict = 5
	legacyTypeRoad     = 7
	legacyTypePlaza    = 8
	legacyTypeOwned    = 9
	legacyTypeUnowned  = 10
)

// legacyTile is the v1 wire format. Flags are 1-or-absent integers.
type legacyTile struct {
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Type     int    `json:"type"`
	Name     string `json:"name,omitempty"`
	Owner    string `json:"owner,omitempty"`
	EstateID string `json:"estate_id,omitempty"`
	Top      int    `json:"top,omitempty"`
	Left     int    `json:"left,omitempty"`
	TopLeft  int    `json:"topLeft,omitempty"`
	Price    int    `json:"price,omitempty"`
}

func toLegacyTile(t *models.Tile) legacyTile {
	l := legacyTile{
		X:        t.X,
		Y:        t.Y,
		Name:     t.Name,
		Owner:    t.Owner,
		EstateID: t.EstateID,
		Price:    t.Price,
	}
	switch t.Type {
	case models.TypeDistrict:
		l.Type = legacyTypeDistrict
	case models.TypeRoad:
		l.Type = legacyTypeRoad
	case models.TypePlaza:
		l.Type = legacyTypePlaza
	case models.TypeOwned:
		l.Type = legacyTypeOwned
	default:
		l.Type = legacyTypeUnowned
	}
	if t.Top {
		l.Top = 1
	}
	if t.Left {
		l.Left = 1
	}
	if t.TopLeft {
		l.TopLeft = 1
	}
	return l
}
