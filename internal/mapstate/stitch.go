// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

package mapstate

import (
	"sort"

	"github.com/mapgrid/atlas/internal/models"
)

// computeEstate sets a tile's adjacency flags from the tile index:
// a flag is true iff the neighbor in that direction exists, is owned,
// and shares the tile's non-empty estate id. Special tiles carry
// static shape flags and are never passed here.
func computeEstate(tiles map[string]*models.Tile, t *models.Tile) {
	t.Top = sameEstate(tiles, t, t.X, t.Y+1)
	t.Left = sameEstate(tiles, t, t.X-1, t.Y)
	t.TopLeft = sameEstate(tiles, t, t.X-1, t.Y+1)
}

func sameEstate(tiles map[string]*models.Tile, t *models.Tile, x, y int) bool {
	if t.EstateID == "" || t.Type != models.TypeOwned {
		return false
	}
	n, ok := tiles[models.TileID(x, y)]
	return ok && n.Type == models.TypeOwned && n.EstateID == t.EstateID
}

// stitchOrder sorts tile ids ascending by x then descending by y, the
// order in which stitching walks the grid.
func stitchOrder(ids []string) {
	type coord struct{ x, y int }
	coords := make(map[string]coord, len(ids))
	for _, id := range ids {
		x, y, err := models.ParseTileID(id)
		if err != nil {
			continue
		}
		coords[id] = coord{x, y}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := coords[ids[i]], coords[ids[j]]
		if a.x != b.x {
			return a.x < b.x
		}
		return a.y > b.y
	})
}

// dependents returns the neighbor ids whose flags read the given tile:
// the tiles to the south, east and southeast.
func dependents(id string) []string {
	x, y, err := models.ParseTileID(id)
	if err != nil {
		return nil
	}
	return []string{
		models.TileID(x, y-1),
		models.TileID(x+1, y),
		models.TileID(x+1, y-1),
	}
}
