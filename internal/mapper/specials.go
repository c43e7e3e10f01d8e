// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

package mapper

import (
	_ "embed"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/mapgrid/atlas/internal/models"
)

//go:embed data/specials.json
var specialsJSON []byte

// Area is a rectangular region of special tiles in the registry file.
// Coordinates are inclusive.
type Area struct {
	Name string `json:"name"`
	X1   int    `json:"x1"`
	Y1   int    `json:"y1"`
	X2   int    `json:"x2"`
	Y2   int    `json:"y2"`
}

// registryFile is the on-disk shape of the special-tile registry.
type registryFile struct {
	Bounds struct {
		Min int `json:"min"`
		Max int `json:"max"`
	} `json:"bounds"`
	Plazas    []Area `json:"plazas"`
	Roads     []Area `json:"roads"`
	Districts []Area `json:"districts"`
}

// specialTile is one expanded registry entry. Adjacency flags describe
// the connectivity of the fixed shape and are used only for rendering;
// the stitching algorithm never touches special tiles.
type specialTile struct {
	Type    models.TileType
	Name    string
	Top     bool
	Left    bool
	TopLeft bool
}

// SpecialRegistry is the immutable set of statically-registered road,
// plaza and district tiles, plus the per-category proximity table
// derived from it. Built once at startup and injected into the mapper.
type SpecialRegistry struct {
	min, max int
	tiles    map[string]specialTile

	// distances maps tile id to the Chebyshev distance of the nearest
	// special tile per category, precomputed for all in-bounds coords.
	distances map[string]Proximity
}

// Proximity holds distances to the nearest special feature of each
// category. A negative value means no feature of that category exists.
type Proximity struct {
	Road     int
	Plaza    int
	District int
}

// LoadSpecials parses the embedded registry. Call once at startup.
func LoadSpecials() (*SpecialRegistry, error) {
	return loadSpecials(specialsJSON)
}

func loadSpecials(raw []byte) (*SpecialRegistry, error) {
	var f registryFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse specials registry: %w", err)
	}
	if f.Bounds.Min >= f.Bounds.Max {
		return nil, fmt.Errorf("invalid specials bounds [%d, %d]", f.Bounds.Min, f.Bounds.Max)
	}

	r := &SpecialRegistry{
		min:   f.Bounds.Min,
		max:   f.Bounds.Max,
		tiles: make(map[string]specialTile),
	}
	r.expand(f.Plazas, models.TypePlaza)
	r.expand(f.Roads, models.TypeRoad)
	r.expand(f.Districts, models.TypeDistrict)
	r.stitchShapes()
	r.computeDistances()
	return r, nil
}

// expand registers every tile of each area. Later categories do not
// overwrite earlier ones, so plazas take precedence over roads where
// areas overlap.
func (r *SpecialRegistry) expand(areas []Area, t models.TileType) {
	for _, a := range areas {
		for x := a.X1; x <= a.X2; x++ {
			for y := a.Y1; y <= a.Y2; y++ {
				id := models.TileID(x, y)
				if _, taken := r.tiles[id]; taken {
					continue
				}
				r.tiles[id] = specialTile{Type: t, Name: a.Name}
			}
		}
	}
}

// stitchShapes computes the static adjacency flags of the fixed shapes:
// a flag is set when the neighbor is a special tile of the same type.
func (r *SpecialRegistry) stitchShapes() {
	sameType := func(id string, t models.TileType) bool {
		n, ok := r.tiles[id]
		return ok && n.Type == t
	}
	for id, s := range r.tiles {
		x, y, err := models.ParseTileID(id)
		if err != nil {
			continue
		}
		s.Top = sameType(models.TileID(x, y+1), s.Type)
		s.Left = sameType(models.TileID(x-1, y), s.Type)
		s.TopLeft = sameType(models.TileID(x-1, y+1), s.Type)
		r.tiles[id] = s
	}
}

// computeDistances floods the bounded grid from each category's tiles,
// yielding Chebyshev distance to the nearest feature per category.
// A multi-source 8-neighbor BFS keeps this O(grid) per category.
func (r *SpecialRegistry) computeDistances() {
	road := r.flood(models.TypeRoad)
	plaza := r.flood(models.TypePlaza)
	district := r.flood(models.TypeDistrict)

	r.distances = make(map[string]Proximity, len(road))
	for x := r.min; x <= r.max; x++ {
		for y := r.min; y <= r.max; y++ {
			id := models.TileID(x, y)
			r.distances[id] = Proximity{
				Road:     lookupDistance(road, id),
				Plaza:    lookupDistance(plaza, id),
				District: lookupDistance(district, id),
			}
		}
	}
}

// flood returns the Chebyshev distance from every in-bounds coordinate
// to the nearest special tile of the given type. Empty when the
// category has no tiles.
func (r *SpecialRegistry) flood(t models.TileType) map[string]int {
	dist := make(map[string]int)
	var frontier [][2]int

	for id, s := range r.tiles {
		if s.Type != t {
			continue
		}
		x, y, err := models.ParseTileID(id)
		if err != nil {
			continue
		}
		dist[id] = 0
		frontier = append(frontier, [2]int{x, y})
	}
	if len(frontier) == 0 {
		return dist
	}

	for d := 1; len(frontier) > 0; d++ {
		var next [][2]int
		for _, c := range frontier {
			for dx := -1; dx <= 1; dx++ {
				for dy := -1; dy <= 1; dy++ {
					if dx == 0 && dy == 0 {
						continue
					}
					nx, ny := c[0]+dx, c[1]+dy
					if nx < r.min || nx > r.max || ny < r.min || ny > r.max {
						continue
					}
					id := models.TileID(nx, ny)
					if _, seen := dist[id]; seen {
						continue
					}
					dist[id] = d
					next = append(next, [2]int{nx, ny})
				}
			}
		}
		frontier = next
	}
	return dist
}

// lookupDistance returns the flooded distance or -1 when the category
// has no tiles at all.
func lookupDistance(dist map[string]int, id string) int {
	if len(dist) == 0 {
		return -1
	}
	if d, ok := dist[id]; ok {
		return d
	}
	return -1
}

// Overlay applies the special-tile registry to a freshly built tile.
// Returns true when the coordinate is a registered special tile; the
// tile's type, name and adjacency flags are overridden in that case.
func (r *SpecialRegistry) Overlay(t *models.Tile) bool {
	s, ok := r.tiles[t.ID]
	if !ok {
		return false
	}
	t.Type = s.Type
	t.Name = s.Name
	t.Top = s.Top
	t.Left = s.Left
	t.TopLeft = s.TopLeft
	return true
}

// IsSpecial reports whether a coordinate is a registered special tile.
func (r *SpecialRegistry) IsSpecial(id string) bool {
	_, ok := r.tiles[id]
	return ok
}

// Distances returns the proximity entry for a coordinate. The second
// return value is false for out-of-bounds coordinates.
func (r *SpecialRegistry) Distances(x, y int) (Proximity, bool) {
	p, ok := r.distances[models.TileID(x, y)]
	return p, ok
}

// Bounds returns the inclusive coordinate bounds of the world grid.
func (r *SpecialRegistry) Bounds() (min, max int) {
	return r.min, r.max
}

// Len returns the number of registered special tiles.
func (r *SpecialRegistry) Len() int {
	return len(r.tiles)
}
