// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

package mapper

import (
	"testing"

	"github.com/mapgrid/atlas/internal/models"
)

func TestLoadSpecialsEmbedded(t *testing.T) {
	r, err := LoadSpecials()
	if err != nil {
		t.Fatalf("LoadSpecials: %v", err)
	}
	if r.Len() == 0 {
		t.Fatal("embedded registry must not be empty")
	}
	min, max := r.Bounds()
	if min >= max {
		t.Errorf("invalid bounds [%d, %d]", min, max)
	}
}

func TestLoadSpecialsRejectsBadBounds(t *testing.T) {
	_, err := loadSpecials([]byte(`{"bounds": {"min": 5, "max": 5}}`))
	if err == nil {
		t.Error("expected error for degenerate bounds")
	}
}

func TestExpandPlazaWinsOverRoad(t *testing.T) {
	raw := `{
		"bounds": {"min": -5, "max": 5},
		"plazas": [{"name": "P", "x1": 0, "y1": 0, "x2": 1, "y2": 1}],
		"roads": [{"name": "R", "x1": 0, "y1": 0, "x2": 3, "y2": 0}],
		"districts": []
	}`
	r, err := loadSpecials([]byte(raw))
	if err != nil {
		t.Fatalf("loadSpecials: %v", err)
	}

	tile := &models.Tile{ID: models.TileID(0, 0)}
	if !r.Overlay(tile) {
		t.Fatal("0,0 must be special")
	}
	if tile.Type != models.TypePlaza {
		t.Errorf("Type = %q, plaza must win the overlap", tile.Type)
	}

	tile = &models.Tile{ID: models.TileID(2, 0)}
	if !r.Overlay(tile) {
		t.Fatal("2,0 must be special")
	}
	if tile.Type != models.TypeRoad {
		t.Errorf("Type = %q, want road", tile.Type)
	}
}

func TestStitchShapesConnectivity(t *testing.T) {
	raw := `{
		"bounds": {"min": -5, "max": 5},
		"plazas": [],
		"roads": [{"name": "R", "x1": 0, "y1": 0, "x2": 2, "y2": 1}],
		"districts": []
	}`
	r, err := loadSpecials([]byte(raw))
	if err != nil {
		t.Fatalf("loadSpecials: %v", err)
	}

	// Interior tile (1,0): road neighbors north (1,1), west (0,0) and
	// northwest (0,1).
	tile := &models.Tile{ID: models.TileID(1, 0)}
	r.Overlay(tile)
	if !tile.Top || !tile.Left || !tile.TopLeft {
		t.Errorf("interior tile flags = %v/%v/%v, want all true", tile.Top, tile.Left, tile.TopLeft)
	}

	// Northwest corner (0,1) has no road north or west of it.
	tile = &models.Tile{ID: models.TileID(0, 1)}
	r.Overlay(tile)
	if tile.Top || tile.Left || tile.TopLeft {
		t.Errorf("corner tile flags = %v/%v/%v, want all false", tile.Top, tile.Left, tile.TopLeft)
	}
}

func TestDistancesFlood(t *testing.T) {
	raw := `{
		"bounds": {"min": -5, "max": 5},
		"plazas": [{"name": "P", "x1": 0, "y1": 0, "x2": 0, "y2": 0}],
		"roads": [],
		"districts": []
	}`
	r, err := loadSpecials([]byte(raw))
	if err != nil {
		t.Fatalf("loadSpecials: %v", err)
	}

	cases := []struct {
		x, y int
		want int
	}{
		{0, 0, 0},
		{1, 0, 1},
		{1, 1, 1}, // Chebyshev: diagonal counts as one step
		{-3, 4, 4},
		{5, 5, 5},
	}
	for _, tc := range cases {
		prox, ok := r.Distances(tc.x, tc.y)
		if !ok {
			t.Fatalf("Distances(%d, %d) missing", tc.x, tc.y)
		}
		if prox.Plaza != tc.want {
			t.Errorf("Distances(%d, %d).Plaza = %d, want %d", tc.x, tc.y, prox.Plaza, tc.want)
		}
		if prox.Road != -1 || prox.District != -1 {
			t.Errorf("empty categories must report -1, got %+v", prox)
		}
	}
}

func TestDistancesOutOfBounds(t *testing.T) {
	r, err := loadSpecials([]byte(`{
		"bounds": {"min": -2, "max": 2},
		"plazas": [{"name": "P", "x1": 0, "y1": 0, "x2": 0, "y2": 0}],
		"roads": [], "districts": []
	}`))
	if err != nil {
		t.Fatalf("loadSpecials: %v", err)
	}
	if _, ok := r.Distances(100, 100); ok {
		t.Error("out-of-bounds coordinate must not have a proximity entry")
	}
}
