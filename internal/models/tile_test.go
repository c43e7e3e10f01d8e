// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

package models

import "testing"

func TestTileIDRoundTrip(t *testing.T) {
	cases := []struct {
		x, y int
		want string
	}{
		{0, 0, "0,0"},
		{-150, 150, "-150,150"},
		{23, -42, "23,-42"},
	}
	for _, tc := range cases {
		id := TileID(tc.x, tc.y)
		if id != tc.want {
			t.Errorf("TileID(%d, %d) = %q, want %q", tc.x, tc.y, id, tc.want)
		}
		x, y, err := ParseTileID(id)
		if err != nil {
			t.Fatalf("ParseTileID(%q): %v", id, err)
		}
		if x != tc.x || y != tc.y {
			t.Errorf("ParseTileID(%q) = (%d, %d), want (%d, %d)", id, x, y, tc.x, tc.y)
		}
	}
}

func TestParseTileIDInvalid(t *testing.T) {
	for _, id := range []string{"", "1", "1,", ",2", "a,b", "1;2"} {
		if _, _, err := ParseTileID(id); err == nil {
			t.Errorf("ParseTileID(%q) should fail", id)
		}
	}
}

func TestTileCloneIsDeep(t *testing.T) {
	orig := &Tile{
		ID:   TileID(1, 2),
		X:    1,
		Y:    2,
		Type: TypeOwned,
		RentalListing: &RentalListing{
			Expiration: 100,
			Periods:    []RentalPeriod{{MinDays: 1, MaxDays: 30, PricePerDay: "1000000000000000000"}},
		},
	}

	clone := orig.Clone()
	clone.Top = true
	clone.RentalListing.Expiration = 999
	clone.RentalListing.Periods[0].MinDays = 7

	if orig.Top {
		t.Error("mutating the clone changed the original's flags")
	}
	if orig.RentalListing.Expiration != 100 {
		t.Error("mutating the clone changed the original's listing")
	}
	if orig.RentalListing.Periods[0].MinDays != 1 {
		t.Error("mutating the clone changed the original's periods")
	}
}

func TestTokenKey(t *testing.T) {
	if got := TokenKey("0xabc", "42"); got != "0xabc-42" {
		t.Errorf("TokenKey = %q, want 0xabc-42", got)
	}
}
