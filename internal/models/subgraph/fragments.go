// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

// Package subgraph defines the raw record shapes returned by the
// external land subgraph, pre-mapping. Numeric values arrive as strings
// per The Graph's wire conventions; the mapper normalizes them.
package subgraph

// Account is an owner reference.
type Account struct {
	ID string `json:"id"`
}

// Order is an active marketplace order. Price is a wei-denominated
// integer string; ExpiresAt is a millisecond epoch string.
type Order struct {
	Price     string `json:"price"`
	ExpiresAt string `json:"expiresAt"`
}

// ParcelFragment is one parcel record from the nfts query.
//
// When the parcel belongs to an estate, Estate carries the estate's own
// projection: an estate-owned parcel's visible attributes (name, owner,
// active order) come from the estate, and any estate-level change must
// propagate to member tiles through the max of the two updatedAt values.
type ParcelFragment struct {
	TokenID     string          `json:"tokenId"`
	Name        *string         `json:"name"`
	Owner       *Account        `json:"owner"`
	X           string          `json:"searchParcelX"`
	Y           string          `json:"searchParcelY"`
	ActiveOrder *Order          `json:"activeOrder"`
	UpdatedAt   string          `json:"updatedAt"`
	Estate      *EstateFragment `json:"estate"`
}

// EstateFragment is one estate record, either nested inside a parcel
// or returned by the estate-update and single-estate queries.
type EstateFragment struct {
	TokenID     string   `json:"tokenId"`
	Size        int      `json:"size"`
	Name        *string  `json:"name"`
	Owner       *Account `json:"owner"`
	ActiveOrder *Order   `json:"activeOrder"`
	UpdatedAt   string   `json:"updatedAt"`

	// Parcels lists member parcels; populated on estate queries only.
	Parcels []ParcelPointer `json:"parcels"`
}

// ParcelPointer identifies a member parcel of an estate.
type ParcelPointer struct {
	TokenID string `json:"tokenId"`
	X       string `json:"x"`
	Y       string `json:"y"`
}
