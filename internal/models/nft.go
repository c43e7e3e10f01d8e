// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

package models

// NFT is the externally exposed metadata record for a parcel or estate,
// keyed by token id. The shape follows the common NFT metadata
// convention (name/description/image/attributes).
type NFT struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	Image           string      `json:"image"`
	ExternalURL     string      `json:"external_url"`
	Attributes      []Attribute `json:"attributes"`
	BackgroundColor string      `json:"background_color"`
}

// Attribute is one NFT metadata attribute, e.g. a coordinate or a
// distance to the nearest plaza.
type Attribute struct {
	TraitType   string `json:"trait_type"`
	Value       int    `json:"value"`
	DisplayType string `json:"display_type,omitempty"`
}

// TokenKey builds the "{contractAddress}-{id}" key used by the token
// index of the map snapshot.
func TokenKey(contractAddress, tokenID string) string {
	return contractAddress + "-" + tokenID
}

// Result is the transient aggregate produced by one fetch cycle.
// Estates are de-duplicated by id before the result is built.
// UpdatedAt is the cursor the next incremental fetch should use.
type Result struct {
	Tiles     []*Tile `json:"tiles"`
	Parcels   []NFT   `json:"parcels"`
	Estates   []NFT   `json:"estates"`
	UpdatedAt int64   `json:"updatedAt"`
}
