// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

package subgraph

import (
	"context"
	"fmt"

	"github.com/mapgrid/atlas/internal/models/subgraph"
)

// parcelFields are the fragment fields shared by all parcel queries.
// The nested estate projection carries the attributes that supersede
// the parcel's own when it belongs to an estate.
const parcelFields = `
	tokenId
	name
	owner { id }
	searchParcelX
	searchParcelY
	activeOrder { price expiresAt }
	updatedAt
	estate {
		tokenId
		size
		name
		owner { id }
		activeOrder { price expiresAt }
		updatedAt
	}
`

const estateFields = `
	tokenId
	size
	name
	owner { id }
	activeOrder { price expiresAt }
	updatedAt
	parcels { tokenId x y }
`

var parcelsQuery = fmt.Sprintf(`
query Parcels($first: Int!, $skip: Int!, $lastTokenId: String!) {
	nfts(
		first: $first
		skip: $skip
		orderBy: tokenId
		orderDirection: asc
		where: { category: parcel, tokenId_gt: $lastTokenId }
	) { %s }
}`, parcelFields)

var updatedParcelsQuery = fmt.Sprintf(`
query UpdatedParcels($first: Int!, $skip: Int!, $updatedAfter: Int!) {
	nfts(
		first: $first
		skip: $skip
		orderBy: updatedAt
		orderDirection: asc
		where: { category: parcel, updatedAt_gt: $updatedAfter }
	) { %s }
}`, parcelFields)

var updatedEstatesQuery = fmt.Sprintf(`
query UpdatedEstates($first: Int!, $skip: Int!, $updatedAfter: Int!) {
	estates(
		first: $first
		skip: $skip
		orderBy: updatedAt
		orderDirection: asc
		where: { updatedAt_gt: $updatedAfter }
	) { %s }
}`, estateFields)

var estateQuery = fmt.Sprintf(`
query Estate($tokenId: String!) {
	estates(first: 1, where: { tokenId: $tokenId }) { %s }
}`, estateFields)

// Parcels implements ClientInterface.
func (c *Client) Parcels(ctx context.Context, lastTokenID string, first, skip int) ([]subgraph.ParcelFragment, error) {
	if lastTokenID == "" {
		lastTokenID = "-1"
	}
	var out struct {
		NFTs []subgraph.ParcelFragment `json:"nfts"`
	}
	err := c.query(ctx, parcelsQuery, map[string]interface{}{
		"first":       first,
		"skip":        skip,
		"lastTokenId": lastTokenID,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch parcels (skip=%d): %w", skip, err)
	}
	return out.NFTs, nil
}

// UpdatedParcels implements ClientInterface.
func (c *Client) UpdatedParcels(ctx context.Context, updatedAfter int64, first, skip int) ([]subgraph.ParcelFragment, error) {
	var out struct {
		NFTs []subgraph.ParcelFragment `json:"nfts"`
	}
	err := c.query(ctx, updatedParcelsQuery, map[string]interface{}{
		"first":        first,
		"skip":         skip,
		"updatedAfter": updatedAfter,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch updated parcels (after=%d skip=%d): %w", updatedAfter, skip, err)
	}
	return out.NFTs, nil
}

// UpdatedEstates implements ClientInterface.
func (c *Client) UpdatedEstates(ctx context.Context, updatedAfter int64, first, skip int) ([]subgraph.EstateFragment, error) {
	var out struct {
		Estates []subgraph.EstateFragment `json:"estates"`
	}
	err := c.query(ctx, updatedEstatesQuery, map[string]interface{}{
		"first":        first,
		"skip":         skip,
		"updatedAfter": updatedAfter,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch updated estates (after=%d skip=%d): %w", updatedAfter, skip, err)
	}
	return out.Estates, nil
}

// Estate implements ClientInterface. Returns nil when no estate with
// the given token id exists.
func (c *Client) Estate(ctx context.Context, tokenID string) (*subgraph.EstateFragment, error) {
	var out struct {
		Estates []subgraph.EstateFragment `json:"estates"`
	}
	err := c.query(ctx, estateQuery, map[string]interface{}{
		"tokenId": tokenID,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch estate %s: %w", tokenID, err)
	}
	if len(out.Estates) == 0 {
		return nil, nil
	}
	return &out.Estates[0], nil
}
