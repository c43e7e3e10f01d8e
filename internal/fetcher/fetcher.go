// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

// Package fetcher orchestrates data retrieval from the land subgraph
// and the rentals service and merges both sources into fetch results
// the map engine can apply.
//
// Full snapshots paginate the subgraph with bounded concurrency; any
// failure, in a parcel page or in the open-listings pass, aborts the
// snapshot so a partial world state is never published. Incremental
// fetches treat land and rentals as independent failure domains:
// either source can fail without discarding the other's data, and the
// returned cursor is the minimum across sources so nothing is skipped
// on the next cycle.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mapgrid/atlas/internal/config"
	"github.com/mapgrid/atlas/internal/logging"
	"github.com/mapgrid/atlas/internal/mapper"
	"github.com/mapgrid/atlas/internal/metrics"
	"github.com/mapgrid/atlas/internal/models"
	sgmodels "github.com/mapgrid/atlas/internal/models/subgraph"
	"github.com/mapgrid/atlas/internal/rentals"
	"github.com/mapgrid/atlas/internal/subgraph"
)

// ProgressFunc receives snapshot fetch progress in the range 0-100.
// Values are monotonically non-decreasing and capped at 99 until the
// snapshot completes.
type ProgressFunc func(percent int)

// Fetcher coordinates the subgraph and rentals clients.
type Fetcher struct {
	land    subgraph.ClientInterface
	rentals rentals.ClientInterface
	mapper  *mapper.Mapper

	batchSize   int
	concurrency int

	landContract   string
	estateContract string
}

// New creates a fetcher.
func New(land subgraph.ClientInterface, rentalsClient rentals.ClientInterface, m *mapper.Mapper, cfg *config.Config) *Fetcher {
	return &Fetcher{
		land:           land,
		rentals:        rentalsClient,
		mapper:         m,
		batchSize:      cfg.Subgraph.BatchSize,
		concurrency:    cfg.Subgraph.Concurrency,
		landContract:   cfg.Contracts.Land,
		estateContract: cfg.Contracts.Estate,
	}
}

// FetchData retrieves the complete world state: every parcel from the
// subgraph plus the open rental listings for all of them.
//
// Pagination runs in rounds of `concurrency` pages sharing a tokenId
// cursor, with page i offset by i*batchSize. A round that returns any
// short page ends the scan; this assumes the subgraph does not leave
// gaps inside a page window.
//
// Any error, from a parcel page or from the rentals pass, aborts the
// whole snapshot. Listings fetched later would otherwise be lost for
// good: incremental cycles only see listings updated after the
// snapshot cursor, so an open listing older than the cursor never
// comes back.
func (f *Fetcher) FetchData(ctx context.Context, progress ProgressFunc) (*models.Result, error) {
	start := time.Now()
	report := progressReporter(progress)
	report(0)

	var fragments []sgmodels.ParcelFragment
	lastTokenID := ""

	for {
		pages := make([][]sgmodels.ParcelFragment, f.concurrency)
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < f.concurrency; i++ {
			g.Go(func() error {
				page, err := f.land.Parcels(gctx, lastTokenID, f.batchSize, i*f.batchSize)
				if err != nil {
					return err
				}
				pages[i] = page
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			metrics.FetchErrors.WithLabelValues("subgraph").Inc()
			return nil, fmt.Errorf("snapshot fetch aborted: %w", err)
		}

		done := false
		for _, page := range pages {
			fragments = append(fragments, page...)
			metrics.FetchBatchSize.Observe(float64(len(page)))
			if len(page) < f.batchSize {
				done = true
			}
		}
		report(-1)
		if done {
			break
		}
		last := pages[f.concurrency-1]
		lastTokenID = last[len(last)-1].TokenID
	}

	listings, err := f.rentals.OpenListingsByNFTID(ctx, f.nftIDs(fragments))
	if err != nil {
		metrics.FetchErrors.WithLabelValues("rentals").Inc()
		return nil, fmt.Errorf("snapshot fetch aborted: %w", err)
	}

	result := f.buildSnapshot(fragments, listings)
	report(100)
	metrics.RecordFetch("snapshot", time.Since(start))
	logging.Info().
		Int("tiles", len(result.Tiles)).
		Int("estates", len(result.Estates)).
		Int64("updated_at", result.UpdatedAt).
		Dur("duration", time.Since(start)).
		Msg("Snapshot fetch complete")
	return result, nil
}

// FetchUpdatedData retrieves every change after the given cursor (unix
// seconds) and merges it against oldTiles, the currently published
// tile index. oldTiles is never mutated; tiles carried from it are
// cloned before modification.
//
// Land (parcels + estates) and rentals are fetched concurrently. A
// failure in one source is logged and counted but does not discard the
// other source's data; the failed source's cursor stays at
// updatedAfter so its changes are retried next cycle. The call fails
// only when both sources fail.
func (f *Fetcher) FetchUpdatedData(ctx context.Context, updatedAfter int64, oldTiles map[string]*models.Tile) (*models.Result, error) {
	start := time.Now()

	var (
		wg sync.WaitGroup

		parcelFragments []sgmodels.ParcelFragment
		estateFragments []sgmodels.EstateFragment
		landErr         error

		listings   []rentals.Listing
		rentalsErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		parcelFragments, estateFragments, landErr = f.fetchUpdatedLand(ctx, updatedAfter)
	}()
	go func() {
		defer wg.Done()
		listings, rentalsErr = f.rentals.UpdatedListings(ctx, updatedAfter*1000)
	}()
	wg.Wait()

	if landErr != nil {
		metrics.FetchErrors.WithLabelValues("subgraph").Inc()
		logging.Error().Err(landErr).Msg("Incremental land fetch failed")
	}
	if rentalsErr != nil {
		metrics.FetchErrors.WithLabelValues("rentals").Inc()
		logging.Error().Err(rentalsErr).Msg("Incremental rentals fetch failed")
	}
	if landErr != nil && rentalsErr != nil {
		return nil, errors.Join(landErr, rentalsErr)
	}

	result := f.mergeUpdate(updatedAfter, parcelFragments, estateFragments, listings, landErr, rentalsErr, oldTiles)

	metrics.RecordFetch("incremental", time.Since(start))
	if len(result.Tiles) > 0 {
		logging.Info().
			Int("tiles", len(result.Tiles)).
			Int64("cursor", result.UpdatedAt).
			Msg("Incremental fetch applied")
	}
	return result, nil
}

// DissolvedEstate looks up an estate directly in the subgraph. The map
// snapshot drops estates once their last parcel leaves, but their
// token ids remain referenced externally; this resolves such ids on
// demand. Returns nil when the estate does not exist at all.
func (f *Fetcher) DissolvedEstate(ctx context.Context, tokenID string) (*models.NFT, error) {
	e, err := f.land.Estate(ctx, tokenID)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("estates").Inc()
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	if e.Size > 0 {
		nft := f.mapper.BuildEstate(e)
		return &nft, nil
	}
	return f.mapper.DissolvedEstate(e), nil
}

// fetchUpdatedLand pages through parcels and estates changed after the
// cursor. Sequential pagination is fine here; deltas are small.
func (f *Fetcher) fetchUpdatedLand(ctx context.Context, updatedAfter int64) ([]sgmodels.ParcelFragment, []sgmodels.EstateFragment, error) {
	var parcels []sgmodels.ParcelFragment
	for skip := 0; ; skip += f.batchSize {
		page, err := f.land.UpdatedParcels(ctx, updatedAfter, f.batchSize, skip)
		if err != nil {
			return nil, nil, err
		}
		parcels = append(parcels, page...)
		if len(page) < f.batchSize {
			break
		}
	}

	var estates []sgmodels.EstateFragment
	for skip := 0; ; skip += f.batchSize {
		page, err := f.land.UpdatedEstates(ctx, updatedAfter, f.batchSize, skip)
		if err != nil {
			return nil, nil, err
		}
		estates = append(estates, page...)
		if len(page) < f.batchSize {
			break
		}
	}

	return parcels, estates, nil
}

// buildSnapshot converts the full fragment set into a Result, grouping
// estate members so estate records carry real member coordinates.
func (f *Fetcher) buildSnapshot(fragments []sgmodels.ParcelFragment, listings map[string]rentals.Listing) *models.Result {
	result := &models.Result{
		Tiles:   make([]*models.Tile, 0, len(fragments)),
		Parcels: make([]models.NFT, 0, len(fragments)),
	}

	estates := make(map[string]*sgmodels.EstateFragment)
	for i := range fragments {
		p := &fragments[i]

		var shortened *models.RentalListing
		if l, ok := listings[f.nftID(p)]; ok {
			shortened = shortenListing(l)
		}

		tile, err := f.mapper.BuildTile(p, shortened)
		if err != nil {
			logging.Warn().Err(err).Str("token_id", p.TokenID).Msg("Skipping malformed parcel")
			continue
		}
		result.Tiles = append(result.Tiles, tile)
		if tile.UpdatedAt > result.UpdatedAt {
			result.UpdatedAt = tile.UpdatedAt
		}

		if nft, err := f.mapper.BuildParcel(p); err == nil {
			result.Parcels = append(result.Parcels, nft)
		}

		if p.Estate != nil {
			e, ok := estates[p.Estate.TokenID]
			if !ok {
				clone := *p.Estate
				e = &clone
				estates[p.Estate.TokenID] = e
			}
			e.Parcels = append(e.Parcels, sgmodels.ParcelPointer{TokenID: p.TokenID, X: p.X, Y: p.Y})
		}
	}

	result.Estates = make([]models.NFT, 0, len(estates))
	for _, e := range estates {
		result.Estates = append(result.Estates, f.mapper.BuildEstate(e))
	}
	return result
}

// mergeUpdate builds the incremental Result: land tile updates, estate
// member synthesis, listing carry-over and rental reconciliation, and
// the combined cursor.
func (f *Fetcher) mergeUpdate(
	updatedAfter int64,
	parcelFragments []sgmodels.ParcelFragment,
	estateFragments []sgmodels.EstateFragment,
	listings []rentals.Listing,
	landErr, rentalsErr error,
	oldTiles map[string]*models.Tile,
) *models.Result {
	result := &models.Result{}
	updates := make(map[string]*models.Tile)

	parcelCursor := updatedAfter
	estateCursor := updatedAfter
	rentalCursor := updatedAfter

	for i := range parcelFragments {
		p := &parcelFragments[i]
		tile, err := f.mapper.BuildTile(p, nil)
		if err != nil {
			logging.Warn().Err(err).Str("token_id", p.TokenID).Msg("Skipping malformed parcel update")
			continue
		}
		updates[tile.ID] = tile
		if tile.UpdatedAt > parcelCursor {
			parcelCursor = tile.UpdatedAt
		}
		if nft, err := f.mapper.BuildParcel(p); err == nil {
			result.Parcels = append(result.Parcels, nft)
		}
	}

	// An estate change affects every member tile, but the subgraph only
	// reports the estate entity. Synthesize updates for members the
	// parcel delta did not already cover.
	seenEstates := make(map[string]bool)
	for i := range estateFragments {
		e := &estateFragments[i]
		if ts := parseCursor(e.UpdatedAt); ts > estateCursor {
			estateCursor = ts
		}
		if !seenEstates[e.TokenID] {
			seenEstates[e.TokenID] = true
			if e.Size > 0 {
				result.Estates = append(result.Estates, f.mapper.BuildEstate(e))
			} else if stub := f.mapper.DissolvedEstate(e); stub != nil {
				result.Estates = append(result.Estates, *stub)
			}
		}
		for _, member := range e.Parcels {
			synthetic := sgmodels.ParcelFragment{
				TokenID:   member.TokenID,
				X:         member.X,
				Y:         member.Y,
				UpdatedAt: e.UpdatedAt,
				Estate:    e,
			}
			tile, err := f.mapper.BuildTile(&synthetic, nil)
			if err != nil {
				continue
			}
			if _, fromParcelDelta := updates[tile.ID]; fromParcelDelta {
				continue
			}
			updates[tile.ID] = tile
		}
	}

	// Land updates carry no listing information; preserve what the
	// published tile already had before rentals get the final word.
	for id, tile := range updates {
		if old, ok := oldTiles[id]; ok && old.RentalListing != nil {
			r := old.RentalListing.Clone()
			tile.RentalListing = &r
		}
	}

	rentalCursor = f.reconcileListings(listings, updates, oldTiles, rentalCursor)

	// A failed source keeps its cursor at updatedAfter, and the merged
	// cursor is the minimum of the three, so failed or slow sources are
	// re-queried next cycle instead of being skipped past.
	if landErr != nil {
		parcelCursor, estateCursor = updatedAfter, updatedAfter
	}
	if rentalsErr != nil {
		rentalCursor = updatedAfter
	}
	result.UpdatedAt = minCursor(parcelCursor, estateCursor, rentalCursor)

	result.Tiles = make([]*models.Tile, 0, len(updates))
	for _, tile := range updates {
		result.Tiles = append(result.Tiles, tile)
	}
	return result
}

// reconcileListings applies rental changes to the update set: open
// listings attach, any other status detaches. Targets absent from both
// the update set and the published index are dropped. Returns the
// advanced rental cursor.
func (f *Fetcher) reconcileListings(listings []rentals.Listing, updates map[string]*models.Tile, oldTiles map[string]*models.Tile, cursor int64) int64 {
	if len(listings) == 0 {
		return cursor
	}

	byNFTID := make(map[string][]string)
	index := func(id string, t *models.Tile) {
		byNFTID[f.tileNFTID(t)] = append(byNFTID[f.tileNFTID(t)], id)
	}
	for id, t := range oldTiles {
		if _, updated := updates[id]; !updated {
			index(id, t)
		}
	}
	for id, t := range updates {
		index(id, t)
	}

	for _, l := range listings {
		if ts := l.UpdatedAt / 1000; ts > cursor {
			cursor = ts
		}

		var shortened *models.RentalListing
		if l.Status == rentals.StatusOpen {
			shortened = shortenListing(l)
		}

		for _, id := range byNFTID[l.NFTID] {
			tile, ok := updates[id]
			if !ok {
				tile = oldTiles[id].Clone()
				if ts := l.UpdatedAt / 1000; ts > tile.UpdatedAt {
					tile.UpdatedAt = ts
				}
				updates[id] = tile
			}
			if shortened != nil {
				r := shortened.Clone()
				tile.RentalListing = &r
			} else {
				tile.RentalListing = nil
			}
		}
	}
	return cursor
}

// nftIDs returns the distinct rental-service NFT ids covering the
// given fragments. Parcels inside an estate rent through the estate
// token, so members collapse to one id.
func (f *Fetcher) nftIDs(fragments []sgmodels.ParcelFragment) []string {
	seen := make(map[string]bool, len(fragments))
	ids := make([]string, 0, len(fragments))
	for i := range fragments {
		id := f.nftID(&fragments[i])
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func (f *Fetcher) nftID(p *sgmodels.ParcelFragment) string {
	if p.Estate != nil {
		return models.TokenKey(f.estateContract, p.Estate.TokenID)
	}
	return models.TokenKey(f.landContract, p.TokenID)
}

func (f *Fetcher) tileNFTID(t *models.Tile) string {
	if t.EstateID != "" {
		return models.TokenKey(f.estateContract, t.EstateID)
	}
	return models.TokenKey(f.landContract, t.TokenID)
}

// shortenListing projects a full listing into the tile attachment.
func shortenListing(l rentals.Listing) *models.RentalListing {
	periods := make([]models.RentalPeriod, len(l.Periods))
	for i, p := range l.Periods {
		periods[i] = models.RentalPeriod{MinDays: p.MinDays, MaxDays: p.MaxDays, PricePerDay: p.PricePerDay}
	}
	return &models.RentalListing{
		Expiration: l.Expiration,
		CreatedAt:  l.CreatedAt,
		Periods:    periods,
	}
}

// progressReporter wraps the optional callback with the monotonic
// capped progression used during pagination, where total page count is
// unknown up front. Passing -1 advances one step; any other value is
// reported as-is.
func progressReporter(progress ProgressFunc) func(int) {
	current := 0
	return func(v int) {
		if v < 0 {
			current += (100 - current) / 10
			if current > 99 {
				current = 99
			}
		} else {
			current = v
		}
		metrics.FetchProgress.Set(float64(current))
		if progress != nil {
			progress(current)
		}
	}
}

func parseCursor(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func minCursor(values ...int64) int64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
