// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

package fetcher

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/mapgrid/atlas/internal/config"
	"github.com/mapgrid/atlas/internal/mapper"
	"github.com/mapgrid/atlas/internal/models"
	sgmodels "github.com/mapgrid/atlas/internal/models/subgraph"
	"github.com/mapgrid/atlas/internal/rentals"
)

const (
	landContract   = "0xland"
	estateContract = "0xestate"
)

// stubSubgraph implements subgraph.ClientInterface over fixed data.
type stubSubgraph struct {
	mu          sync.Mutex
	parcels     []sgmodels.ParcelFragment // sorted by numeric token id
	updated     []sgmodels.ParcelFragment
	estates     []sgmodels.EstateFragment
	estateByID  map[string]*sgmodels.EstateFragment
	pageCalls   int
	failParcels bool
	failUpdated bool
}

func (s *stubSubgraph) Parcels(_ context.Context, lastTokenID string, first, skip int) ([]sgmodels.ParcelFragment, error) {
	s.mu.Lock()
	s.pageCalls++
	s.mu.Unlock()
	if s.failParcels {
		return nil, errors.New("subgraph unavailable")
	}

	last := int64(-1)
	if lastTokenID != "" {
		last, _ = strconv.ParseInt(lastTokenID, 10, 64)
	}
	var filtered []sgmodels.ParcelFragment
	for _, p := range s.parcels {
		id, _ := strconv.ParseInt(p.TokenID, 10, 64)
		if id > last {
			filtered = append(filtered, p)
		}
	}
	if skip >= len(filtered) {
		return nil, nil
	}
	end := skip + first
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[skip:end], nil
}

func (s *stubSubgraph) UpdatedParcels(_ context.Context, _ int64, first, skip int) ([]sgmodels.ParcelFragment, error) {
	if s.failUpdated {
		return nil, errors.New("subgraph unavailable")
	}
	if skip >= len(s.updated) {
		return nil, nil
	}
	end := skip + first
	if end > len(s.updated) {
		end = len(s.updated)
	}
	return s.updated[skip:end], nil
}

func (s *stubSubgraph) UpdatedEstates(_ context.Context, _ int64, first, skip int) ([]sgmodels.EstateFragment, error) {
	if s.failUpdated {
		return nil, errors.New("subgraph unavailable")
	}
	if skip >= len(s.estates) {
		return nil, nil
	}
	end := skip + first
	if end > len(s.estates) {
		end = len(s.estates)
	}
	return s.estates[skip:end], nil
}

func (s *stubSubgraph) Estate(_ context.Context, tokenID string) (*sgmodels.EstateFragment, error) {
	return s.estateByID[tokenID], nil
}

// stubRentals implements rentals.ClientInterface over fixed data.
type stubRentals struct {
	open        map[string]rentals.Listing
	updated     []rentals.Listing
	failOpen    bool
	failUpdated bool
	gotNFTIDs   []string
}

func (s *stubRentals) OpenListingsByNFTID(_ context.Context, nftIDs []string) (map[string]rentals.Listing, error) {
	s.gotNFTIDs = nftIDs
	if s.failOpen {
		return nil, errors.New("rentals unavailable")
	}
	out := make(map[string]rentals.Listing)
	for _, id := range nftIDs {
		if l, ok := s.open[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

func (s *stubRentals) UpdatedListings(_ context.Context, _ int64) ([]rentals.Listing, error) {
	if s.failUpdated {
		return nil, errors.New("rentals unavailable")
	}
	return s.updated, nil
}

func newTestFetcher(t *testing.T, land *stubSubgraph, r *stubRentals, batchSize, concurrency int) *Fetcher {
	t.Helper()
	specials, err := mapper.LoadSpecials()
	if err != nil {
		t.Fatalf("LoadSpecials: %v", err)
	}
	cfg := &config.Config{
		Subgraph:  config.SubgraphConfig{BatchSize: batchSize, Concurrency: concurrency},
		Contracts: config.ContractsConfig{Land: landContract, Estate: estateContract},
	}
	return New(land, r, mapper.New(specials, "https://atlas.test"), cfg)
}

// testParcel builds a parcel away from any special tile.
func testParcel(tokenID string, x, y int, updatedAt int64) sgmodels.ParcelFragment {
	owner := &sgmodels.Account{ID: "0xowner"}
	return sgmodels.ParcelFragment{
		TokenID:   tokenID,
		X:         strconv.Itoa(x),
		Y:         strconv.Itoa(y),
		Owner:     owner,
		UpdatedAt: strconv.FormatInt(updatedAt, 10),
	}
}

func TestFetchDataPaginationTermination(t *testing.T) {
	land := &stubSubgraph{}
	// Five parcels, batch size 2, concurrency 2: round one returns two
	// full pages, round two returns a short page and stops.
	for i := 1; i <= 5; i++ {
		land.parcels = append(land.parcels, testParcel(strconv.Itoa(i), 40+i, 40, int64(1000+i)))
	}
	r := &stubRentals{}
	f := newTestFetcher(t, land, r, 2, 2)

	var progress []int
	result, err := f.FetchData(context.Background(), func(p int) { progress = append(progress, p) })
	if err != nil {
		t.Fatalf("FetchData: %v", err)
	}

	if len(result.Tiles) != 5 {
		t.Errorf("tiles = %d, want 5", len(result.Tiles))
	}
	if land.pageCalls != 4 {
		t.Errorf("page calls = %d, want 4 (two rounds of two)", land.pageCalls)
	}
	if result.UpdatedAt != 1005 {
		t.Errorf("cursor = %d, want max updatedAt 1005", result.UpdatedAt)
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Errorf("progress must end at 100, got %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Errorf("progress must be monotonic, got %v", progress)
		}
	}
}

func TestProgressReporterMonotonicAndCapped(t *testing.T) {
	var seen []int
	report := progressReporter(func(p int) { seen = append(seen, p) })

	report(0)
	for i := 0; i < 80; i++ {
		report(-1)
	}
	report(100)

	if seen[0] != 0 {
		t.Errorf("first report = %d, want 0", seen[0])
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress regressed at step %d: %d -> %d", i, seen[i-1], seen[i])
		}
	}
	for _, v := range seen[1 : len(seen)-1] {
		if v > 99 {
			t.Fatalf("mid-flight progress %d exceeds the 99 cap", v)
		}
	}
	if last := seen[len(seen)-1]; last != 100 {
		t.Errorf("final report = %d, want 100", last)
	}
}

func TestFetchDataAbortsOnPageError(t *testing.T) {
	land := &stubSubgraph{failParcels: true}
	f := newTestFetcher(t, land, &stubRentals{}, 2, 2)

	if _, err := f.FetchData(context.Background(), nil); err == nil {
		t.Fatal("expected snapshot fetch to abort on page error")
	}
}

func TestFetchDataMergesOpenListings(t *testing.T) {
	land := &stubSubgraph{}
	solo := testParcel("1", 41, 40, 1000)
	member := testParcel("2", 42, 40, 1000)
	member.Estate = &sgmodels.EstateFragment{TokenID: "7", Size: 1, UpdatedAt: "1001"}
	land.parcels = []sgmodels.ParcelFragment{solo, member}

	r := &stubRentals{open: map[string]rentals.Listing{
		models.TokenKey(landContract, "1"): {
			ID: "L1", NFTID: models.TokenKey(landContract, "1"),
			Status: rentals.StatusOpen, Expiration: 9000, CreatedAt: 8000,
			Periods: []rentals.Period{{MinDays: 1, MaxDays: 30, PricePerDay: "5"}},
		},
	}}
	f := newTestFetcher(t, land, r, 10, 1)

	result, err := f.FetchData(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchData: %v", err)
	}

	// Distinct NFT ids: parcel 1 by land token, parcel 2 by its estate.
	wantIDs := map[string]bool{
		models.TokenKey(landContract, "1"):   true,
		models.TokenKey(estateContract, "7"): true,
	}
	if len(r.gotNFTIDs) != len(wantIDs) {
		t.Errorf("nft ids = %v, want %v", r.gotNFTIDs, wantIDs)
	}
	for _, id := range r.gotNFTIDs {
		if !wantIDs[id] {
			t.Errorf("unexpected nft id %q", id)
		}
	}

	byID := make(map[string]*models.Tile)
	for _, tile := range result.Tiles {
		byID[tile.ID] = tile
	}
	withListing := byID[models.TileID(41, 40)]
	if withListing == nil || withListing.RentalListing == nil {
		t.Fatal("parcel 1 should carry its open listing")
	}
	if withListing.RentalListing.Expiration != 9000 {
		t.Errorf("listing expiration = %d, want 9000", withListing.RentalListing.Expiration)
	}
	if byID[models.TileID(42, 40)].RentalListing != nil {
		t.Error("parcel 2 has no listing and must not carry one")
	}
}

func TestFetchDataRentalsFailureAbortsSnapshot(t *testing.T) {
	// A listing-less snapshot would be permanent: incremental cycles
	// only see listings updated after the snapshot cursor, so an open
	// listing older than the cursor (here 500 vs 1000) would never be
	// fetched again. The snapshot must fail instead.
	land := &stubSubgraph{parcels: []sgmodels.ParcelFragment{testParcel("1", 41, 40, 1000)}}
	r := &stubRentals{
		failOpen: true,
		open: map[string]rentals.Listing{
			models.TokenKey(landContract, "1"): {
				ID: "L1", NFTID: models.TokenKey(landContract, "1"),
				Status: rentals.StatusOpen, Expiration: 9000, UpdatedAt: 500_000,
			},
		},
	}
	f := newTestFetcher(t, land, r, 10, 1)

	if result, err := f.FetchData(context.Background(), nil); err == nil {
		t.Fatalf("snapshot must abort when the rentals pass fails, got %+v", result)
	}

	// The retry after the outage clears picks the listing up.
	r.failOpen = false
	result, err := f.FetchData(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchData after recovery: %v", err)
	}
	if len(result.Tiles) != 1 || result.Tiles[0].RentalListing == nil {
		t.Fatalf("recovered snapshot must carry the open listing, got %+v", result.Tiles)
	}
	if result.Tiles[0].RentalListing.Expiration != 9000 {
		t.Errorf("listing expiration = %d, want 9000", result.Tiles[0].RentalListing.Expiration)
	}
}

func TestFetchUpdatedDataLandFailureAppliesRentals(t *testing.T) {
	land := &stubSubgraph{failUpdated: true}
	r := &stubRentals{updated: []rentals.Listing{{
		ID: "L1", NFTID: models.TokenKey(landContract, "1"),
		Status: rentals.StatusOpen, Expiration: 9000, UpdatedAt: 95_000,
	}}}
	f := newTestFetcher(t, land, r, 10, 1)

	oldTiles := map[string]*models.Tile{
		"41,40": {ID: "41,40", X: 41, Y: 40, Type: models.TypeOwned, TokenID: "1", UpdatedAt: 40},
	}

	result, err := f.FetchUpdatedData(context.Background(), 50, oldTiles)
	if err != nil {
		t.Fatalf("one healthy source must be enough: %v", err)
	}
	if len(result.Tiles) != 1 {
		t.Fatalf("tiles = %d, want 1 rental attachment", len(result.Tiles))
	}
	if result.Tiles[0].RentalListing == nil {
		t.Error("open listing must attach to the existing tile")
	}
	if result.UpdatedAt != 50 {
		t.Errorf("cursor = %d, must stay at updatedAfter while land is failing", result.UpdatedAt)
	}
	if oldTiles["41,40"].RentalListing != nil {
		t.Error("published tile must not be mutated; attachment must clone")
	}
}

func TestFetchUpdatedDataBothSourcesFailing(t *testing.T) {
	f := newTestFetcher(t, &stubSubgraph{failUpdated: true}, &stubRentals{failUpdated: true}, 10, 1)
	if _, err := f.FetchUpdatedData(context.Background(), 50, nil); err == nil {
		t.Fatal("expected error when both sources fail")
	}
}

func TestFetchUpdatedDataCancelledListingDetaches(t *testing.T) {
	land := &stubSubgraph{}
	r := &stubRentals{updated: []rentals.Listing{{
		ID: "L1", NFTID: models.TokenKey(landContract, "1"),
		Status: rentals.StatusCancelled, UpdatedAt: 95_000,
	}}}
	f := newTestFetcher(t, land, r, 10, 1)

	oldTiles := map[string]*models.Tile{
		"41,40": {
			ID: "41,40", X: 41, Y: 40, Type: models.TypeOwned, TokenID: "1", UpdatedAt: 40,
			RentalListing: &models.RentalListing{Expiration: 9000},
		},
	}

	result, err := f.FetchUpdatedData(context.Background(), 50, oldTiles)
	if err != nil {
		t.Fatalf("FetchUpdatedData: %v", err)
	}
	if len(result.Tiles) != 1 {
		t.Fatalf("tiles = %d, want 1", len(result.Tiles))
	}
	if result.Tiles[0].RentalListing != nil {
		t.Error("cancelled listing must detach from the tile")
	}
	if oldTiles["41,40"].RentalListing == nil {
		t.Error("published tile must keep its listing; detachment must clone")
	}
}

func TestFetchUpdatedDataRentalPrecedenceOverCarriedListing(t *testing.T) {
	land := &stubSubgraph{updated: []sgmodels.ParcelFragment{testParcel("1", 41, 40, 100)}}
	r := &stubRentals{updated: []rentals.Listing{{
		ID: "L2", NFTID: models.TokenKey(landContract, "1"),
		Status: rentals.StatusOpen, Expiration: 7777, UpdatedAt: 100_000,
	}}}
	f := newTestFetcher(t, land, r, 10, 1)

	oldTiles := map[string]*models.Tile{
		"41,40": {
			ID: "41,40", X: 41, Y: 40, Type: models.TypeOwned, TokenID: "1", UpdatedAt: 40,
			RentalListing: &models.RentalListing{Expiration: 1111},
		},
	}

	result, err := f.FetchUpdatedData(context.Background(), 50, oldTiles)
	if err != nil {
		t.Fatalf("FetchUpdatedData: %v", err)
	}
	if len(result.Tiles) != 1 {
		t.Fatalf("tiles = %d, want 1", len(result.Tiles))
	}
	if got := result.Tiles[0].RentalListing; got == nil || got.Expiration != 7777 {
		t.Errorf("rental delta must win over the carried listing, got %+v", got)
	}
}

func TestFetchUpdatedDataCarriesListingWithoutRentalDelta(t *testing.T) {
	land := &stubSubgraph{updated: []sgmodels.ParcelFragment{testParcel("1", 41, 40, 100)}}
	f := newTestFetcher(t, land, &stubRentals{}, 10, 1)

	oldTiles := map[string]*models.Tile{
		"41,40": {
			ID: "41,40", X: 41, Y: 40, Type: models.TypeOwned, TokenID: "1", UpdatedAt: 40,
			RentalListing: &models.RentalListing{Expiration: 1111},
		},
	}

	result, err := f.FetchUpdatedData(context.Background(), 50, oldTiles)
	if err != nil {
		t.Fatalf("FetchUpdatedData: %v", err)
	}
	if got := result.Tiles[0].RentalListing; got == nil || got.Expiration != 1111 {
		t.Errorf("land-only update must preserve the existing listing, got %+v", got)
	}
}

func TestFetchUpdatedDataUnknownRentalTargetDropped(t *testing.T) {
	r := &stubRentals{updated: []rentals.Listing{{
		ID: "L1", NFTID: models.TokenKey(landContract, "999"),
		Status: rentals.StatusOpen, UpdatedAt: 95_000,
	}}}
	f := newTestFetcher(t, &stubSubgraph{}, r, 10, 1)

	result, err := f.FetchUpdatedData(context.Background(), 50, map[string]*models.Tile{})
	if err != nil {
		t.Fatalf("FetchUpdatedData: %v", err)
	}
	if len(result.Tiles) != 0 {
		t.Errorf("listing without a known tile must be dropped, got %d tiles", len(result.Tiles))
	}
}

func TestFetchUpdatedDataEstateSynthesis(t *testing.T) {
	estate := sgmodels.EstateFragment{
		TokenID:   "7",
		Size:      2,
		UpdatedAt: "120",
		Parcels: []sgmodels.ParcelPointer{
			{TokenID: "1", X: "41", Y: "40"},
			{TokenID: "2", X: "42", Y: "40"},
		},
	}
	// Parcel 1 also appears in the parcel delta; only parcel 2 needs a
	// synthesized update.
	fromDelta := testParcel("1", 41, 40, 110)
	fromDelta.Estate = &estate

	land := &stubSubgraph{
		updated: []sgmodels.ParcelFragment{fromDelta},
		estates: []sgmodels.EstateFragment{estate},
	}
	f := newTestFetcher(t, land, &stubRentals{}, 10, 1)

	result, err := f.FetchUpdatedData(context.Background(), 50, map[string]*models.Tile{})
	if err != nil {
		t.Fatalf("FetchUpdatedData: %v", err)
	}
	if len(result.Tiles) != 2 {
		t.Fatalf("tiles = %d, want 2 (delta + synthesized member)", len(result.Tiles))
	}
	byID := make(map[string]*models.Tile)
	for _, tile := range result.Tiles {
		byID[tile.ID] = tile
	}
	synthesized := byID["42,40"]
	if synthesized == nil {
		t.Fatal("member absent from the delta must be synthesized")
	}
	if synthesized.EstateID != "7" {
		t.Errorf("synthesized EstateID = %q, want 7", synthesized.EstateID)
	}
	if byID["41,40"].UpdatedAt != 120 {
		t.Errorf("delta parcel UpdatedAt = %d, want estate max 120", byID["41,40"].UpdatedAt)
	}
	if len(result.Estates) != 1 || result.Estates[0].ID != "7" {
		t.Errorf("estate record missing from result: %+v", result.Estates)
	}
}

func TestFetchUpdatedDataCursorIsMinimumOfSources(t *testing.T) {
	land := &stubSubgraph{
		updated: []sgmodels.ParcelFragment{testParcel("1", 41, 40, 100)},
		estates: []sgmodels.EstateFragment{{TokenID: "7", Size: 1, UpdatedAt: "90"}},
	}
	r := &stubRentals{updated: []rentals.Listing{{
		ID: "L1", NFTID: models.TokenKey(landContract, "1"),
		Status: rentals.StatusOpen, UpdatedAt: 95_000,
	}}}
	f := newTestFetcher(t, land, r, 10, 1)

	oldTiles := map[string]*models.Tile{
		"41,40": {ID: "41,40", X: 41, Y: 40, Type: models.TypeOwned, TokenID: "1"},
	}
	result, err := f.FetchUpdatedData(context.Background(), 50, oldTiles)
	if err != nil {
		t.Fatalf("FetchUpdatedData: %v", err)
	}
	if result.UpdatedAt != 90 {
		t.Errorf("cursor = %d, want min(100, 90, 95) = 90", result.UpdatedAt)
	}
}

func TestFetchUpdatedDataCursorNeverRegresses(t *testing.T) {
	f := newTestFetcher(t, &stubSubgraph{}, &stubRentals{}, 10, 1)

	result, err := f.FetchUpdatedData(context.Background(), 500, map[string]*models.Tile{})
	if err != nil {
		t.Fatalf("FetchUpdatedData: %v", err)
	}
	if result.UpdatedAt != 500 {
		t.Errorf("cursor = %d, must not regress below updatedAfter", result.UpdatedAt)
	}
}

func TestDissolvedEstateLookup(t *testing.T) {
	land := &stubSubgraph{estateByID: map[string]*sgmodels.EstateFragment{
		"9": {TokenID: "9", Size: 0},
	}}
	f := newTestFetcher(t, land, &stubRentals{}, 10, 1)

	nft, err := f.DissolvedEstate(context.Background(), "9")
	if err != nil {
		t.Fatalf("DissolvedEstate: %v", err)
	}
	if nft == nil || nft.ID != "9" {
		t.Fatalf("expected dissolved stub for estate 9, got %+v", nft)
	}

	missing, err := f.DissolvedEstate(context.Background(), "404")
	if err != nil {
		t.Fatalf("DissolvedEstate: %v", err)
	}
	if missing != nil {
		t.Errorf("unknown estate must resolve to nil, got %+v", missing)
	}
}
