// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

// Package mapstate holds the published map state and keeps it fresh.
//
// The engine is a single-writer, many-reader design: one goroutine
// (init or the poll loop) builds a new generation and publishes it
// with an atomic pointer swap. Readers always see a complete,
// internally consistent generation; published generations are never
// mutated, so no read path takes a lock.
package mapstate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mapgrid/atlas/internal/config"
	"github.com/mapgrid/atlas/internal/fetcher"
	"github.com/mapgrid/atlas/internal/logging"
	"github.com/mapgrid/atlas/internal/mapper"
	"github.com/mapgrid/atlas/internal/metrics"
	"github.com/mapgrid/atlas/internal/models"
)

// Engine errors.
var (
	ErrNotFound        = errors.New("not found")
	ErrUnknownContract = errors.New("unknown contract address")
)

// State is the engine lifecycle state.
type State int32

// Lifecycle states. An engine in StateError retries the initial load
// on the next access or poll cycle.
const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateError
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Fetcher is the data source the engine pulls from.
type Fetcher interface {
	FetchData(ctx context.Context, progress fetcher.ProgressFunc) (*models.Result, error)
	FetchUpdatedData(ctx context.Context, updatedAfter int64, oldTiles map[string]*models.Tile) (*models.Result, error)
	DissolvedEstate(ctx context.Context, tokenID string) (*models.NFT, error)
}

// Store persists snapshots for warm starts. Load returns (nil, nil)
// when no snapshot has been saved yet.
type Store interface {
	Save(ctx context.Context, result *models.Result) error
	Load(ctx context.Context) (*models.Result, error)
}

// generation is one immutable published map state.
type generation struct {
	tiles         map[string]*models.Tile
	parcels       map[string]models.NFT // by parcel token id
	estates       map[string]models.NFT // by estate token id
	lastUpdatedAt int64
}

// Engine owns the map state lifecycle.
type Engine struct {
	fetcher  Fetcher
	store    Store // nil disables persistence
	specials *mapper.SpecialRegistry

	refresh        time.Duration
	landContract   string
	estateContract string

	gen    atomic.Pointer[generation]
	state  atomic.Int32
	events *registry

	// initMu serializes all generation writers: lazy init and the
	// poll loop.
	initMu     sync.Mutex
	warmupDone bool
}

// New creates an engine. store may be nil.
func New(f Fetcher, store Store, specials *mapper.SpecialRegistry, cfg *config.Config) *Engine {
	return &Engine{
		fetcher:        f,
		store:          store,
		specials:       specials,
		refresh:        cfg.Map.RefreshInterval,
		landContract:   strings.ToLower(cfg.Contracts.Land),
		estateContract: strings.ToLower(cfg.Contracts.Estate),
		events:         newRegistry(),
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// IsReady reports whether a generation has been published.
func (e *Engine) IsReady() bool {
	return e.State() == StateReady
}

// LastUpdatedAt returns the cursor of the published generation, or
// zero before the first publish.
func (e *Engine) LastUpdatedAt() int64 {
	if g := e.gen.Load(); g != nil {
		return g.lastUpdatedAt
	}
	return 0
}

// Subscribe registers for lifecycle events. The returned cancel
// function must be called to release the subscription.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.events.Subscribe()
}

// Init loads the first generation. It is idempotent and safe for
// concurrent use: one caller performs the load while the rest block on
// it, and a failed load is retried by the next caller.
func (e *Engine) Init(ctx context.Context) error {
	if e.IsReady() {
		return nil
	}
	e.initMu.Lock()
	defer e.initMu.Unlock()
	if e.IsReady() {
		return nil
	}

	e.state.Store(int32(StateLoading))

	if e.store != nil && !e.warmupDone {
		e.warmupDone = true
		if snap, err := e.store.Load(ctx); err != nil {
			logging.Warn().Err(err).Msg("Warm start failed, falling back to full snapshot")
		} else if snap != nil {
			e.publish(e.buildGeneration(snap))
			logging.Info().Int64("cursor", snap.UpdatedAt).Int("tiles", len(snap.Tiles)).
				Msg("Map restored from persisted snapshot")
			return nil
		}
	}

	result, err := e.fetcher.FetchData(ctx, nil)
	if err != nil {
		e.state.Store(int32(StateError))
		e.events.publish(Event{Type: EventError, Err: err})
		return err
	}

	gen := e.buildGeneration(result)
	e.publish(gen)
	e.persist(ctx, gen)
	return nil
}

// publish swaps in a new generation and fires Ready on the first one.
func (e *Engine) publish(gen *generation) {
	first := e.gen.Load() == nil
	e.gen.Store(gen)
	e.state.Store(int32(StateReady))
	metrics.RecordMapState(len(gen.tiles), gen.lastUpdatedAt)
	if first {
		e.events.publish(Event{Type: EventReady, LastUpdatedAt: gen.lastUpdatedAt})
	}
}

// Run drives the poll loop until the context is cancelled. The loop
// always reschedules: a failed cycle is logged and counted, never
// fatal.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Init(ctx); err != nil {
		logging.Error().Err(err).Msg("Initial map load failed, will retry on next poll")
		metrics.MapPollFailures.Inc()
	}

	ticker := time.NewTicker(e.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

// pollOnce runs one update cycle. When the engine is not ready yet it
// retries the initial load instead.
func (e *Engine) pollOnce(ctx context.Context) {
	if !e.IsReady() {
		if err := e.Init(ctx); err != nil {
			metrics.MapPollFailures.Inc()
		}
		return
	}

	e.initMu.Lock()
	defer e.initMu.Unlock()

	old := e.gen.Load()
	result, err := e.fetcher.FetchUpdatedData(ctx, old.lastUpdatedAt, old.tiles)
	if err != nil {
		metrics.MapPollFailures.Inc()
		e.events.publish(Event{Type: EventError, LastUpdatedAt: old.lastUpdatedAt, Err: err})
		logging.Error().Err(err).Msg("Poll cycle failed")
		return
	}
	if len(result.Tiles) == 0 && len(result.Parcels) == 0 && len(result.Estates) == 0 &&
		result.UpdatedAt <= old.lastUpdatedAt {
		return
	}

	gen := e.apply(old, result)
	e.publish(gen)
	e.persist(ctx, gen)
	e.events.publish(Event{Type: EventUpdated, LastUpdatedAt: gen.lastUpdatedAt})
}

// buildGeneration creates a generation from a full snapshot, stitching
// every non-special tile.
func (e *Engine) buildGeneration(result *models.Result) *generation {
	gen := &generation{
		tiles:         make(map[string]*models.Tile, len(result.Tiles)),
		parcels:       make(map[string]models.NFT, len(result.Parcels)),
		estates:       make(map[string]models.NFT, len(result.Estates)),
		lastUpdatedAt: result.UpdatedAt,
	}
	ids := make([]string, 0, len(result.Tiles))
	for _, t := range result.Tiles {
		gen.tiles[t.ID] = t
		if !e.specials.IsSpecial(t.ID) {
			ids = append(ids, t.ID)
		}
	}
	stitchOrder(ids)
	for _, id := range ids {
		computeEstate(gen.tiles, gen.tiles[id])
	}

	for _, p := range result.Parcels {
		gen.parcels[p.ID] = p
	}
	for _, est := range result.Estates {
		gen.estates[est.ID] = est
	}
	return gen
}

// apply merges an incremental result into a copy of the old
// generation. Updated tiles and the neighbors whose flags read them
// are re-stitched; tiles carried from the old generation are cloned
// before mutation so the old generation stays immutable.
func (e *Engine) apply(old *generation, result *models.Result) *generation {
	gen := &generation{
		tiles:         make(map[string]*models.Tile, len(old.tiles)+len(result.Tiles)),
		parcels:       make(map[string]models.NFT, len(old.parcels)+len(result.Parcels)),
		estates:       make(map[string]models.NFT, len(old.estates)+len(result.Estates)),
		lastUpdatedAt: result.UpdatedAt,
	}
	if result.UpdatedAt < old.lastUpdatedAt {
		gen.lastUpdatedAt = old.lastUpdatedAt
	}

	for id, t := range old.tiles {
		gen.tiles[id] = t
	}
	updated := make(map[string]bool, len(result.Tiles))
	for _, t := range result.Tiles {
		gen.tiles[t.ID] = t
		updated[t.ID] = true
	}

	// Re-stitch the updated tiles plus every existing neighbor whose
	// flags depend on one of them.
	restitch := make(map[string]bool)
	for id := range updated {
		if !e.specials.IsSpecial(id) {
			restitch[id] = true
		}
		for _, dep := range dependents(id) {
			if _, ok := gen.tiles[dep]; ok && !updated[dep] && !e.specials.IsSpecial(dep) {
				restitch[dep] = true
			}
		}
	}
	ids := make([]string, 0, len(restitch))
	for id := range restitch {
		ids = append(ids, id)
	}
	stitchOrder(ids)
	for _, id := range ids {
		t := gen.tiles[id]
		if !updated[id] {
			t = t.Clone()
			gen.tiles[id] = t
		}
		computeEstate(gen.tiles, t)
	}

	for id, p := range old.parcels {
		gen.parcels[id] = p
	}
	for _, p := range result.Parcels {
		gen.parcels[p.ID] = p
	}
	for id, est := range old.estates {
		gen.estates[id] = est
	}
	for _, est := range result.Estates {
		gen.estates[est.ID] = est
	}
	return gen
}

// persist saves the generation when a store is configured.
func (e *Engine) persist(ctx context.Context, gen *generation) {
	if e.store == nil {
		return
	}
	snap := &models.Result{
		Tiles:     make([]*models.Tile, 0, len(gen.tiles)),
		Parcels:   make([]models.NFT, 0, len(gen.parcels)),
		Estates:   make([]models.NFT, 0, len(gen.estates)),
		UpdatedAt: gen.lastUpdatedAt,
	}
	for _, t := range gen.tiles {
		snap.Tiles = append(snap.Tiles, t)
	}
	for _, p := range gen.parcels {
		snap.Parcels = append(snap.Parcels, p)
	}
	for _, est := range gen.estates {
		snap.Estates = append(snap.Estates, est)
	}
	if err := e.store.Save(ctx, snap); err != nil {
		logging.Warn().Err(err).Msg("Snapshot persistence failed")
	}
}

// Tiles returns the published tile index, loading the first generation
// if needed. The returned map must not be mutated.
func (e *Engine) Tiles(ctx context.Context) (map[string]*models.Tile, error) {
	if err := e.Init(ctx); err != nil {
		return nil, err
	}
	return e.gen.Load().tiles, nil
}

// Parcel returns the parcel record at a coordinate.
func (e *Engine) Parcel(ctx context.Context, x, y int) (*models.NFT, error) {
	if err := e.Init(ctx); err != nil {
		return nil, err
	}
	gen := e.gen.Load()
	tile, ok := gen.tiles[models.TileID(x, y)]
	if !ok || tile.TokenID == "" {
		return nil, ErrNotFound
	}
	p, ok := gen.parcels[tile.TokenID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// Estate returns the estate record for a token id. Estates absent from
// the snapshot (dissolved before this process first synced) are
// resolved against the subgraph directly.
func (e *Engine) Estate(ctx context.Context, tokenID string) (*models.NFT, error) {
	if err := e.Init(ctx); err != nil {
		return nil, err
	}
	if est, ok := e.gen.Load().estates[tokenID]; ok {
		return &est, nil
	}
	est, err := e.fetcher.DissolvedEstate(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if est == nil {
		return nil, ErrNotFound
	}
	return est, nil
}

// Token resolves a contract address plus token id to its parcel or
// estate record.
func (e *Engine) Token(ctx context.Context, contractAddress, tokenID string) (*models.NFT, error) {
	switch strings.ToLower(contractAddress) {
	case e.landContract:
		if err := e.Init(ctx); err != nil {
			return nil, err
		}
		p, ok := e.gen.Load().parcels[tokenID]
		if !ok {
			return nil, ErrNotFound
		}
		return &p, nil
	case e.estateContract:
		return e.Estate(ctx, tokenID)
	default:
		return nil, ErrUnknownContract
	}
}
