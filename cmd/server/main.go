// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

// Package main is the entry point for the Atlas server.
//
// Atlas serves a virtual-world land map as JSON tile data and rendered
// PNG images, synchronized from a blockchain subgraph (parcel and
// estate ownership, pricing) and a rental-listings service.
//
// # Application Architecture
//
// Components start in the following order:
//
//  1. Configuration: layered loading via koanf v2 (defaults, YAML
//     file, environment variables)
//  2. Logging: global zerolog logger
//  3. Snapshot store (optional): badger-backed warm start
//  4. Clients: subgraph GraphQL client, rentals HTTP client
//  5. Map engine: initial snapshot plus incremental poll loop
//  6. Supervisor tree: poller, websocket hub, HTTP server
//
// # Configuration
//
// All settings have defaults; the usual minimum for production is:
//
//	export ATLAS_SUBGRAPH_URL=https://...
//	export ATLAS_RENTALS_URL=https://...
//	./atlas
//
// Legacy flat variable names (API_URL, API_BATCH_SIZE, API_CONCURRENCY,
// REFRESH_INTERVAL, LAND_CONTRACT_ADDRESS, ESTATE_CONTRACT_ADDRESS,
// SIGNATURES_SERVER_URL, HOST, PORT) are also honored.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains
// in-flight requests, the poll loop stops, and the snapshot store is
// closed.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/mapgrid/atlas/internal/api"
	"github.com/mapgrid/atlas/internal/cache"
	"github.com/mapgrid/atlas/internal/config"
	"github.com/mapgrid/atlas/internal/fetcher"
	"github.com/mapgrid/atlas/internal/logging"
	"github.com/mapgrid/atlas/internal/mapper"
	"github.com/mapgrid/atlas/internal/mapstate"
	"github.com/mapgrid/atlas/internal/rentals"
	"github.com/mapgrid/atlas/internal/store"
	"github.com/mapgrid/atlas/internal/subgraph"
	"github.com/mapgrid/atlas/internal/supervisor"
	"github.com/mapgrid/atlas/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("subgraph", cfg.Subgraph.URL).
		Str("rentals", cfg.Rentals.URL).
		Dur("refresh_interval", cfg.Map.RefreshInterval).
		Msg("Starting Atlas server")

	specials, err := mapper.LoadSpecials()
	if err != nil {
		return fmt.Errorf("failed to load special tiles: %w", err)
	}

	var snapshotStore mapstate.Store
	if cfg.Store.Enabled {
		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Close(); err != nil {
				logging.Warn().Err(err).Msg("Snapshot store close failed")
			}
		}()
		snapshotStore = s
	}

	baseURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	m := mapper.New(specials, baseURL)
	f := fetcher.New(
		subgraph.NewClient(&cfg.Subgraph),
		rentals.NewClient(&cfg.Rentals),
		m,
		cfg,
	)
	engine := mapstate.New(f, snapshotStore, specials, cfg)

	hub := websocket.NewHub()
	renderCache := cache.NewRenderCache(cfg.Cache.RenderEntries, cfg.Cache.RenderTTL)
	handler := api.NewHandler(engine, hub, renderCache)
	router := api.NewRouter(handler, &cfg.Server)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)
	tree.AddMapService(supervisor.NewPollerService(engine))
	tree.AddMapService(supervisor.NewHubService(hub))
	tree.AddMapService(supervisor.NewNotifierService(engine, hub))
	tree.AddAPIService(supervisor.NewHTTPService(server, treeCfg.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received")
		if err := <-errCh; err != nil && err != context.Canceled {
			return err
		}
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			return err
		}
	}

	logging.Info().Msg("Server stopped")
	return nil
}
