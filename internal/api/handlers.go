// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

// Package api exposes the map over HTTP: tile JSON, rendered PNGs,
// parcel/estate/token metadata, health and websocket endpoints. All
// handlers are thin reads over the map engine; no handler mutates
// state.
package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mapgrid/atlas/internal/cache"
	"github.com/mapgrid/atlas/internal/models"
	"github.com/mapgrid/atlas/internal/render"
	"github.com/mapgrid/atlas/internal/websocket"
)

// Engine is the read surface of the map state engine.
type Engine interface {
	Tiles(ctx context.Context) (map[string]*models.Tile, error)
	Parcel(ctx context.Context, x, y int) (*models.NFT, error)
	Estate(ctx context.Context, tokenID string) (*models.NFT, error)
	Token(ctx context.Context, contractAddress, tokenID string) (*models.NFT, error)
	IsReady() bool
	LastUpdatedAt() int64
}

// Handler holds the dependencies of all HTTP handlers.
type Handler struct {
	engine Engine
	hub    *websocket.Hub
	cache  *cache.RenderCache
}

// NewHandler creates the handler set. hub may be nil in tests.
func NewHandler(engine Engine, hub *websocket.Hub, renderCache *cache.RenderCache) *Handler {
	return &Handler{engine: engine, hub: hub, cache: renderCache}
}

// Ping responds to liveness probes from clients.
func (h *Handler) Ping(w http.ResponseWriter, _ *http.Request) {
	writeData(w, "pong")
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeData(w, map[string]string{"status": "alive"})
}

// HealthReady reports 503 until the first map generation is published.
func (h *Handler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	if !h.engine.IsReady() {
		writeError(w, http.StatusServiceUnavailable, "map data is not available yet")
		return
	}
	writeData(w, map[string]interface{}{
		"status":        "ready",
		"lastUpdatedAt": h.engine.LastUpdatedAt(),
	})
}

// TilesV2 serves the tile index with optional bounds and field
// filters. Responses carry an ETag derived from the generation cursor.
func (h *Handler) TilesV2(w http.ResponseWriter, r *http.Request) {
	b, err := parseBounds(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	include, err := parseInclude(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tiles, err := h.engine.Tiles(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if h.checkETag(w, r) {
		return
	}
	writeData(w, projectTiles(tiles, b, include))
}

// TilesV1 serves the tile index in the legacy numeric-type format.
func (h *Handler) TilesV1(w http.ResponseWriter, r *http.Request) {
	tiles, err := h.engine.Tiles(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if h.checkETag(w, r) {
		return
	}

	legacy := make(map[string]legacyTile, len(tiles))
	for id, t := range tiles {
		legacy[id] = toLegacyTile(t)
	}
	writeData(w, legacy)
}

// checkETag sets the ETag header and reports whether the client's
// cached copy is still current.
func (h *Handler) checkETag(w http.ResponseWriter, r *http.Request) bool {
	etag := fmt.Sprintf(`"%d"`, h.engine.LastUpdatedAt())
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=60")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

// MapPNG renders a window of the whole map.
func (h *Handler) MapPNG(w http.ResponseWriter, r *http.Request) {
	opts, err := parseRenderOptions(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.servePNG(w, r, opts)
}

// ParcelMapPNG renders the map centered on one parcel, highlighted.
func (h *Handler) ParcelMapPNG(w http.ResponseWriter, r *http.Request) {
	x, err := strconv.Atoi(chi.URLParam(r, "x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid x coordinate")
		return
	}
	y, err := strconv.Atoi(chi.URLParam(r, "y"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid y coordinate")
		return
	}

	opts, err := parseRenderOptions(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts.Center = render.Coord{X: x, Y: y}
	opts.Selected = []render.Coord{{X: x, Y: y}}
	h.servePNG(w, r, opts)
}

// servePNG renders through the cache keyed by options and generation.
func (h *Handler) servePNG(w http.ResponseWriter, r *http.Request, opts render.Options) {
	tiles, err := h.engine.Tiles(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	key := cache.Key(opts.CacheKey(), h.engine.LastUpdatedAt())
	data, ok := h.cache.Get(key)
	if !ok {
		data, err = render.PNG(tiles, opts)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.cache.Add(key, data)
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=60")
	_, _ = w.Write(data)
}

// Parcel serves parcel metadata by coordinate.
func (h *Handler) Parcel(w http.ResponseWriter, r *http.Request) {
	x, err := strconv.Atoi(chi.URLParam(r, "x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid x coordinate")
		return
	}
	y, err := strconv.Atoi(chi.URLParam(r, "y"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid y coordinate")
		return
	}

	p, err := h.engine.Parcel(r.Context(), x, y)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeData(w, p)
}

// Estate serves estate metadata by token id.
func (h *Handler) Estate(w http.ResponseWriter, r *http.Request) {
	est, err := h.engine.Estate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeData(w, est)
}

// Token resolves a contract address plus token id.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	token, err := h.engine.Token(r.Context(), chi.URLParam(r, "address"), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeData(w, token)
}

// WebSocket upgrades to the update notification stream.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	h.hub.Handler(w, r)
}

// parseRenderOptions reads render params with sensible defaults:
// width, height, size, center="x,y", selected="x,y;x,y", on-sale tint.
func parseRenderOptions(q url.Values) (render.Options, error) {
	opts := render.Options{Width: 1024, Height: 1024, Size: 10}

	var err error
	if opts.Width, err = intParam(q, "width", opts.Width); err != nil {
		return opts, err
	}
	if opts.Height, err = intParam(q, "height", opts.Height); err != nil {
		return opts, err
	}
	if opts.Size, err = intParam(q, "size", opts.Size); err != nil {
		return opts, err
	}

	if raw := q.Get("center"); raw != "" {
		c, err := parseCoord(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid center: %w", err)
		}
		opts.Center = c
	}
	if raw := q.Get("selected"); raw != "" {
		for _, part := range strings.Split(raw, ";") {
			c, err := parseCoord(part)
			if err != nil {
				return opts, fmt.Errorf("invalid selected: %w", err)
			}
			opts.Selected = append(opts.Selected, c)
		}
	}
	opts.ShowOnSale = q.Get("on-sale") == "true"

	return opts, opts.Validate()
}

func intParam(q url.Values, key string, fallback int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

func parseCoord(s string) (render.Coord, error) {
	x, y, err := models.ParseTileID(strings.TrimSpace(s))
	if err != nil {
		return render.Coord{}, err
	}
	return render.Coord{X: x, Y: y}, nil
}
