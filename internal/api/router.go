// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mapgrid/atlas/internal/config"
	"github.com/mapgrid/atlas/internal/middleware"
)

// NewRouter assembles the HTTP routing tree.
func NewRouter(h *Handler, cfg *config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied in order.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "If-None-Match", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Health and metrics stay outside rate limiting so probes never
	// get throttled.
	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", h.WebSocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Prometheus)
		if cfg.RateLimitReqs > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
		}
		r.Use(middleware.Compression)

		r.Get("/v1/tiles", h.TilesV1)
		r.Get("/v2/ping", h.Ping)
		r.Get("/v2/tiles", h.TilesV2)
		r.Get("/v2/map.png", h.MapPNG)
		r.Get("/v2/parcels/{x}/{y}", h.Parcel)
		r.Get("/v2/parcels/{x}/{y}/map.png", h.ParcelMapPNG)
		r.Get("/v2/estates/{id}", h.Estate)
		r.Get("/v2/contracts/{address}/tokens/{id}", h.Token)
	})

	return r
}
