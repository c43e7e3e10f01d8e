// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

// Package metrics exposes Prometheus instrumentation for Atlas:
// snapshot/poll cycle performance, upstream failures by source, map
// state size, render cache efficiency, and API latency/throughput.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch / poll cycle metrics

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atlas_fetch_duration_seconds",
			Help:    "Duration of snapshot and incremental fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"}, // "snapshot", "incremental"
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_fetch_errors_total",
			Help: "Total number of upstream fetch errors by source",
		},
		[]string{"source"}, // "subgraph", "estates", "rentals"
	)

	FetchProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atlas_fetch_progress_percent",
			Help: "Progress of the in-flight snapshot fetch (0-100)",
		},
	)

	FetchBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "atlas_fetch_batch_size",
			Help:    "Number of parcels returned per subgraph page",
			Buckets: []float64{10, 50, 100, 250, 500, 1000},
		},
	)

	// Map state metrics

	MapTiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atlas_map_tiles",
			Help: "Current number of tiles in the map snapshot",
		},
	)

	MapLastUpdated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atlas_map_last_updated_timestamp_seconds",
			Help: "Watermark of the last applied map update (unix seconds)",
		},
	)

	MapPollFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atlas_map_poll_failures_total",
			Help: "Total number of failed poll cycles",
		},
	)

	// Render cache metrics

	RenderCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atlas_render_cache_hits_total",
			Help: "Total number of rendered-image cache hits",
		},
	)

	RenderCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atlas_render_cache_misses_total",
			Help: "Total number of rendered-image cache misses",
		},
	)

	// API metrics

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atlas_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atlas_api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// WebSocket metrics

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atlas_websocket_clients",
			Help: "Current number of connected websocket clients",
		},
	)
)

// RecordAPIRequest records a completed API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the active request gauge.
func TrackActiveRequest(active bool) {
	if active {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordFetch records the duration of a fetch cycle.
func RecordFetch(kind string, duration time.Duration) {
	FetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordMapState updates the map snapshot gauges after a publish.
func RecordMapState(tiles int, lastUpdatedAt int64) {
	MapTiles.Set(float64(tiles))
	MapLastUpdated.Set(float64(lastUpdatedAt))
}
