// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

// Package config loads and validates Atlas configuration.
//
// Configuration is layered with koanf: built-in defaults, then an
// optional YAML config file, then environment variables (highest
// priority). Legacy flat variable names (API_URL, API_BATCH_SIZE,
// REFRESH_INTERVAL, ...) are mapped onto the nested structure for
// compatibility with existing deployments.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Atlas server.
type Config struct {
	Subgraph  SubgraphConfig  `koanf:"subgraph"`
	Rentals   RentalsConfig   `koanf:"rentals"`
	Contracts ContractsConfig `koanf:"contracts"`
	Map       MapConfig       `koanf:"map"`
	Server    ServerConfig    `koanf:"server"`
	Cache     CacheConfig     `koanf:"cache"`
	Store     StoreConfig     `koanf:"store"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// SubgraphConfig configures the land subgraph GraphQL client.
type SubgraphConfig struct {
	// URL is the GraphQL endpoint of the land subgraph.
	URL string `koanf:"url" validate:"required,url"`

	// BatchSize is the page size for paginated nfts queries.
	BatchSize int `koanf:"batch_size" validate:"gt=0,lte=1000"`

	// Concurrency is the maximum number of in-flight page requests
	// during a full snapshot fetch.
	Concurrency int `koanf:"concurrency" validate:"gt=0,lte=100"`

	// RequestTimeout is the per-request deadline for subgraph calls.
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`

	// RetryAttempts and RetryDelay control exponential backoff on
	// transient failures.
	RetryAttempts int           `koanf:"retry_attempts" validate:"gte=0,lte=10"`
	RetryDelay    time.Duration `koanf:"retry_delay"`

	// RateLimit is the maximum requests per second against the
	// subgraph endpoint. Zero disables client-side rate limiting.
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`
}

// RentalsConfig configures the rental-listings service client.
type RentalsConfig struct {
	// URL is the base URL of the signatures/rentals service.
	URL string `koanf:"url" validate:"required,url"`

	// Limit is the page size for updatedAfter delta queries.
	Limit int `koanf:"limit" validate:"gt=0,lte=1000"`

	// RequestTimeout is the per-request deadline for rentals calls.
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

// ContractsConfig holds the NFT contract addresses used for token keys.
type ContractsConfig struct {
	Land   string `koanf:"land" validate:"required"`
	Estate string `koanf:"estate" validate:"required"`
}

// MapConfig configures the map state engine.
type MapConfig struct {
	// RefreshInterval is the delay between poll cycles.
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gte=1s"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs requests per RateLimitWindow per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// CacheConfig configures the rendered-image cache.
type CacheConfig struct {
	RenderEntries int           `koanf:"render_entries" validate:"gt=0"`
	RenderTTL     time.Duration `koanf:"render_ttl" validate:"gt=0"`
}

// StoreConfig configures optional snapshot persistence for warm starts.
type StoreConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Subgraph: SubgraphConfig{
			URL:            "https://api.thegraph.com/subgraphs/name/mapgrid/land",
			BatchSize:      1000,
			Concurrency:    10,
			RequestTimeout: 30 * time.Second,
			RetryAttempts:  5,
			RetryDelay:     1 * time.Second,
			RateLimit:      0,
		},
		Rentals: RentalsConfig{
			URL:            "https://signatures.mapgrid.org",
			Limit:          500,
			RequestTimeout: 30 * time.Second,
		},
		Contracts: ContractsConfig{
			Land:   "0xf87e31492faf9a91b02ee0deaad50d51d56d5d4d",
			Estate: "0x959e104e1a4db6317fa58f8295f586e1a978c297",
		},
		Map: MapConfig{
			RefreshInterval: 60 * time.Second,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: 1 * time.Minute,
		},
		Cache: CacheConfig{
			RenderEntries: 256,
			RenderTTL:     10 * time.Minute,
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    "/data/atlas/snapshot",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store.path is required when store.enabled is true")
	}
	return nil
}
