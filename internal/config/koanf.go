// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/atlas/config.yaml",
	"/etc/atlas/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// legacyEnvMappings maps flat legacy environment variable names onto
// nested koanf paths. These are the names the original deployment used.
var legacyEnvMappings = map[string]string{
	"api_url":                 "subgraph.url",
	"api_batch_size":          "subgraph.batch_size",
	"api_concurrency":         "subgraph.concurrency",
	"signatures_server_url":   "rentals.url",
	"land_contract_address":   "contracts.land",
	"estate_contract_address": "contracts.estate",
	"host":                    "server.host",
	"port":                    "server.port",
}

// Load loads configuration with layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// REFRESH_INTERVAL historically took plain seconds; accept both
	// "60" and "60s" by normalizing bare integers to seconds.
	if raw := os.Getenv("REFRESH_INTERVAL"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			raw = fmt.Sprintf("%ds", secs)
		}
		if err := k.Set("map.refresh_interval", raw); err != nil {
			return nil, fmt.Errorf("failed to set refresh interval: %w", err)
		}
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf paths.
//
// ATLAS_-prefixed variables address the nested structure directly, with
// the first underscore separating the section:
//
//	ATLAS_SUBGRAPH_URL        -> subgraph.url
//	ATLAS_SERVER_PORT         -> server.port
//	ATLAS_SUBGRAPH_BATCH_SIZE -> subgraph.batch_size
//
// Legacy flat names (API_URL, LAND_CONTRACT_ADDRESS, ...) are resolved
// through legacyEnvMappings. Unrecognized variables are ignored.
func envTransformFunc(key string) string {
	lower := strings.ToLower(key)

	if mapped, ok := legacyEnvMappings[lower]; ok {
		return mapped
	}

	if !strings.HasPrefix(lower, "atlas_") {
		return "" // ignore unrelated environment variables
	}

	rest := strings.TrimPrefix(lower, "atlas_")
	section, field, found := strings.Cut(rest, "_")
	if !found {
		return section
	}
	return section + "." + field
}

// sliceConfigPaths lists config paths parsed as comma-separated slices
// when supplied through environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices
// for known slice fields. Env vars come in as strings but the config
// expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}
