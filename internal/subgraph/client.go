// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

// Package subgraph implements the GraphQL client for the external land
// subgraph. It is pure I/O: pagination and retry-on-cycle decisions
// belong to the fetch orchestrator.
//
// Resilience:
//   - per-request deadline from configuration
//   - HTTP 429 handling with exponential backoff honoring Retry-After
//   - circuit breaker (opens at >=60% failures over 10+ requests)
//   - optional client-side rate limiting
package subgraph

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/mapgrid/atlas/internal/config"
	"github.com/mapgrid/atlas/internal/logging"
	"github.com/mapgrid/atlas/internal/models/subgraph"
)

// maxErrorBodySize caps the response body read for error reporting.
const maxErrorBodySize = 64 * 1024 // 64KB

// ClientInterface defines the subgraph operations used by the fetch
// orchestrator. Implemented by Client for production and by mocks in
// tests.
type ClientInterface interface {
	// Parcels returns one page of parcels ordered by ascending tokenId,
	// filtered to tokenId > lastTokenID ("" means no lower bound).
	Parcels(ctx context.Context, lastTokenID string, first, skip int) ([]subgraph.ParcelFragment, error)

	// UpdatedParcels returns one page of parcels with updatedAt >
	// updatedAfter, ordered by ascending updatedAt.
	UpdatedParcels(ctx context.Context, updatedAfter int64, first, skip int) ([]subgraph.ParcelFragment, error)

	// UpdatedEstates returns one page of estates with updatedAt >
	// updatedAfter, including member parcel pointers.
	UpdatedEstates(ctx context.Context, updatedAfter int64, first, skip int) ([]subgraph.EstateFragment, error)

	// Estate returns a single estate by token id, or nil if absent.
	Estate(ctx context.Context, tokenID string) (*subgraph.EstateFragment, error)
}

// Client is the production subgraph client.
// Safe for concurrent use; each request creates its own HTTP request.
type Client struct {
	url            string
	client         *http.Client
	cb             *gobreaker.CircuitBreaker[[]byte]
	limiter        *rate.Limiter
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewClient creates a subgraph client from configuration.
func NewClient(cfg *config.SubgraphConfig) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "land-subgraph",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
		},
	})

	baseDelay := cfg.RetryDelay
	if baseDelay <= 0 {
		baseDelay = 1 * time.Second
	}

	return &Client{
		url:            cfg.URL,
		client:         &http.Client{Timeout: cfg.RequestTimeout},
		cb:             cb,
		limiter:        limiter,
		maxRetries:     cfg.RetryAttempts,
		retryBaseDelay: baseDelay,
	}
}

// graphRequest is the GraphQL POST body.
type graphRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// graphError is one entry of a GraphQL errors array.
type graphError struct {
	Message string `json:"message"`
}

// graphResponse is the GraphQL response envelope.
type graphResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphError    `json:"errors"`
}

// query executes a GraphQL query and unmarshals the data payload into
// result. A non-empty errors array fails the call even with HTTP 200.
func (c *Client) query(ctx context.Context, query string, variables map[string]interface{}, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(graphRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}

	raw, err := c.cb.Execute(func() ([]byte, error) {
		return c.doRequestWithRateLimit(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("subgraph request failed: %w", err)
	}

	var envelope graphResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode subgraph response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("subgraph returned error: %s", envelope.Errors[0].Message)
	}

	if err := json.Unmarshal(envelope.Data, result); err != nil {
		return fmt.Errorf("failed to decode subgraph data: %w", err)
	}
	return nil
}

// doRequestWithRateLimit performs the POST with automatic HTTP 429
// handling, backing off exponentially from the configured base delay
// and honoring a Retry-After header when present.
func (c *Client) doRequestWithRateLimit(ctx context.Context, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			raw, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if readErr != nil {
				return nil, fmt.Errorf("failed to read response body: %w", readErr)
			}
			return raw, nil
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("subgraph request failed with status %d: %s", resp.StatusCode, string(errBody))
		}

		// Rate limited; close body and retry with backoff.
		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, parseErr := time.ParseDuration(retryAfter + "s"); parseErr == nil {
				delay = seconds
			}
		}
		_ = resp.Body.Close()

		if attempt == c.maxRetries {
			lastErr = fmt.Errorf("rate limit exceeded after %d retries (HTTP 429)", c.maxRetries)
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}
