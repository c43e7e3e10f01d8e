// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

// Package rentals implements the client for the signatures/rentals
// service, the second external data source of the map. It is an
// independent failure domain: the fetch orchestrator absorbs its
// errors without failing the land sync.
package rentals

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/mapgrid/atlas/internal/config"
)

// maxURLLength bounds batched nftIds query URLs. Longer id sets are
// split across multiple requests.
const maxURLLength = 2048

// Status is a rental listing lifecycle state.
type Status string

// Listing statuses. Only open listings are attached to tiles; any
// other status removes the attachment.
const (
	StatusOpen      Status = "open"
	StatusExecuted  Status = "executed"
	StatusCancelled Status = "cancelled"
)

// Listing is one rental listing record from the service.
// Timestamps are millisecond epochs per the service's wire format.
type Listing struct {
	ID         string   `json:"id"`
	NFTID      string   `json:"nftId"`
	Category   string   `json:"category"`
	Status     Status   `json:"status"`
	Expiration int64    `json:"expiration"`
	CreatedAt  int64    `json:"createdAt"`
	UpdatedAt  int64    `json:"updatedAt"`
	Periods    []Period `json:"periods"`
}

// Period is one offered rental period.
type Period struct {
	MinDays     int    `json:"minDays"`
	MaxDays     int    `json:"maxDays"`
	PricePerDay string `json:"pricePerDay"`
}

// listingsPage is the paginated payload of the listings endpoint.
type listingsPage struct {
	Results []Listing `json:"results"`
	Total   int       `json:"total"`
	Page    int       `json:"page"`
	Pages   int       `json:"pages"`
	Limit   int       `json:"limit"`
}

// listingsResponse is the service's response envelope.
type listingsResponse struct {
	OK      bool         `json:"ok"`
	Data    listingsPage `json:"data"`
	Message string       `json:"message"`
}

// ClientInterface defines the rentals operations used by the fetch
// orchestrator.
type ClientInterface interface {
	// OpenListingsByNFTID returns the open listing for each of the
	// given NFT ids, keyed by nftId. Ids without an open listing are
	// absent from the result.
	OpenListingsByNFTID(ctx context.Context, nftIDs []string) (map[string]Listing, error)

	// UpdatedListings returns every listing updated after the given
	// millisecond epoch, in any status, across all pages.
	UpdatedListings(ctx context.Context, updatedAfter int64) ([]Listing, error)
}

// Client is the production rentals client.
type Client struct {
	baseURL string
	limit   int
	client  *http.Client
}

// NewClient creates a rentals client from configuration.
func NewClient(cfg *config.RentalsConfig) *Client {
	return &Client{
		baseURL: cfg.URL,
		limit:   cfg.Limit,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// OpenListingsByNFTID implements ClientInterface, batching ids into
// multiple requests whenever the query string would exceed the URL
// length bound.
func (c *Client) OpenListingsByNFTID(ctx context.Context, nftIDs []string) (map[string]Listing, error) {
	listings := make(map[string]Listing, len(nftIDs))

	batch := make([]string, 0, len(nftIDs))
	batchLen := len(c.baseURL) + len("/v1/rentals-listings?rentalStatus=open")

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		params := url.Values{}
		params.Set("rentalStatus", string(StatusOpen))
		params.Set("limit", strconv.Itoa(len(batch)))
		for _, id := range batch {
			params.Add("nftIds", id)
		}
		page, err := c.getListings(ctx, params)
		if err != nil {
			return err
		}
		for _, listing := range page.Results {
			listings[listing.NFTID] = listing
		}
		batch = batch[:0]
		batchLen = len(c.baseURL) + len("/v1/rentals-listings?rentalStatus=open")
		return nil
	}

	for _, id := range nftIDs {
		entryLen := len("&nftIds=") + len(id)
		if batchLen+entryLen > maxURLLength {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		batch = append(batch, id)
		batchLen += entryLen
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return listings, nil
}

// UpdatedListings implements ClientInterface, paging with
// updatedAfter/limit/offset until the last page is reached.
func (c *Client) UpdatedListings(ctx context.Context, updatedAfter int64) ([]Listing, error) {
	var all []Listing

	for offset := 0; ; offset += c.limit {
		params := url.Values{}
		params.Set("updatedAfter", strconv.FormatInt(updatedAfter, 10))
		params.Set("limit", strconv.Itoa(c.limit))
		params.Set("offset", strconv.Itoa(offset))

		page, err := c.getListings(ctx, params)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Results...)

		if len(page.Results) < c.limit || page.Page >= page.Pages {
			break
		}
	}

	return all, nil
}

// getListings performs one GET against the listings endpoint and
// unwraps the response envelope.
func (c *Client) getListings(ctx context.Context, params url.Values) (*listingsPage, error) {
	reqURL := fmt.Sprintf("%s/v1/rentals-listings?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rentals request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rentals request failed with status %d", resp.StatusCode)
	}

	var envelope listingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode rentals response: %w", err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("rentals service error: %s", envelope.Message)
	}

	return &envelope.Data, nil
}
