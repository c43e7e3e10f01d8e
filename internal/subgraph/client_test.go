// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

package subgraph

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/mapgrid/atlas/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(&config.SubgraphConfig{
		URL:            srv.URL,
		RequestTimeout: 5 * time.Second,
		RetryAttempts:  5,
	})
	c.retryBaseDelay = time.Millisecond
	return c
}

func TestNewClientHonorsRetryConfig(t *testing.T) {
	c := NewClient(&config.SubgraphConfig{
		URL:            "http://subgraph.test",
		RequestTimeout: 5 * time.Second,
		RetryAttempts:  3,
		RetryDelay:     250 * time.Millisecond,
	})
	if c.maxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", c.maxRetries)
	}
	if c.retryBaseDelay != 250*time.Millisecond {
		t.Errorf("retryBaseDelay = %v, want 250ms", c.retryBaseDelay)
	}

	// A zero delay falls back to one second so the backoff never spins.
	c = NewClient(&config.SubgraphConfig{URL: "http://subgraph.test", RequestTimeout: 5 * time.Second})
	if c.retryBaseDelay != time.Second {
		t.Errorf("retryBaseDelay = %v, want the 1s fallback", c.retryBaseDelay)
	}
}

func decodeRequest(t *testing.T, r *http.Request) graphRequest {
	t.Helper()
	var req graphRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

func TestParcelsDecodesPage(t *testing.T) {
	var gotVars map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotVars = decodeRequest(t, r).Variables
		_, _ = w.Write([]byte(`{"data": {"nfts": [
			{"tokenId": "1", "searchParcelX": "10", "searchParcelY": "-20",
			 "owner": {"id": "0xowner"}, "updatedAt": "1000"},
			{"tokenId": "2", "searchParcelX": "11", "searchParcelY": "-20",
			 "updatedAt": "1001",
			 "estate": {"tokenId": "7", "size": 2, "updatedAt": "1002"}}
		]}}`))
	})

	parcels, err := c.Parcels(context.Background(), "5", 100, 200)
	if err != nil {
		t.Fatalf("Parcels: %v", err)
	}
	if len(parcels) != 2 {
		t.Fatalf("parcels = %d, want 2", len(parcels))
	}
	if parcels[0].X != "10" || parcels[0].Y != "-20" {
		t.Errorf("coordinates = %s,%s", parcels[0].X, parcels[0].Y)
	}
	if parcels[0].Owner == nil || parcels[0].Owner.ID != "0xowner" {
		t.Errorf("owner = %+v", parcels[0].Owner)
	}
	if parcels[1].Estate == nil || parcels[1].Estate.TokenID != "7" {
		t.Errorf("estate = %+v", parcels[1].Estate)
	}

	if gotVars["first"] != float64(100) || gotVars["skip"] != float64(200) {
		t.Errorf("pagination vars = %v", gotVars)
	}
	if gotVars["lastTokenId"] != "5" {
		t.Errorf("lastTokenId = %v, want 5", gotVars["lastTokenId"])
	}
}

func TestParcelsEmptyCursorSentinel(t *testing.T) {
	var gotVars map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotVars = decodeRequest(t, r).Variables
		_, _ = w.Write([]byte(`{"data": {"nfts": []}}`))
	})

	if _, err := c.Parcels(context.Background(), "", 10, 0); err != nil {
		t.Fatalf("Parcels: %v", err)
	}
	if gotVars["lastTokenId"] != "-1" {
		t.Errorf("lastTokenId = %v, empty cursor must become the -1 sentinel", gotVars["lastTokenId"])
	}
}

func TestGraphQLErrorsArrayFails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": null, "errors": [{"message": "field does not exist"}]}`))
	})

	if _, err := c.Parcels(context.Background(), "", 10, 0); err == nil {
		t.Error("a GraphQL errors array must fail the call even with HTTP 200")
	}
}

func TestRetryOn429(t *testing.T) {
	var requests int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data": {"nfts": []}}`))
	})

	if _, err := c.Parcels(context.Background(), "", 10, 0); err != nil {
		t.Fatalf("Parcels after retries: %v", err)
	}
	if requests != 3 {
		t.Errorf("requests = %d, want 2 rate-limited attempts then success", requests)
	}
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	var requests int
	var firstRetryAt time.Time
	start := time.Now()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		firstRetryAt = time.Now()
		_, _ = w.Write([]byte(`{"data": {"nfts": []}}`))
	})

	if _, err := c.Parcels(context.Background(), "", 10, 0); err != nil {
		t.Fatalf("Parcels: %v", err)
	}
	if elapsed := firstRetryAt.Sub(start); elapsed < time.Second {
		t.Errorf("retry came after %v, must wait the advertised Retry-After second", elapsed)
	}
}

func TestNon429StatusFailsImmediately(t *testing.T) {
	var requests int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	if _, err := c.Parcels(context.Background(), "", 10, 0); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if requests != 1 {
		t.Errorf("requests = %d, non-429 failures must not retry", requests)
	}
}

func TestUpdatedEstatesDecodesMembers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if req.Variables["updatedAfter"] != float64(500) {
			t.Errorf("updatedAfter = %v, want 500", req.Variables["updatedAfter"])
		}
		_, _ = w.Write([]byte(`{"data": {"estates": [
			{"tokenId": "7", "size": 2, "updatedAt": "600",
			 "parcels": [{"tokenId": "1", "x": "10", "y": "20"},
			             {"tokenId": "2", "x": "11", "y": "20"}]}
		]}}`))
	})

	estates, err := c.UpdatedEstates(context.Background(), 500, 10, 0)
	if err != nil {
		t.Fatalf("UpdatedEstates: %v", err)
	}
	if len(estates) != 1 {
		t.Fatalf("estates = %d, want 1", len(estates))
	}
	if len(estates[0].Parcels) != 2 {
		t.Fatalf("members = %d, want 2", len(estates[0].Parcels))
	}
	if estates[0].Parcels[1].X != "11" {
		t.Errorf("member x = %q, want 11", estates[0].Parcels[1].X)
	}
}

func TestEstateLookup(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		if req.Variables["tokenId"] == "7" {
			_, _ = w.Write([]byte(`{"data": {"estates": [{"tokenId": "7", "size": 0, "updatedAt": "100"}]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data": {"estates": []}}`))
	})

	e, err := c.Estate(context.Background(), "7")
	if err != nil {
		t.Fatalf("Estate: %v", err)
	}
	if e == nil || e.TokenID != "7" {
		t.Fatalf("estate = %+v, want token 7", e)
	}

	e, err = c.Estate(context.Background(), "404")
	if err != nil {
		t.Fatalf("Estate: %v", err)
	}
	if e != nil {
		t.Errorf("missing estate must return nil, got %+v", e)
	}
}
