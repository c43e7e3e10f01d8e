// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mapgrid/atlas/internal/logging"
	"github.com/mapgrid/atlas/internal/mapstate"
	"github.com/mapgrid/atlas/internal/websocket"
)

// PollerService runs the map engine's poll loop under supervision.
type PollerService struct {
	engine *mapstate.Engine
}

// NewPollerService wraps the engine as a suture service.
func NewPollerService(engine *mapstate.Engine) *PollerService {
	return &PollerService{engine: engine}
}

// Serve implements suture.Service.
func (s *PollerService) Serve(ctx context.Context) error {
	return s.engine.Run(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (s *PollerService) String() string { return "map-poller" }

// HubService runs the websocket hub under supervision.
type HubService struct {
	hub *websocket.Hub
}

// NewHubService wraps the hub as a suture service.
func NewHubService(hub *websocket.Hub) *HubService {
	return &HubService{hub: hub}
}

// Serve implements suture.Service.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.Run(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (s *HubService) String() string { return "websocket-hub" }

// NotifierService forwards engine update events to the websocket hub.
type NotifierService struct {
	engine *mapstate.Engine
	hub    *websocket.Hub
}

// NewNotifierService creates the event bridge.
func NewNotifierService(engine *mapstate.Engine, hub *websocket.Hub) *NotifierService {
	return &NotifierService{engine: engine, hub: hub}
}

// Serve implements suture.Service.
func (s *NotifierService) Serve(ctx context.Context) error {
	events, cancel := s.engine.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return errors.New("engine event stream closed")
			}
			if event.Type == mapstate.EventReady || event.Type == mapstate.EventUpdated {
				s.hub.Broadcast(websocket.Message{
					Type:          websocket.MessageTypeUpdate,
					LastUpdatedAt: event.LastUpdatedAt,
				})
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *NotifierService) String() string { return "update-notifier" }

// HTTPService runs the API server under supervision with graceful
// shutdown on context cancellation.
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewHTTPService wraps an http.Server as a suture service.
func NewHTTPService(server *http.Server, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()
	logging.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *HTTPService) String() string { return "http-server" }
