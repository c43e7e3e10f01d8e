// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

// Package websocket pushes map update notifications to connected
// clients. Clients receive a small "update" message carrying the new
// cursor and re-fetch the tiles they care about over HTTP; the hub
// never streams tile data itself.
package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mapgrid/atlas/internal/logging"
	"github.com/mapgrid/atlas/internal/metrics"
)

// Message types.
const (
	MessageTypeUpdate = "update"
	MessageTypePing   = "ping"
	MessageTypePong   = "pong"
)

// Message is one websocket frame payload.
type Message struct {
	Type          string `json:"type"`
	LastUpdatedAt int64  `json:"lastUpdatedAt,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Map data is public; any origin may subscribe.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub tracks connected clients and fans out update notifications.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan Message
}

// NewHub creates a hub. Run must be started before Handler accepts
// connections.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Message, 64),
	}
}

// Run services the hub until the context is cancelled, then closes
// every client connection.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			logging.Debug().Int("total_clients", total).Msg("websocket client connected")
		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			logging.Debug().Int("total_clients", total).Msg("websocket client disconnected")
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer; drop the frame rather than block
					// the hub.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues a message for all connected clients.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// Handler upgrades an HTTP request to a websocket connection.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := newClient(h, conn)
	h.register <- c
	c.start()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	metrics.WebSocketClients.Set(0)
}
