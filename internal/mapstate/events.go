// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

package mapstate

import "sync"

// EventType identifies a map engine lifecycle event.
type EventType int

// Engine events. Ready fires once when the first generation is
// published, Updated after every applied incremental change, Error
// after a failed poll or init cycle.
const (
	EventReady EventType = iota
	EventUpdated
	EventError
)

// String implements fmt.Stringer.
func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventUpdated:
		return "updated"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification.
type Event struct {
	Type          EventType
	LastUpdatedAt int64
	Err           error
}

// subscriberBuffer bounds per-subscriber queues. Slow subscribers lose
// events rather than stalling the engine.
const subscriberBuffer = 16

// registry is a typed fan-out of engine events.
type registry struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func newRegistry() *registry {
	return &registry{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of engine events and a cancel function.
// The channel is closed on cancel.
func (r *registry) Subscribe() (<-chan Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.next
	r.next++
	ch := make(chan Event, subscriberBuffer)
	r.subs[id] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publish delivers an event to all subscribers without blocking.
func (r *registry) publish(e Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
