// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

// Package cache provides the rendered-image cache. Rendering a large
// map PNG is the most expensive request the server handles; identical
// requests against the same map generation are served from memory.
package cache

import (
	"strconv"
	"sync"
	"time"

	"github.com/mapgrid/atlas/internal/metrics"
)

// entry is one cached render in the doubly-linked LRU list.
type entry struct {
	key       string
	value     []byte
	prev      *entry
	next      *entry
	expiresAt time.Time
}

// RenderCache is a thread-safe LRU cache with TTL for rendered images.
// Keys embed the map generation cursor, so a publish naturally
// invalidates stale renders without an explicit flush.
//
// A doubly-linked list keeps ordering and a map keeps lookups, both
// O(1); expiration is lazy on access.
type RenderCache struct {
	mu sync.Mutex

	capacity int
	ttl      time.Duration

	items map[string]*entry

	// head.next is most recently used, tail.prev least.
	head *entry
	tail *entry
}

// NewRenderCache creates a cache with the given entry capacity and TTL.
func NewRenderCache(capacity int, ttl time.Duration) *RenderCache {
	if capacity <= 0 {
		capacity = 256
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	c := &RenderCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*entry, capacity),
		head:     &entry{},
		tail:     &entry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Key builds a cache key from the render parameter string and the map
// generation cursor.
func Key(params string, version int64) string {
	return strconv.FormatInt(version, 10) + "|" + params
}

// Get returns the cached bytes for a key, moving it to the front.
func (c *RenderCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		metrics.RenderCacheMisses.Inc()
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeEntry(e)
		metrics.RenderCacheMisses.Inc()
		return nil, false
	}

	c.moveToFront(e)
	metrics.RenderCacheHits.Inc()
	return e.value, true
}

// Add stores rendered bytes, evicting the least recently used entries
// when over capacity.
func (c *RenderCache) Add(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)
	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value, expiresAt: expiresAt}
	c.addToFront(e)
	c.items[key] = e

	for len(c.items) > c.capacity {
		c.evictOldest()
	}
}

// Len returns the current number of entries.
func (c *RenderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear removes all entries.
func (c *RenderCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry, c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Internal methods, called with the lock held.

func (c *RenderCache) addToFront(e *entry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *RenderCache) moveToFront(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.addToFront(e)
}

func (c *RenderCache) removeEntry(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(c.items, e.key)
}

func (c *RenderCache) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.removeEntry(oldest)
}
