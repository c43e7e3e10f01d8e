// Atlas - Virtual World Land Map Service
// Copyright 2026 Mapgrid contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mapgrid/atlas

// Package store persists the last good map snapshot so a restart can
// serve immediately and poll forward from the saved cursor instead of
// re-fetching the whole world.
package store

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/mapgrid/atlas/internal/logging"
	"github.com/mapgrid/atlas/internal/models"
)

// Keys within the badger keyspace.
var (
	keySnapshot = []byte("atlas/snapshot")
)

// Store is a badger-backed snapshot store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at the given path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithCompactL0OnClose(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save overwrites the persisted snapshot.
func (s *Store) Save(ctx context.Context, result *models.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keySnapshot, data)
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	logging.Debug().Int("bytes", len(data)).Int64("cursor", result.UpdatedAt).Msg("Snapshot persisted")
	return nil
}

// Load returns the persisted snapshot, or (nil, nil) when none exists.
func (s *Store) Load(ctx context.Context) (*models.Result, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keySnapshot)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var result models.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &result, nil
}
