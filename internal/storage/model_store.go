// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

// Package storage persists fitted anomaly models in Badger so a trained
// model survives process restarts. The detection core itself stays
// in-memory; this is recovery convenience, not a data store.
package storage

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/bondvoyage/sentinel/internal/logging"
	"github.com/bondvoyage/sentinel/internal/ml"
)

// ErrNoSnapshot is returned by Load when no model has been persisted yet.
var ErrNoSnapshot = errors.New("no model snapshot")

var modelKey = []byte("model/current")

// ModelStore is a Badger-backed snapshot store for fitted models.
type ModelStore struct {
	db *badger.DB
}

// Open opens (or creates) the snapshot store at path.
func Open(path string) (*ModelStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithCompactL0OnClose(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open model store at %s: %w", path, err)
	}

	return &ModelStore{db: db}, nil
}

// Save persists the model as the current snapshot, replacing any prior one.
func (s *ModelStore) Save(model *ml.Model) error {
	data, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to encode model snapshot: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(modelKey, data)
	})
	if err != nil {
		return fmt.Errorf("failed to write model snapshot: %w", err)
	}

	logging.Debug().
		Str("model_version", model.Version).
		Int("bytes", len(data)).
		Msg("model snapshot saved")
	return nil
}

// Load returns the persisted model, or ErrNoSnapshot when none exists.
func (s *ModelStore) Load() (*ml.Model, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(modelKey)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model snapshot: %w", err)
	}

	model := &ml.Model{}
	if err := json.Unmarshal(data, model); err != nil {
		return nil, fmt.Errorf("failed to decode model snapshot: %w", err)
	}
	return model, nil
}

// Close releases the underlying Badger database.
func (s *ModelStore) Close() error {
	return s.db.Close()
}
