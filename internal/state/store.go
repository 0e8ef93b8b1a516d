// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

package state

import (
	"hash/fnv"
	"sync"

	"github.com/bondvoyage/sentinel/internal/models"
)

// Store is a sharded map of tourist states. Each shard carries its own
// mutex, so updates for distinct tourists proceed in parallel while two
// concurrent samples for the same tourist fully serialize.
type Store struct {
	shards []*shard
}

type shard struct {
	mu       sync.RWMutex
	tourists map[string]*TouristState
}

// NewStore creates a Store with the given shard count.
func NewStore(shardCount int) *Store {
	if shardCount < 1 {
		shardCount = 1
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{tourists: make(map[string]*TouristState)}
	}
	return &Store{shards: shards}
}

func (s *Store) shardFor(touristID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(touristID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Update runs fn against the tourist's state under the shard lock, creating
// the state on first use. The lock is held across the whole closure, so a
// read-score-append sequence inside fn is atomic per tourist.
//
// When fn fails on a freshly created state, the state is discarded again;
// rejected samples never leave tourists behind.
func (s *Store) Update(touristID string, fn func(*TouristState) error) error {
	sh := s.shardFor(touristID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ts, ok := sh.tourists[touristID]
	created := false
	if !ok {
		ts = &TouristState{TouristID: touristID}
		sh.tourists[touristID] = ts
		created = true
	}

	if err := fn(ts); err != nil {
		if created {
			delete(sh.tourists, touristID)
		}
		return err
	}

	return nil
}

// History returns a copy of the tourist's verdicts in most-recent-first
// order, matching what the read API serves. The second return is false when
// the tourist is unknown.
func (s *Store) History(touristID string) ([]models.AnomalyResponse, bool) {
	sh := s.shardFor(touristID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	ts, ok := sh.tourists[touristID]
	if !ok {
		return nil, false
	}

	out := make([]models.AnomalyResponse, len(ts.History))
	for i, e := range ts.History {
		out[len(ts.History)-1-i] = e.Result
	}
	return out, true
}

// TouristCount returns the number of tourists with live state.
func (s *Store) TouristCount() int64 {
	var n int64
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += int64(len(sh.tourists))
		sh.mu.RUnlock()
	}
	return n
}
