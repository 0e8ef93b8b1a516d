// Sentinel - Tourist Safety Telemetry Anomaly Detection
// Copyright 2026 BondVoyage
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bondvoyage/sentinel

package state

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/bondvoyage/sentinel/internal/models"
	"github.com/bondvoyage/sentinel/internal/telemetry"
)

func sampleAt(id string, ts time.Time, speed float64) telemetry.Sample {
	return telemetry.Sample{
		TouristID:      id,
		Timestamp:      ts,
		Lat:            26.9,
		Lng:            75.8,
		Speed:          speed,
		SpeedKnown:     true,
		AccelMagnitude: 1.0,
	}
}

func resultFor(s telemetry.Sample, anomaly bool) models.AnomalyResponse {
	return models.AnomalyResponse{
		TouristID:   s.TouristID,
		Timestamp:   s.Timestamp,
		IsAnomaly:   anomaly,
		AnomalyType: models.AnomalyNone,
	}
}

// apply pushes a sample through the full ordering-checked update path.
func apply(t *testing.T, store *Store, s telemetry.Sample, anomaly bool, capacity int) error {
	t.Helper()
	return store.Update(s.TouristID, func(ts *TouristState) error {
		if err := ts.CheckOrder(s.Timestamp); err != nil {
			return err
		}
		ts.Append(s, resultFor(s, anomaly), capacity, 0.5)
		return nil
	})
}

func TestStore_OrderingRejection(t *testing.T) {
	store := NewStore(4)
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	if err := apply(t, store, sampleAt("a", base.Add(100*time.Second), 3), false, 10); err != nil {
		t.Fatalf("first sample: %v", err)
	}

	err := apply(t, store, sampleAt("a", base.Add(90*time.Second), 3), false, 10)
	if !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("stale sample error = %v, want ErrOutOfOrder", err)
	}

	// The t=100 sample must remain the last accepted one.
	var last time.Time
	_ = store.Update("a", func(ts *TouristState) error {
		last = ts.LastSample.Timestamp
		return nil
	})
	if !last.Equal(base.Add(100 * time.Second)) {
		t.Errorf("LastSample.Timestamp = %v, want t=100", last)
	}
}

func TestStore_EqualTimestampAppends(t *testing.T) {
	store := NewStore(4)
	ts := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	if err := apply(t, store, sampleAt("a", ts, 3), false, 10); err != nil {
		t.Fatalf("first sample: %v", err)
	}
	if err := apply(t, store, sampleAt("a", ts, 4), false, 10); err != nil {
		t.Fatalf("duplicate-tick sample: %v", err)
	}

	history, ok := store.History("a")
	if !ok {
		t.Fatal("History() ok = false")
	}
	if len(history) != 2 {
		t.Errorf("history length = %d, want 2", len(history))
	}
}

func TestStore_BoundedHistoryFIFO(t *testing.T) {
	store := NewStore(4)
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	capacity := 20

	total := capacity + 50
	for i := 0; i < total; i++ {
		s := sampleAt("a", base.Add(time.Duration(i)*time.Second), 3)
		if err := apply(t, store, s, false, capacity); err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
	}

	history, _ := store.History("a")
	if len(history) != capacity {
		t.Fatalf("history length = %d, want %d", len(history), capacity)
	}

	// Most recent first: head is the last sample submitted.
	wantNewest := base.Add(time.Duration(total-1) * time.Second)
	if !history[0].Timestamp.Equal(wantNewest) {
		t.Errorf("history[0].Timestamp = %v, want %v", history[0].Timestamp, wantNewest)
	}
	wantOldest := base.Add(time.Duration(total-capacity) * time.Second)
	if !history[capacity-1].Timestamp.Equal(wantOldest) {
		t.Errorf("history[last].Timestamp = %v, want %v", history[capacity-1].Timestamp, wantOldest)
	}
}

func TestStore_BaselineSurvivesEviction(t *testing.T) {
	store := NewStore(1)
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 30; i++ {
		s := sampleAt("a", base.Add(time.Duration(i)*time.Second), 4)
		if err := apply(t, store, s, false, 5); err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
	}

	_ = store.Update("a", func(ts *TouristState) error {
		if len(ts.History) != 5 {
			t.Errorf("history length = %d, want 5", len(ts.History))
		}
		if ts.Baseline.Speed.Count != 30 {
			t.Errorf("baseline speed count = %d, want 30 (aggregate must ignore eviction)", ts.Baseline.Speed.Count)
		}
		return nil
	})
}

func TestStore_RejectedFirstSampleLeavesNoState(t *testing.T) {
	store := NewStore(4)

	sentinel := errors.New("boom")
	err := store.Update("ghost", func(*TouristState) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("Update error = %v, want sentinel", err)
	}

	if _, ok := store.History("ghost"); ok {
		t.Error("History() found state for a tourist whose only update failed")
	}
	if got := store.TouristCount(); got != 0 {
		t.Errorf("TouristCount = %d, want 0", got)
	}
}

func TestStore_ConcurrentSameTouristNoLostUpdate(t *testing.T) {
	store := NewStore(8)
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	// Submit 100 strictly increasing samples from competing goroutines.
	// Out-of-order rejections are expected; the invariant is that the
	// surviving history is timestamp-sorted with no lost updates among
	// the accepted ones.
	var wg sync.WaitGroup
	accepted := make([]bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := sampleAt("a", base.Add(time.Duration(i)*time.Second), 3)
			if err := apply(t, store, s, false, 200); err == nil {
				accepted[i] = true
			}
		}(i)
	}
	wg.Wait()

	var acceptedCount int
	for _, ok := range accepted {
		if ok {
			acceptedCount++
		}
	}

	history, _ := store.History("a")
	if len(history) != acceptedCount {
		t.Fatalf("history length = %d, accepted = %d (lost update)", len(history), acceptedCount)
	}
	// most-recent-first: timestamps must be non-increasing
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.After(history[i-1].Timestamp) {
			t.Fatalf("history not sorted at %d: %v after %v", i, history[i].Timestamp, history[i-1].Timestamp)
		}
	}
}

func TestStore_DistinctTouristsIndependent(t *testing.T) {
	store := NewStore(8)
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			id := fmt.Sprintf("tourist-%03d", g)
			for i := 0; i < 50; i++ {
				s := sampleAt(id, base.Add(time.Duration(i)*time.Second), 3)
				if err := apply(t, store, s, false, 200); err != nil {
					t.Errorf("%s sample %d: %v", id, i, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if got := store.TouristCount(); got != 10 {
		t.Errorf("TouristCount = %d, want 10", got)
	}
}

func TestTouristState_StreakAndMovement(t *testing.T) {
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	ts := &TouristState{TouristID: "a"}

	s1 := sampleAt("a", base, 4)
	ts.Append(s1, resultFor(s1, true), 10, 0.5)
	s2 := sampleAt("a", base.Add(time.Minute), 0)
	ts.Append(s2, resultFor(s2, true), 10, 0.5)

	if ts.ConsecutiveAnomalyStreak != 2 {
		t.Errorf("streak = %d, want 2", ts.ConsecutiveAnomalyStreak)
	}
	// Second sample was stationary: movement timestamp stays at s1.
	if !ts.LastMovementTimestamp.Equal(base) {
		t.Errorf("LastMovementTimestamp = %v, want %v", ts.LastMovementTimestamp, base)
	}

	s3 := sampleAt("a", base.Add(2*time.Minute), 3)
	ts.Append(s3, resultFor(s3, false), 10, 0.5)
	if ts.ConsecutiveAnomalyStreak != 0 {
		t.Errorf("streak = %d after normal sample, want 0", ts.ConsecutiveAnomalyStreak)
	}
	if !ts.LastMovementTimestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("LastMovementTimestamp not advanced on movement")
	}
}

func TestWelford(t *testing.T) {
	var w Welford
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	for _, v := range values {
		w.Add(v)
	}

	if w.Count != int64(len(values)) {
		t.Errorf("Count = %d, want %d", w.Count, len(values))
	}
	if math.Abs(w.Mean-5.0) > 1e-9 {
		t.Errorf("Mean = %v, want 5.0", w.Mean)
	}
	if math.Abs(w.Variance()-4.0) > 1e-9 {
		t.Errorf("Variance = %v, want 4.0", w.Variance())
	}
	if math.Abs(w.StdDev()-2.0) > 1e-9 {
		t.Errorf("StdDev = %v, want 2.0", w.StdDev())
	}
}
