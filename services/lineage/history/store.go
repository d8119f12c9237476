// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history holds the append-only, per-model log of snapshots.
package history

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/lineage/services/lineage/model"
)

var (
	// ErrNilSnapshot is returned when appending a nil snapshot.
	ErrNilSnapshot = errors.New("snapshot must not be nil")

	// ErrOutOfOrder is returned when a snapshot is older than the model's tail.
	ErrOutOfOrder = errors.New("snapshot timestamp precedes latest snapshot")

	// ErrHistoryExists is returned when installing over a non-empty history.
	ErrHistoryExists = errors.New("model already has history")
)

// Store keeps the ordered snapshot sequence of every tracked model.
//
// # Description
//
// Each model's sequence is non-decreasing in timestamp. Ties keep insertion
// order and nothing is reordered, evicted, or mutated after insertion.
// Snapshots are immutable, so readers receive shared pointers inside a
// freshly allocated slice.
//
// NO external dependencies; the store lives for the process lifetime and
// durability is the caller's choice via explicit export.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	seqs  map[model.ID][]*Snapshot
	total int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{seqs: make(map[model.ID][]*Snapshot)}
}

// Append adds a snapshot to its model's sequence.
//
// # Description
//
// O(1) amortized. The tail check makes the ordering invariant hold even for
// callers that bypass the tracker.
//
// # Outputs
//
//   - error: ErrNilSnapshot, or ErrOutOfOrder if the snapshot is strictly
//     older than the current tail. The store is unchanged on error.
func (s *Store) Append(snap *Snapshot) error {
	if snap == nil {
		return ErrNilSnapshot
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.seqs[snap.ModelID()]
	if n := len(seq); n > 0 && snap.Timestamp().Before(seq[n-1].Timestamp()) {
		return fmt.Errorf("%w: model %s latest=%s attempted=%s", ErrOutOfOrder,
			snap.ModelID(), seq[n-1].Timestamp().Format(time.RFC3339Nano),
			snap.Timestamp().Format(time.RFC3339Nano))
	}
	s.seqs[snap.ModelID()] = append(seq, snap)
	s.total++
	return nil
}

// Install sets the full sequence for a model that has no history yet.
//
// # Description
//
// Used by import. Validation runs before anything is stored, so either the
// whole sequence is installed or nothing is.
//
// # Outputs
//
//   - error: ErrHistoryExists, ErrNilSnapshot, ErrOutOfOrder, or a model
//     mismatch error.
func (s *Store) Install(id model.ID, snaps []*Snapshot) error {
	for i, snap := range snaps {
		if snap == nil {
			return fmt.Errorf("index %d: %w", i, ErrNilSnapshot)
		}
		if snap.ModelID() != id {
			return fmt.Errorf("index %d: snapshot belongs to model %s, not %s", i, snap.ModelID(), id)
		}
		if i > 0 && snap.Timestamp().Before(snaps[i-1].Timestamp()) {
			return fmt.Errorf("index %d: %w", i, ErrOutOfOrder)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.seqs[id]) > 0 {
		return fmt.Errorf("%w: %s", ErrHistoryExists, id)
	}
	if len(snaps) == 0 {
		return nil
	}
	s.seqs[id] = append([]*Snapshot(nil), snaps...)
	s.total += len(snaps)
	return nil
}

// List returns the full history of a model in timestamp order.
//
// An unknown or cleared model yields an empty, non-nil slice.
func (s *Store) List(id model.ID) []*Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]*Snapshot{}, s.seqs[id]...)
}

// ListInRange returns the snapshots with start <= timestamp <= end.
//
// # Description
//
// Binary searches the sorted sequence; the result preserves order. If start
// is after end, or the model is unknown, the result is empty.
func (s *Store) ListInRange(id model.ID, start, end time.Time) []*Snapshot {
	if start.After(end) {
		return []*Snapshot{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.seqs[id]
	lo := sort.Search(len(seq), func(i int) bool {
		return !seq[i].Timestamp().Before(start)
	})
	hi := sort.Search(len(seq), func(i int) bool {
		return seq[i].Timestamp().After(end)
	})
	if lo >= hi {
		return []*Snapshot{}
	}
	return append([]*Snapshot{}, seq[lo:hi]...)
}

// Latest returns the most recent snapshot of a model.
func (s *Store) Latest(id model.ID) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.seqs[id]
	if len(seq) == 0 {
		return nil, false
	}
	return seq[len(seq)-1], true
}

// Get returns a snapshot of a model by snapshot id.
func (s *Store) Get(id model.ID, snapshotID string) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snap := range s.seqs[id] {
		if snap.ID() == snapshotID {
			return snap, true
		}
	}
	return nil, false
}

// Len returns the number of snapshots stored for a model.
func (s *Store) Len(id model.ID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seqs[id])
}

// ModelIDs returns every model with history, sorted by id text.
func (s *Store) ModelIDs() []model.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]model.ID, 0, len(s.seqs))
	for id, seq := range s.seqs {
		if len(seq) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

// Clear drops a model's history. Intended for test isolation.
func (s *Store) Clear(id model.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total -= len(s.seqs[id])
	delete(s.seqs, id)
}

// StoreStats contains store statistics.
type StoreStats struct {
	Models         int       `json:"models"`
	TotalSnapshots int       `json:"total_snapshots"`
	OldestSnapshot time.Time `json:"oldest_snapshot,omitzero"`
	NewestSnapshot time.Time `json:"newest_snapshot,omitzero"`
}

// Stats returns current statistics.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{TotalSnapshots: s.total}
	for _, seq := range s.seqs {
		if len(seq) == 0 {
			continue
		}
		stats.Models++
		first, last := seq[0].Timestamp(), seq[len(seq)-1].Timestamp()
		if stats.OldestSnapshot.IsZero() || first.Before(stats.OldestSnapshot) {
			stats.OldestSnapshot = first
		}
		if last.After(stats.NewestSnapshot) {
			stats.NewestSnapshot = last
		}
	}
	return stats
}
