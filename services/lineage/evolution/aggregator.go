// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evolution maintains the per-model evolution summary derived from
// snapshots, and analyzes performance shifts across structural edits.
package evolution

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/lineage/services/lineage/history"
	"github.com/AleutianAI/lineage/services/lineage/model"
)

var (
	// ErrUnknownModel is returned when recording performance for a model
	// that has no evolution record yet.
	ErrUnknownModel = errors.New("model is not tracked")

	// ErrInvalidEvent is returned for performance events that cannot be stored.
	ErrInvalidEvent = errors.New("invalid performance event")
)

// Aggregator holds one evolution Record per tracked model.
//
// # Description
//
// Records are updated incrementally by Update and never recomputed from the
// history store. Rebuild is the only full replay and shares the same update
// step, so a replayed record equals the incrementally built one.
//
// # Thread Safety
//
// Safe for concurrent use. Callers that need an update to be atomic with a
// history append must serialize both under their own lock.
type Aggregator struct {
	mu      sync.RWMutex
	records map[model.ID]*Record
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{records: make(map[model.ID]*Record)}
}

// Update folds one snapshot into its model's record, creating it if needed.
func (a *Aggregator) Update(snap *history.Snapshot) error {
	if snap == nil {
		return history.ErrNilSnapshot
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[snap.ModelID()]
	if !ok {
		rec = &Record{ModelID: snap.ModelID()}
		a.records[snap.ModelID()] = rec
	}
	apply(rec, snap)
	return nil
}

// apply is the single update step shared by Update and Rebuild.
func apply(rec *Record, snap *history.Snapshot) {
	ts := snap.Timestamp()
	if len(rec.StructuralChanges) == 0 {
		rec.CreatedAt = ts
		rec.LastModifiedAt = ts
	} else if ts.After(rec.LastModifiedAt) {
		rec.LastModifiedAt = ts
	}
	rec.ModelName = snap.Name()
	rec.StructuralChanges = append(rec.StructuralChanges, StructuralChange{
		Timestamp:    ts,
		ElementCount: snap.ElementCount(),
		Reason:       snap.Reason(),
	})
}

// RecordPerformance appends a performance event to a tracked model.
//
// # Outputs
//
//   - error: ErrUnknownModel if the model has no record, ErrInvalidEvent if
//     the timestamp is unset or a duration or memory figure is negative.
func (a *Aggregator) RecordPerformance(id model.ID, ev PerformanceEvent) error {
	if ev.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp must be set", ErrInvalidEvent)
	}
	if ev.ForwardTime < 0 || ev.BackwardTime < 0 || ev.MemoryUsage < 0 {
		return fmt.Errorf("%w: negative measurement", ErrInvalidEvent)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	ev.Timestamp = ev.Timestamp.UTC()
	rec.PerformanceChanges = append(rec.PerformanceChanges, ev)
	return nil
}

// Get returns a copy of a model's record.
func (a *Aggregator) Get(id model.ID) (Record, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Rebuild replays snapshots into a fresh record without touching the
// aggregator's state.
//
// # Inputs
//
//   - id: The model the snapshots belong to.
//   - snaps: Snapshots in capture order. They are replayed in timestamp
//     order; ties keep their given order.
//
// # Outputs
//
//   - Record: The replayed record. Performance events are not part of
//     snapshot history and are therefore empty.
//   - bool: False if snaps is empty.
//   - error: Non-nil if a snapshot is nil or belongs to another model.
func (a *Aggregator) Rebuild(id model.ID, snaps []*history.Snapshot) (Record, bool, error) {
	ordered := make([]*history.Snapshot, len(snaps))
	for i, snap := range snaps {
		if snap == nil {
			return Record{}, false, fmt.Errorf("index %d: %w", i, history.ErrNilSnapshot)
		}
		if snap.ModelID() != id {
			return Record{}, false, fmt.Errorf("index %d: snapshot belongs to model %s, not %s", i, snap.ModelID(), id)
		}
		ordered[i] = snap
	}
	if len(ordered) == 0 {
		return Record{}, false, nil
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp().Before(ordered[j].Timestamp())
	})

	rec := &Record{ModelID: id}
	for _, snap := range ordered {
		apply(rec, snap)
	}
	return *rec, true, nil
}

// Install stores rec as the model's record, replacing any existing one.
func (a *Aggregator) Install(rec Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	c := rec.Clone()
	a.records[rec.ModelID] = &c
}

// Clear drops a model's record.
func (a *Aggregator) Clear(id model.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, id)
}

// Len returns the number of tracked models.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}
