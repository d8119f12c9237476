// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/lineage/services/lineage/attr"
	"github.com/AleutianAI/lineage/services/lineage/model"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return epoch.Add(time.Duration(sec) * time.Second)
}

func newSnap(t *testing.T, id model.ID, ts time.Time, elems ...ElementState) *Snapshot {
	t.Helper()
	snap, err := NewSnapshot(SnapshotParams{
		ID:           uuid.NewString(),
		ModelID:      id,
		Timestamp:    ts,
		Name:         "net",
		Reason:       ReasonCheckpoint,
		Architecture: elems,
	})
	require.NoError(t, err)
	return snap
}

// -----------------------------------------------------------------------------
// Reason Tests
// -----------------------------------------------------------------------------

func TestParseReason(t *testing.T) {
	for _, r := range Reasons() {
		got, err := ParseReason(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	_, err := ParseReason("Deleted")
	assert.True(t, errors.Is(err, ErrInvalidReason))
	_, err = ParseReason("")
	assert.True(t, errors.Is(err, ErrInvalidReason))
	assert.Len(t, Reasons(), 9)
}

// -----------------------------------------------------------------------------
// Snapshot Tests
// -----------------------------------------------------------------------------

func TestNewSnapshot_Validation(t *testing.T) {
	valid := SnapshotParams{
		ID:        "s1",
		ModelID:   model.NewID(),
		Timestamp: epoch,
		Reason:    ReasonInitial,
	}

	tests := []struct {
		name   string
		mutate func(p *SnapshotParams)
	}{
		{"missing id", func(p *SnapshotParams) { p.ID = "" }},
		{"nil model", func(p *SnapshotParams) { p.ModelID = model.Nil }},
		{"zero timestamp", func(p *SnapshotParams) { p.Timestamp = time.Time{} }},
		{"bad reason", func(p *SnapshotParams) { p.Reason = "Nope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			_, err := NewSnapshot(p)
			assert.Error(t, err)
		})
	}

	snap, err := NewSnapshot(valid)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.ElementCount())
}

func TestSnapshot_ArchitectureIsolated(t *testing.T) {
	attrs := attr.Attributes{"units": attr.Int(4)}
	elems := []ElementState{{ID: "fc", Type: "linear", Attributes: attrs}}
	snap := newSnap(t, model.NewID(), epoch, elems...)

	// Mutating the inputs after construction must not leak in.
	attrs["units"] = attr.Int(99)
	elems[0].Type = "conv"

	// Mutating what the accessor returns must not leak in either.
	arch := snap.Architecture()
	arch[0].Attributes["units"] = attr.Int(7)
	arch[0].ID = "other"

	e, ok := snap.Element(0)
	require.True(t, ok)
	assert.Equal(t, "fc", e.ID)
	assert.Equal(t, "linear", e.Type)
	assert.True(t, attr.Int(4).Equal(e.Attributes["units"]))

	_, ok = snap.Element(1)
	assert.False(t, ok)
}

func TestSnapshot_Equal(t *testing.T) {
	id := model.NewID()
	a := newSnap(t, id, epoch, ElementState{ID: "e", Type: "t", Attributes: attr.Attributes{}})
	b, err := NewSnapshot(SnapshotParams{
		ID: a.ID(), ModelID: id, Timestamp: epoch.In(time.FixedZone("X", 3600)),
		Name: a.Name(), Reason: a.Reason(), Architecture: a.Architecture(),
	})
	require.NoError(t, err)
	assert.True(t, a.Equal(b))

	c := newSnap(t, id, epoch)
	assert.False(t, a.Equal(c))
	assert.True(t, (*Snapshot)(nil).Equal(nil))
	assert.False(t, a.Equal(nil))
}

// -----------------------------------------------------------------------------
// Store Tests
// -----------------------------------------------------------------------------

func TestStore_AppendAndList(t *testing.T) {
	s := NewStore()
	id := model.NewID()

	assert.Empty(t, s.List(id), "unknown model yields empty history")
	_, ok := s.Latest(id)
	assert.False(t, ok)

	first := newSnap(t, id, at(0))
	second := newSnap(t, id, at(1))
	tie := newSnap(t, id, at(1))
	require.NoError(t, s.Append(first))
	require.NoError(t, s.Append(second))
	require.NoError(t, s.Append(tie))

	list := s.List(id)
	require.Len(t, list, 3)
	assert.Same(t, first, list[0])
	assert.Same(t, second, list[1])
	assert.Same(t, tie, list[2], "ties keep insertion order")

	latest, ok := s.Latest(id)
	require.True(t, ok)
	assert.Same(t, tie, latest)

	got, ok := s.Get(id, second.ID())
	require.True(t, ok)
	assert.Same(t, second, got)
	_, ok = s.Get(id, "missing")
	assert.False(t, ok)

	// The returned slice is a copy.
	list[0] = nil
	assert.NotNil(t, s.List(id)[0])
}

func TestStore_AppendRejectsRegression(t *testing.T) {
	s := NewStore()
	id := model.NewID()
	require.NoError(t, s.Append(newSnap(t, id, at(5))))

	err := s.Append(newSnap(t, id, at(0)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfOrder))
	assert.Equal(t, 1, s.Len(id))

	assert.ErrorIs(t, s.Append(nil), ErrNilSnapshot)
}

func TestStore_ListInRange(t *testing.T) {
	s := NewStore()
	id := model.NewID()
	for _, sec := range []int{0, 1, 1, 3, 5, 8} {
		require.NoError(t, s.Append(newSnap(t, id, at(sec))))
	}
	all := s.List(id)

	filter := func(a, b time.Time) []*Snapshot {
		var out []*Snapshot
		for _, snap := range all {
			if !snap.Timestamp().Before(a) && !snap.Timestamp().After(b) {
				out = append(out, snap)
			}
		}
		return out
	}

	for a := -1; a <= 9; a++ {
		for b := -1; b <= 9; b++ {
			t.Run(fmt.Sprintf("[%d,%d]", a, b), func(t *testing.T) {
				got := s.ListInRange(id, at(a), at(b))
				want := filter(at(a), at(b))
				require.Len(t, got, len(want))
				for i := range want {
					assert.Same(t, want[i], got[i])
				}
				if a > b {
					assert.Empty(t, got)
				}
			})
		}
	}

	assert.Empty(t, s.ListInRange(model.NewID(), at(0), at(10)))
}

func TestStore_Install(t *testing.T) {
	s := NewStore()
	id := model.NewID()
	snaps := []*Snapshot{newSnap(t, id, at(0)), newSnap(t, id, at(2))}

	require.NoError(t, s.Install(id, snaps))
	assert.Equal(t, 2, s.Len(id))

	err := s.Install(id, snaps)
	assert.ErrorIs(t, err, ErrHistoryExists)

	other := model.NewID()
	err = s.Install(other, []*Snapshot{newSnap(t, other, at(3)), newSnap(t, other, at(1))})
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, 0, s.Len(other), "failed install leaves nothing behind")

	err = s.Install(other, []*Snapshot{newSnap(t, id, at(3))})
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len(other))
}

func TestStore_ClearAndStats(t *testing.T) {
	s := NewStore()
	a, b := model.NewID(), model.NewID()
	require.NoError(t, s.Append(newSnap(t, a, at(1))))
	require.NoError(t, s.Append(newSnap(t, a, at(4))))
	require.NoError(t, s.Append(newSnap(t, b, at(2))))

	stats := s.Stats()
	assert.Equal(t, 2, stats.Models)
	assert.Equal(t, 3, stats.TotalSnapshots)
	assert.True(t, stats.OldestSnapshot.Equal(at(1)))
	assert.True(t, stats.NewestSnapshot.Equal(at(4)))
	assert.Len(t, s.ModelIDs(), 2)

	s.Clear(a)
	assert.Empty(t, s.List(a))
	assert.NotNil(t, s.List(a), "cleared model reads like an unknown one")
	assert.Equal(t, 1, s.Stats().TotalSnapshots)
	assert.Equal(t, []model.ID{b}, s.ModelIDs())
}

func TestStore_ConcurrentDistinctModels(t *testing.T) {
	s := NewStore()
	const models, perModel = 8, 200

	ids := make([]model.ID, models)
	for i := range ids {
		ids[i] = model.NewID()
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id model.ID) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(id[0])))
			ts := epoch
			for i := 0; i < perModel; i++ {
				ts = ts.Add(time.Duration(r.Intn(3)) * time.Millisecond)
				if err := s.Append(newSnap(t, id, ts)); err != nil {
					t.Error(err)
					return
				}
				_ = s.List(id)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		list := s.List(id)
		require.Len(t, list, perModel)
		for i := 1; i < len(list); i++ {
			assert.False(t, list[i].Timestamp().Before(list[i-1].Timestamp()))
		}
	}
}
