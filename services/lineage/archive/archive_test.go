// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archive

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/lineage/services/lineage/attr"
	"github.com/AleutianAI/lineage/services/lineage/document"
	"github.com/AleutianAI/lineage/services/lineage/history"
	"github.com/AleutianAI/lineage/services/lineage/model"
	"github.com/AleutianAI/lineage/services/lineage/storage/badger"
)

var epoch = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*Store, *badger.DB) {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(db, nil)
	s.now = func() time.Time { return epoch.Add(time.Hour) }
	return s, db
}

func historyDoc(t *testing.T, id model.ID, n int) document.History {
	t.Helper()
	var snaps []*history.Snapshot
	for i := 0; i < n; i++ {
		elems := make([]history.ElementState, i)
		for j := range elems {
			elems[j] = history.ElementState{
				ID:         fmt.Sprintf("layer%d", j),
				Type:       "conv2d",
				Attributes: attr.Attributes{"kernel": attr.List(attr.Int(3), attr.Int(3)), "lr": attr.Float(1e-3)},
			}
		}
		snap, err := history.NewSnapshot(history.SnapshotParams{
			ID:           fmt.Sprintf("s%d", i),
			ModelID:      id,
			Timestamp:    epoch.Add(time.Duration(i) * time.Second),
			Name:         fmt.Sprintf("net-v%d", i),
			Reason:       history.ReasonElementAdded,
			Architecture: elems,
		})
		require.NoError(t, err)
		snaps = append(snaps, snap)
	}
	return document.FromSnapshots(snaps)
}

// -----------------------------------------------------------------------------
// Put / Get Tests
// -----------------------------------------------------------------------------

func TestStore_PutGetRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	id := model.NewID()
	doc := historyDoc(t, id, 12)

	gotID, err := s.Put(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)

	back, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, back, 12)

	_, want, err := document.ToSnapshots(doc)
	require.NoError(t, err)
	_, got, err := document.ToSnapshots(back)
	require.NoError(t, err)
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "snapshot %d", i)
	}
}

func TestStore_PutReplaces(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	id := model.NewID()

	_, err := s.Put(ctx, historyDoc(t, id, 5))
	require.NoError(t, err)
	_, err = s.Put(ctx, historyDoc(t, id, 2))
	require.NoError(t, err)

	back, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, back, 2)

	entries, err := s.Models(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ModelID)
	assert.Equal(t, "net-v1", entries[0].ModelName)
	assert.Equal(t, 2, entries[0].Snapshots)
	assert.True(t, entries[0].ArchivedAt.Equal(epoch.Add(time.Hour)))
}

func TestStore_PutRejects(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, document.History{})
	assert.ErrorIs(t, err, ErrEmptyHistory)

	doc := historyDoc(t, model.NewID(), 3)
	doc[2].Reason = "Bogus"
	_, err = s.Put(ctx, doc)
	assert.ErrorIs(t, err, document.ErrMalformedDocument)

	entries, err := s.Models(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_GetNotFound(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Get(context.Background(), model.NewID())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_ModelsIsolated(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	a, b := model.NewID(), model.NewID()

	_, err := s.Put(ctx, historyDoc(t, a, 3))
	require.NoError(t, err)
	_, err = s.Put(ctx, historyDoc(t, b, 4))
	require.NoError(t, err)

	entries, err := s.Models(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	counts := map[model.ID]int{}
	for _, e := range entries {
		counts[e.ModelID] = e.Snapshots
	}
	assert.Equal(t, map[model.ID]int{a: 3, b: 4}, counts)

	require.NoError(t, s.Delete(ctx, a))
	_, err = s.Get(ctx, a)
	assert.ErrorIs(t, err, ErrNotFound)
	back, err := s.Get(ctx, b)
	require.NoError(t, err)
	assert.Len(t, back, 4)

	assert.ErrorIs(t, s.Delete(ctx, a), ErrNotFound)
}

// -----------------------------------------------------------------------------
// Integrity Tests
// -----------------------------------------------------------------------------

func TestStore_DetectsCorruption(t *testing.T) {
	s, db := newStore(t)
	ctx := context.Background()
	id := model.NewID()
	_, err := s.Put(ctx, historyDoc(t, id, 3))
	require.NoError(t, err)

	// Flip a payload byte of the second entry.
	key := snapKey(id, 1)
	require.NoError(t, db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		val[len(val)-2] ^= 0xff
		return txn.Set(key, val)
	}))

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrArchiveCorrupted)

	require.NoError(t, db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(key, []byte{1, 2})
	}))
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrArchiveCorrupted)
}

func TestEntryCodec(t *testing.T) {
	data, err := encodeEntry(map[string]int{"a": 1})
	require.NoError(t, err)

	var out map[string]int
	require.NoError(t, decodeEntry(data, &out))
	assert.Equal(t, 1, out["a"])

	var doc document.SnapshotDoc
	bad, err := encodeEntry(map[string]int{"unexpected": 1})
	require.NoError(t, err)
	assert.ErrorIs(t, decodeEntry(bad, &doc), ErrArchiveCorrupted)
}
