// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracker

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/lineage/services/lineage/archive"
	"github.com/AleutianAI/lineage/services/lineage/document"
	"github.com/AleutianAI/lineage/services/lineage/evolution"
	"github.com/AleutianAI/lineage/services/lineage/model"
	"github.com/AleutianAI/lineage/services/lineage/storage/badger"
)

// buildHistory captures a scripted sequence of edits with mixed attribute
// types and returns the tracker and the model.
func buildHistory(t *testing.T) (*Tracker, *model.Composite) {
	t.Helper()
	clock := &manualClock{}
	tr := New(WithClock(clock))
	net := model.NewComposite("resnet-mini")
	ctx := context.Background()

	steps := []struct {
		sec    int
		reason Reason
		edit   func() error
	}{
		{0, ReasonInitial, func() error { return nil }},
		{1, ReasonElementAdded, func() error {
			return net.AddElement("conv1", "conv2d", map[string]any{
				"kernel":  []int{3, 3},
				"stride":  1,
				"bias":    false,
				"padding": "same",
			})
		}},
		{1, ReasonElementAdded, func() error {
			return net.AddElement("bn1", "batchnorm", map[string]any{
				"eps":      1e-5,
				"momentum": 0.1,
				"affine":   true,
				"shape":    map[string]any{"c": 64, "dims": []any{1, "N", 2.5, nil}},
			})
		}},
		{3, ReasonHyperparameterChange, func() error { return net.SetAttribute("conv1", "stride", 2) }},
		{4, ReasonElementRemoved, func() error { return net.RemoveElement("bn1") }},
		{4, ReasonCheckpoint, func() error {
			net.Rename("resnet-mini-v2")
			return net.SetAttribute("conv1", "clip", math.Inf(1))
		}},
	}
	for _, s := range steps {
		require.NoError(t, s.edit())
		clock.Set(at(s.sec))
		_, err := tr.Capture(ctx, net, s.reason)
		require.NoError(t, err)
	}
	return tr, net
}

// -----------------------------------------------------------------------------
// Round Trip and Replay
// -----------------------------------------------------------------------------

func TestExportImport_RoundTrip(t *testing.T) {
	src, net := buildHistory(t)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, document.Encode(&buf, src.ExportHistory(net.ID())))
	doc, err := document.DecodeHistory(&buf)
	require.NoError(t, err)

	dst := New()
	id, err := dst.ImportHistory(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, net.ID(), id)

	want := src.History(net.ID())
	got := dst.History(net.ID())
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "snapshot %d differs", i)
	}

	// Replay determinism: the rebuilt record equals the incremental one.
	incremental, ok := src.Evolution(net.ID())
	require.True(t, ok)
	replayed, ok := dst.Evolution(net.ID())
	require.True(t, ok)
	assert.True(t, incremental.Equal(replayed))
	assert.Equal(t, "resnet-mini-v2", replayed.ModelName)
	assert.Len(t, replayed.StructuralChanges, 6)

	// The imported model accepts new captures from its latest timestamp on.
	_, err = dst.CaptureAt(ctx, net, ReasonManual, at(4))
	require.NoError(t, err)
	_, err = dst.CaptureAt(ctx, net, ReasonManual, at(3))
	assert.ErrorIs(t, err, ErrClockRegression)
}

type optimizerBase struct {
	LR float64 `json:"lr"`
}

type optimizerConfig struct {
	optimizerBase
	Name  string `json:"name"`
	Steps uint64 `json:"steps"`
}

func TestExportImport_StructAttributes(t *testing.T) {
	ctx := context.Background()
	src := New(WithClock(&tickClock{}))
	net := model.NewComposite("sgd-net")
	require.NoError(t, net.AddElement("opt", "optimizer", map[string]any{
		"config": optimizerConfig{optimizerBase{LR: 0.01}, "sgd", math.MaxUint64},
	}))
	_, err := src.Capture(ctx, net, ReasonInitial)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, document.Encode(&buf, src.ExportHistory(net.ID())))
	doc, err := document.DecodeHistory(&buf)
	require.NoError(t, err)

	dst := New()
	_, err = dst.ImportHistory(ctx, doc)
	require.NoError(t, err)

	snap, ok := dst.Latest(net.ID())
	require.True(t, ok)
	el, ok := snap.Element(0)
	require.True(t, ok)
	cfg, ok := el.Attributes["config"].AsMap()
	require.True(t, ok)

	lr, ok := cfg["lr"].AsFloat()
	require.True(t, ok, "promoted field of an embedded struct is kept")
	assert.Equal(t, 0.01, lr)
	name, _ := cfg["name"].AsString()
	assert.Equal(t, "sgd", name)
	steps, ok := cfg["steps"].AsString()
	require.True(t, ok)
	assert.Equal(t, "18446744073709551615", steps)
	assert.Len(t, cfg, 3)
}

func TestExportEvolution(t *testing.T) {
	tr, net := buildHistory(t)
	require.NoError(t, tr.RecordPerformance(context.Background(), net.ID(), evolution.PerformanceEvent{
		Timestamp:    at(5),
		ForwardTime:  12 * time.Millisecond,
		BackwardTime: 30 * time.Millisecond,
		MemoryUsage:  1 << 20,
	}))

	doc, ok := tr.ExportEvolution(net.ID())
	require.True(t, ok)
	rec, err := document.ToRecord(doc)
	require.NoError(t, err)
	orig, _ := tr.Evolution(net.ID())
	assert.True(t, orig.Equal(rec))

	_, ok = tr.ExportEvolution(model.NewID())
	assert.False(t, ok)
}

func TestImportHistory_Rejections(t *testing.T) {
	src, net := buildHistory(t)
	ctx := context.Background()
	doc := src.ExportHistory(net.ID())

	t.Run("existing history", func(t *testing.T) {
		_, err := src.ImportHistory(ctx, doc)
		assert.ErrorIs(t, err, ErrModelExists)
		assert.Len(t, src.History(net.ID()), 6)
	})

	t.Run("malformed is atomic", func(t *testing.T) {
		bad := append(document.History(nil), doc...)
		bad[len(bad)-1].Reason = "Refactor"

		dst := New()
		_, err := dst.ImportHistory(ctx, bad)
		assert.ErrorIs(t, err, document.ErrMalformedDocument)
		assert.Empty(t, dst.ModelIDs())
		_, ok := dst.Evolution(net.ID())
		assert.False(t, ok)
	})

	t.Run("out of order", func(t *testing.T) {
		bad := append(document.History(nil), doc...)
		bad[1], bad[3] = bad[3], bad[1]

		dst := New()
		_, err := dst.ImportHistory(ctx, bad)
		assert.ErrorIs(t, err, document.ErrMalformedDocument)
		assert.Empty(t, dst.ModelIDs())
	})

	t.Run("empty is a no-op", func(t *testing.T) {
		dst := New()
		id, err := dst.ImportHistory(ctx, document.History{})
		require.NoError(t, err)
		assert.True(t, id.IsNil())
		assert.Empty(t, dst.ModelIDs())
	})
}

// -----------------------------------------------------------------------------
// Files
// -----------------------------------------------------------------------------

func TestExportFiles(t *testing.T) {
	tr, net := buildHistory(t)
	ctx := context.Background()
	dir := t.TempDir()

	histPath := filepath.Join(dir, "history.json")
	require.NoError(t, tr.ExportHistoryFile(ctx, net.ID(), histPath))
	h, err := document.ReadHistoryFile(histPath)
	require.NoError(t, err)
	assert.Len(t, h, 6)

	evoPath := filepath.Join(dir, "evolution.json.gz")
	require.NoError(t, tr.ExportEvolutionFile(ctx, net.ID(), evoPath))
	e, err := document.ReadEvolutionFile(evoPath)
	require.NoError(t, err)
	assert.Equal(t, net.ID().String(), e.ModelID)

	err = tr.ExportEvolutionFile(ctx, model.NewID(), filepath.Join(dir, "none.json"))
	assert.ErrorIs(t, err, evolution.ErrUnknownModel)
	_, statErr := os.Stat(filepath.Join(dir, "none.json"))
	assert.True(t, os.IsNotExist(statErr))

	err = tr.ExportHistoryFile(ctx, net.ID(), filepath.Join(dir, "missing", "h.json"))
	assert.ErrorIs(t, err, document.ErrExportIO)
	var ioErr *document.ExportIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, filepath.Join(dir, "missing", "h.json"), ioErr.Path)

	// Unknown models export an empty, valid history.
	emptyPath := filepath.Join(dir, "empty.json")
	require.NoError(t, tr.ExportHistoryFile(ctx, model.NewID(), emptyPath))
	data, err := os.ReadFile(emptyPath)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(string(data)))
}

func TestExportAll(t *testing.T) {
	tr, net := buildHistory(t)
	other := model.NewComposite("other")
	_, err := tr.CaptureAt(context.Background(), other, ReasonInitial, at(0))
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	paths, err := tr.ExportAll(context.Background(), dir, true)
	require.NoError(t, err)
	require.Len(t, paths, 4)
	for _, p := range paths {
		assert.True(t, strings.HasSuffix(p, ".json.gz"), p)
	}

	restored := New()
	for _, id := range []model.ID{net.ID(), other.ID()} {
		h, err := document.ReadHistoryFile(filepath.Join(dir, id.String()+".history.json.gz"))
		require.NoError(t, err)
		_, err = restored.ImportHistory(context.Background(), h)
		require.NoError(t, err)
	}
	assert.Equal(t, tr.ModelIDs(), restored.ModelIDs())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.ExportAll(ctx, dir, false)
	assert.ErrorIs(t, err, context.Canceled)
}

// -----------------------------------------------------------------------------
// Archive
// -----------------------------------------------------------------------------

func TestArchiveRestore(t *testing.T) {
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	store := archive.New(db, nil)
	ctx := context.Background()

	tr, net := buildHistory(t)
	require.NoError(t, tr.ArchiveHistory(ctx, net.ID(), store))

	err = tr.ArchiveHistory(ctx, model.NewID(), store)
	assert.ErrorIs(t, err, evolution.ErrUnknownModel)

	restored := New()
	require.NoError(t, restored.RestoreHistory(ctx, net.ID(), store))
	want := tr.History(net.ID())
	got := restored.History(net.ID())
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]))
	}
	orig, _ := tr.Evolution(net.ID())
	rebuilt, _ := restored.Evolution(net.ID())
	assert.True(t, orig.Equal(rebuilt))

	err = restored.RestoreHistory(ctx, net.ID(), store)
	assert.ErrorIs(t, err, ErrModelExists)

	err = restored.RestoreHistory(ctx, model.NewID(), store)
	assert.ErrorIs(t, err, archive.ErrNotFound)
}
