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
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/lineage/services/lineage/document"
	"github.com/AleutianAI/lineage/services/lineage/evolution"
	"github.com/AleutianAI/lineage/services/lineage/model"
	"github.com/AleutianAI/lineage/services/lineage/telemetry"
)

// exportConcurrency bounds the per-model workers of ExportAll.
const exportConcurrency = 4

// Archive is a durable history target. *archive.Store implements it.
type Archive interface {
	Put(ctx context.Context, h document.History) (model.ID, error)
	Get(ctx context.Context, id model.ID) (document.History, error)
}

// ExportHistory returns the model's history document. Unknown models yield
// an empty document.
func (t *Tracker) ExportHistory(id model.ID) document.History {
	return document.FromSnapshots(t.History(id))
}

// ExportEvolution returns the model's evolution document, or false if the
// model is not tracked.
func (t *Tracker) ExportEvolution(id model.ID) (document.Evolution, bool) {
	rec, ok := t.Evolution(id)
	if !ok {
		return document.Evolution{}, false
	}
	return document.FromRecord(rec), true
}

// ExportHistoryFile writes the model's history document to path.
//
// # Description
//
// The file is published atomically; a path ending in ".gz" is gzip
// compressed. An unknown model produces an empty document.
//
// # Outputs
//
//   - error: *document.ExportIOError on any write failure. No partial file
//     is left at path.
func (t *Tracker) ExportHistoryFile(ctx context.Context, id model.ID, path string) error {
	ctx, span := tracer.Start(ctx, "tracker.ExportHistoryFile",
		trace.WithAttributes(
			attribute.String("model_id", id.String()),
			attribute.String("path", path),
		),
	)
	defer span.End()

	doc := t.ExportHistory(id)
	err := document.WriteFile(ctx, path, doc)
	countExport(kindHistory, err)
	if err != nil {
		telemetry.RecordError(span, err, "export failed")
		return err
	}

	telemetry.LoggerWithTrace(ctx, t.logger).Info("history exported",
		slog.String("model_id", id.String()),
		slog.String("path", path),
		slog.Int("snapshots", len(doc)),
	)
	return nil
}

// ExportEvolutionFile writes the model's evolution document to path.
//
// # Outputs
//
//   - error: evolution.ErrUnknownModel if the model is not tracked, or
//     *document.ExportIOError on any write failure.
func (t *Tracker) ExportEvolutionFile(ctx context.Context, id model.ID, path string) error {
	ctx, span := tracer.Start(ctx, "tracker.ExportEvolutionFile",
		trace.WithAttributes(
			attribute.String("model_id", id.String()),
			attribute.String("path", path),
		),
	)
	defer span.End()

	doc, ok := t.ExportEvolution(id)
	if !ok {
		err := fmt.Errorf("%w: %s", evolution.ErrUnknownModel, id)
		countExport(kindEvolution, err)
		telemetry.RecordError(span, err, "unknown model")
		return err
	}
	err := document.WriteFile(ctx, path, doc)
	countExport(kindEvolution, err)
	if err != nil {
		telemetry.RecordError(span, err, "export failed")
		return err
	}

	telemetry.LoggerWithTrace(ctx, t.logger).Info("evolution exported",
		slog.String("model_id", id.String()),
		slog.String("path", path),
		slog.Int("structural_changes", len(doc.StructuralChanges)),
	)
	return nil
}

// ImportHistory installs a history document and rebuilds its evolution
// record by replay.
//
// # Description
//
// The document is parsed and validated in full before anything is stored.
// The history and the rebuilt record are then installed together under the
// model's lock. An empty document is a no-op.
//
// # Inputs
//
//   - ctx: Context for tracing.
//   - h: A history document of a single model.
//
// # Outputs
//
//   - model.ID: The imported model, model.Nil for an empty document.
//   - error: *document.MalformedDocumentError, or ErrModelExists if the
//     model already has history. Nothing is installed on error.
func (t *Tracker) ImportHistory(ctx context.Context, h document.History) (model.ID, error) {
	ctx, span := tracer.Start(ctx, "tracker.ImportHistory",
		trace.WithAttributes(attribute.Int("snapshots", len(h))),
	)
	defer span.End()

	id, err := t.importHistory(h)
	countExport(kindImport, err)
	if err != nil {
		telemetry.RecordError(span, err, "import failed")
		return model.Nil, err
	}
	if id.IsNil() {
		return id, nil
	}

	span.SetAttributes(attribute.String("model_id", id.String()))
	telemetry.LoggerWithTrace(ctx, t.logger).Info("history imported",
		slog.String("model_id", id.String()),
		slog.Int("snapshots", len(h)),
	)
	return id, nil
}

func (t *Tracker) importHistory(h document.History) (model.ID, error) {
	id, snaps, err := document.ToSnapshots(h)
	if err != nil {
		return model.Nil, fmt.Errorf("import history: %w", err)
	}
	if len(snaps) == 0 {
		return model.Nil, nil
	}

	rec, _, err := t.evolution.Rebuild(id, snaps)
	if err != nil {
		return model.Nil, fmt.Errorf("rebuild evolution: %w", err)
	}

	mu := t.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	if t.history.Len(id) > 0 {
		return model.Nil, fmt.Errorf("%w: %s", ErrModelExists, id)
	}
	if err := t.history.Install(id, snaps); err != nil {
		return model.Nil, fmt.Errorf("install history: %w", err)
	}
	t.evolution.Install(rec)
	trackedModels.Set(float64(t.evolution.Len()))
	return id, nil
}

// ExportAll writes the history and evolution documents of every tracked
// model into dir, as {modelId}.history.json and {modelId}.evolution.json.
//
// # Description
//
// Models are exported concurrently. The first failure cancels the rest;
// files already published stay in place.
//
// # Inputs
//
//   - ctx: Context for tracing and cancellation.
//   - dir: Output directory, created if missing.
//   - compress: Append ".gz" and gzip every file.
//
// # Outputs
//
//   - []string: Written paths, sorted.
//   - error: *document.ExportIOError or ctx.Err().
func (t *Tracker) ExportAll(ctx context.Context, dir string, compress bool) ([]string, error) {
	ctx, span := tracer.Start(ctx, "tracker.ExportAll",
		trace.WithAttributes(attribute.String("dir", dir)),
	)
	defer span.End()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		err = &document.ExportIOError{Path: dir, Op: "mkdir", Err: err}
		telemetry.RecordError(span, err, "export failed")
		return nil, err
	}

	suffix := ".json"
	if compress {
		suffix += document.GzipSuffix
	}

	var (
		mu    sync.Mutex
		paths []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(exportConcurrency)
	for _, id := range t.ModelIDs() {
		g.Go(func() error {
			histPath := filepath.Join(dir, id.String()+".history"+suffix)
			if err := t.ExportHistoryFile(gctx, id, histPath); err != nil {
				return err
			}
			evoPath := filepath.Join(dir, id.String()+".evolution"+suffix)
			if err := t.ExportEvolutionFile(gctx, id, evoPath); err != nil {
				return err
			}
			mu.Lock()
			paths = append(paths, histPath, evoPath)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err, "export failed")
		return nil, err
	}

	sort.Strings(paths)
	span.SetAttributes(attribute.Int("files", len(paths)))
	return paths, nil
}

// ArchiveHistory puts the model's history into an archive.
//
// # Outputs
//
//   - error: evolution.ErrUnknownModel if the model has no history, or the
//     archive's error.
func (t *Tracker) ArchiveHistory(ctx context.Context, id model.ID, a Archive) error {
	ctx, span := tracer.Start(ctx, "tracker.ArchiveHistory",
		trace.WithAttributes(attribute.String("model_id", id.String())),
	)
	defer span.End()

	doc := t.ExportHistory(id)
	if len(doc) == 0 {
		err := fmt.Errorf("%w: %s", evolution.ErrUnknownModel, id)
		countExport(kindArchive, err)
		telemetry.RecordError(span, err, "unknown model")
		return err
	}
	_, err := a.Put(ctx, doc)
	countExport(kindArchive, err)
	if err != nil {
		telemetry.RecordError(span, err, "archive failed")
		return fmt.Errorf("archive history: %w", err)
	}
	return nil
}

// RestoreHistory imports a model's history from an archive.
//
// # Outputs
//
//   - error: The archive's error, or any ImportHistory error.
func (t *Tracker) RestoreHistory(ctx context.Context, id model.ID, a Archive) error {
	ctx, span := tracer.Start(ctx, "tracker.RestoreHistory",
		trace.WithAttributes(attribute.String("model_id", id.String())),
	)
	defer span.End()

	doc, err := a.Get(ctx, id)
	if err != nil {
		countExport(kindArchiveRead, err)
		telemetry.RecordError(span, err, "archive read failed")
		return fmt.Errorf("restore history: %w", err)
	}
	got, err := t.ImportHistory(ctx, doc)
	if err == nil && got != id {
		err = fmt.Errorf("restore history: archive returned model %s for %s", got, id)
	}
	countExport(kindArchiveRead, err)
	if err != nil {
		telemetry.RecordError(span, err, "restore failed")
		return err
	}
	return nil
}
