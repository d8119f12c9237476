// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tracker captures snapshots of composite models and keeps their
// history and evolution records in step.
//
// # Description
//
// A Tracker owns one history.Store and one evolution.Aggregator. Every
// capture appends a snapshot and updates the evolution record while holding
// the model's lock, so no reader ever sees one without the other. Different
// models never contend.
//
// A Tracker is an ordinary value: construct one per process (or per test)
// and pass it to whatever mutates models.
//
//	t := tracker.New(tracker.WithLogger(logger.Slog()))
//	snap, err := t.Capture(ctx, net, tracker.ReasonInitial)
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/lineage/services/lineage/attr"
	"github.com/AleutianAI/lineage/services/lineage/evolution"
	"github.com/AleutianAI/lineage/services/lineage/history"
	"github.com/AleutianAI/lineage/services/lineage/model"
	"github.com/AleutianAI/lineage/services/lineage/telemetry"
)

var tracer = otel.Tracer("lineage.tracker")

// Snapshot is an immutable capture of a model's shape.
type Snapshot = history.Snapshot

// Reason classifies why a snapshot was taken.
type Reason = history.Reason

const (
	ReasonInitial                 = history.ReasonInitial
	ReasonElementAdded            = history.ReasonElementAdded
	ReasonElementRemoved          = history.ReasonElementRemoved
	ReasonElementModified         = history.ReasonElementModified
	ReasonHyperparameterChange    = history.ReasonHyperparameterChange
	ReasonCheckpoint              = history.ReasonCheckpoint
	ReasonPerformanceOptimization = history.ReasonPerformanceOptimization
	ReasonManual                  = history.ReasonManual
	ReasonOther                   = history.ReasonOther
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrClockRegression matches every *ClockRegressionError.
	ErrClockRegression = errors.New("clock regression")

	// ErrNilModel is returned when capturing a nil model or one with a nil id.
	ErrNilModel = errors.New("model must not be nil")

	// ErrModelExists is returned when importing into a model that already
	// has history.
	ErrModelExists = errors.New("model already has history")
)

// ClockRegressionError reports a capture whose timestamp is strictly
// earlier than the model's latest snapshot. The history is unchanged.
type ClockRegressionError struct {
	ModelID   model.ID
	Latest    time.Time
	Attempted time.Time
}

func (e *ClockRegressionError) Error() string {
	return fmt.Sprintf("clock regression for model %s: attempted %s before latest %s",
		e.ModelID, e.Attempted.Format(time.RFC3339Nano), e.Latest.Format(time.RFC3339Nano))
}

// Is matches ErrClockRegression.
func (e *ClockRegressionError) Is(target error) bool {
	return target == ErrClockRegression
}

// -----------------------------------------------------------------------------
// Clock
// -----------------------------------------------------------------------------

// Clock supplies capture timestamps.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

type wallClock struct{}

// Now strips the monotonic reading so stored timestamps compare the same
// way after export.
func (wallClock) Now() time.Time { return time.Now().Round(0).UTC() }

// -----------------------------------------------------------------------------
// Tracker
// -----------------------------------------------------------------------------

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the capture clock. Default: wall clock in UTC.
func WithClock(c Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithIDGenerator replaces the snapshot id generator. Default: uuid.NewString.
func WithIDGenerator(gen func() string) Option {
	return func(t *Tracker) {
		if gen != nil {
			t.newID = gen
		}
	}
}

// Tracker pairs a history store with an evolution aggregator.
//
// # Thread Safety
//
// Safe for concurrent use. Writers on one model are serialized by that
// model's lock; readers of a consistent history/evolution pair use Observe.
type Tracker struct {
	history   *history.Store
	evolution *evolution.Aggregator
	clock     Clock
	logger    *slog.Logger
	newID     func() string

	locksMu sync.RWMutex
	locks   map[model.ID]*sync.Mutex
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		history:   history.NewStore(),
		evolution: evolution.NewAggregator(),
		clock:     wallClock{},
		logger:    slog.Default(),
		newID:     uuid.NewString,
		locks:     make(map[model.ID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(slog.String("component", "tracker"))
	return t
}

// lockFor returns the model's lock, creating it on first use.
func (t *Tracker) lockFor(id model.ID) *sync.Mutex {
	t.locksMu.RLock()
	mu, ok := t.locks[id]
	t.locksMu.RUnlock()
	if ok {
		return mu
	}

	t.locksMu.Lock()
	defer t.locksMu.Unlock()
	if mu, ok = t.locks[id]; !ok {
		mu = &sync.Mutex{}
		t.locks[id] = mu
	}
	return mu
}

// existingLock returns the model's lock, or nil if the model was never
// written. Readers use it so lookups of unknown ids allocate nothing.
func (t *Tracker) existingLock(id model.ID) *sync.Mutex {
	t.locksMu.RLock()
	defer t.locksMu.RUnlock()
	return t.locks[id]
}

// Capture snapshots the model's current shape.
//
// # Description
//
// Copies every element into canonical attribute values, then, under the
// model's lock, stamps the snapshot with the clock, appends it to the
// history, and updates the evolution record.
//
// # Inputs
//
//   - ctx: Context for tracing.
//   - m: The model. Read once; later mutation never reaches the snapshot.
//   - reason: Why the snapshot was taken.
//
// # Outputs
//
//   - *Snapshot: The stored snapshot.
//   - error: ErrNilModel, history.ErrInvalidReason, attr.ErrUnsupported,
//     or *ClockRegressionError. Nothing is stored on error.
func (t *Tracker) Capture(ctx context.Context, m model.Model, reason Reason) (*Snapshot, error) {
	return t.capture(ctx, m, reason, time.Time{})
}

// CaptureAt is Capture with an explicit timestamp instead of the clock.
// Used by replay tools and tests. ts must not be zero.
func (t *Tracker) CaptureAt(ctx context.Context, m model.Model, reason Reason, ts time.Time) (*Snapshot, error) {
	if ts.IsZero() {
		return nil, errors.New("capture timestamp must be set")
	}
	return t.capture(ctx, m, reason, ts)
}

func (t *Tracker) capture(ctx context.Context, m model.Model, reason Reason, at time.Time) (*Snapshot, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "tracker.Capture",
		trace.WithAttributes(attribute.String("reason", string(reason))),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, t.logger)

	reject := func(cause string, err error) (*Snapshot, error) {
		captureRejected.WithLabelValues(cause).Inc()
		telemetry.RecordError(span, err, "capture rejected")
		return nil, err
	}

	if m == nil {
		return reject(causeNilModel, ErrNilModel)
	}
	id := m.ID()
	if id.IsNil() {
		return reject(causeNilModel, fmt.Errorf("%w: nil model id", ErrNilModel))
	}
	span.SetAttributes(attribute.String("model_id", id.String()))
	if !reason.Valid() {
		return reject(causeReason, fmt.Errorf("%w: %q", history.ErrInvalidReason, reason))
	}

	// Copy outside the lock; the cost is bounded by model size.
	elements := m.Elements()
	arch := make([]history.ElementState, len(elements))
	for i, e := range elements {
		attrs, err := attr.FromMap(e.Attributes)
		if err != nil {
			return reject(causeAttribute, fmt.Errorf("element %q: %w", e.ID, err))
		}
		arch[i] = history.ElementState{ID: e.ID, Type: e.Type, Attributes: attrs}
	}
	name := m.Name()

	mu := t.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	ts := at
	if ts.IsZero() {
		ts = t.clock.Now()
	}
	if latest, ok := t.history.Latest(id); ok && ts.Before(latest.Timestamp()) {
		err := &ClockRegressionError{ModelID: id, Latest: latest.Timestamp(), Attempted: ts.UTC()}
		logger.Warn("capture rejected",
			slog.String("model_id", id.String()),
			slog.String("error", err.Error()),
		)
		return reject(causeRegression, err)
	}

	snap, err := history.NewSnapshot(history.SnapshotParams{
		ID:           t.newID(),
		ModelID:      id,
		Timestamp:    ts,
		Name:         name,
		Reason:       reason,
		Architecture: arch,
	})
	if err != nil {
		return reject(causeInternal, fmt.Errorf("build snapshot: %w", err))
	}
	if err := t.history.Append(snap); err != nil {
		return reject(causeInternal, fmt.Errorf("append snapshot: %w", err))
	}
	if err := t.evolution.Update(snap); err != nil {
		return reject(causeInternal, fmt.Errorf("update evolution: %w", err))
	}

	snapshotsCaptured.WithLabelValues(string(reason)).Inc()
	trackedModels.Set(float64(t.evolution.Len()))
	captureDuration.Observe(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.String("snapshot_id", snap.ID()),
		attribute.Int("element_count", snap.ElementCount()),
	)
	logger.Debug("snapshot captured",
		slog.String("model_id", id.String()),
		slog.String("snapshot_id", snap.ID()),
		slog.String("reason", string(reason)),
		slog.Int("element_count", snap.ElementCount()),
	)
	return snap, nil
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// withModelLock runs fn under the model's lock. Models that were never
// written have no lock and run fn bare.
func (t *Tracker) withModelLock(id model.ID, fn func()) {
	if mu := t.existingLock(id); mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	fn()
}

// History returns the model's snapshots in timestamp order. Unknown models
// yield an empty slice.
func (t *Tracker) History(id model.ID) (out []*Snapshot) {
	t.withModelLock(id, func() { out = t.history.List(id) })
	return out
}

// HistoryInRange returns the snapshots with start <= timestamp <= end, in
// order. start after end yields an empty slice.
func (t *Tracker) HistoryInRange(id model.ID, start, end time.Time) (out []*Snapshot) {
	t.withModelLock(id, func() { out = t.history.ListInRange(id, start, end) })
	return out
}

// Latest returns the model's most recent snapshot.
func (t *Tracker) Latest(id model.ID) (snap *Snapshot, ok bool) {
	t.withModelLock(id, func() { snap, ok = t.history.Latest(id) })
	return snap, ok
}

// Snapshot looks up one snapshot by id.
func (t *Tracker) Snapshot(id model.ID, snapshotID string) (*Snapshot, bool) {
	return t.history.Get(id, snapshotID)
}

// Evolution returns a copy of the model's evolution record.
func (t *Tracker) Evolution(id model.ID) (rec evolution.Record, ok bool) {
	t.withModelLock(id, func() { rec, ok = t.evolution.Get(id) })
	return rec, ok
}

// Observation is a consistent view of one model.
type Observation struct {
	History   []*Snapshot
	Evolution evolution.Record
	Tracked   bool
}

// Observe reads history and evolution in one hold of the model's lock, so
// len(History) always equals len(Evolution.StructuralChanges). History is
// never nil, for unknown and cleared models alike.
func (t *Tracker) Observe(id model.ID) Observation {
	mu := t.existingLock(id)
	if mu == nil {
		return Observation{History: []*Snapshot{}}
	}
	mu.Lock()
	defer mu.Unlock()

	rec, ok := t.evolution.Get(id)
	return Observation{History: t.history.List(id), Evolution: rec, Tracked: ok}
}

// AnalyzeShift compares performance before and after the model's last
// structural change. Returns false for untracked models.
func (t *Tracker) AnalyzeShift(id model.ID, opts *evolution.ShiftOptions) (evolution.Shift, bool) {
	rec, ok := t.evolution.Get(id)
	if !ok {
		return evolution.Shift{}, false
	}
	return evolution.AnalyzeShift(rec, opts), true
}

// ModelIDs returns every model with history, sorted by id text.
func (t *Tracker) ModelIDs() []model.ID {
	return t.history.ModelIDs()
}

// Stats returns history store statistics.
func (t *Tracker) Stats() history.StoreStats {
	return t.history.Stats()
}

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

// RecordPerformance appends a performance event for a tracked model. A zero
// timestamp is filled from the clock.
//
// # Outputs
//
//   - error: evolution.ErrUnknownModel or evolution.ErrInvalidEvent.
func (t *Tracker) RecordPerformance(ctx context.Context, id model.ID, ev evolution.PerformanceEvent) error {
	mu := t.existingLock(id)
	if mu == nil {
		return fmt.Errorf("%w: %s", evolution.ErrUnknownModel, id)
	}
	mu.Lock()
	defer mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = t.clock.Now()
	}
	if err := t.evolution.RecordPerformance(id, ev); err != nil {
		return err
	}
	recordPerformanceMetrics(ctx, id.String(), ev.ForwardTime, ev.BackwardTime, ev.MemoryUsage)
	telemetry.LoggerWithTrace(ctx, t.logger).Debug("performance recorded",
		slog.String("model_id", id.String()),
		slog.Duration("forward_time", ev.ForwardTime),
		slog.Duration("backward_time", ev.BackwardTime),
	)
	return nil
}

// Clear drops a model's history and evolution record together.
func (t *Tracker) Clear(id model.ID) {
	mu := t.existingLock(id)
	if mu == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()

	t.history.Clear(id)
	t.evolution.Clear(id)
	trackedModels.Set(float64(t.evolution.Len()))
}
