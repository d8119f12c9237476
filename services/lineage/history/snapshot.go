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
	"time"

	"github.com/AleutianAI/lineage/services/lineage/attr"
	"github.com/AleutianAI/lineage/services/lineage/model"
)

// Reason classifies why a snapshot was taken.
//
// The string values are part of the export format and must not change.
type Reason string

const (
	ReasonInitial                 Reason = "Initial"
	ReasonElementAdded            Reason = "ElementAdded"
	ReasonElementRemoved          Reason = "ElementRemoved"
	ReasonElementModified         Reason = "ElementModified"
	ReasonHyperparameterChange    Reason = "HyperparameterChange"
	ReasonCheckpoint              Reason = "Checkpoint"
	ReasonPerformanceOptimization Reason = "PerformanceOptimization"
	ReasonManual                  Reason = "Manual"
	ReasonOther                   Reason = "Other"
)

// ErrInvalidReason is returned for strings outside the Reason set.
var ErrInvalidReason = errors.New("invalid snapshot reason")

// Reasons returns every valid reason in declaration order.
func Reasons() []Reason {
	return []Reason{
		ReasonInitial,
		ReasonElementAdded,
		ReasonElementRemoved,
		ReasonElementModified,
		ReasonHyperparameterChange,
		ReasonCheckpoint,
		ReasonPerformanceOptimization,
		ReasonManual,
		ReasonOther,
	}
}

// Valid reports whether r is one of the closed set of reasons.
func (r Reason) Valid() bool {
	switch r {
	case ReasonInitial, ReasonElementAdded, ReasonElementRemoved, ReasonElementModified,
		ReasonHyperparameterChange, ReasonCheckpoint, ReasonPerformanceOptimization,
		ReasonManual, ReasonOther:
		return true
	}
	return false
}

// ParseReason converts an exported reason string back to a Reason.
func ParseReason(s string) (Reason, error) {
	r := Reason(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidReason, s)
	}
	return r, nil
}

// ElementState is the captured identity, type tag, and attributes of one
// element.
type ElementState struct {
	ID         string
	Type       string
	Attributes attr.Attributes
}

// Clone returns a deep copy.
func (e ElementState) Clone() ElementState {
	return ElementState{ID: e.ID, Type: e.Type, Attributes: e.Attributes.Clone()}
}

// Equal reports whether both states are identical.
func (e ElementState) Equal(o ElementState) bool {
	return e.ID == o.ID && e.Type == o.Type && e.Attributes.Equal(o.Attributes)
}

// SnapshotParams carries the fields of a new Snapshot.
type SnapshotParams struct {
	ID           string
	ModelID      model.ID
	Timestamp    time.Time
	Name         string
	Reason       Reason
	Architecture []ElementState
}

// Snapshot is an immutable, deep-copied record of a model's shape.
//
// # Description
//
// All fields are unexported and every accessor returns copies, so no
// reference handed to a caller can change a stored snapshot. The
// architecture never aliases the live model.
//
// # Thread Safety
//
// Immutable after creation; safe for concurrent use.
type Snapshot struct {
	id           string
	modelID      model.ID
	timestamp    time.Time
	name         string
	reason       Reason
	architecture []ElementState
}

// NewSnapshot builds a snapshot, deep copying the architecture.
//
// # Outputs
//
//   - *Snapshot: The snapshot. ElementCount equals len(Architecture).
//   - error: Non-nil if the id, model id, timestamp, or reason is missing
//     or invalid.
func NewSnapshot(p SnapshotParams) (*Snapshot, error) {
	if p.ID == "" {
		return nil, errors.New("snapshot id must not be empty")
	}
	if p.ModelID.IsNil() {
		return nil, errors.New("snapshot model id must not be nil")
	}
	if p.Timestamp.IsZero() {
		return nil, errors.New("snapshot timestamp must be set")
	}
	if !p.Reason.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, p.Reason)
	}

	arch := make([]ElementState, len(p.Architecture))
	for i, e := range p.Architecture {
		arch[i] = e.Clone()
	}
	return &Snapshot{
		id:           p.ID,
		modelID:      p.ModelID,
		timestamp:    p.Timestamp.UTC(),
		name:         p.Name,
		reason:       p.Reason,
		architecture: arch,
	}, nil
}

// ID returns the unique snapshot id.
func (s *Snapshot) ID() string { return s.id }

// ModelID returns the owning model.
func (s *Snapshot) ModelID() model.ID { return s.modelID }

// Timestamp returns the capture time in UTC.
func (s *Snapshot) Timestamp() time.Time { return s.timestamp }

// Name returns the model's display name at capture time.
func (s *Snapshot) Name() string { return s.name }

// Reason returns why the snapshot was taken.
func (s *Snapshot) Reason() Reason { return s.reason }

// ElementCount returns the number of captured elements.
func (s *Snapshot) ElementCount() int { return len(s.architecture) }

// Architecture returns a deep copy of the captured elements in model order.
func (s *Snapshot) Architecture() []ElementState {
	out := make([]ElementState, len(s.architecture))
	for i, e := range s.architecture {
		out[i] = e.Clone()
	}
	return out
}

// Element returns a copy of the i-th captured element.
func (s *Snapshot) Element(i int) (ElementState, bool) {
	if i < 0 || i >= len(s.architecture) {
		return ElementState{}, false
	}
	return s.architecture[i].Clone(), true
}

// Equal reports whether two snapshots agree on every observable field.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.id != o.id || s.modelID != o.modelID || !s.timestamp.Equal(o.timestamp) ||
		s.name != o.name || s.reason != o.reason || len(s.architecture) != len(o.architecture) {
		return false
	}
	for i := range s.architecture {
		if !s.architecture[i].Equal(o.architecture[i]) {
			return false
		}
	}
	return true
}
