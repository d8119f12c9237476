// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evolution

import (
	"slices"
	"time"

	"github.com/AleutianAI/lineage/services/lineage/history"
	"github.com/AleutianAI/lineage/services/lineage/model"
)

// StructuralChange is derived 1:1 from a captured snapshot.
type StructuralChange struct {
	// Timestamp is the snapshot's capture time.
	Timestamp time.Time `json:"timestamp"`

	// ElementCount is the element count after the change.
	ElementCount int `json:"element_count"`

	// Reason is the snapshot's reason tag.
	Reason history.Reason `json:"reason"`
}

// PerformanceEvent is one measurement on the independent performance stream.
type PerformanceEvent struct {
	Timestamp    time.Time     `json:"timestamp"`
	ForwardTime  time.Duration `json:"forward_time"`
	BackwardTime time.Duration `json:"backward_time"`

	// MemoryUsage is in bytes.
	MemoryUsage int64 `json:"memory_usage"`

	Notes string `json:"notes,omitempty"`
}

// Record is the materialized evolution summary of one model.
//
// # Description
//
// Created on the model's first snapshot and updated in place afterwards.
// CreatedAt is the first snapshot's timestamp and LastModifiedAt the
// greatest snapshot timestamp seen. ModelName follows the latest snapshot.
type Record struct {
	ModelID            model.ID           `json:"model_id"`
	ModelName          string             `json:"model_name"`
	CreatedAt          time.Time          `json:"created_at"`
	LastModifiedAt     time.Time          `json:"last_modified_at"`
	StructuralChanges  []StructuralChange `json:"structural_changes"`
	PerformanceChanges []PerformanceEvent `json:"performance_changes"`
}

// Clone returns a copy that shares no slices with r.
func (r Record) Clone() Record {
	r.StructuralChanges = slices.Clone(r.StructuralChanges)
	r.PerformanceChanges = slices.Clone(r.PerformanceChanges)
	return r
}

// Equal reports whether two records agree field for field. Timestamps are
// compared as instants.
func (r Record) Equal(o Record) bool {
	if r.ModelID != o.ModelID || r.ModelName != o.ModelName ||
		!r.CreatedAt.Equal(o.CreatedAt) || !r.LastModifiedAt.Equal(o.LastModifiedAt) {
		return false
	}
	if !slices.EqualFunc(r.StructuralChanges, o.StructuralChanges, func(a, b StructuralChange) bool {
		return a.Timestamp.Equal(b.Timestamp) && a.ElementCount == b.ElementCount && a.Reason == b.Reason
	}) {
		return false
	}
	return slices.EqualFunc(r.PerformanceChanges, o.PerformanceChanges, func(a, b PerformanceEvent) bool {
		return a.Timestamp.Equal(b.Timestamp) && a.ForwardTime == b.ForwardTime &&
			a.BackwardTime == b.BackwardTime && a.MemoryUsage == b.MemoryUsage && a.Notes == b.Notes
	})
}

// LastStructuralChange returns the most recent structural change.
func (r Record) LastStructuralChange() (StructuralChange, bool) {
	if len(r.StructuralChanges) == 0 {
		return StructuralChange{}, false
	}
	return r.StructuralChanges[len(r.StructuralChanges)-1], true
}
