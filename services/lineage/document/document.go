// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package document converts snapshots and evolution records to and from
// self-describing JSON documents.
//
// # Description
//
// Field order is fixed by struct declaration order. Timestamps are RFC 3339
// with nanoseconds in UTC. Durations are integer nanoseconds. Attribute
// values use the tagged form of package attr, so no producer types are
// needed to read a document back.
//
// Parsing is strict: unknown fields, absent fields, and values of the wrong
// shape all fail with *MalformedDocumentError.
package document

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/lineage/services/lineage/attr"
	"github.com/AleutianAI/lineage/services/lineage/evolution"
	"github.com/AleutianAI/lineage/services/lineage/history"
	"github.com/AleutianAI/lineage/services/lineage/model"
)

// TimeFormat is the textual timestamp encoding.
const TimeFormat = time.RFC3339Nano

// docValidate checks presence and shape of decoded documents. Field names
// in errors are the JSON names.
var docValidate *validator.Validate

func init() {
	docValidate = validator.New()
	docValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// -----------------------------------------------------------------------------
// History Documents
// -----------------------------------------------------------------------------

// History is the exported, ordered snapshot sequence of one model.
type History []SnapshotDoc

// SnapshotDoc is the exported form of one snapshot.
//
// Pointer fields distinguish an absent field from a zero value.
type SnapshotDoc struct {
	ID           string       `json:"id" validate:"required"`
	ModelID      string       `json:"modelId" validate:"required,uuid"`
	Timestamp    string       `json:"timestamp" validate:"required"`
	Name         *string      `json:"name" validate:"required"`
	ElementCount *int         `json:"elementCount" validate:"required,gte=0"`
	Reason       string       `json:"reason" validate:"required"`
	Architecture []ElementDoc `json:"architecture" validate:"required,dive"`
}

// ElementDoc is the exported form of one captured element.
type ElementDoc struct {
	ID         *string         `json:"id" validate:"required"`
	Type       *string         `json:"type" validate:"required"`
	Attributes attr.Attributes `json:"attributes" validate:"required"`
}

// FromSnapshots builds the history document of a snapshot sequence.
//
// An empty sequence yields an empty, non-nil document.
func FromSnapshots(snaps []*history.Snapshot) History {
	doc := make(History, 0, len(snaps))
	for _, snap := range snaps {
		doc = append(doc, fromSnapshot(snap))
	}
	return doc
}

func fromSnapshot(snap *history.Snapshot) SnapshotDoc {
	arch := snap.Architecture()
	elems := make([]ElementDoc, len(arch))
	for i, e := range arch {
		attrs := e.Attributes
		if attrs == nil {
			attrs = attr.Attributes{}
		}
		elems[i] = ElementDoc{ID: ptr(e.ID), Type: ptr(e.Type), Attributes: attrs}
	}
	return SnapshotDoc{
		ID:           snap.ID(),
		ModelID:      snap.ModelID().String(),
		Timestamp:    formatTime(snap.Timestamp()),
		Name:         ptr(snap.Name()),
		ElementCount: ptr(snap.ElementCount()),
		Reason:       string(snap.Reason()),
		Architecture: elems,
	}
}

// Validate checks every snapshot for presence and shape of its fields.
func (h History) Validate() error {
	if h == nil {
		return malformed("", "history must be an array")
	}
	for i := range h {
		if err := validateStruct(fmt.Sprintf("[%d]", i), &h[i]); err != nil {
			return err
		}
	}
	return nil
}

// ToSnapshots strictly parses a history document.
//
// # Description
//
// Besides field validation, every snapshot must belong to the same model,
// timestamps must be non-decreasing, snapshot ids must be unique, and
// elementCount must equal the architecture length.
//
// # Outputs
//
//   - model.ID: The owning model, model.Nil for an empty document.
//   - []*history.Snapshot: Snapshots in document order.
//   - error: *MalformedDocumentError on any violation.
func ToSnapshots(h History) (model.ID, []*history.Snapshot, error) {
	if err := h.Validate(); err != nil {
		return model.Nil, nil, err
	}

	owner := model.Nil
	seen := make(map[string]struct{}, len(h))
	snaps := make([]*history.Snapshot, 0, len(h))
	for i, d := range h {
		prefix := fmt.Sprintf("[%d]", i)

		id, err := model.ParseID(d.ModelID)
		if err != nil {
			return model.Nil, nil, &MalformedDocumentError{Field: prefix + ".modelId", Reason: "invalid model id", Err: err}
		}
		if owner.IsNil() {
			owner = id
		} else if id != owner {
			return model.Nil, nil, malformed(prefix+".modelId", "document mixes models %s and %s", owner, id)
		}

		if _, dup := seen[d.ID]; dup {
			return model.Nil, nil, malformed(prefix+".id", "duplicate snapshot id %q", d.ID)
		}
		seen[d.ID] = struct{}{}

		ts, err := parseTime(prefix+".timestamp", d.Timestamp)
		if err != nil {
			return model.Nil, nil, err
		}
		if i > 0 && ts.Before(snaps[i-1].Timestamp()) {
			return model.Nil, nil, malformed(prefix+".timestamp", "timestamps must be non-decreasing")
		}

		reason, err := history.ParseReason(d.Reason)
		if err != nil {
			return model.Nil, nil, &MalformedDocumentError{Field: prefix + ".reason", Reason: "unknown reason", Err: err}
		}

		if *d.ElementCount != len(d.Architecture) {
			return model.Nil, nil, malformed(prefix+".elementCount", "is %d but architecture has %d elements",
				*d.ElementCount, len(d.Architecture))
		}

		elems := make([]history.ElementState, len(d.Architecture))
		for j, e := range d.Architecture {
			elems[j] = history.ElementState{ID: *e.ID, Type: *e.Type, Attributes: e.Attributes}
		}

		snap, err := history.NewSnapshot(history.SnapshotParams{
			ID:           d.ID,
			ModelID:      id,
			Timestamp:    ts,
			Name:         *d.Name,
			Reason:       reason,
			Architecture: elems,
		})
		if err != nil {
			return model.Nil, nil, &MalformedDocumentError{Field: prefix, Reason: err.Error(), Err: err}
		}
		snaps = append(snaps, snap)
	}
	return owner, snaps, nil
}

// -----------------------------------------------------------------------------
// Evolution Documents
// -----------------------------------------------------------------------------

// Evolution is the exported form of an evolution record.
type Evolution struct {
	ModelID            string                `json:"modelId" validate:"required,uuid"`
	ModelName          *string               `json:"modelName" validate:"required"`
	CreatedAt          string                `json:"createdAt" validate:"required"`
	LastModifiedAt     string                `json:"lastModifiedAt" validate:"required"`
	StructuralChanges  []StructuralChangeDoc `json:"structuralChanges" validate:"required,dive"`
	PerformanceChanges []PerformanceDoc      `json:"performanceChanges" validate:"required,dive"`
}

// StructuralChangeDoc is the exported form of a structural change.
type StructuralChangeDoc struct {
	Timestamp    string `json:"timestamp" validate:"required"`
	ElementCount *int   `json:"elementCount" validate:"required,gte=0"`
	Reason       string `json:"reason" validate:"required"`
}

// PerformanceDoc is the exported form of a performance event. Times are
// nanoseconds, memory is bytes.
type PerformanceDoc struct {
	Timestamp    string `json:"timestamp" validate:"required"`
	ForwardTime  *int64 `json:"forwardTime" validate:"required,gte=0"`
	BackwardTime *int64 `json:"backwardTime" validate:"required,gte=0"`
	MemoryUsage  *int64 `json:"memoryUsage" validate:"required,gte=0"`
	Notes        string `json:"notes,omitempty"`
}

// FromRecord builds the evolution document of a record.
func FromRecord(rec evolution.Record) Evolution {
	doc := Evolution{
		ModelID:            rec.ModelID.String(),
		ModelName:          ptr(rec.ModelName),
		CreatedAt:          formatTime(rec.CreatedAt),
		LastModifiedAt:     formatTime(rec.LastModifiedAt),
		StructuralChanges:  make([]StructuralChangeDoc, len(rec.StructuralChanges)),
		PerformanceChanges: make([]PerformanceDoc, len(rec.PerformanceChanges)),
	}
	for i, c := range rec.StructuralChanges {
		doc.StructuralChanges[i] = StructuralChangeDoc{
			Timestamp:    formatTime(c.Timestamp),
			ElementCount: ptr(c.ElementCount),
			Reason:       string(c.Reason),
		}
	}
	for i, p := range rec.PerformanceChanges {
		doc.PerformanceChanges[i] = PerformanceDoc{
			Timestamp:    formatTime(p.Timestamp),
			ForwardTime:  ptr(int64(p.ForwardTime)),
			BackwardTime: ptr(int64(p.BackwardTime)),
			MemoryUsage:  ptr(p.MemoryUsage),
			Notes:        p.Notes,
		}
	}
	return doc
}

// Validate checks presence and shape of every field.
func (e *Evolution) Validate() error {
	return validateStruct("", e)
}

// ToRecord strictly parses an evolution document.
func ToRecord(doc Evolution) (evolution.Record, error) {
	if err := doc.Validate(); err != nil {
		return evolution.Record{}, err
	}

	id, err := model.ParseID(doc.ModelID)
	if err != nil {
		return evolution.Record{}, &MalformedDocumentError{Field: "modelId", Reason: "invalid model id", Err: err}
	}
	created, err := parseTime("createdAt", doc.CreatedAt)
	if err != nil {
		return evolution.Record{}, err
	}
	modified, err := parseTime("lastModifiedAt", doc.LastModifiedAt)
	if err != nil {
		return evolution.Record{}, err
	}
	if modified.Before(created) {
		return evolution.Record{}, malformed("lastModifiedAt", "precedes createdAt")
	}

	rec := evolution.Record{
		ModelID:            id,
		ModelName:          *doc.ModelName,
		CreatedAt:          created,
		LastModifiedAt:     modified,
		StructuralChanges:  make([]evolution.StructuralChange, len(doc.StructuralChanges)),
		PerformanceChanges: make([]evolution.PerformanceEvent, len(doc.PerformanceChanges)),
	}
	for i, c := range doc.StructuralChanges {
		field := fmt.Sprintf("structuralChanges[%d]", i)
		ts, err := parseTime(field+".timestamp", c.Timestamp)
		if err != nil {
			return evolution.Record{}, err
		}
		reason, err := history.ParseReason(c.Reason)
		if err != nil {
			return evolution.Record{}, &MalformedDocumentError{Field: field + ".reason", Reason: "unknown reason", Err: err}
		}
		rec.StructuralChanges[i] = evolution.StructuralChange{Timestamp: ts, ElementCount: *c.ElementCount, Reason: reason}
	}
	for i, p := range doc.PerformanceChanges {
		ts, err := parseTime(fmt.Sprintf("performanceChanges[%d].timestamp", i), p.Timestamp)
		if err != nil {
			return evolution.Record{}, err
		}
		rec.PerformanceChanges[i] = evolution.PerformanceEvent{
			Timestamp:    ts,
			ForwardTime:  time.Duration(*p.ForwardTime),
			BackwardTime: time.Duration(*p.BackwardTime),
			MemoryUsage:  *p.MemoryUsage,
			Notes:        p.Notes,
		}
	}
	return rec, nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func validateStruct(prefix string, v any) error {
	err := docValidate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &MalformedDocumentError{Field: prefix, Reason: err.Error(), Err: err}
	}
	fe := verrs[0]

	// Namespace is "<Type>.<json path>"; drop the type name.
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	if prefix != "" {
		field = prefix + "." + field
	}

	reason := "failed " + fe.Tag()
	if fe.Tag() == "required" {
		reason = "is required"
	}
	return &MalformedDocumentError{Field: field, Reason: reason, Err: err}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

func parseTime(field, s string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		return time.Time{}, &MalformedDocumentError{Field: field, Reason: "invalid timestamp", Err: err}
	}
	return t.UTC(), nil
}

func ptr[T any](v T) *T {
	return &v
}
