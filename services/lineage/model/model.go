// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the read-only contract the tracker needs from a
// composite model, plus a small in-memory Composite used by tools and tests.
//
// The tracker never constructs or mutates a Model. The Composite keeps no
// history of its own; all versioning lives in the tracker.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// ID identifies a composite model for its whole lifetime.
//
// It is the partition key for history and evolution data.
type ID uuid.UUID

// Nil is the zero ID.
var Nil ID

// NewID returns a fresh random (v4) ID.
func NewID() ID {
	return ID(uuid.New())
}

// ParseID parses the canonical text form of an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("parse model id %q: %w", s, err)
	}
	return ID(u), nil
}

// MustParseID is ParseID for constants. It panics on error.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical UUID form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the zero ID.
func (id ID) IsNil() bool {
	return id == Nil
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*id = ID(u)
	return nil
}

// Element is one typed member of a composite model.
type Element struct {
	// ID identifies the element within its model.
	ID string

	// Type is the element's type tag (e.g. "linear", "conv2d", "relu").
	Type string

	// Attributes holds free-form, dynamically typed element settings.
	Attributes map[string]any
}

// Model is the read-only view of a composite the tracker captures.
//
// Implementations must return elements in model order. The tracker deep
// copies everything it reads, so implementations may return internal maps
// as long as they are not mutated concurrently with the call.
type Model interface {
	ID() ID
	Name() string
	Elements() []Element
}
