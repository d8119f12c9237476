// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"errors"
	"fmt"
	"maps"
	"sync"
)

var (
	// ErrDuplicateElement is returned when adding an element whose ID exists.
	ErrDuplicateElement = errors.New("element already exists")

	// ErrElementNotFound is returned when an element ID is unknown.
	ErrElementNotFound = errors.New("element not found")
)

// Composite is a mutable, ordered collection of elements.
//
// # Description
//
// A reference Model implementation. Elements returns copies of the
// top-level attribute maps; nested values are shared and must be replaced,
// not edited in place, by callers.
//
// # Thread Safety
//
// Safe for concurrent use.
type Composite struct {
	mu       sync.RWMutex
	id       ID
	name     string
	elements []Element
}

// NewComposite creates an empty composite with a fresh ID.
func NewComposite(name string) *Composite {
	return NewCompositeWithID(NewID(), name)
}

// NewCompositeWithID creates an empty composite with the given ID.
func NewCompositeWithID(id ID, name string) *Composite {
	return &Composite{id: id, name: name}
}

// ID implements Model.
func (c *Composite) ID() ID {
	return c.id
}

// Name implements Model.
func (c *Composite) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Elements implements Model. The slice and attribute maps are copies.
func (c *Composite) Elements() []Element {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Element, len(c.elements))
	for i, e := range c.elements {
		out[i] = Element{ID: e.ID, Type: e.Type, Attributes: maps.Clone(e.Attributes)}
	}
	return out
}

// Len returns the number of elements.
func (c *Composite) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.elements)
}

// Rename changes the display name.
func (c *Composite) Rename(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

// AddElement appends an element.
//
// # Outputs
//
//   - error: ErrDuplicateElement if an element with the same ID exists.
func (c *Composite) AddElement(id, typ string, attrs map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexOf(id) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateElement, id)
	}
	c.elements = append(c.elements, Element{ID: id, Type: typ, Attributes: maps.Clone(attrs)})
	return nil
}

// RemoveElement removes an element, preserving the order of the rest.
func (c *Composite) RemoveElement(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrElementNotFound, id)
	}
	c.elements = append(c.elements[:i:i], c.elements[i+1:]...)
	return nil
}

// SetAttribute sets one attribute on an element.
func (c *Composite) SetAttribute(id, key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrElementNotFound, id)
	}
	if c.elements[i].Attributes == nil {
		c.elements[i].Attributes = make(map[string]any, 1)
	}
	c.elements[i].Attributes[key] = value
	return nil
}

func (c *Composite) indexOf(id string) int {
	for i, e := range c.elements {
		if e.ID == id {
			return i
		}
	}
	return -1
}
