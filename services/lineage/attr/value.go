// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package attr provides the tagged-value representation used to carry
// dynamically typed element attributes through capture, copy, and
// serialization.
//
// # Description
//
// Element attribute maps hold values whose Go types are unknown to the
// tracker. FromAny canonicalizes them into a closed variant:
//
//	Null | String | Int | Float | Bool | List | Map
//
// Every operation on Value (Clone, Equal, JSON encoding) is total over that
// set, so history export and import never need the producing model's types.
//
// # Thread Safety
//
// Values are immutable once built. Clone returns a structurally independent
// copy; List and Map accessors return copies.
package attr

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ErrUnsupported is returned when a Go value cannot be canonicalized.
var ErrUnsupported = errors.New("unsupported attribute value")

// Kind discriminates the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
)

var kindNames = [...]string{
	KindNull:   "null",
	KindString: "string",
	KindInt:    "int",
	KindFloat:  "float",
	KindBool:   "bool",
	KindList:   "list",
	KindMap:    "map",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind returns the Kind for a wire name.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return KindNull, fmt.Errorf("unknown kind %q", s)
}

// Value is a closed, tagged attribute value.
//
// The zero Value is Null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List returns a sequence value. The items are deep copied.
func List(items ...Value) Value {
	out := make([]Value, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return Value{kind: KindList, list: out}
}

// Map returns a map value. The entries are deep copied.
func Map(entries map[string]Value) Value {
	out := make(map[string]Value, len(entries))
	for k, v := range entries {
		out[k] = v.Clone()
	}
	return Value{kind: KindMap, m: out}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float payload. Int values are widened.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsList returns a copy of the sequence payload.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return List(v.list...).list, true
}

// AsMap returns a copy of the map payload.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return Map(v.m).m, true
}

// Len returns the number of items in a list or map, 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	default:
		return 0
	}
}

// Clone returns a structurally independent copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		return List(v.list...)
	case KindMap:
		return Map(v.m)
	default:
		return v
	}
}

// Equal reports whether v and o hold the same variant and payload.
//
// Floats compare by bit pattern after normalizing signed zero, so NaN equals
// NaN. That keeps Equal reflexive for round-trip checks.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		if v.f == 0 && o.f == 0 {
			return true
		}
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case KindBool:
		return v.b == o.b
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, a := range v.m {
			b, ok := o.m[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

// Interface converts v back to plain Go values: nil, string, int64, float64,
// bool, []any, map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, it := range v.list {
			out[i] = it.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, it := range v.m {
			out[k] = it.Interface()
		}
		return out
	default:
		return nil
	}
}

// String renders v for logs and CLI output.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return strconv.Quote(v.s)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		s := "["
		for i, it := range v.list {
			if i > 0 {
				s += ", "
			}
			s += it.String()
		}
		return s + "]"
	case KindMap:
		keys := sortedKeys(v.m)
		s := "{"
		for i, k := range keys {
			if i > 0 {
				s += ", "
			}
			s += k + ": " + v.m[k].String()
		}
		return s + "}"
	}
	return v.kind.String()
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
