// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package attr

import (
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// maxDepth bounds recursion so self-referencing values fail instead of
// overflowing the stack.
const maxDepth = 64

var (
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	stringerType      = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
	durationType      = reflect.TypeOf(time.Duration(0))
	valueType         = reflect.TypeOf(Value{})
)

// FromAny canonicalizes an arbitrary Go value into a Value.
//
// # Description
//
// Conversion rules, applied in order:
//
//   - nil, nil pointers, nil slices and nil maps become Null.
//   - Value is deep copied.
//   - time.Duration becomes Int nanoseconds.
//   - encoding.TextMarshaler (time.Time, uuid.UUID, net.IP, ...) becomes String.
//   - bool, string, all int kinds become Bool, String, Int.
//   - unsigned ints become Int, or a decimal String if they overflow int64.
//   - float32/float64 become Float; json.Number becomes Int or Float.
//   - slices and arrays become List.
//   - maps with string or integer keys become Map.
//   - structs become Map of exported fields, honoring json tag names.
//     Untagged embedded structs are flattened into the parent the way
//     encoding/json does it; outer names win.
//   - anything else implementing fmt.Stringer becomes String.
//
// # Outputs
//
//   - Value: The canonical value.
//   - error: Wraps ErrUnsupported for channels, funcs, complex numbers,
//     unsafe pointers, unsupported map keys, or nesting deeper than 64.
func FromAny(x any) (Value, error) {
	if x == nil {
		return Null(), nil
	}
	if n, ok := x.(json.Number); ok {
		return fromNumber(n)
	}
	return fromReflect(reflect.ValueOf(x), 0)
}

// MustFromAny is FromAny for literals known to be convertible. It panics on error.
func MustFromAny(x any) Value {
	v, err := FromAny(x)
	if err != nil {
		panic(err)
	}
	return v
}

func fromNumber(n json.Number) (Value, error) {
	if i, err := n.Int64(); err == nil {
		return Int(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return Value{}, fmt.Errorf("%w: number %q", ErrUnsupported, n.String())
	}
	return Float(f), nil
}

func fromReflect(rv reflect.Value, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupported, maxDepth)
	}
	if !rv.IsValid() {
		return Null(), nil
	}

	t := rv.Type()
	switch {
	case t == valueType:
		return rv.Interface().(Value).Clone(), nil
	case t == durationType:
		return Int(rv.Int()), nil
	case t.Implements(textMarshalerType) && !isNilable(rv):
		text, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return Value{}, fmt.Errorf("%w: marshal %s: %v", ErrUnsupported, t, err)
		}
		return String(string(text)), nil
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return fromReflect(rv.Elem(), depth+1)

	case reflect.Bool:
		return Bool(rv.Bool()), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return String(strconv.FormatUint(u, 10)), nil
		}
		return Int(int64(u)), nil

	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil

	case reflect.String:
		return String(rv.String()), nil

	case reflect.Slice:
		if rv.IsNil() {
			return Null(), nil
		}
		return fromSequence(rv, depth)

	case reflect.Array:
		return fromSequence(rv, depth)

	case reflect.Map:
		if rv.IsNil() {
			return Null(), nil
		}
		return fromMap(rv, depth)

	case reflect.Struct:
		return fromStruct(rv, depth)
	}

	if t.Implements(stringerType) {
		return String(rv.Interface().(fmt.Stringer).String()), nil
	}
	return Value{}, fmt.Errorf("%w: %s", ErrUnsupported, t)
}

func isNilable(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

func fromSequence(rv reflect.Value, depth int) (Value, error) {
	items := make([]Value, rv.Len())
	for i := range items {
		item, err := fromReflect(rv.Index(i), depth+1)
		if err != nil {
			return Value{}, fmt.Errorf("index %d: %w", i, err)
		}
		items[i] = item
	}
	return Value{kind: KindList, list: items}, nil
}

func fromMap(rv reflect.Value, depth int) (Value, error) {
	out := make(map[string]Value, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return Value{}, err
		}
		item, err := fromReflect(iter.Value(), depth+1)
		if err != nil {
			return Value{}, fmt.Errorf("key %q: %w", key, err)
		}
		out[key] = item
	}
	return Value{kind: KindMap, m: out}, nil
}

func mapKey(k reflect.Value) (string, error) {
	if k.Type().Implements(textMarshalerType) {
		text, err := k.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", fmt.Errorf("%w: map key: %v", ErrUnsupported, err)
		}
		return string(text), nil
	}
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", fmt.Errorf("%w: map key type %s", ErrUnsupported, k.Type())
}

func fromStruct(rv reflect.Value, depth int) (Value, error) {
	out := make(map[string]Value, rv.NumField())
	if err := collectFields(rv, depth, out); err != nil {
		return Value{}, err
	}
	return Value{kind: KindMap, m: out}, nil
}

// collectFields adds the fields of struct rv to out. Names already in out
// are left alone, so a shallower field shadows a promoted one.
func collectFields(rv reflect.Value, depth int, out map[string]Value) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrUnsupported, maxDepth)
	}
	t := rv.Type()
	var promoted []reflect.Value
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, ok := fieldName(f)
		if !ok {
			continue
		}
		if f.Anonymous && isStructOrPtr(f.Type) && (name == "" || !f.IsExported()) {
			inner, present := derefStruct(rv.Field(i))
			if name == "" {
				if present {
					promoted = append(promoted, inner)
				}
				continue
			}
			if _, taken := out[name]; taken {
				continue
			}
			if !present {
				out[name] = Null()
				continue
			}
			// Read through fromStruct so unexported embedded types are
			// never passed to Interface.
			item, err := fromStruct(inner, depth+1)
			if err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
			out[name] = item
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if _, taken := out[name]; taken {
			continue
		}
		item, err := fromReflect(rv.Field(i), depth+1)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[name] = item
	}

	for _, inner := range promoted {
		fields := make(map[string]Value, inner.NumField())
		if err := collectFields(inner, depth+1, fields); err != nil {
			return fmt.Errorf("embedded %s: %w", inner.Type(), err)
		}
		for k, v := range fields {
			if _, taken := out[k]; !taken {
				out[k] = v
			}
		}
	}
	return nil
}

// fieldName returns the json tag name of f, or "" when untagged. ok is
// false for fields tagged "-".
func fieldName(f reflect.StructField) (string, bool) {
	tag, has := f.Tag.Lookup("json")
	if !has {
		return "", true
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return "", false
	}
	return name, true
}

func isStructOrPtr(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t != valueType
}

// derefStruct follows one pointer. present is false for a nil pointer.
func derefStruct(fv reflect.Value) (reflect.Value, bool) {
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return reflect.Value{}, false
		}
		return fv.Elem(), true
	}
	return fv, true
}

// Attributes is a canonicalized attribute map.
type Attributes map[string]Value

// FromMap canonicalizes every entry of a raw attribute map.
//
// The result shares no mutable state with m. A nil map yields an empty,
// non-nil Attributes.
func FromMap(m map[string]any) (Attributes, error) {
	out := make(Attributes, len(m))
	for k, raw := range m {
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Clone returns a deep copy.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v.Clone()
	}
	return out
}

// Equal reports whether both maps hold the same keys with equal values.
func (a Attributes) Equal(o Attributes) bool {
	if len(a) != len(o) {
		return false
	}
	for k, v := range a {
		w, ok := o[k]
		if !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}

// Keys returns the attribute names in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value for key.
func (a Attributes) Get(key string) (Value, bool) {
	v, ok := a[key]
	return v.Clone(), ok
}
