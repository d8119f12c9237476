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
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type layerSpec struct {
	Units      int     `json:"units"`
	Activation string  `json:"activation"`
	Dropout    float64 `json:"dropout,omitempty"`
	Hidden     string  `json:"-"`
	internal   int
}

type shape struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

type initializer struct {
	Scheme string
	Seed   int
}

type Trainable struct {
	Frozen bool `json:"frozen"`
}

type convLayer struct {
	shape
	*initializer
	Trainable `json:"train"`
	Cols      string `json:"cols"`
	Name      string
}

type stringerOnly struct{ ch chan int }

func (stringerOnly) String() string { return "stringer" }

type chanStringer chan int

func (chanStringer) String() string { return "pipeline" }

// -----------------------------------------------------------------------------
// FromAny Tests
// -----------------------------------------------------------------------------

func TestFromAny_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want Value
	}{
		{"nil", nil, Null()},
		{"string", "relu", String("relu")},
		{"int", 42, Int(42)},
		{"int8", int8(-3), Int(-3)},
		{"uint16", uint16(7), Int(7)},
		{"uint64 max int", uint64(math.MaxInt64), Int(math.MaxInt64)},
		{"uint64 overflow", uint64(math.MaxUint64), String("18446744073709551615")},
		{"float32", float32(0.5), Float(0.5)},
		{"float64", 1.25, Float(1.25)},
		{"bool", true, Bool(true)},
		{"duration", 3 * time.Millisecond, Int(int64(3 * time.Millisecond))},
		{"json number int", json.Number("12"), Int(12)},
		{"json number float", json.Number("1.5"), Float(1.5)},
		{"nil pointer", (*int)(nil), Null()},
		{"nil slice", []int(nil), Null()},
		{"nil map", map[string]int(nil), Null()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestFromAny_TextMarshalers(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 123, time.UTC)
	got, err := FromAny(ts)
	require.NoError(t, err)
	s, ok := got.AsString()
	require.True(t, ok)
	assert.Equal(t, ts.Format(time.RFC3339Nano), s)

	id := uuid.New()
	got, err = FromAny(id)
	require.NoError(t, err)
	s, ok = got.AsString()
	require.True(t, ok)
	assert.Equal(t, id.String(), s)
}

func TestFromAny_Composite(t *testing.T) {
	in := map[string]any{
		"shape":   []int{3, 4},
		"weights": [2]float64{0.1, 0.2},
		"layer":   layerSpec{Units: 8, Activation: "tanh", Hidden: "x", internal: 1},
		"ptr":     &layerSpec{Units: 2},
		"byIndex": map[int]string{1: "a"},
	}

	got, err := FromAny(in)
	require.NoError(t, err)
	require.Equal(t, KindMap, got.Kind())

	m, _ := got.AsMap()
	assert.True(t, List(Int(3), Int(4)).Equal(m["shape"]))
	assert.True(t, List(Float(0.1), Float(0.2)).Equal(m["weights"]))

	layer, ok := m["layer"].AsMap()
	require.True(t, ok)
	assert.True(t, Int(8).Equal(layer["units"]))
	assert.True(t, String("tanh").Equal(layer["activation"]))
	assert.True(t, Float(0).Equal(layer["dropout"]))
	assert.NotContains(t, layer, "Hidden")
	assert.NotContains(t, layer, "internal")

	ptr, ok := m["ptr"].AsMap()
	require.True(t, ok)
	assert.True(t, Int(2).Equal(ptr["units"]))

	byIndex, ok := m["byIndex"].AsMap()
	require.True(t, ok)
	assert.True(t, String("a").Equal(byIndex["1"]))
}

func TestFromAny_EmbeddedStructs(t *testing.T) {
	in := convLayer{
		shape:       shape{Rows: 3, Cols: 5},
		initializer: &initializer{Scheme: "xavier", Seed: 7},
		Trainable:   Trainable{Frozen: true},
		Cols:        "outer",
		Name:        "conv1",
	}

	got, err := FromAny(in)
	require.NoError(t, err)
	m, ok := got.AsMap()
	require.True(t, ok)

	// Promoted fields of unexported embedded structs are kept.
	assert.True(t, Int(3).Equal(m["rows"]))
	assert.True(t, String("xavier").Equal(m["Scheme"]))
	assert.True(t, Int(7).Equal(m["Seed"]))
	// The outer field shadows the promoted one.
	assert.True(t, String("outer").Equal(m["cols"]))
	assert.True(t, String("conv1").Equal(m["Name"]))
	// A tagged embedded struct stays nested under its tag.
	train, ok := m["train"].AsMap()
	require.True(t, ok)
	assert.True(t, Bool(true).Equal(train["frozen"]))
	assert.NotContains(t, m, "shape")
	assert.NotContains(t, m, "initializer")
	assert.Len(t, m, 6)

	// The conversion agrees with encoding/json on key names.
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	var viaJSON map[string]any
	require.NoError(t, json.Unmarshal(raw, &viaJSON))
	for k := range viaJSON {
		assert.Contains(t, m, k)
	}
	assert.Len(t, viaJSON, len(m))

	// A nil embedded pointer contributes nothing.
	in.initializer = nil
	got, err = FromAny(in)
	require.NoError(t, err)
	m, _ = got.AsMap()
	assert.NotContains(t, m, "Scheme")
	assert.Len(t, m, 4)
}

func TestFromAny_EmbeddedCycleFails(t *testing.T) {
	type link struct {
		*link
		N int
	}
	l := &link{N: 1}
	l.link = l

	_, err := FromAny(l)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestFromAny_Unsupported(t *testing.T) {
	cases := map[string]any{
		"chan":      make(chan int),
		"func":      func() {},
		"complex":   complex(1, 2),
		"map key":   map[float64]int{1.5: 1},
		"in a list": []any{1, make(chan int)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromAny(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnsupported))
		})
	}
}

func TestFromAny_StringerFallback(t *testing.T) {
	got, err := FromAny(chanStringer(nil))
	require.NoError(t, err)
	assert.True(t, String("pipeline").Equal(got))

	// Structs convert field-wise before the Stringer fallback is consulted.
	got, err = FromAny(stringerOnly{})
	require.NoError(t, err)
	assert.Equal(t, KindMap, got.Kind())
	assert.Equal(t, 0, got.Len())
}

func TestFromAny_CycleFails(t *testing.T) {
	type node struct {
		Next *node `json:"next"`
	}
	n := &node{}
	n.Next = n

	_, err := FromAny(n)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupported))
}

// -----------------------------------------------------------------------------
// Isolation Tests
// -----------------------------------------------------------------------------

func TestFromMap_IsolatedFromSource(t *testing.T) {
	shape := []int{1, 2}
	nested := map[string]any{"lr": 0.1}
	src := map[string]any{"shape": shape, "opt": nested}

	got, err := FromMap(src)
	require.NoError(t, err)

	shape[0] = 99
	nested["lr"] = 0.5
	src["extra"] = true

	assert.True(t, List(Int(1), Int(2)).Equal(got["shape"]))
	opt, _ := got["opt"].AsMap()
	assert.True(t, Float(0.1).Equal(opt["lr"]))
	assert.NotContains(t, got, "extra")
}

func TestClone_Independent(t *testing.T) {
	orig := Map(map[string]Value{"xs": List(Int(1))})
	clone := orig.Clone()

	m, _ := clone.AsMap()
	m["xs"] = Int(5) // mutates the copy returned by AsMap only

	assert.True(t, orig.Equal(clone))
	assert.True(t, List(Int(1)).Equal(mustMap(t, orig)["xs"]))
}

func mustMap(t *testing.T, v Value) map[string]Value {
	t.Helper()
	m, ok := v.AsMap()
	require.True(t, ok)
	return m
}

// -----------------------------------------------------------------------------
// Equality and JSON Tests
// -----------------------------------------------------------------------------

func TestEqual(t *testing.T) {
	assert.False(t, Int(1).Equal(Float(1)), "kind participates in equality")
	assert.True(t, Float(math.NaN()).Equal(Float(math.NaN())))
	assert.True(t, Float(0).Equal(Float(math.Copysign(0, -1))))
	assert.False(t, List(Int(1)).Equal(List(Int(1), Int(2))))
	assert.False(t, Map(map[string]Value{"a": Int(1)}).Equal(Map(map[string]Value{"b": Int(1)})))
}

func TestJSON_RoundTrip(t *testing.T) {
	values := []Value{
		Null(),
		String(""),
		String("héllo"),
		Int(math.MaxInt64),
		Int(math.MinInt64),
		Float(3),
		Float(1e-300),
		Float(math.Inf(1)),
		Float(math.Inf(-1)),
		Float(math.NaN()),
		Bool(false),
		List(),
		List(Int(1), String("a"), Bool(true), List(Float(2.5))),
		Map(nil),
		Map(map[string]Value{"z": Null(), "a": Map(map[string]Value{"k": List(Int(0))})}),
	}

	for _, v := range values {
		t.Run(v.String(), func(t *testing.T) {
			data, err := json.Marshal(v)
			require.NoError(t, err)

			var got Value
			require.NoError(t, json.Unmarshal(data, &got))
			assert.True(t, v.Equal(got), "want %s, got %s (wire %s)", v, got, data)
		})
	}
}

func TestJSON_StableMapOrder(t *testing.T) {
	v := Map(map[string]Value{"b": Int(2), "a": Int(1), "c": Int(3)})
	first, err := json.Marshal(v)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := json.Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
	assert.Equal(t,
		`{"kind":"map","value":{"a":{"kind":"int","value":1},"b":{"kind":"int","value":2},"c":{"kind":"int","value":3}}}`,
		string(first))
}

func TestJSON_StrictDecode(t *testing.T) {
	bad := []string{
		`{}`,
		`{"kind":"int"}`,
		`{"kind":"int","value":1.5}`,
		`{"kind":"float","value":"nope"}`,
		`{"kind":"bool","value":1}`,
		`{"kind":"string","value":null}`,
		`{"kind":"null","value":3}`,
		`{"kind":"tuple","value":[]}`,
		`{"kind":"int","value":1,"extra":true}`,
		`{"kind":"list","value":[{"kind":"int"}]}`,
	}
	for _, doc := range bad {
		t.Run(doc, func(t *testing.T) {
			var v Value
			err := json.Unmarshal([]byte(doc), &v)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidEncoding), "got %v", err)
		})
	}
}

func TestAttributes(t *testing.T) {
	a := Attributes{"b": Int(1), "a": List(String("x"))}
	assert.Equal(t, []string{"a", "b"}, a.Keys())

	c := a.Clone()
	assert.True(t, a.Equal(c))
	c["b"] = Int(2)
	assert.False(t, a.Equal(c))

	v, ok := a.Get("a")
	require.True(t, ok)
	assert.True(t, List(String("x")).Equal(v))
}

func TestInterface(t *testing.T) {
	v := MustFromAny(map[string]any{"n": 1, "xs": []any{"a", true}})
	assert.Equal(t, map[string]any{"n": int64(1), "xs": []any{"a", true}}, v.Interface())
}
