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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrInvalidEncoding is returned when a tagged value document is malformed.
var ErrInvalidEncoding = errors.New("invalid tagged value")

// wireValue is the self-describing JSON form of a Value:
//
//	{"kind":"int","value":3}
//	{"kind":"list","value":[{"kind":"bool","value":true}]}
//	{"kind":"null"}
type wireValue struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Non-finite floats have no JSON number form and travel as strings.
const (
	wireNaN    = "NaN"
	wirePosInf = "+Inf"
	wireNegInf = "-Inf"
)

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Kind: v.kind.String()}
	var (
		payload any
		err     error
	)
	switch v.kind {
	case KindNull:
		return json.Marshal(w)
	case KindString:
		payload = v.s
	case KindInt:
		payload = v.i
	case KindFloat:
		switch {
		case math.IsNaN(v.f):
			payload = wireNaN
		case math.IsInf(v.f, 1):
			payload = wirePosInf
		case math.IsInf(v.f, -1):
			payload = wireNegInf
		default:
			// 'g' keeps integral floats distinguishable after decode via the kind tag.
			w.Value = json.RawMessage(strconv.FormatFloat(v.f, 'g', -1, 64))
			return json.Marshal(w)
		}
	case KindBool:
		payload = v.b
	case KindList:
		items := v.list
		if items == nil {
			items = []Value{}
		}
		payload = items
	case KindMap:
		m := v.m
		if m == nil {
			m = map[string]Value{}
		}
		payload = m
	default:
		return nil, fmt.Errorf("%w: kind %d", ErrInvalidEncoding, v.kind)
	}
	if w.Value, err = json.Marshal(payload); err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. Decoding is strict: unknown
// fields, missing payloads, and payloads of the wrong shape are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if w.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEncoding)
	}
	kind, err := ParseKind(w.Kind)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if kind == KindNull {
		if len(w.Value) != 0 && !bytes.Equal(bytes.TrimSpace(w.Value), []byte("null")) {
			return fmt.Errorf("%w: null carries a value", ErrInvalidEncoding)
		}
		*v = Null()
		return nil
	}
	if len(w.Value) == 0 || bytes.Equal(bytes.TrimSpace(w.Value), []byte("null")) {
		return fmt.Errorf("%w: %s without value", ErrInvalidEncoding, kind)
	}

	switch kind {
	case KindString:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("%w: string payload: %v", ErrInvalidEncoding, err)
		}
		*v = String(s)
	case KindInt:
		i, err := strconv.ParseInt(string(bytes.TrimSpace(w.Value)), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: int payload: %v", ErrInvalidEncoding, err)
		}
		*v = Int(i)
	case KindFloat:
		f, err := decodeFloat(w.Value)
		if err != nil {
			return err
		}
		*v = Float(f)
	case KindBool:
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return fmt.Errorf("%w: bool payload: %v", ErrInvalidEncoding, err)
		}
		*v = Bool(b)
	case KindList:
		var items []Value
		if err := json.Unmarshal(w.Value, &items); err != nil {
			return fmt.Errorf("%w: list payload: %v", ErrInvalidEncoding, err)
		}
		if items == nil {
			items = []Value{}
		}
		*v = Value{kind: KindList, list: items}
	case KindMap:
		var m map[string]Value
		if err := json.Unmarshal(w.Value, &m); err != nil {
			return fmt.Errorf("%w: map payload: %v", ErrInvalidEncoding, err)
		}
		if m == nil {
			m = map[string]Value{}
		}
		*v = Value{kind: KindMap, m: m}
	}
	return nil
}

func decodeFloat(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: float payload: %v", ErrInvalidEncoding, err)
		}
		switch s {
		case wireNaN:
			return math.NaN(), nil
		case wirePosInf:
			return math.Inf(1), nil
		case wireNegInf:
			return math.Inf(-1), nil
		}
		return 0, fmt.Errorf("%w: float payload %q", ErrInvalidEncoding, s)
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: float payload: %v", ErrInvalidEncoding, err)
	}
	return f, nil
}
