// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Encode writes v as indented JSON.
func Encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return nil
}

// DecodeHistory strictly decodes and validates a history document.
func DecodeHistory(r io.Reader) (History, error) {
	var h History
	if err := decodeStrict(r, &h); err != nil {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// DecodeEvolution strictly decodes and validates an evolution document.
func DecodeEvolution(r io.Reader) (Evolution, error) {
	var doc Evolution
	if err := decodeStrict(r, &doc); err != nil {
		return Evolution{}, err
	}
	if err := doc.Validate(); err != nil {
		return Evolution{}, err
	}
	return doc, nil
}

func decodeStrict(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &MalformedDocumentError{
				Field:  typeErr.Field,
				Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
				Err:    err,
			}
		}
		return &MalformedDocumentError{Reason: err.Error(), Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return malformed("", "trailing data after document")
	}
	return nil
}
