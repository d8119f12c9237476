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
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrMalformedDocument matches every *MalformedDocumentError.
	ErrMalformedDocument = errors.New("malformed document")

	// ErrExportIO matches every *ExportIOError.
	ErrExportIO = errors.New("export i/o failed")
)

// MalformedDocumentError reports a document that failed strict parsing.
type MalformedDocumentError struct {
	// Field is the JSON path of the offending field, empty for syntax errors.
	Field string

	// Reason describes the violation.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

func (e *MalformedDocumentError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed document: %s", e.Reason)
	}
	return fmt.Sprintf("malformed document: %s: %s", e.Field, e.Reason)
}

// Is matches ErrMalformedDocument.
func (e *MalformedDocumentError) Is(target error) bool {
	return target == ErrMalformedDocument
}

func (e *MalformedDocumentError) Unwrap() error {
	return e.Err
}

func malformed(field, format string, args ...any) *MalformedDocumentError {
	return &MalformedDocumentError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ExportIOError reports a failed file write or read. The target file is
// never left half-written.
type ExportIOError struct {
	Path string
	Op   string
	Err  error
}

func (e *ExportIOError) Error() string {
	return fmt.Sprintf("export i/o: %s %s: %v", e.Op, e.Path, e.Err)
}

// Is matches ErrExportIO.
func (e *ExportIOError) Is(target error) bool {
	return target == ErrExportIO
}

func (e *ExportIOError) Unwrap() error {
	return e.Err
}
