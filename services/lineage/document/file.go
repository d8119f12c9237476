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
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// GzipSuffix selects gzip compression for file targets.
const GzipSuffix = ".gz"

// WriteFile atomically writes v as a JSON document to path.
//
// # Description
//
// Writes to a temp file in the same directory, fsyncs, renames over path,
// then syncs the directory. Paths ending in ".gz" are gzip compressed. On
// any failure the temp file is removed and path is left untouched.
//
// # Inputs
//
//   - ctx: Checked before the write starts.
//   - path: Caller-chosen target. Not validated beyond what the OS requires.
//   - v: The document (History or Evolution).
//
// # Outputs
//
//   - error: *ExportIOError on any I/O failure.
func WriteFile(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return &ExportIOError{Path: path, Op: "write", Err: err}
	}

	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &ExportIOError{Path: path, Op: "create temp", Err: err}
	}
	tmpPath := tmpFile.Name()

	// Cleanup on any error
	cleanupTmp := true
	defer func() {
		if cleanupTmp {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(0o644); err != nil {
		return &ExportIOError{Path: path, Op: "chmod", Err: err}
	}

	if err := encodeTo(tmpFile, v, strings.HasSuffix(path, GzipSuffix)); err != nil {
		return &ExportIOError{Path: path, Op: "write", Err: err}
	}

	// Sync to disk for durability
	if err := tmpFile.Sync(); err != nil {
		return &ExportIOError{Path: path, Op: "sync", Err: err}
	}
	if err := tmpFile.Close(); err != nil {
		return &ExportIOError{Path: path, Op: "close", Err: err}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return &ExportIOError{Path: path, Op: "rename", Err: err}
	}
	cleanupTmp = false

	if err := syncDir(dir); err != nil {
		return &ExportIOError{Path: path, Op: "sync dir", Err: err}
	}
	return nil
}

func encodeTo(f *os.File, v any, compress bool) error {
	bw := bufio.NewWriter(f)
	if !compress {
		if err := Encode(bw, v); err != nil {
			return err
		}
		return bw.Flush()
	}

	gw := gzip.NewWriter(bw)
	if err := Encode(gw, v); err != nil {
		gw.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return bw.Flush()
}

// ReadHistoryFile reads and strictly decodes a history document.
func ReadHistoryFile(path string) (History, error) {
	var h History
	err := readFile(path, func(r io.Reader) error {
		var err error
		h, err = DecodeHistory(r)
		return err
	})
	return h, err
}

// ReadEvolutionFile reads and strictly decodes an evolution document.
func ReadEvolutionFile(path string) (Evolution, error) {
	var doc Evolution
	err := readFile(path, func(r io.Reader) error {
		var err error
		doc, err = DecodeEvolution(r)
		return err
	})
	return doc, err
}

// readFile opens path, transparently gunzipping ".gz" files.
func readFile(path string, decode func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return &ExportIOError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, GzipSuffix) {
		gr, err := gzip.NewReader(r)
		if err != nil {
			return &MalformedDocumentError{Reason: "invalid gzip stream", Err: err}
		}
		defer gr.Close()
		r = gr
	}
	return decode(r)
}

// syncDir syncs a directory to ensure durability of file operations.
// This is needed after atomic rename on some filesystems.
func syncDir(dirPath string) error {
	dir, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}

	return nil
}
