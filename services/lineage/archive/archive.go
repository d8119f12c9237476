// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive stores exported histories in BadgerDB.
//
// # Description
//
// An archive is an explicit export target, written only when a caller asks.
// Each snapshot document is stored under
//
//	snap:{modelId}:{seq:016d}
//
// as [4-byte CRC32][JSON], so key order is history order. A per-model
// metadata entry under meta:{modelId} records the snapshot count and
// archive time. Putting a model replaces its previous archive in a single
// transaction.
package archive

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/lineage/services/lineage/document"
	"github.com/AleutianAI/lineage/services/lineage/model"
	"github.com/AleutianAI/lineage/services/lineage/storage/badger"
)

var (
	// ErrArchiveCorrupted indicates an entry failed its integrity check.
	ErrArchiveCorrupted = errors.New("archive corrupted")

	// ErrNotFound indicates the model has no archived history.
	ErrNotFound = errors.New("no archived history")

	// ErrEmptyHistory is returned when putting an empty document.
	ErrEmptyHistory = errors.New("history is empty")
)

const (
	snapPrefix = "snap:"
	metaPrefix = "meta:"
)

var tracer = otel.Tracer("lineage.archive")

// Entry describes one archived model.
type Entry struct {
	ModelID    model.ID  `json:"modelId"`
	ModelName  string    `json:"modelName"`
	Snapshots  int       `json:"snapshots"`
	ArchivedAt time.Time `json:"archivedAt"`
}

// Store reads and writes archived histories.
//
// # Thread Safety
//
// Safe for concurrent use; Badger transactions provide isolation.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates a store over an open database. The caller keeps ownership of
// db and closes it.
func New(db *badger.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger.With(slog.String("component", "archive")),
		now:    time.Now,
	}
}

func snapKeyPrefix(id model.ID) []byte {
	return []byte(snapPrefix + id.String() + ":")
}

func snapKey(id model.ID, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s:%016d", snapPrefix, id, seq))
}

func metaKey(id model.ID) []byte {
	return []byte(metaPrefix + id.String())
}

// encodeEntry encodes v as JSON with a CRC32 prefix.
func encodeEntry(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}

	// [4-byte CRC][json]
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], crc32.ChecksumIEEE(payload))
	copy(out[4:], payload)
	return out, nil
}

// decodeEntry verifies the CRC32 prefix and strictly decodes the payload.
func decodeEntry(data []byte, v any) error {
	if len(data) < 5 {
		return fmt.Errorf("%w: entry too short", ErrArchiveCorrupted)
	}

	stored := binary.BigEndian.Uint32(data[:4])
	payload := data[4:]
	if computed := crc32.ChecksumIEEE(payload); stored != computed {
		return fmt.Errorf("%w: stored=%08x computed=%08x", ErrArchiveCorrupted, stored, computed)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveCorrupted, err)
	}
	return nil
}

// Put archives a history document, replacing any previous archive of the
// same model.
//
// # Inputs
//
//   - ctx: Context for tracing and cancellation.
//   - h: A history document of a single model.
//
// # Outputs
//
//   - model.ID: The archived model.
//   - error: ErrEmptyHistory, a *document.MalformedDocumentError, or a
//     storage error. Nothing is written on error.
func (s *Store) Put(ctx context.Context, h document.History) (model.ID, error) {
	ctx, span := tracer.Start(ctx, "archive.Put",
		trace.WithAttributes(attribute.Int("snapshots", len(h))),
	)
	defer span.End()

	if len(h) == 0 {
		span.SetStatus(codes.Error, "empty history")
		return model.Nil, ErrEmptyHistory
	}

	id, _, err := document.ToSnapshots(h)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid history")
		return model.Nil, fmt.Errorf("validate history: %w", err)
	}
	span.SetAttributes(attribute.String("model_id", id.String()))

	entries := make([][]byte, len(h))
	for i := range h {
		entries[i], err = encodeEntry(h[i])
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "encode failed")
			return model.Nil, fmt.Errorf("encode snapshot %d: %w", i, err)
		}
	}
	meta, err := encodeEntry(Entry{
		ModelID:    id,
		ModelName:  *h[len(h)-1].Name,
		Snapshots:  len(h),
		ArchivedAt: s.now().UTC(),
	})
	if err != nil {
		return model.Nil, fmt.Errorf("encode metadata: %w", err)
	}

	var replaced int
	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		n, err := badger.DeletePrefix(txn, snapKeyPrefix(id))
		if err != nil {
			return err
		}
		replaced = n
		for i, data := range entries {
			if err := txn.Set(snapKey(id, i), data); err != nil {
				return fmt.Errorf("set snapshot %d: %w", i, err)
			}
		}
		return txn.Set(metaKey(id), meta)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return model.Nil, fmt.Errorf("write archive: %w", err)
	}

	s.logger.Debug("history archived",
		slog.String("model_id", id.String()),
		slog.Int("snapshots", len(h)),
		slog.Int("replaced", replaced),
	)
	return id, nil
}

// Get reads a model's archived history in order.
//
// # Outputs
//
//   - document.History: The archived document, validated.
//   - error: ErrNotFound, ErrArchiveCorrupted, or a storage error.
func (s *Store) Get(ctx context.Context, id model.ID) (document.History, error) {
	ctx, span := tracer.Start(ctx, "archive.Get",
		trace.WithAttributes(attribute.String("model_id", id.String())),
	)
	defer span.End()

	var h document.History
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		return badger.ScanPrefix(txn, snapKeyPrefix(id), func(key, value []byte) error {
			var doc document.SnapshotDoc
			if err := decodeEntry(value, &doc); err != nil {
				return fmt.Errorf("key %s: %w", key, err)
			}
			h = append(h, doc)
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, fmt.Errorf("read archive: %w", err)
	}
	if len(h) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := h.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid entry")
		return nil, fmt.Errorf("%w: %v", ErrArchiveCorrupted, err)
	}

	span.SetAttributes(attribute.Int("snapshots", len(h)))
	return h, nil
}

// Models lists every archived model, sorted by model id text.
func (s *Store) Models(ctx context.Context) ([]Entry, error) {
	ctx, span := tracer.Start(ctx, "archive.Models")
	defer span.End()

	var out []Entry
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		return badger.ScanPrefix(txn, []byte(metaPrefix), func(key, value []byte) error {
			var e Entry
			if err := decodeEntry(value, &e); err != nil {
				return fmt.Errorf("key %s: %w", key, err)
			}
			if want := strings.TrimPrefix(string(key), metaPrefix); e.ModelID.String() != want {
				return fmt.Errorf("%w: key %s holds model %s", ErrArchiveCorrupted, key, e.ModelID)
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, fmt.Errorf("list archive: %w", err)
	}
	return out, nil
}

// Delete removes a model's archive.
func (s *Store) Delete(ctx context.Context, id model.ID) error {
	ctx, span := tracer.Start(ctx, "archive.Delete",
		trace.WithAttributes(attribute.String("model_id", id.String())),
	)
	defer span.End()

	var n int
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		var err error
		if n, err = badger.DeletePrefix(txn, snapKeyPrefix(id)); err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return txn.Delete(metaKey(id))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return fmt.Errorf("delete archive: %w", err)
	}

	s.logger.Debug("archive deleted", slog.String("model_id", id.String()), slog.Int("snapshots", n))
	return nil
}
