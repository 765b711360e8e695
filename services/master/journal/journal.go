// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal persists the master's lineage image in BadgerDB.
//
// One key per dependency, value = CRC-framed JSON image record. A node's
// image is overwritten in place when the master checkpoints, so the journal
// always holds the latest snapshot of every node. On restart the journal is
// replayed in id order to rebuild the in-memory lineage DAG.
//
// Corruption is detected per record via a CRC32-Castagnoli checksum framed
// ahead of the payload. A corrupt record never prevents recovery of other
// records; whether it aborts startup is the caller's choice via SkipCorrupt.
package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"sync/atomic"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/tidefs/services/master/lineage"
	"github.com/AleutianAI/tidefs/services/master/storage/badger"
)

// Sentinel errors for journal operations.
var (
	// ErrJournalClosed is returned when operations are called on a closed
	// journal.
	ErrJournalClosed = errors.New("journal is closed")

	// ErrJournalCorrupted is returned when a stored record fails its
	// integrity check and SkipCorrupt is disabled.
	ErrJournalCorrupted = errors.New("journal record corrupted (CRC mismatch)")
)

var (
	appendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "master_lineage_journal_appends_total",
		Help: "Total image records appended to the lineage journal",
	})

	replayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "master_lineage_journal_replayed_total",
		Help: "Total image records successfully replayed from the lineage journal",
	})

	corruptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "master_lineage_journal_corrupt_total",
		Help: "Total corrupt records encountered during journal replay",
	})
)

// crcTable is the Castagnoli polynomial table used for record framing.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// keyPrefix scopes journal keys inside the shared master database.
const keyPrefix = "lineage/dep/"

// Config configures the lineage image journal.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required for persistent mode.
	Path string

	// InMemory uses in-memory BadgerDB (for testing).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// MUST be true in production; the journal is the only durable copy of
	// checkpoint progress.
	SyncWrites bool

	// SkipCorrupt continues replay past records that fail their CRC or
	// decode. Skipped records are logged and counted. Default: false
	// (fail fast; master startup aborts).
	SkipCorrupt bool

	// Logger for journal operations. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns production defaults for the given directory.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return errors.New("path is required for persistent journal")
	}
	return nil
}

// Journal is the BadgerDB-backed lineage image log.
//
// Thread Safety: Safe for concurrent use from multiple goroutines.
type Journal struct {
	db     *dgbadger.DB
	cfg    Config
	logger *slog.Logger
	closed atomic.Bool
}

// The journal is the registry's persistence backend.
var (
	_ lineage.ImageSink   = (*Journal)(nil)
	_ lineage.ImageSource = (*Journal)(nil)
)

// Open opens the journal with the given configuration.
//
// Outputs:
//
//	*Journal - The opened journal. Caller must Close() it.
//	error - Non-nil if the configuration is invalid or the database
//	        cannot open.
func Open(cfg Config) (*Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("journal config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := badger.Open(badger.Config{
		Path:       cfg.Path,
		InMemory:   cfg.InMemory,
		SyncWrites: cfg.SyncWrites,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	return &Journal{db: db, cfg: cfg, logger: cfg.Logger}, nil
}

// Append writes the image record for one dependency, overwriting any
// previous image of the same dependency.
//
// Description:
//
//	The record is framed as a 4-byte big-endian CRC32-Castagnoli checksum
//	followed by the JSON payload. With SyncWrites the record is durable
//	when Append returns.
//
// Outputs:
//
//	error - Non-nil if the journal is closed, the context is cancelled,
//	        or the write fails.
func (j *Journal) Append(ctx context.Context, rec lineage.ImageRecord) error {
	if j.closed.Load() {
		return ErrJournalClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append dep %d: %w", rec.DepID, err)
	}

	payload, err := lineage.EncodeImage(rec)
	if err != nil {
		return err
	}
	framed := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(framed[:4], crc32.Checksum(payload, crcTable))
	copy(framed[4:], payload)

	err = j.db.Update(func(txn *dgbadger.Txn) error {
		return txn.Set(key(rec.DepID), framed)
	})
	if err != nil {
		return fmt.Errorf("append dep %d: %w", rec.DepID, err)
	}
	appendsTotal.Inc()
	return nil
}

// Replay streams every stored image record to fn, in dependency-id order.
//
// Description:
//
//	Each record's CRC is verified and its payload decoded before delivery.
//	A corrupt or undecodable record either aborts the replay with
//	ErrJournalCorrupted (or the decode error), or, with SkipCorrupt, is
//	logged, counted, and skipped so the remaining records still recover.
//	An error returned by fn always aborts the replay.
func (j *Journal) Replay(ctx context.Context, fn func(rec lineage.ImageRecord) error) error {
	if j.closed.Load() {
		return ErrJournalClosed
	}

	return j.db.View(func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("replay: %w", err)
			}

			item := it.Item()
			rec, err := decodeItem(item)
			if err != nil {
				if j.cfg.SkipCorrupt {
					corruptTotal.Inc()
					j.logger.Warn("skipping corrupt journal record",
						slog.String("key", string(item.Key())),
						slog.String("error", err.Error()),
					)
					continue
				}
				return err
			}

			if err := fn(rec); err != nil {
				return err
			}
			replayedTotal.Inc()
		}
		return nil
	})
}

// decodeItem verifies and decodes one framed record.
func decodeItem(item *dgbadger.Item) (lineage.ImageRecord, error) {
	var rec lineage.ImageRecord
	err := item.Value(func(framed []byte) error {
		if len(framed) < 4 {
			return fmt.Errorf("%w: record %q shorter than CRC frame", ErrJournalCorrupted, item.Key())
		}
		stored := binary.BigEndian.Uint32(framed[:4])
		payload := framed[4:]
		if crc32.Checksum(payload, crcTable) != stored {
			return fmt.Errorf("%w: record %q", ErrJournalCorrupted, item.Key())
		}
		decoded, err := lineage.DecodeImage(payload)
		if err != nil {
			return err
		}
		rec = decoded
		return nil
	})
	return rec, err
}

// Close closes the journal's database. Safe to call multiple times.
func (j *Journal) Close() error {
	if j.closed.Swap(true) {
		return nil
	}
	return j.db.Close()
}

// key builds the journal key for a dependency id. Zero-padded hex keeps
// Badger's lexicographic key order identical to id order.
func key(depID int64) []byte {
	return []byte(fmt.Sprintf("%s%016x", keyPrefix, depID))
}
