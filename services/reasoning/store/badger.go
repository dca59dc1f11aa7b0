// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"

	storagebadger "github.com/AleutianAI/Denali/services/reasoning/storage/badger"
	"github.com/AleutianAI/Denali/services/reasoning/session"
)

// schemaVersion is written to meta:schema on first open. Opening a store
// whose recorded major version differs is refused rather than misread.
const schemaVersion = "v1.0.0"

// pruneParallelism bounds concurrent session deletions during Prune.
const pruneParallelism = 4

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// BadgerConfig configures the BadgerDB-backed store.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory uses in-memory BadgerDB (testing, one-shot CLI runs).
	InMemory bool

	// SyncWrites enables synchronous writes. Must be true when the store
	// is the only durable copy of session traces.
	SyncWrites bool

	// GCInterval is how often to run BadgerDB value log GC.
	// Default: 5 minutes. Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio before GC rewrites.
	GCDiscardRatio float64

	// MinFreeBytes refuses to open when the filesystem holding Path has
	// less free space than this. 0 disables the check. Not checked on
	// platforms without statfs support.
	MinFreeBytes int64

	// Logger for store operations. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults: synchronous writes,
// periodic GC, and a 128 MiB free-space floor.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
		MinFreeBytes:   128 << 20,
	}
}

// InMemoryBadgerConfig returns a configuration for tests: in-memory,
// no sync, no GC.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// -----------------------------------------------------------------------------
// BadgerStore
// -----------------------------------------------------------------------------

// BadgerStore implements Store on embedded BadgerDB.
//
// Description:
//
//	Each session is stored as a core record plus one key per H-iteration
//	and per L-cycle (see codec.go for the layout). A per-session mutex
//	serializes writers; BadgerDB transactions make each multi-key write
//	atomic.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db     *storagebadger.DB
	logger *slog.Logger
	closed atomic.Bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBadgerStore opens (or creates) a trace store.
//
// Inputs:
//
//	cfg - Store configuration.
//
// Outputs:
//
//	*BadgerStore - Ready-to-use store. Call Close() when done.
//	error - Non-nil on invalid config, insufficient disk space, schema
//	        mismatch, or BadgerDB failure.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With(slog.String("component", "store"))

	if !cfg.InMemory && cfg.MinFreeBytes > 0 {
		avail, err := availableDiskSpace(cfg.Path)
		if err != nil {
			logger.Warn("disk space preflight failed, continuing",
				slog.String("path", cfg.Path),
				slog.String("error", err.Error()))
		} else if avail >= 0 && avail < cfg.MinFreeBytes {
			return nil, fmt.Errorf("insufficient disk space for store at %s: %d bytes available, %d required",
				cfg.Path, avail, cfg.MinFreeBytes)
		}
	}

	db, err := storagebadger.OpenDB(storagebadger.Config{
		Path:              cfg.Path,
		InMemory:          cfg.InMemory,
		SyncWrites:        cfg.SyncWrites,
		NumVersionsToKeep: 1,
		GCInterval:        cfg.GCInterval,
		GCDiscardRatio:    cfg.GCDiscardRatio,
		Logger:            cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}

	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("trace store opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
		slog.String("schema", schemaVersion))

	return s, nil
}

// ensureSchema writes the schema marker on first open and refuses to open
// a store written by an incompatible major version.
func (b *BadgerStore) ensureSchema() error {
	return b.db.WithTxn(context.Background(), func(txn *dgbadger.Txn) error {
		item, err := txn.Get([]byte(metaSchemaKey))
		if err == dgbadger.ErrKeyNotFound {
			return txn.Set([]byte(metaSchemaKey), []byte(schemaVersion))
		}
		if err != nil {
			return fmt.Errorf("read schema marker: %w", err)
		}

		var stored string
		if err := item.Value(func(val []byte) error {
			stored = string(val)
			return nil
		}); err != nil {
			return fmt.Errorf("read schema marker: %w", err)
		}

		if !semver.IsValid(stored) {
			return fmt.Errorf("corrupt schema marker %q", stored)
		}
		if semver.Major(stored) != semver.Major(schemaVersion) {
			return fmt.Errorf("incompatible store schema %s (this build writes %s)", stored, schemaVersion)
		}
		return nil
	})
}

// sessionLock returns the mutex serializing writes to one session.
func (b *BadgerStore) sessionLock(id string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[id]
	if !ok {
		l = &sync.Mutex{}
		b.locks[id] = l
	}
	return l
}

// -----------------------------------------------------------------------------
// Transaction helpers
// -----------------------------------------------------------------------------

// loadCore reads the session record without its iteration history.
func loadCore(txn *dgbadger.Txn, id string) (*session.Session, error) {
	item, err := txn.Get(sessionKey(id))
	if err == dgbadger.ErrKeyNotFound {
		return nil, fmt.Errorf("session %s: %w", id, ErrUnknownSession)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	var s session.Session
	if err := item.Value(func(val []byte) error {
		return decodeRecord(val, &s)
	}); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

// storeCore writes the session record, iteration history stripped.
func storeCore(txn *dgbadger.Txn, s *session.Session) error {
	core := s.Clone()
	core.Iterations = nil
	data, err := encodeRecord(core)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return txn.Set(sessionKey(s.ID), data)
}

// lastIndexForPrefix returns the highest index stored under the prefix.
// Gaplessness makes the highest key sufficient; no full scan is needed.
func lastIndexForPrefix(txn *dgbadger.Txn, prefix []byte) (int, bool) {
	opts := dgbadger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = true

	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(keyCeil(prefix))
	if !it.ValidForPrefix(prefix) {
		return 0, false
	}
	return parseTrailingIndex(it.Item().Key(), prefix)
}

// storedIterationCount returns how many H-iterations the session has.
func storedIterationCount(txn *dgbadger.Txn, id string) int {
	last, ok := lastIndexForPrefix(txn, hitPrefix(id))
	if !ok {
		return 0
	}
	return last + 1
}

// loadFull assembles the complete session from its core, iteration, and
// cycle records. Cycles recorded by an iteration that never completed
// (crash or timeout mid-iteration) are not part of the assembled history.
func loadFull(txn *dgbadger.Txn, id string) (*session.Session, error) {
	s, err := loadCore(txn, id)
	if err != nil {
		return nil, err
	}

	opts := dgbadger.DefaultIteratorOptions
	opts.PrefetchValues = true

	// H-iterations, in index order.
	hPrefix := hitPrefix(id)
	it := txn.NewIterator(opts)
	for it.Seek(hPrefix); it.ValidForPrefix(hPrefix); it.Next() {
		var rec session.HIterationRecord
		if err := it.Item().Value(func(val []byte) error {
			return decodeRecord(val, &rec)
		}); err != nil {
			it.Close()
			return nil, fmt.Errorf("decode iteration for session %s: %w", id, err)
		}
		s.Iterations = append(s.Iterations, rec)
	}
	it.Close()

	// L-cycles, grouped under their parent iteration.
	cPrefix := lcyPrefix(id)
	it = txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(cPrefix); it.ValidForPrefix(cPrefix); it.Next() {
		h, ok := parseTrailingIndex(it.Item().Key(), cPrefix)
		if !ok || h >= len(s.Iterations) {
			continue
		}
		var rec session.LCycleRecord
		if err := it.Item().Value(func(val []byte) error {
			return decodeRecord(val, &rec)
		}); err != nil {
			return nil, fmt.Errorf("decode cycle for session %s: %w", id, err)
		}
		s.Iterations[h].Cycles = append(s.Iterations[h].Cycles, rec)
	}

	return s, nil
}

// deleteSessionKeys removes the session core and its entire trace.
func deleteSessionKeys(txn *dgbadger.Txn, id string) error {
	var keys [][]byte

	opts := dgbadger.DefaultIteratorOptions
	opts.PrefetchValues = false

	for _, prefix := range [][]byte{hitPrefix(id), lcyPrefix(id)} {
		it := txn.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
	}
	keys = append(keys, sessionKey(id))

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Store implementation
// -----------------------------------------------------------------------------

// Create persists a new session record.
func (b *BadgerStore) Create(ctx context.Context, s *session.Session) error {
	if b.closed.Load() {
		return ErrStoreClosed
	}

	ctx, span := otel.Tracer("store").Start(ctx, "store.Create")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", s.ID))

	lock := b.sessionLock(s.ID)
	lock.Lock()
	defer lock.Unlock()

	err := b.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		_, err := txn.Get(sessionKey(s.ID))
		if err == nil {
			return fmt.Errorf("session %s: %w", s.ID, ErrDuplicateSession)
		}
		if err != dgbadger.ErrKeyNotFound {
			return fmt.Errorf("get session %s: %w", s.ID, err)
		}
		return storeCore(txn, s)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return err
	}

	b.logger.Debug("session created",
		slog.String("session_id", s.ID),
		slog.String("operation", string(s.Operation)))
	return nil
}

// AppendHIteration appends a completed strategic iteration.
func (b *BadgerStore) AppendHIteration(ctx context.Context, sessionID string, rec session.HIterationRecord) error {
	if b.closed.Load() {
		return ErrStoreClosed
	}

	ctx, span := otel.Tracer("store").Start(ctx, "store.AppendHIteration")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("h_index", rec.Index),
	)

	lock := b.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	err := b.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		core, err := loadCore(txn, sessionID)
		if err != nil {
			return err
		}
		if core.Status != session.StatusActive {
			return fmt.Errorf("append h-iteration to session %s in status %s: %w",
				sessionID, core.Status, ErrSessionNotActive)
		}

		expected := storedIterationCount(txn, sessionID)
		if rec.Index != expected {
			return fmt.Errorf("append h-iteration to session %s: expected index %d, got %d: %w",
				sessionID, expected, rec.Index, ErrInvalidSequence)
		}

		stored := rec.Clone()
		stored.Cycles = nil
		data, err := encodeRecord(&stored)
		if err != nil {
			return fmt.Errorf("encode iteration: %w", err)
		}
		if err := txn.Set(hitKey(sessionID, rec.Index), data); err != nil {
			return err
		}

		applyAppendHIteration(core, rec)
		return storeCore(txn, core)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return err
	}

	b.logger.Debug("h-iteration appended",
		slog.String("session_id", sessionID),
		slog.Int("index", rec.Index),
		slog.Float64("confidence", rec.Confidence))
	return nil
}

// AppendLCycle appends a completed tactical cycle to the in-progress
// iteration.
func (b *BadgerStore) AppendLCycle(ctx context.Context, sessionID string, hIndex int, rec session.LCycleRecord) error {
	if b.closed.Load() {
		return ErrStoreClosed
	}

	ctx, span := otel.Tracer("store").Start(ctx, "store.AppendLCycle")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("h_index", hIndex),
		attribute.Int("cycle_index", rec.Index),
	)

	lock := b.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	err := b.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		core, err := loadCore(txn, sessionID)
		if err != nil {
			return err
		}
		if core.Status != session.StatusActive {
			return fmt.Errorf("append l-cycle to session %s in status %s: %w",
				sessionID, core.Status, ErrSessionNotActive)
		}

		inProgress := storedIterationCount(txn, sessionID)
		if hIndex != inProgress {
			return fmt.Errorf("append l-cycle to session %s: cycle targets iteration %d, in-progress iteration is %d: %w",
				sessionID, hIndex, inProgress, ErrInvalidSequence)
		}

		expected := 0
		if last, ok := lastIndexForPrefix(txn, lcyIterPrefix(sessionID, hIndex)); ok {
			expected = last + 1
		}
		if rec.Index != expected {
			return fmt.Errorf("append l-cycle to session %s iteration %d: expected cycle %d, got %d: %w",
				sessionID, hIndex, expected, rec.Index, ErrInvalidSequence)
		}

		data, err := encodeRecord(&rec)
		if err != nil {
			return fmt.Errorf("encode cycle: %w", err)
		}
		if err := txn.Set(lcyKey(sessionID, hIndex, rec.Index), data); err != nil {
			return err
		}

		core.Touch()
		return storeCore(txn, core)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return err
	}

	b.logger.Debug("l-cycle appended",
		slog.String("session_id", sessionID),
		slog.Int("h_index", hIndex),
		slog.Int("cycle_index", rec.Index))
	return nil
}

// UpdateStatus transitions the session through the state machine.
func (b *BadgerStore) UpdateStatus(ctx context.Context, sessionID string, to session.Status, upd StatusUpdate) error {
	if b.closed.Load() {
		return ErrStoreClosed
	}

	ctx, span := otel.Tracer("store").Start(ctx, "store.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("to_status", to.String()),
	)

	lock := b.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	var from session.Status
	err := b.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		core, err := loadCore(txn, sessionID)
		if err != nil {
			return err
		}
		from = core.Status

		if err := session.Transition(core, to); err != nil {
			return fmt.Errorf("session %s: %w", sessionID, err)
		}
		applyStatusUpdate(core, to, upd)
		return storeCore(txn, core)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition refused")
		return err
	}

	b.logger.Info("session status updated",
		slog.String("session_id", sessionID),
		slog.String("from", from.String()),
		slog.String("to", to.String()))
	return nil
}

// Resume re-opens a COMPLETED or TIMEOUT session. Cycles recorded by an
// iteration that never completed are discarded so the resumed run starts
// a clean iteration at the next gapless index.
func (b *BadgerStore) Resume(ctx context.Context, sessionID string) (*session.Session, error) {
	if b.closed.Load() {
		return nil, ErrStoreClosed
	}

	ctx, span := otel.Tracer("store").Start(ctx, "store.Resume")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	lock := b.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	var resumed *session.Session
	err := b.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		core, err := loadCore(txn, sessionID)
		if err != nil {
			return err
		}

		if err := session.Resume(core); err != nil {
			return fmt.Errorf("session %s: %w", sessionID, err)
		}

		// Drop orphan cycles from an interrupted iteration.
		orphanPrefix := lcyIterPrefix(sessionID, storedIterationCount(txn, sessionID))
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var orphans [][]byte
		for it.Seek(orphanPrefix); it.ValidForPrefix(orphanPrefix); it.Next() {
			orphans = append(orphans, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range orphans {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		if err := storeCore(txn, core); err != nil {
			return err
		}

		resumed, err = loadFull(txn, sessionID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resume refused")
		return nil, err
	}

	b.logger.Info("session resumed",
		slog.String("session_id", sessionID),
		slog.Int("iterations", len(resumed.Iterations)))
	return resumed, nil
}

// Touch bumps the session's last-activity timestamp.
func (b *BadgerStore) Touch(ctx context.Context, sessionID string) error {
	if b.closed.Load() {
		return ErrStoreClosed
	}

	lock := b.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return b.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		core, err := loadCore(txn, sessionID)
		if err != nil {
			return err
		}
		core.Touch()
		return storeCore(txn, core)
	})
}

// Load returns the full session including its iteration history.
func (b *BadgerStore) Load(ctx context.Context, sessionID string) (*session.Session, error) {
	if b.closed.Load() {
		return nil, ErrStoreClosed
	}

	ctx, span := otel.Tracer("store").Start(ctx, "store.Load")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	var s *session.Session
	err := b.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		var err error
		s, err = loadFull(txn, sessionID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return s, nil
}

// List returns session records without iteration history, newest first.
func (b *BadgerStore) List(ctx context.Context, statuses ...session.Status) ([]*session.Session, error) {
	if b.closed.Load() {
		return nil, ErrStoreClosed
	}

	ctx, span := otel.Tracer("store").Start(ctx, "store.List")
	defer span.End()

	wanted := make(map[session.Status]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	var out []*session.Session
	err := b.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		prefix := sessionKeyPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var s session.Session
			if err := it.Item().Value(func(val []byte) error {
				return decodeRecord(val, &s)
			}); err != nil {
				return fmt.Errorf("decode session %s: %w", it.Item().Key(), err)
			}
			if len(wanted) > 0 && !wanted[s.Status] {
				continue
			}
			out = append(out, &s)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})

	span.SetAttributes(attribute.Int("count", len(out)))
	return out, nil
}

// Delete removes the session and its entire trace.
func (b *BadgerStore) Delete(ctx context.Context, sessionID string) error {
	if b.closed.Load() {
		return ErrStoreClosed
	}

	ctx, span := otel.Tracer("store").Start(ctx, "store.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	lock := b.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	err := b.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		if _, err := loadCore(txn, sessionID); err != nil {
			return err
		}
		return deleteSessionKeys(txn, sessionID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return err
	}

	// Late writers still holding the old mutex fail on ErrUnknownSession
	// inside their transaction.
	b.mu.Lock()
	delete(b.locks, sessionID)
	b.mu.Unlock()

	b.logger.Info("session deleted", slog.String("session_id", sessionID))
	return nil
}

// Prune deletes terminal sessions whose TerminalAt is before the cutoff.
func (b *BadgerStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	if b.closed.Load() {
		return 0, ErrStoreClosed
	}

	ctx, span := otel.Tracer("store").Start(ctx, "store.Prune")
	defer span.End()

	cutoff := olderThan.UnixMilli()
	var ids []string
	err := b.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		prefix := sessionKeyPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var s session.Session
			if err := it.Item().Value(func(val []byte) error {
				return decodeRecord(val, &s)
			}); err != nil {
				return err
			}
			if s.Status.IsTerminal() && s.TerminalAt > 0 && s.TerminalAt < cutoff {
				ids = append(ids, s.ID)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	var pruned atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(pruneParallelism)
	for _, id := range ids {
		g.Go(func() error {
			if err := b.Delete(gCtx, id); err != nil {
				if errors.Is(err, ErrUnknownSession) {
					return nil
				}
				return err
			}
			pruned.Add(1)
			return nil
		})
	}
	err = g.Wait()

	span.SetAttributes(attribute.Int("pruned", int(pruned.Load())))
	if pruned.Load() > 0 {
		b.logger.Info("retention prune completed",
			slog.Int64("pruned", pruned.Load()),
			slog.Int("candidates", len(ids)))
	}
	return int(pruned.Load()), err
}

// Close stops background GC and closes the database.
func (b *BadgerStore) Close() error {
	if b.closed.Swap(true) {
		return ErrStoreClosed
	}
	b.logger.Info("closing trace store")
	return b.db.Close()
}
