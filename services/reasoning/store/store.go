// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides durable persistence for reasoning session traces.
//
// The store is the single source of truth for session state. It owns three
// invariants that callers must be able to rely on:
//
//  1. Per-session linearization: all writes to one session are serialized,
//     so concurrent writers (the session runner, the timeout sweep, admin
//     deletes) observe each other's effects in a total order.
//  2. Gapless history: H-iteration indices are 0..k-1 with no gaps, and
//     L-cycle indices are 0..n-1 within their iteration. Out-of-order
//     appends are rejected with ErrInvalidSequence.
//  3. Status legality: UpdateStatus funnels through the session state
//     machine, so an illegal edge (including a lost sweep-vs-runner race)
//     surfaces as session.ErrInvalidTransition. Resumption edges are only
//     reachable through Resume.
//
// Two implementations exist: BadgerStore (embedded BadgerDB, production)
// and MemoryStore (map-backed, tests and one-shot CLI runs).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/Denali/services/reasoning/session"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrDuplicateSession is returned by Create when the session ID exists.
	ErrDuplicateSession = errors.New("session already exists")

	// ErrUnknownSession is returned when the session ID is not in the store.
	ErrUnknownSession = errors.New("unknown session")

	// ErrInvalidSequence is returned when an appended record's index does
	// not continue the stored history gaplessly.
	ErrInvalidSequence = errors.New("record index breaks the stored sequence")

	// ErrSessionNotActive is returned when a trace append reaches a session
	// that is no longer ACTIVE. A runner that lost the timeout race sees
	// this on its next write and stands down.
	ErrSessionNotActive = errors.New("session is not active")

	// ErrStoreClosed is returned by all operations after Close.
	ErrStoreClosed = errors.New("store is closed")

	// ErrCorrupted is returned when a stored record fails its CRC check.
	ErrCorrupted = errors.New("store entry corrupted (CRC mismatch)")
)

// -----------------------------------------------------------------------------
// Store Interface
// -----------------------------------------------------------------------------

// StatusUpdate carries the session fields that change together with a
// status transition. Zero values are applied as-is; Converged is only
// meaningful when transitioning to a terminal status.
type StatusUpdate struct {
	// Converged records whether the run met the global threshold.
	Converged bool

	// ErrorKind and ErrorDetail classify the failure for ERROR transitions.
	ErrorKind   string
	ErrorDetail string
}

// Store persists session traces.
//
// Description:
//
//	All methods take the session ID rather than a session pointer: the
//	store loads, validates, mutates, and persists under its own
//	per-session lock, and hands back deep copies. Callers never share
//	memory with the store.
//
// Thread Safety: All implementations are safe for concurrent use.
type Store interface {
	// Create persists a new session record.
	//
	// Outputs:
	//   - error: ErrDuplicateSession if the ID exists.
	Create(ctx context.Context, s *session.Session) error

	// AppendHIteration appends a completed strategic iteration and updates
	// the session's running best result and overall confidence.
	//
	// The record's index must equal the count of stored iterations, and the
	// session must be ACTIVE. The record's Cycles field is ignored: an
	// iteration's cycle history is exactly the sequence previously appended
	// via AppendLCycle.
	//
	// Outputs:
	//   - error: ErrUnknownSession, ErrSessionNotActive, or ErrInvalidSequence.
	AppendHIteration(ctx context.Context, sessionID string, rec session.HIterationRecord) error

	// AppendLCycle appends a completed tactical cycle to the iteration in
	// progress. hIndex must equal the count of stored iterations (the cycle
	// belongs to the not-yet-appended iteration), and the record's index
	// must continue that iteration's cycle sequence.
	//
	// Outputs:
	//   - error: ErrUnknownSession, ErrSessionNotActive, or ErrInvalidSequence.
	AppendLCycle(ctx context.Context, sessionID string, hIndex int, rec session.LCycleRecord) error

	// UpdateStatus transitions the session through the state machine and
	// applies the accompanying field updates.
	//
	// Outputs:
	//   - error: ErrUnknownSession or session.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, sessionID string, to session.Status, upd StatusUpdate) error

	// Resume re-opens a COMPLETED or TIMEOUT session for further
	// iterations and returns the refreshed snapshot.
	//
	// Outputs:
	//   - *session.Session: Deep copy of the re-opened session.
	//   - error: ErrUnknownSession or session.ErrNotResumable.
	Resume(ctx context.Context, sessionID string) (*session.Session, error)

	// Touch bumps the session's last-activity timestamp.
	Touch(ctx context.Context, sessionID string) error

	// Load returns the full session including its iteration history.
	//
	// Outputs:
	//   - *session.Session: Deep copy. Safe to inspect without locks.
	//   - error: ErrUnknownSession if absent.
	Load(ctx context.Context, sessionID string) (*session.Session, error)

	// List returns session records without iteration history, optionally
	// filtered to the given statuses. No filter returns everything.
	// Use Load for the full trace of a specific session.
	List(ctx context.Context, statuses ...session.Status) ([]*session.Session, error)

	// Delete removes the session and its entire trace.
	//
	// Outputs:
	//   - error: ErrUnknownSession if absent.
	Delete(ctx context.Context, sessionID string) error

	// Prune deletes terminal sessions whose TerminalAt is before the
	// cutoff and returns how many were removed.
	Prune(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases resources. Subsequent calls return ErrStoreClosed.
	Close() error
}

// applyAppendHIteration mutates a loaded session for an iteration append.
// Shared by both implementations so the derived-field rule cannot drift:
// a qualifying iteration becomes the best result and sets the overall
// confidence; before any iteration qualifies, the overall confidence
// tracks the maximum seen.
func applyAppendHIteration(s *session.Session, rec session.HIterationRecord) {
	if rec.Confidence >= s.Config.MinConfidenceThreshold {
		s.BestResult = rec.Output
		s.OverallConfidence = rec.Confidence
	} else if s.BestResult == nil && rec.Confidence > s.OverallConfidence {
		s.OverallConfidence = rec.Confidence
	}
	s.Touch()
}

// applyStatusUpdate applies the transition side fields after a successful
// state machine transition.
func applyStatusUpdate(s *session.Session, to session.Status, upd StatusUpdate) {
	if to.IsTerminal() {
		s.Converged = upd.Converged
	}
	if to == session.StatusError {
		s.ErrorKind = upd.ErrorKind
		s.ErrorDetail = upd.ErrorDetail
	}
}
