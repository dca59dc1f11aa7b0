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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/Denali/services/reasoning/session"
)

// MemoryStore implements Store with plain maps. It honors the same
// contract as BadgerStore, including gapless-index enforcement and state
// machine legality, but offers no durability. Used by tests and one-shot
// CLI runs where nothing outlives the process.
//
// Thread Safety: Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	pending  map[string][]session.LCycleRecord
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*session.Session),
		pending:  make(map[string][]session.LCycleRecord),
	}
}

// Create persists a new session record.
func (m *MemoryStore) Create(ctx context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s: %w", s.ID, ErrDuplicateSession)
	}
	stored := s.Clone()
	stored.Iterations = nil
	m.sessions[s.ID] = stored
	return nil
}

// AppendHIteration appends a completed strategic iteration. The stored
// cycle history is taken from prior AppendLCycle calls, not the record.
func (m *MemoryStore) AppendHIteration(ctx context.Context, sessionID string, rec session.HIterationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrUnknownSession)
	}
	if s.Status != session.StatusActive {
		return fmt.Errorf("append h-iteration to session %s in status %s: %w",
			sessionID, s.Status, ErrSessionNotActive)
	}
	if rec.Index != len(s.Iterations) {
		return fmt.Errorf("append h-iteration to session %s: expected index %d, got %d: %w",
			sessionID, len(s.Iterations), rec.Index, ErrInvalidSequence)
	}

	stored := rec.Clone()
	stored.Cycles = m.pending[sessionID]
	delete(m.pending, sessionID)
	s.Iterations = append(s.Iterations, stored)
	applyAppendHIteration(s, stored)
	return nil
}

// AppendLCycle appends a completed tactical cycle to the in-progress
// iteration.
func (m *MemoryStore) AppendLCycle(ctx context.Context, sessionID string, hIndex int, rec session.LCycleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrUnknownSession)
	}
	if s.Status != session.StatusActive {
		return fmt.Errorf("append l-cycle to session %s in status %s: %w",
			sessionID, s.Status, ErrSessionNotActive)
	}
	if hIndex != len(s.Iterations) {
		return fmt.Errorf("append l-cycle to session %s: cycle targets iteration %d, in-progress iteration is %d: %w",
			sessionID, hIndex, len(s.Iterations), ErrInvalidSequence)
	}
	if rec.Index != len(m.pending[sessionID]) {
		return fmt.Errorf("append l-cycle to session %s iteration %d: expected cycle %d, got %d: %w",
			sessionID, hIndex, len(m.pending[sessionID]), rec.Index, ErrInvalidSequence)
	}

	m.pending[sessionID] = append(m.pending[sessionID], rec.Clone())
	s.Touch()
	return nil
}

// UpdateStatus transitions the session through the state machine.
func (m *MemoryStore) UpdateStatus(ctx context.Context, sessionID string, to session.Status, upd StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrUnknownSession)
	}
	if err := session.Transition(s, to); err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}
	applyStatusUpdate(s, to, upd)
	return nil
}

// Resume re-opens a COMPLETED or TIMEOUT session. Cycles from an
// interrupted iteration are discarded.
func (m *MemoryStore) Resume(ctx context.Context, sessionID string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrUnknownSession)
	}
	if err := session.Resume(s); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	delete(m.pending, sessionID)
	return s.Clone(), nil
}

// Touch bumps the session's last-activity timestamp.
func (m *MemoryStore) Touch(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrUnknownSession)
	}
	s.Touch()
	return nil
}

// Load returns the full session including its iteration history.
func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrUnknownSession)
	}
	return s.Clone(), nil
}

// List returns session records without iteration history, newest first.
func (m *MemoryStore) List(ctx context.Context, statuses ...session.Status) ([]*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	wanted := make(map[session.Status]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	var out []*session.Session
	for _, s := range m.sessions {
		if len(wanted) > 0 && !wanted[s.Status] {
			continue
		}
		core := s.Clone()
		core.Iterations = nil
		out = append(out, core)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out, nil
}

// Delete removes the session and its entire trace.
func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	if _, ok := m.sessions[sessionID]; !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrUnknownSession)
	}
	delete(m.sessions, sessionID)
	delete(m.pending, sessionID)
	return nil
}

// Prune deletes terminal sessions whose TerminalAt is before the cutoff.
func (m *MemoryStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStoreClosed
	}

	cutoff := olderThan.UnixMilli()
	n := 0
	for id, s := range m.sessions {
		if s.Status.IsTerminal() && s.TerminalAt > 0 && s.TerminalAt < cutoff {
			delete(m.sessions, id)
			delete(m.pending, id)
			n++
		}
	}
	return n, nil
}

// Close marks the store closed. Subsequent calls fail with ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.closed = true
	m.sessions = nil
	m.pending = nil
	return nil
}
