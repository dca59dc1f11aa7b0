// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session defines the reasoning session model: the session record,
// its per-iteration history, the status state machine, and the limit
// snapshot taken at session creation.
//
// A session is driven through exactly one lifecycle:
//
//	CREATED → ACTIVE → {COMPLETED, TIMEOUT, ERROR}
//
// with one sanctioned exception: refine_solution re-opens a COMPLETED or
// TIMEOUT session (never ERROR) and appends further iterations to the same
// history. Records are historical facts — once appended they are never
// mutated.
//
// Thread Safety:
//
//	Session and its records carry no internal locking. All mutation happens
//	under the trace store's per-session serialization; loaded copies are
//	independent snapshots.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Status
// -----------------------------------------------------------------------------

// Status represents a session's position in the lifecycle state machine.
type Status string

const (
	// StatusCreated is the in-memory state before the first store write.
	StatusCreated Status = "CREATED"

	// StatusActive indicates the strategic loop is (or should be) running.
	StatusActive Status = "ACTIVE"

	// StatusCompleted indicates the strategic loop terminated normally,
	// whether by global convergence or by exhausting the iteration cap.
	StatusCompleted Status = "COMPLETED"

	// StatusTimeout indicates the session exceeded its inactivity window
	// before the loop finished.
	StatusTimeout Status = "TIMEOUT"

	// StatusError indicates an unrecovered planning, refinement, or store
	// failure. ERROR sessions are never resumable.
	StatusError Status = "ERROR"
)

// String returns the status as a string (e.g., "ACTIVE").
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true for COMPLETED, TIMEOUT, and ERROR.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusTimeout || s == StatusError
}

// IsResumable returns true for the statuses refine_solution may re-open.
func (s Status) IsResumable() bool {
	return s == StatusCompleted || s == StatusTimeout
}

// AllStatuses returns all valid session statuses.
func AllStatuses() []Status {
	return []Status{
		StatusCreated,
		StatusActive,
		StatusCompleted,
		StatusTimeout,
		StatusError,
	}
}

// -----------------------------------------------------------------------------
// Operation
// -----------------------------------------------------------------------------

// Operation records which external operation created or re-opened a session.
type Operation string

const (
	// OpReason is a full dual-loop hierarchical reasoning run.
	OpReason Operation = "reason"

	// OpDecompose is a single planning pass with no tactical refinement.
	OpDecompose Operation = "decompose"

	// OpRefine is a resumption run seeded from a prior best result.
	OpRefine Operation = "refine"
)

// -----------------------------------------------------------------------------
// Limits
// -----------------------------------------------------------------------------

// Limits is the per-session configuration snapshot. It is fixed at session
// creation (after merging any per-request overrides) and never changes for
// the session's lifetime; a resumed session keeps its original snapshot
// except for the fresh iteration budget supplied to the resumption run.
type Limits struct {
	// MaxIterations caps the strategic (H) loop. Must be >= 1.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// MinConfidenceThreshold is the bar an H-iteration's output must reach
	// to become the session's current best result. Range [0,1].
	MinConfidenceThreshold float64 `json:"min_confidence_threshold" yaml:"min_confidence_threshold"`

	// MaxCyclesPerH caps the tactical (L) loop within one H-iteration.
	MaxCyclesPerH int `json:"max_cycles_per_h" yaml:"max_cycles_per_h"`

	// MinCyclesPerH is the absolute floor of tactical cycles before local
	// convergence may be reported. 1 <= MinCyclesPerH <= MaxCyclesPerH.
	MinCyclesPerH int `json:"min_cycles_per_h" yaml:"min_cycles_per_h"`

	// GlobalThreshold is the overall-confidence bar for terminating the
	// whole session successfully. Range [0,1].
	GlobalThreshold float64 `json:"global_threshold" yaml:"global_threshold"`

	// StabilityEpsilon is the per-cycle confidence delta below which the
	// tactical loop is considered locally stable. Must be > 0.
	StabilityEpsilon float64 `json:"stability_epsilon" yaml:"stability_epsilon"`
}

// Validate checks all limit ranges and cross-field constraints.
//
// Outputs:
//
//	error - Non-nil with a field-specific message on the first violation.
func (l Limits) Validate() error {
	if l.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", l.MaxIterations)
	}
	if l.MinConfidenceThreshold < 0 || l.MinConfidenceThreshold > 1 {
		return fmt.Errorf("min_confidence_threshold must be in [0,1], got %g", l.MinConfidenceThreshold)
	}
	if l.MinCyclesPerH < 1 {
		return fmt.Errorf("min_cycles_per_h must be >= 1, got %d", l.MinCyclesPerH)
	}
	if l.MaxCyclesPerH < l.MinCyclesPerH {
		return fmt.Errorf("max_cycles_per_h (%d) must be >= min_cycles_per_h (%d)",
			l.MaxCyclesPerH, l.MinCyclesPerH)
	}
	if l.GlobalThreshold < 0 || l.GlobalThreshold > 1 {
		return fmt.Errorf("global_threshold must be in [0,1], got %g", l.GlobalThreshold)
	}
	if l.StabilityEpsilon <= 0 {
		return fmt.Errorf("stability_epsilon must be > 0, got %g", l.StabilityEpsilon)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Records
// -----------------------------------------------------------------------------

// LCycleRecord is one completed tactical cycle within an H-iteration.
// Records are append-only; they are never mutated after being persisted.
type LCycleRecord struct {
	// Index is the 0-based position within the parent H-iteration.
	Index int `json:"index"`

	// Output is the cycle's candidate result. Opaque payload.
	Output json.RawMessage `json:"output"`

	// Confidence is the refinement function's confidence for this cycle.
	Confidence float64 `json:"confidence"`

	// Delta is the confidence change versus the previous cycle.
	// Nil for cycle 0, where no previous cycle exists.
	Delta *float64 `json:"delta,omitempty"`
}

// HIterationRecord is one completed strategic iteration.
type HIterationRecord struct {
	// Index is the 0-based position within the session, strictly
	// increasing and gapless across resumptions.
	Index int `json:"index"`

	// Directive is the planning function's strategic output. Opaque payload.
	Directive json.RawMessage `json:"directive"`

	// Output is the tactical result the iteration ended with. Opaque payload.
	Output json.RawMessage `json:"output"`

	// Confidence is the tactical confidence of the final cycle.
	Confidence float64 `json:"confidence"`

	// Cycles is the ordered tactical history of this iteration.
	Cycles []LCycleRecord `json:"cycles"`

	// LocalConverged is true when the tactical loop stopped on the delta
	// criterion strictly before exhausting its cycle budget.
	LocalConverged bool `json:"local_converged"`

	// TriggeredGlobal is true when this iteration's global check reported
	// convergence (overall confidence reached the global threshold).
	TriggeredGlobal bool `json:"triggered_global"`

	// StartedAt and CompletedAt are Unix milliseconds UTC.
	StartedAt   int64 `json:"started_at"`
	CompletedAt int64 `json:"completed_at"`
}

// -----------------------------------------------------------------------------
// Session
// -----------------------------------------------------------------------------

// Session is the unit of reasoning work. The orchestrator exclusively owns
// mutation; everything else sees loaded snapshots.
type Session struct {
	// ID uniquely identifies the session.
	ID string `json:"session_id"`

	// Status is the session's state machine position.
	Status Status `json:"status"`

	// Operation is the external operation that created the session.
	Operation Operation `json:"operation"`

	// Task is the original task payload. Opaque.
	Task json.RawMessage `json:"task"`

	// Config is the immutable limit snapshot taken at creation.
	Config Limits `json:"config"`

	// BestResult is the most recent iteration output that met
	// MinConfidenceThreshold. Nil until one qualifies.
	BestResult json.RawMessage `json:"best_result,omitempty"`

	// OverallConfidence is the running session-level confidence: the
	// confidence of the most recent qualifying iteration, else the maximum
	// seen so far.
	OverallConfidence float64 `json:"overall_confidence"`

	// Converged reports whether the session terminated by meeting the
	// global threshold. Meaningful once Status is terminal.
	Converged bool `json:"converged"`

	// Iterations is the ordered, gapless strategic history.
	Iterations []HIterationRecord `json:"iterations"`

	// ErrorKind and ErrorDetail describe the failure for ERROR sessions.
	ErrorKind   string `json:"error_kind,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`

	// CreatedAt, LastActivityAt, and TerminalAt are Unix milliseconds UTC.
	// TerminalAt is zero until the session reaches a terminal status and is
	// cleared again on resumption.
	CreatedAt      int64 `json:"created_at"`
	LastActivityAt int64 `json:"last_activity_at"`
	TerminalAt     int64 `json:"terminal_at,omitempty"`
}

// New creates a CREATED session with a fresh UUID and the given snapshot.
//
// Inputs:
//
//	op - The external operation creating the session.
//	task - The task payload. Stored verbatim, never inspected.
//	limits - The validated limit snapshot.
//
// Outputs:
//
//	*Session - The new session. Never nil.
func New(op Operation, task json.RawMessage, limits Limits) *Session {
	now := time.Now().UnixMilli()
	return &Session{
		ID:             uuid.NewString(),
		Status:         StatusCreated,
		Operation:      op,
		Task:           task,
		Config:         limits,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Touch updates the last-activity timestamp to now.
func (s *Session) Touch() {
	s.LastActivityAt = time.Now().UnixMilli()
}

// NextIterationIndex returns the index the next appended H-iteration must
// carry. History is gapless, so this is simply the current length.
func (s *Session) NextIterationIndex() int {
	return len(s.Iterations)
}

// LastIteration returns the most recent H-iteration, or nil when the
// session has no history yet.
func (s *Session) LastIteration() *HIterationRecord {
	if len(s.Iterations) == 0 {
		return nil
	}
	return &s.Iterations[len(s.Iterations)-1]
}

// IdleSince returns how long the session has been without activity.
func (s *Session) IdleSince(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.LastActivityAt))
}

// Expired reports whether the session's inactivity window has been
// exceeded. Only ACTIVE sessions can expire.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	return s.Status == StatusActive && s.IdleSince(now) > timeout
}

// TotalCycles returns the number of tactical cycles across all iterations.
func (s *Session) TotalCycles() int {
	n := 0
	for i := range s.Iterations {
		n += len(s.Iterations[i].Cycles)
	}
	return n
}

// cloneRaw returns an independent copy of an opaque payload.
func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}

// Clone returns an independent copy of the cycle record.
func (r LCycleRecord) Clone() LCycleRecord {
	out := r
	out.Output = cloneRaw(r.Output)
	if r.Delta != nil {
		d := *r.Delta
		out.Delta = &d
	}
	return out
}

// Clone returns an independent copy of the iteration record, cycles included.
func (r HIterationRecord) Clone() HIterationRecord {
	out := r
	out.Directive = cloneRaw(r.Directive)
	out.Output = cloneRaw(r.Output)
	if r.Cycles != nil {
		out.Cycles = make([]LCycleRecord, len(r.Cycles))
		for i := range r.Cycles {
			out.Cycles[i] = r.Cycles[i].Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the session. Used by stores to hand out
// snapshots that callers may inspect without holding any lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Task = cloneRaw(s.Task)
	out.BestResult = cloneRaw(s.BestResult)
	if s.Iterations != nil {
		out.Iterations = make([]HIterationRecord, len(s.Iterations))
		for i := range s.Iterations {
			out.Iterations[i] = s.Iterations[i].Clone()
		}
	}
	return &out
}
