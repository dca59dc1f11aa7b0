// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine orchestrates reasoning sessions. It owns the concurrency
// cap, drives the strategic and tactical loops against the planner and
// refiner collaborators, persists every step through the trace store, and
// serves the read-only analysis and admin operations on top of it.
//
// One call, one runner: Reason, Decompose, and Refine drive their session
// to a terminal status in the calling goroutine. The background timeout
// sweep may race a live runner; both settle the race through the store's
// per-session serialization, and the loser stands down.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/Denali/services/reasoning/events"
	"github.com/AleutianAI/Denali/services/reasoning/observability"
	"github.com/AleutianAI/Denali/services/reasoning/planner"
	"github.com/AleutianAI/Denali/services/reasoning/session"
	"github.com/AleutianAI/Denali/services/reasoning/store"
)

// =============================================================================
// Construction
// =============================================================================

// Options configures an Engine.
type Options struct {
	// Store persists session traces. Required.
	Store store.Store

	// Planner produces strategic directives. Required.
	Planner planner.Planner

	// Refiner produces tactical outputs. Required.
	Refiner planner.Refiner

	// Emitter broadcasts run events. A private emitter is created when
	// nil.
	Emitter *events.Emitter

	// Logger receives engine operation logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Defaults is the limit snapshot applied to new sessions before
	// per-request overrides.
	Defaults session.Limits

	// SessionTimeout is the wall-clock budget for a single run, and the
	// inactivity window after which the sweep retires an ACTIVE session.
	SessionTimeout time.Duration

	// MaxConcurrentSessions caps simultaneously running sessions.
	MaxConcurrentSessions int
}

// Engine runs reasoning sessions against a store and a pair of
// collaborators.
//
// Thread Safety: Safe for concurrent use. Each call runs its own session;
// shared state is limited to the store, the emitter, and the slot
// semaphore.
type Engine struct {
	store   store.Store
	planner planner.Planner
	refiner planner.Refiner
	emitter *events.Emitter
	logger  *slog.Logger

	defaults session.Limits
	timeout  time.Duration

	slots    *semaphore.Weighted
	capacity int64
}

// New creates an Engine.
//
// Inputs:
//
//	opts - Engine configuration. Store, Planner, and Refiner are
//	       required; Defaults must pass session.Limits validation.
//
// Outputs:
//
//	*Engine: Ready to serve operations.
//	error: Describes the first invalid option.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if opts.Planner == nil {
		return nil, fmt.Errorf("engine: planner is required")
	}
	if opts.Refiner == nil {
		return nil, fmt.Errorf("engine: refiner is required")
	}
	if err := opts.Defaults.Validate(); err != nil {
		return nil, fmt.Errorf("engine: default limits: %w", err)
	}
	if opts.SessionTimeout <= 0 {
		return nil, fmt.Errorf("engine: session timeout must be positive, got %s", opts.SessionTimeout)
	}
	if opts.MaxConcurrentSessions < 1 {
		return nil, fmt.Errorf("engine: max concurrent sessions must be at least 1, got %d", opts.MaxConcurrentSessions)
	}

	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:    opts.Store,
		planner:  opts.Planner,
		refiner:  opts.Refiner,
		emitter:  emitter,
		logger:   logger,
		defaults: opts.Defaults,
		timeout:  opts.SessionTimeout,
		slots:    semaphore.NewWeighted(int64(opts.MaxConcurrentSessions)),
		capacity: int64(opts.MaxConcurrentSessions),
	}, nil
}

// Events exposes the emitter so subscribers (the websocket handler, the
// export pipelines) can follow runs.
func (e *Engine) Events() *events.Emitter {
	return e.emitter
}

// =============================================================================
// Requests
// =============================================================================

// LimitOverrides carries the per-request limit fields a caller may change.
// Nil fields keep the engine defaults. The merged result must pass
// session.Limits validation.
type LimitOverrides struct {
	MaxIterations          *int     `json:"max_iterations,omitempty"`
	MinConfidenceThreshold *float64 `json:"min_confidence_threshold,omitempty"`
	MaxCyclesPerH          *int     `json:"max_cycles_per_h,omitempty"`
	MinCyclesPerH          *int     `json:"min_cycles_per_h,omitempty"`
	GlobalThreshold        *float64 `json:"global_threshold,omitempty"`
	StabilityEpsilon       *float64 `json:"stability_epsilon,omitempty"`
}

// ReasonRequest starts a full dual-loop reasoning run.
type ReasonRequest struct {
	// Task is the opaque task payload handed to the collaborators.
	Task json.RawMessage `json:"task"`

	// Limits overrides the engine's default limit snapshot.
	Limits *LimitOverrides `json:"limits,omitempty"`
}

// DecomposeRequest asks for a single-pass task decomposition.
type DecomposeRequest struct {
	// Task is the opaque task payload handed to the planner.
	Task json.RawMessage `json:"task"`
}

// RefineRequest resumes a finished session for further iterations.
type RefineRequest struct {
	// SessionID names the COMPLETED or TIMEOUT session to resume.
	SessionID string `json:"session_id"`

	// Goals optionally steer the resumed run. They wrap the stored task
	// payload for the collaborators; the stored task itself is unchanged.
	Goals []string `json:"goals,omitempty"`

	// MaxIterations is the fresh iteration budget for the resumed run.
	// Defaults to the session's own MaxIterations snapshot.
	MaxIterations *int `json:"max_iterations,omitempty"`
}

// =============================================================================
// Run Operations
// =============================================================================

// Reason runs a task through the full strategic/tactical loop to a
// terminal status.
//
// Description:
//
//	The session is created ACTIVE, iterated until global convergence or
//	budget exhaustion, and finished as COMPLETED, TIMEOUT, or ERROR. The
//	terminal snapshot is returned with a nil error even when the run
//	ended in ERROR: once a run is accepted, failures live in the session
//	record. A non-nil error means the request was rejected up front
//	(validation, capacity) or the caller's context ended mid-run.
//
// Inputs:
//
//	ctx - Cancels the run. A canceled run leaves the session ACTIVE for
//	      the timeout sweep to retire.
//	req - Task payload plus optional limit overrides.
//
// Outputs:
//
//	*session.Session: Terminal session snapshot including the full trace.
//	error: ErrValidation, ErrCapacityExceeded, or a context/store error.
func (e *Engine) Reason(ctx context.Context, req ReasonRequest) (*session.Session, error) {
	if err := validateTask(req.Task); err != nil {
		return nil, err
	}
	limits, err := e.mergeLimits(req.Limits)
	if err != nil {
		return nil, err
	}

	if !e.slots.TryAcquire(1) {
		observability.RecordCapacityRejection()
		return nil, fmt.Errorf("%w: %d sessions already running", ErrCapacityExceeded, e.capacity)
	}
	defer e.slots.Release(1)

	sess := session.New(session.OpReason, req.Task, limits)
	if err := session.Transition(sess, session.StatusActive); err != nil {
		return nil, fmt.Errorf("activate session: %w", err)
	}
	if err := e.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	e.logger.Info("session started",
		"session_id", sess.ID,
		"operation", string(sess.Operation),
		"max_iterations", limits.MaxIterations,
	)
	observability.RecordSessionStart(string(session.OpReason))
	e.emitter.Emit(events.TypeSessionStart, sess.ID, events.SessionStartData{
		Operation:     string(sess.Operation),
		MaxIterations: limits.MaxIterations,
	})

	r := &runner{
		eng:     e,
		sess:    sess,
		limits:  limits,
		task:    req.Task,
		op:      string(session.OpReason),
		started: time.Now(),
	}
	r.deadline = r.started.Add(e.timeout)
	return r.run(ctx)
}

// Decompose runs a single planning pass and persists it as a completed
// one-iteration session.
//
// Description:
//
//	No tactical cycles run. The planner's directive is stored as both
//	the iteration's directive and its output, so the decomposition is
//	retrievable through the normal session trace.
//
// Outputs:
//
//	*session.Session: COMPLETED session whose sole iteration holds the
//	                  decomposition payload.
//	error: ErrValidation, ErrCapacityExceeded, or a store error.
func (e *Engine) Decompose(ctx context.Context, req DecomposeRequest) (*session.Session, error) {
	if err := validateTask(req.Task); err != nil {
		return nil, err
	}

	if !e.slots.TryAcquire(1) {
		observability.RecordCapacityRejection()
		return nil, fmt.Errorf("%w: %d sessions already running", ErrCapacityExceeded, e.capacity)
	}
	defer e.slots.Release(1)

	sess := session.New(session.OpDecompose, req.Task, e.defaults)
	if err := session.Transition(sess, session.StatusActive); err != nil {
		return nil, fmt.Errorf("activate session: %w", err)
	}
	if err := e.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	e.logger.Info("session started",
		"session_id", sess.ID,
		"operation", string(sess.Operation),
	)
	observability.RecordSessionStart(string(session.OpDecompose))
	e.emitter.Emit(events.TypeSessionStart, sess.ID, events.SessionStartData{
		Operation:     string(sess.Operation),
		MaxIterations: 1,
	})

	r := &runner{
		eng:     e,
		sess:    sess,
		limits:  e.defaults,
		task:    req.Task,
		op:      string(session.OpDecompose),
		started: time.Now(),
	}
	r.deadline = r.started.Add(e.timeout)
	return r.decompose(ctx)
}

// Refine resumes a COMPLETED or TIMEOUT session for further iterations.
//
// Description:
//
//	The session keeps its identity and history. Iteration indices
//	continue where the prior run stopped, and the resumed run gets a
//	fresh iteration budget and a fresh wall-clock budget. The strategic
//	loop is seeded with the session's best result, falling back to the
//	last iteration's output when no iteration qualified.
//
// Outputs:
//
//	*session.Session: Terminal snapshot after the resumed run.
//	error: ErrValidation, ErrCapacityExceeded, store.ErrUnknownSession,
//	       or session.ErrNotResumable.
func (e *Engine) Refine(ctx context.Context, req RefineRequest) (*session.Session, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrValidation)
	}
	fresh := 0
	if req.MaxIterations != nil {
		if *req.MaxIterations < 1 {
			return nil, fmt.Errorf("%w: max_iterations must be at least 1, got %d", ErrValidation, *req.MaxIterations)
		}
		fresh = *req.MaxIterations
	}

	// Validate the target before re-opening it, so a rejected request
	// cannot leave the session ACTIVE.
	snap, err := e.store.Load(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !snap.Status.IsResumable() {
		return nil, fmt.Errorf("session %s in status %s: %w", snap.ID, snap.Status, session.ErrNotResumable)
	}
	if len(snap.Iterations) == 0 {
		return nil, fmt.Errorf("%w: session %s has no iterations to refine", ErrValidation, snap.ID)
	}
	if fresh == 0 {
		fresh = snap.Config.MaxIterations
	}

	if !e.slots.TryAcquire(1) {
		observability.RecordCapacityRejection()
		return nil, fmt.Errorf("%w: %d sessions already running", ErrCapacityExceeded, e.capacity)
	}
	defer e.slots.Release(1)

	fromStatus := snap.Status
	sess, err := e.store.Resume(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("resume session: %w", err)
	}

	// The limit snapshot is immutable across resumptions except for the
	// iteration cap, which must cover the prior history plus the fresh
	// budget for the global convergence check.
	limits := sess.Config
	limits.MaxIterations = len(sess.Iterations) + fresh

	task := sess.Task
	if len(req.Goals) > 0 {
		task = refinementTask(sess.Task, req.Goals)
	}

	seed := sess.BestResult
	if seed == nil {
		if last := sess.LastIteration(); last != nil {
			seed = last.Output
		}
	}

	e.logger.Info("session resumed",
		"session_id", sess.ID,
		"from_status", string(fromStatus),
		"prior_iterations", len(sess.Iterations),
		"fresh_budget", fresh,
	)
	observability.RecordSessionStart(string(session.OpRefine))
	e.emitter.Emit(events.TypeSessionResumed, sess.ID, events.SessionResumedData{
		FromStatus:      string(fromStatus),
		PriorIterations: len(sess.Iterations),
		FreshBudget:     fresh,
	})

	r := &runner{
		eng:     e,
		sess:    sess,
		limits:  limits,
		task:    task,
		seed:    seed,
		op:      string(session.OpRefine),
		started: time.Now(),
	}
	r.deadline = r.started.Add(e.timeout)
	return r.run(ctx)
}

// =============================================================================
// Admin Operations
// =============================================================================

// Get returns the full session trace.
func (e *Engine) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrValidation)
	}
	return e.store.Load(ctx, sessionID)
}

// List returns session records without their iteration history, optionally
// filtered by status.
func (e *Engine) List(ctx context.Context, statuses ...session.Status) ([]*session.Session, error) {
	return e.store.List(ctx, statuses...)
}

// Delete removes a session and its trace. Active sessions are refused;
// let the run finish or the sweep retire it first.
func (e *Engine) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrValidation)
	}
	s, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Status == session.StatusActive {
		return fmt.Errorf("%w: session %s is still running", ErrValidation, sessionID)
	}
	return e.store.Delete(ctx, sessionID)
}

// Reconcile surveys sessions a previous process left ACTIVE. They hold no
// capacity slot in this process; the timeout sweep retires them once idle
// past the session timeout.
//
// Outputs:
//
//	int: Number of orphaned sessions found.
//	error: Store listing failure.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	orphans, err := e.store.List(ctx, session.StatusActive)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}
	now := time.Now()
	for _, s := range orphans {
		e.logger.Warn("found session left active by a previous run",
			"session_id", s.ID,
			"operation", string(s.Operation),
			"idle", s.IdleSince(now).Round(time.Second),
		)
	}
	return len(orphans), nil
}

// =============================================================================
// Helpers
// =============================================================================

func validateTask(task json.RawMessage) error {
	if len(task) == 0 {
		return fmt.Errorf("%w: task payload is required", ErrValidation)
	}
	if !json.Valid(task) {
		return fmt.Errorf("%w: task payload is not valid JSON", ErrValidation)
	}
	return nil
}

// mergeLimits applies per-request overrides to the engine defaults and
// validates the merged snapshot.
func (e *Engine) mergeLimits(o *LimitOverrides) (session.Limits, error) {
	lim := e.defaults
	if o != nil {
		if o.MaxIterations != nil {
			lim.MaxIterations = *o.MaxIterations
		}
		if o.MinConfidenceThreshold != nil {
			lim.MinConfidenceThreshold = *o.MinConfidenceThreshold
		}
		if o.MaxCyclesPerH != nil {
			lim.MaxCyclesPerH = *o.MaxCyclesPerH
		}
		if o.MinCyclesPerH != nil {
			lim.MinCyclesPerH = *o.MinCyclesPerH
		}
		if o.GlobalThreshold != nil {
			lim.GlobalThreshold = *o.GlobalThreshold
		}
		if o.StabilityEpsilon != nil {
			lim.StabilityEpsilon = *o.StabilityEpsilon
		}
	}
	if err := lim.Validate(); err != nil {
		return session.Limits{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return lim, nil
}

// refinementTask wraps the stored task payload with the caller's goals so
// the collaborators see the new emphasis. The stored task is not changed.
func refinementTask(task json.RawMessage, goals []string) json.RawMessage {
	wrapped := struct {
		Description  string          `json:"description"`
		OriginalTask json.RawMessage `json:"original_task"`
	}{
		Description:  "Refine solution with goals: " + strings.Join(goals, ", "),
		OriginalTask: task,
	}
	b, err := json.Marshal(wrapped)
	if err != nil {
		return task
	}
	return b
}
