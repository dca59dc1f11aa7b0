// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl retires sessions on the server's schedule rather than the
// caller's. The sweep moves idle ACTIVE sessions to TIMEOUT so an abandoned
// or crashed run cannot stay open forever, and the prune deletes terminal
// sessions past their retention window so the store does not grow without
// bound.
package ttl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/Denali/services/reasoning/observability"
	"github.com/AleutianAI/Denali/services/reasoning/session"
	"github.com/AleutianAI/Denali/services/reasoning/store"
)

// Config holds the janitor's schedule.
type Config struct {
	// SessionTimeout is the inactivity window after which an ACTIVE
	// session is timed out. Must match the engine's run budget.
	SessionTimeout time.Duration

	// SweepInterval is how often idle sessions are checked.
	SweepInterval time.Duration

	// Retention is how long terminal sessions are kept after TerminalAt.
	// Zero means terminal sessions are pruned on the next pass.
	Retention time.Duration

	// PruneInterval is how often expired sessions are deleted.
	PruneInterval time.Duration
}

// Janitor runs the timeout sweep and the retention prune on fixed
// intervals.
//
// Description:
//
//	Call Start() to begin the schedule and Stop() to halt it. The sweep
//	may race a live runner: both resolve the race through the store's
//	state machine, so at most one of them lands the terminal status. The
//	janitor emits no session events; when a runner loses the race it
//	reports the swept outcome itself.
//
// Thread Safety: Safe for concurrent use after creation.
type Janitor struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewJanitor creates a janitor.
//
// Inputs:
//
//	st - The session store. Must not be nil.
//	cfg - Schedule. Intervals and the timeout must be positive; retention
//	      may be zero for immediate pruning.
//	logger - Logger for sweep and prune events. Defaults to slog.Default().
//
// Outputs:
//
//	*Janitor - The janitor. Not running until Start() is called.
//	error - Non-nil if inputs are invalid.
func NewJanitor(st store.Store, cfg Config, logger *slog.Logger) (*Janitor, error) {
	if st == nil {
		return nil, errors.New("ttl: store must not be nil")
	}
	if cfg.SessionTimeout <= 0 {
		return nil, fmt.Errorf("ttl: session timeout must be positive, got %s", cfg.SessionTimeout)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("ttl: sweep interval must be positive, got %s", cfg.SweepInterval)
	}
	if cfg.Retention < 0 {
		return nil, fmt.Errorf("ttl: retention must not be negative, got %s", cfg.Retention)
	}
	if cfg.PruneInterval <= 0 {
		return nil, fmt.Errorf("ttl: prune interval must be positive, got %s", cfg.PruneInterval)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Janitor{
		store:  st,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start begins the sweep and prune schedule.
func (j *Janitor) Start() {
	go j.run()
}

// Stop halts the schedule and waits for any in-flight pass to finish.
func (j *Janitor) Stop() {
	close(j.stopCh)
	<-j.doneCh
}

func (j *Janitor) run() {
	defer close(j.doneCh)

	j.logger.Info("session janitor started",
		"session_timeout", j.cfg.SessionTimeout,
		"sweep_interval", j.cfg.SweepInterval,
		"retention", j.cfg.Retention,
		"prune_interval", j.cfg.PruneInterval,
	)

	sweep := time.NewTicker(j.cfg.SweepInterval)
	defer sweep.Stop()
	prune := time.NewTicker(j.cfg.PruneInterval)
	defer prune.Stop()

	for {
		select {
		case <-j.stopCh:
			j.logger.Info("session janitor stopped")
			return
		case <-sweep.C:
			if _, err := j.SweepOnce(context.Background()); err != nil {
				j.logger.Warn("sweep pass failed", "error", err)
			}
		case <-prune.C:
			if _, err := j.PruneOnce(context.Background()); err != nil {
				j.logger.Warn("prune pass failed", "error", err)
			}
		}
	}
}

// SweepOnce times out every ACTIVE session idle past the session timeout.
//
// Description:
//
//	A session whose runner finishes between the list and the update is
//	left alone: the store rejects the transition and the runner's
//	terminal status stands.
//
// Outputs:
//
//	int: Number of sessions moved to TIMEOUT.
//	error: Store listing failure. Per-session failures are logged and
//	       skipped.
func (j *Janitor) SweepOnce(ctx context.Context) (int, error) {
	active, err := j.store.List(ctx, session.StatusActive)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}

	now := time.Now()
	swept := 0
	for _, s := range active {
		if !s.Expired(now, j.cfg.SessionTimeout) {
			continue
		}
		err := j.store.UpdateStatus(ctx, s.ID, session.StatusTimeout, store.StatusUpdate{})
		switch {
		case err == nil:
			swept++
			j.logger.Info("swept idle session",
				"session_id", s.ID,
				"operation", string(s.Operation),
				"idle", s.IdleSince(now).Round(time.Second),
			)
		case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, store.ErrUnknownSession):
			// Lost the race to the runner or a delete.
			continue
		default:
			j.logger.Warn("failed to time out idle session",
				"session_id", s.ID,
				"error", err,
			)
		}
	}

	observability.RecordSweep(swept)
	return swept, nil
}

// PruneOnce deletes terminal sessions older than the retention window.
//
// Outputs:
//
//	int: Number of sessions deleted.
//	error: Store prune failure.
func (j *Janitor) PruneOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-j.cfg.Retention)
	n, err := j.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	if n > 0 {
		j.logger.Info("pruned expired sessions",
			"count", n,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	observability.RecordPrune(n)
	return n, nil
}
