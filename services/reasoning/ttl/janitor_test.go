// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Denali/services/reasoning/session"
	"github.com/AleutianAI/Denali/services/reasoning/store"
)

func testConfig() Config {
	return Config{
		SessionTimeout: 30 * time.Minute,
		SweepInterval:  time.Minute,
		Retention:      time.Millisecond,
		PruneInterval:  time.Hour,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLimits() session.Limits {
	return session.Limits{
		MaxIterations:          5,
		MinConfidenceThreshold: 0.7,
		MaxCyclesPerH:          4,
		MinCyclesPerH:          2,
		GlobalThreshold:        0.9,
		StabilityEpsilon:       0.05,
	}
}

// activeSession persists an ACTIVE session whose last activity is the
// given age ago.
func activeSession(t *testing.T, st store.Store, age time.Duration) *session.Session {
	t.Helper()
	s := session.New(session.OpReason, json.RawMessage(`{"task":"x"}`), testLimits())
	require.NoError(t, session.Transition(s, session.StatusActive))
	s.LastActivityAt = time.Now().Add(-age).UnixMilli()
	require.NoError(t, st.Create(context.Background(), s))
	return s
}

func TestNewJanitor_Validation(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero timeout", func(c *Config) { c.SessionTimeout = 0 }},
		{"zero sweep interval", func(c *Config) { c.SweepInterval = 0 }},
		{"negative retention", func(c *Config) { c.Retention = -time.Second }},
		{"zero prune interval", func(c *Config) { c.PruneInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := NewJanitor(st, cfg, quietLogger())
			assert.Error(t, err)
		})
	}

	t.Run("nil store", func(t *testing.T) {
		_, err := NewJanitor(nil, testConfig(), quietLogger())
		assert.Error(t, err)
	})

	t.Run("zero retention is allowed", func(t *testing.T) {
		cfg := testConfig()
		cfg.Retention = 0
		_, err := NewJanitor(st, cfg, quietLogger())
		assert.NoError(t, err)
	})
}

func TestSweepOnce(t *testing.T) {
	t.Run("times out only idle sessions", func(t *testing.T) {
		st := store.NewMemoryStore()
		defer st.Close()
		j, err := NewJanitor(st, testConfig(), quietLogger())
		require.NoError(t, err)

		idle := activeSession(t, st, time.Hour)
		fresh := activeSession(t, st, time.Second)

		swept, err := j.SweepOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, swept)

		got, err := st.Load(context.Background(), idle.ID)
		require.NoError(t, err)
		assert.Equal(t, session.StatusTimeout, got.Status)

		got, err = st.Load(context.Background(), fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, session.StatusActive, got.Status)
	})

	t.Run("appends reset the idle clock", func(t *testing.T) {
		st := store.NewMemoryStore()
		defer st.Close()
		j, err := NewJanitor(st, testConfig(), quietLogger())
		require.NoError(t, err)

		idle := activeSession(t, st, time.Hour)
		require.NoError(t, st.AppendLCycle(context.Background(), idle.ID, 0,
			session.LCycleRecord{Index: 0, Confidence: 0.5}))

		swept, err := j.SweepOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, swept, "a session that just made progress is not idle")

		got, err := st.Load(context.Background(), idle.ID)
		require.NoError(t, err)
		assert.Equal(t, session.StatusActive, got.Status)
	})

	t.Run("preserves appended history", func(t *testing.T) {
		st := store.NewMemoryStore()
		defer st.Close()

		s := activeSession(t, st, time.Hour)
		require.NoError(t, st.AppendLCycle(context.Background(), s.ID, 0,
			session.LCycleRecord{Index: 0, Confidence: 0.5}))
		require.NoError(t, st.AppendHIteration(context.Background(), s.ID,
			session.HIterationRecord{Index: 0, Directive: json.RawMessage(`"start"`), Confidence: 0.5}))

		cfg := testConfig()
		cfg.SessionTimeout = time.Millisecond
		j, err := NewJanitor(st, cfg, quietLogger())
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
		swept, err := j.SweepOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, swept)

		got, err := st.Load(context.Background(), s.ID)
		require.NoError(t, err)
		assert.Equal(t, session.StatusTimeout, got.Status)
		require.Len(t, got.Iterations, 1, "trace survives the timeout")
		assert.Len(t, got.Iterations[0].Cycles, 1)
		assert.InDelta(t, 0.5, got.OverallConfidence, 1e-9)
	})

	t.Run("empty store sweeps nothing", func(t *testing.T) {
		st := store.NewMemoryStore()
		defer st.Close()
		j, err := NewJanitor(st, testConfig(), quietLogger())
		require.NoError(t, err)

		swept, err := j.SweepOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, swept)
	})
}

func TestPruneOnce(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	j, err := NewJanitor(st, testConfig(), quietLogger())
	require.NoError(t, err)

	expired := activeSession(t, st, time.Hour)
	require.NoError(t, st.UpdateStatus(context.Background(), expired.ID,
		session.StatusCompleted, store.StatusUpdate{Converged: true}))
	stillActive := activeSession(t, st, time.Second)

	// Let the terminal timestamp age past the 1ms retention window.
	time.Sleep(5 * time.Millisecond)

	pruned, err := j.PruneOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	_, err = st.Load(context.Background(), expired.ID)
	assert.ErrorIs(t, err, store.ErrUnknownSession)

	_, err = st.Load(context.Background(), stillActive.ID)
	assert.NoError(t, err, "ACTIVE sessions are never pruned")

	// Prune is idempotent.
	pruned, err = j.PruneOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pruned)
}

func TestPruneOnce_ZeroRetention(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	cfg := testConfig()
	cfg.Retention = 0
	j, err := NewJanitor(st, cfg, quietLogger())
	require.NoError(t, err)

	done := activeSession(t, st, time.Second)
	require.NoError(t, st.UpdateStatus(context.Background(), done.ID,
		session.StatusCompleted, store.StatusUpdate{Converged: true}))

	// TerminalAt has millisecond resolution; step past it.
	time.Sleep(2 * time.Millisecond)

	pruned, err := j.PruneOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pruned, "zero retention prunes terminal sessions on the next pass")

	_, err = st.Load(context.Background(), done.ID)
	assert.ErrorIs(t, err, store.ErrUnknownSession)
}

func TestJanitor_StartStop(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	cfg := testConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	cfg.PruneInterval = 10 * time.Millisecond
	j, err := NewJanitor(st, cfg, quietLogger())
	require.NoError(t, err)

	idle := activeSession(t, st, time.Hour)

	j.Start()
	require.Eventually(t, func() bool {
		got, err := st.Load(context.Background(), idle.ID)
		return err == nil && got.Status == session.StatusTimeout
	}, time.Second, 10*time.Millisecond)
	j.Stop()
}
