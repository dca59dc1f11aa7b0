// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"errors"
	"testing"
)

func TestStateMachine_ValidTransitions(t *testing.T) {
	sm := NewStateMachine()

	validTransitions := []struct {
		from Status
		to   Status
	}{
		{StatusCreated, StatusActive},

		{StatusActive, StatusCompleted},
		{StatusActive, StatusTimeout},
		{StatusActive, StatusError},
	}

	for _, tt := range validTransitions {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if !sm.CanTransition(tt.from, tt.to) {
				t.Errorf("expected transition %s -> %s to be valid", tt.from, tt.to)
			}
		})
	}
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	sm := NewStateMachine()

	invalidTransitions := []struct {
		from Status
		to   Status
	}{
		// Terminal statuses are one-way through Transition
		{StatusCompleted, StatusActive},
		{StatusCompleted, StatusCreated},
		{StatusCompleted, StatusTimeout},
		{StatusTimeout, StatusActive},
		{StatusTimeout, StatusCompleted},
		{StatusError, StatusActive},
		{StatusError, StatusCompleted},

		// Cannot skip ACTIVE
		{StatusCreated, StatusCompleted},
		{StatusCreated, StatusTimeout},
		{StatusCreated, StatusError},

		// No self-loops
		{StatusActive, StatusActive},
		{StatusCompleted, StatusCompleted},
	}

	for _, tt := range invalidTransitions {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if sm.CanTransition(tt.from, tt.to) {
				t.Errorf("expected transition %s -> %s to be invalid", tt.from, tt.to)
			}
		})
	}
}

func TestStateMachine_Transition(t *testing.T) {
	sm := NewStateMachine()

	t.Run("valid transition updates status and terminal timestamp", func(t *testing.T) {
		s := New(OpReason, nil, Limits{})

		if err := sm.Transition(s, StatusActive); err != nil {
			t.Fatalf("Transition to ACTIVE: %v", err)
		}
		if s.Status != StatusActive {
			t.Errorf("expected ACTIVE, got %s", s.Status)
		}
		if s.TerminalAt != 0 {
			t.Errorf("TerminalAt should be zero while active, got %d", s.TerminalAt)
		}

		if err := sm.Transition(s, StatusCompleted); err != nil {
			t.Fatalf("Transition to COMPLETED: %v", err)
		}
		if s.TerminalAt == 0 {
			t.Error("TerminalAt should be stamped on terminal transition")
		}
	})

	t.Run("invalid transition leaves session untouched", func(t *testing.T) {
		s := New(OpReason, nil, Limits{})
		s.Status = StatusCompleted
		s.TerminalAt = 42

		err := sm.Transition(s, StatusActive)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if s.Status != StatusCompleted || s.TerminalAt != 42 {
			t.Error("failed transition must not mutate the session")
		}
	})
}

func TestStateMachine_Resume(t *testing.T) {
	sm := NewStateMachine()

	t.Run("completed session resumes to active", func(t *testing.T) {
		s := New(OpReason, nil, Limits{})
		s.Status = StatusCompleted
		s.TerminalAt = 42
		s.Converged = true

		if err := sm.Resume(s); err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if s.Status != StatusActive {
			t.Errorf("expected ACTIVE after resume, got %s", s.Status)
		}
		if s.TerminalAt != 0 {
			t.Error("TerminalAt should be cleared on resume")
		}
		if s.Converged {
			t.Error("converged flag should be cleared on resume")
		}
	})

	t.Run("timeout session resumes to active", func(t *testing.T) {
		s := New(OpReason, nil, Limits{})
		s.Status = StatusTimeout

		if err := sm.Resume(s); err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if s.Status != StatusActive {
			t.Errorf("expected ACTIVE after resume, got %s", s.Status)
		}
	})

	t.Run("error session is not resumable", func(t *testing.T) {
		s := New(OpReason, nil, Limits{})
		s.Status = StatusError

		if err := sm.Resume(s); !errors.Is(err, ErrNotResumable) {
			t.Fatalf("expected ErrNotResumable, got %v", err)
		}
	})

	t.Run("active session is not resumable", func(t *testing.T) {
		s := New(OpReason, nil, Limits{})
		s.Status = StatusActive

		if err := sm.Resume(s); !errors.Is(err, ErrNotResumable) {
			t.Fatalf("expected ErrNotResumable, got %v", err)
		}
	})
}

func TestStatus_Predicates(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusTimeout, StatusError}
	for _, st := range terminal {
		if !st.IsTerminal() {
			t.Errorf("%s should be terminal", st)
		}
	}
	for _, st := range []Status{StatusCreated, StatusActive} {
		if st.IsTerminal() {
			t.Errorf("%s should not be terminal", st)
		}
	}

	if !StatusCompleted.IsResumable() || !StatusTimeout.IsResumable() {
		t.Error("COMPLETED and TIMEOUT should be resumable")
	}
	if StatusError.IsResumable() || StatusActive.IsResumable() {
		t.Error("ERROR and ACTIVE should not be resumable")
	}
}

func TestLimits_Validate(t *testing.T) {
	valid := Limits{
		MaxIterations:          10,
		MinConfidenceThreshold: 0.7,
		MaxCyclesPerH:          6,
		MinCyclesPerH:          3,
		GlobalThreshold:        0.85,
		StabilityEpsilon:       0.01,
	}

	if err := valid.Validate(); err != nil {
		t.Fatalf("valid limits rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Limits)
	}{
		{"zero max_iterations", func(l *Limits) { l.MaxIterations = 0 }},
		{"negative min_confidence", func(l *Limits) { l.MinConfidenceThreshold = -0.1 }},
		{"min_confidence above one", func(l *Limits) { l.MinConfidenceThreshold = 1.1 }},
		{"zero min_cycles", func(l *Limits) { l.MinCyclesPerH = 0 }},
		{"max_cycles below min_cycles", func(l *Limits) { l.MaxCyclesPerH = 2 }},
		{"global_threshold above one", func(l *Limits) { l.GlobalThreshold = 1.5 }},
		{"zero epsilon", func(l *Limits) { l.StabilityEpsilon = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := valid
			tc.mutate(&l)
			if err := l.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
