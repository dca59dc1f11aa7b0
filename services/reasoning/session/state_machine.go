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
	"fmt"
	"sync"
	"time"
)

// StateMachine manages valid status transitions for reasoning sessions.
//
// The state machine enforces the following transition graph:
//
//	CREATED → ACTIVE       : First persisted write (atomic with store create)
//	ACTIVE → COMPLETED     : Strategic loop terminated (converged or cap hit)
//	ACTIVE → TIMEOUT       : Inactivity window exceeded
//	ACTIVE → ERROR         : Unrecovered planning/refinement/store failure
//
// Transitions are one-directional; no status is reachable twice through
// Transition. The single exception is resumption: Resume re-opens a
// COMPLETED or TIMEOUT session to ACTIVE and is only reachable through the
// refine_solution path. Resume edges are deliberately NOT in the transition
// table so that ordinary status updates can never re-activate a session.
//
// Thread Safety:
//
//	StateMachine is safe for concurrent use. Callers mutating a Session must
//	hold the trace store's per-session serialization.
type StateMachine struct {
	mu sync.RWMutex

	// transitions maps (from, to) pairs that are valid.
	transitions map[Status]map[Status]bool
}

// NewStateMachine creates a state machine with the session lifecycle edges.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[Status]map[Status]bool),
	}

	for _, st := range AllStatuses() {
		sm.transitions[st] = make(map[Status]bool)
	}

	sm.addTransition(StatusCreated, StatusActive)

	sm.addTransition(StatusActive, StatusCompleted)
	sm.addTransition(StatusActive, StatusTimeout)
	sm.addTransition(StatusActive, StatusError)

	return sm
}

// addTransition registers a valid transition.
func (sm *StateMachine) addTransition(from, to Status) {
	sm.transitions[from][to] = true
}

// CanTransition checks if a transition from one status to another is valid.
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) CanTransition(from, to Status) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Transition attempts to move a session to a new status.
//
// Description:
//
//	Validates the edge and updates the session's status if legal, stamping
//	TerminalAt when the target is terminal. Returns ErrInvalidTransition
//	otherwise; the session is left untouched in that case, so a losing racer
//	(e.g., the inline loop after the background sweep already timed the
//	session out) fails cleanly without corrupting history.
//
// Inputs:
//
//	s - The session to transition. Must not be nil.
//	to - Target status.
//
// Outputs:
//
//	error - ErrInvalidTransition if the edge is not legal.
//
// Thread Safety: Caller must hold the store's per-session serialization.
func (sm *StateMachine) Transition(s *Session, to Status) error {
	if !sm.CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}

	s.Status = to
	s.Touch()
	if to.IsTerminal() {
		s.TerminalAt = s.LastActivityAt
	}
	return nil
}

// Resume re-opens a terminal session for a refine_solution run.
//
// Description:
//
//	Moves COMPLETED or TIMEOUT back to ACTIVE, clearing TerminalAt and the
//	converged flag so the appended run reports its own outcome. ERROR
//	sessions are refused: their history ends at the failure. This is the
//	only path that re-activates a session; Transition never will.
//
// Outputs:
//
//	error - ErrNotResumable (wrapping the offending status) if the session
//	        is ACTIVE, CREATED, or ERROR.
//
// Thread Safety: Caller must hold the store's per-session serialization.
func (sm *StateMachine) Resume(s *Session) error {
	if !s.Status.IsResumable() {
		return fmt.Errorf("%w: status %s", ErrNotResumable, s.Status)
	}

	s.Status = StatusActive
	s.TerminalAt = 0
	s.Converged = false
	s.LastActivityAt = time.Now().UnixMilli()
	return nil
}

// ValidTransitionsFrom returns all valid target statuses from a status.
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) ValidTransitionsFrom(from Status) []Status {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var result []Status
	if toMap, ok := sm.transitions[from]; ok {
		for st, valid := range toMap {
			if valid {
				result = append(result, st)
			}
		}
	}
	return result
}

// TransitionReason provides a human-readable description of a transition.
func (sm *StateMachine) TransitionReason(from, to Status) string {
	key := from.String() + "->" + to.String()

	reasons := map[string]string{
		"CREATED->ACTIVE":   "Session persisted, loop starting",
		"ACTIVE->COMPLETED": "Strategic loop terminated",
		"ACTIVE->TIMEOUT":   "Inactivity window exceeded",
		"ACTIVE->ERROR":     "Unrecovered collaborator or store failure",
	}

	if reason, ok := reasons[key]; ok {
		return reason
	}
	return "Unknown transition"
}

// DefaultStateMachine is the shared state machine instance.
var DefaultStateMachine = NewStateMachine()

// Transition is a convenience function using the default state machine.
func Transition(s *Session, to Status) error {
	return DefaultStateMachine.Transition(s, to)
}

// CanTransition is a convenience function using the default state machine.
func CanTransition(from, to Status) bool {
	return DefaultStateMachine.CanTransition(from, to)
}

// Resume is a convenience function using the default state machine.
func Resume(s *Session) error {
	return DefaultStateMachine.Resume(s)
}
