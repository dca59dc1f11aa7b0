// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/Denali/services/reasoning/planner"
	"github.com/AleutianAI/Denali/services/reasoning/session"
	"github.com/AleutianAI/Denali/services/reasoning/store"
)

// Error kinds recorded on failed sessions and returned to API clients.
const (
	KindValidation        = "validation"
	KindCapacity          = "capacity"
	KindPlanning          = "planning"
	KindRefinement        = "refinement"
	KindInvalidTransition = "invalid_transition"
	KindInvalidSequence   = "invalid_sequence"
	KindDuplicateSession  = "duplicate_session"
	KindUnknownSession    = "unknown_session"
	KindInternal          = "internal"
)

// ErrValidation marks a request the engine rejected before starting a run.
var ErrValidation = errors.New("validation failed")

// ErrCapacityExceeded marks a run rejected because every session slot is
// taken. The request can be retried once a running session finishes.
var ErrCapacityExceeded = errors.New("session capacity exceeded")

// EngineError is the structured error surfaced to API clients.
type EngineError struct {
	// Kind is the machine-readable classification, one of the Kind
	// constants.
	Kind string `json:"kind"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Details carries additional context when available.
	Details string `json:"details,omitempty"`

	// Recoverable indicates whether retrying the same request can
	// succeed without changing it.
	Recoverable bool `json:"recoverable"`
}

// Error returns the formatted error message.
func (e *EngineError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Message
}

// Classify maps an error from any engine path to its structured form.
//
// Inputs:
//
//	err - The error to classify. May wrap engine, store, session, or
//	      planner sentinels.
//
// Outputs:
//
//	*EngineError: Structured error with kind and recoverability set.
//	              Nil when err is nil.
func Classify(err error) *EngineError {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}

	kind := KindInternal
	switch {
	case errors.Is(err, ErrValidation):
		kind = KindValidation
	case errors.Is(err, ErrCapacityExceeded):
		kind = KindCapacity
	case errors.Is(err, planner.ErrPlanning):
		kind = KindPlanning
	case errors.Is(err, planner.ErrRefinement):
		kind = KindRefinement
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrNotResumable),
		errors.Is(err, store.ErrSessionNotActive):
		kind = KindInvalidTransition
	case errors.Is(err, store.ErrInvalidSequence):
		kind = KindInvalidSequence
	case errors.Is(err, store.ErrDuplicateSession):
		kind = KindDuplicateSession
	case errors.Is(err, store.ErrUnknownSession):
		kind = KindUnknownSession
	}

	return &EngineError{
		Kind:        kind,
		Message:     err.Error(),
		Recoverable: recoverableKind(kind),
	}
}

// recoverableKind reports whether retrying the same request can succeed.
// Capacity clears when a slot frees up; planning and refinement failures
// come from backends that may recover. Everything else needs a changed
// request.
func recoverableKind(kind string) bool {
	switch kind {
	case KindCapacity, KindPlanning, KindRefinement:
		return true
	}
	return false
}
