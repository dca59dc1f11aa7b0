// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events provides event types and broadcasting for the reasoning
// engine.
//
// Events allow external systems to observe session progress, collect metrics,
// and stream live updates without coupling to the engine implementation.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

import "time"

// Type identifies the kind of event.
type Type string

const (
	// TypeSessionStart is emitted when a session becomes active.
	TypeSessionStart Type = "session_start"

	// TypeSessionResumed is emitted when a terminal session is reactivated.
	TypeSessionResumed Type = "session_resumed"

	// TypeIterationStart is emitted when a strategic iteration begins.
	TypeIterationStart Type = "iteration_start"

	// TypeCycleComplete is emitted when a tactical cycle is recorded.
	TypeCycleComplete Type = "cycle_complete"

	// TypeIterationComplete is emitted when a strategic iteration is recorded.
	TypeIterationComplete Type = "iteration_complete"

	// TypeSessionEnd is emitted when a session reaches a terminal status.
	TypeSessionEnd Type = "session_end"

	// TypeError is emitted when an error occurs during a run.
	TypeError Type = "error"
)

// Event represents a reasoning engine event.
//
// Description:
//
//	Events are the primary mechanism for observing session progress.
//	Each event has a type that determines the structure of its Data field.
//	Use the appropriate typed data struct (SessionStartData, CycleCompleteData,
//	etc.) when setting the Data field.
//
// Thread Safety:
//
//	Event structs should be treated as immutable after creation.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Type identifies the kind of event.
	Type Type `json:"type"`

	// SessionID links the event to a session.
	SessionID string `json:"session_id"`

	// Timestamp is when the event occurred (Unix milliseconds UTC).
	Timestamp int64 `json:"timestamp"`

	// Data contains event-specific data. Should be one of the typed data
	// structs: SessionStartData, SessionResumedData, IterationStartData,
	// CycleCompleteData, IterationCompleteData, SessionEndData, or ErrorData.
	Data any `json:"data,omitempty"`

	// Metadata contains typed additional context for the event.
	Metadata *EventMetadata `json:"metadata,omitempty"`
}

// EventMetadata contains typed additional context for events.
type EventMetadata struct {
	// TraceID links the event to a distributed trace.
	TraceID string `json:"trace_id,omitempty"`

	// SpanID links the event to a specific span.
	SpanID string `json:"span_id,omitempty"`

	// Source identifies where the event originated.
	Source string `json:"source,omitempty"`

	// Tags are key-value pairs for categorization.
	Tags map[string]string `json:"tags,omitempty"`
}

// SessionStartData is the data for session start events.
type SessionStartData struct {
	// Operation is the operation that started the run.
	Operation string `json:"operation"`

	// TaskType is the classified task type, when known at start.
	TaskType string `json:"task_type,omitempty"`

	// MaxIterations is the strategic iteration budget for the run.
	MaxIterations int `json:"max_iterations"`
}

// SessionResumedData is the data for session resumed events.
type SessionResumedData struct {
	// FromStatus is the terminal status the session was resumed out of.
	FromStatus string `json:"from_status"`

	// PriorIterations is the number of iterations already on record.
	PriorIterations int `json:"prior_iterations"`

	// FreshBudget is the number of additional iterations granted.
	FreshBudget int `json:"fresh_budget"`
}

// IterationStartData is the data for iteration start events.
type IterationStartData struct {
	// Index is the zero-based iteration index.
	Index int `json:"index"`
}

// CycleCompleteData is the data for cycle complete events.
type CycleCompleteData struct {
	// HIndex is the iteration the cycle belongs to.
	HIndex int `json:"h_index"`

	// Index is the zero-based cycle index within the iteration.
	Index int `json:"index"`

	// Confidence is the cycle's confidence score.
	Confidence float64 `json:"confidence"`

	// Delta is the confidence change from the previous cycle.
	// Nil for the first cycle of an iteration.
	Delta *float64 `json:"delta,omitempty"`
}

// IterationCompleteData is the data for iteration complete events.
type IterationCompleteData struct {
	// Index is the zero-based iteration index.
	Index int `json:"index"`

	// Confidence is the iteration's confidence score.
	Confidence float64 `json:"confidence"`

	// CyclesUsed is the number of tactical cycles the iteration ran.
	CyclesUsed int `json:"cycles_used"`

	// LocalConverged indicates the tactical loop stabilized before its cap.
	LocalConverged bool `json:"local_converged"`

	// Qualified indicates the iteration became the session's best result.
	Qualified bool `json:"qualified"`
}

// SessionEndData is the data for session end events.
type SessionEndData struct {
	// Status is the terminal status (COMPLETED, TIMEOUT, ERROR).
	Status string `json:"status"`

	// Converged indicates the run met the global threshold.
	Converged bool `json:"converged"`

	// Iterations is the total number of iterations on record.
	Iterations int `json:"iterations"`

	// TotalCycles is the total number of tactical cycles on record.
	TotalCycles int `json:"total_cycles"`

	// OverallConfidence is the session's final overall confidence.
	OverallConfidence float64 `json:"overall_confidence"`

	// Duration is how long the run lasted.
	Duration time.Duration `json:"duration"`

	// Error is set if the session ended with an error.
	Error string `json:"error,omitempty"`
}

// ErrorData is the data for error events.
type ErrorData struct {
	// Error is the error message.
	Error string `json:"error"`

	// Kind is a machine-readable error kind.
	Kind string `json:"kind,omitempty"`

	// Recoverable indicates if the error can be recovered from.
	Recoverable bool `json:"recoverable"`
}
