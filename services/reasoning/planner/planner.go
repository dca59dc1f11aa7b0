// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner defines the pluggable planning and refinement collaborators
// the reasoning loops call out to, plus the built-in implementations.
//
// The engine never inspects the payloads these functions exchange. Directives
// and outputs are opaque JSON from the loops' point of view; only planner
// implementations parse them. That keeps the loops testable with deterministic
// fakes and keeps task content out of the orchestration core.
package planner

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrPlanning marks a planning collaborator failure. The strategic loop
// catches it at the call boundary and drives the session to ERROR.
var ErrPlanning = errors.New("planning failed")

// ErrRefinement marks a refinement collaborator failure. The tactical loop
// aborts its remaining cycles and propagates it to the strategic loop.
var ErrRefinement = errors.New("refinement failed")

// PlanInput is what the strategic loop passes to a Planner.
type PlanInput struct {
	// Task is the session's task payload. For a resumed session this is the
	// refinement seed built from the prior best result.
	Task json.RawMessage

	// Iteration is the zero-based strategic iteration index.
	Iteration int

	// Best is the session's current best result, nil when none has
	// qualified yet.
	Best json.RawMessage

	// Overall is the session's running overall confidence.
	Overall float64
}

// Plan is a Planner's strategic output for one iteration.
type Plan struct {
	// Directive is the strategic instruction for the tactical loop.
	// Opaque to the engine.
	Directive json.RawMessage

	// Confidence is the planner's own confidence in the directive.
	Confidence float64
}

// RefineInput is what the tactical loop passes to a Refiner.
type RefineInput struct {
	// Task is the session's task payload.
	Task json.RawMessage

	// Directive is the strategic directive for the current iteration.
	Directive json.RawMessage

	// Prior is the previous cycle's output, nil for cycle 0.
	Prior json.RawMessage

	// Iteration and Cycle are the zero-based loop indices.
	Iteration int
	Cycle     int

	// PriorConfidence is the previous cycle's confidence, 0 for cycle 0.
	PriorConfidence float64
}

// Refinement is a Refiner's output for one tactical cycle.
type Refinement struct {
	// Output is the cycle's candidate result. Opaque to the engine.
	Output json.RawMessage

	// Confidence is the refiner's confidence in the output. Range [0,1].
	Confidence float64
}

// Planner produces a strategic directive for one iteration.
//
// Implementations must be safe for concurrent use; the orchestrator shares
// one Planner across all running sessions.
type Planner interface {
	Plan(ctx context.Context, in PlanInput) (Plan, error)
}

// Refiner produces one tactical cycle's refined output.
//
// Implementations must be safe for concurrent use.
type Refiner interface {
	Refine(ctx context.Context, in RefineInput) (Refinement, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, in PlanInput) (Plan, error)

// Plan calls f(ctx, in).
func (f PlannerFunc) Plan(ctx context.Context, in PlanInput) (Plan, error) {
	return f(ctx, in)
}

// RefinerFunc adapts a function to the Refiner interface.
type RefinerFunc func(ctx context.Context, in RefineInput) (Refinement, error)

// Refine calls f(ctx, in).
func (f RefinerFunc) Refine(ctx context.Context, in RefineInput) (Refinement, error) {
	return f(ctx, in)
}
