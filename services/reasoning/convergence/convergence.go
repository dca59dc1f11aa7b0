// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package convergence evaluates the stopping criteria of the reasoning
// loops. The detector is pure and stateless: every function takes the
// relevant history slice plus the limit snapshot and returns a Decision, so
// outcomes are independently reproducible without running the loops.
package convergence

import (
	"math"

	"github.com/AleutianAI/Denali/services/reasoning/session"
)

// Reasons reported in Decision.Reason. These are stable strings; they end
// up in logs, events, and analysis output.
const (
	ReasonFloorNotReached = "cycle floor not reached"
	ReasonDeltaStable     = "confidence delta below epsilon"
	ReasonCycleBudget     = "cycle budget exhausted"
	ReasonNotStable       = "confidence still moving"
	ReasonGlobalThreshold = "global threshold met"
	ReasonIterationBudget = "iteration budget exhausted"
	ReasonBelowThreshold  = "overall confidence below threshold"
)

// Decision is the outcome of a convergence check.
type Decision struct {
	// Stop is true when the loop must not run another step.
	Stop bool `json:"stop"`

	// Converged is true when the stop is a genuine convergence rather than
	// budget exhaustion. For local checks this means the delta criterion
	// fired strictly before the cycle cap; for global checks it means the
	// overall confidence reached the global threshold.
	Converged bool `json:"converged"`

	// Metric is the value the decision was based on: the absolute
	// confidence delta for local checks, the overall confidence for global
	// checks.
	Metric float64 `json:"metric"`

	// Reason is a stable human-readable explanation.
	Reason string `json:"reason"`
}

// Local evaluates the tactical stopping criterion after a completed cycle.
//
// Description:
//
//	confidences holds the per-cycle confidences of the current H-iteration
//	so far; the cycle just completed is the last element. Before
//	MinCyclesPerH cycles have run the check always reports "not yet
//	converged" regardless of delta — the floor is absolute. From the floor
//	on, the loop stops when the absolute confidence delta versus the
//	previous cycle falls below StabilityEpsilon, or when the cycle index
//	has reached MaxCyclesPerH-1. Only the former counts as convergence.
//
// Inputs:
//
//	confidences - Cycle confidences so far. Must not be empty.
//	lim - The session's limit snapshot.
//
// Outputs:
//
//	Decision - Stop/Converged plus the delta that was compared.
//
// Thread Safety: Pure function, safe for concurrent use.
func Local(confidences []float64, lim session.Limits) Decision {
	n := len(confidences)
	if n == 0 {
		return Decision{Reason: ReasonFloorNotReached}
	}

	index := n - 1
	delta := math.NaN()
	if n >= 2 {
		delta = math.Abs(confidences[n-1] - confidences[n-2])
	}

	metric := 0.0
	if !math.IsNaN(delta) {
		metric = delta
	}

	if n < lim.MinCyclesPerH {
		return Decision{Metric: metric, Reason: ReasonFloorNotReached}
	}

	if !math.IsNaN(delta) && delta < lim.StabilityEpsilon {
		if index < lim.MaxCyclesPerH-1 {
			return Decision{Stop: true, Converged: true, Metric: metric, Reason: ReasonDeltaStable}
		}
		// Stable exactly at the cap still counts as exhaustion.
		return Decision{Stop: true, Metric: metric, Reason: ReasonCycleBudget}
	}

	if index >= lim.MaxCyclesPerH-1 {
		return Decision{Stop: true, Metric: metric, Reason: ReasonCycleBudget}
	}

	return Decision{Metric: metric, Reason: ReasonNotStable}
}

// Overall computes the session's running overall confidence.
//
// Description:
//
//	The overall confidence is the confidence of the most recent H-iteration
//	whose output met minConfidence. If no iteration has met it yet, it is
//	the maximum confidence seen so far, and zero for an empty history.
//
// Thread Safety: Pure function, safe for concurrent use.
func Overall(iters []session.HIterationRecord, minConfidence float64) float64 {
	for i := len(iters) - 1; i >= 0; i-- {
		if iters[i].Confidence >= minConfidence {
			return iters[i].Confidence
		}
	}

	max := 0.0
	for i := range iters {
		if iters[i].Confidence > max {
			max = iters[i].Confidence
		}
	}
	return max
}

// Global evaluates the strategic stopping criterion after a completed
// H-iteration.
//
// Description:
//
//	iters is the session's full strategic history; the iteration just
//	completed is the last element. The loop stops when the overall
//	confidence (see Overall) reaches GlobalThreshold, or when the last
//	index has reached MaxIterations-1. Reaching the cap without meeting
//	the threshold is a distinct, non-erroneous outcome: Stop is true but
//	Converged stays false, so "ran out of budget" is never reported as
//	"converged". For resumption runs the caller passes an effective
//	MaxIterations covering the prior history plus the fresh budget.
//
// Inputs:
//
//	iters - Strategic history so far. Must not be empty.
//	lim - The session's limit snapshot (possibly budget-adjusted).
//
// Outputs:
//
//	Decision - Stop/Converged plus the overall confidence compared.
//
// Thread Safety: Pure function, safe for concurrent use.
func Global(iters []session.HIterationRecord, lim session.Limits) Decision {
	if len(iters) == 0 {
		return Decision{Reason: ReasonBelowThreshold}
	}

	overall := Overall(iters, lim.MinConfidenceThreshold)

	if overall >= lim.GlobalThreshold {
		return Decision{Stop: true, Converged: true, Metric: overall, Reason: ReasonGlobalThreshold}
	}

	if iters[len(iters)-1].Index >= lim.MaxIterations-1 {
		return Decision{Stop: true, Metric: overall, Reason: ReasonIterationBudget}
	}

	return Decision{Metric: overall, Reason: ReasonBelowThreshold}
}
