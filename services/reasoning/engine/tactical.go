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
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/AleutianAI/Denali/services/reasoning/convergence"
	"github.com/AleutianAI/Denali/services/reasoning/events"
	"github.com/AleutianAI/Denali/services/reasoning/observability"
	"github.com/AleutianAI/Denali/services/reasoning/planner"
	"github.com/AleutianAI/Denali/services/reasoning/session"
)

// errDeadline marks a run that hit its wall-clock budget between steps.
var errDeadline = errors.New("session deadline exceeded")

// cycleOutcome carries the tactical loop's result for one iteration.
type cycleOutcome struct {
	output         json.RawMessage
	confidence     float64
	cycles         int
	localConverged bool
}

// tactical runs the refinement cycles for one strategic iteration.
//
// Description:
//
//	Cycles are persisted as they complete. When an error or the deadline
//	interrupts the loop partway, the recorded cycles stay on the trace
//	but the iteration itself is never appended; a later resumption
//	starts that iteration over.
//
// Outputs:
//
//	cycleOutcome: Final output, confidence, cycle count, and whether the
//	              loop stabilized before its cap.
//	error: errDeadline, a context error, a refiner error, or a store
//	       append failure.
func (r *runner) tactical(ctx context.Context, hIndex int, pl planner.Plan) (cycleOutcome, error) {
	confidences := make([]float64, 0, r.limits.MaxCyclesPerH)
	var prior json.RawMessage
	var priorConfidence float64

	for cycle := 0; ; cycle++ {
		if err := ctx.Err(); err != nil {
			return cycleOutcome{}, err
		}
		if !time.Now().Before(r.deadline) {
			return cycleOutcome{}, errDeadline
		}

		refineStart := time.Now()
		ref, err := r.eng.refiner.Refine(ctx, planner.RefineInput{
			Task:            r.task,
			Directive:       pl.Directive,
			Prior:           prior,
			Iteration:       hIndex,
			Cycle:           cycle,
			PriorConfidence: priorConfidence,
		})
		observability.RecordCollaboratorLatency("refine", time.Since(refineStart).Seconds(), err)
		if err != nil {
			return cycleOutcome{}, err
		}

		var delta *float64
		if cycle > 0 {
			d := ref.Confidence - confidences[cycle-1]
			delta = &d
		}
		rec := session.LCycleRecord{
			Index:      cycle,
			Output:     ref.Output,
			Confidence: ref.Confidence,
			Delta:      delta,
		}
		if err := r.eng.store.AppendLCycle(ctx, r.sess.ID, hIndex, rec); err != nil {
			return cycleOutcome{}, err
		}

		confidences = append(confidences, ref.Confidence)
		observability.RecordCycleConfidence(ref.Confidence)
		r.eng.emitter.Emit(events.TypeCycleComplete, r.sess.ID, events.CycleCompleteData{
			HIndex:     hIndex,
			Index:      cycle,
			Confidence: ref.Confidence,
			Delta:      delta,
		})

		decision := convergence.Local(confidences, r.limits)
		r.eng.logger.Debug("cycle complete",
			"session_id", r.sess.ID,
			"iteration", hIndex,
			"cycle", cycle,
			"confidence", ref.Confidence,
			"reason", decision.Reason,
		)
		if decision.Stop {
			return cycleOutcome{
				output:         ref.Output,
				confidence:     ref.Confidence,
				cycles:         len(confidences),
				localConverged: decision.Converged,
			}, nil
		}

		prior = ref.Output
		priorConfidence = ref.Confidence
	}
}
