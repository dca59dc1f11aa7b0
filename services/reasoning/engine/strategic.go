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
	"fmt"
	"time"

	"github.com/AleutianAI/Denali/services/reasoning/convergence"
	"github.com/AleutianAI/Denali/services/reasoning/events"
	"github.com/AleutianAI/Denali/services/reasoning/observability"
	"github.com/AleutianAI/Denali/services/reasoning/planner"
	"github.com/AleutianAI/Denali/services/reasoning/session"
	"github.com/AleutianAI/Denali/services/reasoning/store"
)

// runner drives one session to a terminal status in the calling goroutine.
//
// The runner keeps a working snapshot of the session and mirrors the
// store's derived-field rule after every append, so convergence checks
// never need a re-load. The store stays authoritative: every terminal path
// returns a fresh Load, and a store rejection (a swept session, a broken
// sequence) overrides whatever the runner believed.
type runner struct {
	eng    *Engine
	sess   *session.Session
	limits session.Limits
	task   json.RawMessage

	// seed stands in for the best result when resuming a session where
	// no iteration qualified yet. It never feeds the derived-field rule.
	seed json.RawMessage

	op       string
	started  time.Time
	deadline time.Time
}

// run iterates the strategic loop until a stop condition lands the session
// in a terminal status.
//
// Description:
//
//	Each pass checks the caller's context and the wall-clock deadline,
//	plans a directive, runs the tactical loop under it, appends the
//	iteration, and applies the global convergence check. The deadline is
//	only consulted between steps: a planning or refinement call that is
//	already in flight finishes before a timeout is recorded.
func (r *runner) run(ctx context.Context) (*session.Session, error) {
	for {
		if err := ctx.Err(); err != nil {
			return r.abandon(err)
		}
		if !time.Now().Before(r.deadline) {
			return r.timeout(ctx)
		}

		hIndex := r.sess.NextIterationIndex()
		r.eng.emitter.Emit(events.TypeIterationStart, r.sess.ID, events.IterationStartData{
			Index: hIndex,
		})

		best := r.sess.BestResult
		if best == nil {
			best = r.seed
		}
		planStart := time.Now()
		pl, err := r.eng.planner.Plan(ctx, planner.PlanInput{
			Task:      r.task,
			Iteration: hIndex,
			Best:      best,
			Overall:   r.sess.OverallConfidence,
		})
		observability.RecordCollaboratorLatency("plan", time.Since(planStart).Seconds(), err)
		if err != nil {
			if ctx.Err() != nil {
				return r.abandon(ctx.Err())
			}
			return r.fail(ctx, KindPlanning, err)
		}

		startedAt := time.Now().UnixMilli()
		out, err := r.tactical(ctx, hIndex, pl)
		if err != nil {
			switch {
			case errors.Is(err, errDeadline):
				return r.timeout(ctx)
			case ctx.Err() != nil:
				return r.abandon(ctx.Err())
			case errors.Is(err, store.ErrSessionNotActive):
				return r.standDown(ctx, err)
			case errors.Is(err, planner.ErrRefinement):
				return r.fail(ctx, KindRefinement, err)
			default:
				return r.fail(ctx, KindInternal, err)
			}
		}

		rec := session.HIterationRecord{
			Index:          hIndex,
			Directive:      pl.Directive,
			Output:         out.output,
			Confidence:     out.confidence,
			LocalConverged: out.localConverged,
			StartedAt:      startedAt,
			CompletedAt:    time.Now().UnixMilli(),
		}

		// The global check needs the history including this iteration,
		// and the record carries the check's verdict, so decide before
		// appending.
		hist := make([]session.HIterationRecord, 0, len(r.sess.Iterations)+1)
		hist = append(hist, r.sess.Iterations...)
		hist = append(hist, rec)
		decision := convergence.Global(hist, r.limits)
		rec.TriggeredGlobal = decision.Converged
		hist[len(hist)-1].TriggeredGlobal = decision.Converged

		if err := r.eng.store.AppendHIteration(ctx, r.sess.ID, rec); err != nil {
			if errors.Is(err, store.ErrSessionNotActive) {
				return r.standDown(ctx, err)
			}
			return r.fail(ctx, KindInternal, err)
		}
		r.sess.Iterations = hist
		r.applyDerived(rec)
		observability.RecordIteration(out.cycles)

		r.eng.emitter.Emit(events.TypeIterationComplete, r.sess.ID, events.IterationCompleteData{
			Index:          hIndex,
			Confidence:     rec.Confidence,
			CyclesUsed:     out.cycles,
			LocalConverged: out.localConverged,
			Qualified:      rec.Confidence >= r.sess.Config.MinConfidenceThreshold,
		})
		r.eng.logger.Debug("iteration complete",
			"session_id", r.sess.ID,
			"iteration", hIndex,
			"confidence", rec.Confidence,
			"cycles", out.cycles,
			"local_converged", out.localConverged,
			"reason", decision.Reason,
		)

		if decision.Stop {
			return r.complete(ctx, decision.Converged)
		}
	}
}

// decompose runs the single planning pass for a decomposition session and
// records it as one iteration with no tactical cycles.
func (r *runner) decompose(ctx context.Context) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return r.abandon(err)
	}

	r.eng.emitter.Emit(events.TypeIterationStart, r.sess.ID, events.IterationStartData{Index: 0})

	startedAt := time.Now().UnixMilli()
	planStart := time.Now()
	pl, err := r.eng.planner.Plan(ctx, planner.PlanInput{Task: r.task, Iteration: 0})
	observability.RecordCollaboratorLatency("plan", time.Since(planStart).Seconds(), err)
	if err != nil {
		if ctx.Err() != nil {
			return r.abandon(ctx.Err())
		}
		return r.fail(ctx, KindPlanning, err)
	}

	rec := session.HIterationRecord{
		Index:       0,
		Directive:   pl.Directive,
		Output:      pl.Directive,
		Confidence:  pl.Confidence,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UnixMilli(),
	}
	if err := r.eng.store.AppendHIteration(ctx, r.sess.ID, rec); err != nil {
		if errors.Is(err, store.ErrSessionNotActive) {
			return r.standDown(ctx, err)
		}
		return r.fail(ctx, KindInternal, err)
	}
	r.sess.Iterations = append(r.sess.Iterations, rec)
	r.applyDerived(rec)
	observability.RecordIteration(0)

	r.eng.emitter.Emit(events.TypeIterationComplete, r.sess.ID, events.IterationCompleteData{
		Index:      0,
		Confidence: pl.Confidence,
		Qualified:  pl.Confidence >= r.sess.Config.MinConfidenceThreshold,
	})
	return r.complete(ctx, false)
}

// applyDerived mirrors the store's derived-field rule on the working
// snapshot so the next planning call sees the current best and overall
// values without a re-load.
func (r *runner) applyDerived(rec session.HIterationRecord) {
	if rec.Confidence >= r.sess.Config.MinConfidenceThreshold {
		r.sess.BestResult = rec.Output
		r.sess.OverallConfidence = rec.Confidence
	} else if r.sess.BestResult == nil && rec.Confidence > r.sess.OverallConfidence {
		r.sess.OverallConfidence = rec.Confidence
	}
}

// =============================================================================
// Terminal Paths
// =============================================================================

// complete moves the session to COMPLETED and returns the final record.
func (r *runner) complete(ctx context.Context, converged bool) (*session.Session, error) {
	err := r.eng.store.UpdateStatus(ctx, r.sess.ID, session.StatusCompleted, store.StatusUpdate{
		Converged: converged,
	})
	if err != nil {
		if errors.Is(err, session.ErrInvalidTransition) {
			return r.standDown(ctx, err)
		}
		return nil, fmt.Errorf("complete session %s: %w", r.sess.ID, err)
	}
	return r.finish(ctx, "")
}

// timeout moves the session to TIMEOUT after its wall-clock budget ran
// out.
func (r *runner) timeout(ctx context.Context) (*session.Session, error) {
	r.eng.logger.Warn("session run exceeded its wall-clock budget",
		"session_id", r.sess.ID,
		"budget", r.eng.timeout,
	)
	err := r.eng.store.UpdateStatus(ctx, r.sess.ID, session.StatusTimeout, store.StatusUpdate{})
	if err != nil {
		if errors.Is(err, session.ErrInvalidTransition) {
			return r.standDown(ctx, err)
		}
		return nil, fmt.Errorf("time out session %s: %w", r.sess.ID, err)
	}
	return r.finish(ctx, "")
}

// fail records the failure on the session and moves it to ERROR. The
// terminal report is returned with a nil error: the run was accepted, so
// the failure lives in the session record, not the call result.
func (r *runner) fail(ctx context.Context, kind string, cause error) (*session.Session, error) {
	r.eng.logger.Error("session run failed",
		"session_id", r.sess.ID,
		"kind", kind,
		"error", cause,
	)
	err := r.eng.store.UpdateStatus(ctx, r.sess.ID, session.StatusError, store.StatusUpdate{
		ErrorKind:   kind,
		ErrorDetail: cause.Error(),
	})
	if err != nil {
		if errors.Is(err, session.ErrInvalidTransition) {
			return r.standDown(ctx, err)
		}
		return nil, fmt.Errorf("record failure on session %s: %w", r.sess.ID, err)
	}
	r.eng.emitter.Emit(events.TypeError, r.sess.ID, events.ErrorData{
		Error:       cause.Error(),
		Kind:        kind,
		Recoverable: recoverableKind(kind),
	})
	return r.finish(ctx, cause.Error())
}

// standDown yields to whoever moved the session to a terminal status
// first, normally the timeout sweep, and reports the stored outcome.
func (r *runner) standDown(ctx context.Context, cause error) (*session.Session, error) {
	r.eng.logger.Warn("runner lost the terminal-status race, standing down",
		"session_id", r.sess.ID,
		"cause", cause,
	)
	return r.finish(ctx, "")
}

// abandon stops the runner without touching the session. The caller went
// away; the session stays ACTIVE and the timeout sweep retires it.
func (r *runner) abandon(cause error) (*session.Session, error) {
	r.eng.logger.Warn("session run abandoned",
		"session_id", r.sess.ID,
		"cause", cause,
	)
	observability.RecordSessionEnd(r.op, "abandoned", time.Since(r.started).Seconds(),
		len(r.sess.Iterations), r.sess.OverallConfidence)
	return nil, fmt.Errorf("session %s run abandoned: %w", r.sess.ID, cause)
}

// finish loads the authoritative terminal record, records the run metrics,
// and emits the session end event.
func (r *runner) finish(ctx context.Context, errMsg string) (*session.Session, error) {
	final, err := r.eng.store.Load(ctx, r.sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load final session %s: %w", r.sess.ID, err)
	}

	duration := time.Since(r.started)
	observability.RecordSessionEnd(r.op, string(final.Status), duration.Seconds(),
		len(final.Iterations), final.OverallConfidence)

	if errMsg == "" {
		errMsg = final.ErrorDetail
	}
	r.eng.emitter.Emit(events.TypeSessionEnd, final.ID, events.SessionEndData{
		Status:            string(final.Status),
		Converged:         final.Converged,
		Iterations:        len(final.Iterations),
		TotalCycles:       final.TotalCycles(),
		OverallConfidence: final.OverallConfidence,
		Duration:          duration,
		Error:             errMsg,
	})
	r.eng.logger.Info("session finished",
		"session_id", final.ID,
		"status", string(final.Status),
		"converged", final.Converged,
		"iterations", len(final.Iterations),
		"overall_confidence", final.OverallConfidence,
		"duration", duration.Round(time.Millisecond),
	)
	return final, nil
}
