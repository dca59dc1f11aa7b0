// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package convergence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Denali/services/reasoning/session"
)

func testLimits() session.Limits {
	return session.Limits{
		MaxIterations:          10,
		MinConfidenceThreshold: 0.7,
		MaxCyclesPerH:          6,
		MinCyclesPerH:          3,
		GlobalThreshold:        0.85,
		StabilityEpsilon:       0.01,
	}
}

// -----------------------------------------------------------------------------
// Local
// -----------------------------------------------------------------------------

func TestLocal_FloorIsAbsolute(t *testing.T) {
	lim := testLimits()

	t.Run("tiny delta before floor never converges", func(t *testing.T) {
		// Cycle 1 delta is 0.01 < would-be epsilon territory, but only two
		// cycles have run against a floor of three.
		d := Local([]float64{0.9, 0.905}, lim)
		assert.False(t, d.Stop)
		assert.False(t, d.Converged)
		assert.Equal(t, ReasonFloorNotReached, d.Reason)
	})

	t.Run("identical confidences before floor never converge", func(t *testing.T) {
		d := Local([]float64{0.9, 0.9}, lim)
		assert.False(t, d.Stop)
		assert.Equal(t, ReasonFloorNotReached, d.Reason)
	})

	t.Run("single cycle below floor", func(t *testing.T) {
		d := Local([]float64{0.5}, lim)
		assert.False(t, d.Stop)
		assert.Equal(t, ReasonFloorNotReached, d.Reason)
	})
}

func TestLocal_DeltaCriterion(t *testing.T) {
	lim := testLimits()

	t.Run("stable delta at floor converges early", func(t *testing.T) {
		d := Local([]float64{0.80, 0.84, 0.845}, lim)
		require.True(t, d.Stop)
		assert.True(t, d.Converged)
		assert.Equal(t, ReasonDeltaStable, d.Reason)
		assert.InDelta(t, 0.005, d.Metric, 1e-9)
	})

	t.Run("moving confidence keeps cycling", func(t *testing.T) {
		d := Local([]float64{0.5, 0.6, 0.7}, lim)
		assert.False(t, d.Stop)
		assert.Equal(t, ReasonNotStable, d.Reason)
	})

	t.Run("declining confidence can still stabilize", func(t *testing.T) {
		d := Local([]float64{0.9, 0.7, 0.699}, lim)
		require.True(t, d.Stop)
		assert.True(t, d.Converged)
	})
}

func TestLocal_CycleBudget(t *testing.T) {
	lim := testLimits()

	t.Run("cap reached forces stop without convergence", func(t *testing.T) {
		d := Local([]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, lim)
		require.True(t, d.Stop)
		assert.False(t, d.Converged)
		assert.Equal(t, ReasonCycleBudget, d.Reason)
	})

	t.Run("stable exactly at cap is exhaustion not convergence", func(t *testing.T) {
		d := Local([]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.5005}, lim)
		require.True(t, d.Stop)
		assert.False(t, d.Converged)
		assert.Equal(t, ReasonCycleBudget, d.Reason)
	})

	t.Run("single-cycle budget stops immediately", func(t *testing.T) {
		lim := lim
		lim.MinCyclesPerH = 1
		lim.MaxCyclesPerH = 1
		d := Local([]float64{0.5}, lim)
		require.True(t, d.Stop)
		assert.False(t, d.Converged)
	})
}

// -----------------------------------------------------------------------------
// Overall
// -----------------------------------------------------------------------------

func iters(confidences ...float64) []session.HIterationRecord {
	out := make([]session.HIterationRecord, len(confidences))
	for i, c := range confidences {
		out[i] = session.HIterationRecord{Index: i, Confidence: c}
	}
	return out
}

func TestOverall(t *testing.T) {
	t.Run("most recent qualifying iteration wins", func(t *testing.T) {
		// 0.9 qualified earlier, but 0.75 is the most recent qualifier.
		got := Overall(iters(0.9, 0.75), 0.7)
		assert.InDelta(t, 0.75, got, 1e-9)
	})

	t.Run("falls back to maximum when none qualify", func(t *testing.T) {
		got := Overall(iters(0.3, 0.6, 0.5), 0.7)
		assert.InDelta(t, 0.6, got, 1e-9)
	})

	t.Run("empty history is zero", func(t *testing.T) {
		assert.Zero(t, Overall(nil, 0.7))
	})
}

// -----------------------------------------------------------------------------
// Global
// -----------------------------------------------------------------------------

func TestGlobal_Threshold(t *testing.T) {
	lim := testLimits()

	t.Run("overall at threshold converges", func(t *testing.T) {
		d := Global(iters(0.70, 0.75, 0.80, 0.85), lim)
		require.True(t, d.Stop)
		assert.True(t, d.Converged)
		assert.Equal(t, ReasonGlobalThreshold, d.Reason)
		assert.InDelta(t, 0.85, d.Metric, 1e-9)
	})

	t.Run("below threshold keeps iterating", func(t *testing.T) {
		d := Global(iters(0.70, 0.75), lim)
		assert.False(t, d.Stop)
		assert.Equal(t, ReasonBelowThreshold, d.Reason)
	})

	t.Run("convergence implies metric at or above threshold", func(t *testing.T) {
		for _, history := range [][]float64{
			{0.85},
			{0.2, 0.9},
			{0.86, 0.3, 0.88},
		} {
			d := Global(iters(history...), lim)
			if d.Converged {
				assert.GreaterOrEqual(t, d.Metric, lim.GlobalThreshold)
			}
		}
	})
}

func TestGlobal_IterationBudget(t *testing.T) {
	lim := testLimits()

	t.Run("cap exhaustion stops without convergence", func(t *testing.T) {
		history := iters(0.6, 0.6, 0.6, 0.6, 0.6, 0.6, 0.6, 0.6, 0.6, 0.6)
		d := Global(history, lim)
		require.True(t, d.Stop)
		assert.False(t, d.Converged)
		assert.Equal(t, ReasonIterationBudget, d.Reason)
		assert.Less(t, d.Metric, lim.GlobalThreshold)
	})

	t.Run("resumption budget uses record indices", func(t *testing.T) {
		// A resumed session with four prior iterations and a fresh budget of
		// two: effective cap is six, so index 5 is the last allowed.
		lim := lim
		lim.MaxIterations = 6
		history := iters(0.6, 0.6, 0.6, 0.6, 0.6, 0.6)
		d := Global(history, lim)
		require.True(t, d.Stop)
		assert.False(t, d.Converged)
	})
}
