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
	"fmt"
	"math"

	"github.com/AleutianAI/Denali/services/reasoning/session"
)

const (
	// Sessions needing more than this many iterations are flagged as
	// converging slowly.
	slowConvergenceIterations = 8

	// Final confidence below this flags a low-confidence outcome.
	lowConfidenceThreshold = 0.7

	// Confidence movement smaller than this reads as a flat trend.
	trendEpsilon = 0.01
)

// SessionSummary describes a session's shape at a glance.
type SessionSummary struct {
	SessionID           string  `json:"session_id"`
	Status              string  `json:"status"`
	Operation           string  `json:"operation"`
	TotalIterations     int     `json:"total_iterations"`
	TotalCycles         int     `json:"total_cycles"`
	ComputationTime     float64 `json:"computation_time"`
	ConvergenceAchieved bool    `json:"convergence_achieved"`
	FinalConfidence     float64 `json:"final_confidence"`
}

// PerformanceMetrics holds throughput and efficiency figures for a
// session.
type PerformanceMetrics struct {
	IterationsPerSecond   float64 `json:"iterations_per_second"`
	AvgCyclesPerIteration float64 `json:"avg_cycles_per_iteration"`
	ConvergenceEfficiency float64 `json:"convergence_efficiency"`
}

// BottleneckAnalysis flags the common failure shapes with suggested fixes.
type BottleneckAnalysis struct {
	SlowConvergence bool     `json:"slow_convergence"`
	LowConfidence   bool     `json:"low_confidence"`
	Recommendations []string `json:"recommendations"`
}

// Analysis is the read-only performance report for a session. Producing it
// never mutates the session, so repeated calls on a terminal session
// return identical reports.
type Analysis struct {
	SessionSummary     SessionSummary     `json:"session_summary"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
	BottleneckAnalysis BottleneckAnalysis `json:"bottleneck_analysis"`
	ConfidenceTrend    string             `json:"confidence_trend"`
}

// Analyze builds the performance report for a session.
//
// Inputs:
//
//	ctx - Bounds the store load.
//	sessionID - The session to analyze. Works for any status.
//
// Outputs:
//
//	*Analysis: The report.
//	error: ErrValidation or store.ErrUnknownSession.
func (e *Engine) Analyze(ctx context.Context, sessionID string) (*Analysis, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrValidation)
	}
	sess, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return analyzeSession(sess), nil
}

func analyzeSession(s *session.Session) *Analysis {
	iterations := len(s.Iterations)
	totalCycles := s.TotalCycles()
	computation := computationSeconds(s)

	var perSecond float64
	var avgCycles float64
	if iterations > 0 {
		perSecond = float64(iterations) / math.Max(computation, 0.1)
		avgCycles = float64(totalCycles) / float64(iterations)
	}
	efficiency := 0.5
	if s.Converged {
		efficiency = 1.0
	}

	slow := iterations > slowConvergenceIterations
	low := s.OverallConfidence < lowConfidenceThreshold
	var recommendations []string
	if slow {
		recommendations = append(recommendations, "Consider breaking down the task into smaller subtasks")
	}
	if low {
		recommendations = append(recommendations, "Task may need more context or clearer constraints")
	}

	return &Analysis{
		SessionSummary: SessionSummary{
			SessionID:           s.ID,
			Status:              string(s.Status),
			Operation:           string(s.Operation),
			TotalIterations:     iterations,
			TotalCycles:         totalCycles,
			ComputationTime:     computation,
			ConvergenceAchieved: s.Converged,
			FinalConfidence:     s.OverallConfidence,
		},
		PerformanceMetrics: PerformanceMetrics{
			IterationsPerSecond:   perSecond,
			AvgCyclesPerIteration: avgCycles,
			ConvergenceEfficiency: efficiency,
		},
		BottleneckAnalysis: BottleneckAnalysis{
			SlowConvergence: slow,
			LowConfidence:   low,
			Recommendations: recommendations,
		},
		ConfidenceTrend: confidenceTrend(s.Iterations),
	}
}

// computationSeconds sums the wall time spent inside iterations, which
// excludes the idle gap between a timeout and a later resumption.
func computationSeconds(s *session.Session) float64 {
	var ms int64
	for _, it := range s.Iterations {
		if it.CompletedAt > it.StartedAt {
			ms += it.CompletedAt - it.StartedAt
		}
	}
	return float64(ms) / 1000.0
}

// confidenceTrend compares the last iteration's confidence against the
// first.
func confidenceTrend(iters []session.HIterationRecord) string {
	if len(iters) < 2 {
		return "stable"
	}
	diff := iters[len(iters)-1].Confidence - iters[0].Confidence
	switch {
	case diff > trendEpsilon:
		return "improving"
	case diff < -trendEpsilon:
		return "declining"
	default:
		return "stable"
	}
}
