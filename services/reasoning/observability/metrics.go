// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability defines the Prometheus metrics for the reasoning
// engine. Metrics are registered at import time and recorded through the
// exported helpers.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Reasoning Sessions
// =============================================================================

var (
	// sessionsStarted counts sessions entering the ACTIVE state.
	// Labels: operation (reason, decompose, refine)
	sessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "denali",
		Subsystem: "reasoning",
		Name:      "sessions_started_total",
		Help:      "Total reasoning sessions started",
	}, []string{"operation"})

	// sessionsFinished counts sessions reaching a terminal state.
	// Labels: operation, status (COMPLETED, TIMEOUT, ERROR)
	sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "denali",
		Subsystem: "reasoning",
		Name:      "sessions_finished_total",
		Help:      "Total reasoning sessions finished by terminal status",
	}, []string{"operation", "status"})

	// sessionDuration measures wall time from start to terminal state.
	// Labels: operation, status
	sessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "denali",
		Subsystem: "reasoning",
		Name:      "session_duration_seconds",
		Help:      "Session wall time in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"operation", "status"})

	// sessionIterations tracks how many strategic iterations sessions used.
	// Labels: operation
	sessionIterations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "denali",
		Subsystem: "reasoning",
		Name:      "iterations_per_session",
		Help:      "Strategic iterations per session",
		Buckets:   []float64{1, 2, 3, 4, 6, 8, 10, 15, 20, 30},
	}, []string{"operation"})

	// iterationCycles tracks how many tactical cycles iterations used.
	iterationCycles = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "denali",
		Subsystem: "reasoning",
		Name:      "cycles_per_iteration",
		Help:      "Tactical cycles per strategic iteration",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10, 12, 16},
	})

	// cycleConfidence tracks the distribution of per-cycle confidences.
	cycleConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "denali",
		Subsystem: "reasoning",
		Name:      "cycle_confidence",
		Help:      "Distribution of tactical cycle confidence scores",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
	})

	// overallConfidence tracks final overall confidence at termination.
	// Labels: status
	overallConfidence = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "denali",
		Subsystem: "reasoning",
		Name:      "overall_confidence",
		Help:      "Overall session confidence at terminal state",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
	}, []string{"status"})

	// activeSessions gauges sessions currently holding a concurrency slot.
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "denali",
		Subsystem: "reasoning",
		Name:      "active_sessions",
		Help:      "Sessions currently running",
	})

	// capacityRejections counts requests refused because all slots were busy.
	capacityRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "denali",
		Subsystem: "reasoning",
		Name:      "capacity_rejections_total",
		Help:      "Requests rejected because max_concurrent_sessions was reached",
	})

	// collaboratorLatency measures planner and refiner call latency.
	// Labels: phase (plan, refine), status (success, error)
	collaboratorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "denali",
		Subsystem: "reasoning",
		Name:      "collaborator_latency_seconds",
		Help:      "Planner and refiner call latency in seconds",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"phase", "status"})

	// sessionsSwept counts sessions moved to TIMEOUT by the background sweep.
	sessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "denali",
		Subsystem: "reasoning",
		Name:      "sessions_swept_total",
		Help:      "Sessions timed out by the background sweep",
	})

	// sessionsPruned counts terminal sessions removed by retention pruning.
	sessionsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "denali",
		Subsystem: "reasoning",
		Name:      "sessions_pruned_total",
		Help:      "Terminal sessions deleted by retention pruning",
	})
)

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// RecordSessionStart records a session entering ACTIVE.
//
// Inputs:
//
//	operation - "reason", "decompose", or "refine".
func RecordSessionStart(operation string) {
	sessionsStarted.WithLabelValues(operation).Inc()
	activeSessions.Inc()
}

// RecordSessionEnd records a session reaching a terminal status.
//
// Inputs:
//
//	operation - "reason", "decompose", or "refine".
//	status - Terminal status string (COMPLETED, TIMEOUT, ERROR).
//	durationSec - Wall time of the run in seconds.
//	iterations - Strategic iterations the run appended.
//	confidence - Final overall confidence.
func RecordSessionEnd(operation, status string, durationSec float64, iterations int, confidence float64) {
	sessionsFinished.WithLabelValues(operation, status).Inc()
	sessionDuration.WithLabelValues(operation, status).Observe(durationSec)
	sessionIterations.WithLabelValues(operation).Observe(float64(iterations))
	overallConfidence.WithLabelValues(status).Observe(confidence)
	activeSessions.Dec()
}

// RecordIteration records a completed strategic iteration.
//
// Inputs:
//
//	cycles - Tactical cycles the iteration used.
func RecordIteration(cycles int) {
	iterationCycles.Observe(float64(cycles))
}

// RecordCycleConfidence records a tactical cycle's confidence score.
func RecordCycleConfidence(confidence float64) {
	cycleConfidence.Observe(confidence)
}

// RecordCapacityRejection records a request refused for lack of slots.
func RecordCapacityRejection() {
	capacityRejections.Inc()
}

// RecordCollaboratorLatency records one planner or refiner call.
//
// Inputs:
//
//	phase - "plan" or "refine".
//	durationSec - Call duration in seconds.
//	err - The call's error, nil on success.
func RecordCollaboratorLatency(phase string, durationSec float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	collaboratorLatency.WithLabelValues(phase, status).Observe(durationSec)
}

// RecordSweep records sessions timed out by the background sweep.
func RecordSweep(count int) {
	sessionsSwept.Add(float64(count))
}

// RecordPrune records terminal sessions removed by retention pruning.
func RecordPrune(count int) {
	sessionsPruned.Add(float64(count))
}
