// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Denali/services/reasoning/engine"
	"github.com/AleutianAI/Denali/services/reasoning/session"
)

// SessionReport is the terminal-run summary returned by the reasoning
// operations. It carries enough to tell "ran out of budget" from
// "actually failed" without fetching the full trace.
type SessionReport struct {
	SessionID         string          `json:"session_id"`
	Status            string          `json:"status"`
	Operation         string          `json:"operation"`
	Converged         bool            `json:"converged"`
	OverallConfidence float64         `json:"overall_confidence"`
	Iterations        int             `json:"iterations"`
	TotalCycles       int             `json:"total_cycles"`
	BestResult        json.RawMessage `json:"best_result,omitempty"`
	ErrorKind         string          `json:"error_kind,omitempty"`
	ErrorDetail       string          `json:"error_detail,omitempty"`
	CreatedAt         int64           `json:"created_at"`
	TerminalAt        int64           `json:"terminal_at,omitempty"`
}

func newSessionReport(s *session.Session) SessionReport {
	return SessionReport{
		SessionID:         s.ID,
		Status:            string(s.Status),
		Operation:         string(s.Operation),
		Converged:         s.Converged,
		OverallConfidence: s.OverallConfidence,
		Iterations:        len(s.Iterations),
		TotalCycles:       s.TotalCycles(),
		BestResult:        s.BestResult,
		ErrorKind:         s.ErrorKind,
		ErrorDetail:       s.ErrorDetail,
		CreatedAt:         s.CreatedAt,
		TerminalAt:        s.TerminalAt,
	}
}

// HandleReason runs the full dual-loop reasoning operation.
//
// Description:
//
//	Accepts a task payload plus optional limit overrides and blocks
//	until the session reaches a terminal status. An accepted run always
//	answers 200 with the terminal report, ERROR outcomes included;
//	rejections (validation, capacity) answer with the mapped status.
func HandleReason(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req engine.ReasonRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Warn("rejected malformed reason request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		slog.Info("reason request accepted for processing")
		sess, err := eng.Reason(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, newSessionReport(sess))
	}
}

// HandleDecompose runs a single planning pass with no tactical refinement.
// The response carries the dependency-annotated subtask tree as the
// decomposition payload.
func HandleDecompose(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req engine.DecomposeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Warn("rejected malformed decompose request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		sess, err := eng.Decompose(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}

		report := newSessionReport(sess)
		var decomposition json.RawMessage
		if last := sess.LastIteration(); last != nil {
			decomposition = last.Directive
		}
		c.JSON(http.StatusOK, gin.H{
			"report":        report,
			"decomposition": decomposition,
		})
	}
}

// HandleRefine resumes a finished session's best result for further
// strategic iterations.
func HandleRefine(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req engine.RefineRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Warn("rejected malformed refine request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if req.SessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
			return
		}

		slog.Info("refine request accepted", "session_id", req.SessionID)
		sess, err := eng.Refine(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, newSessionReport(sess))
	}
}
