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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Denali/services/reasoning/engine"
	"github.com/AleutianAI/Denali/services/reasoning/session"
)

// ListSessions lists session summaries, optionally filtered by status.
//
// Query parameters:
//
//	status - Optional. One of ACTIVE, COMPLETED, TIMEOUT, ERROR.
func ListSessions(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var statuses []session.Status
		if raw := c.Query("status"); raw != "" {
			st := session.Status(raw)
			valid := false
			for _, known := range session.AllStatuses() {
				if st == known {
					valid = true
					break
				}
			}
			if !valid {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + raw})
				return
			}
			statuses = append(statuses, st)
		}

		sessions, err := eng.List(c.Request.Context(), statuses...)
		if err != nil {
			respondError(c, err)
			return
		}

		reports := make([]SessionReport, len(sessions))
		for i, s := range sessions {
			reports[i] = newSessionReport(s)
		}
		c.JSON(http.StatusOK, gin.H{
			"sessions": reports,
			"count":    len(reports),
		})
	}
}

// GetSession returns the full reconstructed session, trace included.
func GetSession(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := eng.Get(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// AnalyzeSession computes read-only summary statistics over a session's
// trace. Calling it twice on the same terminal session yields identical
// results.
func AnalyzeSession(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		analysis, err := eng.Analyze(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, analysis)
	}
}

// DeleteSession removes a session and its trace from the store.
func DeleteSession(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		if err := eng.Delete(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		slog.Info("deleted session", "session_id", id)
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "session_id": id})
	}
}
