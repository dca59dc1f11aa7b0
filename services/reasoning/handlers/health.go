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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Denali/services/reasoning/engine"
	"github.com/AleutianAI/Denali/services/reasoning/session"
)

// HealthCheck reports service liveness and the current session load.
// The store round-trip doubles as a readiness probe: a store that cannot
// list sessions makes the service unhealthy, not just slow.
func HealthCheck(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		active, err := eng.List(c.Request.Context(), session.StatusActive)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"service":         "denali",
			"active_sessions": len(active),
		})
	}
}
