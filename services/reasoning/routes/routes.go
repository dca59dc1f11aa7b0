// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Denali/services/reasoning/engine"
	"github.com/AleutianAI/Denali/services/reasoning/handlers"
)

// SetupRoutes registers the reasoning API on the router.
//
// Inputs:
//
//	router - The gin engine to register on.
//	eng - The reasoning engine serving the operations.
//	metricsHandler - The /metrics handler. May be nil when metrics are
//	                 disabled or exported elsewhere.
func SetupRoutes(router *gin.Engine, eng *engine.Engine, metricsHandler http.Handler) {
	router.GET("/health", handlers.HealthCheck(eng))
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	v1 := router.Group("/v1")
	{
		reasoning := v1.Group("/reasoning")
		{
			reasoning.POST("/reason", handlers.HandleReason(eng))
			reasoning.POST("/decompose", handlers.HandleDecompose(eng))
			reasoning.POST("/refine", handlers.HandleRefine(eng))

			sessions := reasoning.Group("/sessions")
			{
				sessions.GET("", handlers.ListSessions(eng))
				sessions.GET("/:sessionId", handlers.GetSession(eng))
				sessions.GET("/:sessionId/analysis", handlers.AnalyzeSession(eng))
				sessions.GET("/:sessionId/events", handlers.HandleSessionEvents(eng.Events()))
				sessions.DELETE("/:sessionId", handlers.DeleteSession(eng))
			}
		}
	}
}
