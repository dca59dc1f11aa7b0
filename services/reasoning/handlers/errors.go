// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP invocation surface for the reasoning
// engine: the four reasoning operations, session administration, the
// websocket event stream, and health.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Denali/services/reasoning/engine"
)

// statusForKind maps an engine error kind to an HTTP status.
//
// Capacity maps to 429 so well-behaved clients back off and retry.
// Integrity kinds (transition, sequence, duplicate) map to 409: the
// request conflicted with the session's recorded state.
func statusForKind(kind string) int {
	switch kind {
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindCapacity:
		return http.StatusTooManyRequests
	case engine.KindUnknownSession:
		return http.StatusNotFound
	case engine.KindDuplicateSession,
		engine.KindInvalidTransition,
		engine.KindInvalidSequence:
		return http.StatusConflict
	case engine.KindPlanning, engine.KindRefinement:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError classifies err and writes the structured failure body.
func respondError(c *gin.Context, err error) {
	ee := engine.Classify(err)
	c.JSON(statusForKind(ee.Kind), gin.H{"error": ee})
}
