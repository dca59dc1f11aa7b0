// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides clients for the text generation backends the planner
// can run on. All backends implement the LLMClient interface.
package llm

import "context"

// GenerationParams are the sampling knobs shared by every backend. Nil
// pointer fields mean "use the backend default". System and JSONMode are
// request shaping rather than sampling: System sets the system prompt and
// JSONMode asks the backend to emit a single JSON object.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
	System      string   `json:"system,omitempty"`
	JSONMode    bool     `json:"json_mode,omitempty"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}
