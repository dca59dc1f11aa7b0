// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/Denali/services/llm"
)

const (
	planSystemPrompt = "You are the strategic layer of a hierarchical reasoning engine. " +
		"Given a task, produce the next high-level directive for the tactical layer. " +
		"Reply with a single JSON object and nothing else."

	refineSystemPrompt = "You are the tactical layer of a hierarchical reasoning engine. " +
		"Given a directive, produce or refine a concrete solution. " +
		"Reply with a single JSON object and nothing else."

	// Confidence used when the model omits or mangles its own estimate.
	defaultPlanConfidence   = 0.5
	defaultRefineConfidence = 0.6
)

// LLM is a Planner and Refiner backed by a text generation model. Calls are
// throttled by a shared rate limiter so concurrent sessions cannot stampede
// the backend.
//
// The model is asked for a JSON envelope carrying a "confidence" field. The
// whole envelope is passed through as the opaque payload; only the confidence
// is extracted, for the convergence loops.
type LLM struct {
	client  llm.LLMClient
	limiter *rate.Limiter
}

// NewLLM wraps client with request shaping. requestsPerSecond must be
// positive; burst is clamped to at least 1.
func NewLLM(client llm.LLMClient, requestsPerSecond float64, burst int) *LLM {
	if burst < 1 {
		burst = 1
	}
	return &LLM{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Plan implements the Planner interface.
func (p *LLM) Plan(ctx context.Context, in PlanInput) (Plan, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Plan{}, err
	}

	var sb strings.Builder
	sb.WriteString("Task:\n")
	sb.Write(in.Task)
	fmt.Fprintf(&sb, "\n\nStrategic iteration: %d\n", in.Iteration)
	if len(in.Best) > 0 {
		sb.WriteString("\nBest solution so far:\n")
		sb.Write(in.Best)
		fmt.Fprintf(&sb, "\nOverall confidence so far: %.2f\n", in.Overall)
	}
	sb.WriteString("\nProduce the next directive as JSON with the fields " +
		`"instruction" (string), "goal" (string), "constraints" (array of strings), ` +
		`and "confidence" (number between 0 and 1 estimating how promising this direction is).`)

	reply, err := p.generate(ctx, planSystemPrompt, sb.String())
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrPlanning, err)
	}

	directive, err := extractJSON(reply)
	if err != nil {
		slog.Warn("Planner reply was not valid JSON", "iteration", in.Iteration, "error", err)
		return Plan{}, fmt.Errorf("%w: %v", ErrPlanning, err)
	}

	confidence := confidenceFrom(directive, defaultPlanConfidence)
	slog.Debug("Planned directive", "iteration", in.Iteration, "confidence", confidence)
	return Plan{Directive: directive, Confidence: confidence}, nil
}

// Refine implements the Refiner interface.
func (p *LLM) Refine(ctx context.Context, in RefineInput) (Refinement, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Refinement{}, err
	}

	var sb strings.Builder
	sb.WriteString("Task:\n")
	sb.Write(in.Task)
	sb.WriteString("\n\nDirective:\n")
	sb.Write(in.Directive)
	fmt.Fprintf(&sb, "\n\nStrategic iteration: %d, refinement cycle: %d\n", in.Iteration, in.Cycle)
	if len(in.Prior) > 0 {
		sb.WriteString("\nPrevious attempt:\n")
		sb.Write(in.Prior)
		fmt.Fprintf(&sb, "\nPrevious confidence: %.2f\n", in.PriorConfidence)
		sb.WriteString("\nImprove on the previous attempt where it falls short of the directive.")
	}
	sb.WriteString("\nReply as JSON with the fields " +
		`"solution" (string), "success" (boolean), ` +
		`and "confidence" (number between 0 and 1 estimating solution quality).`)

	reply, err := p.generate(ctx, refineSystemPrompt, sb.String())
	if err != nil {
		return Refinement{}, fmt.Errorf("%w: %v", ErrRefinement, err)
	}

	output, err := extractJSON(reply)
	if err != nil {
		slog.Warn("Refiner reply was not valid JSON",
			"iteration", in.Iteration, "cycle", in.Cycle, "error", err)
		return Refinement{}, fmt.Errorf("%w: %v", ErrRefinement, err)
	}

	confidence := confidenceFrom(output, defaultRefineConfidence)
	slog.Debug("Refined solution",
		"iteration", in.Iteration, "cycle", in.Cycle, "confidence", confidence)
	return Refinement{Output: output, Confidence: confidence}, nil
}

func (p *LLM) generate(ctx context.Context, system, prompt string) (string, error) {
	temp := float32(0.2)
	return p.client.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: &temp,
		System:      system,
		JSONMode:    true,
	})
}

// extractJSON returns the outermost JSON object in a model reply, tolerating
// markdown code fences and prose around it.
func extractJSON(reply string) (json.RawMessage, error) {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	raw := json.RawMessage(reply[start : end+1])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("reply is not valid JSON")
	}
	return raw, nil
}

func confidenceFrom(raw json.RawMessage, fallback float64) float64 {
	var envelope struct {
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Confidence != nil {
		return clamp01(*envelope.Confidence)
	}
	return fallback
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
