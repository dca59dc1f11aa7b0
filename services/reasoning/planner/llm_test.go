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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Denali/services/llm"
)

type fakeCall struct {
	prompt string
	params llm.GenerationParams
}

// fakeLLM replays canned replies and records every call. The last reply
// repeats once the list is exhausted.
type fakeLLM struct {
	replies []string
	err     error
	calls   []fakeCall
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, params llm.GenerationParams) (string, error) {
	f.calls = append(f.calls, fakeCall{prompt: prompt, params: params})
	if f.err != nil {
		return "", f.err
	}
	i := len(f.calls) - 1
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	return f.replies[i], nil
}

func newTestLLM(client llm.LLMClient) *LLM {
	return NewLLM(client, 1000, 10)
}

func TestLLM_Plan(t *testing.T) {
	reply := `{"instruction":"design the limiter","goal":"architecture","constraints":["keep it simple"],"confidence":0.7}`
	fake := &fakeLLM{replies: []string{reply}}
	p := newTestLLM(fake)

	plan, err := p.Plan(context.Background(), PlanInput{
		Task:      json.RawMessage(`{"description":"Create a rate limiter"}`),
		Iteration: 0,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.7, plan.Confidence, 1e-9)
	assert.JSONEq(t, reply, string(plan.Directive))

	require.Len(t, fake.calls, 1)
	call := fake.calls[0]
	assert.Equal(t, planSystemPrompt, call.params.System)
	assert.True(t, call.params.JSONMode)
	assert.Contains(t, call.prompt, `"description":"Create a rate limiter"`)
	assert.Contains(t, call.prompt, "Strategic iteration: 0")
	assert.NotContains(t, call.prompt, "Best solution so far")
}

func TestLLM_Plan_IncludesBestSolution(t *testing.T) {
	fake := &fakeLLM{replies: []string{`{"instruction":"x","confidence":0.6}`}}
	p := newTestLLM(fake)

	_, err := p.Plan(context.Background(), PlanInput{
		Task:      json.RawMessage(`"Create a rate limiter"`),
		Iteration: 2,
		Best:      json.RawMessage(`{"solution":"draft"}`),
		Overall:   0.55,
	})
	require.NoError(t, err)

	prompt := fake.calls[0].prompt
	assert.Contains(t, prompt, "Best solution so far")
	assert.Contains(t, prompt, `{"solution":"draft"}`)
	assert.Contains(t, prompt, "Overall confidence so far: 0.55")
}

func TestLLM_Plan_FencedReply(t *testing.T) {
	fake := &fakeLLM{replies: []string{
		"```json\n{\"instruction\":\"x\",\"confidence\":0.4}\n```",
	}}
	p := newTestLLM(fake)

	plan, err := p.Plan(context.Background(), PlanInput{Task: json.RawMessage(`"t"`)})
	require.NoError(t, err)
	assert.InDelta(t, 0.4, plan.Confidence, 1e-9)
	assert.JSONEq(t, `{"instruction":"x","confidence":0.4}`, string(plan.Directive))
}

func TestLLM_Plan_MissingConfidenceFallsBack(t *testing.T) {
	fake := &fakeLLM{replies: []string{`{"instruction":"x"}`}}
	p := newTestLLM(fake)

	plan, err := p.Plan(context.Background(), PlanInput{Task: json.RawMessage(`"t"`)})
	require.NoError(t, err)
	assert.InDelta(t, defaultPlanConfidence, plan.Confidence, 1e-9)
}

func TestLLM_Plan_ClampsConfidence(t *testing.T) {
	fake := &fakeLLM{replies: []string{`{"instruction":"x","confidence":1.7}`}}
	p := newTestLLM(fake)

	plan, err := p.Plan(context.Background(), PlanInput{Task: json.RawMessage(`"t"`)})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, plan.Confidence, 1e-9)
}

func TestLLM_Plan_InvalidReply(t *testing.T) {
	fake := &fakeLLM{replies: []string{"I cannot answer in JSON, sorry."}}
	p := newTestLLM(fake)

	_, err := p.Plan(context.Background(), PlanInput{Task: json.RawMessage(`"t"`)})
	require.ErrorIs(t, err, ErrPlanning)
}

func TestLLM_Plan_BackendError(t *testing.T) {
	fake := &fakeLLM{err: errors.New("connection refused")}
	p := newTestLLM(fake)

	_, err := p.Plan(context.Background(), PlanInput{Task: json.RawMessage(`"t"`)})
	require.ErrorIs(t, err, ErrPlanning)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLLM_Refine(t *testing.T) {
	reply := `{"solution":"a token bucket","success":true,"confidence":0.8}`
	fake := &fakeLLM{replies: []string{reply}}
	p := newTestLLM(fake)

	ref, err := p.Refine(context.Background(), RefineInput{
		Task:      json.RawMessage(`"Create a rate limiter"`),
		Directive: json.RawMessage(`{"instruction":"design the limiter"}`),
		Iteration: 1,
		Cycle:     2,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.8, ref.Confidence, 1e-9)
	assert.JSONEq(t, reply, string(ref.Output))

	call := fake.calls[0]
	assert.Equal(t, refineSystemPrompt, call.params.System)
	assert.True(t, call.params.JSONMode)
	assert.Contains(t, call.prompt, `{"instruction":"design the limiter"}`)
	assert.Contains(t, call.prompt, "refinement cycle: 2")
	assert.NotContains(t, call.prompt, "Previous attempt")
}

func TestLLM_Refine_IncludesPriorAttempt(t *testing.T) {
	fake := &fakeLLM{replies: []string{`{"solution":"v2","success":true,"confidence":0.9}`}}
	p := newTestLLM(fake)

	_, err := p.Refine(context.Background(), RefineInput{
		Task:            json.RawMessage(`"t"`),
		Directive:       json.RawMessage(`{"instruction":"x"}`),
		Prior:           json.RawMessage(`{"solution":"v1"}`),
		PriorConfidence: 0.42,
		Cycle:           1,
	})
	require.NoError(t, err)

	prompt := fake.calls[0].prompt
	assert.Contains(t, prompt, "Previous attempt")
	assert.Contains(t, prompt, `{"solution":"v1"}`)
	assert.Contains(t, prompt, "Previous confidence: 0.42")
}

func TestLLM_Refine_MissingConfidenceFallsBack(t *testing.T) {
	fake := &fakeLLM{replies: []string{`{"solution":"s","success":true}`}}
	p := newTestLLM(fake)

	ref, err := p.Refine(context.Background(), RefineInput{
		Task:      json.RawMessage(`"t"`),
		Directive: json.RawMessage(`{"instruction":"x"}`),
	})
	require.NoError(t, err)
	assert.InDelta(t, defaultRefineConfidence, ref.Confidence, 1e-9)
}

func TestLLM_Refine_InvalidReply(t *testing.T) {
	fake := &fakeLLM{replies: []string{"plain prose"}}
	p := newTestLLM(fake)

	_, err := p.Refine(context.Background(), RefineInput{
		Task:      json.RawMessage(`"t"`),
		Directive: json.RawMessage(`{"instruction":"x"}`),
	})
	require.ErrorIs(t, err, ErrRefinement)
}

func TestLLM_RateLimiterBlocksBurstOverflow(t *testing.T) {
	fake := &fakeLLM{replies: []string{`{"instruction":"x","confidence":0.5}`}}
	p := NewLLM(fake, 0.001, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Plan(ctx, PlanInput{Task: json.RawMessage(`"t"`)})
	require.NoError(t, err)

	// The burst token is spent and the refill is far beyond the deadline.
	_, err = p.Plan(ctx, PlanInput{Task: json.RawMessage(`"t"`)})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPlanning)
	require.Len(t, fake.calls, 1)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    string
		wantErr bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, false},
		{"fenced object", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"prose around object", `Here you go: {"a":1} hope that helps`, `{"a":1}`, false},
		{"no object", "no braces here", "", true},
		{"invalid json inside braces", "{not json}", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.reply)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}
