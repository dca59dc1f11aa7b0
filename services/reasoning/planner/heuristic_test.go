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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeDirective(t *testing.T, raw json.RawMessage) Directive {
	t.Helper()
	var d Directive
	require.NoError(t, json.Unmarshal(raw, &d))
	return d
}

func decodeSolution(t *testing.T, raw json.RawMessage) Solution {
	t.Helper()
	var s Solution
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		description string
		want        TaskType
	}{
		{"implementation", "Create a login page", TaskImplementation},
		{"implementation verb anywhere", "We should build a cache layer", TaskImplementation},
		{"refactoring", "Restructure the storage package", TaskRefactoring},
		{"debugging", "Debug the panic on shutdown", TaskDebugging},
		{"debugging via resolve", "Resolve the flaky timeout", TaskDebugging},
		{"fallback", "Make the query faster", TaskOptimization},
		{"refactoring beats debugging", "Fix and improve the parser", TaskRefactoring},
		{"implementation beats refactoring", "Create and refactor the module", TaskImplementation},
		{"case insensitive", "IMPLEMENT retries", TaskImplementation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.description))
		})
	}
}

func TestDecompose(t *testing.T) {
	t.Run("implementation has four steps", func(t *testing.T) {
		taskType, subtasks := Decompose("Create a rate limiter")
		require.Equal(t, TaskImplementation, taskType)
		require.Len(t, subtasks, 4)

		assert.Equal(t, "subtask-1", subtasks[0].ID)
		assert.Equal(t, "Design architecture for: Create a rate limiter", subtasks[0].Description)
		assert.Empty(t, subtasks[0].DependsOn)

		assert.Equal(t, "subtask-4", subtasks[3].ID)
		assert.Equal(t, "Add tests for: Create a rate limiter", subtasks[3].Description)
		assert.Equal(t, []string{"subtask-3"}, subtasks[3].DependsOn)
	})

	t.Run("refactoring has three steps", func(t *testing.T) {
		taskType, subtasks := Decompose("Refactor the session store")
		require.Equal(t, TaskRefactoring, taskType)
		require.Len(t, subtasks, 3)
		assert.Equal(t, "Apply refactoring: Refactor the session store", subtasks[2].Description)
	})

	t.Run("everything else has two steps", func(t *testing.T) {
		taskType, subtasks := Decompose("Speed up cold starts")
		require.Equal(t, TaskOptimization, taskType)
		require.Len(t, subtasks, 2)
		assert.Equal(t, "Analyze problem: Speed up cold starts", subtasks[0].Description)
		assert.Equal(t, "Generate solution: Speed up cold starts", subtasks[1].Description)
	})

	t.Run("chain links each subtask to its predecessor", func(t *testing.T) {
		_, subtasks := Decompose("Create a scheduler")
		for i := 1; i < len(subtasks); i++ {
			assert.Equal(t, []string{subtasks[i-1].ID}, subtasks[i].DependsOn)
		}
	})
}

func TestTaskText(t *testing.T) {
	tests := []struct {
		name string
		task json.RawMessage
		want string
	}{
		{"description field", json.RawMessage(`{"description":"Create a parser","context":{"lang":"go"}}`), "Create a parser"},
		{"task field", json.RawMessage(`{"task":"Fix the leak"}`), "Fix the leak"},
		{"bare string", json.RawMessage(`"Optimize lookups"`), "Optimize lookups"},
		{"opaque payload", json.RawMessage(`[1,2,3]`), "[1,2,3]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TaskText(tt.task))
		})
	}
}

func TestHeuristic_Plan(t *testing.T) {
	h := NewHeuristic()
	ctx := context.Background()
	task := json.RawMessage(`{"description":"Create a rate limiter"}`)

	t.Run("first iteration carries the decomposition", func(t *testing.T) {
		plan, err := h.Plan(ctx, PlanInput{Task: task, Iteration: 0})
		require.NoError(t, err)
		require.InDelta(t, 0.5, plan.Confidence, 1e-9)

		d := decodeDirective(t, plan.Directive)
		assert.Equal(t, "Execute: Design architecture for: Create a rate limiter", d.Instruction)
		assert.Equal(t, TaskImplementation, d.TaskType)
		require.NotNil(t, d.Goal)
		assert.Equal(t, "subtask-1", d.Goal.ID)
		assert.Equal(t, []string{"Maintain code quality", "Follow security best practices", "Ensure type safety"}, d.Constraints)
		assert.Equal(t, "implementation_solution", d.ExpectedOutput)
		assert.Len(t, d.Subtasks, 4)
		assert.Equal(t, 4, d.TotalSubtasks)
		assert.InDelta(t, 1.0, d.EstimatedComplexity, 1e-9)
	})

	t.Run("later iterations advance the goal without the decomposition", func(t *testing.T) {
		plan, err := h.Plan(ctx, PlanInput{Task: task, Iteration: 2})
		require.NoError(t, err)

		d := decodeDirective(t, plan.Directive)
		require.NotNil(t, d.Goal)
		assert.Equal(t, "subtask-3", d.Goal.ID)
		assert.Empty(t, d.Subtasks)
		assert.Zero(t, d.TotalSubtasks)
	})

	t.Run("goal selection wraps after the last subtask", func(t *testing.T) {
		plan, err := h.Plan(ctx, PlanInput{Task: task, Iteration: 5})
		require.NoError(t, err)

		d := decodeDirective(t, plan.Directive)
		require.NotNil(t, d.Goal)
		assert.Equal(t, "subtask-2", d.Goal.ID)
	})

	t.Run("overall confidence lifts the plan confidence", func(t *testing.T) {
		plan, err := h.Plan(ctx, PlanInput{Task: task, Iteration: 1, Overall: 0.8})
		require.NoError(t, err)
		assert.InDelta(t, 0.8, plan.Confidence, 1e-9)
	})

	t.Run("estimated complexity scales with subtask count", func(t *testing.T) {
		plan, err := h.Plan(ctx, PlanInput{Task: json.RawMessage(`"Speed up cold starts"`), Iteration: 0})
		require.NoError(t, err)

		d := decodeDirective(t, plan.Directive)
		assert.Equal(t, 2, d.TotalSubtasks)
		assert.InDelta(t, 2.0/3.0, d.EstimatedComplexity, 1e-9)
	})

	t.Run("canceled context stops planning", func(t *testing.T) {
		canceled, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := h.Plan(canceled, PlanInput{Task: task})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestHeuristic_Refine(t *testing.T) {
	h := NewHeuristic()
	ctx := context.Background()

	directiveFor := func(t *testing.T, goal string) json.RawMessage {
		t.Helper()
		raw, err := json.Marshal(Directive{
			Instruction: "Execute: " + goal,
			Goal:        &Subtask{ID: "subtask-1", Description: goal},
		})
		require.NoError(t, err)
		return raw
	}

	tests := []struct {
		name       string
		goal       string
		confidence float64
		prefix     string
	}{
		{"design goal", "Design architecture for: Create a rate limiter", 0.85, "Architecture design for: "},
		{"implement goal", "Implement core logic for: Create a rate limiter", 0.90, "Implementation for: "},
		{"test goal", "Add tests for: Create a rate limiter", 0.80, "Test suite for: "},
		{"generic goal", "Analyze problem: Speed up cold starts", 0.75, "Solution for: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := h.Refine(ctx, RefineInput{
				Task:      json.RawMessage(`"Create a rate limiter"`),
				Directive: directiveFor(t, tt.goal),
			})
			require.NoError(t, err)
			assert.InDelta(t, tt.confidence, ref.Confidence, 1e-9)

			sol := decodeSolution(t, ref.Output)
			assert.True(t, sol.Success)
			assert.Equal(t, tt.prefix+tt.goal, sol.Solution)
		})
	}

	t.Run("contradictory task fails with low confidence", func(t *testing.T) {
		ref, err := h.Refine(ctx, RefineInput{
			Task:      json.RawMessage(`"Make the function both sort and reverse the slice"`),
			Directive: directiveFor(t, "Analyze problem: Make the function both sort and reverse the slice"),
		})
		require.NoError(t, err)
		assert.InDelta(t, 0.15, ref.Confidence, 1e-9)

		sol := decodeSolution(t, ref.Output)
		assert.False(t, sol.Success)
		assert.Equal(t, "Task contains contradictory requirements that cannot be satisfied simultaneously", sol.Solution)
	})

	t.Run("vague task fails with low confidence", func(t *testing.T) {
		ref, err := h.Refine(ctx, RefineInput{
			Task:      json.RawMessage(`"it"`),
			Directive: directiveFor(t, "do"),
		})
		require.NoError(t, err)
		assert.InDelta(t, 0.25, ref.Confidence, 1e-9)

		sol := decodeSolution(t, ref.Output)
		assert.False(t, sol.Success)
		assert.Equal(t, "Task description too vague to implement effectively", sol.Solution)
	})

	t.Run("repeated cycles are stable", func(t *testing.T) {
		in := RefineInput{
			Task:      json.RawMessage(`"Create a rate limiter"`),
			Directive: directiveFor(t, "Implement core logic for: Create a rate limiter"),
		}
		first, err := h.Refine(ctx, in)
		require.NoError(t, err)

		in.Cycle = 1
		in.Prior = first.Output
		in.PriorConfidence = first.Confidence
		second, err := h.Refine(ctx, in)
		require.NoError(t, err)

		assert.Equal(t, first.Confidence, second.Confidence)
		assert.JSONEq(t, string(first.Output), string(second.Output))
	})

	t.Run("canceled context stops refinement", func(t *testing.T) {
		canceled, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := h.Refine(canceled, RefineInput{Task: json.RawMessage(`"x"`)})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestAssessFeasibility(t *testing.T) {
	tests := []struct {
		name     string
		goal     string
		task     string
		feasible bool
	}{
		{"plain goal", "Implement core logic for: Create a rate limiter", "Create a rate limiter", true},
		{"sort and reverse", "Generate solution", "make it both sort and reverse the list", false},
		{"simultaneously opposite", "Generate solution", "do two opposite things simultaneously", false},
		{"returns both booleans", "Generate solution", "the check returns both true and false", false},
		{"increase and decrease", "Generate solution", "both increase and decrease the counter", false},
		{"maintain while changing", "Generate solution", "maintain the order while modifying entries", false},
		{"marker without keywords", "Generate solution", "handle both uppercase and lowercase input", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := assessFeasibility(tt.goal, tt.task)
			assert.Equal(t, tt.feasible, verdict.feasible)
			if !tt.feasible {
				assert.NotEmpty(t, verdict.reason)
			}
		})
	}
}

func TestHeuristic_PlanThenRefine(t *testing.T) {
	h := NewHeuristic()
	ctx := context.Background()
	task := json.RawMessage(`{"description":"Create a rate limiter"}`)

	for iteration := 0; iteration < 4; iteration++ {
		plan, err := h.Plan(ctx, PlanInput{Task: task, Iteration: iteration})
		require.NoError(t, err, "iteration %d", iteration)

		ref, err := h.Refine(ctx, RefineInput{
			Task:      task,
			Directive: plan.Directive,
			Iteration: iteration,
		})
		require.NoError(t, err, "iteration %d", iteration)

		sol := decodeSolution(t, ref.Output)
		assert.True(t, sol.Success, "iteration %d", iteration)
		assert.Greater(t, ref.Confidence, 0.5, "iteration %d", iteration)
	}
}

func ExampleHeuristic_Plan() {
	h := NewHeuristic()
	plan, _ := h.Plan(context.Background(), PlanInput{
		Task: json.RawMessage(`{"description":"Create a rate limiter"}`),
	})
	var d Directive
	_ = json.Unmarshal(plan.Directive, &d)
	fmt.Println(d.Instruction)
	// Output: Execute: Design architecture for: Create a rate limiter
}
