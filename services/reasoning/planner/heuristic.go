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
	"math"
	"strings"
)

// TaskType classifies a task by its dominant verb.
type TaskType string

const (
	// TaskImplementation covers building something new.
	TaskImplementation TaskType = "implementation"

	// TaskRefactoring covers restructuring existing work.
	TaskRefactoring TaskType = "refactoring"

	// TaskDebugging covers finding and fixing defects.
	TaskDebugging TaskType = "debugging"

	// TaskOptimization is the fallback for everything else.
	TaskOptimization TaskType = "optimization"
)

// Subtask is one node of a task decomposition.
type Subtask struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Completed   bool     `json:"completed"`
	Confidence  float64  `json:"confidence"`
}

// Directive is the JSON shape the heuristic planner emits. The engine treats
// it as an opaque payload; refiners and API consumers parse it.
//
// Subtasks, TotalSubtasks, and EstimatedComplexity are only populated on
// iteration 0, which carries the full decomposition.
type Directive struct {
	Instruction         string    `json:"instruction"`
	TaskType            TaskType  `json:"task_type"`
	Goal                *Subtask  `json:"goal,omitempty"`
	Constraints         []string  `json:"constraints,omitempty"`
	ExpectedOutput      string    `json:"expected_output,omitempty"`
	Subtasks            []Subtask `json:"subtasks,omitempty"`
	TotalSubtasks       int       `json:"total_subtasks,omitempty"`
	EstimatedComplexity float64   `json:"estimated_complexity,omitempty"`
}

// Solution is the JSON payload shape the heuristic refiner produces.
type Solution struct {
	Solution string `json:"solution"`
	Success  bool   `json:"success"`
}

// TaskText extracts the human task description from an opaque payload.
// Accepts {"description": ...} and {"task": ...} objects as well as bare
// JSON strings; anything else is returned verbatim.
func TaskText(task json.RawMessage) string {
	var obj struct {
		Description string `json:"description"`
		Task        string `json:"task"`
	}
	if err := json.Unmarshal(task, &obj); err == nil {
		if obj.Description != "" {
			return obj.Description
		}
		if obj.Task != "" {
			return obj.Task
		}
	}
	var s string
	if err := json.Unmarshal(task, &s); err == nil {
		return s
	}
	return string(task)
}

// Classify returns the task type for a description. Implementation verbs win
// over refactoring verbs, which win over debugging verbs.
func Classify(description string) TaskType {
	lower := strings.ToLower(description)
	switch {
	case containsAny(lower, "implement", "create", "build", "develop"):
		return TaskImplementation
	case containsAny(lower, "refactor", "restructure", "improve"):
		return TaskRefactoring
	case containsAny(lower, "debug", "fix", "resolve", "solve"):
		return TaskDebugging
	default:
		return TaskOptimization
	}
}

// Decompose expands a description into the ordered subtask chain for its
// type. Each subtask depends on its predecessor.
func Decompose(description string) (TaskType, []Subtask) {
	taskType := Classify(description)

	var templates []string
	switch taskType {
	case TaskImplementation:
		templates = []string{
			"Design architecture for: %s",
			"Implement core logic for: %s",
			"Add error handling for: %s",
			"Add tests for: %s",
		}
	case TaskRefactoring:
		templates = []string{
			"Analyze current structure: %s",
			"Design new structure: %s",
			"Apply refactoring: %s",
		}
	default:
		templates = []string{
			"Analyze problem: %s",
			"Generate solution: %s",
		}
	}

	subtasks := make([]Subtask, len(templates))
	for i, tmpl := range templates {
		subtasks[i] = Subtask{
			ID:          fmt.Sprintf("subtask-%d", i+1),
			Description: fmt.Sprintf(tmpl, description),
		}
		if i > 0 {
			subtasks[i].DependsOn = []string{subtasks[i-1].ID}
		}
	}
	return taskType, subtasks
}

// Heuristic is the deterministic keyword planner/refiner pair: verb
// classification, per-type goal templates, keyword confidences, and a
// contradiction screen that fails impossible tasks with very low confidence.
//
// The same inputs always produce the same outputs, which makes it the
// reference collaborator for tests and the default backend when no LLM is
// configured.
type Heuristic struct{}

// NewHeuristic returns the deterministic planner/refiner.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Plan selects the iteration's goal from the decomposition and wraps it in a
// directive. Iteration 0 additionally carries the full subtask chain, so a
// decompose-only run needs exactly one planning pass.
//
// Once every subtask has been visited the selection wraps around; session
// convergence, not planner exhaustion, decides when the loop stops.
func (h *Heuristic) Plan(ctx context.Context, in PlanInput) (Plan, error) {
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}

	description := TaskText(in.Task)
	taskType, subtasks := Decompose(description)

	goal := subtasks[in.Iteration%len(subtasks)]
	directive := Directive{
		Instruction:    "Execute: " + goal.Description,
		TaskType:       taskType,
		Goal:           &goal,
		Constraints:    planConstraints(),
		ExpectedOutput: "implementation_solution",
	}
	if in.Iteration == 0 {
		directive.Subtasks = subtasks
		directive.TotalSubtasks = len(subtasks)
		directive.EstimatedComplexity = estimatedComplexity(len(subtasks))
	}

	payload, err := json.Marshal(directive)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: encode directive: %v", ErrPlanning, err)
	}

	confidence := 0.5
	if in.Overall > confidence {
		confidence = in.Overall
	}
	return Plan{Directive: payload, Confidence: confidence}, nil
}

// Refine screens the goal for feasibility and then scores it by keyword.
// The output depends only on the directive and task, so repeated cycles
// produce a zero delta and the tactical loop stabilizes at its floor.
func (h *Heuristic) Refine(ctx context.Context, in RefineInput) (Refinement, error) {
	if err := ctx.Err(); err != nil {
		return Refinement{}, err
	}

	goalDesc := ""
	var directive Directive
	if len(in.Directive) > 0 {
		if err := json.Unmarshal(in.Directive, &directive); err == nil && directive.Goal != nil {
			goalDesc = directive.Goal.Description
		}
	}
	if goalDesc == "" {
		goalDesc = TaskText(in.Directive)
	}

	if verdict := assessFeasibility(goalDesc, TaskText(in.Task)); !verdict.feasible {
		return solutionRefinement(verdict.reason, false, verdict.confidence)
	}

	lower := strings.ToLower(goalDesc)
	switch {
	case strings.Contains(lower, "design"):
		return solutionRefinement("Architecture design for: "+goalDesc, true, 0.85)
	case strings.Contains(lower, "implement"):
		return solutionRefinement("Implementation for: "+goalDesc, true, 0.90)
	case strings.Contains(lower, "test"):
		return solutionRefinement("Test suite for: "+goalDesc, true, 0.80)
	default:
		return solutionRefinement("Solution for: "+goalDesc, true, 0.75)
	}
}

func solutionRefinement(text string, success bool, confidence float64) (Refinement, error) {
	payload, err := json.Marshal(Solution{Solution: text, Success: success})
	if err != nil {
		return Refinement{}, fmt.Errorf("%w: encode solution: %v", ErrRefinement, err)
	}
	return Refinement{Output: payload, Confidence: confidence}, nil
}

func planConstraints() []string {
	return []string{
		"Maintain code quality",
		"Follow security best practices",
		"Ensure type safety",
	}
}

func estimatedComplexity(subtasks int) float64 {
	return math.Min(float64(subtasks)/3, 1.0)
}

type feasibilityVerdict struct {
	feasible   bool
	confidence float64
	reason     string
}

// contradictionPatterns flags requirement pairs that cannot hold at once,
// e.g. "sort the list while maintaining the original order". A marker must
// appear together with its connector (when set) and one of the keywords.
var contradictionPatterns = []struct {
	marker    string
	connector string
	keywords  []string
}{
	{"both", "and", []string{"sort", "reverse", "maintain", "original"}},
	{"simultaneously", "", []string{"opposite", "contradictory"}},
	{"returns both", "", []string{"true", "false"}},
	{"both", "and", []string{"increase", "decrease"}},
	{"maintain", "while", []string{"changing", "modifying"}},
}

func assessFeasibility(goalDesc, task string) feasibilityVerdict {
	combined := strings.ToLower(goalDesc + " " + task)

	for _, p := range contradictionPatterns {
		if !strings.Contains(combined, p.marker) {
			continue
		}
		if p.connector != "" && !strings.Contains(combined, p.connector) {
			continue
		}
		if containsAny(combined, p.keywords...) {
			return feasibilityVerdict{
				confidence: 0.15,
				reason:     "Task contains contradictory requirements that cannot be satisfied simultaneously",
			}
		}
	}

	if len(strings.TrimSpace(combined)) < 10 {
		return feasibilityVerdict{
			confidence: 0.25,
			reason:     "Task description too vague to implement effectively",
		}
	}

	return feasibilityVerdict{feasible: true, confidence: 0.85}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
