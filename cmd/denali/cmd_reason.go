// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Denali/services/reasoning/engine"
	"github.com/AleutianAI/Denali/services/reasoning/handlers"
)

// taskFromArgs resolves the task JSON from --task-file, the positional
// argument, or stdin ("-"). Bare text that is not valid JSON is wrapped
// into {"description": ...} so quick shell invocations work.
func taskFromArgs(args []string) (json.RawMessage, error) {
	var raw string
	switch {
	case taskFile != "":
		data, err := os.ReadFile(taskFile)
		if err != nil {
			return nil, fmt.Errorf("reading task file: %w", err)
		}
		raw = string(data)
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading task from stdin: %w", err)
		}
		raw = string(data)
	case len(args) == 1:
		raw = args[0]
	default:
		return nil, fmt.Errorf("provide a task as an argument, via --task-file, or on stdin with \"-\"")
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("task is empty")
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw), nil
	}
	wrapped, err := json.Marshal(map[string]string{"description": raw})
	if err != nil {
		return nil, err
	}
	return wrapped, nil
}

func reasonLimits() *engine.LimitOverrides {
	var o engine.LimitOverrides
	set := false
	if reasonMaxIterations > 0 {
		o.MaxIterations = &reasonMaxIterations
		set = true
	}
	if reasonMinConfidence > 0 {
		o.MinConfidenceThreshold = &reasonMinConfidence
		set = true
	}
	if !set {
		return nil
	}
	return &o
}

func runReason(cmd *cobra.Command, args []string) error {
	task, err := taskFromArgs(args)
	if err != nil {
		return err
	}

	var report handlers.SessionReport
	req := engine.ReasonRequest{Task: task, Limits: reasonLimits()}
	if err := newAPIClient().postJSON(cmd.Context(), "/v1/reasoning/reason", req, &report); err != nil {
		return err
	}
	return printJSON(report)
}

func runDecompose(cmd *cobra.Command, args []string) error {
	task, err := taskFromArgs(args)
	if err != nil {
		return err
	}

	var out struct {
		Report        handlers.SessionReport `json:"report"`
		Decomposition json.RawMessage        `json:"decomposition"`
	}
	req := engine.DecomposeRequest{Task: task}
	if err := newAPIClient().postJSON(cmd.Context(), "/v1/reasoning/decompose", req, &out); err != nil {
		return err
	}
	return printJSON(out)
}

func runRefine(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: denali refine [session-id] --goal \"...\"")
	}

	req := engine.RefineRequest{SessionID: args[0], Goals: refineGoals}
	if refineMaxIterations > 0 {
		req.MaxIterations = &refineMaxIterations
	}
	var report handlers.SessionReport
	if err := newAPIClient().postJSON(cmd.Context(), "/v1/reasoning/refine", req, &report); err != nil {
		return err
	}
	return printJSON(report)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: denali analyze [session-id]")
	}

	var analysis engine.Analysis
	path := "/v1/reasoning/sessions/" + args[0] + "/analysis"
	if err := newAPIClient().getJSON(cmd.Context(), path, &analysis); err != nil {
		return err
	}
	return printJSON(analysis)
}
