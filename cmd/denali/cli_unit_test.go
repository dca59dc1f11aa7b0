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
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Denali/pkg/logging"
	"github.com/AleutianAI/Denali/services/reasoning/config"
)

func TestTaskFromArgs(t *testing.T) {
	t.Cleanup(func() { taskFile = "" })

	t.Run("valid JSON passes through", func(t *testing.T) {
		taskFile = ""
		task, err := taskFromArgs([]string{`{"description":"sort"}`})
		require.NoError(t, err)
		assert.JSONEq(t, `{"description":"sort"}`, string(task))
	})

	t.Run("bare text is wrapped", func(t *testing.T) {
		taskFile = ""
		task, err := taskFromArgs([]string{"design a cache"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"description":"design a cache"}`, string(task))
	})

	t.Run("task file wins over args", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "task.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"description":"from file"}`), 0o600))
		taskFile = path
		task, err := taskFromArgs(nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"description":"from file"}`, string(task))
	})

	t.Run("no input is an error", func(t *testing.T) {
		taskFile = ""
		_, err := taskFromArgs(nil)
		assert.Error(t, err)
	})

	t.Run("whitespace only is an error", func(t *testing.T) {
		taskFile = ""
		_, err := taskFromArgs([]string{"   "})
		assert.Error(t, err)
	})
}

func TestReasonLimits(t *testing.T) {
	t.Cleanup(func() {
		reasonMaxIterations = 0
		reasonMinConfidence = 0
	})

	reasonMaxIterations = 0
	reasonMinConfidence = 0
	assert.Nil(t, reasonLimits(), "no flags means no override payload")

	reasonMaxIterations = 3
	reasonMinConfidence = 0.8
	o := reasonLimits()
	require.NotNil(t, o)
	assert.Equal(t, 3, *o.MaxIterations)
	assert.InDelta(t, 0.8, *o.MinConfidenceThreshold, 1e-9)
	assert.Nil(t, o.GlobalThreshold)
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, logging.LevelDebug, logLevel("debug"))
	assert.Equal(t, logging.LevelWarn, logLevel("warn"))
	assert.Equal(t, logging.LevelError, logLevel("error"))
	assert.Equal(t, logging.LevelInfo, logLevel("info"))
	assert.Equal(t, logging.LevelInfo, logLevel(""), "unknown levels fall back to info")
}

func TestBuildPlanner(t *testing.T) {
	t.Run("heuristic backend serves both roles", func(t *testing.T) {
		cfg := config.Default().Planner
		pl, rf, err := buildPlanner(cfg)
		require.NoError(t, err)
		assert.NotNil(t, pl)
		assert.NotNil(t, rf)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := config.Default().Planner
		cfg.Backend = "palantir"
		_, _, err := buildPlanner(cfg)
		assert.Error(t, err)
	})
}

func TestNewAPIClient_BaseURL(t *testing.T) {
	t.Cleanup(func() { serverURL = "" })

	serverURL = ""
	t.Setenv("DENALI_SERVER_URL", "")
	assert.Equal(t, defaultServerURL, newAPIClient().baseURL)

	t.Setenv("DENALI_SERVER_URL", "http://reasoner:9000/")
	assert.Equal(t, "http://reasoner:9000", newAPIClient().baseURL,
		"trailing slash is trimmed")

	serverURL = "http://flag-wins:1234"
	assert.Equal(t, "http://flag-wins:1234", newAPIClient().baseURL)
}

func TestAPIClient_ErrorsCarryBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"kind":"unknown_session"}}`))
	}))
	defer srv.Close()

	c := &apiClient{baseURL: srv.URL, http: srv.Client()}
	err := c.getJSON(context.Background(), "/v1/reasoning/sessions/nope", &struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown_session")
	assert.Contains(t, err.Error(), "404")
}
