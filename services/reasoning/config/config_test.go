// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Server.MaxConcurrentSessions)
	assert.Equal(t, 30, cfg.Server.SessionTimeoutMinutes)
	assert.Equal(t, 10, cfg.Reasoning.MaxIterations)
	assert.Equal(t, 0.7, cfg.Reasoning.MinConfidenceThreshold)
	assert.Equal(t, 6, cfg.Reasoning.MaxCyclesPerH)
	assert.Equal(t, 3, cfg.Reasoning.MinCyclesPerH)
	assert.Equal(t, 0.85, cfg.Reasoning.GlobalThreshold)
	assert.Equal(t, 0.01, cfg.Reasoning.StabilityEpsilon)
	assert.Equal(t, 7, cfg.Persistence.RetentionDays)
	assert.Equal(t, "heuristic", cfg.Planner.Backend)
	assert.Equal(t, "denali", cfg.Telemetry.ServiceName)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denali.yaml")
	content := `
server:
  port: 9090
  max_concurrent_sessions: 4
reasoning:
  max_iterations: 15
  global_threshold: 0.9
persistence:
  retention_days: 14
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Server.MaxConcurrentSessions)
	assert.Equal(t, 15, cfg.Reasoning.MaxIterations)
	assert.Equal(t, 0.9, cfg.Reasoning.GlobalThreshold)
	assert.Equal(t, 14, cfg.Persistence.RetentionDays)

	// Untouched fields keep defaults.
	assert.Equal(t, 30, cfg.Server.SessionTimeoutMinutes)
	assert.Equal(t, 6, cfg.Reasoning.MaxCyclesPerH)
	assert.Equal(t, "heuristic", cfg.Planner.Backend)
}

func TestLoad_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denali.json")
	content := `{"reasoning": {"max_iterations": 12}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Reasoning.MaxIterations)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denali.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reasoning:\n  max_iterations: 15\n"), 0600))

	t.Setenv("DENALI_MAX_ITERATIONS", "20")
	t.Setenv("DENALI_GLOBAL_THRESHOLD", "0.95")
	t.Setenv("DENALI_IN_MEMORY", "true")
	t.Setenv("DENALI_SWEEP_INTERVAL", "30s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Reasoning.MaxIterations)
	assert.Equal(t, 0.95, cfg.Reasoning.GlobalThreshold)
	assert.True(t, cfg.Persistence.InMemory)
	assert.Equal(t, 30*time.Second, cfg.Persistence.SweepInterval)
}

func TestLoad_UnparseableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denali.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{not a config"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config file")
}

func TestValidate(t *testing.T) {
	t.Run("tag violations", func(t *testing.T) {
		cases := []struct {
			name   string
			mutate func(*Config)
		}{
			{"zero port", func(c *Config) { c.Server.Port = 0 }},
			{"zero sessions", func(c *Config) { c.Server.MaxConcurrentSessions = 0 }},
			{"zero iterations", func(c *Config) { c.Reasoning.MaxIterations = 0 }},
			{"threshold above one", func(c *Config) { c.Reasoning.MinConfidenceThreshold = 1.5 }},
			{"zero epsilon", func(c *Config) { c.Reasoning.StabilityEpsilon = 0 }},
			{"negative retention", func(c *Config) { c.Persistence.RetentionDays = -1 }},
			{"unknown backend", func(c *Config) { c.Planner.Backend = "banana" }},
			{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }},
			{"unknown trace exporter", func(c *Config) { c.Telemetry.TraceExporter = "zipkin" }},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				cfg := Default()
				tc.mutate(&cfg)
				assert.Error(t, cfg.Validate())
			})
		}
	})

	t.Run("zero retention keeps nothing past terminal", func(t *testing.T) {
		cfg := Default()
		cfg.Persistence.RetentionDays = 0

		require.NoError(t, cfg.Validate())
		assert.Equal(t, time.Duration(0), cfg.Persistence.RetentionPeriod())
	})

	t.Run("min cycles above max cycles", func(t *testing.T) {
		cfg := Default()
		cfg.Reasoning.MinCyclesPerH = 8
		cfg.Reasoning.MaxCyclesPerH = 6

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "min_cycles_per_h")
	})

	t.Run("openai backend requires model", func(t *testing.T) {
		cfg := Default()
		cfg.Planner.Backend = "openai"
		cfg.Planner.Model = ""

		assert.Error(t, cfg.Validate())
	})

	t.Run("database path required when persistent", func(t *testing.T) {
		cfg := Default()
		cfg.Persistence.DatabasePath = ""

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database_path")

		cfg.Persistence.InMemory = true
		assert.NoError(t, cfg.Validate())
	})
}

func TestToLimits(t *testing.T) {
	cfg := Default()
	limits := cfg.Reasoning.ToLimits()

	require.NoError(t, limits.Validate())
	assert.Equal(t, cfg.Reasoning.MaxIterations, limits.MaxIterations)
	assert.Equal(t, cfg.Reasoning.MinConfidenceThreshold, limits.MinConfidenceThreshold)
	assert.Equal(t, cfg.Reasoning.MaxCyclesPerH, limits.MaxCyclesPerH)
	assert.Equal(t, cfg.Reasoning.MinCyclesPerH, limits.MinCyclesPerH)
	assert.Equal(t, cfg.Reasoning.GlobalThreshold, limits.GlobalThreshold)
	assert.Equal(t, cfg.Reasoning.StabilityEpsilon, limits.StabilityEpsilon)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 30*time.Minute, cfg.Server.SessionTimeout())
	assert.Equal(t, 7*24*time.Hour, cfg.Persistence.RetentionPeriod())
}

func TestWriteFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "denali.yaml")

	want := Default()
	want.Server.Port = 9191
	want.Reasoning.MaxIterations = 25
	require.NoError(t, want.WriteFile(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
