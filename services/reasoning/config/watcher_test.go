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
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWatcherLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestWatcher(t *testing.T, path string, initial Config) (*Watcher, chan Config) {
	t.Helper()

	w, err := NewWatcher(path, initial, testWatcherLogger(), &WatcherOptions{
		DebounceWindow: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	reloaded := make(chan Config, 1)
	w.OnReload(func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	require.NoError(t, w.Start(context.Background()))
	return w, reloaded
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "denali.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reasoning:\n  max_iterations: 10\n"), 0600))

	initial, err := Load(path)
	require.NoError(t, err)

	w, reloaded := startTestWatcher(t, path, initial)
	assert.Equal(t, 10, w.Current().Reasoning.MaxIterations)

	require.NoError(t, os.WriteFile(path, []byte("reasoning:\n  max_iterations: 20\n"), 0600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 20, cfg.Reasoning.MaxIterations)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
	assert.Equal(t, 20, w.Current().Reasoning.MaxIterations)
}

func TestWatcher_KeepsSnapshotOnBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "denali.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reasoning:\n  max_iterations: 10\n"), 0600))

	initial, err := Load(path)
	require.NoError(t, err)

	w, reloaded := startTestWatcher(t, path, initial)

	// A file that parses but fails validation must not replace the snapshot.
	require.NoError(t, os.WriteFile(path, []byte("reasoning:\n  max_iterations: 0\n"), 0600))

	select {
	case cfg := <-reloaded:
		t.Fatalf("unexpected reload of invalid config: %+v", cfg.Reasoning)
	case <-time.After(500 * time.Millisecond):
	}
	assert.Equal(t, 10, w.Current().Reasoning.MaxIterations)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "denali.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reasoning:\n  max_iterations: 10\n"), 0600))

	initial, err := Load(path)
	require.NoError(t, err)

	_, reloaded := startTestWatcher(t, path, initial)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0600))

	select {
	case <-reloaded:
		t.Fatal("reload triggered by an unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "denali.yaml")

	w, err := NewWatcher(path, Default(), testWatcherLogger(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	w.Stop()
}
