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
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadHandler is called after a successful config reload.
type ReloadHandler func(cfg Config)

// Watcher hot-reloads the config file into an atomic snapshot.
//
// # Description
//
// Watches the config file's directory (editors replace files via rename, so
// watching the file itself would lose the watch) and reloads after a debounce
// window. A reload that fails to parse or validate is logged and discarded;
// the previous snapshot stays current.
//
// Running sessions keep the limit snapshot taken at their creation. Only
// callers that read Current() after the reload, such as new sessions, observe
// the new values.
//
// # Thread Safety
//
// Safe for concurrent use. Current() may be called from any goroutine.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	current atomic.Pointer[Config]

	mu      sync.Mutex
	handler ReloadHandler

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOptions configures the Watcher.
type WatcherOptions struct {
	// DebounceWindow is how long to wait for more writes before reloading.
	// Default: 250ms
	DebounceWindow time.Duration
}

// DefaultWatcherOptions returns sensible defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		DebounceWindow: 250 * time.Millisecond,
	}
}

// NewWatcher creates a watcher for the given config file.
//
// # Inputs
//
//   - path: Path to the config file to watch.
//   - initial: The configuration loaded at startup. Served by Current()
//     until the first successful reload.
//   - logger: Structured logger. Must not be nil.
//   - opts: Optional configuration (nil uses defaults).
//
// # Outputs
//
//   - *Watcher: Ready-to-use watcher (call Start to begin watching).
//   - error: Non-nil if the underlying fsnotify watcher could not be created.
func NewWatcher(path string, initial Config, logger *slog.Logger, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     path,
		watcher:  fsw,
		logger:   logger,
		debounce: opts.DebounceWindow,
		done:     make(chan struct{}),
	}
	w.current.Store(&initial)
	return w, nil
}

// Current returns the most recent valid configuration snapshot.
func (w *Watcher) Current() Config {
	return *w.current.Load()
}

// OnReload registers a handler called after each successful reload.
func (w *Watcher) OnReload(handler ReloadHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = handler
}

// Start begins watching for config file changes.
//
// # Inputs
//
//   - ctx: Context for cancellation. When canceled, watching stops.
//
// # Outputs
//
//   - error: Non-nil if the config directory could not be watched.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.run(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

// run converts fsnotify events for the config file into debounced reloads.
func (w *Watcher) run(ctx context.Context) {
	base := filepath.Base(w.path)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Reset or start debounce timer
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// reload parses and validates the file, swapping the snapshot on success.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous snapshot",
			"path", w.path, "error", err)
		return
	}

	w.current.Store(&cfg)
	w.logger.Info("config reloaded", "path", w.path)

	w.mu.Lock()
	handler := w.handler
	w.mu.Unlock()
	if handler != nil {
		handler(cfg)
	}
}
