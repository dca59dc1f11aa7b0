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
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/Denali/pkg/logging"
	"github.com/AleutianAI/Denali/services/llm"
	"github.com/AleutianAI/Denali/services/reasoning/config"
	"github.com/AleutianAI/Denali/services/reasoning/engine"
	"github.com/AleutianAI/Denali/services/reasoning/events"
	"github.com/AleutianAI/Denali/services/reasoning/export"
	"github.com/AleutianAI/Denali/services/reasoning/planner"
	"github.com/AleutianAI/Denali/services/reasoning/routes"
	"github.com/AleutianAI/Denali/services/reasoning/store"
	"github.com/AleutianAI/Denali/services/reasoning/telemetry"
	"github.com/AleutianAI/Denali/services/reasoning/ttl"
)

func logLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// newCLILogger builds the process logger from the logging config section.
func newCLILogger(cfg config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "denali",
		JSON:    cfg.Logging.JSON,
		Quiet:   cfg.Logging.Quiet,
	})
}

// buildPlanner selects the planner backend. The heuristic backend needs
// no external processes; openai and ollama wrap the LLM client in a
// rate-limited planner.
func buildPlanner(cfg config.PlannerConfig) (planner.Planner, planner.Refiner, error) {
	switch cfg.Backend {
	case "heuristic":
		h := planner.NewHeuristic()
		return h, h, nil
	case "openai":
		client, err := llm.NewOpenAIClient(cfg.Model, cfg.APIKeyEnv)
		if err != nil {
			return nil, nil, fmt.Errorf("openai planner: %w", err)
		}
		p := planner.NewLLM(client, cfg.RateLimit, cfg.RateBurst)
		return p, p, nil
	case "ollama":
		client, err := llm.NewOllamaClient(cfg.OllamaURL, cfg.Model, cfg.RequestTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("ollama planner: %w", err)
		}
		p := planner.NewLLM(client, cfg.RateLimit, cfg.RateBurst)
		return p, p, nil
	default:
		return nil, nil, fmt.Errorf("unknown planner backend %q", cfg.Backend)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newCLILogger(cfg)
	defer logger.Close()
	slogger := logger.Slog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry first so every later component picks up the global
	// tracer and meter providers.
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	if cfg.Telemetry.ServiceName != "" {
		tcfg.ServiceName = cfg.Telemetry.ServiceName
	}
	if cfg.Telemetry.Environment != "" {
		tcfg.Environment = cfg.Telemetry.Environment
	}
	if cfg.Telemetry.TraceExporter != "" {
		tcfg.TraceExporter = cfg.Telemetry.TraceExporter
	}
	if cfg.Telemetry.MetricExporter != "" {
		tcfg.MetricExporter = cfg.Telemetry.MetricExporter
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	tcfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slogger.Warn("telemetry shutdown", "error", err)
		}
	}()

	var st store.Store
	if cfg.Persistence.InMemory {
		slogger.Warn("using the in-memory trace store; sessions will not survive a restart")
		st = store.NewMemoryStore()
	} else {
		bcfg := store.DefaultBadgerConfig()
		bcfg.Path = cfg.Persistence.DatabasePath
		bcfg.SyncWrites = cfg.Persistence.SyncWrites
		bcfg.Logger = slogger
		bs, err := store.NewBadgerStore(bcfg)
		if err != nil {
			return fmt.Errorf("open trace store: %w", err)
		}
		st = bs
	}
	defer st.Close()

	pl, rf, err := buildPlanner(cfg.Planner)
	if err != nil {
		return err
	}
	slogger.Info("planner ready", "backend", cfg.Planner.Backend, "model", cfg.Planner.Model)

	em := events.NewEmitter()

	eng, err := engine.New(engine.Options{
		Store:                 st,
		Planner:               pl,
		Refiner:               rf,
		Emitter:               em,
		Logger:                slogger,
		Defaults:              cfg.Reasoning.ToLimits(),
		SessionTimeout:        cfg.Server.SessionTimeout(),
		MaxConcurrentSessions: cfg.Server.MaxConcurrentSessions,
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	// Sessions left ACTIVE by a crash have no runner. Reconcile logs them
	// on startup; the timeout sweep retires them once they go idle.
	if n, err := eng.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile sessions: %w", err)
	} else if n > 0 {
		slogger.Info("reconciled orphaned sessions", "count", n)
	}

	jan, err := ttl.NewJanitor(st, ttl.Config{
		SessionTimeout: cfg.Server.SessionTimeout(),
		SweepInterval:  cfg.Persistence.SweepInterval,
		Retention:      cfg.Persistence.RetentionPeriod(),
		PruneInterval:  cfg.Persistence.PruneInterval,
	}, slogger)
	if err != nil {
		return fmt.Errorf("init janitor: %w", err)
	}
	jan.Start()
	defer jan.Stop()

	if cfg.Export.Influx.Enabled {
		sink, err := export.NewInfluxSink(cfg.Export.Influx, slogger)
		if err != nil {
			return fmt.Errorf("init influx sink: %w", err)
		}
		sink.Attach(em)
		defer sink.Close()
		slogger.Info("influx export enabled", "url", cfg.Export.Influx.URL, "bucket", cfg.Export.Influx.Bucket)
	}
	if cfg.Export.Weaviate.Enabled {
		sink, err := export.NewWeaviateSink(cfg.Export.Weaviate, slogger)
		if err != nil {
			return fmt.Errorf("init weaviate sink: %w", err)
		}
		if err := sink.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure weaviate schema: %w", err)
		}
		sink.Attach(em, eng.Get)
		slogger.Info("weaviate export enabled", "host", cfg.Export.Weaviate.Host, "class", cfg.Export.Weaviate.Class)
	}

	// Hot reload is observational: running sessions keep the limits
	// they snapshotted, but operators can see what the next session
	// will get.
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, cfg, slogger, nil)
		if err != nil {
			slogger.Warn("config watcher disabled", "error", err)
		} else {
			watcher.OnReload(func(next config.Config) {
				slogger.Info("config reloaded",
					"max_iterations", next.Reasoning.MaxIterations,
					"global_threshold", next.Reasoning.GlobalThreshold)
			})
			if err := watcher.Start(ctx); err != nil {
				slogger.Warn("config watcher failed to start", "error", err)
			} else {
				defer watcher.Stop()
			}
		}
	}

	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if serveDebug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware(tcfg.ServiceName))

	var metricsHandler http.Handler
	if tcfg.MetricExporter == "prometheus" {
		metricsHandler = telemetry.MetricsHandler()
	}
	routes.SetupRoutes(router, eng, metricsHandler)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	printBanner(cfg)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slogger.Info("denali server listening",
		"addr", srv.Addr,
		"planner", cfg.Planner.Backend,
		"in_memory", cfg.Persistence.InMemory)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slogger.Info("shutting down denali server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slogger.Error("server shutdown", "error", err)
	}
	return nil
}

func printBanner(cfg config.Config) {
	storeDesc := cfg.Persistence.DatabasePath
	if cfg.Persistence.InMemory {
		storeDesc = "in-memory (volatile)"
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                    DENALI REASONING SERVER                        ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Hierarchical reasoning with convergence-driven dual loops.       ║
║  Planner:     %-50s  ║
║  Trace store: %-50s  ║
║  Listening:   %-50s  ║
║                                                                   ║
╚═══════════════════════════════════════════════════════════════════╝
`
	addr := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf(banner, cfg.Planner.Backend, storeDesc, addr)
}
