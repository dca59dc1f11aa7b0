// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the denali service configuration.
//
// Priority is environment variables over a YAML (or JSON) config file over
// built-in defaults. Validation fails fast at startup; a running service
// never sees a half-valid configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/Denali/services/reasoning/session"
)

// configValidate is the validator instance for config structs.
// Initialized in init() so struct tag validation is ready before Load runs.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
}

// Config is the top-level service configuration.
// This is the struct that can be loaded from files/env.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// Server contains HTTP server and session orchestration settings.
	Server ServerConfig `json:"server" yaml:"server"`

	// Reasoning contains the per-session limit defaults.
	Reasoning ReasoningConfig `json:"reasoning" yaml:"reasoning"`

	// Planner contains planner backend settings.
	Planner PlannerConfig `json:"planner" yaml:"planner"`

	// Persistence contains trace store and retention settings.
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`

	// Logging contains log output settings.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Telemetry contains tracing and metrics settings.
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// Export contains downstream export sink settings.
	Export ExportConfig `json:"export" yaml:"export"`
}

// ServerConfig contains HTTP server and session orchestration settings.
type ServerConfig struct {
	Host                  string        `json:"host" yaml:"host"`
	Port                  int           `json:"port" yaml:"port" validate:"gte=1,lte=65535"`
	MaxConcurrentSessions int           `json:"max_concurrent_sessions" yaml:"max_concurrent_sessions" validate:"gte=1"`
	SessionTimeoutMinutes int           `json:"session_timeout_minutes" yaml:"session_timeout_minutes" validate:"gte=1"`
	ShutdownTimeout       time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ReasoningConfig contains the per-session limit defaults. New sessions
// snapshot these values at creation; changing them never affects a running
// session.
type ReasoningConfig struct {
	MaxIterations          int     `json:"max_iterations" yaml:"max_iterations" validate:"gte=1"`
	MinConfidenceThreshold float64 `json:"min_confidence_threshold" yaml:"min_confidence_threshold" validate:"gte=0,lte=1"`
	MaxCyclesPerH          int     `json:"max_cycles_per_h" yaml:"max_cycles_per_h" validate:"gte=1"`
	MinCyclesPerH          int     `json:"min_cycles_per_h" yaml:"min_cycles_per_h" validate:"gte=1"`
	GlobalThreshold        float64 `json:"global_threshold" yaml:"global_threshold" validate:"gte=0,lte=1"`
	StabilityEpsilon       float64 `json:"stability_epsilon" yaml:"stability_epsilon" validate:"gt=0"`
}

// PlannerConfig contains planner backend settings.
//
// APIKeyEnv names the environment variable holding the OpenAI API key. The
// key itself is never stored in config; the LLM client reads it from the
// environment into a locked enclave at startup.
type PlannerConfig struct {
	Backend        string        `json:"backend" yaml:"backend" validate:"oneof=heuristic openai ollama"`
	Model          string        `json:"model" yaml:"model"`
	APIKeyEnv      string        `json:"api_key_env" yaml:"api_key_env"`
	OllamaURL      string        `json:"ollama_url" yaml:"ollama_url"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
	RateLimit      float64       `json:"rate_limit" yaml:"rate_limit" validate:"gt=0"`
	RateBurst      int           `json:"rate_burst" yaml:"rate_burst" validate:"gte=1"`
}

// PersistenceConfig contains trace store and retention settings.
type PersistenceConfig struct {
	DatabasePath       string        `json:"database_path" yaml:"database_path"`
	InMemory           bool          `json:"in_memory" yaml:"in_memory"`
	SyncWrites         bool          `json:"sync_writes" yaml:"sync_writes"`
	RetentionDays      int           `json:"retention_days" yaml:"retention_days" validate:"gte=0"`
	SweepInterval      time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
	PruneInterval      time.Duration `json:"prune_interval" yaml:"prune_interval"`
	BackupDir          string        `json:"backup_dir" yaml:"backup_dir"`
	GCSBucket          string        `json:"gcs_bucket" yaml:"gcs_bucket"`
	GCSPrefix          string        `json:"gcs_prefix" yaml:"gcs_prefix"`
	GCSCredentialsFile string        `json:"gcs_credentials_file" yaml:"gcs_credentials_file"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `json:"dir" yaml:"dir"`
	JSON  bool   `json:"json" yaml:"json"`
	Quiet bool   `json:"quiet" yaml:"quiet"`
}

// TelemetryConfig contains tracing and metrics settings.
type TelemetryConfig struct {
	ServiceName    string  `json:"service_name" yaml:"service_name"`
	ServiceVersion string  `json:"service_version" yaml:"service_version"`
	Environment    string  `json:"environment" yaml:"environment"`
	TraceExporter  string  `json:"trace_exporter" yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	MetricExporter string  `json:"metric_exporter" yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure   bool    `json:"otlp_insecure" yaml:"otlp_insecure"`
	SampleRate     float64 `json:"sample_rate" yaml:"sample_rate" validate:"gte=0,lte=1"`
}

// ExportConfig contains downstream export sink settings.
type ExportConfig struct {
	Weaviate WeaviateConfig `json:"weaviate" yaml:"weaviate"`
	Influx   InfluxConfig   `json:"influx" yaml:"influx"`
}

// WeaviateConfig contains the terminal-session summary export settings.
type WeaviateConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Host         string `json:"host" yaml:"host"`
	Scheme       string `json:"scheme" yaml:"scheme"`
	Class        string `json:"class" yaml:"class"`
	ChunkSize    int    `json:"chunk_size" yaml:"chunk_size" validate:"gte=1"`
	ChunkOverlap int    `json:"chunk_overlap" yaml:"chunk_overlap" validate:"gte=0"`
}

// InfluxConfig contains the confidence time-series sink settings.
type InfluxConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Token   string `json:"token" yaml:"token"`
	Org     string `json:"org" yaml:"org"`
	Bucket  string `json:"bucket" yaml:"bucket"`
}

// Default returns the default configuration.
//
// Outputs:
//   - Config: Default configuration with sensible values.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:                  "0.0.0.0",
			Port:                  8080,
			MaxConcurrentSessions: 10,
			SessionTimeoutMinutes: 30,
			ShutdownTimeout:       10 * time.Second,
		},
		Reasoning: ReasoningConfig{
			MaxIterations:          10,
			MinConfidenceThreshold: 0.7,
			MaxCyclesPerH:          6,
			MinCyclesPerH:          3,
			GlobalThreshold:        0.85,
			StabilityEpsilon:       0.01,
		},
		Planner: PlannerConfig{
			Backend:        "heuristic",
			Model:          "gpt-4o-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			OllamaURL:      "http://localhost:11434",
			RequestTimeout: 60 * time.Second,
			RateLimit:      2,
			RateBurst:      1,
		},
		Persistence: PersistenceConfig{
			DatabasePath:  "data/reasoning",
			InMemory:      false,
			SyncWrites:    true,
			RetentionDays: 7,
			SweepInterval: time.Minute,
			PruneInterval: time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
			Quiet: false,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "denali",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			TraceExporter:  "otlp",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
			SampleRate:     1.0,
		},
		Export: ExportConfig{
			Weaviate: WeaviateConfig{
				Enabled:      false,
				Host:         "localhost:8080",
				Scheme:       "http",
				Class:        "ReasoningSession",
				ChunkSize:    512,
				ChunkOverlap: 64,
			},
			Influx: InfluxConfig{
				Enabled: false,
				URL:     "http://localhost:8086",
				Org:     "denali",
				Bucket:  "reasoning",
			},
		},
	}
}

// Load loads configuration with priority: env > file > defaults.
//
// Inputs:
//   - configPath: Path to YAML/JSON config file (optional, can be empty).
//
// Outputs:
//   - Config: Merged configuration.
//   - error: Non-nil if the file exists but is invalid, or validation fails.
func Load(configPath string) (Config, error) {
	// Start with defaults
	config := Default()

	// Load from file if specified
	if configPath != "" {
		if err := loadConfigFile(configPath, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	// Override from environment variables
	loadConfigFromEnv(&config)

	// Validate
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}

	return nil
}

func loadConfigFromEnv(config *Config) {
	// Server
	if v := os.Getenv("DENALI_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("DENALI_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Server.Port = i
		}
	}
	if v := os.Getenv("DENALI_MAX_CONCURRENT_SESSIONS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Server.MaxConcurrentSessions = i
		}
	}
	if v := os.Getenv("DENALI_SESSION_TIMEOUT_MINUTES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Server.SessionTimeoutMinutes = i
		}
	}

	// Reasoning
	if v := os.Getenv("DENALI_MAX_ITERATIONS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Reasoning.MaxIterations = i
		}
	}
	if v := os.Getenv("DENALI_MIN_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Reasoning.MinConfidenceThreshold = f
		}
	}
	if v := os.Getenv("DENALI_MAX_CYCLES_PER_H"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Reasoning.MaxCyclesPerH = i
		}
	}
	if v := os.Getenv("DENALI_MIN_CYCLES_PER_H"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Reasoning.MinCyclesPerH = i
		}
	}
	if v := os.Getenv("DENALI_GLOBAL_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Reasoning.GlobalThreshold = f
		}
	}
	if v := os.Getenv("DENALI_STABILITY_EPSILON"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Reasoning.StabilityEpsilon = f
		}
	}

	// Planner
	if v := os.Getenv("DENALI_PLANNER_BACKEND"); v != "" {
		config.Planner.Backend = v
	}
	if v := os.Getenv("DENALI_PLANNER_MODEL"); v != "" {
		config.Planner.Model = v
	}
	if v := os.Getenv("DENALI_OLLAMA_URL"); v != "" {
		config.Planner.OllamaURL = v
	}
	if v := os.Getenv("DENALI_PLANNER_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Planner.RateLimit = f
		}
	}
	if v := os.Getenv("DENALI_PLANNER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Planner.RequestTimeout = d
		}
	}

	// Persistence
	if v := os.Getenv("DENALI_DATABASE_PATH"); v != "" {
		config.Persistence.DatabasePath = v
	}
	if v := os.Getenv("DENALI_IN_MEMORY"); v != "" {
		config.Persistence.InMemory = v == "true" || v == "1"
	}
	if v := os.Getenv("DENALI_SYNC_WRITES"); v != "" {
		config.Persistence.SyncWrites = v == "true" || v == "1"
	}
	if v := os.Getenv("DENALI_RETENTION_DAYS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Persistence.RetentionDays = i
		}
	}
	if v := os.Getenv("DENALI_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Persistence.SweepInterval = d
		}
	}
	if v := os.Getenv("DENALI_PRUNE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Persistence.PruneInterval = d
		}
	}
	if v := os.Getenv("DENALI_BACKUP_DIR"); v != "" {
		config.Persistence.BackupDir = v
	}
	if v := os.Getenv("DENALI_GCS_BUCKET"); v != "" {
		config.Persistence.GCSBucket = v
	}

	// Logging
	if v := os.Getenv("DENALI_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("DENALI_LOG_DIR"); v != "" {
		config.Logging.Dir = v
	}
	if v := os.Getenv("DENALI_LOG_JSON"); v != "" {
		config.Logging.JSON = v == "true" || v == "1"
	}

	// Telemetry
	if v := os.Getenv("DENALI_ENV"); v != "" {
		config.Telemetry.Environment = v
	}
	if v := os.Getenv("DENALI_TRACE_EXPORTER"); v != "" {
		config.Telemetry.TraceExporter = v
	}
	if v := os.Getenv("DENALI_METRIC_EXPORTER"); v != "" {
		config.Telemetry.MetricExporter = v
	}
	if v := os.Getenv("DENALI_OTLP_ENDPOINT"); v != "" {
		config.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("DENALI_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Telemetry.SampleRate = f
		}
	}

	// Export
	if v := os.Getenv("DENALI_WEAVIATE_ENABLED"); v != "" {
		config.Export.Weaviate.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DENALI_WEAVIATE_HOST"); v != "" {
		config.Export.Weaviate.Host = v
	}
	if v := os.Getenv("DENALI_INFLUX_ENABLED"); v != "" {
		config.Export.Influx.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DENALI_INFLUX_URL"); v != "" {
		config.Export.Influx.URL = v
	}
	if v := os.Getenv("DENALI_INFLUX_TOKEN"); v != "" {
		config.Export.Influx.Token = v
	}
}

// Validate checks struct tags and cross-field constraints.
//
// Outputs:
//   - error: Non-nil if configuration is invalid.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return err
	}
	if c.Reasoning.MinCyclesPerH > c.Reasoning.MaxCyclesPerH {
		return fmt.Errorf("min_cycles_per_h (%d) must be <= max_cycles_per_h (%d)",
			c.Reasoning.MinCyclesPerH, c.Reasoning.MaxCyclesPerH)
	}
	if c.Planner.Backend == "openai" && c.Planner.Model == "" {
		return fmt.Errorf("planner model must be set for the openai backend")
	}
	if !c.Persistence.InMemory && c.Persistence.DatabasePath == "" {
		return fmt.Errorf("database_path must be set unless in_memory is true")
	}
	if c.Persistence.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be > 0")
	}
	if c.Persistence.PruneInterval <= 0 {
		return fmt.Errorf("prune_interval must be > 0")
	}
	return nil
}

// ToLimits converts the reasoning section into a per-session limits snapshot.
//
// Outputs:
//   - session.Limits: Limit snapshot for new sessions.
func (c ReasoningConfig) ToLimits() session.Limits {
	return session.Limits{
		MaxIterations:          c.MaxIterations,
		MinConfidenceThreshold: c.MinConfidenceThreshold,
		MaxCyclesPerH:          c.MaxCyclesPerH,
		MinCyclesPerH:          c.MinCyclesPerH,
		GlobalThreshold:        c.GlobalThreshold,
		StabilityEpsilon:       c.StabilityEpsilon,
	}
}

// SessionTimeout returns the idle timeout as a duration.
func (c ServerConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMinutes) * time.Minute
}

// RetentionPeriod returns the terminal-session retention window as a duration.
func (c PersistenceConfig) RetentionPeriod() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// WriteFile writes the configuration to path as YAML, creating parent
// directories as needed. Used by "denali init".
func (c Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
