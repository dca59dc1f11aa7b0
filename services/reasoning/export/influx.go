// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export ships finished reasoning data to downstream stores: a
// per-cycle confidence time series to InfluxDB and terminal-session
// summaries to Weaviate. Both sinks are optional; the engine runs the same
// with neither configured.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/Denali/services/reasoning/config"
	"github.com/AleutianAI/Denali/services/reasoning/events"
)

const (
	// measurementConfidence is the per-cycle confidence series.
	measurementConfidence = "reasoning_confidence"

	// measurementSessions is the one-point-per-terminal-session series.
	measurementSessions = "reasoning_sessions"

	// influxWriteTimeout bounds a single blocking write.
	influxWriteTimeout = 10 * time.Second
)

// InfluxSink writes confidence scores to InfluxDB as they are produced.
//
// Description:
//
//	Attach subscribes the sink to the engine's event emitter. Every
//	completed tactical cycle becomes one point in the confidence series,
//	and every terminal session becomes one point in the sessions series.
//	Writes happen off the engine's loop goroutine so a slow or down
//	InfluxDB never stalls an in-flight iteration; a failed write is
//	logged and dropped (the trace store remains the system of record).
//
// Thread Safety: Safe for concurrent use after creation.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   *slog.Logger
	subIDs   []string
}

// NewInfluxSink creates a sink from configuration.
//
// Inputs:
//
//	cfg - Influx settings. URL, Token, Org and Bucket must be set.
//	logger - Logger for dropped writes. Defaults to slog.Default().
//
// Outputs:
//
//	*InfluxSink - The sink. Call Attach to start receiving events.
//	error - Non-nil if the configuration is incomplete.
func NewInfluxSink(cfg config.InfluxConfig, logger *slog.Logger) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("export: influx url, org and bucket must be set")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("export: influx token must be set (DENALI_INFLUX_TOKEN)")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger:   logger,
	}, nil
}

// newInfluxSinkWithWriter wires a sink to a caller-supplied write API.
// Used by tests to observe points without a live InfluxDB.
func newInfluxSinkWithWriter(writeAPI api.WriteAPIBlocking, logger *slog.Logger) *InfluxSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &InfluxSink{writeAPI: writeAPI, logger: logger}
}

// Attach subscribes the sink to cycle and session-end events.
func (s *InfluxSink) Attach(em *events.Emitter) {
	s.subIDs = append(s.subIDs,
		em.Subscribe(func(ev *events.Event) {
			data, ok := ev.Data.(events.CycleCompleteData)
			if !ok {
				return
			}
			go s.writeCycle(ev.SessionID, ev.Timestamp, data)
		}, events.TypeCycleComplete),
		em.Subscribe(func(ev *events.Event) {
			data, ok := ev.Data.(events.SessionEndData)
			if !ok {
				return
			}
			go s.writeSessionEnd(ev.SessionID, ev.Timestamp, data)
		}, events.TypeSessionEnd),
	)
}

// Detach removes the sink's subscriptions.
func (s *InfluxSink) Detach(em *events.Emitter) {
	for _, id := range s.subIDs {
		em.Unsubscribe(id)
	}
	s.subIDs = nil
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

func (s *InfluxSink) writeCycle(sessionID string, ts int64, data events.CycleCompleteData) {
	p := influxdb2.NewPointWithMeasurement(measurementConfidence).
		AddTag("session_id", sessionID).
		AddTag("h_index", fmt.Sprintf("%d", data.HIndex)).
		AddField("cycle", data.Index).
		AddField("confidence", data.Confidence).
		SetTime(time.UnixMilli(ts))
	if data.Delta != nil {
		p.AddField("delta", *data.Delta)
	}

	ctx, cancel := context.WithTimeout(context.Background(), influxWriteTimeout)
	defer cancel()
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		s.logger.Warn("influx cycle write dropped",
			"session_id", sessionID,
			"h_index", data.HIndex,
			"cycle", data.Index,
			"error", err,
		)
	}
}

func (s *InfluxSink) writeSessionEnd(sessionID string, ts int64, data events.SessionEndData) {
	p := influxdb2.NewPointWithMeasurement(measurementSessions).
		AddTag("session_id", sessionID).
		AddTag("status", data.Status).
		AddField("converged", data.Converged).
		AddField("iterations", data.Iterations).
		AddField("total_cycles", data.TotalCycles).
		AddField("overall_confidence", data.OverallConfidence).
		AddField("duration_ms", data.Duration.Milliseconds()).
		SetTime(time.UnixMilli(ts))

	ctx, cancel := context.WithTimeout(context.Background(), influxWriteTimeout)
	defer cancel()
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		s.logger.Warn("influx session write dropped",
			"session_id", sessionID,
			"status", data.Status,
			"error", err,
		)
	}
}
