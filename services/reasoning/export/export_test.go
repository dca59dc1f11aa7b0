// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Denali/services/reasoning/config"
	"github.com/AleutianAI/Denali/services/reasoning/events"
	"github.com/AleutianAI/Denali/services/reasoning/session"
)

// ---------------------------------------------------------------------------
// Influx sink
// ---------------------------------------------------------------------------

// capturingWriteAPI records points instead of shipping them.
type capturingWriteAPI struct {
	mu     sync.Mutex
	points []*write.Point
}

func (c *capturingWriteAPI) WriteRecord(_ context.Context, _ ...string) error { return nil }

func (c *capturingWriteAPI) WritePoint(_ context.Context, points ...*write.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = append(c.points, points...)
	return nil
}

func (c *capturingWriteAPI) EnableBatching() {}

func (c *capturingWriteAPI) Flush(_ context.Context) error { return nil }

func (c *capturingWriteAPI) snapshot() []*write.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*write.Point, len(c.points))
	copy(out, c.points)
	return out
}

func waitForPoints(t *testing.T, api *capturingWriteAPI, want int) []*write.Point {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pts := api.snapshot(); len(pts) >= want {
			return pts
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d points, have %d", want, len(api.snapshot()))
	return nil
}

func TestNewInfluxSink_RequiresConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.InfluxConfig
	}{
		{"missing url", config.InfluxConfig{Token: "t", Org: "o", Bucket: "b"}},
		{"missing token", config.InfluxConfig{URL: "http://localhost:8086", Org: "o", Bucket: "b"}},
		{"missing bucket", config.InfluxConfig{URL: "http://localhost:8086", Token: "t", Org: "o"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewInfluxSink(tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestInfluxSink_WritesCyclePoints(t *testing.T) {
	api := &capturingWriteAPI{}
	sink := newInfluxSinkWithWriter(api, nil)

	em := events.NewEmitter()
	sink.Attach(em)
	defer sink.Detach(em)

	delta := 0.05
	em.Emit(events.TypeCycleComplete, "sess-1", events.CycleCompleteData{
		HIndex:     2,
		Index:      1,
		Confidence: 0.75,
		Delta:      &delta,
	})

	pts := waitForPoints(t, api, 1)
	require.Len(t, pts, 1)
	assert.Equal(t, measurementConfidence, pts[0].Name())
}

func TestInfluxSink_WritesSessionEndPoint(t *testing.T) {
	api := &capturingWriteAPI{}
	sink := newInfluxSinkWithWriter(api, nil)

	em := events.NewEmitter()
	sink.Attach(em)
	defer sink.Detach(em)

	em.Emit(events.TypeSessionEnd, "sess-2", events.SessionEndData{
		Status:            "COMPLETED",
		Converged:         true,
		Iterations:        4,
		TotalCycles:       12,
		OverallConfidence: 0.88,
		Duration:          3 * time.Second,
	})

	pts := waitForPoints(t, api, 1)
	require.Len(t, pts, 1)
	assert.Equal(t, measurementSessions, pts[0].Name())
}

func TestInfluxSink_IgnoresOtherEventTypes(t *testing.T) {
	api := &capturingWriteAPI{}
	sink := newInfluxSinkWithWriter(api, nil)

	em := events.NewEmitter()
	sink.Attach(em)
	defer sink.Detach(em)

	em.Emit(events.TypeIterationStart, "sess-3", events.IterationStartData{Index: 0})
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, api.snapshot())
}

// ---------------------------------------------------------------------------
// Weaviate sink helpers
// ---------------------------------------------------------------------------

func terminalSession(t *testing.T) *session.Session {
	t.Helper()
	delta := 0.02
	s := session.New(session.OpReason,
		json.RawMessage(`{"task":"design a cache layer"}`),
		session.Limits{
			MaxIterations:          10,
			MinConfidenceThreshold: 0.7,
			MaxCyclesPerH:          6,
			MinCyclesPerH:          3,
			GlobalThreshold:        0.85,
			StabilityEpsilon:       0.01,
		})
	s.Status = session.StatusCompleted
	s.Converged = true
	s.OverallConfidence = 0.87
	s.BestResult = json.RawMessage(`{"solution":"write-through with TTL"}`)
	s.Iterations = []session.HIterationRecord{
		{
			Index:      0,
			Confidence: 0.87,
			Cycles: []session.LCycleRecord{
				{Index: 0, Confidence: 0.80},
				{Index: 1, Confidence: 0.85, Delta: &delta},
				{Index: 2, Confidence: 0.87, Delta: &delta},
			},
			LocalConverged:  true,
			TriggeredGlobal: true,
		},
	}
	return s
}

func TestSummarizeSession(t *testing.T) {
	s := terminalSession(t)
	summary := summarizeSession(s)

	assert.Contains(t, summary, s.ID)
	assert.Contains(t, summary, "Converged: true")
	assert.Contains(t, summary, "design a cache layer")
	assert.Contains(t, summary, "write-through with TTL")
	assert.Contains(t, summary, "iteration 0: confidence 0.870 over 3 cycles")
}

func TestChunkID_DeterministicAndDistinct(t *testing.T) {
	a := chunkID("sess-1", 0)
	b := chunkID("sess-1", 0)
	c := chunkID("sess-1", 1)
	d := chunkID("sess-2", 0)

	assert.Equal(t, a, b, "same session and index must map to the same id")
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, strings.Split(a, "-"), 5, "expected uuid shape")
}

func TestNewWeaviateSink_RequiresConfig(t *testing.T) {
	_, err := NewWeaviateSink(config.WeaviateConfig{Scheme: "http", Class: "X"}, nil)
	assert.Error(t, err, "missing host")

	_, err = NewWeaviateSink(config.WeaviateConfig{Host: "localhost:8080", Scheme: "http"}, nil)
	assert.Error(t, err, "missing class")
}
