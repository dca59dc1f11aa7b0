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
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/Denali/services/reasoning/config"
	"github.com/AleutianAI/Denali/services/reasoning/events"
	"github.com/AleutianAI/Denali/services/reasoning/session"
)

// SessionLoader fetches the full session a terminal event refers to.
type SessionLoader func(ctx context.Context, sessionID string) (*session.Session, error)

const weaviateExportTimeout = 30 * time.Second

// WeaviateSink exports terminal-session summaries to Weaviate.
//
// Description:
//
//	Each COMPLETED or TIMEOUT session is rendered as a plain-text summary
//	(outcome, confidence trajectory, best result), split into chunks, and
//	batch-imported so later runs can search prior reasoning by content.
//	ERROR sessions are skipped: their value is in the trace, not in
//	retrieval. Object IDs are derived from the session ID and chunk index,
//	so re-exporting a session (e.g. after refine_solution re-completes it)
//	overwrites its previous chunks instead of duplicating them.
//
// Thread Safety: Safe for concurrent use after creation.
type WeaviateSink struct {
	client   *weaviate.Client
	class    string
	splitter textsplitter.TextSplitter
	logger   *slog.Logger
	subIDs   []string
}

// NewWeaviateSink creates a sink from configuration.
func NewWeaviateSink(cfg config.WeaviateConfig, logger *slog.Logger) (*WeaviateSink, error) {
	if cfg.Host == "" || cfg.Scheme == "" {
		return nil, fmt.Errorf("export: weaviate host and scheme must be set")
	}
	if cfg.Class == "" {
		return nil, fmt.Errorf("export: weaviate class must be set")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.Host,
		Scheme: cfg.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("export: create weaviate client: %w", err)
	}

	return &WeaviateSink{
		client: client,
		class:  cfg.Class,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		),
		logger: logger,
	}, nil
}

// EnsureSchema creates the export class if it does not exist.
func (s *WeaviateSink) EnsureSchema(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().
		WithClassName(s.class).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("export: check class %q: %w", s.class, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:       s.class,
		Description: "Chunked summaries of finished hierarchical reasoning sessions",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "session_id", DataType: []string{"text"}},
			{Name: "operation", DataType: []string{"text"}},
			{Name: "status", DataType: []string{"text"}},
			{Name: "converged", DataType: []string{"boolean"}},
			{Name: "overall_confidence", DataType: []string{"number"}},
			{Name: "chunk_index", DataType: []string{"int"}},
			{Name: "exported_at", DataType: []string{"int"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("export: create class %q: %w", s.class, err)
	}
	s.logger.Info("created weaviate export class", "class", s.class)
	return nil
}

// Attach subscribes the sink to session-end events.
//
// Inputs:
//
//	em - The engine's event emitter.
//	load - Loader used to fetch the full session for export.
func (s *WeaviateSink) Attach(em *events.Emitter, load SessionLoader) {
	s.subIDs = append(s.subIDs, em.Subscribe(func(ev *events.Event) {
		data, ok := ev.Data.(events.SessionEndData)
		if !ok || data.Status == string(session.StatusError) {
			return
		}
		sessionID := ev.SessionID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), weaviateExportTimeout)
			defer cancel()

			sess, err := load(ctx, sessionID)
			if err != nil {
				s.logger.Warn("weaviate export skipped, session load failed",
					"session_id", sessionID, "error", err)
				return
			}
			n, err := s.ExportSession(ctx, sess)
			if err != nil {
				s.logger.Warn("weaviate export failed",
					"session_id", sessionID, "error", err)
				return
			}
			s.logger.Info("exported session summary to weaviate",
				"session_id", sessionID, "chunks", n)
		}()
	}, events.TypeSessionEnd))
}

// Detach removes the sink's subscriptions.
func (s *WeaviateSink) Detach(em *events.Emitter) {
	for _, id := range s.subIDs {
		em.Unsubscribe(id)
	}
	s.subIDs = nil
}

// ExportSession chunks and batch-imports one session's summary.
//
// Outputs:
//
//	int - Number of chunks written.
//	error - Non-nil on split or batch failure.
func (s *WeaviateSink) ExportSession(ctx context.Context, sess *session.Session) (int, error) {
	summary := summarizeSession(sess)

	chunks, err := s.splitter.SplitText(summary)
	if err != nil {
		return 0, fmt.Errorf("export: split summary: %w", err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	now := time.Now().UnixMilli()
	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		objects[i] = &models.Object{
			Class: s.class,
			ID:    strfmt.UUID(chunkID(sess.ID, i)),
			Properties: map[string]interface{}{
				"content":            chunk,
				"session_id":         sess.ID,
				"operation":          string(sess.Operation),
				"status":             string(sess.Status),
				"converged":          sess.Converged,
				"overall_confidence": sess.OverallConfidence,
				"chunk_index":        i,
				"exported_at":        now,
			},
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().
		WithObjects(objects...).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("export: batch import: %w", err)
	}

	written := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			written++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				s.logger.Warn("weaviate batch item failed",
					"session_id", sess.ID, "error", errItem.Message)
			}
		}
	}
	return written, nil
}

// chunkID derives a stable object UUID from the session ID and chunk index.
func chunkID(sessionID string, index int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s_chunk_%d", sessionID, index)))
	id, _ := uuid.FromBytes(hash[:16])
	return id.String()
}

// summarizeSession renders a session as searchable plain text.
func summarizeSession(s *session.Session) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Reasoning session %s (%s) finished %s.\n",
		s.ID, s.Operation, s.Status)
	fmt.Fprintf(&b, "Converged: %t. Overall confidence: %.3f. Iterations: %d. Cycles: %d.\n",
		s.Converged, s.OverallConfidence, len(s.Iterations), s.TotalCycles())

	if len(s.Task) > 0 {
		fmt.Fprintf(&b, "\nTask:\n%s\n", string(s.Task))
	}

	if len(s.Iterations) > 0 {
		b.WriteString("\nConfidence trajectory:\n")
		for _, it := range s.Iterations {
			fmt.Fprintf(&b, "  iteration %d: confidence %.3f over %d cycles (local_converged=%t)\n",
				it.Index, it.Confidence, len(it.Cycles), it.LocalConverged)
		}
	}

	if len(s.BestResult) > 0 {
		fmt.Fprintf(&b, "\nBest result:\n%s\n", string(s.BestResult))
	}

	return b.String()
}
