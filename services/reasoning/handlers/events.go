// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/Denali/services/reasoning/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
}

const eventWriteTimeout = 10 * time.Second

// eventStreamBuffer is the per-client queue depth. A client that cannot
// keep up has events dropped rather than stalling the engine's emitter.
const eventStreamBuffer = 256

// HandleSessionEvents streams a session's engine events over a websocket.
//
// Description:
//
//	Upgrades the connection, optionally replays the emitter's buffered
//	events for the session (?replay=true), then forwards live events
//	until the client disconnects. The subscription handler never blocks:
//	events for a slow client are dropped and counted, and the drop total
//	is reported in the close log line.
func HandleSessionEvents(em *events.Emitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("event stream client connected", "session_id", sessionID)

		if c.Query("replay") == "true" {
			for _, ev := range em.GetBufferBySession(sessionID) {
				ev := ev
				if err := writeEvent(ws, &ev); err != nil {
					slog.Info("event stream client disconnected during replay",
						"session_id", sessionID, "error", err)
					return
				}
			}
		}

		queue := make(chan *events.Event, eventStreamBuffer)
		var dropped atomic.Int64
		subID := em.SubscribeSession(sessionID, func(ev *events.Event) {
			select {
			case queue <- ev:
			default:
				dropped.Add(1)
			}
		})
		defer em.Unsubscribe(subID)

		// Reader goroutine exists only to detect disconnect.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				slog.Info("event stream client disconnected",
					"session_id", sessionID, "dropped", dropped.Load())
				return
			case ev := <-queue:
				if err := writeEvent(ws, ev); err != nil {
					slog.Info("event stream write failed",
						"session_id", sessionID, "error", err)
					return
				}
			}
		}
	}
}

func writeEvent(ws *websocket.Conn, ev *events.Event) error {
	if err := ws.SetWriteDeadline(time.Now().Add(eventWriteTimeout)); err != nil {
		return err
	}
	return ws.WriteJSON(ev)
}
