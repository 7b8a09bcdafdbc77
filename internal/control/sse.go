package control

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/forkline/core/internal/bus"
)

// handleEvents streams every bus event to the client as Server-Sent Events.
// Connection count is capped at maxSSEClients; clients whose writes fail
// (slow consumer, disconnect) are dropped silently, and the session's ring
// buffer absorbs what they missed. No backfill is offered here; clients
// reconcile missed history via the periodic /v1/pty/sessions poll instead.
func (s *Server) handleEvents(c *gin.Context) {
	if atomic.AddInt64(&s.sseClients, 1) > int64(s.cfg.MaxSSEClients) {
		atomic.AddInt64(&s.sseClients, -1)
		abortJSON(c, http.StatusTooManyRequests, "too many SSE clients")
		return
	}
	defer atomic.AddInt64(&s.sseClients, -1)

	w := c.Writer
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}

	events := make(chan *bus.Event, 256)
	sub := s.bus.Subscribe(">", func(e *bus.Event) {
		select {
		case events <- e:
		default:
			// Slow consumer: drop the event rather than block the publisher.
		}
	})
	defer sub.Unsubscribe()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			line := fmt.Sprintf("data: %s\n\n", marshalEvent(e))
			if _, err := w.Write([]byte(line)); err != nil {
				s.logger.Debug("sse client write failed, dropping", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func marshalEvent(e *bus.Event) []byte {
	b, err := ssEventJSON(e)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}
