package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kuberoot/kuberoot/pkg/models"
)

// sseHeaders prepares the response for server-sent events.
func sseHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()
}

// streamEvents writes each event as one SSE frame until the channel
// closes or the client goes away. Terminal semantics live in the event
// log; the handler just drains.
func (s *Server) streamEvents(c *gin.Context, stream <-chan models.Event) {
	sseHeaders(c)

	clientGone := c.Request.Context().Done()
	for {
		select {
		case event, ok := <-stream:
			if !ok {
				return
			}
			frame, err := json.Marshal(flattenEvent(event))
			if err != nil {
				s.logger.Error("Failed to encode SSE frame",
					"task_id", event.TaskID, "sequence", event.Sequence, "error", err)
				continue
			}
			if _, err := c.Writer.WriteString("data: " + string(frame) + "\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case <-clientGone:
			return
		}
	}
}

// flattenEvent renders one event as a single JSON object: the envelope
// fields plus the payload's fields hoisted to the top level. Envelope
// keys win on collision.
func flattenEvent(event models.Event) map[string]any {
	frame := make(map[string]any)
	if len(event.Payload) > 0 {
		// Best effort: a payload that is not a JSON object stays nested.
		if err := json.Unmarshal(event.Payload, &frame); err != nil {
			frame = map[string]any{"payload": json.RawMessage(event.Payload)}
		}
	}

	frame["type"] = event.Kind
	frame["task_id"] = event.TaskID
	frame["timestamp"] = event.Timestamp
	frame["sequence"] = event.Sequence
	if event.Reason != "" {
		frame["reason"] = event.Reason
	}
	if event.Analysis != "" {
		frame["analysis"] = event.Analysis
	}
	return frame
}
