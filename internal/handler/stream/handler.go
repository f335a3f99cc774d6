// Package stream projects a turn's lifecycle onto Server-Sent Events.
package stream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mediguide/concierge/backend/internal/service/turn"
	"github.com/mediguide/concierge/backend/pkg/logger"
	"github.com/mediguide/concierge/backend/pkg/utils"
)

// Handler relays orchestrator updates to an SSE subscriber.
type Handler struct {
	orch *turn.Orchestrator
}

// New creates a stream handler.
func New(orch *turn.Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// HandleStreamRequest submits a turn and streams its updates until the turn
// reaches a terminal state. A submission error is returned before any SSE
// bytes are written, so the caller can still send a plain HTTP error. Once
// the stream is open, a departed subscriber does not abort the turn; the
// orchestrator keeps completing it against the transcript.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	updates, err := h.orch.Submit(ctx, sessionID, userMessage)
	if err != nil {
		return err
	}

	utils.SetupSSEHeaders(w)

	for update := range updates {
		utils.SendSSEChunk(w, flusher, update)
	}

	logger.Debugf("stream: turn finished for session=%s", sessionID)
	return nil
}
