// Package ws projects a turn's lifecycle onto a WebSocket connection, for
// clients that keep one socket open instead of issuing per-turn SSE
// requests.
package ws

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mediguide/concierge/backend/internal/service/turn"
	"github.com/mediguide/concierge/backend/pkg/logger"
)

// Handler upgrades chat connections and relays turn updates over them.
type Handler struct {
	orch     *turn.Orchestrator
	upgrader websocket.Upgrader
}

// New creates a WebSocket handler.
func New(orch *turn.Orchestrator) *Handler {
	return &Handler{
		orch: orch,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes registers the WebSocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("ws: upgrade failed for session=%s: %v", sessionID, err)
		return
	}
	defer conn.Close()

	logger.Infof("ws: connected session=%s", sessionID)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("ws: read failed for session=%s: %v", sessionID, err)
			}
			return
		}

		switch msg.Type {
		case "turn":
			h.runTurn(conn, r, sessionID, msg.Text)
		case "ping":
			h.write(conn, sessionID, outgoingMessage{Type: "pong", SessionID: sessionID})
		default:
			h.write(conn, sessionID, outgoingMessage{
				Type:      "error",
				SessionID: sessionID,
				Data:      map[string]string{"message": "unknown message type"},
			})
		}
	}
}

// runTurn relays one turn's updates inline. The read loop pauses while a
// turn is in flight, which matches the one-turn-per-session rule.
func (h *Handler) runTurn(conn *websocket.Conn, r *http.Request, sessionID, text string) {
	updates, err := h.orch.Submit(r.Context(), sessionID, text)
	if err != nil {
		h.write(conn, sessionID, outgoingMessage{
			Type:      "error",
			SessionID: sessionID,
			Data:      map[string]string{"message": err.Error()},
		})
		return
	}

	for update := range updates {
		h.write(conn, sessionID, outgoingMessage{
			Type:      update.Event,
			SessionID: sessionID,
			Data:      update,
		})
	}
}

func (h *Handler) write(conn *websocket.Conn, sessionID string, msg outgoingMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	if err := conn.WriteJSON(msg); err != nil {
		logger.Debugf("ws: write failed for session=%s: %v", sessionID, err)
	}
}
