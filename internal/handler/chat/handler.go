package chat

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatservice "github.com/mediguide/concierge/backend/internal/service/chat"
	"github.com/mediguide/concierge/backend/internal/service/turn"
	"github.com/mediguide/concierge/backend/pkg/utils"
)

// Handler serves the session lifecycle endpoints.
type Handler struct {
	chatSvc *chatservice.Service
	orch    *turn.Orchestrator
}

// New creates a session handler.
func New(chatSvc *chatservice.Service, orch *turn.Orchestrator) *Handler {
	return &Handler{chatSvc: chatSvc, orch: orch}
}

// RegisterRoutes registers the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/active", h.handleActiveSession)
	r.Post("/sessions/{sessionID}/activate", h.handleActivateSession)
	r.Get("/sessions/{sessionID}/turns", h.handleSessionTurns)
	r.Patch("/sessions/{sessionID}", h.handleRenameSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.List(r.Context()))
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title string `json:"title"`
	}
	// An empty body is a valid "new chat" request.
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session := h.chatSvc.Create(r.Context(), payload.Title)
	h.orch.BindFreshContext(r.Context(), session.ID)

	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.Active(r.Context()))
}

func (h *Handler) handleActivateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.chatSvc.SetActive(r.Context(), sessionID); err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	// A switched-to session starts a fresh remote conversation; its local
	// transcript is untouched.
	h.orch.BindFreshContext(r.Context(), sessionID)

	utils.RespondJSON(w, http.StatusOK, map[string]string{"active": sessionID})
}

func (h *Handler) handleSessionTurns(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.chatSvc.Get(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId": session.ID,
		"turns":     session.Turns,
		"pending":   h.orch.InFlight(sessionID),
	})
}

func (h *Handler) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Title == "" {
		utils.RespondError(w, http.StatusBadRequest, "title is required")
		return
	}

	if err := h.chatSvc.Rename(r.Context(), sessionID, payload.Title); err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.chatSvc.Delete(r.Context(), sessionID); err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
