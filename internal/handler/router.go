package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mediguide/concierge/backend/internal/handler/chat"
	"github.com/mediguide/concierge/backend/internal/handler/stream"
	"github.com/mediguide/concierge/backend/internal/handler/ws"
	"github.com/mediguide/concierge/backend/internal/middleware"
	"github.com/mediguide/concierge/backend/internal/model/prompt"
	chatservice "github.com/mediguide/concierge/backend/internal/service/chat"
	"github.com/mediguide/concierge/backend/internal/service/turn"
	"github.com/mediguide/concierge/backend/pkg/logger"
	"github.com/mediguide/concierge/backend/pkg/utils"
)

// Suggester provides starter questions for an empty conversation. Only the
// HTTP backend mode has a remote source for these.
type Suggester interface {
	SuggestedQuestions(ctx context.Context) []string
}

// defaultSuggestions cover for an unavailable or unconfigured suggestion
// source.
var defaultSuggestions = []string{
	"이 증상, 의료사고일 수 있나요?",
	"수술 동의서에 서명했는데 문제 삼을 수 있나요?",
	"의료사고 보상 절차가 어떻게 되나요?",
}

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatservice.Service, orch *turn.Orchestrator, suggester Suggester, prompts prompt.Store, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(corsOrigins))

	chatHandler := chat.New(chatSvc, orch)
	streamHandler := stream.New(orch)
	wsHandler := ws.New(orch)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)

		api.Get("/stream/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
			sessionID := chi.URLParam(r, "sessionID")
			userMessage := r.URL.Query().Get("message")

			if err := streamHandler.HandleStreamRequest(r.Context(), w, sessionID, userMessage); err != nil {
				switch {
				case errors.Is(err, turn.ErrEmptyMessage):
					utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
				case errors.Is(err, turn.ErrTurnInFlight):
					utils.RespondError(w, http.StatusConflict, "a turn is already in flight")
				case errors.Is(err, chatservice.ErrSessionNotFound):
					utils.RespondError(w, http.StatusNotFound, "session not found")
				default:
					logger.Errorf("stream: request failed for session=%s: %v", sessionID, err)
					utils.RespondError(w, http.StatusInternalServerError, "streaming failed")
				}
			}
		})

		api.Get("/suggestions", func(w http.ResponseWriter, r *http.Request) {
			questions := defaultSuggestions
			if suggester != nil {
				if remoteQuestions := suggester.SuggestedQuestions(r.Context()); len(remoteQuestions) > 0 {
					questions = remoteQuestions
				}
			}
			utils.RespondJSON(w, http.StatusOK, map[string][]string{"questions": questions})
		})

		api.Get("/prompts", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, prompts.List())
		})
	})

	return r
}
