// Package turn drives a single user turn from submission to completion:
// place the user turn, place a pending assistant placeholder, consume the
// backend response (streamed, one-shot, or one-shot with a simulated
// rune-by-rune reveal), and reconcile what arrives into the placeholder.
package turn

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/mediguide/concierge/backend/internal/analysis/classify"
	"github.com/mediguide/concierge/backend/internal/config"
	model "github.com/mediguide/concierge/backend/internal/model/chat"
	chatservice "github.com/mediguide/concierge/backend/internal/service/chat"
	"github.com/mediguide/concierge/backend/internal/service/remote"
	"github.com/mediguide/concierge/backend/pkg/logger"
)

var (
	// ErrEmptyMessage rejects blank submissions before any turn is created.
	ErrEmptyMessage = errors.New("message is required")
	// ErrTurnInFlight rejects a submission while the session already has a
	// pending assistant turn.
	ErrTurnInFlight = errors.New("a turn is already in flight for this session")
)

// documentKeyword short-circuits a formal opinion-letter request made before
// any consultation happened.
const documentKeyword = "의견서"

const (
	failureMessage   = "오류가 발생했습니다. 네트워크 연결과 API 설정을 확인해주세요."
	documentGuidance = "의견서를 작성하려면 먼저 상담 내용이 필요합니다. 겪고 계신 의료 상황을 먼저 말씀해 주세요."
)

// Update event names, mirrored onto the SSE/WebSocket projections.
const (
	EventStart   = "start"
	EventDelta   = "delta"
	EventMessage = "message"
	EventError   = "error"
	EventEnd     = "end"
)

// Update is one observable step of a turn's lifecycle.
type Update struct {
	Event     string         `json:"event"`
	SessionID string         `json:"sessionId"`
	TurnID    string         `json:"turnId,omitempty"`
	Content   string         `json:"content,omitempty"`
	Sources   []model.Source `json:"sources,omitempty"`
	Finished  bool           `json:"finished,omitempty"`
}

// Orchestrator owns the per-session turn state machine. One turn may be in
// flight per session; independent sessions run turns concurrently with no
// coordination since each owns disjoint transcript state.
type Orchestrator struct {
	store  *chatservice.Service
	client remote.Client
	cfg    config.BackendConfig

	mu       sync.Mutex
	inflight map[string]bool
	contexts map[string]*remote.Context
}

func NewOrchestrator(store *chatservice.Service, client remote.Client, cfg config.BackendConfig) *Orchestrator {
	return &Orchestrator{
		store:    store,
		client:   client,
		cfg:      cfg,
		inflight: make(map[string]bool),
		contexts: make(map[string]*remote.Context),
	}
}

// BindFreshContext replaces a session's remote conversation context, so a
// new chat or a session switch never leaks remote-side history.
func (o *Orchestrator) BindFreshContext(ctx context.Context, sessionID string) {
	conv := o.client.StartSession(ctx)
	o.mu.Lock()
	o.contexts[sessionID] = conv
	o.mu.Unlock()
}

// Submit places a user turn and drives it to completion in the background.
// The returned channel reports lifecycle updates and closes once the turn
// reaches a terminal state; the transcript in the store stays authoritative
// even if the caller stops reading.
func (o *Orchestrator) Submit(ctx context.Context, sessionID, text string) (<-chan Update, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	session, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.inflight[sessionID] {
		o.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	o.inflight[sessionID] = true
	o.mu.Unlock()

	updates := make(chan Update, 256)

	userTurn := model.Turn{ID: uuid.NewString(), Role: model.RoleUser, Content: text}
	if err := o.store.AppendTurn(ctx, sessionID, userTurn); err != nil {
		o.clearInflight(sessionID)
		return nil, err
	}

	// Opinion-letter request against an empty consultation: answer with
	// static guidance, no backend call.
	if strings.Contains(text, documentKeyword) && !hasUserTurn(session) {
		guidance := model.Turn{ID: uuid.NewString(), Role: model.RoleAssistant, Content: documentGuidance}
		o.store.AppendTurn(ctx, sessionID, guidance)
		send(updates, Update{Event: EventMessage, SessionID: sessionID, TurnID: guidance.ID, Content: documentGuidance})
		send(updates, Update{Event: EventEnd, SessionID: sessionID, TurnID: guidance.ID, Finished: true})
		close(updates)
		o.clearInflight(sessionID)
		return updates, nil
	}

	placeholder := model.Turn{ID: uuid.NewString(), Role: model.RoleAssistant, Pending: true}
	if err := o.store.AppendTurn(ctx, sessionID, placeholder); err != nil {
		o.clearInflight(sessionID)
		return nil, err
	}

	send(updates, Update{Event: EventStart, SessionID: sessionID, TurnID: placeholder.ID})

	// Detach from the caller's context: closing the UI stream or switching
	// sessions must not abort the turn, which keeps mutating its own
	// (possibly now-inactive) session in the background.
	turnCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(updates)
		defer o.clearInflight(sessionID)

		if o.cfg.Streaming {
			o.runStreaming(turnCtx, updates, sessionID, placeholder.ID, text)
		} else {
			o.runOnce(turnCtx, updates, sessionID, placeholder.ID, text)
		}
	}()

	return updates, nil
}

// InFlight reports whether the session currently has a pending turn.
func (o *Orchestrator) InFlight(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight[sessionID]
}

func (o *Orchestrator) runStreaming(ctx context.Context, updates chan Update, sessionID, turnID, text string) {
	stream, err := o.client.SendTurnStreaming(ctx, o.contextFor(ctx, sessionID), text)
	if err != nil {
		logger.Errorf("turn: stream dispatch failed for session=%s: %v", sessionID, err)
		o.fail(ctx, updates, sessionID, turnID)
		return
	}
	defer stream.Close()

	var acc strings.Builder
	for {
		fragment, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			logger.Errorf("turn: stream dropped for session=%s: %v", sessionID, recvErr)
			o.fail(ctx, updates, sessionID, turnID)
			return
		}
		if fragment == "" {
			continue
		}

		acc.WriteString(fragment)
		o.pushContent(ctx, sessionID, turnID, acc.String())
		send(updates, Update{Event: EventDelta, SessionID: sessionID, TurnID: turnID, Content: fragment})
	}

	if acc.Len() == 0 {
		logger.Warnf("turn: stream for session=%s ended without fragments", sessionID)
		o.fail(ctx, updates, sessionID, turnID)
		return
	}

	o.finalize(ctx, updates, sessionID, turnID, text, acc.String(), nil)
}

func (o *Orchestrator) runOnce(ctx context.Context, updates chan Update, sessionID, turnID, text string) {
	raw, err := o.client.SendTurnOnce(ctx, o.contextFor(ctx, sessionID), text)
	if err != nil {
		logger.Errorf("turn: dispatch failed for session=%s: %v", sessionID, err)
		o.fail(ctx, updates, sessionID, turnID)
		return
	}

	envelope, err := classify.Classify(raw)
	if err != nil {
		logger.Errorf("turn: classification failed for session=%s: %v", sessionID, err)
		o.fail(ctx, updates, sessionID, turnID)
		return
	}

	if o.cfg.SimulatedReveal {
		// Cosmetic typed-out effect over an already complete answer; this
		// buffers the full text up front and is not real backpressure.
		var acc strings.Builder
		for _, r := range envelope.Text {
			acc.WriteRune(r)
			o.pushContent(ctx, sessionID, turnID, acc.String())
			send(updates, Update{Event: EventDelta, SessionID: sessionID, TurnID: turnID, Content: string(r)})
			if !unicode.IsSpace(r) {
				time.Sleep(o.cfg.RevealDelay)
			}
		}
	} else {
		o.pushContent(ctx, sessionID, turnID, envelope.Text)
	}

	o.finalize(ctx, updates, sessionID, turnID, text, envelope.Text, envelope.Sources)
}

func (o *Orchestrator) finalize(ctx context.Context, updates chan Update, sessionID, turnID, userText, content string, sources []model.Source) {
	o.store.UpdateLastMatching(ctx, sessionID, turnID, func(turn *model.Turn) {
		turn.Content = content
		turn.Pending = false
	})
	o.store.RenameIfDefaultTitle(ctx, sessionID, model.DeriveTitle(userText))

	send(updates, Update{Event: EventMessage, SessionID: sessionID, TurnID: turnID, Content: content, Sources: sources})
	send(updates, Update{Event: EventEnd, SessionID: sessionID, TurnID: turnID, Finished: true})
}

func (o *Orchestrator) fail(ctx context.Context, updates chan Update, sessionID, turnID string) {
	o.store.UpdateLastMatching(ctx, sessionID, turnID, func(turn *model.Turn) {
		turn.Content = failureMessage
		turn.Pending = false
	})

	send(updates, Update{Event: EventError, SessionID: sessionID, TurnID: turnID, Content: failureMessage})
	send(updates, Update{Event: EventEnd, SessionID: sessionID, TurnID: turnID, Finished: true})
}

func (o *Orchestrator) pushContent(ctx context.Context, sessionID, turnID, content string) {
	o.store.UpdateLastMatching(ctx, sessionID, turnID, func(turn *model.Turn) {
		turn.Content = content
	})
}

func (o *Orchestrator) contextFor(ctx context.Context, sessionID string) *remote.Context {
	o.mu.Lock()
	defer o.mu.Unlock()

	conv, ok := o.contexts[sessionID]
	if !ok {
		conv = o.client.StartSession(ctx)
		o.contexts[sessionID] = conv
	}
	return conv
}

func (o *Orchestrator) clearInflight(sessionID string) {
	o.mu.Lock()
	delete(o.inflight, sessionID)
	o.mu.Unlock()
}

func hasUserTurn(session model.Session) bool {
	for _, turn := range session.Turns {
		if turn.Role == model.RoleUser {
			return true
		}
	}
	return false
}

// send never blocks: the store is authoritative, updates are a projection,
// and a stalled subscriber must not stall the turn.
func send(ch chan Update, update Update) {
	select {
	case ch <- update:
	default:
		logger.Debugf("turn: dropped %s update for session=%s", update.Event, update.SessionID)
	}
}
