package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mediguide/concierge/backend/internal/model/chat"
)

var ErrSessionNotFound = errors.New("session not found")

// DefaultSessionID identifies the implicit session that exists at startup
// and that the store falls back to when the active session is deleted.
const DefaultSessionID = "default"

// Service owns every session transcript plus the active-session pointer.
// All operations are synchronous and safe to call from concurrent turn
// goroutines without tearing state.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*chat.Session
	order    []string // newest first; the default session starts at the tail
	activeID string
}

// NewService bootstraps the in-memory store with the default session active.
func NewService() *Service {
	s := &Service{
		sessions: make(map[string]*chat.Session),
	}
	s.seedDefaultLocked()
	s.activeID = DefaultSessionID
	return s
}

// Create provisions a new session and makes it active. A fresh remote
// conversation context must be bound by the caller so remote-side history
// never leaks across sessions.
func (s *Service) Create(_ context.Context, title string) chat.Session {
	if title == "" {
		title = chat.DefaultTitle
	}

	session := &chat.Session{
		ID:        uuid.NewString(),
		Title:     title,
		Turns:     make([]chat.Turn, 0, 16),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.order = append([]string{session.ID}, s.order...)
	s.activeID = session.ID
	s.mu.Unlock()

	return copySession(session)
}

// Get retrieves a session snapshot, transcript included.
func (s *Service) Get(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return copySession(session), nil
}

// List returns session snapshots, newest first.
func (s *Service) List(_ context.Context) []chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Session, 0, len(s.order))
	for _, id := range s.order {
		if session, ok := s.sessions[id]; ok {
			out = append(out, copySession(session))
		}
	}
	return out
}

// SetActive switches the active-session pointer. Transcripts of other
// sessions are untouched; in-flight turns keep writing to their own session.
func (s *Service) SetActive(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	s.activeID = sessionID
	return nil
}

// Active returns a snapshot of the active session. The pointer always
// resolves to an existing session, so this cannot fail.
func (s *Service) Active(_ context.Context) chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySession(s.sessions[s.activeID])
}

// Delete removes a session. Deleting the active session atomically
// reassigns the pointer to the default session, recreating it empty when
// it no longer exists, so the UI is never left pointing at nothing.
func (s *Service) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}

	delete(s.sessions, sessionID)
	for i, id := range s.order {
		if id == sessionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	if s.activeID == sessionID {
		if _, ok := s.sessions[DefaultSessionID]; !ok {
			s.seedDefaultLocked()
		}
		s.activeID = DefaultSessionID
	}
	return nil
}

// AppendTurn adds a turn to the tail of a session transcript.
func (s *Service) AppendTurn(_ context.Context, sessionID string, turn chat.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	turn.SessionID = sessionID
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	session.Turns = append(session.Turns, turn)
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateLastMatching mutates, in place, the newest turn whose ID matches.
// A missing session or turn is a no-op: a turn finishing in the background
// after its session was deleted must not fail the stream.
func (s *Service) UpdateLastMatching(_ context.Context, sessionID, turnID string, mutate func(*chat.Turn)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	for i := len(session.Turns) - 1; i >= 0; i-- {
		if session.Turns[i].ID == turnID {
			mutate(&session.Turns[i])
			session.UpdatedAt = time.Now().UTC()
			return
		}
	}
}

// RenameIfDefaultTitle applies the one-shot auto-title: it only fires while
// the title still equals the default placeholder and never afterwards.
func (s *Service) RenameIfDefaultTitle(_ context.Context, sessionID, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || session.Title != chat.DefaultTitle || title == "" {
		return
	}
	session.Title = title
	session.UpdatedAt = time.Now().UTC()
}

// Rename sets a session title explicitly, bypassing the auto-title guard.
func (s *Service) Rename(_ context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	session.Title = title
	session.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Service) seedDefaultLocked() {
	s.sessions[DefaultSessionID] = &chat.Session{
		ID:        DefaultSessionID,
		Title:     chat.DefaultTitle,
		Turns:     make([]chat.Turn, 0, 16),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	s.order = append(s.order, DefaultSessionID)
}

func copySession(session *chat.Session) chat.Session {
	out := *session
	out.Turns = make([]chat.Turn, len(session.Turns))
	copy(out.Turns, session.Turns)
	return out
}
