package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mediguide/concierge/backend/internal/analysis/classify"
	"github.com/mediguide/concierge/backend/internal/config"
	chatservice "github.com/mediguide/concierge/backend/internal/service/chat"
	"github.com/mediguide/concierge/backend/internal/service/remote"
	"github.com/mediguide/concierge/backend/internal/service/turn"
)

type fakeClient struct {
	fragments []string
}

func (f *fakeClient) StartSession(ctx context.Context) *remote.Context {
	return remote.NewContext()
}

func (f *fakeClient) SendTurnStreaming(ctx context.Context, conv *remote.Context, text string) (*remote.FragmentStream, error) {
	stream, w := remote.Pipe()
	go func() {
		for _, fragment := range f.fragments {
			w.Emit(fragment)
		}
		w.Finish()
	}()
	return stream, nil
}

func (f *fakeClient) SendTurnOnce(ctx context.Context, conv *remote.Context, text string) (classify.RawResult, error) {
	return classify.RawResult{}, errors.New("not used")
}

func dialTestServer(t *testing.T, fragments []string) *websocket.Conn {
	t.Helper()

	chatSvc := chatservice.NewService()
	orch := turn.NewOrchestrator(chatSvc, &fakeClient{fragments: fragments}, config.BackendConfig{Streaming: true})

	r := chi.NewRouter()
	New(orch).RegisterRoutes(r)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/" + chatservice.DefaultSessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestTurnRelayedOverWebSocket(t *testing.T) {
	conn := dialTestServer(t, []string{"안", "녕"})

	if err := conn.WriteJSON(inboundMessage{Type: "turn", Text: "안녕하세요"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var events []string
	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		events = append(events, msg.Type)
		if msg.Type == "end" {
			break
		}
	}

	if events[0] != "start" {
		t.Errorf("first event = %q, want start", events[0])
	}
	var deltas int
	for _, event := range events {
		if event == "delta" {
			deltas++
		}
	}
	if deltas != 2 {
		t.Errorf("delta count = %d, want 2", deltas)
	}
}

func TestEmptyTurnRejectedOverWebSocket(t *testing.T) {
	conn := dialTestServer(t, nil)

	if err := conn.WriteJSON(inboundMessage{Type: "turn", Text: "   "}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var msg struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "error" {
		t.Errorf("event = %q, want error", msg.Type)
	}
}

func TestPingPong(t *testing.T) {
	conn := dialTestServer(t, nil)

	if err := conn.WriteJSON(inboundMessage{Type: "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var msg struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "pong" {
		t.Errorf("event = %q, want pong", msg.Type)
	}
}
