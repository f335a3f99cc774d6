package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mediguide/concierge/backend/internal/analysis/classify"
	"github.com/mediguide/concierge/backend/internal/config"
	model "github.com/mediguide/concierge/backend/internal/model/chat"
	chatservice "github.com/mediguide/concierge/backend/internal/service/chat"
	"github.com/mediguide/concierge/backend/internal/service/remote"
)

type fakeClient struct {
	mu        sync.Mutex
	calls     int
	fragments []string
	streamErr error
	once      classify.RawResult
	onceErr   error
	gate      chan struct{}
}

func (f *fakeClient) StartSession(ctx context.Context) *remote.Context {
	return remote.NewContext()
}

func (f *fakeClient) SendTurnStreaming(ctx context.Context, conv *remote.Context, text string) (*remote.FragmentStream, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	stream, w := remote.Pipe()
	go func() {
		if f.gate != nil {
			<-f.gate
		}
		for _, fragment := range f.fragments {
			w.Emit(fragment)
		}
		if f.streamErr != nil {
			w.Fail(f.streamErr)
			return
		}
		w.Finish()
	}()
	return stream, nil
}

func (f *fakeClient) SendTurnOnce(ctx context.Context, conv *remote.Context, text string) (classify.RawResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.once, f.onceErr
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// echoClient answers each turn with text derived from the question, so
// cross-session mixups are visible in the transcripts.
type echoClient struct {
	gate chan struct{}
}

func (f *echoClient) StartSession(ctx context.Context) *remote.Context {
	return remote.NewContext()
}

func (f *echoClient) SendTurnStreaming(ctx context.Context, conv *remote.Context, text string) (*remote.FragmentStream, error) {
	stream, w := remote.Pipe()
	go func() {
		<-f.gate
		w.Emit("답변: " + text)
		w.Finish()
	}()
	return stream, nil
}

func (f *echoClient) SendTurnOnce(ctx context.Context, conv *remote.Context, text string) (classify.RawResult, error) {
	return classify.RawResult{}, errors.New("not used")
}

func drain(t *testing.T, updates <-chan Update) []Update {
	t.Helper()
	var got []Update
	timeout := time.After(5 * time.Second)
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return got
			}
			got = append(got, update)
		case <-timeout:
			t.Fatal("updates channel never closed")
		}
	}
}

func lastTurn(t *testing.T, store *chatservice.Service, sessionID string) model.Turn {
	t.Helper()
	session, err := store.Get(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(session.Turns) == 0 {
		t.Fatal("session has no turns")
	}
	return session.Turns[len(session.Turns)-1]
}

func TestSubmitStreamingAccumulatesFragments(t *testing.T) {
	store := chatservice.NewService()
	client := &fakeClient{fragments: []string{"안", "녕", "하세요"}}
	orch := NewOrchestrator(store, client, config.BackendConfig{Streaming: true})

	updates, err := orch.Submit(context.Background(), chatservice.DefaultSessionID, "안녕하세요")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := drain(t, updates)

	assistant := lastTurn(t, store, chatservice.DefaultSessionID)
	if assistant.Content != "안녕하세요" {
		t.Errorf("assistant content = %q, want %q", assistant.Content, "안녕하세요")
	}
	if assistant.Pending {
		t.Error("assistant turn still pending after completion")
	}

	session, _ := store.Get(context.Background(), chatservice.DefaultSessionID)
	if session.Title != "안녕하세요" {
		t.Errorf("session title = %q, want %q", session.Title, "안녕하세요")
	}

	if got[0].Event != EventStart {
		t.Errorf("first event = %q, want %q", got[0].Event, EventStart)
	}
	if got[len(got)-1].Event != EventEnd {
		t.Errorf("last event = %q, want %q", got[len(got)-1].Event, EventEnd)
	}
}

func TestSubmitRejectsEmptyMessage(t *testing.T) {
	store := chatservice.NewService()
	orch := NewOrchestrator(store, &fakeClient{}, config.BackendConfig{Streaming: true})

	if _, err := orch.Submit(context.Background(), chatservice.DefaultSessionID, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}

	session, _ := store.Get(context.Background(), chatservice.DefaultSessionID)
	if len(session.Turns) != 0 {
		t.Errorf("blank submission created %d turns", len(session.Turns))
	}
}

func TestSubmitRejectsWhilePending(t *testing.T) {
	store := chatservice.NewService()
	client := &fakeClient{fragments: []string{"응답"}, gate: make(chan struct{})}
	orch := NewOrchestrator(store, client, config.BackendConfig{Streaming: true})

	updates, err := orch.Submit(context.Background(), chatservice.DefaultSessionID, "첫 질문")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := orch.Submit(context.Background(), chatservice.DefaultSessionID, "두 번째 질문"); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("err = %v, want ErrTurnInFlight", err)
	}

	close(client.gate)
	drain(t, updates)

	if _, err := orch.Submit(context.Background(), chatservice.DefaultSessionID, "세 번째 질문"); err != nil {
		t.Fatalf("Submit after completion: %v", err)
	}
}

func TestIndependentSessionsRunConcurrentTurns(t *testing.T) {
	store := chatservice.NewService()
	client := &echoClient{gate: make(chan struct{})}
	orch := NewOrchestrator(store, client, config.BackendConfig{Streaming: true})

	second := store.Create(context.Background(), "")

	firstUpdates, err := orch.Submit(context.Background(), chatservice.DefaultSessionID, "첫 세션 질문")
	if err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	secondUpdates, err := orch.Submit(context.Background(), second.ID, "둘째 세션 질문")
	if err != nil {
		t.Fatalf("Submit second: %v", err)
	}

	if !orch.InFlight(chatservice.DefaultSessionID) || !orch.InFlight(second.ID) {
		t.Fatal("both sessions should have an in-flight turn")
	}

	close(client.gate)
	drain(t, firstUpdates)
	drain(t, secondUpdates)

	first := lastTurn(t, store, chatservice.DefaultSessionID)
	if first.Content != "답변: 첫 세션 질문" {
		t.Errorf("first session content = %q", first.Content)
	}
	got := lastTurn(t, store, second.ID)
	if got.Content != "답변: 둘째 세션 질문" {
		t.Errorf("second session content = %q", got.Content)
	}

	firstSession, _ := store.Get(context.Background(), chatservice.DefaultSessionID)
	secondSession, _ := store.Get(context.Background(), second.ID)
	if firstSession.Title != "첫 세션 질문" || secondSession.Title != "둘째 세션 질문" {
		t.Errorf("titles = %q, %q; auto-title crossed sessions", firstSession.Title, secondSession.Title)
	}
}

func TestDocumentKeywordShortCircuitsBeforeConsultation(t *testing.T) {
	store := chatservice.NewService()
	client := &fakeClient{}
	orch := NewOrchestrator(store, client, config.BackendConfig{Streaming: true})

	updates, err := orch.Submit(context.Background(), chatservice.DefaultSessionID, "의견서 작성해주세요")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, updates)

	if client.callCount() != 0 {
		t.Errorf("backend called %d times, want 0", client.callCount())
	}

	assistant := lastTurn(t, store, chatservice.DefaultSessionID)
	if assistant.Content != documentGuidance {
		t.Errorf("assistant content = %q, want guidance", assistant.Content)
	}
	if assistant.Pending {
		t.Error("guidance turn marked pending")
	}
}

func TestDocumentKeywordAfterConsultationReachesBackend(t *testing.T) {
	store := chatservice.NewService()
	store.AppendTurn(context.Background(), chatservice.DefaultSessionID,
		model.Turn{ID: "t1", Role: model.RoleUser, Content: "진료 중 사고가 있었어요"})

	client := &fakeClient{fragments: []string{"의견서 내용"}}
	orch := NewOrchestrator(store, client, config.BackendConfig{Streaming: true})

	updates, err := orch.Submit(context.Background(), chatservice.DefaultSessionID, "의견서 작성해주세요")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, updates)

	if client.callCount() != 1 {
		t.Errorf("backend called %d times, want 1", client.callCount())
	}
}

func TestStreamFailureWritesFallbackMessage(t *testing.T) {
	store := chatservice.NewService()
	client := &fakeClient{
		fragments: []string{"부분"},
		streamErr: &remote.TransportError{Op: "stream", Err: errors.New("connection reset")},
	}
	orch := NewOrchestrator(store, client, config.BackendConfig{Streaming: true})

	updates, err := orch.Submit(context.Background(), chatservice.DefaultSessionID, "질문입니다")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := drain(t, updates)

	assistant := lastTurn(t, store, chatservice.DefaultSessionID)
	if assistant.Content != failureMessage {
		t.Errorf("assistant content = %q, want fallback message", assistant.Content)
	}
	if assistant.Pending {
		t.Error("failed turn still pending")
	}

	session, _ := store.Get(context.Background(), chatservice.DefaultSessionID)
	if session.Title != model.DefaultTitle {
		t.Errorf("failed turn renamed session to %q", session.Title)
	}

	sawError := false
	for _, update := range got {
		if update.Event == EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("no error event emitted")
	}
}

func TestStreamWithoutFragmentsFails(t *testing.T) {
	store := chatservice.NewService()
	client := &fakeClient{}
	orch := NewOrchestrator(store, client, config.BackendConfig{Streaming: true})

	updates, err := orch.Submit(context.Background(), chatservice.DefaultSessionID, "질문입니다")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, updates)

	assistant := lastTurn(t, store, chatservice.DefaultSessionID)
	if assistant.Content != failureMessage {
		t.Errorf("assistant content = %q, want fallback message", assistant.Content)
	}
}

func TestSubmitOnceClassifiesDocumentResponse(t *testing.T) {
	store := chatservice.NewService()
	client := &fakeClient{once: classify.RawResult{
		Type:            model.KindDocument,
		Answer:          "완료",
		DocumentContent: "본문",
	}}
	orch := NewOrchestrator(store, client, config.BackendConfig{Streaming: false})

	updates, err := orch.Submit(context.Background(), chatservice.DefaultSessionID, "정리해주세요")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, updates)

	assistant := lastTurn(t, store, chatservice.DefaultSessionID)
	want := "완료\n\n---\n\n본문"
	if assistant.Content != want {
		t.Errorf("assistant content = %q, want %q", assistant.Content, want)
	}
}

func TestSubmitOnceMissingAnswerFails(t *testing.T) {
	store := chatservice.NewService()
	client := &fakeClient{once: classify.RawResult{Type: model.KindChat}}
	orch := NewOrchestrator(store, client, config.BackendConfig{Streaming: false})

	updates, err := orch.Submit(context.Background(), chatservice.DefaultSessionID, "질문입니다")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, updates)

	assistant := lastTurn(t, store, chatservice.DefaultSessionID)
	if assistant.Content != failureMessage {
		t.Errorf("assistant content = %q, want fallback message", assistant.Content)
	}
}

func TestSimulatedRevealDeliversRuneDeltas(t *testing.T) {
	store := chatservice.NewService()
	client := &fakeClient{once: classify.RawResult{Type: model.KindChat, Answer: "안녕 하세요"}}
	orch := NewOrchestrator(store, client, config.BackendConfig{
		Streaming:       false,
		SimulatedReveal: true,
	})

	updates, err := orch.Submit(context.Background(), chatservice.DefaultSessionID, "인사해주세요")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := drain(t, updates)

	var deltas int
	for _, update := range got {
		if update.Event == EventDelta {
			deltas++
		}
	}
	if want := len([]rune("안녕 하세요")); deltas != want {
		t.Errorf("delta count = %d, want %d", deltas, want)
	}

	assistant := lastTurn(t, store, chatservice.DefaultSessionID)
	if assistant.Content != "안녕 하세요" {
		t.Errorf("assistant content = %q, want full answer", assistant.Content)
	}
}
