// Package remote wraps the conversational backend behind a single client
// contract: start a session-scoped conversation context, then send a turn and
// obtain either one result or a sequence of text fragments. Retries are a
// caller policy and do not belong here.
package remote

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/mediguide/concierge/backend/internal/analysis/classify"
)

// Client is the turn-taking capability both backend modes implement.
type Client interface {
	// StartSession replaces any previous conversation context for the
	// caller. It always succeeds locally; the remote side is lazy.
	StartSession(ctx context.Context) *Context

	// SendTurnStreaming produces a lazy, single-pass fragment sequence.
	// Fragments yielded before a mid-stream failure remain valid.
	SendTurnStreaming(ctx context.Context, conv *Context, text string) (*FragmentStream, error)

	// SendTurnOnce is the non-streamed alternative.
	SendTurnOnce(ctx context.Context, conv *Context, text string) (classify.RawResult, error)
}

// Context is the opaque handle bound 1:1 to a session's remote-side state.
// HTTP mode only needs the identifier; SDK mode also carries the model's
// conversation memory.
type Context struct {
	ID string

	mu      sync.Mutex
	history []*schema.Message
}

// NewContext mints a fresh conversation context.
func NewContext() *Context {
	return &Context{ID: "session_" + uuid.NewString()}
}

// History snapshots the stored conversation memory.
func (c *Context) History() []*schema.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*schema.Message, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Context) remember(userText, assistantText string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history,
		schema.UserMessage(userText),
		schema.AssistantMessage(assistantText, nil),
	)
}

// TransportError reports a connection that could not be established or was
// dropped, including non-2xx statuses.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type fragmentItem struct {
	text string
	err  error
}

// FragmentStream is a lazy, single-pass, cancelable fragment sequence.
// Recv returns io.EOF after the last fragment.
type FragmentStream struct {
	items  chan fragmentItem
	cancel context.CancelFunc
	closed bool
}

func newFragmentStream(cancel context.CancelFunc) *FragmentStream {
	return &FragmentStream{
		items:  make(chan fragmentItem, 16),
		cancel: cancel,
	}
}

// StreamWriter is the producer side of a piped FragmentStream.
type StreamWriter struct {
	stream *FragmentStream
}

// Pipe creates a connected fragment reader/writer pair for producers that
// live outside this package.
func Pipe() (*FragmentStream, *StreamWriter) {
	s := newFragmentStream(nil)
	return s, &StreamWriter{stream: s}
}

// Emit appends one fragment.
func (w *StreamWriter) Emit(text string) {
	w.stream.emit(text)
}

// Fail terminates the stream with an error after any emitted fragments.
func (w *StreamWriter) Fail(err error) {
	w.stream.fail(err)
}

// Finish terminates the stream cleanly.
func (w *StreamWriter) Finish() {
	w.stream.finish()
}

// Recv blocks for the next fragment.
func (s *FragmentStream) Recv() (string, error) {
	item, ok := <-s.items
	if !ok {
		return "", io.EOF
	}
	return item.text, item.err
}

// Close releases the underlying connection. Safe to call after EOF.
func (s *FragmentStream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *FragmentStream) emit(text string) {
	s.items <- fragmentItem{text: text}
}

func (s *FragmentStream) fail(err error) {
	s.items <- fragmentItem{err: err}
	close(s.items)
}

func (s *FragmentStream) finish() {
	close(s.items)
}
