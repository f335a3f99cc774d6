package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mediguide/concierge/backend/internal/analysis/classify"
	"github.com/mediguide/concierge/backend/internal/decoder"
	"github.com/mediguide/concierge/backend/pkg/logger"
)

const (
	chatEndpoint        = "/chat"
	streamEndpoint      = "/chat/stream"
	suggestionsEndpoint = "/suggested_questions"
)

// scanner buffer for oversized stream lines
const maxStreamLineSize = 1024 * 1024

// HTTPClient talks to the MediGuide backend over its HTTP contract.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	stream  *http.Client
}

// NewHTTPClient builds a client for the given backend base URL. The timeout
// bounds non-streaming calls end to end. Streamed responses must be able to
// outlive it, so they go through a separate client with no overall deadline:
// dial, TLS, and time-to-first-byte are bounded by the transport, and the
// body's lifetime by the request context.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	streamTransport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		stream:  &http.Client{Transport: streamTransport},
	}
}

type turnRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

// StartSession mints a fresh backend session identifier. The backend keys
// its conversation memory off session_id, so no remote call is needed.
func (c *HTTPClient) StartSession(_ context.Context) *Context {
	return NewContext()
}

// SendTurnOnce posts a turn and waits for the full result.
func (c *HTTPClient) SendTurnOnce(ctx context.Context, conv *Context, text string) (classify.RawResult, error) {
	body, err := json.Marshal(turnRequest{Query: text, SessionID: conv.ID})
	if err != nil {
		return classify.RawResult{}, fmt.Errorf("marshal turn request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatEndpoint, bytes.NewReader(body))
	if err != nil {
		return classify.RawResult{}, fmt.Errorf("build turn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return classify.RawResult{}, &TransportError{Op: "chat", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify.RawResult{}, &TransportError{Op: "chat", Status: resp.StatusCode}
	}

	var raw classify.RawResult
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return classify.RawResult{}, &TransportError{Op: "chat", Err: fmt.Errorf("decode response: %w", err)}
	}
	return raw, nil
}

// SendTurnStreaming posts a turn and relays the chunked response as decoded
// fragments. The stream ends on the termination sentinel or body EOF.
func (c *HTTPClient) SendTurnStreaming(ctx context.Context, conv *Context, text string) (*FragmentStream, error) {
	body, err := json.Marshal(turnRequest{Query: text, SessionID: conv.ID})
	if err != nil {
		return nil, fmt.Errorf("marshal turn request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.baseURL+streamEndpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, &TransportError{Op: "chat stream", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, &TransportError{Op: "chat stream", Status: resp.StatusCode}
	}

	stream := newFragmentStream(cancel)
	go func() {
		defer resp.Body.Close()

		dec := decoder.New()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, maxStreamLineSize), maxStreamLineSize)

		for scanner.Scan() {
			for _, fragment := range dec.Decode(scanner.Bytes()) {
				stream.emit(fragment)
			}
			if dec.Done() {
				stream.finish()
				return
			}
		}

		if err := scanner.Err(); err != nil {
			stream.fail(&TransportError{Op: "chat stream", Err: err})
			return
		}
		stream.finish()
	}()

	return stream, nil
}

// SuggestedQuestions fetches starter questions for the home screen. Failure
// yields an empty list, never an error: suggestions are decoration.
func (c *HTTPClient) SuggestedQuestions(ctx context.Context) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+suggestionsEndpoint, nil)
	if err != nil {
		return nil
	}

	resp, err := c.client.Do(req)
	if err != nil {
		logger.Warnf("suggested questions unavailable: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warnf("suggested questions unavailable: status %d", resp.StatusCode)
		return nil
	}

	var payload struct {
		Questions []string `json:"questions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		logger.Warnf("suggested questions unreadable: %v", err)
		return nil
	}
	return payload.Questions
}
