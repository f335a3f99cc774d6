package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/mediguide/concierge/backend/internal/analysis/classify"
	"github.com/mediguide/concierge/backend/internal/config"
	modelchat "github.com/mediguide/concierge/backend/internal/model/chat"
)

// SDKClient runs the conversational model in-process through an eino chain.
// Conversation memory lives in the Context, so a fresh context is all it
// takes to keep histories from leaking across sessions.
type SDKClient struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	systemPrompt string
}

// NewSDKClient compiles the prompt+model chain from configuration.
func NewSDKClient(ctx context.Context, cfg config.AIConfig) (*SDKClient, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	return &SDKClient{
		chain:        runnable,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

// StartSession begins an empty conversation context.
func (c *SDKClient) StartSession(_ context.Context) *Context {
	return NewContext()
}

// SendTurnOnce runs one blocking model invocation.
func (c *SDKClient) SendTurnOnce(ctx context.Context, conv *Context, text string) (classify.RawResult, error) {
	response, err := c.chain.Invoke(ctx, c.chainInput(conv, text))
	if err != nil {
		return classify.RawResult{}, &TransportError{Op: "model invoke", Err: err}
	}

	conv.remember(text, response.Content)
	return classify.RawResult{Type: modelchat.KindChat, Answer: response.Content}, nil
}

// SendTurnStreaming streams model output as fragments. The full reply is
// committed to the conversation memory only after the stream completes.
func (c *SDKClient) SendTurnStreaming(ctx context.Context, conv *Context, text string) (*FragmentStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	reader, err := c.chain.Stream(streamCtx, c.chainInput(conv, text))
	if err != nil {
		cancel()
		return nil, &TransportError{Op: "model stream", Err: err}
	}

	stream := newFragmentStream(cancel)
	go func() {
		defer reader.Close()

		var full strings.Builder
		for {
			chunk, recvErr := reader.Recv()
			if errors.Is(recvErr, io.EOF) {
				conv.remember(text, full.String())
				stream.finish()
				return
			}
			if recvErr != nil {
				stream.fail(&TransportError{Op: "model stream", Err: recvErr})
				return
			}
			if chunk == nil || chunk.Content == "" {
				continue
			}
			full.WriteString(chunk.Content)
			stream.emit(chunk.Content)
		}
	}()

	return stream, nil
}

func (c *SDKClient) chainInput(conv *Context, text string) map[string]any {
	return map[string]any{
		"system":  c.systemPrompt,
		"history": conv.History(),
		"query":   text,
	}
}
