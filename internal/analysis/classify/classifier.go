// Package classify normalizes completed backend results into display-ready
// envelopes. The backend declares a response kind but leaves the rest of the
// shape loose, so the classifier owns every fallback rule in one place.
package classify

import (
	"errors"

	"github.com/mediguide/concierge/backend/internal/model/chat"
)

var (
	// ErrMissingAnswer flags a chat-kind result without an answer field,
	// always fatal to the turn.
	ErrMissingAnswer = errors.New("chat response missing answer")
	// ErrUnknownKind flags a kind outside the chat/document/error set.
	ErrUnknownKind = errors.New("unknown response kind")
)

// DocumentSeparator visibly splits a document answer from its body.
const DocumentSeparator = "\n\n---\n\n"

const (
	defaultDocumentAnswer = "요청하신 의견서를 작성했습니다."
	defaultErrorText      = "알 수 없는 오류가 발생했습니다."
)

// RawResult is the backend result before classification. Absent fields stay
// zero-valued; the classifier decides what each absence means per kind.
type RawResult struct {
	Answer          string        `json:"answer"`
	Type            string        `json:"type"`
	DocumentContent string        `json:"document_content"`
	Error           string        `json:"error"`
	Sources         []chat.Source `json:"sources"`
}

// Classify derives the envelope to merge into the transcript. An empty kind
// is treated as chat: the oldest backend variant never declared one.
func Classify(raw RawResult) (chat.Envelope, error) {
	switch raw.Type {
	case chat.KindChat, "":
		if raw.Answer == "" {
			return chat.Envelope{}, ErrMissingAnswer
		}
		return chat.Envelope{
			Kind:    chat.KindChat,
			Text:    raw.Answer,
			Sources: raw.Sources,
		}, nil

	case chat.KindDocument:
		answer := raw.Answer
		if answer == "" {
			answer = defaultDocumentAnswer
		}
		return chat.Envelope{
			Kind:          chat.KindDocument,
			Text:          answer + DocumentSeparator + raw.DocumentContent,
			AuxiliaryText: raw.DocumentContent,
			Sources:       raw.Sources,
		}, nil

	case chat.KindError:
		text := raw.Answer
		if text == "" {
			text = raw.Error
		}
		if text == "" {
			text = defaultErrorText
		}
		return chat.Envelope{Kind: chat.KindError, Text: text}, nil
	}

	return chat.Envelope{}, ErrUnknownKind
}
