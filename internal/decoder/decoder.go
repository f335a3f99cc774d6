// Package decoder normalizes raw streaming chunks from the chat backend into
// logical text fragments. The upstream wire format was never pinned down, so
// several payload shapes coexist in the wild; the decoder is deliberately
// tolerant instead of strict.
package decoder

import (
	"encoding/json"
	"strings"

	"github.com/mediguide/concierge/backend/pkg/logger"
)

const (
	eventPrefix  = "data:"
	doneSentinel = "[DONE]"
)

// probeFields is the ordered list of top-level field names known to carry
// fragment text across backend variants. First non-empty match wins.
var probeFields = []string{"text", "delta", "content", "response"}

// Decoder extracts text fragments from raw network chunks. One Decoder
// serves exactly one response stream; the termination sentinel latches, so
// payload arriving after it is ignored.
type Decoder struct {
	done bool
}

func New() *Decoder {
	return &Decoder{}
}

// Done reports whether the termination sentinel has been observed.
func (d *Decoder) Done() bool {
	return d.done
}

// Decode splits one chunk into logical lines and returns the fragments they
// carry, in order. Lines that decode to a known JSON shape contribute their
// first non-empty probed field; unknown JSON shapes are dropped with a
// diagnostic; anything that is not JSON is emitted verbatim.
func (d *Decoder) Decode(chunk []byte) []string {
	if d.done || len(chunk) == 0 {
		return nil
	}

	var fragments []string
	for _, line := range strings.Split(string(chunk), "\n") {
		line = strings.TrimSuffix(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		// Framing prefix and sentinel checks work on the trimmed view; the
		// raw-text fallback keeps the remainder's whitespace intact so
		// fragment concatenation stays lossless.
		payload := line
		if strings.HasPrefix(trimmed, eventPrefix) {
			payload = strings.TrimPrefix(strings.TrimPrefix(trimmed, eventPrefix), " ")
		}
		if strings.TrimSpace(payload) == doneSentinel {
			d.done = true
			return fragments
		}

		if fragment, ok := decodeStructured(strings.TrimSpace(payload)); ok {
			if fragment != "" {
				fragments = append(fragments, fragment)
			}
			continue
		}

		fragments = append(fragments, payload)
	}

	return fragments
}

// decodeStructured attempts a JSON decode and probes the known
// fragment-bearing fields. The second return value reports whether the
// payload was JSON at all; a JSON payload with no matching field yields
// ("", true) and the fragment is dropped.
func decodeStructured(payload string) (string, bool) {
	if !strings.HasPrefix(payload, "{") {
		return "", false
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return "", false
	}

	for _, field := range probeFields {
		if text, ok := obj[field].(string); ok && text != "" {
			return text, true
		}
	}

	if text := probeGenerationResult(obj); text != "" {
		return text, true
	}

	logger.Debugf("decoder: dropped fragment with unrecognized shape: %.120s", payload)
	return "", true
}

// probeGenerationResult digs into the nested generation-result shape
// (candidates[0].content.parts[0].text) some SDK backends emit.
func probeGenerationResult(obj map[string]interface{}) string {
	candidates, ok := obj["candidates"].([]interface{})
	if !ok || len(candidates) == 0 {
		return ""
	}
	candidate, ok := candidates[0].(map[string]interface{})
	if !ok {
		return ""
	}
	content, ok := candidate["content"].(map[string]interface{})
	if !ok {
		return ""
	}
	parts, ok := content["parts"].([]interface{})
	if !ok || len(parts) == 0 {
		return ""
	}
	part, ok := parts[0].(map[string]interface{})
	if !ok {
		return ""
	}
	text, _ := part["text"].(string)
	return text
}
