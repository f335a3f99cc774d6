package chat

import "time"

// DefaultTitle is the placeholder title a session carries until its first
// user turn completes and the auto-title kicks in.
const DefaultTitle = "새로운 대화"

// TitleRuneLimit caps the auto-derived title length for sidebar display.
const TitleRuneLimit = 18

// Session captures an independent conversation and owns its transcript.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DeriveTitle truncates the first user turn's text to the sidebar display
// length, rune-safe so multi-byte Hangul never splits mid-character.
func DeriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= TitleRuneLimit {
		return text
	}
	return string(runes[:TitleRuneLimit])
}
