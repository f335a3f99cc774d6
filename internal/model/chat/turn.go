package chat

import "time"

// Roles a turn can carry inside a transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a session transcript. Assistant turns start empty
// and pending; their content grows in place while a response streams in.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Pending   bool      `json:"pending"`
	CreatedAt time.Time `json:"createdAt"`
}
