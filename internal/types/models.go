// internal/types/models.go
package types

import (
	"time"
)

// Origin says where a chat message came from.
type Origin string

const (
	OriginLocal     Origin = "local"
	OriginRelay     Origin = "relay"
	OriginAssistant Origin = "assistant"
	OriginSystem    Origin = "system"
	OriginHistory   Origin = "history"
)

// Mode is the connectivity mode a session was created in.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// ModeOf derives the mode from a session id.
func ModeOf(id SessionID) Mode {
	if id.IsLocal() {
		return ModeOffline
	}
	return ModeOnline
}

type Citation struct {
	ID      CitationID `json:"id"`
	Title   string     `json:"title"`
	URL     string     `json:"url,omitempty"`
	Excerpt string     `json:"excerpt,omitempty"`
}

type ChatMessage struct {
	ID         MessageID  `json:"id"`
	Text       string     `json:"text"`
	IsFromUser bool       `json:"is_from_user"`
	Origin     Origin     `json:"origin"`
	CreatedAt  time.Time  `json:"created_at"`
	Sources    []Citation `json:"sources,omitempty"`
}

// NewChatMessage creates a message stamped with a fresh id and the current time.
func NewChatMessage(text string, fromUser bool, origin Origin) ChatMessage {
	return ChatMessage{
		ID:         NewMessageID(),
		Text:       text,
		IsFromUser: fromUser,
		Origin:     origin,
		CreatedAt:  time.Now(),
	}
}

// Session is one conversation. Messages are append-only and kept in
// insertion order.
type Session struct {
	ID        SessionID     `json:"session_id"`
	Mode      Mode          `json:"mode"`
	CreatedAt time.Time     `json:"created_at"`
	Messages  []ChatMessage `json:"messages"`
}

const (
	SessionStatusActive     = "active"
	SessionStatusSuperseded = "superseded"
)

// SessionRecord is the persisted index entry for a session.
type SessionRecord struct {
	SessionID    SessionID `json:"session_id"`
	Mode         Mode      `json:"mode"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	SupersededBy SessionID `json:"superseded_by,omitempty"`
	InitError    string    `json:"init_error,omitempty"`
}

// TranscriptEntry is one line of a session transcript.
type TranscriptEntry struct {
	Seq       int64       `json:"seq"`
	SessionID SessionID   `json:"session_id"`
	Message   ChatMessage `json:"message"`
}
