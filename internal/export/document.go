package export

import (
	"time"

	"github.com/user/m10chat/internal/types"
)

// Document is a session transcript prepared for export.
type Document struct {
	SessionID    types.SessionID `json:"session_id" yaml:"session_id"`
	Mode         types.Mode      `json:"mode" yaml:"mode"`
	Status       string          `json:"status,omitempty" yaml:"status,omitempty"`
	CreatedAt    time.Time       `json:"created_at" yaml:"created_at"`
	SupersededBy types.SessionID `json:"superseded_by,omitempty" yaml:"superseded_by,omitempty"`
	Messages     []Message       `json:"messages" yaml:"messages"`
}

// Message is one exported chat line.
type Message struct {
	Seq       int64     `json:"seq" yaml:"seq"`
	Role      string    `json:"role" yaml:"role"`
	Origin    string    `json:"origin" yaml:"origin"`
	Text      string    `json:"text" yaml:"text"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Sources   []Source  `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// Source is an exported citation.
type Source struct {
	Title   string `json:"title" yaml:"title"`
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Excerpt string `json:"excerpt,omitempty" yaml:"excerpt,omitempty"`
}

// NewDocument builds a Document from an index record and its transcript.
// rec may be nil for sessions missing from the index.
func NewDocument(id types.SessionID, rec *types.SessionRecord, entries []*types.TranscriptEntry) *Document {
	doc := &Document{
		SessionID: id,
		Mode:      types.ModeOf(id),
		Messages:  make([]Message, 0, len(entries)),
	}
	if rec != nil {
		doc.Mode = rec.Mode
		doc.Status = rec.Status
		doc.CreatedAt = rec.CreatedAt
		doc.SupersededBy = rec.SupersededBy
	}

	for _, e := range entries {
		m := Message{
			Seq:       e.Seq,
			Role:      role(e.Message),
			Origin:    string(e.Message.Origin),
			Text:      e.Message.Text,
			CreatedAt: e.Message.CreatedAt,
		}
		for _, c := range e.Message.Sources {
			m.Sources = append(m.Sources, Source{Title: c.Title, URL: c.URL, Excerpt: c.Excerpt})
		}
		doc.Messages = append(doc.Messages, m)
	}
	if doc.CreatedAt.IsZero() && len(doc.Messages) > 0 {
		doc.CreatedAt = doc.Messages[0].CreatedAt
	}
	return doc
}

func role(msg types.ChatMessage) string {
	switch {
	case msg.IsFromUser:
		return "user"
	case msg.Origin == types.OriginRelay:
		return "relay"
	case msg.Origin == types.OriginSystem:
		return "system"
	default:
		return "assistant"
	}
}
