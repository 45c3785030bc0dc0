package supportapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Mock is an in-process Backend that never touches the network. Sessions
// expire after an hour of inactivity.
type Mock struct {
	sessions *cache.Cache
	mu       sync.Mutex
}

type mockSession struct {
	messages []HistoryMessage
}

// NewMock creates a Mock backend.
func NewMock() *Mock {
	return &Mock{
		sessions: cache.New(1*time.Hour, 10*time.Minute),
	}
}

func (m *Mock) CreateSession(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &TransportError{Op: "create session", Err: err}
	}
	id := "mock-" + uuid.New().String()
	m.sessions.Set(id, &mockSession{}, cache.DefaultExpiration)
	return id, nil
}

func (m *Mock) SendMessage(ctx context.Context, req *MessageRequest) (*MessageResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "send message", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	answer := fmt.Sprintf("Mock response: I received %q. A support agent will follow up if needed.", req.Message)
	sources := []Source{{
		Title:   "M10 Help Center",
		URL:     "https://m10.az/help",
		Excerpt: "Answers to common questions about balances, payments and transfers.",
	}}

	sess.messages = append(sess.messages,
		HistoryMessage{ID: uuid.New().String(), Text: req.Message, FromUser: true, Timestamp: now},
		HistoryMessage{ID: uuid.New().String(), Text: answer, Timestamp: now, Sources: sources},
	)
	m.sessions.Set(req.SessionID, sess, cache.DefaultExpiration)

	model := "mock"
	return &MessageResponse{
		SessionID: req.SessionID,
		MessageID: uuid.New().String(),
		Answer:    answer,
		Language:  "en",
		Sources:   sources,
		Timestamp: Timestamp{Time: now},
		Metadata:  ResponseMetadata{Model: &model},
	}, nil
}

func (m *Mock) GetHistory(ctx context.Context, sessionID string, limit int) ([]HistoryMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "get history", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	msgs := sess.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]HistoryMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *Mock) session(id string) (*mockSession, error) {
	if x, found := m.sessions.Get(id); found {
		return x.(*mockSession), nil
	}
	return nil, &StatusError{Op: "mock", Code: 404, Detail: "Session not found"}
}
