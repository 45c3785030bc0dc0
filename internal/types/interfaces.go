// internal/types/interfaces.go
package types

import (
	"context"
)

type SessionStore interface {
	Create(ctx context.Context, record *SessionRecord) error
	Get(ctx context.Context, id SessionID) (*SessionRecord, error)
	List(ctx context.Context) ([]*SessionRecord, error)
	Supersede(ctx context.Context, id, by SessionID) error
}

type TranscriptStore interface {
	Append(ctx context.Context, sessionID SessionID, msg ChatMessage) error
	Tail(ctx context.Context, sessionID SessionID, limit int) ([]*TranscriptEntry, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
}
