// internal/types/ids.go
package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// LocalSessionPrefix marks session ids generated on the device while the
// backend is unreachable. Such sessions run in offline mode.
const LocalSessionPrefix = "local-"

type SessionID string
type MessageID string
type CitationID string

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewCitationID() CitationID {
	return CitationID(uuid.New().String())
}

// NewLocalSessionID returns an offline-mode session id.
func NewLocalSessionID() SessionID {
	return SessionID(LocalSessionPrefix + uuid.New().String())
}

// IsLocal reports whether the session was created without the backend.
func (id SessionID) IsLocal() bool {
	return strings.HasPrefix(string(id), LocalSessionPrefix)
}

// ErrInvalidSessionID is returned for ids that cannot name a session
// directory.
var ErrInvalidSessionID = errors.New("invalid session id")

// Validate rejects ids that are empty or ".", contain a path separator, or
// contain "..". Session ids become directory names under the data dir.
func (id SessionID) Validate() error {
	s := string(id)
	if s == "" || s == "." || strings.ContainsAny(s, "/\\\x00") || strings.Contains(s, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, s)
	}
	return nil
}
