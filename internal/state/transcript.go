package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/m10chat/internal/types"
)

const maxTranscriptLine = 1 << 20

// TranscriptStore is a JSONL-backed append-only message log.
// Messages are stored per-session in sessions/<sessionID>/messages.jsonl.
type TranscriptStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
}

// NewTranscriptStore creates a new file-backed TranscriptStore rooted at the given directory.
func NewTranscriptStore(root string) *TranscriptStore {
	return &TranscriptStore{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
	}
}

func (t *TranscriptStore) getLock(sessionID types.SessionID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	if lock, ok := t.locks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	t.locks[sessionID] = lock
	return lock
}

func (t *TranscriptStore) path(sessionID types.SessionID) string {
	return filepath.Join(t.root, "sessions", string(sessionID), "messages.jsonl")
}

func newLineScanner(f *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTranscriptLine)
	return scanner
}

// count counts lines in the transcript. Caller must hold the session lock.
func (t *TranscriptStore) count(sessionID types.SessionID) (int64, error) {
	f, err := os.Open(t.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := newLineScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan transcript: %w", err)
	}
	return count, nil
}

// Append adds a message to the session transcript with the next sequence number.
func (t *TranscriptStore) Append(_ context.Context, sessionID types.SessionID, msg types.ChatMessage) error {
	if err := sessionID.Validate(); err != nil {
		return err
	}
	lock := t.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path(sessionID)), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	existing, err := t.count(sessionID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(&types.TranscriptEntry{
		Seq:       existing + 1,
		SessionID: sessionID,
		Message:   msg,
	})
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}

	f, err := os.OpenFile(t.path(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write transcript entry: %w", err)
	}
	return nil
}

// Tail returns the last limit entries for the session, or all of them when
// limit is not positive.
func (t *TranscriptStore) Tail(_ context.Context, sessionID types.SessionID, limit int) ([]*types.TranscriptEntry, error) {
	if err := sessionID.Validate(); err != nil {
		return nil, err
	}
	lock := t.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(t.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var entries []*types.TranscriptEntry
	scanner := newLineScanner(f)
	for scanner.Scan() {
		var entry types.TranscriptEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal transcript entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Count returns the number of messages in the session transcript.
func (t *TranscriptStore) Count(_ context.Context, sessionID types.SessionID) (int64, error) {
	if err := sessionID.Validate(); err != nil {
		return 0, err
	}
	lock := t.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return t.count(sessionID)
}
