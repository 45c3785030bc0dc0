package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/m10chat/internal/types"
)

// ErrNotFound is returned when a session is not in the index.
var ErrNotFound = errors.New("session not found")

// SessionStore is a JSON-file-backed session index.
// It stores records in sessions/sessions.json and creates per-session
// directories at sessions/<sessionID>/ for transcripts.
type SessionStore struct {
	root string
	mu   sync.RWMutex
}

// NewSessionStore creates a new file-backed SessionStore rooted at the given directory.
func NewSessionStore(root string) *SessionStore {
	return &SessionStore{root: root}
}

func (s *SessionStore) indexPath() string {
	return filepath.Join(s.root, "sessions", "sessions.json")
}

func (s *SessionStore) sessionsDir() string {
	return filepath.Join(s.root, "sessions")
}

func (s *SessionStore) sessionDir(id types.SessionID) string {
	return filepath.Join(s.root, "sessions", string(id))
}

func (s *SessionStore) loadIndex() (map[types.SessionID]*types.SessionRecord, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.SessionID]*types.SessionRecord), nil
		}
		return nil, fmt.Errorf("read session index: %w", err)
	}

	var records []*types.SessionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal session index: %w", err)
	}

	index := make(map[types.SessionID]*types.SessionRecord, len(records))
	for _, rec := range records {
		index[rec.SessionID] = rec
	}
	return index, nil
}

func sortedRecords(index map[types.SessionID]*types.SessionRecord) []*types.SessionRecord {
	records := make([]*types.SessionRecord, 0, len(index))
	for _, rec := range index {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].SessionID < records[j].SessionID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records
}

func (s *SessionStore) saveIndex(index map[types.SessionID]*types.SessionRecord) error {
	data, err := json.MarshalIndent(sortedRecords(index), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}

	if err := os.MkdirAll(s.sessionsDir(), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	return writeFileAtomic(s.indexPath(), data)
}

// Create adds a record to the index and creates its session directory.
// Creating an id that is already indexed is an error.
func (s *SessionStore) Create(_ context.Context, record *types.SessionRecord) error {
	if err := record.SessionID.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	if _, ok := index[record.SessionID]; ok {
		return fmt.Errorf("session already exists: %s", record.SessionID)
	}

	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = types.SessionStatusActive
	}
	if record.Mode == "" {
		record.Mode = types.ModeOf(record.SessionID)
	}
	index[record.SessionID] = record

	if err := s.saveIndex(index); err != nil {
		return err
	}
	if err := os.MkdirAll(s.sessionDir(record.SessionID), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	return nil
}

// Get returns the record with the given ID.
func (s *SessionStore) Get(_ context.Context, id types.SessionID) (*types.SessionRecord, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	rec, ok := index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// List returns all records, oldest first.
func (s *SessionStore) List(_ context.Context) ([]*types.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	return sortedRecords(index), nil
}

// Supersede marks id as replaced by another session.
func (s *SessionStore) Supersede(_ context.Context, id, by types.SessionID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	rec, ok := index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	rec.Status = types.SessionStatusSuperseded
	rec.SupersededBy = by
	rec.UpdatedAt = time.Now()
	return s.saveIndex(index)
}

// Delete removes the record and the session directory. Deleting an id that
// is neither indexed nor on disk returns ErrNotFound.
func (s *SessionStore) Delete(_ context.Context, id types.SessionID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	_, indexed := index[id]
	_, statErr := os.Stat(s.sessionDir(id))
	if !indexed && os.IsNotExist(statErr) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if indexed {
		delete(index, id)
		if err := s.saveIndex(index); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(s.sessionDir(id)); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	return nil
}

// DeleteAll removes every record and transcript.
func (s *SessionStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.sessionsDir()); err != nil {
		return fmt.Errorf("remove sessions dir: %w", err)
	}
	return nil
}

// writeFileAtomic writes to a temp file then renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
