package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type chatBinding struct {
	ChatID  int64     `json:"chat_id"`
	BoundAt time.Time `json:"bound_at"`
}

// BindingStore persists the relay chat id in relay.json so the first chat
// to message the bot stays bound across restarts.
type BindingStore struct {
	root string
	mu   sync.Mutex
}

// NewBindingStore creates a BindingStore rooted at the given directory.
func NewBindingStore(root string) *BindingStore {
	return &BindingStore{root: root}
}

func (b *BindingStore) path() string {
	return filepath.Join(b.root, "relay.json")
}

// Load returns the bound chat id. ok is false when nothing is bound.
func (b *BindingStore) Load() (int64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read binding: %w", err)
	}

	var binding chatBinding
	if err := json.Unmarshal(data, &binding); err != nil {
		return 0, false, fmt.Errorf("unmarshal binding: %w", err)
	}
	return binding.ChatID, true, nil
}

// Save binds chatID, replacing any previous binding.
func (b *BindingStore) Save(chatID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := json.MarshalIndent(chatBinding{ChatID: chatID, BoundAt: time.Now()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal binding: %w", err)
	}
	if err := os.MkdirAll(b.root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return writeFileAtomic(b.path(), data)
}

// Clear removes the binding. Clearing an unbound store is not an error.
func (b *BindingStore) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(b.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove binding: %w", err)
	}
	return nil
}
