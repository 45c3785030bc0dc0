package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/m10chat/internal/types"
)

func TestSessionStore(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	online := &types.SessionRecord{SessionID: "abc123", CreatedAt: time.Now().Add(-time.Minute)}
	if err := store.Create(ctx, online); err != nil {
		t.Fatal(err)
	}
	local := &types.SessionRecord{SessionID: types.NewLocalSessionID(), InitError: "connection refused"}
	if err := store.Create(ctx, local); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if got.Mode != types.ModeOnline {
		t.Errorf("expected online mode, got %s", got.Mode)
	}
	if got.Status != types.SessionStatusActive {
		t.Errorf("expected active status, got %s", got.Status)
	}

	got, err = store.Get(ctx, local.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Mode != types.ModeOffline {
		t.Errorf("expected offline mode, got %s", got.Mode)
	}
	if got.InitError != "connection refused" {
		t.Errorf("expected init error to persist, got %q", got.InitError)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].SessionID != "abc123" {
		t.Errorf("expected oldest session first, got %+v", list)
	}

	if err := store.Create(ctx, &types.SessionRecord{SessionID: "abc123"}); err == nil {
		t.Error("expected error creating duplicate session")
	}
}

func TestSessionStoreSupersede(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	if err := store.Create(ctx, &types.SessionRecord{SessionID: "local-1"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Supersede(ctx, "local-1", "abc123"); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "local-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.SessionStatusSuperseded || got.SupersededBy != "abc123" {
		t.Errorf("unexpected record after supersede: %+v", got)
	}

	if err := store.Supersede(ctx, "missing", "abc123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	if err := NewSessionStore(dir).Create(ctx, &types.SessionRecord{SessionID: "abc123"}); err != nil {
		t.Fatal(err)
	}

	list, err := NewSessionStore(dir).List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list))
	}
}

func TestSessionStoreRejectsEscapingIDs(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	store := NewSessionStore(dataDir)
	ctx := context.Background()

	for _, id := range []types.SessionID{"../../escaped", "a/b", ".."} {
		err := store.Create(ctx, &types.SessionRecord{SessionID: id})
		if !errors.Is(err, types.ErrInvalidSessionID) {
			t.Errorf("%q: expected ErrInvalidSessionID, got %v", id, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "escaped")); !os.IsNotExist(err) {
		t.Errorf("expected nothing created outside the data dir, stat err %v", err)
	}
	if _, err := store.Get(ctx, "../x"); !errors.Is(err, types.ErrInvalidSessionID) {
		t.Errorf("expected ErrInvalidSessionID from Get, got %v", err)
	}
	if err := store.Delete(ctx, "../x"); !errors.Is(err, types.ErrInvalidSessionID) {
		t.Errorf("expected ErrInvalidSessionID from Delete, got %v", err)
	}
}

func TestSessionStoreDelete(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	transcripts := NewTranscriptStore(dir)
	ctx := context.Background()

	for _, id := range []types.SessionID{"abc123", "def456"} {
		if err := store.Create(ctx, &types.SessionRecord{SessionID: id}); err != nil {
			t.Fatal(err)
		}
		if err := transcripts.Append(ctx, id, types.NewChatMessage("hi", true, types.OriginLocal)); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.Delete(ctx, "abc123"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "abc123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected record removed, got %v", err)
	}
	if n, _ := transcripts.Count(ctx, "abc123"); n != 0 {
		t.Errorf("expected transcript removed, got %d entries", n)
	}
	if list, _ := store.List(ctx); len(list) != 1 || list[0].SessionID != "def456" {
		t.Errorf("expected only def456 to remain, got %+v", list)
	}
	if err := store.Delete(ctx, "abc123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}

	if err := store.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	if list, _ := store.List(ctx); len(list) != 0 {
		t.Errorf("expected empty index, got %d", len(list))
	}
}
