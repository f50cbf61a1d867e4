package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"quest-party-service/internal/docstore"
)

func TestSetMergesFields(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	if err := store.Set(ctx, "profiles/u1", docstore.Fields{"username": "Alice", "level": 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "profiles/u1", docstore.Fields{"level": 2}); err != nil {
		t.Fatalf("set: %v", err)
	}

	doc, err := store.Get(ctx, "profiles/u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Str("username") != "Alice" || doc.Int("level") != 2 {
		t.Fatalf("expected merged doc, got %+v", doc)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store := NewStore()
	if _, err := store.Get(context.Background(), "profiles/nobody"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementCreatesAndAdds(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	if err := store.Increment(ctx, "profiles/u1", "gamesPlayed", 1); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := store.Increment(ctx, "profiles/u1", "gamesPlayed", 2); err != nil {
		t.Fatalf("increment: %v", err)
	}

	doc, err := store.Get(ctx, "profiles/u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Int("gamesPlayed") != 3 {
		t.Fatalf("expected 3, got %d", doc.Int("gamesPlayed"))
	}
}

func TestTransactionAppliesAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	failed := errors.New("boom")
	err := store.RunTransaction(ctx, func(tx docstore.Tx) error {
		tx.Set("sessions/AAAAAA", docstore.Fields{"phase": "lobby"})
		tx.Set("sessions/AAAAAA/members/u1", docstore.Fields{"userId": "u1"})
		return failed
	})
	if !errors.Is(err, failed) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if _, err := store.Get(ctx, "sessions/AAAAAA"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected no doc after rollback, got %v", err)
	}

	err = store.RunTransaction(ctx, func(tx docstore.Tx) error {
		tx.Set("sessions/AAAAAA", docstore.Fields{"phase": "lobby"})
		tx.Set("sessions/AAAAAA/members/u1", docstore.Fields{"userId": "u1"})
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if _, err := store.Get(ctx, "sessions/AAAAAA/members/u1"); err != nil {
		t.Fatalf("expected member doc, got %v", err)
	}
}

func TestTransactionReadsSeeStagedWrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	err := store.RunTransaction(ctx, func(tx docstore.Tx) error {
		tx.Set("sessions/VQXB12", docstore.Fields{"questionsVersion": 1})
		doc, err := tx.Get("sessions/VQXB12")
		if err != nil {
			return err
		}
		if doc.Int("questionsVersion") != 1 {
			t.Fatalf("expected staged read, got %+v", doc)
		}
		tx.Delete("sessions/VQXB12")
		if _, err := tx.Get("sessions/VQXB12"); !errors.Is(err, docstore.ErrNotFound) {
			t.Fatalf("expected staged delete to hide doc, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestListFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_ = store.Set(ctx, "sessions/AAAAAA/members/u1", docstore.Fields{"userId": "u1"})
	_ = store.Set(ctx, "sessions/AAAAAA/members/u2", docstore.Fields{"userId": "u2"})
	_ = store.Set(ctx, "sessions/BBBBBB/members/u3", docstore.Fields{"userId": "u3"})

	docs, err := store.List(ctx, "sessions/AAAAAA/members/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
}

func TestSubscribeDeliversInitialAndLiveSnapshots(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_ = store.Set(ctx, "sessions/AAAAAA/members/u1", docstore.Fields{"userId": "u1"})

	snaps, cancel, err := store.Subscribe(ctx, "sessions/AAAAAA")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	first := <-snaps
	if first.Path != "sessions/AAAAAA/members/u1" || first.Deleted {
		t.Fatalf("expected initial snapshot, got %+v", first)
	}

	_ = store.Set(ctx, "sessions/AAAAAA/members/u2", docstore.Fields{"userId": "u2"})
	second := <-snaps
	if second.Path != "sessions/AAAAAA/members/u2" {
		t.Fatalf("expected live snapshot for u2, got %+v", second)
	}

	_ = store.Delete(ctx, "sessions/AAAAAA/members/u2")
	third := <-snaps
	if !third.Deleted || third.Path != "sessions/AAAAAA/members/u2" {
		t.Fatalf("expected tombstone, got %+v", third)
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	store := NewStore()
	snaps, cancel, err := store.Subscribe(context.Background(), "sessions/")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	if _, ok := <-snaps; ok {
		t.Fatalf("expected closed channel after cancel")
	}
}

func TestSubscribeInitialStateLargerThanLiveBuffer(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	const docs = 40
	for i := 0; i < docs; i++ {
		path := fmt.Sprintf("profiles/u%02d", i)
		if err := store.Set(ctx, path, docstore.Fields{"userId": fmt.Sprintf("u%02d", i)}); err != nil {
			t.Fatalf("set %s: %v", path, err)
		}
	}

	snaps, cancel, err := store.Subscribe(ctx, "profiles/")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	deadline := time.After(5 * time.Second)
	seen := make(map[string]bool)
	for len(seen) < docs {
		select {
		case snap, ok := <-snaps:
			if !ok {
				t.Fatalf("channel closed after %d of %d initial snapshots", len(seen), docs)
			}
			seen[snap.Path] = true
		case <-deadline:
			t.Fatalf("timed out after %d of %d initial snapshots", len(seen), docs)
		}
	}
}
