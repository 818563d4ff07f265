package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

// newTestStore connects to the database named by ENGRAM_TEST_POSTGRES_DSN,
// or skips. Tables are truncated so each test starts clean.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("ENGRAM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ENGRAM_TEST_POSTGRES_DSN not set, skipping postgres tests")
	}
	store, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	for _, table := range []string{"access_log", "insights", "snapshots", "commitments", "embeddings", "entries"} {
		if _, err := store.DB().Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return store
}

func newTestEntry(category types.Category, content string) *types.MemoryEntry {
	return &types.MemoryEntry{
		ID:       uuid.NewString(),
		Category: category,
		Content:  content,
	}
}

func TestPostgresEntryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := newTestEntry(types.CategoryFact, "works at Globex as an engineer")
	if err := store.Insert(ctx, entry); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	got, err := store.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Content != entry.Content || got.Version != 1 {
		t.Errorf("got %+v, want content round-tripped at version 1", got)
	}
	if got.EmbeddingStatus != types.EmbeddingPending {
		t.Errorf("EmbeddingStatus: got %q, want pending", got.EmbeddingStatus)
	}

	if _, err := store.Get(ctx, uuid.NewString()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestPostgresSupersedeConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := newTestEntry(types.CategoryFact, "lives in Austin")
	if err := store.Insert(ctx, old); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	current := newTestEntry(types.CategoryFact, "lives in Denver")
	if err := store.Insert(ctx, current); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	if err := store.Supersede(ctx, old.ID, current.ID, 1); err != nil {
		t.Fatalf("Supersede() failed: %v", err)
	}
	// Stale version loses.
	err := store.Supersede(ctx, old.ID, current.ID, 1)
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("got %v, want ErrConflict", err)
	}
}

func TestPostgresKeywordSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	coffee := newTestEntry(types.CategoryPreference, "prefers oat milk in coffee")
	if err := store.Insert(ctx, coffee); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	other := newTestEntry(types.CategoryEvent, "missed the morning standup")
	if err := store.Insert(ctx, other); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	matches, err := store.KeywordSearch(ctx, storage.SearchOptions{Query: "coffee"})
	if err != nil {
		t.Fatalf("KeywordSearch() failed: %v", err)
	}
	if len(matches) != 1 || matches[0].EntryID != coffee.ID {
		t.Fatalf("got %v, want only the coffee entry", matches)
	}
	if matches[0].Rank >= 0 {
		t.Errorf("rank should be negated ts_rank (negative), got %f", matches[0].Rank)
	}
}

func TestPostgresEmbeddingRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := newTestEntry(types.CategoryPreference, "uses Midjourney for image generation")
	if err := store.Insert(ctx, entry); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	vec := []float32{0.1, -0.5, 0.25, 0.9}
	if err := store.StoreEmbedding(ctx, entry.ID, vec); err != nil {
		t.Fatalf("StoreEmbedding() failed: %v", err)
	}
	got, err := store.GetEmbedding(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetEmbedding() failed: %v", err)
	}
	if len(got) != len(vec) {
		t.Fatalf("dimension: got %d, want %d", len(got), len(vec))
	}
}
