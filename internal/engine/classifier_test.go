package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/internal/storage/sqlite"
	"github.com/quietloop/engram/pkg/types"
)

func newTestClassifier(t *testing.T, stub *stubLLM) (*Classifier, *sqlite.Store) {
	t.Helper()
	store := newEngineStore(t)
	searcher := NewSearcher(store, stub, SearcherConfig{})
	classifier := NewClassifier(store, searcher, stub, ClassifierConfig{})
	return classifier, store
}

// seedWithVector inserts an entry and stores its embedding at the given
// angle on the unit circle.
func seedWithVector(t *testing.T, store *sqlite.Store, stub *stubLLM, category types.Category, content string, angle float64) *types.MemoryEntry {
	t.Helper()
	entry := insertEntry(t, store, category, content, 0.5)
	stub.setVector(content, angle)
	require.NoError(t, store.StoreEmbedding(context.Background(), entry.ID, mustEmbed(t, stub, content)))
	return entry
}

func TestClassifyIdempotent(t *testing.T) {
	stub := newStubLLM()
	classifier, store := newTestClassifier(t, stub)
	ctx := context.Background()

	candidate := types.ExtractedCandidate{
		Category:   types.CategoryPreference,
		Content:    "Prefers oat milk in coffee.",
		Importance: 0.5,
	}

	first, err := classifier.Classify(ctx, candidate, "telegram")
	require.NoError(t, err)
	assert.Equal(t, types.ActionAdd, first.Action)

	second, err := classifier.Classify(ctx, candidate, "telegram")
	require.NoError(t, err)
	assert.Equal(t, types.ActionNoop, second.Action)
	assert.Equal(t, first.EntryID, second.EntryID)

	// Exactly one row, with its access metadata refreshed.
	page, err := store.List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	entry, err := store.Get(ctx, first.EntryID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.AccessCount)
}

func TestClassifyNearDuplicateUpdatesInPlace(t *testing.T) {
	stub := newStubLLM()
	classifier, store := newTestClassifier(t, stub)
	ctx := context.Background()

	// cos(0.1) ~ 0.995, above the near-duplicate threshold.
	existing := seedWithVector(t, store, stub, types.CategoryPreference,
		"Prefers oat milk in coffee.", 0.0)
	candidate := types.ExtractedCandidate{
		Category:   types.CategoryPreference,
		Content:    "Likes coffee with oat milk.",
		Importance: 0.9,
	}
	stub.setVector(candidate.Content, 0.1)

	decision, err := classifier.Classify(ctx, candidate, "telegram")
	require.NoError(t, err)
	assert.Equal(t, types.ActionUpdate, decision.Action)
	assert.Equal(t, existing.ID, decision.EntryID)

	updated, err := store.Get(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.9, updated.Importance, "restatement bumps importance")
	assert.Equal(t, "Prefers oat milk in coffee.", updated.Content, "content is immutable")

	page, err := store.List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total, "no twin row stored")
}

func TestClassifySupersedesChangedFact(t *testing.T) {
	stub := newStubLLM()
	classifier, store := newTestClassifier(t, stub)
	ctx := context.Background()

	// cos(0.4) ~ 0.92: same topic, different statement.
	old := seedWithVector(t, store, stub, types.CategoryFact,
		"Works at Acme as an engineer.", 0.0)
	candidate := types.ExtractedCandidate{
		Category:   types.CategoryFact,
		Content:    "Works at Globex as an engineer.",
		Importance: 0.6,
	}
	stub.setVector(candidate.Content, 0.4)

	decision, err := classifier.Classify(ctx, candidate, "telegram")
	require.NoError(t, err)
	assert.Equal(t, types.ActionSupersede, decision.Action)
	assert.Equal(t, old.ID, decision.SupersededID)

	oldEntry, err := store.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, decision.EntryID, oldEntry.SupersededBy)
	assert.False(t, oldEntry.Active())

	newEntry, err := store.Get(ctx, decision.EntryID)
	require.NoError(t, err)
	assert.True(t, newEntry.Active())
	assert.Empty(t, newEntry.SupersededBy, "chain stays acyclic")
}

func TestClassifyAmbiguousAddsAtReducedImportance(t *testing.T) {
	stub := newStubLLM()
	classifier, store := newTestClassifier(t, stub)
	ctx := context.Background()

	// cos(0.64) ~ 0.80: inside the band just below the 0.82 threshold.
	seedWithVector(t, store, stub, types.CategoryEvent,
		"Had a planning meeting about the garden project.", 0.0)
	candidate := types.ExtractedCandidate{
		Category:   types.CategoryEvent,
		Content:    "Scheduled a budget meeting for the garden redesign.",
		Importance: 0.5,
	}
	stub.setVector(candidate.Content, 0.64)

	decision, err := classifier.Classify(ctx, candidate, "telegram")
	require.NoError(t, err)
	assert.Equal(t, types.ActionAdd, decision.Action)
	assert.True(t, decision.Ambiguous)

	entry, err := store.Get(ctx, decision.EntryID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*ambiguousImportanceFactor, entry.Importance, 1e-9)

	page, err := store.List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total, "ambiguity keeps both entries")
}

func TestClassifyUnrelatedAdds(t *testing.T) {
	stub := newStubLLM()
	classifier, store := newTestClassifier(t, stub)
	ctx := context.Background()

	seedWithVector(t, store, stub, types.CategoryFact, "Works at Acme.", 0.0)
	candidate := types.ExtractedCandidate{
		Category:   types.CategoryPreference,
		Content:    "Hates early morning meetings.",
		Importance: 0.4,
	}
	stub.setVector(candidate.Content, 2.0)

	decision, err := classifier.Classify(ctx, candidate, "telegram")
	require.NoError(t, err)
	assert.Equal(t, types.ActionAdd, decision.Action)
	assert.False(t, decision.Ambiguous)

	page, err := store.List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestTokenOverlap(t *testing.T) {
	assert.Equal(t, 1.0, tokenOverlap("send the report", "send the report"))
	assert.Equal(t, 0.0, tokenOverlap("alpha beta", "gamma delta"))
	assert.Greater(t, tokenOverlap("send Sarah the report", "send the report to Sarah"), 0.5)
	assert.Equal(t, 0.0, tokenOverlap("", "something"))
}
