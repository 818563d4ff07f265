package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/internal/storage/sqlite"
	"github.com/quietloop/engram/pkg/types"
)

// insertAgedEntry creates an entry old enough to be eligible for
// consolidation relative to refNow and a 90-day retention window.
func insertAgedEntry(t *testing.T, store *sqlite.Store, content string, age time.Duration) *types.MemoryEntry {
	t.Helper()
	entry := &types.MemoryEntry{
		ID:         uuid.NewString(),
		Category:   types.CategoryEvent,
		Content:    content,
		Importance: 0.5,
		CreatedAt:  refNow.Add(-age),
	}
	require.NoError(t, store.Insert(context.Background(), entry))
	return entry
}

func storeVector(t *testing.T, store *sqlite.Store, stub *stubLLM, entry *types.MemoryEntry, angle float64) {
	t.Helper()
	stub.setVector(entry.Content, angle)
	require.NoError(t, store.StoreEmbedding(context.Background(), entry.ID, mustEmbed(t, stub, entry.Content)))
}

func newTestDaemon(t *testing.T, stub *stubLLM) (*ConsolidationDaemon, *sqlite.Store) {
	t.Helper()
	store := newEngineStore(t)
	daemon := NewConsolidationDaemon(store, stub, newFakeClock(refNow), ConsolidationConfig{
		RetentionWindow: 90 * 24 * time.Hour,
	})
	return daemon, store
}

func TestConsolidationClustersAndArchives(t *testing.T) {
	stub := newStubLLM()
	daemon, store := newTestDaemon(t, stub)
	ctx := context.Background()
	aged := 100 * 24 * time.Hour

	a := insertAgedEntry(t, store, "weekly review went long again", aged)
	b := insertAgedEntry(t, store, "weekly review ran over by an hour", aged)
	lone := insertAgedEntry(t, store, "bought a new bike helmet", aged)
	storeVector(t, store, stub, a, 0.0)
	storeVector(t, store, stub, b, 0.1)
	storeVector(t, store, stub, lone, 2.0)

	report, err := daemon.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Claimed)
	assert.Equal(t, 1, report.Clusters)
	assert.Equal(t, 1, report.Insights)
	assert.Equal(t, 2, report.Archived)
	assert.Equal(t, 1, report.Released)

	for _, id := range []string{a.ID, b.ID} {
		entry, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, entry.Archived, "cluster members move to the cold tier")
	}
	survivor, err := store.Get(ctx, lone.ID)
	require.NoError(t, err)
	assert.False(t, survivor.Archived, "singletons stay hot")
	assert.Nil(t, survivor.ClaimedAt, "singleton claims are released")

	insights, err := store.ListInsightsByRun(ctx, report.RunID)
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "a consolidated insight", insights[0].Summary)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, insights[0].SourceIDs)
}

func TestConsolidationRunsHaveDisjointSources(t *testing.T) {
	stub := newStubLLM()
	daemon, store := newTestDaemon(t, stub)
	ctx := context.Background()
	aged := 100 * 24 * time.Hour

	a := insertAgedEntry(t, store, "kept postponing the tax filing", aged)
	b := insertAgedEntry(t, store, "taxes still not filed, postponed again", aged)
	lone := insertAgedEntry(t, store, "tried a pottery class", aged)
	storeVector(t, store, stub, a, 0.0)
	storeVector(t, store, stub, b, 0.1)
	storeVector(t, store, stub, lone, 2.0)

	first, err := daemon.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Claimed)

	// Archived sources are gone for good; only the released singleton is
	// eligible again.
	second, err := daemon.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Claimed)

	firstInsights, err := store.ListInsightsByRun(ctx, first.RunID)
	require.NoError(t, err)
	secondInsights, err := store.ListInsightsByRun(ctx, second.RunID)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, ins := range append(firstInsights, secondInsights...) {
		for _, id := range ins.SourceIDs {
			assert.False(t, seen[id], "entry %s summarized twice", id)
			seen[id] = true
		}
	}
}

// flakyInsightStore fails the first RecordInsight call, standing in for
// a write interrupted between summarizing a cluster and persisting it.
type flakyInsightStore struct {
	storage.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyInsightStore) RecordInsight(ctx context.Context, ins *types.ConsolidatedInsight) error {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("write interrupted")
	}
	return s.Store.RecordInsight(ctx, ins)
}

func TestConsolidationInterruptedRunNeverDoubleSummarizes(t *testing.T) {
	stub := newStubLLM()
	store := newEngineStore(t)
	flaky := &flakyInsightStore{Store: store, failures: 1}
	daemon := NewConsolidationDaemon(flaky, stub, newFakeClock(refNow), ConsolidationConfig{
		RetentionWindow: 90 * 24 * time.Hour,
	})
	ctx := context.Background()
	aged := 100 * 24 * time.Hour

	a := insertAgedEntry(t, store, "inbox zero attempt fizzled out", aged)
	b := insertAgedEntry(t, store, "inbox cleanup abandoned again", aged)
	storeVector(t, store, stub, a, 0.0)
	storeVector(t, store, stub, b, 0.1)

	first, err := daemon.Run(ctx)
	require.NoError(t, err, "a failed cluster must not fail the run")
	assert.Equal(t, 0, first.Insights)
	assert.Equal(t, 2, first.Released)
	for _, id := range []string{a.ID, b.ID} {
		entry, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, entry.Archived, "nothing is archived when the insight write fails")
		assert.Nil(t, entry.ClaimedAt)
	}

	second, err := daemon.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Insights)
	assert.Equal(t, 2, second.Archived)

	insights, err := store.ListInsights(ctx, 10)
	require.NoError(t, err)
	require.Len(t, insights, 1, "the retried cluster is summarized exactly once")
	assert.ElementsMatch(t, []string{a.ID, b.ID}, insights[0].SourceIDs)
}

func TestConsolidationSummarizerFailureReleasesClaims(t *testing.T) {
	stub := newStubLLM()
	stub.sumErr = errors.New("provider down")
	daemon, store := newTestDaemon(t, stub)
	ctx := context.Background()
	aged := 100 * 24 * time.Hour

	a := insertAgedEntry(t, store, "garage cleanup half done", aged)
	b := insertAgedEntry(t, store, "garage cleanup stalled halfway", aged)
	storeVector(t, store, stub, a, 0.0)
	storeVector(t, store, stub, b, 0.1)

	report, err := daemon.Run(ctx)
	require.NoError(t, err, "a failed cluster must not fail the run")
	assert.Equal(t, 0, report.Insights)
	assert.Equal(t, 2, report.Released)

	for _, id := range []string{a.ID, b.ID} {
		entry, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, entry.Archived)
		assert.Nil(t, entry.ClaimedAt, "failed cluster claims are released for retry")
	}
}

func TestConsolidationSkipsFreshEntries(t *testing.T) {
	stub := newStubLLM()
	daemon, store := newTestDaemon(t, stub)

	insertAgedEntry(t, store, "recent note, still hot", 24*time.Hour)

	report, err := daemon.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Claimed)
	assert.Equal(t, 0, report.Insights)
}

func TestConsolidationUnembeddedEntriesStayHot(t *testing.T) {
	stub := newStubLLM()
	daemon, store := newTestDaemon(t, stub)
	ctx := context.Background()
	aged := 100 * 24 * time.Hour

	a := insertAgedEntry(t, store, "no vector yet, first note", aged)
	b := insertAgedEntry(t, store, "no vector yet, second note", aged)

	report, err := daemon.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Claimed)
	assert.Equal(t, 0, report.Clusters)
	assert.Equal(t, 2, report.Released)

	for _, id := range []string{a.ID, b.ID} {
		entry, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, entry.Archived)
		assert.Nil(t, entry.ClaimedAt)
	}
}
