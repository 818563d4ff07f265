package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietloop/engram/internal/llm"
	"github.com/quietloop/engram/pkg/types"
)

func TestBackfillMarksEntryReady(t *testing.T) {
	store := newEngineStore(t)
	stub := newStubLLM()
	pool := NewBackfillPool(store, stub, 1)
	ctx := context.Background()

	entry := insertEntry(t, store, types.CategoryFact, "drinks two coffees before noon", 0.5)
	pool.process(ctx, entry.ID)

	got, err := store.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingReady, got.EmbeddingStatus)

	vec, err := store.GetEmbedding(ctx, entry.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, vec)
}

func TestBackfillBadResponseIsPermanent(t *testing.T) {
	store := newEngineStore(t)
	stub := newStubLLM()
	stub.embedErr = fmt.Errorf("%w: empty vector", llm.ErrBadResponse)
	pool := NewBackfillPool(store, stub, 1)
	ctx := context.Background()

	entry := insertEntry(t, store, types.CategoryFact, "content the provider rejects", 0.5)
	pool.process(ctx, entry.ID)

	got, err := store.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingFailed, got.EmbeddingStatus)

	// Failed rows leave the backfill rotation.
	ids, err := store.ListPendingEmbeddings(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestBackfillOutageLeavesPending(t *testing.T) {
	store := newEngineStore(t)
	stub := newStubLLM()
	stub.embedErr = errors.New("connection refused")
	pool := NewBackfillPool(store, stub, 1)
	ctx := context.Background()

	entry := insertEntry(t, store, types.CategoryFact, "note written during an outage", 0.5)
	pool.process(ctx, entry.ID)

	got, err := store.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingPending, got.EmbeddingStatus, "outages keep the row retryable")

	ids, err := store.ListPendingEmbeddings(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{entry.ID}, ids)
}

func TestBackfillSkipsAlreadyEmbedded(t *testing.T) {
	store := newEngineStore(t)
	stub := newStubLLM()
	pool := NewBackfillPool(store, stub, 1)
	ctx := context.Background()

	entry := insertEntry(t, store, types.CategoryFact, "already embedded elsewhere", 0.5)
	require.NoError(t, store.SetEmbeddingStatus(ctx, entry.ID, types.EmbeddingReady))

	pool.process(ctx, entry.ID)

	stub.mu.Lock()
	calls := stub.embedCalls
	stub.mu.Unlock()
	assert.Equal(t, 0, calls, "ready entries never hit the provider")
}

func TestBackfillStartRecoversPendingRows(t *testing.T) {
	store := newEngineStore(t)
	stub := newStubLLM()
	pool := NewBackfillPool(store, stub, 2)
	ctx := context.Background()

	// Rows inserted before the pool starts simulate a crash with work
	// left pending.
	a := insertEntry(t, store, types.CategoryFact, "left pending by a crash", 0.5)
	b := insertEntry(t, store, types.CategoryEvent, "also left pending", 0.5)

	pool.Start()
	defer pool.Stop()

	assert.Eventually(t, func() bool {
		for _, id := range []string{a.ID, b.ID} {
			entry, err := store.Get(ctx, id)
			if err != nil || entry.EmbeddingStatus != types.EmbeddingReady {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond, "first rescan pass picks up pending rows")
}
