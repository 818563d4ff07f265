package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/quietloop/engram/internal/llm"
	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

// backfillQueueSize bounds the in-memory queue. Overflow is not lost:
// rows stay pending in the store and the rescan picks them up.
const backfillQueueSize = 256

// backfillRescanInterval is how often pending rows are re-queued, which
// covers both queue overflow and provider outages.
const backfillRescanInterval = time.Minute

// BackfillPool computes embeddings for entries asynchronously so the
// write path never waits on the embedding provider. Entries remain
// keyword-searchable while pending.
type BackfillPool struct {
	store    storage.Store
	embedder llm.EmbeddingClient
	workers  int

	queue  chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewBackfillPool builds the pool. workers defaults to 2.
func NewBackfillPool(store storage.Store, embedder llm.EmbeddingClient, workers int) *BackfillPool {
	if workers < 1 {
		workers = 2
	}
	return &BackfillPool{
		store:    store,
		embedder: embedder,
		workers:  workers,
		queue:    make(chan string, backfillQueueSize),
		logger:   slog.With("component", "backfill"),
	}
}

// Start launches the workers and the pending-row rescan. Rows left
// pending by a crash are picked up by the first rescan.
func (p *BackfillPool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.wg.Add(1)
	go p.rescan(ctx)
}

// Stop drains the workers.
func (p *BackfillPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Enqueue queues an entry for embedding. A full queue drops the request
// silently; the rescan will retry it.
func (p *BackfillPool) Enqueue(entryID string) {
	select {
	case p.queue <- entryID:
	default:
		p.logger.Debug("backfill queue full, deferring to rescan", "entry_id", entryID)
	}
}

func (p *BackfillPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.process(ctx, id)
		}
	}
}

func (p *BackfillPool) rescan(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(backfillRescanInterval)
	defer ticker.Stop()

	// Immediate pass recovers rows left pending by a previous crash.
	p.requeuePending(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.requeuePending(ctx)
		}
	}
}

func (p *BackfillPool) requeuePending(ctx context.Context) {
	ids, err := p.store.ListPendingEmbeddings(ctx, backfillQueueSize)
	if err != nil {
		p.logger.Warn("pending rescan failed", "error", err)
		return
	}
	for _, id := range ids {
		p.Enqueue(id)
	}
}

func (p *BackfillPool) process(ctx context.Context, entryID string) {
	entry, err := p.store.Get(ctx, entryID)
	if err != nil {
		p.logger.Warn("backfill lookup failed", "entry_id", entryID, "error", err)
		return
	}
	if entry.EmbeddingStatus == types.EmbeddingReady || entry.DeletedAt != nil {
		return
	}

	vec, err := p.embedder.Embed(ctx, entry.Content)
	if err != nil {
		if errors.Is(err, llm.ErrBadResponse) {
			// The provider will never embed this content; stop retrying.
			if setErr := p.store.SetEmbeddingStatus(ctx, entryID, types.EmbeddingFailed); setErr != nil {
				p.logger.Warn("mark embedding failed", "entry_id", entryID, "error", setErr)
			}
			return
		}
		// Outage: leave pending, the rescan retries later.
		p.logger.Warn("embedding deferred", "entry_id", entryID, "error", err)
		return
	}

	// Upsert keeps this idempotent under concurrent retries.
	if err := p.store.StoreEmbedding(ctx, entryID, vec); err != nil {
		p.logger.Warn("store embedding failed", "entry_id", entryID, "error", err)
		return
	}
	if err := p.store.SetEmbeddingStatus(ctx, entryID, types.EmbeddingReady); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			p.logger.Warn("mark embedding ready", "entry_id", entryID, "error", err)
		}
	}
}
