// Package storage provides composable storage interfaces for the Engram
// memory engine.
//
// The layer is split into small focused interfaces so backends can be
// implemented independently and composed as needed. Both the SQLite and
// the Postgres backend implement the full Store surface.
package storage

import (
	"context"
	"time"

	"github.com/quietloop/engram/pkg/types"
)

// EntryStore persists memory entries. Writes are append-mostly: content is
// immutable after insert and only the supersede pointer, soft-delete
// timestamp, archive flag, claim marker, counters, and embedding status
// ever change.
type EntryStore interface {
	// Insert creates a new entry. The entry's ID must be set and unique.
	Insert(ctx context.Context, entry *types.MemoryEntry) error

	// Get retrieves an entry by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*types.MemoryEntry, error)

	// GetByContentHash returns the most recent active entry with the given
	// content hash, or ErrNotFound. Used for idempotent ingest.
	GetByContentHash(ctx context.Context, hash string) (*types.MemoryEntry, error)

	// List retrieves entries with pagination and filtering.
	List(ctx context.Context, opts ListOptions) (*PaginatedResult[types.MemoryEntry], error)

	// Supersede sets entry oldID's superseded_by pointer to newID.
	// expectedVersion guards against concurrent supersede decisions:
	// if the row's version no longer matches, or a pointer is already
	// set, ErrConflict is returned and nothing is written.
	Supersede(ctx context.Context, oldID, newID string, expectedVersion int) error

	// BumpImportance raises an entry's importance to the given value if
	// higher than the stored one, guarded by expectedVersion.
	BumpImportance(ctx context.Context, id string, importance float64, expectedVersion int) error

	// SoftDelete marks an entry deleted without removing the row.
	SoftDelete(ctx context.Context, id string) error

	// Touch atomically increments access_count and sets last_accessed_at.
	Touch(ctx context.Context, id string) error

	// SetEmbeddingStatus records backfill progress for an entry.
	SetEmbeddingStatus(ctx context.Context, id string, status types.EmbeddingStatus) error

	// ListPendingEmbeddings returns up to limit entry IDs whose embedding
	// status is pending, oldest first. Used for backfill recovery.
	ListPendingEmbeddings(ctx context.Context, limit int) ([]string, error)

	// ClaimForConsolidation marks up to limit unarchived, unclaimed
	// entries created before cutoff as in-progress and returns them.
	// Claims from crashed runs older than staleAfter are treated as free.
	ClaimForConsolidation(ctx context.Context, cutoff time.Time, staleAfter time.Duration, limit int) ([]types.MemoryEntry, error)

	// ReleaseClaims clears claim markers for the given entry IDs, making
	// them eligible for the next run.
	ReleaseClaims(ctx context.Context, ids []string) error

	// Archive marks the given entries as cold-tier and clears their
	// claim markers in one step.
	Archive(ctx context.Context, ids []string) error

	// CountUnarchivedBefore reports how many unarchived entries were
	// created before cutoff — the pending consolidation backlog.
	CountUnarchivedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// SearchProvider exposes the keyword index over entry content.
type SearchProvider interface {
	// KeywordSearch returns entry IDs ranked by keyword relevance.
	// Rank values are backend-native (FTS5 bm25(): lower is better).
	KeywordSearch(ctx context.Context, opts SearchOptions) ([]KeywordMatch, error)
}

// EmbeddingProvider manages stored vectors for semantic search.
// Writes are idempotent upserts, safe to retry concurrently with reads.
type EmbeddingProvider interface {
	// StoreEmbedding upserts the vector for an entry.
	StoreEmbedding(ctx context.Context, entryID string, embedding []float32) error

	// GetEmbedding returns the vector for an entry, or ErrNotFound.
	GetEmbedding(ctx context.Context, entryID string) ([]float32, error)

	// ListEmbeddings returns vectors for up to limit searchable entries,
	// newest entries first.
	ListEmbeddings(ctx context.Context, limit int, includeArchived bool) ([]EmbeddingRecord, error)
}

// VectorSearcher is an optional extension of EmbeddingProvider for
// backends with a native vector index. Callers type-assert for it and
// fall back to brute-force cosine over ListEmbeddings when absent.
type VectorSearcher interface {
	// NearestNeighbors returns up to limit searchable entries ordered by
	// cosine similarity to the query vector, best first.
	NearestNeighbors(ctx context.Context, query []float32, limit int) ([]VectorMatch, error)
}

// CommitmentStore persists tracked promises.
type CommitmentStore interface {
	// InsertCommitment creates a new commitment.
	InsertCommitment(ctx context.Context, c *types.Commitment) error

	// GetCommitment retrieves a commitment by ID, or ErrNotFound.
	GetCommitment(ctx context.Context, id string) (*types.Commitment, error)

	// ListActiveCommitments returns active commitments ordered by due
	// time ascending (undated last).
	ListActiveCommitments(ctx context.Context) ([]types.Commitment, error)

	// ListCommitmentsDueBetween returns active commitments with a due
	// time in [from, to).
	ListCommitmentsDueBetween(ctx context.Context, from, to time.Time) ([]types.Commitment, error)

	// TransitionCommitment moves a commitment from active to a terminal
	// status. Returns ErrConflict if the commitment is not active.
	TransitionCommitment(ctx context.Context, id string, next types.CommitmentStatus, at time.Time) error

	// IncrementReminder bumps the reminder counter.
	IncrementReminder(ctx context.Context, id string) error
}

// SnapshotStore persists context snapshots.
type SnapshotStore interface {
	// InsertSnapshot stores a new snapshot.
	InsertSnapshot(ctx context.Context, s *types.ContextSnapshot) error

	// LatestSnapshot returns the most recent snapshot for a
	// (session, channel) that has not expired at now, or ErrNotFound.
	LatestSnapshot(ctx context.Context, session, channel string, now time.Time) (*types.ContextSnapshot, error)

	// PruneSnapshots removes snapshots expired before now and returns
	// the number deleted. Snapshots are the one record type that is
	// physically deleted: they are working state, not memory.
	PruneSnapshots(ctx context.Context, now time.Time) (int, error)
}

// InsightStore persists cold-tier consolidated insights.
type InsightStore interface {
	// InsertInsight stores a consolidation result.
	InsertInsight(ctx context.Context, ins *types.ConsolidatedInsight) error

	// RecordInsight stores a consolidation result and archives its source
	// entries in one transaction. On failure neither write lands, so the
	// sources stay hot and claimable for a later run.
	RecordInsight(ctx context.Context, ins *types.ConsolidatedInsight) error

	// ListInsights returns insights newest first.
	ListInsights(ctx context.Context, limit int) ([]types.ConsolidatedInsight, error)

	// ListInsightsByRun returns all insights from one consolidation run.
	ListInsightsByRun(ctx context.Context, runID string) ([]types.ConsolidatedInsight, error)
}

// AccessLogger appends to the access log. Implementations must never
// mutate existing rows.
type AccessLogger interface {
	// LogAccess appends one access record.
	LogAccess(ctx context.Context, rec *types.AccessLogEntry) error
}

// Store is the full storage surface the engine needs from its primary
// backend.
type Store interface {
	EntryStore
	SearchProvider
	EmbeddingProvider
	CommitmentStore
	SnapshotStore
	InsightStore
	AccessLogger
}
