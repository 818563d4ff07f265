package types

import "time"

// EmbeddingStatus tracks the async embedding backfill state of an entry.
// Entries are written synchronously without vectors; backfill workers
// promote them to ready (or failed) after the write returns.
type EmbeddingStatus string

const (
	EmbeddingPending EmbeddingStatus = "pending"
	EmbeddingReady   EmbeddingStatus = "ready"
	EmbeddingFailed  EmbeddingStatus = "failed"
)

// MemoryEntry is the atomic unit of remembered information.
//
// Entries are append-mostly: after creation only the supersede pointer,
// soft-delete timestamp, archive flag, consolidation claim, access counters,
// and embedding status may change. Content is immutable for audit integrity.
type MemoryEntry struct {
	ID         string   `json:"id"`
	Category   Category `json:"category"`
	Content    string   `json:"content"`
	Importance float64  `json:"importance"` // 0.0 .. 1.0

	// Embedding is populated asynchronously by the backfill workers.
	// A nil embedding is valid; the entry stays keyword-searchable.
	Embedding       []float32       `json:"embedding,omitempty"`
	EmbeddingStatus EmbeddingStatus `json:"embedding_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// DeletedAt is the soft-delete marker; nil means live.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// SupersededBy points at the newer entry that replaced this one.
	// Only the classifier sets it, and always to a strictly newer entry,
	// so following the chain terminates.
	SupersededBy string `json:"superseded_by,omitempty"`

	// Archived marks cold-tier entries summarized by consolidation.
	// Archived entries are excluded from default search.
	Archived bool `json:"archived"`

	// ClaimedAt marks an entry as in-progress for a consolidation run.
	// Released on failure so interrupted runs neither lose entries nor
	// summarize them twice.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// Provenance: hash of content for dedup, source of ingest.
	ContentHash string `json:"content_hash,omitempty"`
	Source      string `json:"source,omitempty"`

	// Quality signals.
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// Version supports optimistic concurrency on the few mutable fields.
	// Conflicting writers get ErrConflict and must re-fetch and retry.
	Version int `json:"version"`
}

// Active reports whether the entry participates in default search:
// not soft-deleted, not superseded, not archived.
func (e *MemoryEntry) Active() bool {
	return e.DeletedAt == nil && e.SupersededBy == "" && !e.Archived
}

// AccessLogEntry records a single read/search/write against an entry.
// Rows are append-only and never mutated.
type AccessLogEntry struct {
	ID        string        `json:"id"` // ULID: lexically sortable by time
	EntryID   string        `json:"entry_id,omitempty"`
	Op        AccessOp      `json:"op"`
	Latency   time.Duration `json:"latency"`
	CreatedAt time.Time     `json:"created_at"`
}
