package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates an optimistic-concurrency conflict: the row
	// changed under the writer (e.g. an entry was superseded by a
	// concurrent classifier decision). Callers should re-fetch and retry.
	ErrConflict = errors.New("version conflict")
)

// PaginatedResult is a typed page of results.
type PaginatedResult[T any] struct {
	Items   []T
	Total   int
	HasMore bool
}

// ListOptions provides pagination and filtering for list operations.
type ListOptions struct {
	// Limit is the maximum number of items to return (default 20, max 200).
	Limit int

	// Offset is the number of items to skip.
	Offset int

	// Category filters entries to a single category. Empty means all.
	Category string

	// IncludeDeleted includes soft-deleted rows. Off by default.
	IncludeDeleted bool

	// IncludeSuperseded includes superseded rows. Off by default.
	IncludeSuperseded bool

	// IncludeArchived includes cold-tier archived rows. Off by default.
	IncludeArchived bool

	// CreatedBefore restricts to rows created strictly before this time.
	// Zero value means no upper bound.
	CreatedBefore time.Time
}

// Normalize applies defaults and bounds to the options.
func (o *ListOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 20
	}
	if o.Limit > 200 {
		o.Limit = 200
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// SearchOptions configures keyword search at the storage layer.
type SearchOptions struct {
	// Query is the free-form search string. It is sanitised before being
	// handed to the FTS engine.
	Query string

	// Limit is the maximum number of results (default 10, max 100).
	Limit int

	// Category filters to a single category. Empty means all.
	Category string

	// IncludeHistory includes soft-deleted and superseded entries.
	IncludeHistory bool

	// Deep includes archived (consolidated) entries.
	Deep bool
}

// Normalize applies defaults and bounds to the options.
func (o *SearchOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 10
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
}

// KeywordMatch is a single keyword-search hit with its raw FTS rank.
// Rank is lower-is-better on every backend (FTS5 bm25() natively,
// Postgres as negated ts_rank); the hybrid search layer normalizes
// ranks against the best rank before blending.
type KeywordMatch struct {
	EntryID string
	Rank    float64
}

// VectorMatch is a single native vector-index hit with its cosine
// similarity in [-1, 1], higher is better.
type VectorMatch struct {
	EntryID    string
	Similarity float64
}

// EmbeddingRecord pairs an entry id with its stored vector.
type EmbeddingRecord struct {
	EntryID   string
	Embedding []float32
}
