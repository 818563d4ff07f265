package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/quietloop/engram/internal/storage"
)

// listEmbeddingsMaxCandidates caps brute-force candidate loads.
const listEmbeddingsMaxCandidates = 10_000

// vectorDim is the dimension of the indexed pgvector column. Vectors of
// any other size are stored in the array column only and served by
// brute-force search.
const vectorDim = 1536

// StoreEmbedding upserts the vector for an entry. The float4[] column is
// always written; the pgvector column is kept in sync when the extension
// is present so the ANN index stays usable.
func (s *Store) StoreEmbedding(ctx context.Context, entryID string, embedding []float32) error {
	if entryID == "" {
		return fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding is empty", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if s.pgvectorAvailable && len(embedding) == vectorDim {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO embeddings (entry_id, embedding, embedding_vec, dimension, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (entry_id) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				embedding_vec = EXCLUDED.embedding_vec,
				dimension = EXCLUDED.dimension,
				updated_at = EXCLUDED.updated_at`,
			entryID, floatArray(embedding), pgvector.NewVector(embedding),
			len(embedding), now,
		)
		if err != nil {
			return fmt.Errorf("postgres: store embedding: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (entry_id, embedding, dimension, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (entry_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			dimension = EXCLUDED.dimension,
			updated_at = EXCLUDED.updated_at`,
		entryID, floatArray(embedding), len(embedding), now,
	)
	if err != nil {
		return fmt.Errorf("postgres: store embedding: %w", err)
	}
	return nil
}

// GetEmbedding returns the stored vector for an entry.
func (s *Store) GetEmbedding(ctx context.Context, entryID string) ([]float32, error) {
	var raw pq.Float64Array
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding FROM embeddings WHERE entry_id = $1`, entryID,
	).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get embedding: %w", err)
	}
	return toFloat32(raw), nil
}

// ListEmbeddings returns vectors for searchable entries, newest first.
func (s *Store) ListEmbeddings(ctx context.Context, limit int, includeArchived bool) ([]storage.EmbeddingRecord, error) {
	if limit < 1 || limit > listEmbeddingsMaxCandidates {
		limit = listEmbeddingsMaxCandidates
	}

	archivedCond := "AND e.archived = FALSE"
	if includeArchived {
		archivedCond = ""
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT em.entry_id, em.embedding
		FROM embeddings em
		JOIN entries e ON e.id = em.entry_id
		WHERE e.deleted_at IS NULL AND e.superseded_by IS NULL %s
		ORDER BY e.created_at DESC
		LIMIT $1`, archivedCond), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []storage.EmbeddingRecord
	for rows.Next() {
		var (
			rec storage.EmbeddingRecord
			raw pq.Float64Array
		)
		if err := rows.Scan(&rec.EntryID, &raw); err != nil {
			return nil, fmt.Errorf("postgres: scan embedding: %w", err)
		}
		rec.Embedding = toFloat32(raw)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// NearestNeighbors runs an indexed cosine search over active entries.
// Returns ErrNotFound when the pgvector extension is unavailable so the
// caller falls back to brute force over ListEmbeddings.
func (s *Store) NearestNeighbors(ctx context.Context, query []float32, limit int) ([]storage.VectorMatch, error) {
	if !s.pgvectorAvailable {
		return nil, storage.ErrNotFound
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", storage.ErrInvalidInput)
	}
	if limit < 1 {
		limit = 10
	}

	// <=> is cosine distance; similarity = 1 - distance.
	rows, err := s.db.QueryContext(ctx, `
		SELECT em.entry_id, 1 - (em.embedding_vec <=> $1) AS similarity
		FROM embeddings em
		JOIN entries e ON e.id = em.entry_id
		WHERE em.embedding_vec IS NOT NULL
			AND e.deleted_at IS NULL AND e.superseded_by IS NULL
			AND e.archived = FALSE
		ORDER BY em.embedding_vec <=> $1
		LIMIT $2`, pgvector.NewVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []storage.VectorMatch
	for rows.Next() {
		var m storage.VectorMatch
		if err := rows.Scan(&m.EntryID, &m.Similarity); err != nil {
			return nil, fmt.Errorf("postgres: scan vector match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func floatArray(v []float32) pq.Float64Array {
	out := make(pq.Float64Array, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func toFloat32(v pq.Float64Array) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
