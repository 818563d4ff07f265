package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/quietloop/engram/internal/storage"
)

// StoreEmbedding upserts the vector for an entry. Upsert semantics make
// backfill retries idempotent, so they may run concurrently with search
// without extra coordination.
func (s *Store) StoreEmbedding(ctx context.Context, entryID string, embedding []float32) error {
	if entryID == "" {
		return fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}

	blob := serializeEmbedding(embedding)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (entry_id, embedding, dimension)
		VALUES (?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			updated_at = CURRENT_TIMESTAMP`,
		entryID, blob, len(embedding),
	)
	if err != nil {
		return fmt.Errorf("sqlite: store embedding: %w", err)
	}
	return nil
}

// GetEmbedding returns the stored vector for an entry.
func (s *Store) GetEmbedding(ctx context.Context, entryID string) ([]float32, error) {
	if entryID == "" {
		return nil, fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}

	var (
		blob []byte
		dim  int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding, dimension FROM embeddings WHERE entry_id = ?`,
		entryID).Scan(&blob, &dim)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get embedding: %w", err)
	}

	embedding, err := deserializeEmbedding(blob, dim)
	if err != nil {
		return nil, fmt.Errorf("sqlite: deserialize embedding: %w", err)
	}
	return embedding, nil
}

// listEmbeddingsMaxCandidates caps how many vectors a single similarity
// scan loads into memory. Vectors are selected newest-entry first, so
// recent memories are always considered. Personal datasets rarely approach
// this; larger installs should use the Postgres backend with pgvector ANN.
const listEmbeddingsMaxCandidates = 10_000

// ListEmbeddings returns vectors for searchable entries, newest first.
func (s *Store) ListEmbeddings(ctx context.Context, limit int, includeArchived bool) ([]storage.EmbeddingRecord, error) {
	if limit < 1 || limit > listEmbeddingsMaxCandidates {
		limit = listEmbeddingsMaxCandidates
	}

	archivedCond := " AND e2.archived = 0"
	if includeArchived {
		archivedCond = ""
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT emb.entry_id, emb.embedding, emb.dimension
		FROM embeddings emb
		JOIN entries e2 ON e2.id = emb.entry_id
		WHERE e2.deleted_at IS NULL AND e2.superseded_by IS NULL`+archivedCond+`
		ORDER BY e2.created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []storage.EmbeddingRecord
	for rows.Next() {
		var (
			id   string
			blob []byte
			dim  int
		)
		if err := rows.Scan(&id, &blob, &dim); err != nil {
			return nil, fmt.Errorf("sqlite: scan embedding row: %w", err)
		}
		vec, err := deserializeEmbedding(blob, dim)
		if err != nil {
			// A corrupt blob should not poison the whole scan.
			continue
		}
		records = append(records, storage.EmbeddingRecord{EntryID: id, Embedding: vec})
	}
	return records, rows.Err()
}

// serializeEmbedding packs a float32 slice as little-endian bytes.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeEmbedding unpacks a little-endian blob; dimension validates
// the buffer size.
func deserializeEmbedding(buf []byte, dimension int) ([]float32, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}
	if len(buf) != dimension*4 {
		return nil, fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", dimension*4, len(buf))
	}
	embedding := make([]float32, dimension)
	for i := 0; i < dimension; i++ {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return embedding, nil
}
