package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

// InsertInsight stores one consolidation result. Source IDs are stored as
// a JSON array; they are only ever read back whole.
func (s *Store) InsertInsight(ctx context.Context, ins *types.ConsolidatedInsight) error {
	sourceJSON, err := normalizeInsight(ins)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO insights (id, run_id, source_ids, summary, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ins.ID, ins.RunID, sourceJSON, ins.Summary, ins.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert insight: %w", err)
	}
	return nil
}

// RecordInsight stores the insight and archives its sources in one
// transaction. An interrupted run leaves the cluster hot and claimable
// with no insight row behind, never summarized twice.
func (s *Store) RecordInsight(ctx context.Context, ins *types.ConsolidatedInsight) error {
	sourceJSON, err := normalizeInsight(ins)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin record insight: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO insights (id, run_id, source_ids, summary, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ins.ID, ins.RunID, sourceJSON, ins.Summary, ins.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert insight: %w", err)
	}

	placeholders, args := idArgs(ins.SourceIDs)
	args = append([]interface{}{time.Now().UTC()}, args...)
	_, err = tx.ExecContext(ctx, `
		UPDATE entries
		SET archived = 1, claimed_at = NULL, updated_at = ?, version = version + 1
		WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: archive insight sources: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit record insight: %w", err)
	}
	return nil
}

func normalizeInsight(ins *types.ConsolidatedInsight) (string, error) {
	if ins == nil {
		return "", storage.ErrInvalidInput
	}
	if ins.ID == "" || ins.RunID == "" {
		return "", fmt.Errorf("%w: insight ID and run ID are required", storage.ErrInvalidInput)
	}
	if len(ins.SourceIDs) == 0 {
		return "", fmt.Errorf("%w: insight requires at least one source entry", storage.ErrInvalidInput)
	}
	if ins.Summary == "" {
		return "", fmt.Errorf("%w: insight summary is required", storage.ErrInvalidInput)
	}
	if ins.CreatedAt.IsZero() {
		ins.CreatedAt = time.Now().UTC()
	}

	sourceJSON, err := json.Marshal(ins.SourceIDs)
	if err != nil {
		return "", fmt.Errorf("sqlite: marshal source IDs: %w", err)
	}
	return string(sourceJSON), nil
}

// ListInsights returns insights newest first.
func (s *Store) ListInsights(ctx context.Context, limit int) ([]types.ConsolidatedInsight, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, source_ids, summary, created_at
		FROM insights
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list insights: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanInsights(rows)
}

// ListInsightsByRun returns every insight produced by one daemon pass.
func (s *Store) ListInsightsByRun(ctx context.Context, runID string) ([]types.ConsolidatedInsight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, source_ids, summary, created_at
		FROM insights
		WHERE run_id = ?
		ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list insights by run: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanInsights(rows)
}

func scanInsights(rows *sql.Rows) ([]types.ConsolidatedInsight, error) {
	var out []types.ConsolidatedInsight
	for rows.Next() {
		var (
			ins        types.ConsolidatedInsight
			sourceJSON string
		)
		if err := rows.Scan(&ins.ID, &ins.RunID, &sourceJSON, &ins.Summary, &ins.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan insight row: %w", err)
		}
		if err := json.Unmarshal([]byte(sourceJSON), &ins.SourceIDs); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal source IDs: %w", err)
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}
