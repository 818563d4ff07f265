package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

const commitmentColumns = `
	id, content, target, due_at, status, reminder_count, created_at, completed_at`

// InsertCommitment creates a new commitment row.
func (s *Store) InsertCommitment(ctx context.Context, c *types.Commitment) error {
	if c == nil {
		return storage.ErrInvalidInput
	}
	if c.ID == "" {
		return fmt.Errorf("%w: commitment ID is required", storage.ErrInvalidInput)
	}
	if c.Content == "" {
		return fmt.Errorf("%w: commitment content is required", storage.ErrInvalidInput)
	}
	if c.Status == "" {
		c.Status = types.CommitmentActive
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	var dueAt interface{}
	if c.DueAt != nil {
		dueAt = c.DueAt.UTC()
	}
	var completedAt interface{}
	if c.CompletedAt != nil {
		completedAt = c.CompletedAt.UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commitments (id, content, target, due_at, status, reminder_count, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Content, nullString(c.Target), dueAt, string(c.Status),
		c.ReminderCount, c.CreatedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert commitment: %w", err)
	}
	return nil
}

// GetCommitment retrieves a commitment by ID.
func (s *Store) GetCommitment(ctx context.Context, id string) (*types.Commitment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+commitmentColumns+` FROM commitments WHERE id = ?`, id)
	c, err := scanCommitment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get commitment %s: %w", id, err)
	}
	return c, nil
}

// ListActiveCommitments returns active commitments ordered by due time
// ascending, undated last.
func (s *Store) ListActiveCommitments(ctx context.Context) ([]types.Commitment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commitmentColumns+`
		FROM commitments
		WHERE status = 'active'
		ORDER BY due_at IS NULL, due_at ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active commitments: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanCommitments(rows)
}

// ListCommitmentsDueBetween returns active commitments due in [from, to).
// The caller decides how to phrase surfacing; only raw timestamps leave
// the store.
func (s *Store) ListCommitmentsDueBetween(ctx context.Context, from, to time.Time) ([]types.Commitment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commitmentColumns+`
		FROM commitments
		WHERE status = 'active' AND due_at IS NOT NULL
			AND due_at >= ? AND due_at < ?
		ORDER BY due_at ASC`,
		from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("sqlite: list commitments due between: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanCommitments(rows)
}

// TransitionCommitment moves a commitment to a terminal status. The WHERE
// clause enforces one-way transitions at the data layer: a non-active row
// is never updated, and the caller gets ErrConflict.
func (s *Store) TransitionCommitment(ctx context.Context, id string, next types.CommitmentStatus, at time.Time) error {
	if !types.CommitmentActive.CanTransitionTo(next) {
		return fmt.Errorf("%w: invalid target status %q", storage.ErrInvalidInput, next)
	}

	var completedAt interface{}
	if next == types.CommitmentCompleted {
		completedAt = at.UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE commitments
		SET status = ?, completed_at = ?
		WHERE id = ? AND status = 'active'`,
		string(next), completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: transition commitment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: transition rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM commitments WHERE id = ?`, id).Scan(&exists); err != nil {
			return fmt.Errorf("sqlite: commitment existence check: %w", err)
		}
		if exists == 0 {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	}
	return nil
}

// IncrementReminder bumps the reminder counter.
func (s *Store) IncrementReminder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE commitments SET reminder_count = reminder_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: increment reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reminder rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanCommitment(row rowScanner) (*types.Commitment, error) {
	var (
		c           types.Commitment
		target      sql.NullString
		dueAt       sql.NullTime
		status      string
		completedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Content, &target, &dueAt, &status,
		&c.ReminderCount, &c.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	c.Status = types.CommitmentStatus(status)
	if target.Valid {
		c.Target = target.String
	}
	if dueAt.Valid {
		t := dueAt.Time
		c.DueAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}
	return &c, nil
}

func scanCommitments(rows *sql.Rows) ([]types.Commitment, error) {
	var out []types.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan commitment row: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
