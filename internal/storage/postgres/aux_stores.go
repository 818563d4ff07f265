package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Content, nullString(c.Target), dueAt, string(c.Status),
		c.ReminderCount, c.CreatedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert commitment: %w", err)
	}
	return nil
}

// GetCommitment retrieves a commitment by ID.
func (s *Store) GetCommitment(ctx context.Context, id string) (*types.Commitment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+commitmentColumns+` FROM commitments WHERE id = $1`, id)
	c, err := scanCommitment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get commitment %s: %w", id, err)
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
		ORDER BY due_at ASC NULLS LAST, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active commitments: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanCommitments(rows)
}

// ListCommitmentsDueBetween returns active commitments due in [from, to).
func (s *Store) ListCommitmentsDueBetween(ctx context.Context, from, to time.Time) ([]types.Commitment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commitmentColumns+`
		FROM commitments
		WHERE status = 'active' AND due_at IS NOT NULL
			AND due_at >= $1 AND due_at < $2
		ORDER BY due_at ASC`,
		from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: list commitments due between: %w", err)
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
		SET status = $1, completed_at = $2
		WHERE id = $3 AND status = 'active'`,
		string(next), completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("postgres: transition commitment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: transition rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM commitments WHERE id = $1`, id).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: commitment existence check: %w", err)
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
		`UPDATE commitments SET reminder_count = reminder_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: increment reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: reminder rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InsertSnapshot stores a new context snapshot.
func (s *Store) InsertSnapshot(ctx context.Context, snap *types.ContextSnapshot) error {
	if snap == nil {
		return storage.ErrInvalidInput
	}
	if snap.ID == "" {
		return fmt.Errorf("%w: snapshot ID is required", storage.ErrInvalidInput)
	}
	if snap.Session == "" || snap.Channel == "" {
		return fmt.Errorf("%w: session and channel are required", storage.ErrInvalidInput)
	}
	if !snap.Trigger.Valid() {
		return fmt.Errorf("%w: unknown trigger %q", storage.ErrInvalidInput, snap.Trigger)
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	if snap.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: snapshot expiry is required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, trigger_kind, resource, last_action, next_step,
			session, channel, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		snap.ID, string(snap.Trigger), nullString(snap.Resource),
		nullString(snap.LastAction), nullString(snap.NextStep),
		snap.Session, snap.Channel, snap.CreatedAt, snap.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the single live snapshot for (session, channel):
// the most recent one whose expiry is after now.
func (s *Store) LatestSnapshot(ctx context.Context, session, channel string, now time.Time) (*types.ContextSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trigger_kind, resource, last_action, next_step,
			session, channel, created_at, expires_at
		FROM snapshots
		WHERE session = $1 AND channel = $2 AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1`,
		session, channel, now.UTC())

	var (
		snap       types.ContextSnapshot
		trigger    string
		resource   sql.NullString
		lastAction sql.NullString
		nextStep   sql.NullString
	)
	err := row.Scan(&snap.ID, &trigger, &resource, &lastAction, &nextStep,
		&snap.Session, &snap.Channel, &snap.CreatedAt, &snap.ExpiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: latest snapshot: %w", err)
	}

	snap.Trigger = types.SnapshotTrigger(trigger)
	if resource.Valid {
		snap.Resource = resource.String
	}
	if lastAction.Valid {
		snap.LastAction = lastAction.String
	}
	if nextStep.Valid {
		snap.NextStep = nextStep.String
	}
	return &snap, nil
}

// PruneSnapshots physically deletes expired snapshots. Snapshots are
// working state rather than memory, so hard deletion is safe here.
func (s *Store) PruneSnapshots(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: prune rows affected: %w", err)
	}
	return int(n), nil
}

// InsertInsight stores one consolidation result.
func (s *Store) InsertInsight(ctx context.Context, ins *types.ConsolidatedInsight) error {
	sourceJSON, err := normalizeInsight(ins)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO insights (id, run_id, source_ids, summary, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ins.ID, ins.RunID, sourceJSON, ins.Summary, ins.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert insight: %w", err)
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
		return fmt.Errorf("postgres: begin record insight: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO insights (id, run_id, source_ids, summary, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ins.ID, ins.RunID, sourceJSON, ins.Summary, ins.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert insight: %w", err)
	}

	placeholders, args := idArgs(ins.SourceIDs, 2)
	args = append([]interface{}{time.Now().UTC()}, args...)
	_, err = tx.ExecContext(ctx, `
		UPDATE entries
		SET archived = TRUE, claimed_at = NULL, updated_at = $1, version = version + 1
		WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("postgres: archive insight sources: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit record insight: %w", err)
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
		return "", fmt.Errorf("postgres: marshal source IDs: %w", err)
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
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list insights: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanInsights(rows)
}

// ListInsightsByRun returns every insight produced by one daemon pass.
func (s *Store) ListInsightsByRun(ctx context.Context, runID string) ([]types.ConsolidatedInsight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, source_ids, summary, created_at
		FROM insights
		WHERE run_id = $1
		ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list insights by run: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanInsights(rows)
}

// LogAccess appends one access record. The table is append-only.
func (s *Store) LogAccess(ctx context.Context, rec *types.AccessLogEntry) error {
	if rec == nil {
		return storage.ErrInvalidInput
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: access log ID is required", storage.ErrInvalidInput)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_log (id, entry_id, op, latency_us, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, nullString(rec.EntryID), string(rec.Op),
		rec.Latency.Microseconds(), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: log access: %w", err)
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
			return nil, fmt.Errorf("postgres: scan commitment row: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanInsights(rows *sql.Rows) ([]types.ConsolidatedInsight, error) {
	var out []types.ConsolidatedInsight
	for rows.Next() {
		var (
			ins        types.ConsolidatedInsight
			sourceJSON string
		)
		if err := rows.Scan(&ins.ID, &ins.RunID, &sourceJSON, &ins.Summary, &ins.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan insight row: %w", err)
		}
		if err := json.Unmarshal([]byte(sourceJSON), &ins.SourceIDs); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal source IDs: %w", err)
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}
