package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, string(snap.Trigger), nullString(snap.Resource),
		nullString(snap.LastAction), nullString(snap.NextStep),
		snap.Session, snap.Channel, snap.CreatedAt, snap.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert snapshot: %w", err)
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
		WHERE session = ? AND channel = ? AND expires_at > ?
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
		return nil, fmt.Errorf("sqlite: latest snapshot: %w", err)
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
		`DELETE FROM snapshots WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune rows affected: %w", err)
	}
	return int(n), nil
}
