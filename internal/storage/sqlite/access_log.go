package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

// LogAccess appends one access record. The table is append-only; nothing
// in the codebase updates or deletes its rows.
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
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, nullString(rec.EntryID), string(rec.Op),
		rec.Latency.Microseconds(), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: log access: %w", err)
	}
	return nil
}
