package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

// entryColumns is the SELECT column list shared by every entry scan site.
// Keep the order in sync with scanEntry.
const entryColumns = `
	id, category, content, importance, embedding_status,
	created_at, updated_at, deleted_at, superseded_by,
	archived, claimed_at, content_hash, source,
	access_count, last_accessed_at, version`

// Insert creates a new entry row. The ID must be set by the caller.
func (s *Store) Insert(ctx context.Context, entry *types.MemoryEntry) error {
	if entry == nil {
		return storage.ErrInvalidInput
	}
	if entry.ID == "" {
		return fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}
	if entry.Content == "" {
		return fmt.Errorf("%w: entry content is required", storage.ErrInvalidInput)
	}
	if !entry.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", storage.ErrInvalidInput, entry.Category)
	}
	if entry.Importance < 0 || entry.Importance > 1 {
		return fmt.Errorf("%w: importance %f out of [0,1]", storage.ErrInvalidInput, entry.Importance)
	}

	entry.ContentHash = fmt.Sprintf("%x", sha256.Sum256([]byte(entry.Content)))

	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = entry.CreatedAt
	}
	if entry.EmbeddingStatus == "" {
		entry.EmbeddingStatus = types.EmbeddingPending
	}
	if entry.Version == 0 {
		entry.Version = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (
			id, category, content, importance, embedding_status,
			created_at, updated_at, content_hash, source, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Category), entry.Content, entry.Importance,
		string(entry.EmbeddingStatus), entry.CreatedAt, entry.UpdatedAt,
		entry.ContentHash, nullString(entry.Source), entry.Version,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert entry: %w", err)
	}
	return nil
}

// Get retrieves an entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*types.MemoryEntry, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entry ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)

	entry, err := scanEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get entry %s: %w", id, err)
	}
	return entry, nil
}

// GetByContentHash returns the newest active entry carrying the given hash.
func (s *Store) GetByContentHash(ctx context.Context, hash string) (*types.MemoryEntry, error) {
	if hash == "" {
		return nil, fmt.Errorf("%w: content hash is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE content_hash = ? AND deleted_at IS NULL
			AND superseded_by IS NULL AND archived = 0
		ORDER BY created_at DESC
		LIMIT 1`, hash)

	entry, err := scanEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get entry by hash: %w", err)
	}
	return entry, nil
}

// List retrieves entries with pagination and filtering. By default only
// active entries (not deleted, not superseded, not archived) are returned.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.MemoryEntry], error) {
	opts.Normalize()

	where, args := entryFilter(opts)

	query := `SELECT ` + entryColumns + ` FROM entries WHERE ` + where +
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM entries WHERE ` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: count entries: %w", err)
	}

	return &storage.PaginatedResult[types.MemoryEntry]{
		Items:   entries,
		Total:   total,
		HasMore: opts.Offset+len(entries) < total,
	}, nil
}

// Supersede points oldID's superseded_by at newID under optimistic
// versioning. A row whose version moved, or that already carries a pointer,
// yields ErrConflict so the caller can re-fetch and re-decide.
func (s *Store) Supersede(ctx context.Context, oldID, newID string, expectedVersion int) error {
	if oldID == "" || newID == "" {
		return fmt.Errorf("%w: both entry IDs are required", storage.ErrInvalidInput)
	}
	if oldID == newID {
		return fmt.Errorf("%w: entry cannot supersede itself", storage.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE entries
		SET superseded_by = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
			AND superseded_by IS NULL AND deleted_at IS NULL`,
		newID, time.Now().UTC(), oldID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("sqlite: supersede entry: %w", err)
	}
	return s.mutationOutcome(ctx, res, oldID)
}

// BumpImportance raises importance (never lowers it) under optimistic
// versioning.
func (s *Store) BumpImportance(ctx context.Context, id string, importance float64, expectedVersion int) error {
	if importance < 0 || importance > 1 {
		return fmt.Errorf("%w: importance %f out of [0,1]", storage.ErrInvalidInput, importance)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE entries
		SET importance = MAX(importance, ?), updated_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		importance, time.Now().UTC(), id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("sqlite: bump importance: %w", err)
	}
	return s.mutationOutcome(ctx, res, id)
}

// SoftDelete marks an entry deleted. The row remains for audit and history
// retrieval.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE entries
		SET deleted_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: soft delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: soft delete rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Touch atomically increments the access counter. Touch does not bump the
// version: counters are not guarded state.
func (s *Store) Touch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE entries
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: touch entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: touch rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetEmbeddingStatus records backfill progress. Idempotent.
func (s *Store) SetEmbeddingStatus(ctx context.Context, id string, status types.EmbeddingStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entries SET embedding_status = ? WHERE id = ?`,
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: set embedding status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: embedding status rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListPendingEmbeddings returns entry IDs awaiting backfill, oldest first.
func (s *Store) ListPendingEmbeddings(ctx context.Context, limit int) ([]string, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM entries
		WHERE embedding_status = 'pending' AND deleted_at IS NULL
		ORDER BY created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pending embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan pending embedding: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimForConsolidation marks eligible aged entries as in-progress and
// returns them. Claims left behind by a crashed run become eligible again
// once older than staleAfter, so an interrupted pass neither loses entries
// nor lets them be summarized twice within a healthy run.
func (s *Store) ClaimForConsolidation(ctx context.Context, cutoff time.Time, staleAfter time.Duration, limit int) ([]types.MemoryEntry, error) {
	if limit < 1 {
		limit = 500
	}
	now := time.Now().UTC()
	staleBefore := now.Add(-staleAfter)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE archived = 0 AND deleted_at IS NULL
			AND created_at < ?
			AND (claimed_at IS NULL OR claimed_at < ?)
		ORDER BY created_at ASC
		LIMIT ?`, cutoff, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: select claim candidates: %w", err)
	}
	entries, err := scanEntries(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, tx.Commit()
	}

	placeholders := make([]string, len(entries))
	args := make([]interface{}, 0, len(entries)+1)
	args = append(args, now)
	for i := range entries {
		placeholders[i] = "?"
		args = append(args, entries[i].ID)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE entries SET claimed_at = ? WHERE id IN (`+strings.Join(placeholders, ",")+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: mark claims: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit claims: %w", err)
	}

	for i := range entries {
		t := now
		entries[i].ClaimedAt = &t
	}
	return entries, nil
}

// ReleaseClaims frees claim markers so the entries can be retried.
func (s *Store) ReleaseClaims(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := idArgs(ids)
	_, err := s.db.ExecContext(ctx,
		`UPDATE entries SET claimed_at = NULL WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: release claims: %w", err)
	}
	return nil
}

// Archive marks entries cold-tier and clears their claims in one statement.
func (s *Store) Archive(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := idArgs(ids)
	args = append([]interface{}{time.Now().UTC()}, args...)
	_, err := s.db.ExecContext(ctx, `
		UPDATE entries
		SET archived = 1, claimed_at = NULL, updated_at = ?, version = version + 1
		WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: archive entries: %w", err)
	}
	return nil
}

// CountUnarchivedBefore reports the pending consolidation backlog.
func (s *Store) CountUnarchivedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entries
		WHERE archived = 0 AND deleted_at IS NULL AND created_at < ?`,
		cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count backlog: %w", err)
	}
	return n, nil
}

// mutationOutcome turns a zero-row UPDATE into ErrNotFound or ErrConflict
// depending on whether the row exists at all.
func (s *Store) mutationOutcome(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("sqlite: existence check: %w", err)
	}
	if exists == 0 {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

// entryFilter builds the WHERE clause for list queries from the options.
func entryFilter(opts storage.ListOptions) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if !opts.IncludeDeleted {
		conds = append(conds, "deleted_at IS NULL")
	}
	if !opts.IncludeSuperseded {
		conds = append(conds, "superseded_by IS NULL")
	}
	if !opts.IncludeArchived {
		conds = append(conds, "archived = 0")
	}
	if opts.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, opts.Category)
	}
	if !opts.CreatedBefore.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, opts.CreatedBefore)
	}
	if len(conds) == 0 {
		return "1=1", args
	}
	return strings.Join(conds, " AND "), args
}

// rowScanner lets scanEntry work over both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*types.MemoryEntry, error) {
	var (
		entry          types.MemoryEntry
		category       string
		embStatus      string
		deletedAt      sql.NullTime
		supersededBy   sql.NullString
		archived       int
		claimedAt      sql.NullTime
		source         sql.NullString
		lastAccessedAt sql.NullTime
	)

	err := row.Scan(
		&entry.ID, &category, &entry.Content, &entry.Importance, &embStatus,
		&entry.CreatedAt, &entry.UpdatedAt, &deletedAt, &supersededBy,
		&archived, &claimedAt, &entry.ContentHash, &source,
		&entry.AccessCount, &lastAccessedAt, &entry.Version,
	)
	if err != nil {
		return nil, err
	}

	entry.Category = types.Category(category)
	entry.EmbeddingStatus = types.EmbeddingStatus(embStatus)
	entry.Archived = archived != 0
	if deletedAt.Valid {
		t := deletedAt.Time
		entry.DeletedAt = &t
	}
	if supersededBy.Valid {
		entry.SupersededBy = supersededBy.String
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		entry.ClaimedAt = &t
	}
	if source.Valid {
		entry.Source = source.String
	}
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		entry.LastAccessedAt = &t
	}
	return &entry, nil
}

func scanEntries(rows *sql.Rows) ([]types.MemoryEntry, error) {
	var entries []types.MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan entry row: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows error: %w", err)
	}
	return entries, nil
}

func idArgs(ids []string) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
