package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/quietloop/engram/internal/storage"
)

// KeywordSearch runs full-text search over entry content using the
// generated tsvector column. ts_rank is higher-is-better, so the rank is
// negated to keep the lower-is-better contract shared with the SQLite
// backend.
func (s *Store) KeywordSearch(ctx context.Context, opts storage.SearchOptions) ([]storage.KeywordMatch, error) {
	opts.Normalize()
	if strings.TrimSpace(opts.Query) == "" {
		return nil, nil
	}

	conds := []string{"e.content_tsv @@ q.query"}
	args := []interface{}{opts.Query}
	if !opts.IncludeHistory {
		conds = append(conds, "e.deleted_at IS NULL", "e.superseded_by IS NULL")
	}
	if !opts.Deep {
		conds = append(conds, "e.archived = FALSE")
	}
	if opts.Category != "" {
		args = append(args, opts.Category)
		conds = append(conds, fmt.Sprintf("e.category = $%d", len(args)))
	}
	args = append(args, opts.Limit)

	// plainto_tsquery tolerates arbitrary user input, so no sanitiser
	// pass is needed here.
	query := fmt.Sprintf(`
		SELECT e.id, -ts_rank(e.content_tsv, q.query) AS rank
		FROM entries e, plainto_tsquery('english', $1) q(query)
		WHERE %s
		ORDER BY rank
		LIMIT $%d`, strings.Join(conds, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: keyword search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []storage.KeywordMatch
	for rows.Next() {
		var m storage.KeywordMatch
		if err := rows.Scan(&m.EntryID, &m.Rank); err != nil {
			return nil, fmt.Errorf("postgres: scan keyword match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
