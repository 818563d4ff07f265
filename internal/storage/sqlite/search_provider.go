package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/quietloop/engram/internal/storage"
)

// KeywordSearch performs FTS5-backed keyword search across entry content
// and returns matches ranked by bm25() (lower is better). The hybrid search
// layer normalizes the raw ranks before blending with semantic scores.
func (s *Store) KeywordSearch(ctx context.Context, opts storage.SearchOptions) ([]storage.KeywordMatch, error) {
	opts.Normalize()

	if strings.TrimSpace(opts.Query) == "" {
		return nil, nil
	}

	ftsQuery := sanitiseFTSQuery(opts.Query)
	if ftsQuery == "" {
		return nil, nil
	}

	var conds []string
	args := []interface{}{ftsQuery}
	if !opts.IncludeHistory {
		conds = append(conds, "e.deleted_at IS NULL", "e.superseded_by IS NULL")
	}
	if !opts.Deep {
		conds = append(conds, "e.archived = 0")
	}
	if opts.Category != "" {
		conds = append(conds, "e.category = ?")
		args = append(args, opts.Category)
	}
	extra := ""
	if len(conds) > 0 {
		extra = " AND " + strings.Join(conds, " AND ")
	}

	query := `
		SELECT e.id, bm25(entries_fts) AS rank
		FROM entries_fts fts
		JOIN entries e ON e.rowid = fts.rowid
		WHERE entries_fts MATCH ?` + extra + `
		ORDER BY rank
		LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		// FTS5 can still reject malformed input that slipped past
		// sanitisation; surface enough context to diagnose.
		return nil, fmt.Errorf("sqlite: keyword search MATCH %q: %w", opts.Query, err)
	}
	defer func() { _ = rows.Close() }()

	var matches []storage.KeywordMatch
	for rows.Next() {
		var m storage.KeywordMatch
		if err := rows.Scan(&m.EntryID, &m.Rank); err != nil {
			return nil, fmt.Errorf("sqlite: scan keyword match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: keyword search rows: %w", err)
	}
	return matches, nil
}

// sanitiseFTSQuery converts a free-form query into a safe FTS5 MATCH
// expression. FTS5 syntax is fragile: an unbalanced quote or stray operator
// keyword produces "fts5: syntax error". The input becomes a prefix query
// over each remaining word with OR semantics for recall.
//
// Example: "What is my employer?" → "employer*"
// Example: "image generation preferences" → "image* OR generation* OR preferences*"
func sanitiseFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		`"`, ` `,
		`'`, ` `,
		`(`, ` `,
		`)`, ` `,
		`*`, ` `,
		`-`, ` `,
		`^`, ` `,
		`?`, ` `,
		`:`, ` `,
		`.`, ` `,
		`,`, ` `,
	)
	cleaned := replacer.Replace(query)

	words := strings.Fields(strings.ToLower(cleaned))

	var terms []string
	for _, w := range words {
		if !ftsStopWords[w] && len(w) >= 2 {
			terms = append(terms, w+"*")
		}
	}

	if len(terms) == 0 {
		// Everything was a stop word. Lowercase the cleaned text so FTS5
		// does not interpret uppercase AND/OR/NOT as operators.
		return strings.ToLower(strings.TrimSpace(cleaned))
	}

	return strings.Join(terms, " OR ")
}

// ftsStopWords carry no discriminative value in a MATCH expression.
var ftsStopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "shall": true, "can": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "as": true,
	"about": true, "into": true, "through": true, "during": true,
	"what": true, "how": true, "when": true, "where": true, "why": true,
	"who": true, "which": true,
	"this": true, "that": true, "these": true, "those": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true, "they": true,
	"my": true, "your": true, "our": true,
	"and": true, "or": true, "but": true, "if": true, "not": true,
	"s": true, "t": true, // post-apostrophe fragments: "Sarah's" → "Sarah" + "s"
}
