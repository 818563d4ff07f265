package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/quietloop/engram/internal/llm"
	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

// SearchOptions configures a hybrid search.
type SearchOptions struct {
	Query          string
	Limit          int
	Category       string
	IncludeHistory bool
	Deep           bool

	// MinScore drops results below this blended score before ranking.
	MinScore float64
}

// SearchResult is one ranked hit with its score breakdown.
type SearchResult struct {
	Entry         types.MemoryEntry
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// Searcher blends keyword and semantic retrieval over the store.
type Searcher struct {
	store            storage.Store
	embedder         llm.EmbeddingClient
	keywordWeight    float64
	embeddingWeight  float64
	importanceWeight float64
	embedTimeout     time.Duration
	logger           *slog.Logger
}

// SearcherConfig tunes score blending.
type SearcherConfig struct {
	KeywordWeight    float64
	EmbeddingWeight  float64
	ImportanceWeight float64
	EmbedTimeout     time.Duration
}

// NewSearcher builds a hybrid searcher.
func NewSearcher(store storage.Store, embedder llm.EmbeddingClient, cfg SearcherConfig) *Searcher {
	if cfg.KeywordWeight <= 0 && cfg.EmbeddingWeight <= 0 {
		cfg.KeywordWeight, cfg.EmbeddingWeight = 0.7, 0.3
	}
	if cfg.ImportanceWeight < 0 {
		cfg.ImportanceWeight = 0
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 2 * time.Second
	}
	return &Searcher{
		store:            store,
		embedder:         embedder,
		keywordWeight:    cfg.KeywordWeight,
		embeddingWeight:  cfg.EmbeddingWeight,
		importanceWeight: cfg.ImportanceWeight,
		embedTimeout:     cfg.EmbedTimeout,
		logger:           slog.With("component", "search"),
	}
}

// Search returns ranked hits for the query. When the embedding service
// is unavailable the call degrades to pure keyword ranking, which is
// deterministic for a fixed corpus.
func (s *Searcher) Search(ctx context.Context, opts SearchOptions) ([]SearchResult, error) {
	if opts.Limit < 1 {
		opts.Limit = 10
	}

	keywordMatches, err := s.store.KeywordSearch(ctx, storage.SearchOptions{
		Query:          opts.Query,
		Limit:          opts.Limit * 3,
		Category:       opts.Category,
		IncludeHistory: opts.IncludeHistory,
		Deep:           opts.Deep,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	keywordScores := normalizeKeywordRanks(keywordMatches)
	semanticScores := s.semanticScores(ctx, opts)

	// Union of both candidate sets.
	ids := make(map[string]struct{}, len(keywordScores)+len(semanticScores))
	for id := range keywordScores {
		ids[id] = struct{}{}
	}
	for id := range semanticScores {
		ids[id] = struct{}{}
	}

	wk, we := s.keywordWeight, s.embeddingWeight
	if len(semanticScores) == 0 {
		// Keyword-only fallback keeps relative keyword order intact.
		wk, we = wk+we, 0
	}

	results := make([]SearchResult, 0, len(ids))
	for id := range ids {
		entry, err := s.store.Get(ctx, id)
		if err != nil {
			s.logger.Warn("search candidate vanished", "entry_id", id, "error", err)
			continue
		}
		if opts.Category != "" && string(entry.Category) != opts.Category {
			continue
		}
		if !opts.IncludeHistory && (entry.DeletedAt != nil || entry.SupersededBy != "") {
			continue
		}
		if !opts.Deep && entry.Archived {
			continue
		}

		kw := keywordScores[id]
		sem := semanticScores[id]
		score := (wk*kw + we*sem) * (1 + s.importanceWeight*entry.Importance)
		if score < opts.MinScore || score == 0 {
			continue
		}
		results = append(results, SearchResult{
			Entry:         *entry,
			Score:         score,
			KeywordScore:  kw,
			SemanticScore: sem,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Entry.CreatedAt.Equal(results[j].Entry.CreatedAt) {
			return results[i].Entry.CreatedAt.After(results[j].Entry.CreatedAt)
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// semanticScores embeds the query and scores stored vectors by cosine
// similarity. Any failure returns an empty map, degrading the call to
// keyword-only.
func (s *Searcher) semanticScores(ctx context.Context, opts SearchOptions) map[string]float64 {
	if s.embedder == nil || s.embeddingWeight <= 0 {
		return nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()
	queryVec, err := s.embedder.Embed(embedCtx, opts.Query)
	if err != nil {
		s.logger.Warn("semantic search degraded", "error", err)
		return nil
	}

	scores := make(map[string]float64)

	// Prefer a native vector index when the backend has one.
	if vs, ok := s.store.(storage.VectorSearcher); ok && !opts.Deep && !opts.IncludeHistory {
		matches, err := vs.NearestNeighbors(ctx, queryVec, opts.Limit*3)
		if err == nil && len(matches) > 0 {
			for _, m := range matches {
				scores[m.EntryID] = clamp01(m.Similarity)
			}
			return scores
		}
	}

	records, err := s.store.ListEmbeddings(ctx, 0, opts.Deep)
	if err != nil {
		s.logger.Warn("semantic search degraded", "error", err)
		return nil
	}
	for _, rec := range records {
		scores[rec.EntryID] = clamp01(cosineSimilarity(queryVec, rec.Embedding))
	}
	return scores
}

// normalizeKeywordRanks maps lower-is-better ranks (negative for both
// backends) to [0, 1] as the ratio against the best rank. Near-equal
// ranks stay near-equal, so the importance boost can break ties.
func normalizeKeywordRanks(matches []storage.KeywordMatch) map[string]float64 {
	scores := make(map[string]float64, len(matches))
	if len(matches) == 0 {
		return scores
	}
	best := matches[0].Rank
	for _, m := range matches[1:] {
		if m.Rank < best {
			best = m.Rank
		}
	}
	for _, m := range matches {
		if best >= 0 {
			scores[m.EntryID] = 1
			continue
		}
		scores[m.EntryID] = clamp01(m.Rank / best)
	}
	return scores
}

// cosineSimilarity computes cosine similarity between two vectors.
// Mismatched dimensions or zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
