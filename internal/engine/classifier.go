package engine

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quietloop/engram/internal/llm"
	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

// nearDuplicateThreshold marks candidates that restate an existing entry
// closely enough that no new row is warranted.
const nearDuplicateThreshold = 0.95

// ambiguityBand is the score band just below the similarity threshold
// where the classifier cannot tell same-topic from new-topic. Those
// candidates are added anyway at reduced importance: storing a borderline
// duplicate is cheaper than losing a memory.
const ambiguityBand = 0.05

// ambiguousImportanceFactor discounts importance for ambiguous adds.
const ambiguousImportanceFactor = 0.6

// Decision is the classifier's verdict on one candidate.
type Decision struct {
	Action types.Action

	// EntryID is the entry the decision landed on: the new row for add
	// and supersede, the existing row for update and noop.
	EntryID string

	// SupersededID is the prior entry whose pointer was set, when the
	// action is supersede.
	SupersededID string

	// Ambiguous marks a retention-biased add from the ambiguity band.
	Ambiguous bool
}

// Classifier routes extracted candidates into add, update, supersede, or
// noop against the existing store.
type Classifier struct {
	store               storage.Store
	searcher            *Searcher
	embedder            llm.EmbeddingClient
	similarityThreshold float64
	topK                int
	onInsert            func(entryID string)
	logger              *slog.Logger
}

// ClassifierConfig tunes classification.
type ClassifierConfig struct {
	SimilarityThreshold float64
	TopK                int

	// OnInsert is called with the ID of every newly inserted entry, so
	// the embedding backfill pool can pick it up. May be nil.
	OnInsert func(entryID string)
}

// NewClassifier builds a classifier.
func NewClassifier(store storage.Store, searcher *Searcher, embedder llm.EmbeddingClient, cfg ClassifierConfig) *Classifier {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.82
	}
	if cfg.TopK < 1 {
		cfg.TopK = 10
	}
	return &Classifier{
		store:               store,
		searcher:            searcher,
		embedder:            embedder,
		similarityThreshold: cfg.SimilarityThreshold,
		topK:                cfg.TopK,
		onInsert:            cfg.OnInsert,
		logger:              slog.With("component", "classifier"),
	}
}

// Classify decides what to do with one candidate and applies the
// decision. Ingesting identical text twice yields a noop the second
// time.
func (c *Classifier) Classify(ctx context.Context, candidate types.ExtractedCandidate, source string) (Decision, error) {
	content := strings.TrimSpace(candidate.Content)
	if content == "" {
		return Decision{}, fmt.Errorf("%w: empty candidate content", storage.ErrInvalidInput)
	}

	// Exact-content short circuit.
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
	if existing, err := c.store.GetByContentHash(ctx, hash); err == nil {
		c.recordRepeat(ctx, existing, candidate.Importance)
		return Decision{Action: types.ActionNoop, EntryID: existing.ID}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Decision{}, fmt.Errorf("content hash lookup: %w", err)
	}

	match, similarity, err := c.bestMatch(ctx, candidate)
	if err != nil {
		return Decision{}, err
	}

	switch {
	case match != nil && similarity >= nearDuplicateThreshold:
		// Same statement in new words. Refresh the existing entry's
		// metadata instead of storing a twin.
		c.recordRepeat(ctx, match, candidate.Importance)
		return Decision{Action: types.ActionUpdate, EntryID: match.ID}, nil

	case match != nil && similarity >= c.similarityThreshold:
		return c.supersede(ctx, match, candidate, source)

	case match != nil && similarity >= c.similarityThreshold-ambiguityBand:
		entry, err := c.insert(ctx, candidate, source, candidate.Importance*ambiguousImportanceFactor)
		if err != nil {
			return Decision{}, err
		}
		c.logger.Info("ambiguous candidate stored at reduced importance",
			"entry_id", entry.ID, "similarity", similarity, "near", match.ID)
		return Decision{Action: types.ActionAdd, EntryID: entry.ID, Ambiguous: true}, nil

	default:
		entry, err := c.insert(ctx, candidate, source, candidate.Importance)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Action: types.ActionAdd, EntryID: entry.ID}, nil
	}
}

// bestMatch finds the most similar active entry to the candidate, using
// vector similarity when embeddings are available and token overlap
// otherwise.
func (c *Classifier) bestMatch(ctx context.Context, candidate types.ExtractedCandidate) (*types.MemoryEntry, float64, error) {
	results, err := c.searcher.Search(ctx, SearchOptions{
		Query:    candidate.Content,
		Limit:    c.topK,
		Category: string(candidate.Category),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("classifier search: %w", err)
	}
	if len(results) == 0 {
		return nil, 0, nil
	}

	candidateVec := c.embedCandidate(ctx, candidate.Content)

	var (
		best    *types.MemoryEntry
		bestSim float64
	)
	for i := range results {
		entry := results[i].Entry
		sim := c.similarity(ctx, candidateVec, candidate.Content, &entry)
		if sim > bestSim {
			bestSim = sim
			best = &results[i].Entry
		}
	}
	return best, bestSim, nil
}

func (c *Classifier) embedCandidate(ctx context.Context, content string) []float32 {
	if c.embedder == nil {
		return nil
	}
	embedCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	vec, err := c.embedder.Embed(embedCtx, content)
	if err != nil {
		c.logger.Warn("classifier embedding degraded", "error", err)
		return nil
	}
	return vec
}

func (c *Classifier) similarity(ctx context.Context, candidateVec []float32, content string, entry *types.MemoryEntry) float64 {
	if len(candidateVec) > 0 {
		if entryVec, err := c.store.GetEmbedding(ctx, entry.ID); err == nil {
			return cosineSimilarity(candidateVec, entryVec)
		}
	}
	return tokenOverlap(content, entry.Content)
}

// supersede inserts the new statement and points the old entry at it.
// A conflicting concurrent decision is retried once against the fresh
// row; if the row already carries a pointer, the insert stands as a
// plain add.
func (c *Classifier) supersede(ctx context.Context, old *types.MemoryEntry, candidate types.ExtractedCandidate, source string) (Decision, error) {
	entry, err := c.insert(ctx, candidate, source, candidate.Importance)
	if err != nil {
		return Decision{}, err
	}

	err = c.store.Supersede(ctx, old.ID, entry.ID, old.Version)
	if errors.Is(err, storage.ErrConflict) {
		fresh, getErr := c.store.Get(ctx, old.ID)
		if getErr == nil && fresh.SupersededBy == "" && fresh.DeletedAt == nil {
			err = c.store.Supersede(ctx, old.ID, entry.ID, fresh.Version)
		}
	}
	if err != nil {
		if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("supersede lost race, keeping entry as add",
				"entry_id", entry.ID, "old_id", old.ID)
			return Decision{Action: types.ActionAdd, EntryID: entry.ID}, nil
		}
		return Decision{}, fmt.Errorf("supersede: %w", err)
	}
	return Decision{Action: types.ActionSupersede, EntryID: entry.ID, SupersededID: old.ID}, nil
}

func (c *Classifier) insert(ctx context.Context, candidate types.ExtractedCandidate, source string, importance float64) (*types.MemoryEntry, error) {
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}
	entry := &types.MemoryEntry{
		ID:         uuid.NewString(),
		Category:   candidate.Category,
		Content:    strings.TrimSpace(candidate.Content),
		Importance: importance,
		Source:     source,
	}
	if err := c.store.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	if c.onInsert != nil {
		c.onInsert(entry.ID)
	}
	return entry, nil
}

// recordRepeat refreshes access metadata when a candidate restates an
// existing entry. Failures are logged, not surfaced: the decision is
// already correct.
func (c *Classifier) recordRepeat(ctx context.Context, entry *types.MemoryEntry, importance float64) {
	if err := c.store.Touch(ctx, entry.ID); err != nil {
		c.logger.Warn("touch failed", "entry_id", entry.ID, "error", err)
	}
	if importance > entry.Importance {
		err := c.store.BumpImportance(ctx, entry.ID, importance, entry.Version)
		if err != nil && !errors.Is(err, storage.ErrConflict) {
			c.logger.Warn("importance bump failed", "entry_id", entry.ID, "error", err)
		}
	}
}

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// tokenOverlap is the Jaccard similarity of lowercase token sets, the
// similarity fallback when no vectors exist yet.
func tokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	var intersection int
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range tokenSplit.Split(strings.ToLower(s), -1) {
		if tok != "" {
			out[tok] = struct{}{}
		}
	}
	return out
}
