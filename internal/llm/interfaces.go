// Package llm defines the language-model clients used for candidate
// extraction, consolidation summaries, and embeddings, plus the
// resilience wrappers around them. All external calls are fail-soft:
// callers receive typed errors and degrade rather than abort.
package llm

import (
	"context"
	"errors"

	"github.com/quietloop/engram/pkg/types"
)

var (
	// ErrUnavailable indicates the provider is unreachable or the
	// circuit is open. Callers should fall back to heuristics.
	ErrUnavailable = errors.New("llm provider unavailable")

	// ErrBadResponse indicates the provider answered with output that
	// could not be parsed.
	ErrBadResponse = errors.New("unparseable llm response")
)

// ExtractionClient turns a conversational excerpt into structured
// memory candidates.
type ExtractionClient interface {
	// Extract returns zero or more candidates found in the excerpt.
	// An empty slice with a nil error means the excerpt held nothing
	// worth remembering.
	Extract(ctx context.Context, excerpt string) ([]types.ExtractedCandidate, error)
}

// Summarizer condenses a cluster of related memory contents into one
// short insight summary.
type Summarizer interface {
	Summarize(ctx context.Context, contents []string) (string, error)
}

// EmbeddingClient produces vector embeddings for text.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client is the full provider surface the engine needs.
type Client interface {
	ExtractionClient
	Summarizer
	EmbeddingClient
}
