package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/quietloop/engram/internal/llm"
	"github.com/quietloop/engram/pkg/types"
)

// maxExcerptChars bounds what is sent to the extraction model. Longer
// messages are truncated, not rejected.
const maxExcerptChars = 2000

// ExtractionOutcome is what the extractor hands the classifier. A
// degraded outcome carries zero candidates and never fails the turn.
type ExtractionOutcome struct {
	Candidates []types.ExtractedCandidate

	// Degraded is true when the provider timed out, was unreachable, or
	// answered garbage. An empty Candidates slice with Degraded false
	// means the text genuinely held nothing memorable.
	Degraded bool
}

// Extractor adapts the extraction client to the ingest pipeline,
// enforcing the excerpt bound and the fail-soft contract.
type Extractor struct {
	client  llm.ExtractionClient
	timeout time.Duration
	logger  *slog.Logger
}

// NewExtractor builds an extractor. timeout bounds each provider call.
func NewExtractor(client llm.ExtractionClient, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Extractor{
		client:  client,
		timeout: timeout,
		logger:  slog.With("component", "extractor"),
	}
}

// Extract runs the extraction model over the excerpt. Provider failures
// degrade to an empty outcome.
func (e *Extractor) Extract(ctx context.Context, text string) ExtractionOutcome {
	excerpt := truncateRunes(text, maxExcerptChars)
	if excerpt == "" {
		return ExtractionOutcome{}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	candidates, err := e.client.Extract(callCtx, excerpt)
	if err != nil {
		e.logger.Warn("extraction degraded", "error", err)
		return ExtractionOutcome{Degraded: true}
	}
	return ExtractionOutcome{Candidates: candidates}
}

// truncateRunes cuts s to at most n runes without splitting a rune.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
