// Package engine implements the memory pipeline: gated ingest through
// extraction and classification, hybrid retrieval, bounded context
// assembly, commitment tracking, context snapshots, and scheduled
// consolidation. The engine is the single facade the boundary layers
// (HTTP, CLI) talk to.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/quietloop/engram/internal/llm"
	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

// Config carries every tunable the engine needs. Zero values select the
// documented defaults.
type Config struct {
	GateThreshold       float64
	TopK                int
	KeywordWeight       float64
	EmbeddingWeight     float64
	ImportanceWeight    float64
	SimilarityThreshold float64
	TokenBudget         int
	AssembleTimeout     time.Duration
	ExtractTimeout      time.Duration
	BackfillWorkers     int
	DueSoonWindow       time.Duration
	SnapshotStaleAfter  time.Duration
	SnapshotExpiry      time.Duration

	ConsolidationEnabled bool
	Consolidation        ConsolidationConfig
}

// Event is a notification about a memory mutation, consumed by the
// dashboard feed.
type Event struct {
	Kind    string `json:"kind"` // entry_added, entry_superseded, entry_updated, consolidated
	EntryID string `json:"entry_id,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

// breakerState is implemented by the circuit-broken LLM client.
type breakerState interface {
	State() string
}

// Engine is the assembled memory system.
type Engine struct {
	store       storage.Store
	llmClient   llm.Client
	clock       Clock
	gate        *Gate
	extractor   *Extractor
	searcher    *Searcher
	classifier  *Classifier
	commitments *CommitmentService
	snapshots   *SnapshotService
	assembler   *Assembler
	backfill    *BackfillPool
	daemon      *ConsolidationDaemon

	consolidationEnabled bool
	eventSink            func(Event)
	logger               *slog.Logger
}

// New wires the engine from its collaborators.
func New(store storage.Store, llmClient llm.Client, clock Clock, cfg Config) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.GateThreshold <= 0 {
		cfg.GateThreshold = 0.3
	}

	e := &Engine{
		store:                store,
		llmClient:            llmClient,
		clock:                clock,
		consolidationEnabled: cfg.ConsolidationEnabled,
		logger:               slog.With("component", "engine"),
	}

	e.gate = NewGate(cfg.GateThreshold)
	e.extractor = NewExtractor(llmClient, cfg.ExtractTimeout)
	e.searcher = NewSearcher(store, llmClient, SearcherConfig{
		KeywordWeight:    cfg.KeywordWeight,
		EmbeddingWeight:  cfg.EmbeddingWeight,
		ImportanceWeight: cfg.ImportanceWeight,
	})
	e.backfill = NewBackfillPool(store, llmClient, cfg.BackfillWorkers)
	e.classifier = NewClassifier(store, e.searcher, llmClient, ClassifierConfig{
		SimilarityThreshold: cfg.SimilarityThreshold,
		TopK:                cfg.TopK,
		OnInsert:            e.backfill.Enqueue,
	})
	e.commitments = NewCommitmentService(store, clock, cfg.DueSoonWindow)
	e.snapshots = NewSnapshotService(store, clock, cfg.SnapshotStaleAfter, cfg.SnapshotExpiry)
	e.assembler = NewAssembler(store, e.searcher, e.commitments, e.snapshots, clock, cfg.TokenBudget, cfg.AssembleTimeout)
	e.daemon = NewConsolidationDaemon(store, llmClient, clock, cfg.Consolidation)

	return e
}

// SetEventSink registers a callback for mutation events. Must be called
// before Start.
func (e *Engine) SetEventSink(sink func(Event)) {
	e.eventSink = sink
}

// Start launches the background workers.
func (e *Engine) Start() error {
	e.backfill.Start()
	if e.consolidationEnabled {
		if err := e.daemon.Start(); err != nil {
			e.backfill.Stop()
			return err
		}
	}
	return nil
}

// Stop shuts the background workers down and closes the store.
func (e *Engine) Stop() error {
	if e.consolidationEnabled {
		e.daemon.Stop()
	}
	e.backfill.Stop()
	return e.store.Close()
}

// IngestResult reports what one ingested message produced.
type IngestResult struct {
	GateScore float64 `json:"gate_score"`

	// Admitted is false when the gate filtered the message out.
	Admitted bool `json:"admitted"`

	// Degraded is true when extraction fell back to the empty outcome.
	Degraded bool `json:"degraded"`

	Decisions []Decision `json:"decisions,omitempty"`

	// CommitmentIDs are commitments created from commitment candidates.
	CommitmentIDs []string `json:"commitment_ids,omitempty"`
}

// Ingest runs the write path over one message: gate, extract, classify,
// and commitment creation. It degrades instead of failing: provider
// outages yield an empty, flagged result.
func (e *Engine) Ingest(ctx context.Context, text, source string) (IngestResult, error) {
	start := e.clock.Now()
	defer e.logAccess(ctx, "", types.AccessWrite, start)

	score, admitted := e.gate.Admit(text)
	result := IngestResult{GateScore: score, Admitted: admitted}
	if !admitted {
		return result, nil
	}

	outcome := e.extractor.Extract(ctx, text)
	result.Degraded = outcome.Degraded

	for _, candidate := range outcome.Candidates {
		decision, err := e.classifier.Classify(ctx, candidate, source)
		if err != nil {
			return result, fmt.Errorf("classify candidate: %w", err)
		}
		result.Decisions = append(result.Decisions, decision)
		e.emitDecision(decision)

		if candidate.Category == types.CategoryCommitment && decision.Action != types.ActionNoop {
			c, err := e.commitments.Add(ctx, candidate.Content, candidate.Target, candidate.DuePhrase)
			if err != nil {
				e.logger.Warn("commitment creation failed", "error", err)
				continue
			}
			result.CommitmentIDs = append(result.CommitmentIDs, c.ID)
		}
	}
	return result, nil
}

// Search runs hybrid retrieval and refreshes access metadata on the
// returned entries.
func (e *Engine) Search(ctx context.Context, opts SearchOptions) ([]SearchResult, error) {
	start := e.clock.Now()
	defer e.logAccess(ctx, "", types.AccessSearch, start)

	results, err := e.searcher.Search(ctx, opts)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if err := e.store.Touch(ctx, r.Entry.ID); err != nil {
			e.logger.Warn("touch failed", "entry_id", r.Entry.ID, "error", err)
		}
	}
	return results, nil
}

// AssembleContext builds the bounded context block for a turn.
func (e *Engine) AssembleContext(ctx context.Context, req AssembleRequest) ContextBlock {
	start := e.clock.Now()
	defer e.logAccess(ctx, "", types.AccessRead, start)
	return e.assembler.Assemble(ctx, req)
}

// Commitments exposes the commitment service.
func (e *Engine) Commitments() *CommitmentService { return e.commitments }

// Snapshots exposes the snapshot service.
func (e *Engine) Snapshots() *SnapshotService { return e.snapshots }

// RunConsolidation triggers one consolidation pass outside the
// schedule. Unlike the request-path operations it surfaces hard errors.
func (e *Engine) RunConsolidation(ctx context.Context) (RunReport, error) {
	report, err := e.daemon.Run(ctx)
	if err == nil && report.Insights > 0 && e.eventSink != nil {
		e.eventSink(Event{Kind: "consolidated", RunID: report.RunID})
	}
	return report, err
}

// HealthReport describes engine health for the health endpoint.
type HealthReport struct {
	EmbeddingService     string `json:"embedding_service"` // ok, degraded, or the breaker state
	KeywordIndex         string `json:"keyword_index"`     // ok or failing
	PendingEmbeddings    int    `json:"pending_embeddings"`
	ConsolidationBacklog int    `json:"consolidation_backlog"`
}

// Health reports component status. Degraded capabilities are reported,
// never errored.
func (e *Engine) Health(ctx context.Context) HealthReport {
	report := HealthReport{EmbeddingService: "ok", KeywordIndex: "ok"}

	if bs, ok := e.llmClient.(breakerState); ok && bs.State() != "closed" {
		report.EmbeddingService = bs.State()
	}

	if _, err := e.store.KeywordSearch(ctx, storage.SearchOptions{Query: "health probe", Limit: 1}); err != nil {
		report.KeywordIndex = "failing"
	}

	if ids, err := e.store.ListPendingEmbeddings(ctx, 1000); err == nil {
		report.PendingEmbeddings = len(ids)
	}
	cutoff := e.clock.Now().Add(-e.daemon.cfg.RetentionWindow)
	if n, err := e.store.CountUnarchivedBefore(ctx, cutoff); err == nil {
		report.ConsolidationBacklog = n
	}
	return report
}

func (e *Engine) emitDecision(d Decision) {
	if e.eventSink == nil {
		return
	}
	switch d.Action {
	case types.ActionAdd:
		e.eventSink(Event{Kind: "entry_added", EntryID: d.EntryID})
	case types.ActionSupersede:
		e.eventSink(Event{Kind: "entry_superseded", EntryID: d.EntryID})
	case types.ActionUpdate:
		e.eventSink(Event{Kind: "entry_updated", EntryID: d.EntryID})
	}
}

func (e *Engine) logAccess(ctx context.Context, entryID string, op types.AccessOp, start time.Time) {
	rec := &types.AccessLogEntry{
		ID:      ulid.Make().String(),
		EntryID: entryID,
		Op:      op,
		Latency: e.clock.Now().Sub(start),
	}
	if err := e.store.LogAccess(ctx, rec); err != nil {
		e.logger.Warn("access log append failed", "error", err)
	}
}
