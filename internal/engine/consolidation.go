package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"github.com/quietloop/engram/internal/llm"
	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

// ConsolidationConfig tunes the daemon.
type ConsolidationConfig struct {
	// Schedule is a cron expression. Default "0 3 * * *".
	Schedule string

	// RetentionWindow is the hot-tier age; older entries are eligible.
	// Default 90 days.
	RetentionWindow time.Duration

	// BatchLimit caps entries claimed per run. Default 500.
	BatchLimit int

	// ClaimStaleAfter frees claims left by a crashed run. Default 6h.
	ClaimStaleAfter time.Duration

	// ClusterThreshold is the pairwise cosine similarity that links two
	// entries into one cluster. Default 0.82.
	ClusterThreshold float64
}

func (c *ConsolidationConfig) normalize() {
	if c.Schedule == "" {
		c.Schedule = "0 3 * * *"
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = 90 * 24 * time.Hour
	}
	if c.BatchLimit < 1 {
		c.BatchLimit = 500
	}
	if c.ClaimStaleAfter <= 0 {
		c.ClaimStaleAfter = 6 * time.Hour
	}
	if c.ClusterThreshold <= 0 {
		c.ClusterThreshold = 0.82
	}
}

// RunReport summarizes one consolidation pass.
type RunReport struct {
	RunID    string
	Claimed  int
	Clusters int
	Insights int
	Archived int
	Released int
}

// ConsolidationDaemon periodically compresses aged memory into insights.
// Runs are independent of the request path and skip when a previous run
// is still going.
type ConsolidationDaemon struct {
	store      storage.Store
	summarizer llm.Summarizer
	clock      Clock
	cfg        ConsolidationConfig
	cron       *cron.Cron
	runMu      sync.Mutex
	logger     *slog.Logger
}

// NewConsolidationDaemon builds the daemon.
func NewConsolidationDaemon(store storage.Store, summarizer llm.Summarizer, clock Clock, cfg ConsolidationConfig) *ConsolidationDaemon {
	cfg.normalize()
	if clock == nil {
		clock = SystemClock()
	}
	return &ConsolidationDaemon{
		store:      store,
		summarizer: summarizer,
		clock:      clock,
		cfg:        cfg,
		logger:     slog.With("component", "consolidation"),
	}
}

// Start schedules the daemon. It returns after registering the cron job.
func (d *ConsolidationDaemon) Start() error {
	d.cron = cron.New()
	_, err := d.cron.AddFunc(d.cfg.Schedule, func() {
		if _, err := d.Run(context.Background()); err != nil {
			d.logger.Error("scheduled consolidation failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("consolidation schedule %q: %w", d.cfg.Schedule, err)
	}
	d.cron.Start()
	d.logger.Info("consolidation scheduled", "schedule", d.cfg.Schedule)
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (d *ConsolidationDaemon) Stop() {
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
}

// Run executes one consolidation pass: claim aged entries, cluster them
// by similarity, summarize each cluster into an insight, and archive the
// sources. A run already in progress makes Run return immediately.
//
// Claim semantics guarantee disjoint source sets: an entry claimed by
// this run is invisible to concurrent runs until released or archived,
// and claims from crashed runs expire on their own.
func (d *ConsolidationDaemon) Run(ctx context.Context) (RunReport, error) {
	if !d.runMu.TryLock() {
		d.logger.Info("consolidation already running, skipping")
		return RunReport{}, nil
	}
	defer d.runMu.Unlock()

	runID := ulid.Make().String()
	report := RunReport{RunID: runID}
	logger := d.logger.With("run_id", runID)

	cutoff := d.clock.Now().Add(-d.cfg.RetentionWindow)
	claimed, err := d.store.ClaimForConsolidation(ctx, cutoff, d.cfg.ClaimStaleAfter, d.cfg.BatchLimit)
	if err != nil {
		return report, fmt.Errorf("claim entries: %w", err)
	}
	report.Claimed = len(claimed)
	if len(claimed) == 0 {
		logger.Info("nothing to consolidate")
		return report, nil
	}

	clusters, singletons := d.cluster(ctx, claimed)
	report.Clusters = len(clusters)

	// Entries that cluster with nothing stay hot until they do.
	if err := d.store.ReleaseClaims(ctx, singletons); err != nil {
		logger.Warn("release singleton claims failed", "error", err)
	} else {
		report.Released += len(singletons)
	}

	for _, cluster := range clusters {
		if err := d.consolidateCluster(ctx, runID, cluster); err != nil {
			// One bad cluster must not sink the run.
			logger.Warn("cluster consolidation failed", "size", len(cluster), "error", err)
			ids := entryIDs(cluster)
			if relErr := d.store.ReleaseClaims(ctx, ids); relErr != nil {
				logger.Warn("release cluster claims failed", "error", relErr)
			} else {
				report.Released += len(ids)
			}
			continue
		}
		report.Insights++
		report.Archived += len(cluster)
	}

	logger.Info("consolidation finished",
		"claimed", report.Claimed, "clusters", report.Clusters,
		"insights", report.Insights, "archived", report.Archived,
		"released", report.Released)
	return report, nil
}

func (d *ConsolidationDaemon) consolidateCluster(ctx context.Context, runID string, cluster []types.MemoryEntry) error {
	contents := make([]string, len(cluster))
	for i, entry := range cluster {
		contents[i] = entry.Content
	}

	summary, err := d.summarizer.Summarize(ctx, contents)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	insight := &types.ConsolidatedInsight{
		ID:        uuid.NewString(),
		RunID:     runID,
		SourceIDs: entryIDs(cluster),
		Summary:   summary,
	}
	// Insight and archive land together or not at all: a crash here must
	// not leave a summarized cluster claimable for a second pass.
	if err := d.store.RecordInsight(ctx, insight); err != nil {
		return fmt.Errorf("record insight: %w", err)
	}
	return nil
}

// cluster groups claimed entries by pairwise cosine similarity using
// union-find. Entries without a stored vector cannot cluster and come
// back as singletons.
func (d *ConsolidationDaemon) cluster(ctx context.Context, entries []types.MemoryEntry) ([][]types.MemoryEntry, []string) {
	vectors := make([][]float32, len(entries))
	for i, entry := range entries {
		vec, err := d.store.GetEmbedding(ctx, entry.ID)
		if err == nil {
			vectors[i] = vec
		}
	}

	uf := newUnionFind(len(entries))
	for i := 0; i < len(entries); i++ {
		if vectors[i] == nil {
			continue
		}
		for j := i + 1; j < len(entries); j++ {
			if vectors[j] == nil {
				continue
			}
			if cosineSimilarity(vectors[i], vectors[j]) >= d.cfg.ClusterThreshold {
				uf.union(i, j)
			}
		}
	}

	groups := make(map[int][]types.MemoryEntry)
	for i := range entries {
		root := uf.find(i)
		groups[root] = append(groups[root], entries[i])
	}

	var (
		clusters   [][]types.MemoryEntry
		singletons []string
	)
	for _, group := range groups {
		if len(group) >= 2 {
			clusters = append(clusters, group)
		} else {
			singletons = append(singletons, group[0].ID)
		}
	}
	return clusters, singletons
}

func entryIDs(entries []types.MemoryEntry) []string {
	ids := make([]string, len(entries))
	for i := range entries {
		ids[i] = entries[i].ID
	}
	return ids
}

// unionFind with path compression, small and throwaway per run.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}
