package types

import "time"

// ConsolidatedInsight is a cold-tier summary produced by a consolidation
// run. It references the source entries it was distilled from; the sources
// themselves are archived, not deleted, and stay retrievable via deep search.
//
// Within a single run the source sets of all produced insights are pairwise
// disjoint: claim markers prevent an entry from being summarized twice.
type ConsolidatedInsight struct {
	ID string `json:"id"`

	// RunID groups all insights produced by one daemon pass.
	// ULIDs sort lexically by time, so runs order naturally.
	RunID string `json:"run_id"`

	SourceIDs []string `json:"source_ids"`
	Summary   string   `json:"summary"`

	CreatedAt time.Time `json:"created_at"`
}
