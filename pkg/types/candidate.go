package types

// ExtractedCandidate is one memorable item proposed by the external
// structured-extraction capability for a gate-passing text. The classifier
// turns candidates into write decisions; candidates themselves are never
// persisted.
type ExtractedCandidate struct {
	Category Category `json:"category"`
	Content  string   `json:"content"`

	// Target is the person involved, when the candidate is a commitment
	// or relationship ("Sarah" in "I'll send Sarah the report").
	Target string `json:"target,omitempty"`

	// DuePhrase is the raw relative-date phrase ("tomorrow", "next week")
	// to be resolved against the reference clock by the commitments
	// service. Empty when the candidate carries no deadline.
	DuePhrase string `json:"due_phrase,omitempty"`

	// Importance is the extractor's initial estimate in [0,1]; the
	// classifier may lower it for ambiguous near-threshold adds.
	Importance float64 `json:"importance,omitempty"`
}
