package types

import (
	"fmt"
	"time"
)

// CommitmentStatus is the lifecycle state of a tracked promise.
// Transitions are one-way: active may move to completed or cancelled,
// and both of those are terminal.
type CommitmentStatus string

const (
	CommitmentActive    CommitmentStatus = "active"
	CommitmentCompleted CommitmentStatus = "completed"
	CommitmentCancelled CommitmentStatus = "cancelled"
)

// CanTransitionTo reports whether a status change is allowed.
func (s CommitmentStatus) CanTransitionTo(next CommitmentStatus) bool {
	return s == CommitmentActive &&
		(next == CommitmentCompleted || next == CommitmentCancelled)
}

// Commitment is a tracked promise, optionally bound to a person and a due
// time derived from a relative phrase at ingest time.
//
// The engine deliberately exposes only raw timestamps for due/overdue
// queries. Downstream presentation is forward-facing, so no accumulating
// "days late" counter exists anywhere on this type.
type Commitment struct {
	ID      string `json:"id"`
	Content string `json:"content"`

	// Target is the person the promise was made to, when known.
	Target string `json:"target,omitempty"`

	// DueAt is the absolute due timestamp resolved from a relative phrase
	// ("tomorrow", "in 3 days") against the reference clock. Nil when the
	// commitment carries no deadline.
	DueAt *time.Time `json:"due_at,omitempty"`

	Status        CommitmentStatus `json:"status"`
	ReminderCount int              `json:"reminder_count"`

	CreatedAt time.Time `json:"created_at"`

	// CompletedAt is set if and only if Status is completed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Validate checks the internal invariants of the commitment.
func (c *Commitment) Validate() error {
	switch c.Status {
	case CommitmentActive, CommitmentCompleted, CommitmentCancelled:
	default:
		return fmt.Errorf("invalid commitment status %q", c.Status)
	}
	if (c.Status == CommitmentCompleted) != (c.CompletedAt != nil) {
		return fmt.Errorf("completed_at must be set exactly when status is completed")
	}
	return nil
}
