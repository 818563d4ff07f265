package types

import "time"

// SnapshotTrigger identifies what caused a context snapshot to be taken.
type SnapshotTrigger string

const (
	TriggerSwitch  SnapshotTrigger = "switch"  // external task-switch signal
	TriggerTimeout SnapshotTrigger = "timeout" // inactivity timeout
	TriggerManual  SnapshotTrigger = "manual"  // explicit user request
)

// Valid reports whether t is a known trigger.
func (t SnapshotTrigger) Valid() bool {
	switch t {
	case TriggerSwitch, TriggerTimeout, TriggerManual:
		return true
	}
	return false
}

// ContextSnapshot is a resumable "where was I" record captured on task
// switches. At most one snapshot is live per (session, channel): the most
// recent non-expired one. Staleness is derived at read time, never stored,
// so resumption always re-evaluates it against the current clock.
type ContextSnapshot struct {
	ID      string          `json:"id"`
	Trigger SnapshotTrigger `json:"trigger"`

	// Resource references whatever the user was working in (a document,
	// a thread, a ticket). Opaque to the engine.
	Resource   string `json:"resource,omitempty"`
	LastAction string `json:"last_action,omitempty"`
	NextStep   string `json:"next_step,omitempty"`

	Session string `json:"session"`
	Channel string `json:"channel"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the snapshot has passed its expiry at now.
func (s *ContextSnapshot) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
