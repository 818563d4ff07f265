// Package types defines the shared data model for the Engram memory engine.
//
// All persisted entities live here so that storage backends, the engine, and
// the HTTP boundary agree on a single source of truth. Entities hold plain
// data only; behavior belongs to the owning services.
package types

import "fmt"

// Category classifies what kind of information a memory entry carries.
// The set is closed: the classifier switches exhaustively over it and
// unknown values are rejected at the storage boundary.
type Category string

const (
	CategoryFact         Category = "fact"
	CategoryPreference   Category = "preference"
	CategoryEvent        Category = "event"
	CategoryInsight      Category = "insight"
	CategoryRelationship Category = "relationship"
	CategoryCommitment   Category = "commitment"
)

// Categories lists every valid category in stable order.
func Categories() []Category {
	return []Category{
		CategoryFact,
		CategoryPreference,
		CategoryEvent,
		CategoryInsight,
		CategoryRelationship,
		CategoryCommitment,
	}
}

// Valid reports whether c is one of the closed category set.
func (c Category) Valid() bool {
	switch c {
	case CategoryFact, CategoryPreference, CategoryEvent,
		CategoryInsight, CategoryRelationship, CategoryCommitment:
		return true
	}
	return false
}

// ParseCategory converts a string into a Category, accepting only members
// of the closed set. An empty string is returned as-is so callers can use
// it to mean "no category filter".
func ParseCategory(s string) (Category, error) {
	if s == "" {
		return "", nil
	}
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Action is the classifier's write decision for an extracted candidate.
type Action string

const (
	// ActionAdd inserts a brand-new active entry.
	ActionAdd Action = "add"

	// ActionUpdate refines metadata of an existing entry in place.
	// Content is never rewritten.
	ActionUpdate Action = "update"

	// ActionSupersede inserts a new entry and points the contradicted
	// older entry's superseded_by at it.
	ActionSupersede Action = "supersede"

	// ActionNoop discards a near-duplicate candidate without writing.
	ActionNoop Action = "noop"
)

// AccessOp identifies the kind of operation recorded in the access log.
type AccessOp string

const (
	AccessRead   AccessOp = "read"
	AccessSearch AccessOp = "search"
	AccessWrite  AccessOp = "write"
)
