package types

import (
	"testing"
	"time"
)

func TestCategoryValid(t *testing.T) {
	for _, c := range Categories() {
		if !c.Valid() {
			t.Errorf("Categories() returned invalid category %q", c)
		}
	}
	if Category("task").Valid() {
		t.Error("unknown category should not be valid")
	}
	if Category("").Valid() {
		t.Error("empty category should not be valid")
	}
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("preference")
	if err != nil {
		t.Fatalf("ParseCategory(preference) failed: %v", err)
	}
	if c != CategoryPreference {
		t.Errorf("got %q, want %q", c, CategoryPreference)
	}

	// Empty string means "no filter", not an error.
	c, err = ParseCategory("")
	if err != nil || c != "" {
		t.Errorf("ParseCategory(\"\") = (%q, %v), want (\"\", nil)", c, err)
	}

	if _, err := ParseCategory("todo"); err == nil {
		t.Error("ParseCategory(todo) should fail")
	}
}

func TestCommitmentStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to CommitmentStatus
		want     bool
	}{
		{CommitmentActive, CommitmentCompleted, true},
		{CommitmentActive, CommitmentCancelled, true},
		{CommitmentCompleted, CommitmentActive, false},
		{CommitmentCompleted, CommitmentCancelled, false},
		{CommitmentCancelled, CommitmentActive, false},
		{CommitmentCancelled, CommitmentCompleted, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCommitmentValidate(t *testing.T) {
	now := time.Now()

	c := &Commitment{Status: CommitmentActive}
	if err := c.Validate(); err != nil {
		t.Errorf("active commitment should validate: %v", err)
	}

	// completed_at without completed status is an invariant violation.
	c = &Commitment{Status: CommitmentActive, CompletedAt: &now}
	if err := c.Validate(); err == nil {
		t.Error("active commitment with completed_at should fail validation")
	}

	// completed status without completed_at is too.
	c = &Commitment{Status: CommitmentCompleted}
	if err := c.Validate(); err == nil {
		t.Error("completed commitment without completed_at should fail validation")
	}

	c = &Commitment{Status: CommitmentCompleted, CompletedAt: &now}
	if err := c.Validate(); err != nil {
		t.Errorf("completed commitment with completed_at should validate: %v", err)
	}
}

func TestEntryActive(t *testing.T) {
	now := time.Now()

	e := &MemoryEntry{}
	if !e.Active() {
		t.Error("fresh entry should be active")
	}

	e = &MemoryEntry{DeletedAt: &now}
	if e.Active() {
		t.Error("soft-deleted entry should not be active")
	}

	e = &MemoryEntry{SupersededBy: "mem-2"}
	if e.Active() {
		t.Error("superseded entry should not be active")
	}

	e = &MemoryEntry{Archived: true}
	if e.Active() {
		t.Error("archived entry should not be active")
	}
}

func TestSnapshotExpired(t *testing.T) {
	now := time.Now()
	s := &ContextSnapshot{ExpiresAt: now.Add(time.Hour)}
	if s.Expired(now) {
		t.Error("snapshot before expiry should not be expired")
	}
	if !s.Expired(now.Add(time.Hour)) {
		t.Error("snapshot at expiry should be expired")
	}
}
