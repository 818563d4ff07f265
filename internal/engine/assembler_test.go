package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietloop/engram/internal/storage/sqlite"
	"github.com/quietloop/engram/pkg/types"
)

func newTestAssembler(t *testing.T, clock Clock, tokenBudget int) (*Assembler, *sqlite.Store) {
	t.Helper()
	store := newEngineStore(t)
	stub := newStubLLM()
	stub.embedErr = errors.New("embedding offline")
	searcher := NewSearcher(store, stub, SearcherConfig{})
	commitments := NewCommitmentService(store, clock, 48*time.Hour)
	snapshots := NewSnapshotService(store, clock, 0, 0)
	asm := NewAssembler(store, searcher, commitments, snapshots, clock, tokenBudget, time.Second)
	return asm, store
}

func TestAssembleIncludesAllSections(t *testing.T) {
	clock := newFakeClock(refNow)
	asm, store := newTestAssembler(t, clock, 0)
	ctx := context.Background()

	insertEntry(t, store, types.CategoryPreference, "prefers async standups over meetings", 0.8)
	insertEntry(t, store, types.CategoryFact, "works at Globex as a platform engineer", 0.7)

	commitments := NewCommitmentService(store, clock, 48*time.Hour)
	_, err := commitments.Add(ctx, "send Sarah the report", "Sarah", "tomorrow")
	require.NoError(t, err)

	snapshots := NewSnapshotService(store, clock, 0, 0)
	_, err = snapshots.Capture(ctx, CaptureRequest{
		Trigger:    types.TriggerSwitch,
		Resource:   "quarterly report draft",
		LastAction: "finished the revenue section",
		NextStep:   "write the summary",
		Session:    "s1",
		Channel:    "telegram",
	})
	require.NoError(t, err)

	block := asm.Assemble(ctx, AssembleRequest{Session: "s1", Channel: "telegram", Query: "report"})
	assert.False(t, block.Truncated)
	assert.Contains(t, block.Text, "## About")
	assert.Contains(t, block.Text, "async standups")
	assert.Contains(t, block.Text, "## Commitments")
	assert.Contains(t, block.Text, "send Sarah the report")
	assert.Contains(t, block.Text, "## Relevant memory")
	assert.Contains(t, block.Text, "## Where you left off")
	assert.Contains(t, block.Text, "write the summary")
}

func TestAssembleBudgetCutsSessionBeforeProfile(t *testing.T) {
	clock := newFakeClock(refNow)
	// 50 tokens, 200 chars.
	asm, store := newTestAssembler(t, clock, 50)
	ctx := context.Background()

	insertEntry(t, store, types.CategoryPreference, "prefers tea", 0.8)
	// Low importance keeps this out of the profile section; it pads the
	// memory section well past the budget.
	insertEntry(t, store, types.CategoryEvent, strings.Repeat("rambling meeting notes ", 15), 0.3)

	snapshots := NewSnapshotService(store, clock, 0, 0)
	_, err := snapshots.Capture(ctx, CaptureRequest{
		Trigger:    types.TriggerSwitch,
		Resource:   strings.Repeat("long resource name ", 30),
		LastAction: strings.Repeat("long action detail ", 30),
		Session:    "s1",
		Channel:    "telegram",
	})
	require.NoError(t, err)

	block := asm.Assemble(ctx, AssembleRequest{Session: "s1", Channel: "telegram"})
	assert.True(t, block.Truncated)
	assert.Contains(t, block.Text, "## About", "high-priority section survives")
	assert.NotContains(t, block.Text, "## Where you left off", "session is cut first")
	assert.LessOrEqual(t, len(block.Text), 50*charsPerToken+3)
}

func TestAssembleTruncatesOnRuneBoundary(t *testing.T) {
	clock := newFakeClock(refNow)
	// 25 tokens, 100 chars: the cut lands inside the run of two-byte
	// runes below.
	asm, store := newTestAssembler(t, clock, 25)
	ctx := context.Background()

	insertEntry(t, store, types.CategoryEvent, strings.Repeat("é", 200), 0.3)

	block := asm.Assemble(ctx, AssembleRequest{})
	assert.True(t, block.Truncated)
	assert.True(t, strings.HasPrefix(block.Text, "## Relevant memory"))
	assert.True(t, utf8.ValidString(block.Text), "truncation must not split a rune")
	assert.LessOrEqual(t, len(block.Text), 25*charsPerToken)
}

func TestAssembleOverdueCommitmentTagged(t *testing.T) {
	clock := newFakeClock(refNow)
	asm, store := newTestAssembler(t, clock, 0)
	ctx := context.Background()

	commitments := NewCommitmentService(store, clock, 48*time.Hour)
	_, err := commitments.Add(ctx, "book the dentist", "", "today")
	require.NoError(t, err)
	clock.Advance(24 * time.Hour)

	block := asm.Assemble(ctx, AssembleRequest{})
	assert.Contains(t, block.Text, "[overdue] book the dentist")
}

func TestAssembleEmptyStoreYieldsEmptyBlock(t *testing.T) {
	asm, _ := newTestAssembler(t, newFakeClock(refNow), 0)

	block := asm.Assemble(context.Background(), AssembleRequest{Session: "none", Channel: "cli"})
	assert.Empty(t, block.Text)
	assert.False(t, block.Truncated)
}
