package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietloop/engram/pkg/types"
)

// Monday 2026-03-02 10:00 UTC.
var refNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestParseDuePhrase(t *testing.T) {
	cases := []struct {
		phrase string
		want   time.Time
	}{
		{"today", time.Date(2026, 3, 2, endOfDay, 0, 0, 0, time.UTC)},
		{"tonight", time.Date(2026, 3, 2, eveningHour, 0, 0, 0, time.UTC)},
		{"tomorrow", time.Date(2026, 3, 3, morningHour, 0, 0, 0, time.UTC)},
		{"Tomorrow evening", time.Date(2026, 3, 3, eveningHour, 0, 0, 0, time.UTC)},
		{"next week", time.Date(2026, 3, 9, morningHour, 0, 0, 0, time.UTC)},
		{"in 3 days", time.Date(2026, 3, 5, morningHour, 0, 0, 0, time.UTC)},
		{"in 2 hours", refNow.Add(2 * time.Hour)},
		{"in 45 minutes", refNow.Add(45 * time.Minute)},
		{"by Friday", time.Date(2026, 3, 6, morningHour, 0, 0, 0, time.UTC)},
		{"on wednesday", time.Date(2026, 3, 4, morningHour, 0, 0, 0, time.UTC)},
		// Reference day is Monday: "monday" means next Monday, not today.
		{"monday", time.Date(2026, 3, 9, morningHour, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, ok := ParseDuePhrase(tc.phrase, refNow)
		require.True(t, ok, "phrase %q should parse", tc.phrase)
		assert.Equal(t, tc.want, got, "phrase %q", tc.phrase)
	}
}

func TestParseDuePhraseUnrecognized(t *testing.T) {
	for _, phrase := range []string{"whenever", "soonish", "in a bit", ""} {
		_, ok := ParseDuePhrase(phrase, refNow)
		assert.False(t, ok, "phrase %q should not parse", phrase)
	}
}

func TestCommitmentRoundTrip(t *testing.T) {
	store := newEngineStore(t)
	clock := newFakeClock(refNow)
	svc := NewCommitmentService(store, clock, 48*time.Hour)
	ctx := context.Background()

	c, err := svc.Add(ctx, "send Sarah the report", "Sarah", "tomorrow")
	require.NoError(t, err)
	require.NotNil(t, c.DueAt)

	// Due tomorrow morning: inside the 48h window.
	due, err := svc.DueSoon(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, c.ID, due[0].ID)

	overdue, err := svc.Overdue(ctx)
	require.NoError(t, err)
	assert.Empty(t, overdue)

	// Two days later it is overdue, not due soon.
	clock.Advance(48 * time.Hour)
	due, err = svc.DueSoon(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)
	overdue, err = svc.Overdue(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1)

	require.NoError(t, svc.Complete(ctx, c.ID))
	overdue, err = svc.Overdue(ctx)
	require.NoError(t, err)
	assert.Empty(t, overdue, "completed commitments never resurface")

	got, err := store.GetCommitment(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CommitmentCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(clock.Now()), "CompletedAt should match the clock")
}

func TestCommitmentUnparsedPhraseStoredUndated(t *testing.T) {
	store := newEngineStore(t)
	svc := NewCommitmentService(store, newFakeClock(refNow), 0)
	ctx := context.Background()

	c, err := svc.Add(ctx, "call mom", "", "whenever I get a chance")
	require.NoError(t, err)
	assert.Nil(t, c.DueAt)

	active, err := svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestCommitmentReminderCount(t *testing.T) {
	store := newEngineStore(t)
	svc := NewCommitmentService(store, newFakeClock(refNow), 0)
	ctx := context.Background()

	c, err := svc.Add(ctx, "book dentist", "", "")
	require.NoError(t, err)
	require.NoError(t, svc.RecordReminder(ctx, c.ID))
	require.NoError(t, svc.RecordReminder(ctx, c.ID))

	got, err := store.GetCommitment(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ReminderCount)
}
