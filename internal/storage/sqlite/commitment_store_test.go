package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

func newTestCommitment(content string, due *time.Time) *types.Commitment {
	return &types.Commitment{
		ID:      uuid.NewString(),
		Content: content,
		Status:  types.CommitmentActive,
		DueAt:   due,
	}
}

func TestCommitmentDueWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	tomorrow := now.Add(24 * time.Hour)
	nextMonth := now.Add(30 * 24 * time.Hour)

	soon := newTestCommitment("send Sarah the report", &tomorrow)
	if err := store.InsertCommitment(ctx, soon); err != nil {
		t.Fatalf("InsertCommitment() failed: %v", err)
	}
	far := newTestCommitment("renew passport", &nextMonth)
	if err := store.InsertCommitment(ctx, far); err != nil {
		t.Fatalf("InsertCommitment() failed: %v", err)
	}
	undated := newTestCommitment("call mom sometime", nil)
	if err := store.InsertCommitment(ctx, undated); err != nil {
		t.Fatalf("InsertCommitment() failed: %v", err)
	}

	due, err := store.ListCommitmentsDueBetween(ctx, now, now.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("ListCommitmentsDueBetween() failed: %v", err)
	}
	if len(due) != 1 || due[0].ID != soon.ID {
		t.Fatalf("due window: got %d commitments, want only the near one", len(due))
	}

	active, err := store.ListActiveCommitments(ctx)
	if err != nil {
		t.Fatalf("ListActiveCommitments() failed: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("active: got %d, want 3", len(active))
	}
	// Dated commitments sort first, undated last.
	if active[len(active)-1].ID != undated.ID {
		t.Error("undated commitment should sort last")
	}
}

func TestCommitmentTransitionOneWay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	c := newTestCommitment("finish expense report", nil)
	if err := store.InsertCommitment(ctx, c); err != nil {
		t.Fatalf("InsertCommitment() failed: %v", err)
	}

	if err := store.TransitionCommitment(ctx, c.ID, types.CommitmentCompleted, now); err != nil {
		t.Fatalf("TransitionCommitment() failed: %v", err)
	}

	got, err := store.GetCommitment(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCommitment() failed: %v", err)
	}
	if got.Status != types.CommitmentCompleted {
		t.Errorf("Status: got %q, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt must be set when completed")
	}
	if err := got.Validate(); err != nil {
		t.Errorf("stored commitment violates invariant: %v", err)
	}

	// Completing is irreversible: a second transition conflicts.
	err = store.TransitionCommitment(ctx, c.ID, types.CommitmentCancelled, now)
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("got %v, want ErrConflict", err)
	}

	active, err := store.ListActiveCommitments(ctx)
	if err != nil {
		t.Fatalf("ListActiveCommitments() failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("completed commitment still listed active")
	}
}

func TestCommitmentTransitionRejectsActiveTarget(t *testing.T) {
	store := newTestStore(t)
	c := newTestCommitment("water the plants", nil)
	if err := store.InsertCommitment(context.Background(), c); err != nil {
		t.Fatalf("InsertCommitment() failed: %v", err)
	}
	err := store.TransitionCommitment(context.Background(), c.ID, types.CommitmentActive, time.Now())
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("got %v, want ErrInvalidInput", err)
	}
}

func TestIncrementReminder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := newTestCommitment("book dentist", nil)
	if err := store.InsertCommitment(ctx, c); err != nil {
		t.Fatalf("InsertCommitment() failed: %v", err)
	}
	if err := store.IncrementReminder(ctx, c.ID); err != nil {
		t.Fatalf("IncrementReminder() failed: %v", err)
	}
	got, _ := store.GetCommitment(ctx, c.ID)
	if got.ReminderCount != 1 {
		t.Errorf("ReminderCount: got %d, want 1", got.ReminderCount)
	}
}

func TestSnapshotLatestAndPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	older := &types.ContextSnapshot{
		ID:        uuid.NewString(),
		Trigger:   types.TriggerSwitch,
		Resource:  "doc:quarterly-review",
		Session:   "sess-1",
		Channel:   "telegram",
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(24 * time.Hour),
	}
	if err := store.InsertSnapshot(ctx, older); err != nil {
		t.Fatalf("InsertSnapshot() failed: %v", err)
	}

	newer := &types.ContextSnapshot{
		ID:         uuid.NewString(),
		Trigger:    types.TriggerTimeout,
		Resource:   "doc:budget",
		LastAction: "was editing the intro",
		NextStep:   "fill in Q3 numbers",
		Session:    "sess-1",
		Channel:    "telegram",
		CreatedAt:  now.Add(-time.Hour),
		ExpiresAt:  now.Add(24 * time.Hour),
	}
	if err := store.InsertSnapshot(ctx, newer); err != nil {
		t.Fatalf("InsertSnapshot() failed: %v", err)
	}

	got, err := store.LatestSnapshot(ctx, "sess-1", "telegram", now)
	if err != nil {
		t.Fatalf("LatestSnapshot() failed: %v", err)
	}
	if got.ID != newer.ID {
		t.Errorf("got snapshot %s, want the most recent %s", got.ID, newer.ID)
	}

	// Different channel: nothing live.
	if _, err := store.LatestSnapshot(ctx, "sess-1", "slack", now); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound for other channel", err)
	}

	// Expired snapshots are invisible and prunable.
	expired := &types.ContextSnapshot{
		ID:        uuid.NewString(),
		Trigger:   types.TriggerManual,
		Session:   "sess-2",
		Channel:   "telegram",
		CreatedAt: now.Add(-48 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	if err := store.InsertSnapshot(ctx, expired); err != nil {
		t.Fatalf("InsertSnapshot() failed: %v", err)
	}
	if _, err := store.LatestSnapshot(ctx, "sess-2", "telegram", now); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expired snapshot should not be live, got %v", err)
	}
	pruned, err := store.PruneSnapshots(ctx, now)
	if err != nil {
		t.Fatalf("PruneSnapshots() failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned: got %d, want 1", pruned)
	}
}

func TestInsightRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	runID := ulid.Make().String()
	ins := &types.ConsolidatedInsight{
		ID:        uuid.NewString(),
		RunID:     runID,
		SourceIDs: []string{"a", "b", "c"},
		Summary:   "three related meetings about the same project",
	}
	if err := store.InsertInsight(ctx, ins); err != nil {
		t.Fatalf("InsertInsight() failed: %v", err)
	}

	byRun, err := store.ListInsightsByRun(ctx, runID)
	if err != nil {
		t.Fatalf("ListInsightsByRun() failed: %v", err)
	}
	if len(byRun) != 1 {
		t.Fatalf("got %d insights, want 1", len(byRun))
	}
	if len(byRun[0].SourceIDs) != 3 {
		t.Errorf("SourceIDs: got %v, want 3 ids", byRun[0].SourceIDs)
	}
}

func TestAccessLogAppend(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &types.AccessLogEntry{
		ID:      ulid.Make().String(),
		EntryID: "some-entry",
		Op:      types.AccessSearch,
		Latency: 1500 * time.Microsecond,
	}
	if err := store.LogAccess(ctx, rec); err != nil {
		t.Fatalf("LogAccess() failed: %v", err)
	}

	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM access_log`).Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("access_log rows: got %d, want 1", count)
	}
}
