package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

func TestSnapshotCaptureAndResume(t *testing.T) {
	store := newEngineStore(t)
	clock := newFakeClock(refNow)
	svc := NewSnapshotService(store, clock, 7*24*time.Hour, 30*24*time.Hour)
	ctx := context.Background()

	_, err := svc.Capture(ctx, CaptureRequest{
		Trigger:    types.TriggerSwitch,
		Resource:   "budget spreadsheet",
		LastAction: "filled in Q1 numbers",
		NextStep:   "reconcile Q2",
		Session:    "s1",
		Channel:    "telegram",
	})
	require.NoError(t, err)

	resumed, err := svc.Resume(ctx, "s1", "telegram")
	require.NoError(t, err)
	assert.Equal(t, "budget spreadsheet", resumed.Snapshot.Resource)
	assert.Equal(t, "reconcile Q2", resumed.Snapshot.NextStep)
	assert.False(t, resumed.Stale)
}

func TestSnapshotResumeReturnsLatest(t *testing.T) {
	store := newEngineStore(t)
	clock := newFakeClock(refNow)
	svc := NewSnapshotService(store, clock, 0, 0)
	ctx := context.Background()

	_, err := svc.Capture(ctx, CaptureRequest{Trigger: types.TriggerSwitch, Resource: "first", Session: "s1", Channel: "cli"})
	require.NoError(t, err)
	clock.Advance(time.Hour)
	_, err = svc.Capture(ctx, CaptureRequest{Trigger: types.TriggerTimeout, Resource: "second", Session: "s1", Channel: "cli"})
	require.NoError(t, err)

	resumed, err := svc.Resume(ctx, "s1", "cli")
	require.NoError(t, err)
	assert.Equal(t, "second", resumed.Snapshot.Resource)
}

func TestSnapshotStalenessDerivedAtReadTime(t *testing.T) {
	store := newEngineStore(t)
	clock := newFakeClock(refNow)
	svc := NewSnapshotService(store, clock, 7*24*time.Hour, 30*24*time.Hour)
	ctx := context.Background()

	_, err := svc.Capture(ctx, CaptureRequest{Trigger: types.TriggerManual, Resource: "garden plan", Session: "s1", Channel: "cli"})
	require.NoError(t, err)

	clock.Advance(8 * 24 * time.Hour)
	resumed, err := svc.Resume(ctx, "s1", "cli")
	require.NoError(t, err)
	assert.True(t, resumed.Stale)
}

func TestSnapshotExpiry(t *testing.T) {
	store := newEngineStore(t)
	clock := newFakeClock(refNow)
	svc := NewSnapshotService(store, clock, 7*24*time.Hour, 30*24*time.Hour)
	ctx := context.Background()

	_, err := svc.Capture(ctx, CaptureRequest{Trigger: types.TriggerSwitch, Resource: "old work", Session: "s1", Channel: "cli"})
	require.NoError(t, err)

	clock.Advance(31 * 24 * time.Hour)
	_, err = svc.Resume(ctx, "s1", "cli")
	assert.ErrorIs(t, err, storage.ErrNotFound, "expired snapshots never resume")

	pruned, err := svc.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
}

func TestSnapshotResumeUnknownSession(t *testing.T) {
	store := newEngineStore(t)
	svc := NewSnapshotService(store, newFakeClock(refNow), 0, 0)

	_, err := svc.Resume(context.Background(), "nope", "cli")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
