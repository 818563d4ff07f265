package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

// SnapshotService captures working context at attention switches and
// serves it back on resume.
type SnapshotService struct {
	store      storage.SnapshotStore
	clock      Clock
	staleAfter time.Duration
	expiry     time.Duration
}

// NewSnapshotService builds the service. staleAfter defaults to 7 days,
// expiry to 30 days.
func NewSnapshotService(store storage.SnapshotStore, clock Clock, staleAfter, expiry time.Duration) *SnapshotService {
	if clock == nil {
		clock = SystemClock()
	}
	if staleAfter <= 0 {
		staleAfter = 7 * 24 * time.Hour
	}
	if expiry <= 0 {
		expiry = 30 * 24 * time.Hour
	}
	return &SnapshotService{store: store, clock: clock, staleAfter: staleAfter, expiry: expiry}
}

// CaptureRequest describes the working state to snapshot.
type CaptureRequest struct {
	Trigger    types.SnapshotTrigger
	Resource   string
	LastAction string
	NextStep   string
	Session    string
	Channel    string
}

// Capture stores a snapshot of the current working context.
func (s *SnapshotService) Capture(ctx context.Context, req CaptureRequest) (*types.ContextSnapshot, error) {
	now := s.clock.Now()
	snap := &types.ContextSnapshot{
		ID:         uuid.NewString(),
		Trigger:    req.Trigger,
		Resource:   req.Resource,
		LastAction: req.LastAction,
		NextStep:   req.NextStep,
		Session:    req.Session,
		Channel:    req.Channel,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.expiry),
	}
	if err := s.store.InsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}
	return snap, nil
}

// ResumedSnapshot is a snapshot plus its derived staleness. Staleness is
// computed at read time, never stored.
type ResumedSnapshot struct {
	Snapshot types.ContextSnapshot
	Stale    bool
}

// Resume returns the live snapshot for (session, channel), or
// storage.ErrNotFound when there is none.
func (s *SnapshotService) Resume(ctx context.Context, session, channel string) (*ResumedSnapshot, error) {
	now := s.clock.Now()
	snap, err := s.store.LatestSnapshot(ctx, session, channel, now)
	if err != nil {
		return nil, err
	}
	return &ResumedSnapshot{
		Snapshot: *snap,
		Stale:    now.Sub(snap.CreatedAt) > s.staleAfter,
	}, nil
}

// Prune removes expired snapshots and returns the number deleted.
func (s *SnapshotService) Prune(ctx context.Context) (int, error) {
	return s.store.PruneSnapshots(ctx, s.clock.Now())
}
