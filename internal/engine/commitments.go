package engine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

// Default anchor hours for phrases that name a day but no time.
const (
	morningHour = 9
	eveningHour = 20
	endOfDay    = 18
)

// CommitmentService tracks promises: creation with relative due phrase
// parsing, surfacing, and one-way completion.
type CommitmentService struct {
	store         storage.CommitmentStore
	clock         Clock
	dueSoonWindow time.Duration
	logger        *slog.Logger
}

// NewCommitmentService builds the service. dueSoonWindow defaults to 48h.
func NewCommitmentService(store storage.CommitmentStore, clock Clock, dueSoonWindow time.Duration) *CommitmentService {
	if clock == nil {
		clock = SystemClock()
	}
	if dueSoonWindow <= 0 {
		dueSoonWindow = 48 * time.Hour
	}
	return &CommitmentService{
		store:         store,
		clock:         clock,
		dueSoonWindow: dueSoonWindow,
		logger:        slog.With("component", "commitments"),
	}
}

// Add creates a commitment. duePhrase is parsed relative to the current
// clock; an unrecognized phrase leaves the commitment undated rather
// than failing.
func (s *CommitmentService) Add(ctx context.Context, content, target, duePhrase string) (*types.Commitment, error) {
	c := &types.Commitment{
		ID:      uuid.NewString(),
		Content: strings.TrimSpace(content),
		Target:  strings.TrimSpace(target),
		Status:  types.CommitmentActive,
	}
	if duePhrase != "" {
		if due, ok := ParseDuePhrase(duePhrase, s.clock.Now()); ok {
			c.DueAt = &due
		} else {
			s.logger.Info("unparsed due phrase, commitment stored undated", "phrase", duePhrase)
		}
	}
	if err := s.store.InsertCommitment(ctx, c); err != nil {
		return nil, fmt.Errorf("add commitment: %w", err)
	}
	return c, nil
}

// ListActive returns all active commitments, dated first.
func (s *CommitmentService) ListActive(ctx context.Context) ([]types.Commitment, error) {
	return s.store.ListActiveCommitments(ctx)
}

// DueSoon returns active commitments due between now and now+window.
func (s *CommitmentService) DueSoon(ctx context.Context) ([]types.Commitment, error) {
	now := s.clock.Now()
	return s.store.ListCommitmentsDueBetween(ctx, now, now.Add(s.dueSoonWindow))
}

// Overdue returns active commitments whose due time has passed. Only raw
// timestamps are returned; how lateness is communicated is the caller's
// concern.
func (s *CommitmentService) Overdue(ctx context.Context) ([]types.Commitment, error) {
	return s.store.ListCommitmentsDueBetween(ctx, time.Unix(0, 0).UTC(), s.clock.Now())
}

// Complete marks a commitment done.
func (s *CommitmentService) Complete(ctx context.Context, id string) error {
	return s.store.TransitionCommitment(ctx, id, types.CommitmentCompleted, s.clock.Now())
}

// Cancel marks a commitment cancelled.
func (s *CommitmentService) Cancel(ctx context.Context, id string) error {
	return s.store.TransitionCommitment(ctx, id, types.CommitmentCancelled, s.clock.Now())
}

// RecordReminder bumps the reminder counter after a commitment has been
// surfaced to the user.
func (s *CommitmentService) RecordReminder(ctx context.Context, id string) error {
	return s.store.IncrementReminder(ctx, id)
}

var (
	inPattern       = regexp.MustCompile(`^in (\d+) (minutes?|hours?|days?|weeks?)$`)
	weekdayPattern  = regexp.MustCompile(`^(?:by |on |next )?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)$`)
	weekdayNames    = map[string]time.Weekday{"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday, "sunday": time.Sunday}
	nextWeekPattern = regexp.MustCompile(`^next week$`)
)

// ParseDuePhrase converts a relative time phrase into an absolute due
// time against the reference clock. The second return is false when the
// phrase is not recognized.
func ParseDuePhrase(phrase string, now time.Time) (time.Time, bool) {
	p := strings.ToLower(strings.TrimSpace(phrase))
	p = strings.TrimSuffix(p, ".")

	switch p {
	case "today", "by today", "by the end of the day", "by end of day", "eod":
		return atHour(now, endOfDay), true
	case "tonight", "this evening":
		return atHour(now, eveningHour), true
	case "tomorrow", "by tomorrow":
		return atHour(now.AddDate(0, 0, 1), morningHour), true
	case "tomorrow morning":
		return atHour(now.AddDate(0, 0, 1), morningHour), true
	case "tomorrow evening", "tomorrow night":
		return atHour(now.AddDate(0, 0, 1), eveningHour), true
	case "this weekend":
		return atHour(nextWeekday(now, time.Saturday), morningHour), true
	}

	if nextWeekPattern.MatchString(p) {
		return atHour(now.AddDate(0, 0, 7), morningHour), true
	}

	if m := inPattern.FindStringSubmatch(p); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return time.Time{}, false
		}
		switch strings.TrimSuffix(m[2], "s") {
		case "minute":
			return now.Add(time.Duration(n) * time.Minute), true
		case "hour":
			return now.Add(time.Duration(n) * time.Hour), true
		case "day":
			return atHour(now.AddDate(0, 0, n), morningHour), true
		case "week":
			return atHour(now.AddDate(0, 0, 7*n), morningHour), true
		}
	}

	if m := weekdayPattern.FindStringSubmatch(p); m != nil {
		return atHour(nextWeekday(now, weekdayNames[m[1]]), morningHour), true
	}

	return time.Time{}, false
}

// atHour pins t to the given hour of its day, UTC.
func atHour(t time.Time, hour int) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, time.UTC)
}

// nextWeekday returns the next occurrence of wd strictly after today.
func nextWeekday(now time.Time, wd time.Weekday) time.Time {
	days := (int(wd) - int(now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return now.AddDate(0, 0, days)
}
