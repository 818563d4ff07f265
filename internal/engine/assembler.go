package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

// charsPerToken is the flat token estimate used for budgeting. Exact
// tokenizer parity is not worth a dependency here; the budget is a
// ceiling, not a contract.
const charsPerToken = 4

// Section priorities for over-budget truncation, lowest cut first.
const (
	sectionSession     = "session"
	sectionMemories    = "memories"
	sectionCommitments = "commitments"
	sectionProfile     = "profile"
)

var truncationOrder = []string{sectionSession, sectionMemories, sectionCommitments, sectionProfile}

// AssembleRequest identifies the conversation asking for context.
type AssembleRequest struct {
	Session string
	Channel string

	// Query is the current message, used to retrieve relevant memories.
	// Empty means recent memories are used instead.
	Query string
}

// ContextBlock is the assembled L1 context for a conversation turn.
type ContextBlock struct {
	Text      string
	ElapsedMS int64

	// Truncated is true when content was cut for the token budget or a
	// section missed the latency deadline.
	Truncated bool
}

// Assembler builds the bounded context block injected ahead of each
// conversation turn. It never fails the turn: whatever completed within
// the deadline is returned.
type Assembler struct {
	store       storage.Store
	searcher    *Searcher
	commitments *CommitmentService
	snapshots   *SnapshotService
	clock       Clock
	tokenBudget int
	timeout     time.Duration
	logger      *slog.Logger
}

// NewAssembler builds an assembler. tokenBudget defaults to 1000, the
// latency budget to 200ms.
func NewAssembler(store storage.Store, searcher *Searcher, commitments *CommitmentService, snapshots *SnapshotService, clock Clock, tokenBudget int, timeout time.Duration) *Assembler {
	if clock == nil {
		clock = SystemClock()
	}
	if tokenBudget < 1 {
		tokenBudget = 1000
	}
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &Assembler{
		store:       store,
		searcher:    searcher,
		commitments: commitments,
		snapshots:   snapshots,
		clock:       clock,
		tokenBudget: tokenBudget,
		timeout:     timeout,
		logger:      slog.With("component", "assembler"),
	}
}

// Assemble gathers the four context sections in parallel under the
// latency budget and renders them within the token budget.
func (a *Assembler) Assemble(ctx context.Context, req AssembleRequest) ContextBlock {
	start := time.Now()
	deadlineCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		sections = map[string]string{}
		missed   bool
	)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text := fn(deadlineCtx)
			mu.Lock()
			sections[name] = text
			mu.Unlock()
		}()
	}

	run(sectionProfile, a.profileSection)
	run(sectionCommitments, a.commitmentSection)
	run(sectionMemories, func(c context.Context) string { return a.memorySection(c, req.Query) })
	run(sectionSession, func(c context.Context) string { return a.sessionSection(c, req.Session, req.Channel) })

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-deadlineCtx.Done():
		missed = true
	}

	mu.Lock()
	block, cut := a.render(sections)
	mu.Unlock()

	return ContextBlock{
		Text:      block,
		ElapsedMS: time.Since(start).Milliseconds(),
		Truncated: cut || missed,
	}
}

// render joins the sections in display order and trims to the token
// budget, cutting lowest-priority content first.
func (a *Assembler) render(sections map[string]string) (string, bool) {
	budget := a.tokenBudget * charsPerToken
	total := 0
	for _, text := range sections {
		total += len(text)
	}

	truncated := false
	for _, name := range truncationOrder {
		if total <= budget {
			break
		}
		text := sections[name]
		if text == "" {
			continue
		}
		over := total - budget
		if over >= len(text) {
			total -= len(text)
			sections[name] = ""
		} else {
			// Back off to a rune boundary so the cut never emits a
			// partial UTF-8 sequence.
			keep := len(text) - over
			for keep > 0 && !utf8.RuneStart(text[keep]) {
				keep--
			}
			sections[name] = text[:keep]
			total -= len(text) - keep
		}
		truncated = true
	}

	var b strings.Builder
	for _, name := range []string{sectionProfile, sectionCommitments, sectionMemories, sectionSession} {
		text := sections[name]
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(text)
	}
	return b.String(), truncated
}

func (a *Assembler) profileSection(ctx context.Context) string {
	var lines []string
	for _, category := range []types.Category{types.CategoryPreference, types.CategoryFact, types.CategoryRelationship} {
		page, err := a.store.List(ctx, storage.ListOptions{Category: string(category), Limit: 5})
		if err != nil {
			a.logger.Warn("profile section degraded", "category", category, "error", err)
			continue
		}
		for _, entry := range page.Items {
			if entry.Importance >= 0.5 {
				lines = append(lines, "- "+entry.Content)
			}
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "## About\n" + strings.Join(lines, "\n") + "\n"
}

func (a *Assembler) commitmentSection(ctx context.Context) string {
	var lines []string

	overdue, err := a.commitments.Overdue(ctx)
	if err != nil {
		a.logger.Warn("commitment section degraded", "error", err)
	}
	for _, c := range overdue {
		lines = append(lines, fmt.Sprintf("- [overdue] %s (due %s)", c.Content, c.DueAt.Format("Mon Jan 2 15:04")))
	}

	dueSoon, err := a.commitments.DueSoon(ctx)
	if err != nil {
		a.logger.Warn("commitment section degraded", "error", err)
	}
	for _, c := range dueSoon {
		lines = append(lines, fmt.Sprintf("- %s (due %s)", c.Content, c.DueAt.Format("Mon Jan 2 15:04")))
	}

	if len(lines) == 0 {
		return ""
	}
	return "## Commitments\n" + strings.Join(lines, "\n") + "\n"
}

func (a *Assembler) memorySection(ctx context.Context, query string) string {
	var lines []string
	if strings.TrimSpace(query) != "" {
		results, err := a.searcher.Search(ctx, SearchOptions{Query: query, Limit: 5})
		if err != nil {
			a.logger.Warn("memory section degraded", "error", err)
		}
		for _, r := range results {
			lines = append(lines, "- "+r.Entry.Content)
		}
	}
	if len(lines) == 0 {
		page, err := a.store.List(ctx, storage.ListOptions{Limit: 5})
		if err != nil {
			a.logger.Warn("memory section degraded", "error", err)
			return ""
		}
		for _, entry := range page.Items {
			lines = append(lines, "- "+entry.Content)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Relevant memory\n" + strings.Join(lines, "\n") + "\n"
}

func (a *Assembler) sessionSection(ctx context.Context, session, channel string) string {
	if session == "" {
		return ""
	}
	resumed, err := a.snapshots.Resume(ctx, session, channel)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.logger.Warn("session section degraded", "error", err)
		}
		return ""
	}

	var b strings.Builder
	b.WriteString("## Where you left off\n")
	if resumed.Stale {
		b.WriteString("(this was a while ago)\n")
	}
	snap := resumed.Snapshot
	if snap.Resource != "" {
		b.WriteString("- Working on: " + snap.Resource + "\n")
	}
	if snap.LastAction != "" {
		b.WriteString("- Last action: " + snap.LastAction + "\n")
	}
	if snap.NextStep != "" {
		b.WriteString("- Next step: " + snap.NextStep + "\n")
	}
	return b.String()
}
