package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/quietloop/engram/pkg/types"
)

func TestParseCandidates(t *testing.T) {
	raw := `[
		{"category": "preference", "content": "Prefers oat milk in coffee.", "importance": 0.4},
		{"category": "commitment", "content": "Will send Sarah the report.", "target": "Sarah", "due_phrase": "tomorrow", "importance": 0.8}
	]`
	candidates, err := parseCandidates(raw)
	if err != nil {
		t.Fatalf("parseCandidates() failed: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(candidates))
	}
	if candidates[0].Category != types.CategoryPreference {
		t.Errorf("category: got %q", candidates[0].Category)
	}
	if candidates[1].Target != "Sarah" || candidates[1].DuePhrase != "tomorrow" {
		t.Errorf("commitment fields not carried: %+v", candidates[1])
	}
}

func TestParseCandidatesToleratesFences(t *testing.T) {
	raw := "```json\n[{\"category\": \"fact\", \"content\": \"Works at Globex.\", \"importance\": 0.5}]\n```"
	candidates, err := parseCandidates(raw)
	if err != nil {
		t.Fatalf("parseCandidates() failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Content != "Works at Globex." {
		t.Errorf("got %+v", candidates)
	}
}

func TestParseCandidatesSkipsBadElements(t *testing.T) {
	raw := `[
		{"category": "mood", "content": "feeling tired"},
		{"category": "fact", "content": ""},
		{"category": "fact", "content": "Lives in Denver.", "importance": 1.7}
	]`
	candidates, err := parseCandidates(raw)
	if err != nil {
		t.Fatalf("parseCandidates() failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1 (bad elements skipped)", len(candidates))
	}
	if candidates[0].Importance != 1.0 {
		t.Errorf("importance should clamp to 1.0, got %f", candidates[0].Importance)
	}
}

func TestParseCandidatesRejectsProse(t *testing.T) {
	if _, err := parseCandidates("I could not find anything to extract."); !errors.Is(err, ErrBadResponse) {
		t.Errorf("got %v, want ErrBadResponse", err)
	}
}

// fakeClient fails a fixed number of times before succeeding.
type fakeClient struct {
	failures int
	calls    int
}

func (f *fakeClient) Extract(ctx context.Context, excerpt string) ([]types.ExtractedCandidate, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("%w: connection refused", ErrUnavailable)
	}
	return []types.ExtractedCandidate{{Category: types.CategoryFact, Content: excerpt}}, nil
}

func (f *fakeClient) Summarize(ctx context.Context, contents []string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", fmt.Errorf("%w: connection refused", ErrUnavailable)
	}
	return "a summary", nil
}

func (f *fakeClient) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("%w: connection refused", ErrUnavailable)
	}
	return []float32{1, 0}, nil
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &fakeClient{failures: 100}
	client := NewBreakerClient(inner, BreakerConfig{MaxFailures: 3, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := client.Extract(ctx, "hello"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if client.State() != "open" {
		t.Fatalf("state: got %q, want open", client.State())
	}

	// Open circuit short-circuits without touching the provider.
	before := inner.calls
	_, err := client.Extract(ctx, "hello")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
	if inner.calls != before {
		t.Error("open circuit must not call the provider")
	}
}

func TestBreakerRecovers(t *testing.T) {
	inner := &fakeClient{failures: 3}
	client := NewBreakerClient(inner, BreakerConfig{
		MaxFailures: 3, OpenTimeout: 10 * time.Millisecond, HalfOpenProbes: 2,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = client.Embed(ctx, "text")
	}
	if client.State() != "open" {
		t.Fatalf("state: got %q, want open", client.State())
	}

	time.Sleep(20 * time.Millisecond)
	vec, err := client.Embed(ctx, "text")
	if err != nil {
		t.Fatalf("half-open probe should succeed: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("got %v", vec)
	}
}

func TestBreakerIgnoresParseFailures(t *testing.T) {
	bad := &badResponseClient{}
	client := NewBreakerClient(bad, BreakerConfig{MaxFailures: 2})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := client.Extract(ctx, "x"); !errors.Is(err, ErrBadResponse) {
			t.Fatalf("got %v, want ErrBadResponse", err)
		}
	}
	if client.State() != "closed" {
		t.Errorf("parse failures should not trip the circuit, state %q", client.State())
	}
}

type badResponseClient struct{}

func (badResponseClient) Extract(context.Context, string) ([]types.ExtractedCandidate, error) {
	return nil, ErrBadResponse
}
func (badResponseClient) Summarize(context.Context, []string) (string, error) {
	return "", ErrBadResponse
}
func (badResponseClient) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrBadResponse
}
