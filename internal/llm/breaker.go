package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/quietloop/engram/pkg/types"
)

// BreakerConfig tunes the circuit breaker around provider calls.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that trips the
	// circuit (default 3).
	MaxFailures uint32

	// OpenTimeout is how long the circuit stays open before allowing
	// probes (default 30s).
	OpenTimeout time.Duration

	// HalfOpenProbes is how many probe requests may pass in half-open
	// state (default 2).
	HalfOpenProbes uint32
}

func (c *BreakerConfig) normalize() {
	if c.MaxFailures == 0 {
		c.MaxFailures = 3
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenProbes == 0 {
		c.HalfOpenProbes = 2
	}
}

// BreakerClient wraps a Client with a shared circuit breaker. Once the
// provider fails repeatedly, further calls short-circuit to
// ErrUnavailable instead of waiting on timeouts, which keeps the ingest
// and search paths inside their latency budgets.
type BreakerClient struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerClient wraps inner with a circuit breaker.
func NewBreakerClient(inner Client, cfg BreakerConfig) *BreakerClient {
	cfg.normalize()

	settings := gobreaker.Settings{
		Name:        "llm",
		MaxRequests: cfg.HalfOpenProbes,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("llm circuit state change", "from", from.String(), "to", to.String())
		},
	}

	return &BreakerClient{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// State reports the breaker state: closed, open, or half-open.
func (b *BreakerClient) State() string {
	switch b.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Extract passes through the breaker.
func (b *BreakerClient) Extract(ctx context.Context, excerpt string) ([]types.ExtractedCandidate, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.Extract(ctx, excerpt)
	})
	if err != nil {
		return nil, err
	}
	candidates, _ := result.([]types.ExtractedCandidate)
	return candidates, nil
}

// Summarize passes through the breaker.
func (b *BreakerClient) Summarize(ctx context.Context, contents []string) (string, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.Summarize(ctx, contents)
	})
	if err != nil {
		return "", err
	}
	summary, _ := result.(string)
	return summary, nil
}

// Embed passes through the breaker.
func (b *BreakerClient) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	vec, _ := result.([]float32)
	return vec, nil
}

func (b *BreakerClient) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := b.breaker.Execute(func() (interface{}, error) {
		out, callErr := fn()
		// Parse failures are the provider misbehaving, not being down.
		// They must not trip the circuit.
		if errors.Is(callErr, ErrBadResponse) {
			return badResponse{out: out, err: callErr}, nil
		}
		return out, callErr
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}
	if br, ok := result.(badResponse); ok {
		return br.out, br.err
	}
	return result, nil
}

type badResponse struct {
	out interface{}
	err error
}
