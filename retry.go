package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// ErrStopped reports that the cooperative stop flag was set; callers unwind
// cleanly and return partial results instead of raising.
var ErrStopped = errors.New("processing stopped")

// errEmptyReply marks a completion attempt that returned no usable text.
var errEmptyReply = errors.New("empty completion reply")

// RetryPolicy describes how the gateway retries a failing completion call.
// Backoff receives the 1-based attempt number that just failed. Sleep and
// Now are injectable so tests can run with a fake clock.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Sleep       func(d time.Duration)
}

// DefaultRetryPolicy matches the primary provider behavior: 5 attempts with
// a fixed 10 second pause between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff:     func(int) time.Duration { return 10 * time.Second },
	}
}

// GeminiRetryPolicy matches the Gemini client behavior: 3 attempts with a
// linearly growing pause (5s, 10s).
func GeminiRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     func(attempt int) time.Duration { return time.Duration(attempt) * 5 * time.Second },
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 5
	}
	if p.Backoff == nil {
		p.Backoff = func(int) time.Duration { return 10 * time.Second }
	}
	if p.Sleep == nil {
		p.Sleep = time.Sleep
	}
	return p
}

// Gateway is the single-call abstraction over the completion service. It
// retries transient failures per its policy and checks the stop predicate
// before every attempt and before every backoff sleep.
type Gateway struct {
	completer Completer
	policy    RetryPolicy
	stopped   func() bool
}

func NewGateway(completer Completer, policy RetryPolicy, stopped func() bool) *Gateway {
	if stopped == nil {
		stopped = func() bool { return false }
	}
	return &Gateway{completer: completer, policy: policy.withDefaults(), stopped: stopped}
}

// Send performs one logical completion with retries. It returns ErrStopped
// as soon as the stop predicate trips, and the last attempt error once the
// retry budget is spent. An empty reply counts as a failed attempt.
func (g *Gateway) Send(ctx context.Context, system, user string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		if g.stopped() {
			return "", ErrStopped
		}

		text, err := g.completer.Complete(ctx, system, user)
		if err == nil && strings.TrimSpace(text) == "" {
			err = errEmptyReply
		}
		if err == nil {
			return text, nil
		}
		lastErr = err
		log.Printf("llm request failed attempt=%d/%d err=%v", attempt, g.policy.MaxAttempts, err)

		if attempt == g.policy.MaxAttempts {
			break
		}
		if g.stopped() {
			return "", ErrStopped
		}
		g.policy.Sleep(g.policy.Backoff(attempt))
	}
	return "", fmt.Errorf("completion failed after %d attempts: %w", g.policy.MaxAttempts, lastErr)
}
