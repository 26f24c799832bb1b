package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptedCompleter replays canned replies in order; the last step repeats
// once the script runs out. Shared by classifier/minter/pipeline tests.
type scriptedCompleter struct {
	script []completion
	calls  int
	users  []string
}

type completion struct {
	text string
	err  error
}

func (s *scriptedCompleter) Complete(_ context.Context, _, user string) (string, error) {
	s.users = append(s.users, user)
	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++
	if len(s.script) == 0 {
		return "", errors.New("script exhausted")
	}
	step := s.script[i]
	return step.text, step.err
}

// fastPolicy retries without actually sleeping.
func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		Backoff:     func(int) time.Duration { return 0 },
		Sleep:       func(time.Duration) {},
	}
}

func TestGatewayRetriesUntilSuccess(t *testing.T) {
	c := &scriptedCompleter{script: []completion{
		{err: errors.New("boom")},
		{text: "   "},
		{text: "01;02"},
	}}
	g := NewGateway(c, fastPolicy(5), nil)

	got, err := g.Send(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got != "01;02" {
		t.Fatalf("Send = %q", got)
	}
	if c.calls != 3 {
		t.Fatalf("expected 3 attempts (error, empty reply, success), got %d", c.calls)
	}
}

func TestGatewayExhaustsRetryBudget(t *testing.T) {
	c := &scriptedCompleter{script: []completion{{err: errors.New("boom")}}}
	g := NewGateway(c, fastPolicy(3), nil)

	if _, err := g.Send(context.Background(), "sys", "user"); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if c.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", c.calls)
	}
}

func TestGatewayChecksStopBeforeAttempt(t *testing.T) {
	c := &scriptedCompleter{script: []completion{{text: "01"}}}
	g := NewGateway(c, fastPolicy(3), func() bool { return true })

	_, err := g.Send(context.Background(), "sys", "user")
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if c.calls != 0 {
		t.Fatalf("no completion call should run once stopped, got %d", c.calls)
	}
}

func TestGatewayChecksStopBeforeSleep(t *testing.T) {
	// The first attempt fails and trips the stop flag as a side effect; the
	// gateway must bail out before sleeping or retrying.
	stopped := false
	inner := &scriptedCompleter{script: []completion{{err: errors.New("transient")}}}
	policy := RetryPolicy{
		MaxAttempts: 5,
		Backoff:     func(int) time.Duration { return time.Hour },
		Sleep: func(time.Duration) {
			t.Fatal("must not sleep once the stop flag is set")
		},
	}
	g := NewGateway(completerFunc(func(ctx context.Context, system, user string) (string, error) {
		stopped = true
		return inner.Complete(ctx, system, user)
	}), policy, func() bool { return stopped })

	_, err := g.Send(context.Background(), "sys", "user")
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected a single attempt before stopping, got %d", inner.calls)
	}
}

// completerFunc adapts a function to the Completer interface.
type completerFunc func(ctx context.Context, system, user string) (string, error)

func (f completerFunc) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

func TestRetryPolicyPresets(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxAttempts != 5 || p.Backoff(1) != 10*time.Second || p.Backoff(4) != 10*time.Second {
		t.Fatalf("unexpected default policy: attempts=%d", p.MaxAttempts)
	}

	g := GeminiRetryPolicy()
	if g.MaxAttempts != 3 || g.Backoff(1) != 5*time.Second || g.Backoff(2) != 10*time.Second {
		t.Fatalf("unexpected gemini policy: attempts=%d", g.MaxAttempts)
	}
}
