package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errRedisDown = errors.New("redis: connection refused")

func TestBreakerOpensAndRecovers(t *testing.T) {
	var transitions []State
	b := NewBreaker("redis-cache", BreakerConfig{
		Threshold: 2,
		Cooldown:  20 * time.Millisecond,
		OnChange: func(name string, to State) {
			if name != "redis-cache" {
				t.Errorf("name = %q", name)
			}
			transitions = append(transitions, to)
		},
	})
	fail := func() error { return errRedisDown }
	for i := 0; i < 2; i++ {
		if err := b.Do(fail); !errors.Is(err, errRedisDown) {
			t.Fatalf("attempt %d err = %v", i, err)
		}
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}
	called := false
	if err := b.Do(func() error { called = true; return nil }); !errors.Is(err, ErrOpen) || called {
		t.Fatalf("open breaker: err = %v, called = %v", err, called)
	}

	time.Sleep(30 * time.Millisecond)
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("trial err = %v", err)
	}
	if b.State() != Closed {
		t.Errorf("state = %v, want closed", b.State())
	}
	want := []State{Open, HalfOpen, Closed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	b := NewBreaker("redis-cache", BreakerConfig{Threshold: 1, Cooldown: 10 * time.Millisecond})
	b.Do(func() error { return errRedisDown })
	time.Sleep(15 * time.Millisecond)
	if err := b.Do(func() error { return errRedisDown }); !errors.Is(err, errRedisDown) {
		t.Fatalf("trial err = %v", err)
	}
	if b.State() != Open {
		t.Errorf("state = %v, want open after failed trial", b.State())
	}
	b.Reset()
	if b.State() != Closed {
		t.Errorf("state after reset = %v", b.State())
	}
}

func TestRetry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "postgres ping", Backoff{Attempts: 3, Initial: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errRedisDown
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err = %v after %d calls", err, calls)
	}

	calls = 0
	err = Retry(context.Background(), "postgres ping", Backoff{Attempts: 2, Initial: time.Millisecond}, func() error {
		calls++
		return errRedisDown
	})
	if !errors.Is(err, errRedisDown) || calls != 2 {
		t.Errorf("exhausted: err = %v after %d calls", err, calls)
	}

	calls = 0
	poison := errors.New("undecodable message")
	err = Retry(context.Background(), "kafka handler", Backoff{
		Attempts:  5,
		Initial:   time.Millisecond,
		Permanent: func(err error) bool { return errors.Is(err, poison) },
	}, func() error {
		calls++
		return poison
	})
	if !errors.Is(err, poison) || calls != 1 {
		t.Errorf("permanent: err = %v after %d calls", err, calls)
	}
}

func TestRetryStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, "kafka handler", Backoff{Attempts: 10, Initial: time.Hour}, func() error {
		calls++
		cancel()
		return errRedisDown
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Errorf("err = %v after %d calls", err, calls)
	}
}

func TestBackoffDelayIsCapped(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 3 * time.Second}.withDefaults()
	for attempt := 1; attempt <= 6; attempt++ {
		if d := b.Delay(attempt); d <= 0 || d > b.Max {
			t.Errorf("Delay(%d) = %v", attempt, d)
		}
	}
}

func TestBound(t *testing.T) {
	stopped := make(chan struct{})
	start := time.Now()
	err := Bound(context.Background(), 10*time.Millisecond, "search", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Bound returned after %v", elapsed)
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Error("bounded function never saw its context cancelled")
	}

	if err := Bound(context.Background(), time.Second, "search", func(ctx context.Context) error { return errRedisDown }); !errors.Is(err, errRedisDown) {
		t.Errorf("fast failure err = %v", err)
	}
	if err := Bound(context.Background(), 0, "search", func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("unbounded err = %v", err)
	}
}
