package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Backoff describes how Retry spaces its attempts. Zero fields take the
// defaults of DefaultBackoff. Permanent, when set, ends retrying at the first
// error it reports true for, such as a poison Kafka message.
type Backoff struct {
	Attempts  int
	Initial   time.Duration
	Max       time.Duration
	Factor    float64
	Jitter    float64
	Permanent func(error) bool
}

// DefaultBackoff suits the startup pings and message handlers the engine
// retries: a few attempts, doubling from 100ms.
var DefaultBackoff = Backoff{
	Attempts: 3,
	Initial:  100 * time.Millisecond,
	Max:      10 * time.Second,
	Factor:   2,
	Jitter:   0.1,
}

func (b Backoff) withDefaults() Backoff {
	if b.Attempts <= 0 {
		b.Attempts = DefaultBackoff.Attempts
	}
	if b.Initial <= 0 {
		b.Initial = DefaultBackoff.Initial
	}
	if b.Max <= 0 {
		b.Max = DefaultBackoff.Max
	}
	if b.Factor <= 0 {
		b.Factor = DefaultBackoff.Factor
	}
	if b.Jitter <= 0 {
		b.Jitter = DefaultBackoff.Jitter
	}
	return b
}

// Delay is the wait after the given failed attempt, counting from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Initial) * math.Pow(b.Factor, float64(attempt-1))
	d += d * b.Jitter * (2*rand.Float64() - 1)
	switch {
	case d > float64(b.Max):
		return b.Max
	case d < 0:
		return b.Initial
	}
	return time.Duration(d)
}

// Retry calls fn until it succeeds, fails permanently, the attempts run out
// or ctx is done. The last error is wrapped, so errors.Is still sees it.
func Retry(ctx context.Context, op string, b Backoff, fn func() error) error {
	b = b.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", op)
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			if attempt > 1 {
				logger.Info("recovered", "attempt", attempt)
			}
			return nil
		}
		if b.Permanent != nil && b.Permanent(err) {
			return err
		}
		if attempt == b.Attempts {
			return fmt.Errorf("%s failed %d times: %w", op, attempt, err)
		}
		delay := b.Delay(attempt)
		logger.Warn("attempt failed", "attempt", attempt, "of", b.Attempts, "error", err, "retry_in", delay)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s abandoned after %d attempts: %w", op, attempt, ctx.Err())
		}
	}
}
