package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Bound runs fn under a deadline of limit. When the deadline passes first,
// Bound returns at once with an error wrapping context.DeadlineExceeded; fn
// sees its context cancelled and is expected to stop soon after. How long it
// actually ran on is logged once it returns. A limit <= 0 runs fn unbounded.
func Bound(ctx context.Context, limit time.Duration, op string, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}
	bounded, cancel := context.WithTimeout(ctx, limit)
	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- fn(bounded)
	}()

	select {
	case err := <-done:
		return err
	case <-bounded.Done():
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: caller gave up: %w", op, ctx.Err())
	}
	go func() {
		err := <-done
		slog.Debug("bounded operation finished after its deadline",
			"operation", op,
			"limit", limit,
			"overrun", time.Since(start)-limit,
			"error", err,
		)
	}()
	return fmt.Errorf("%s exceeded %v: %w", op, limit, context.DeadlineExceeded)
}
