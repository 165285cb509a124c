// Package resilience holds the fault-tolerance helpers used around the
// engine's external collaborators: a breaker for the Redis result cache,
// backoff retry for Postgres and Kafka, and a deadline bound for searches.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by Breaker.Do while calls are being refused.
var ErrOpen = errors.New("circuit open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig sets when a Breaker trips and how it recovers. OnChange runs
// under the breaker's lock after every transition and must not call back
// into it.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// Cooldown is how long an open circuit refuses calls before letting
	// trial calls through.
	Cooldown time.Duration
	// Trials is how many calls a half-open circuit admits at once.
	Trials   int
	OnChange func(name string, to State)
}

// Breaker stops calling a failing backend for a while. The search cache
// wraps Redis in one so an outage degrades to uncached searches instead of
// adding a timeout to each of them.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trials   int
}

func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Trials <= 0 {
		cfg.Trials = 1
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "breaker", "name", name),
	}
}

// Do runs fn unless the circuit refuses it, and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open {
		wait := b.cfg.Cooldown - time.Since(b.openedAt)
		if wait > 0 {
			return fmt.Errorf("%s: %w, next trial in %v", b.name, ErrOpen, wait.Round(time.Millisecond))
		}
		b.trials = 0
		b.moveTo(HalfOpen)
	}
	if b.state == HalfOpen {
		if b.trials >= b.cfg.Trials {
			return fmt.Errorf("%s: %w, trial in flight", b.name, ErrOpen)
		}
		b.trials++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		if b.state == HalfOpen {
			b.trials = 0
			b.moveTo(Closed)
		}
		return
	}
	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
		b.openedAt = time.Now()
		b.moveTo(Open)
	}
}

// Reset closes the circuit regardless of recent failures.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures, b.trials = 0, 0
	b.moveTo(Closed)
}

func (b *Breaker) moveTo(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.logger.Info("circuit state changed", "from", from, "to", to, "failures", b.failures)
	if b.cfg.OnChange != nil {
		b.cfg.OnChange(b.name, to)
	}
}
