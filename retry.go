package snoocore

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// defaultRetries is the retry budget for a Session request: two retries,
// three total attempts.
const defaultRetries = 2

// FiniteRetryStrategy schedules a finite number of request retries with
// jittered backoff. Values are immutable: ConsumeAvailableRetry returns a
// new strategy and never mutates the receiver, so nested retry chains cannot
// corrupt shared state.
type FiniteRetryStrategy struct {
	retries int
	budget  int
}

// NewFiniteRetryStrategy creates a strategy permitting retries additional
// attempts after the first.
func NewFiniteRetryStrategy(retries int) FiniteRetryStrategy {
	return FiniteRetryStrategy{retries: retries, budget: retries}
}

// ShouldRetryOnFailure reports whether the strategy allows another retry.
func (s FiniteRetryStrategy) ShouldRetryOnFailure() bool { return s.retries > 0 }

// ConsumeAvailableRetry returns a copy of the strategy with one fewer retry
// available.
func (s FiniteRetryStrategy) ConsumeAvailableRetry() FiniteRetryStrategy {
	return FiniteRetryStrategy{retries: s.retries - 1, budget: s.budget}
}

// Retries returns the number of retries still available.
func (s FiniteRetryStrategy) Retries() int { return s.retries }

// sleepSeconds returns the backoff before the next attempt. The first
// attempt gets none; the first retry gets pure jitter; later retries get a
// two second base plus jitter.
func (s FiniteRetryStrategy) sleepSeconds() (float64, bool) {
	if s.retries >= s.budget {
		return 0, false
	}
	base := 2.0
	if s.retries > 0 {
		base = 0
	}
	return base + 2*rand.Float64(), true
}

// sleep blocks until the next attempt may start, honoring ctx cancellation.
func (s FiniteRetryStrategy) sleep(ctx context.Context, logger *slog.Logger) error {
	secs, ok := s.sleepSeconds()
	if !ok {
		return nil
	}
	logger.Debug("sleeping prior to retry", "seconds", secs)
	return sleepContext(ctx, time.Duration(secs*float64(time.Second)))
}
