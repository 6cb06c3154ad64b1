package snoocore

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// rateLimiter keeps outbound calls within the server-advertised budget.
// It is a feedback loop over the x-ratelimit response headers, not a fixed
// local rate: update records the quota after every physical call, and delay
// blocks before the next one.
//
// One rateLimiter belongs to exactly one Session and is only touched from
// that Session's call sequence.
type rateLimiter struct {
	remaining   float64
	used        int
	seeded      bool
	nextRequest time.Time
	windowSize  int

	logger  *slog.Logger
	onSleep func(time.Duration)

	// Injectable for tests.
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func newRateLimiter(windowSize int, logger *slog.Logger) *rateLimiter {
	return &rateLimiter{
		windowSize: windowSize,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call wraps one physical request: wait for quota, compute fresh request
// headers, send, then record the response's quota headers.
//
// The header callback runs after the wait so that a token refreshed during a
// long sleep is the one actually sent. This ordering is a correctness
// requirement, not an optimization.
func (r *rateLimiter) call(
	ctx context.Context,
	setHeader func(context.Context) (map[string]string, error),
	do func(context.Context, map[string]string) (*Response, error),
) (*Response, error) {
	if err := r.delay(ctx); err != nil {
		return nil, err
	}
	header, err := setHeader(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := do(ctx, header)
	if err != nil {
		return nil, err
	}
	r.update(resp.Header)
	return resp, nil
}

// delay blocks until the recorded next-request time. It returns immediately
// when no constraint is known yet and never sleeps a non-positive amount.
func (r *rateLimiter) delay(ctx context.Context) error {
	if r.nextRequest.IsZero() {
		return nil
	}
	d := r.nextRequest.Sub(r.now())
	if d <= 0 {
		return nil
	}
	r.logger.Debug("sleeping prior to call", "seconds", d.Seconds())
	if r.onSleep != nil {
		r.onSleep(d)
	}
	return r.sleep(ctx, d)
}

// update records the rate limit state advertised by a response.
//
// Responses without x-ratelimit headers are treated as a single opaque
// consumption: remaining is decremented and used incremented by one if ever
// initialized. Such responses usually accompany errors, so erring on the
// consuming side is the safe fallback.
func (r *rateLimiter) update(header http.Header) {
	remaining, err1 := strconv.ParseFloat(header.Get("x-ratelimit-remaining"), 64)
	used, err2 := strconv.Atoi(header.Get("x-ratelimit-used"))
	reset, err3 := strconv.Atoi(header.Get("x-ratelimit-reset"))
	if err1 != nil || err2 != nil || err3 != nil {
		if r.seeded {
			r.remaining--
			r.used++
		}
		return
	}

	r.remaining = remaining
	r.used = used
	r.seeded = true
	now := r.now()

	if remaining <= 0 {
		// Budget exhausted: wait out the remainder of the window.
		wait := time.Duration(reset) * time.Second
		if wait < 500*time.Millisecond {
			wait = 500 * time.Millisecond
		}
		r.nextRequest = now.Add(wait)
		return
	}

	// Spread the remaining calls across the remaining window, biased by how
	// many calls other clients on the same credentials appear to be making
	// (inferred from used), clamped into [0, 10] seconds and never past the
	// window reset.
	spacing := float64(reset) - (float64(r.windowSize) -
		float64(r.windowSize)/(remaining+float64(used))*float64(used))
	if spacing < 0 {
		spacing = 0
	}
	if spacing > 10 {
		spacing = 10
	}
	if spacing > float64(reset) {
		spacing = float64(reset)
	}
	r.nextRequest = now.Add(time.Duration(spacing * float64(time.Second)))
}
