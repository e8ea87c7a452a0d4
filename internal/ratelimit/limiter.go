// Package ratelimit enforces the CRM burst quota and tracks the quota
// telemetry the API reports back in response headers.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// safetyMargin is added to every computed wait so a call never lands on the
// exact edge of the window.
const safetyMargin = 5 * time.Millisecond

// Limiter admits at most Burst calls per Window, tracked as a sliding
// window of admission timestamps. It cannot fail, only delay; the sole
// error path is context cancellation while waiting.
type Limiter struct {
	burst  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	calls []time.Time
}

// NewLimiter creates a sliding-window limiter admitting burst calls per
// window.
func NewLimiter(burst int, window time.Duration) *Limiter {
	if burst < 1 {
		burst = 1
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	return &Limiter{
		burst:  burst,
		window: window,
		now:    time.Now,
		calls:  make([]time.Time, 0, burst),
	}
}

// Acquire blocks until admitting one more call would not exceed the burst
// quota, then records the call's timestamp.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait := l.tryAdmit()
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAdmit prunes expired timestamps and either records the call (returning
// zero) or returns how long to sleep before the oldest call leaves the
// window.
func (l *Limiter) tryAdmit() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.calls[:0]
	for _, t := range l.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.calls = kept

	if len(l.calls) < l.burst {
		l.calls = append(l.calls, now)
		return 0
	}

	return l.window - now.Sub(l.calls[0]) + safetyMargin
}

// InFlight returns the number of admissions currently inside the window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	n := 0
	for _, t := range l.calls {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
