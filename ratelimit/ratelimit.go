// Package ratelimit implements the sliding-window limiter applied to resume
// attempts. Two windows are enforced together: a per-key window and a global
// window across all keys. An attempt is admitted only when both have room,
// and every attempt is recorded whether or not it was admitted, so repeated
// denied attempts extend the lockout.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited is matched by errors.Is for any LimitError.
var ErrRateLimited = errors.New("rate limited")

// LimitError reports a denied attempt and how long until a retry could be
// admitted.
type LimitError struct {
	// Scope is "session" or "global", whichever window denied the attempt.
	Scope string
	// RetryAfter is the time until the oldest counted attempt leaves the
	// denying window.
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded, retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrRateLimited) match any LimitError.
func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Limiter enforces a per-key and a global sliding window. Safe for
// concurrent use.
type Limiter struct {
	mu sync.Mutex

	perLimit  int
	perWindow time.Duration

	globalLimit  int
	globalWindow time.Duration

	byKey    map[string][]time.Time
	global   []time.Time
	disabled bool

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a limiter with the given per-key and global thresholds.
func New(perLimit int, perWindow time.Duration, globalLimit int, globalWindow time.Duration) *Limiter {
	return &Limiter{
		perLimit:     perLimit,
		perWindow:    perWindow,
		globalLimit:  globalLimit,
		globalWindow: globalWindow,
		byKey:        make(map[string][]time.Time),
		now:          time.Now,
	}
}

// SetEnabled toggles enforcement. A disabled limiter admits everything and
// records nothing; intended for tests.
func (l *Limiter) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disabled = !enabled
}

// Allow checks both windows for key and records the attempt. When either
// window is full the attempt is denied with a LimitError carrying the
// retry-after, and the denied attempt still counts against future checks.
func (l *Limiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disabled {
		return nil
	}

	now := l.now()

	l.byKey[key] = prune(l.byKey[key], now.Add(-l.perWindow))
	l.global = prune(l.global, now.Add(-l.globalWindow))

	var denied *LimitError
	if len(l.byKey[key]) >= l.perLimit {
		denied = &LimitError{
			Scope:      "session",
			RetryAfter: retryAfter(l.byKey[key], l.perLimit, l.perWindow, now),
		}
	} else if len(l.global) >= l.globalLimit {
		denied = &LimitError{
			Scope:      "global",
			RetryAfter: retryAfter(l.global, l.globalLimit, l.globalWindow, now),
		}
	}

	// Record regardless of outcome.
	l.byKey[key] = append(l.byKey[key], now)
	l.global = append(l.global, now)

	if denied != nil {
		return denied
	}
	return nil
}

// Forget drops all recorded attempts for key. Called when a session is
// deleted so its id does not hold window state forever.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byKey, key)
}

// retryAfter computes how long until enough attempts age out of the window
// for one more to be admitted. attempts is pruned and sorted oldest-first.
func retryAfter(attempts []time.Time, limit int, window time.Duration, now time.Time) time.Duration {
	// The attempt that must expire is the one that, once gone, brings the
	// count below the limit.
	idx := len(attempts) - limit
	if idx < 0 {
		idx = 0
	}
	wait := attempts[idx].Add(window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// prune drops entries at or before cutoff. Entries are appended in time
// order, so the suffix after the first survivor is the result.
func prune(attempts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(attempts) && !attempts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return attempts
	}
	return append([]time.Time(nil), attempts[i:]...)
}
