package ratelimit

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock installs a controllable now func on the limiter.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(perLimit, globalLimit int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := New(perLimit, window, globalLimit, window)
	l.now = clock.now
	return l, clock
}

func TestAllowUnderLimit(t *testing.T) {
	l, _ := newTestLimiter(5, 20, time.Minute)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow("s1"), "attempt %d", i+1)
	}
}

func TestAllowDeniesOverPerKeyLimit(t *testing.T) {
	l, _ := newTestLimiter(5, 20, time.Minute)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow("s1"))
	}

	err := l.Allow("s1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))

	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "session", limitErr.Scope)
	assert.Greater(t, limitErr.RetryAfter, time.Duration(0))
}

func TestPerKeyLimitIsIndependent(t *testing.T) {
	l, _ := newTestLimiter(5, 20, time.Minute)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow("s1"))
	}
	require.Error(t, l.Allow("s1"))

	// A different key still has its own window.
	assert.NoError(t, l.Allow("s2"))
}

func TestGlobalLimitAcrossKeys(t *testing.T) {
	l, _ := newTestLimiter(5, 20, time.Minute)

	// 20 admitted attempts spread over distinct keys so no per-key window
	// fills first.
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("s%d", i)
		require.NoError(t, l.Allow(key))
	}

	err := l.Allow("fresh-key")
	require.Error(t, err)

	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "global", limitErr.Scope)
}

func TestDeniedAttemptsCount(t *testing.T) {
	l, clock := newTestLimiter(5, 100, time.Minute)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow("s1"))
	}

	// Hammering while denied keeps pushing recorded attempts into the
	// window, so the lockout outlives the original five.
	clock.advance(30 * time.Second)
	require.Error(t, l.Allow("s1"))

	clock.advance(31 * time.Second)
	// The first five have aged out; only the denied attempt from t+30s
	// remains in the window, so this is admitted.
	require.NoError(t, l.Allow("s1"))
}

func TestWindowExpiry(t *testing.T) {
	l, clock := newTestLimiter(5, 20, time.Minute)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow("s1"))
	}
	require.Error(t, l.Allow("s1"))

	clock.advance(2 * time.Minute)
	assert.NoError(t, l.Allow("s1"))
}

func TestRetryAfterShrinksOverTime(t *testing.T) {
	l, clock := newTestLimiter(2, 20, time.Minute)

	require.NoError(t, l.Allow("s1"))
	require.NoError(t, l.Allow("s1"))

	err := l.Allow("s1")
	var first *LimitError
	require.ErrorAs(t, err, &first)

	clock.advance(10 * time.Second)
	err = l.Allow("s1")
	var second *LimitError
	require.ErrorAs(t, err, &second)

	assert.Less(t, second.RetryAfter, first.RetryAfter)
}

func TestForget(t *testing.T) {
	l, _ := newTestLimiter(2, 100, time.Minute)

	require.NoError(t, l.Allow("s1"))
	require.NoError(t, l.Allow("s1"))
	require.Error(t, l.Allow("s1"))

	l.Forget("s1")
	assert.NoError(t, l.Allow("s1"))
}

func TestSetEnabled(t *testing.T) {
	l, _ := newTestLimiter(1, 100, time.Minute)

	require.NoError(t, l.Allow("s1"))
	require.Error(t, l.Allow("s1"))

	l.SetEnabled(false)
	assert.NoError(t, l.Allow("s1"))
	assert.NoError(t, l.Allow("s1"))

	// Re-enabling restores the old window state untouched.
	l.SetEnabled(true)
	assert.Error(t, l.Allow("s1"))
}

func TestConcurrentAllow(t *testing.T) {
	l, _ := newTestLimiter(1000, 10000, time.Minute)

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			key := fmt.Sprintf("s%d", n)
			for j := 0; j < 100; j++ {
				l.Allow(key)
			}
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
