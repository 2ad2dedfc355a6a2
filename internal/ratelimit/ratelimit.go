// Package ratelimit provides the per (tool, user) fixed-window admission
// counter consulted before every tool execution.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultWindow   = 60 * time.Second
	DefaultMaxCalls = 5
)

// ErrRateLimited is the sentinel matched by *ExceededError.
var ErrRateLimited = errors.New("rate limit exceeded")

// ExceededError is returned when a key has used up its window.
type ExceededError struct {
	Tool       string
	UserID     string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for tool %q user %q: retry after %dms", e.Tool, e.UserID, e.RetryAfterMs())
}

func (e *ExceededError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfterMs returns the retry hint in milliseconds, at least 1.
func (e *ExceededError) RetryAfterMs() int64 {
	ms := e.RetryAfter.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return ms
}

type counter struct {
	count         int
	windowResetAt time.Time
}

// Limiter is a fixed-window counter per (tool, user). Bursts straddling a
// window boundary may admit up to twice the cap. Safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	counters map[string]*counter
	window   time.Duration
	maxCalls int
	now      func() time.Time
}

// New creates a limiter. Non-positive arguments fall back to the defaults.
func New(window time.Duration, maxCalls int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxCalls <= 0 {
		maxCalls = DefaultMaxCalls
	}
	return &Limiter{
		counters: make(map[string]*counter),
		window:   window,
		maxCalls: maxCalls,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func key(tool, userID string) string { return tool + ":" + userID }

// Allow admits one call for (tool, userID) or returns an *ExceededError.
func (l *Limiter) Allow(tool, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key(tool, userID)
	c, ok := l.counters[k]
	if !ok || now.After(c.windowResetAt) {
		c = &counter{windowResetAt: now.Add(l.window)}
		l.counters[k] = c
	}

	if c.count >= l.maxCalls {
		return &ExceededError{Tool: tool, UserID: userID, RetryAfter: c.windowResetAt.Sub(now)}
	}
	c.count++
	return nil
}

// StartSweeper removes expired counters every interval. Returns a cancel
// function that stops the goroutine.
func (l *Limiter) StartSweeper(interval time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
	return cancel
}

// Sweep drops every counter whose window has ended and returns how many
// were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for k, c := range l.counters {
		if now.After(c.windowResetAt) {
			delete(l.counters, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked counters.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}
