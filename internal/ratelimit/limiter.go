// internal/ratelimit/limiter.go
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const cleanupEvery = 5 * time.Minute

// Limiter allows at most limit events per key in any trailing window.
// Only allowed events count against the window.
type Limiter struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	limit     int
	window    time.Duration
	events    map[string][]time.Time
	cleanupAt time.Time
}

// New creates a sliding-window limiter.
func New(clock clockwork.Clock, limit int, window time.Duration) *Limiter {
	return &Limiter{
		clock:     clock,
		limit:     limit,
		window:    window,
		events:    make(map[string][]time.Time),
		cleanupAt: clock.Now().Add(cleanupEvery),
	}
}

// PerMinute is a Limiter over a one-minute window.
func PerMinute(clock clockwork.Clock, limit int) *Limiter {
	return New(clock, limit, time.Minute)
}

// Allow records an event for key and reports whether it is within the limit.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		l.cleanup(now)
		l.cleanupAt = now.Add(cleanupEvery)
	}

	recent := trim(l.events[key], now.Add(-l.window))
	if len(recent) >= l.limit {
		l.events[key] = recent
		return false
	}
	l.events[key] = append(recent, now)
	return true
}

// Forget drops all history for key.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, key)
}

// Tracked returns how many keys currently hold history.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// trim drops timestamps at or before cutoff. Timestamps are in ascending order.
func trim(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

// must be called with mu held
func (l *Limiter) cleanup(now time.Time) {
	cutoff := now.Add(-l.window)
	for key, ts := range l.events {
		if len(trim(ts, cutoff)) == 0 {
			delete(l.events, key)
		}
	}
}
