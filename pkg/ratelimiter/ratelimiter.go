package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// Limiter provides sliding-window admission control for outbound RPC calls.
// Admit blocks until a slot frees up inside the trailing window, so at no
// instant do more than max admissions exist in any trailing window interval.
// A sliding window avoids the bursty admission a fixed bucket allows at
// bucket boundaries.
type Limiter struct {
	mu     sync.Mutex
	window []time.Time
	max    int
	span   time.Duration

	// Observability counters, reset periodically. The sliding window
	// itself is unaffected by counter resets.
	totalRequests     int64
	allowedRequests   int64
	throttledRequests int64

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Stats is a point-in-time snapshot of limiter counters and window state
type Stats struct {
	TotalRequests     int64 `json:"total_requests"`
	AllowedRequests   int64 `json:"allowed_requests"`
	ThrottledRequests int64 `json:"throttled_requests"`
	QueueSize         int   `json:"queue_size"`
	RemainingCapacity int   `json:"remaining_capacity"`
	MaxPerWindow      int   `json:"max_per_window"`
}

// New creates a Limiter admitting at most maxPerSecond calls per trailing
// second. counterReset is the period on which observability counters are
// zeroed (e.g. hourly); zero disables periodic resets.
func New(maxPerSecond int, counterReset time.Duration) *Limiter {
	l := &Limiter{
		window: make([]time.Time, 0, maxPerSecond),
		max:    maxPerSecond,
		span:   time.Second,
		stopCh: make(chan struct{}),
	}

	if counterReset > 0 {
		go l.resetLoop(counterReset)
	}

	return l
}

// Admit blocks until an admission slot is available or ctx is cancelled.
// Waiters re-evaluate the window from scratch after sleeping, so admission
// order is not guaranteed to be FIFO under contention: a fresh caller may
// take a slot ahead of one that was already waiting.
func (l *Limiter) Admit(ctx context.Context) error {
	counted := false
	throttled := false

	for {
		l.mu.Lock()
		now := time.Now()
		l.prune(now)

		if !counted {
			l.totalRequests++
			counted = true
		}

		if len(l.window) < l.max {
			l.window = append(l.window, now)
			l.allowedRequests++
			l.mu.Unlock()
			return nil
		}

		if !throttled {
			l.throttledRequests++
			throttled = true
		}

		wait := l.window[0].Add(l.span).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			// Oldest entry expired between the check and now; retry.
			continue
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

// prune drops window entries older than the trailing span.
// Caller must hold the lock.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.span)
	idx := 0
	for idx < len(l.window) && !l.window[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.window = append(l.window[:0], l.window[idx:]...)
	}
}

// QueueSize returns the number of admissions currently inside the window
func (l *Limiter) QueueSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(time.Now())
	return len(l.window)
}

// RemainingCapacity returns how many admissions fit in the current window,
// floored at zero
func (l *Limiter) RemainingCapacity() int {
	remaining := l.max - l.QueueSize()
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// IsThrottled reports whether the window is currently full
func (l *Limiter) IsThrottled() bool {
	return l.QueueSize() >= l.max
}

// Stats returns a snapshot of counters and window occupancy
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(time.Now())
	remaining := l.max - len(l.window)
	if remaining < 0 {
		remaining = 0
	}

	return Stats{
		TotalRequests:     l.totalRequests,
		AllowedRequests:   l.allowedRequests,
		ThrottledRequests: l.throttledRequests,
		QueueSize:         len(l.window),
		RemainingCapacity: remaining,
		MaxPerWindow:      l.max,
	}
}

// ResetCounters zeroes the observability counters without touching the window
func (l *Limiter) ResetCounters() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalRequests = 0
	l.allowedRequests = 0
	l.throttledRequests = 0
}

// resetLoop periodically resets the observability counters
func (l *Limiter) resetLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.ResetCounters()
		case <-l.stopCh:
			return
		}
	}
}

// Stop stops the counter reset goroutine
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}
