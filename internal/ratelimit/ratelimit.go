// Package ratelimit implements the fixed-window (principal, channel)
// counter consulted by the rule engine's secure_rate_limit rule. It is
// not exposed outside the rule engine.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// key identifies a rate bucket.
type key struct {
	principal uuid.UUID
	channel   uuid.UUID
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window rate limiter keyed by (principal, channel).
// Window = 60s, cap = 10 by default; both are configurable, and one
// global cap applies regardless of channel type.
type Limiter struct {
	mu      sync.Mutex
	buckets map[key]*bucket
	window  time.Duration
	cap     int
	now     func() time.Time
	denials prometheus.Counter
}

// SetDenialCounter wires a counter incremented every time Allow rejects a
// request. Optional; a nil counter (the default) disables observation.
func (l *Limiter) SetDenialCounter(c prometheus.Counter) {
	l.denials = c
}

// New builds a Limiter with the given window and cap.
func New(window time.Duration, capacity int) *Limiter {
	return &Limiter{
		buckets: make(map[key]*bucket),
		window:  window,
		cap:     capacity,
		now:     time.Now,
	}
}

// Allow registers one event for (principal, channel) and reports whether it
// is within the cap. The first call in a fresh or expired window always
// succeeds with count 1.
func (l *Limiter) Allow(_ context.Context, principalID, channelID uuid.UUID) (allowed bool, count int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{principal: principalID, channel: channelID}
	now := l.now()

	b, ok := l.buckets[k]
	if !ok || now.After(b.resetAt) || now.Equal(b.resetAt) {
		b = &bucket{count: 0, resetAt: now.Add(l.window)}
		l.buckets[k] = b
	}
	b.count++

	allowed = b.count <= l.cap
	if !allowed && l.denials != nil {
		l.denials.Inc()
	}
	return allowed, b.count
}

// Sweep discards buckets whose window has already closed, bounding memory
// use by the number of (principal, channel) pairs active in the current or
// immediately preceding window.
func (l *Limiter) Sweep(_ context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, k)
		}
	}
}

// Run sweeps on every tick until ctx is cancelled, blocking the calling
// goroutine until then.
func (l *Limiter) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(ctx)
		}
	}
}
