// Package ratelimit provides a sliding-window throttle keyed by credential
// identity. State is instance-local; behind a load balancer each instance
// enforces its own window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result reports the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

type window struct {
	stamps   []time.Time
	lastSeen time.Time
}

// Limiter tracks request timestamps per identity within a sliding window,
// with distinct limits per identity class.
type Limiter struct {
	mu           sync.Mutex
	windows      map[string]*window
	span         time.Duration
	limitByClass map[string]int
	defaultLimit int
	maxTracked   int // cap on tracked identities (prevents memory exhaustion)
	now          func() time.Time
}

// New creates a limiter admitting defaultLimit requests per span for
// default-class identities and elevatedLimit for elevated ones.
func New(span time.Duration, defaultLimit, elevatedLimit int) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		span:    span,
		limitByClass: map[string]int{
			"default":  defaultLimit,
			"elevated": elevatedLimit,
		},
		defaultLimit: defaultLimit,
		maxTracked:   100000,
		now:          time.Now,
	}
}

// Check admits or rejects one request for the given identity.
// Expired timestamps are pruned before capacity is tested.
func (l *Limiter) Check(identity, class string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit, ok := l.limitByClass[class]
	if !ok {
		limit = l.defaultLimit
	}

	now := l.now()
	cutoff := now.Add(-l.span)

	w, exists := l.windows[identity]
	if !exists {
		if len(l.windows) >= l.maxTracked {
			return Result{Allowed: false, Limit: limit, ResetIn: l.span}
		}
		w = &window{}
		l.windows[identity] = w
	}

	// Prune entries that slid out of the window.
	keep := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	w.stamps = keep
	w.lastSeen = now

	if len(w.stamps) >= limit {
		resetIn := w.stamps[0].Add(l.span).Sub(now)
		if resetIn < 0 {
			resetIn = 0
		}
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetIn: resetIn}
	}

	w.stamps = append(w.stamps, now)
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(w.stamps),
		ResetIn:   w.stamps[0].Add(l.span).Sub(now),
	}
}

// StartCleanup spawns a goroutine that removes idle identities every
// interval. Returns a cancel function that stops the goroutine.
func (l *Limiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

// cleanup removes identities that have been idle longer than maxIdle.
func (l *Limiter) cleanup(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxIdle)
	for id, w := range l.windows {
		if w.lastSeen.Before(cutoff) {
			delete(l.windows, id)
		}
	}
}

// Len returns the number of tracked identities (for metrics and testing).
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
