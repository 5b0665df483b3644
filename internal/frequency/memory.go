package frequency

import (
	"context"
	"sync"
	"time"

	"github.com/openbotdefense/kestrel/internal/domain"
)

// MemoryTracker keeps sliding windows in-process. Single-node only; state is
// lost on restart. Useful for development and tests.
type MemoryTracker struct {
	mu      sync.Mutex
	windows map[string][]float64
	seen    map[string]time.Time
	window  time.Duration
	grace   time.Duration
}

// NewMemoryTracker creates an in-memory tracker.
func NewMemoryTracker(cfg domain.FrequencyConfig) *MemoryTracker {
	return &MemoryTracker{
		windows: make(map[string][]float64),
		seen:    make(map[string]time.Time),
		window:  time.Duration(cfg.WindowSeconds) * time.Second,
		grace:   time.Duration(cfg.GraceSeconds) * time.Second,
	}
}

// RecordAndQuery trims the client's window, appends the current event, and
// returns the prior count and inter-arrival gap. Entries are stored in
// arrival order, which is also score order since timestamps come from the
// caller's clock.
func (t *MemoryTracker) RecordAndQuery(ctx context.Context, clientKey string, now time.Time) (domain.FrequencySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.ZeroSnapshot(), err
	}

	nowSec := float64(now.UnixNano()) / float64(time.Second)
	cutoff := nowSec - t.window.Seconds()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictIdle(now)

	entries := t.windows[clientKey]
	keep := entries[:0]
	for _, ts := range entries {
		if ts >= cutoff {
			keep = append(keep, ts)
		}
	}

	snap := domain.FrequencySnapshot{
		Count:            int64(len(keep)),
		SecondsSinceLast: domain.UnknownNumeric,
	}
	if len(keep) > 0 {
		snap.SecondsSinceLast = nowSec - keep[len(keep)-1]
	}

	t.windows[clientKey] = append(keep, nowSec)
	t.seen[clientKey] = now

	return snap, nil
}

// Ping always succeeds for the in-memory store.
func (t *MemoryTracker) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close releases all tracked windows.
func (t *MemoryTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.windows = make(map[string][]float64)
	t.seen = make(map[string]time.Time)
	return nil
}

// evictIdle drops clients not seen within window+grace, mirroring the TTL
// the Redis tracker sets. Called with the lock held.
func (t *MemoryTracker) evictIdle(now time.Time) {
	ttl := t.window + t.grace
	for key, last := range t.seen {
		if now.Sub(last) > ttl {
			delete(t.windows, key)
			delete(t.seen, key)
		}
	}
}
