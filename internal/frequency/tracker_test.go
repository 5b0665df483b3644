package frequency

import (
	"context"
	"testing"
	"time"

	"github.com/openbotdefense/kestrel/internal/domain"
)

func testConfig() domain.FrequencyConfig {
	return domain.FrequencyConfig{
		Store:         "memory",
		WindowSeconds: 300,
		GraceSeconds:  60,
	}
}

func TestMemoryTrackerCountExcludesCurrent(t *testing.T) {
	tracker := NewMemoryTracker(testConfig())
	defer tracker.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		snap, err := tracker.RecordAndQuery(ctx, "198.51.100.1", base.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// The i-th call sees the i events recorded before it.
		if snap.Count != int64(i) {
			t.Errorf("call %d: expected count %d, got %d", i, i, snap.Count)
		}
	}
}

func TestMemoryTrackerInterArrival(t *testing.T) {
	tracker := NewMemoryTracker(testConfig())
	defer tracker.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first, err := tracker.RecordAndQuery(ctx, "198.51.100.2", base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.SecondsSinceLast != domain.UnknownNumeric {
		t.Errorf("first event should have sentinel gap, got %v", first.SecondsSinceLast)
	}

	second, err := tracker.RecordAndQuery(ctx, "198.51.100.2", base.Add(250*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.SecondsSinceLast < 0.249 || second.SecondsSinceLast > 0.251 {
		t.Errorf("expected gap ~0.25s, got %v", second.SecondsSinceLast)
	}
}

func TestMemoryTrackerWindowExpiry(t *testing.T) {
	tracker := NewMemoryTracker(testConfig())
	defer tracker.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := tracker.RecordAndQuery(ctx, "198.51.100.3", base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// Past the 300s window all prior events age out.
	snap, err := tracker.RecordAndQuery(ctx, "198.51.100.3", base.Add(301*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Count != 0 {
		t.Errorf("expected expired window count 0, got %d", snap.Count)
	}
}

func TestMemoryTrackerIsolatesClients(t *testing.T) {
	tracker := NewMemoryTracker(testConfig())
	defer tracker.Close()

	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, err := tracker.RecordAndQuery(ctx, "10.0.0.1", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap, err := tracker.RecordAndQuery(ctx, "10.0.0.2", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Count != 0 {
		t.Errorf("second client should start empty, got count %d", snap.Count)
	}
}

func TestMemoryTrackerCancelledContext(t *testing.T) {
	tracker := NewMemoryTracker(testConfig())
	defer tracker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := tracker.RecordAndQuery(ctx, "10.0.0.9", time.Now())
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if snap != domain.ZeroSnapshot() {
		t.Errorf("expected zero snapshot on failure, got %+v", snap)
	}
}

func TestNew(t *testing.T) {
	cfg := testConfig()
	tracker, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := tracker.(*MemoryTracker); !ok {
		t.Errorf("expected MemoryTracker, got %T", tracker)
	}

	cfg.Store = "etcd"
	if _, err := New(cfg); err == nil {
		t.Error("expected error for unsupported store")
	}
}
