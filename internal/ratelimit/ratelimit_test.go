package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAllowCapAndMonotonicity(t *testing.T) {
	l := New(60*time.Second, 10)
	principal, channel := uuid.New(), uuid.New()

	for i := 1; i <= 10; i++ {
		allowed, count := l.Allow(context.Background(), principal, channel)
		if !allowed {
			t.Fatalf("event %d should be allowed within cap", i)
		}
		if count != i {
			t.Fatalf("expected count %d, got %d", i, count)
		}
	}

	allowed, count := l.Allow(context.Background(), principal, channel)
	if allowed {
		t.Fatal("11th event should be denied")
	}
	if count != 11 {
		t.Fatalf("expected count 11, got %d", count)
	}
}

func TestAllowResetsAfterWindow(t *testing.T) {
	l := New(time.Minute, 1)
	fixed := time.Now()
	l.now = func() time.Time { return fixed }
	principal, channel := uuid.New(), uuid.New()

	if allowed, _ := l.Allow(context.Background(), principal, channel); !allowed {
		t.Fatal("first event should be allowed")
	}
	if allowed, _ := l.Allow(context.Background(), principal, channel); allowed {
		t.Fatal("second event in same window should be denied")
	}

	fixed = fixed.Add(time.Minute + time.Second)
	if allowed, count := l.Allow(context.Background(), principal, channel); !allowed || count != 1 {
		t.Fatalf("expected fresh window to allow with count 1, got allowed=%v count=%d", allowed, count)
	}
}

func TestSweepDiscardsExpiredBuckets(t *testing.T) {
	l := New(time.Minute, 10)
	fixed := time.Now()
	l.now = func() time.Time { return fixed }
	principal, channel := uuid.New(), uuid.New()
	l.Allow(context.Background(), principal, channel)

	fixed = fixed.Add(2 * time.Minute)
	l.Sweep(context.Background())

	l.mu.Lock()
	n := len(l.buckets)
	l.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected expired bucket to be swept, got %d remaining", n)
	}
}
