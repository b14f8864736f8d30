package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-session-go/storage"
	"github.com/ggoodman/mcp-session-go/storage/storagetest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Harness {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		s, err := New(0, WithClock(clock.Now), WithCleanupInterval(0))
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return storagetest.Harness{Store: s, Advance: clock.Advance}
	})
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	s, err := New(2, WithCleanupInterval(0))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.SetEx(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Hour); err != nil {
			t.Fatalf("SetEx failed: %v", err)
		}
	}
	got, _ := s.Get(ctx, "k0")
	if got != nil {
		t.Fatalf("expected k0 to be evicted")
	}
	got, _ = s.Get(ctx, "k2")
	if string(got) != "v" {
		t.Fatalf("expected k2 to remain")
	}
}

func TestBackgroundSweepRemovesExpired(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s, err := New(10, WithClock(clock.Now), WithCleanupInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	_ = s.SetEx(ctx, "k", []byte("v"), time.Second)
	clock.Advance(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for s.cache.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected sweep to remove expired key")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s, err := New(10)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() failed: %v", err)
	}
	if _, err := s.Get(context.Background(), "k"); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("expected ErrClosed from Ping, got %v", err)
	}
}

func TestKeysRejectsMalformedPattern(t *testing.T) {
	s, err := New(10, WithCleanupInterval(0))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()
	if _, err := s.Keys(context.Background(), "["); err == nil {
		t.Fatalf("expected error for malformed pattern")
	}
}
