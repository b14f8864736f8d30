// Package storagetest holds a conformance suite shared by every storage.Store
// implementation.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-session-go/storage"
)

// Harness is a store under test plus a way to move its clock forward.
type Harness struct {
	Store storage.Store
	// Advance moves the store's notion of time forward by d.
	Advance func(d time.Duration)
}

// Factory creates a fresh, empty store for one subtest.
type Factory func(t *testing.T) Harness

// Run runs the complete storage.Store suite against the provided factory.
func Run(t *testing.T, factory Factory) {
	t.Run("KV_SetExAndGet", func(t *testing.T) { testSetExAndGet(t, factory) })
	t.Run("KV_GetMissingIsNil", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("KV_OverwriteReplacesValue", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("KV_DelIgnoresMissing", func(t *testing.T) { testDel(t, factory) })
	t.Run("KV_RejectsNonPositiveTTL", func(t *testing.T) { testInvalidTTL(t, factory) })

	t.Run("TTL_ExpiredKeyIsAbsent", func(t *testing.T) { testExpiry(t, factory) })
	t.Run("TTL_ExpireSlidesDeadline", func(t *testing.T) { testExpireSlides(t, factory) })
	t.Run("TTL_ExpireOnMissingKey", func(t *testing.T) { testExpireMissing(t, factory) })
	t.Run("TTL_ReportsRemaining", func(t *testing.T) { testTTLRemaining(t, factory) })

	t.Run("Keys_MatchesPattern", func(t *testing.T) { testKeysPattern(t, factory) })
	t.Run("Keys_SkipsExpired", func(t *testing.T) { testKeysSkipsExpired(t, factory) })

	t.Run("Concurrency_ParallelWriters", func(t *testing.T) { testParallelWriters(t, factory) })
	t.Run("Lifecycle_Ping", func(t *testing.T) { testPing(t, factory) })
}

func testSetExAndGet(t *testing.T, factory Factory) {
	h := factory(t)
	ctx := context.Background()

	if err := h.Store.SetEx(ctx, "k1", []byte("v1"), time.Hour); err != nil {
		t.Fatalf("setex failed: %v", err)
	}
	got, err := h.Store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("expected v1, got %q", got)
	}
}

func testGetMissing(t *testing.T, factory Factory) {
	h := factory(t)
	got, err := h.Store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing key, got %q", got)
	}
}

func testOverwrite(t *testing.T, factory Factory) {
	h := factory(t)
	ctx := context.Background()

	_ = h.Store.SetEx(ctx, "k", []byte("a"), time.Hour)
	if err := h.Store.SetEx(ctx, "k", []byte("b"), time.Hour); err != nil {
		t.Fatalf("setex failed: %v", err)
	}
	got, _ := h.Store.Get(ctx, "k")
	if string(got) != "b" {
		t.Fatalf("expected b, got %q", got)
	}
}

func testDel(t *testing.T, factory Factory) {
	h := factory(t)
	ctx := context.Background()

	_ = h.Store.SetEx(ctx, "a", []byte("1"), time.Hour)
	_ = h.Store.SetEx(ctx, "b", []byte("2"), time.Hour)
	if err := h.Store.Del(ctx, "a", "b", "missing"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	for _, k := range []string{"a", "b"} {
		got, err := h.Store.Get(ctx, k)
		if err != nil {
			t.Fatalf("get %s failed: %v", k, err)
		}
		if got != nil {
			t.Fatalf("expected %s to be deleted", k)
		}
	}
	if err := h.Store.Del(ctx); err != nil {
		t.Fatalf("del with no keys failed: %v", err)
	}
}

func testInvalidTTL(t *testing.T, factory Factory) {
	h := factory(t)
	ctx := context.Background()

	if err := h.Store.SetEx(ctx, "k", []byte("v"), 0); !errors.Is(err, storage.ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL from SetEx, got %v", err)
	}
	if _, err := h.Store.Expire(ctx, "k", -time.Second); !errors.Is(err, storage.ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL from Expire, got %v", err)
	}
}

func testExpiry(t *testing.T, factory Factory) {
	h := factory(t)
	ctx := context.Background()

	_ = h.Store.SetEx(ctx, "k", []byte("v"), 10*time.Second)
	h.Advance(11 * time.Second)

	got, err := h.Store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected expired key to be absent, got %q", got)
	}
	ttl, err := h.Store.TTL(ctx, "k")
	if err != nil {
		t.Fatalf("ttl failed: %v", err)
	}
	if ttl != storage.Missing {
		t.Fatalf("expected Missing ttl, got %v", ttl)
	}
}

func testExpireSlides(t *testing.T, factory Factory) {
	h := factory(t)
	ctx := context.Background()

	_ = h.Store.SetEx(ctx, "k", []byte("v"), 10*time.Second)
	h.Advance(9 * time.Second)
	ok, err := h.Store.Expire(ctx, "k", 10*time.Second)
	if err != nil {
		t.Fatalf("expire failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected expire to report existing key")
	}
	h.Advance(9 * time.Second)

	got, _ := h.Store.Get(ctx, "k")
	if string(got) != "v" {
		t.Fatalf("expected key to survive after sliding expiry, got %q", got)
	}
	h.Advance(2 * time.Second)
	got, _ = h.Store.Get(ctx, "k")
	if got != nil {
		t.Fatalf("expected key to expire after the slid deadline")
	}
}

func testExpireMissing(t *testing.T, factory Factory) {
	h := factory(t)
	ok, err := h.Store.Expire(context.Background(), "missing", time.Minute)
	if err != nil {
		t.Fatalf("expire failed: %v", err)
	}
	if ok {
		t.Fatalf("expected expire on missing key to report false")
	}
}

func testTTLRemaining(t *testing.T, factory Factory) {
	h := factory(t)
	ctx := context.Background()

	_ = h.Store.SetEx(ctx, "k", []byte("v"), time.Minute)
	h.Advance(20 * time.Second)
	ttl, err := h.Store.TTL(ctx, "k")
	if err != nil {
		t.Fatalf("ttl failed: %v", err)
	}
	if ttl <= 0 || ttl > 40*time.Second {
		t.Fatalf("expected remaining ttl in (0, 40s], got %v", ttl)
	}
}

func testKeysPattern(t *testing.T, factory Factory) {
	h := factory(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = h.Store.SetEx(ctx, fmt.Sprintf("mcp:session:s%d", i), []byte("x"), time.Hour)
	}
	_ = h.Store.SetEx(ctx, "other:key", []byte("x"), time.Hour)

	keys, err := h.Store.Keys(ctx, "mcp:session:*")
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	sort.Strings(keys)
	want := []string{"mcp:session:s0", "mcp:session:s1", "mcp:session:s2"}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
}

func testKeysSkipsExpired(t *testing.T, factory Factory) {
	h := factory(t)
	ctx := context.Background()

	_ = h.Store.SetEx(ctx, "p:short", []byte("x"), 5*time.Second)
	_ = h.Store.SetEx(ctx, "p:long", []byte("x"), time.Hour)
	h.Advance(6 * time.Second)

	keys, err := h.Store.Keys(ctx, "p:*")
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "p:long" {
		t.Fatalf("expected only p:long, got %v", keys)
	}
}

func testParallelWriters(t *testing.T, factory Factory) {
	h := factory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := h.Store.SetEx(ctx, "shared", []byte(fmt.Sprintf("w%d", i)), time.Hour); err != nil {
				errs <- err
				return
			}
			if _, err := h.Store.Get(ctx, "shared"); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent op failed: %v", err)
	}
	got, _ := h.Store.Get(ctx, "shared")
	if len(got) == 0 || got[0] != 'w' {
		t.Fatalf("expected one writer's value to win, got %q", got)
	}
}

func testPing(t *testing.T, factory Factory) {
	h := factory(t)
	if err := h.Store.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}
