package session

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCachePutGet(t *testing.T) {
	t.Parallel()

	c := NewCache[string](time.Minute)
	c.Put("s1", "hello")

	got, ok := c.Get("s1")
	if !ok || got != "hello" {
		t.Fatalf("Get = %q, %v; want hello, true", got, ok)
	}

	// Get does not consume.
	if _, ok := c.Get("s1"); !ok {
		t.Error("second Get missed; Get must not consume")
	}
}

func TestCacheTakeConsumes(t *testing.T) {
	t.Parallel()

	c := NewCache[string](time.Minute)
	c.Put("s1", "pending message")

	got, ok := c.Take("s1")
	if !ok || got != "pending message" {
		t.Fatalf("Take = %q, %v; want pending message, true", got, ok)
	}
	if _, ok := c.Take("s1"); ok {
		t.Error("second Take hit; Take must consume the entry")
	}
	if _, ok := c.Get("s1"); ok {
		t.Error("Get hit after Take")
	}
}

func TestCacheOverwriteResetsExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := NewCache[string](time.Minute)
	c.now = func() time.Time { return now }

	c.Put("s1", "first")
	now = now.Add(45 * time.Second)
	c.Put("s1", "second")

	// 45s + 30s exceeds the original expiry but not the refreshed one.
	now = now.Add(30 * time.Second)
	got, ok := c.Get("s1")
	if !ok || got != "second" {
		t.Fatalf("Get = %q, %v; want second, true", got, ok)
	}
}

func TestCacheExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := NewCache[int](time.Minute)
	c.now = func() time.Time { return now }

	c.Put("s1", 42)
	now = now.Add(time.Minute + time.Second)

	if _, ok := c.Get("s1"); ok {
		t.Error("Get returned an expired entry")
	}

	c.Put("s2", 7)
	now = now.Add(2 * time.Minute)
	if _, ok := c.Take("s2"); ok {
		t.Error("Take returned an expired entry")
	}
}

func TestCacheSweepEvictsOnlyExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := NewCache[int](time.Minute)
	c.now = func() time.Time { return now }

	c.Put("old", 1)
	now = now.Add(40 * time.Second)
	c.Put("fresh", 2)
	now = now.Add(30 * time.Second)

	if evicted := c.sweep(); evicted != 1 {
		t.Fatalf("sweep evicted %d, want 1", evicted)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d after sweep, want 1", c.Len())
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("sweep evicted a live entry")
	}
}

func TestCacheConcurrentTakeIsExclusive(t *testing.T) {
	t.Parallel()

	c := NewCache[string](time.Minute)
	const rounds = 100

	for i := 0; i < rounds; i++ {
		key := fmt.Sprintf("s%d", i)
		c.Put(key, "v")

		var wg sync.WaitGroup
		hits := make(chan struct{}, 8)
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok := c.Take(key); ok {
					hits <- struct{}{}
				}
			}()
		}
		wg.Wait()
		close(hits)

		n := 0
		for range hits {
			n++
		}
		if n != 1 {
			t.Fatalf("round %d: %d goroutines took the entry, want exactly 1", i, n)
		}
	}
}
