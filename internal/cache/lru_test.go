package cache

import (
	"errors"
	"testing"
	"time"
)

func TestLRUCache(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a missing")
	}
	c.Set("c", 3) // evicts b, a was touched
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Errorf("Get(c) = %v, %v", v, ok)
	}

	c.Set("a", 10)
	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("overwrite Get(a) = %d", v)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("a should have expired")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Errorf("CleanExpired() = %d, want 1", n)
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d", c.Size())
	}
}

func TestLRUCachePurgeAndDelete(t *testing.T) {
	c := NewLRUCache[string](0, time.Minute)
	c.Set("x", "1")
	if c.Size() != 1 {
		t.Fatalf("Size() = %d, want 1 with clamped capacity", c.Size())
	}
	c.Delete("x")
	c.Delete("missing")
	if c.Size() != 0 {
		t.Errorf("Size() after delete = %d", c.Size())
	}

	c.Set("y", "2")
	c.Purge()
	if _, ok := c.Get("y"); ok || c.Size() != 0 {
		t.Error("Purge left entries behind")
	}
	c.Set("z", "3")
	if v, ok := c.Get("z"); !ok || v != "3" {
		t.Error("cache unusable after Purge")
	}
}

func TestManager(t *testing.T) {
	c := NewLRUCache[int](4, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("a", 1)
	c.Set("b", 2)

	m := NewManager()
	m.Register(c)
	now = now.Add(time.Hour)
	if n := m.CleanNow(); n != 2 {
		t.Errorf("CleanNow() = %d, want 2", n)
	}

	m.StartCleanup(time.Millisecond)
	m.StartCleanup(time.Millisecond)
	m.Stop()
	m.Stop()

	NewManager().Stop()
}

func TestLRUCacheGetOrLoad(t *testing.T) {
	c := NewLRUCache[int](4, time.Minute)
	calls := 0
	load := func() (int, error) {
		calls++
		return calls, nil
	}

	if v, err := c.GetOrLoad("k", load); err != nil || v != 1 {
		t.Fatalf("first GetOrLoad = %d, %v", v, err)
	}
	if v, _ := c.GetOrLoad("k", load); v != 1 || calls != 1 {
		t.Errorf("cached GetOrLoad = %d after %d loads", v, calls)
	}

	if _, err := c.GetOrLoad("bad", func() (int, error) { return 0, errors.New("boom") }); err == nil {
		t.Error("load error not returned")
	}
	if _, ok := c.Get("bad"); ok {
		t.Error("failed load was cached")
	}
}

func TestLRUCachePurgeDuringLoadDiscardsValue(t *testing.T) {
	c := NewLRUCache[string](4, time.Minute)
	v, err := c.GetOrLoad("ledger", func() (string, error) {
		c.Purge() // a change lands while the load is reading
		return "stale", nil
	})
	if err != nil || v != "stale" {
		t.Fatalf("GetOrLoad = %q, %v", v, err)
	}
	if _, ok := c.Get("ledger"); ok {
		t.Error("value loaded across a purge was cached")
	}

	v, _ = c.GetOrLoad("ledger", func() (string, error) { return "fresh", nil })
	if got, ok := c.Get("ledger"); !ok || got != "fresh" || v != "fresh" {
		t.Errorf("after purge Get = %q, %v", got, ok)
	}
}
