package cache

import (
	"testing"
	"time"

	"mongolite/internal/oid"
)

func TestCacheDisabledWhenMaxEntriesZero(t *testing.T) {
	c := New(Options{})
	id := oid.New()
	c.Put(id, []byte("hello"))
	if _, ok := c.Get(id); ok {
		t.Fatal("disabled cache must never return a hit")
	}
}

func TestCachePutGetInvalidate(t *testing.T) {
	c := New(Options{MaxEntries: 10, MaxBytes: 1 << 20})
	id := oid.New()
	c.Put(id, []byte("hello"))

	v, ok := c.Get(id)
	if !ok || string(v) != "hello" {
		t.Fatalf("Get = %q, %v; want \"hello\", true", v, ok)
	}

	c.Invalidate(id)
	if _, ok := c.Get(id); ok {
		t.Fatal("entry still present after Invalidate")
	}
}

func TestCacheEvictsOnByteBudget(t *testing.T) {
	c := New(Options{MaxEntries: 100, MaxBytes: 10})
	a, b := oid.New(), oid.New()
	c.Put(a, make([]byte, 6))
	c.Put(b, make([]byte, 6))

	if _, ok := c.Get(a); ok {
		t.Fatal("oldest entry should have been evicted by byte budget")
	}
	if _, ok := c.Get(b); !ok {
		t.Fatal("newest entry should still be cached")
	}
	if c.Bytes() > 10 {
		t.Fatalf("Bytes() = %d, want <= 10", c.Bytes())
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New(Options{MaxEntries: 10, TTL: time.Millisecond})
	id := oid.New()
	c.Put(id, []byte("x"))
	time.Sleep(10 * time.Millisecond)
	if _, ok := c.Get(id); ok {
		t.Fatal("entry should have expired")
	}
}

func TestCachePurge(t *testing.T) {
	c := New(Options{MaxEntries: 10, MaxBytes: 1 << 20})
	c.Put(oid.New(), []byte("x"))
	c.Put(oid.New(), []byte("y"))
	c.Purge()
	if c.Len() != 0 || c.Bytes() != 0 {
		t.Fatalf("after Purge: Len=%d Bytes=%d, want 0, 0", c.Len(), c.Bytes())
	}
}
