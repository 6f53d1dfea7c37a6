package txpool

import (
	"path/filepath"
	"testing"

	"mongolite/internal/storage"
)

func setupEnv(t *testing.T) *storage.Environment {
	t.Helper()
	env, err := storage.Open(filepath.Join(t.TempDir(), "pool.mdb"), storage.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { env.Close() })
	return env
}

func TestAcquireReleaseReusesTxn(t *testing.T) {
	env := setupEnv(t)
	p := New(env, 2)

	tx := p.Acquire()
	if tx == nil {
		t.Fatal("Acquire returned nil")
	}
	p.Release(tx)

	tx2 := p.Acquire()
	if tx2 != tx {
		t.Fatal("Acquire after Release should reuse the pooled ReadTxn")
	}
	p.Release(tx2)
}

func TestPoolCapacityDropsExcess(t *testing.T) {
	env := setupEnv(t)
	p := New(env, 1)

	a := p.Acquire()
	b := p.Acquire()
	p.Release(a)
	p.Release(b) // pool already holds a's slot; b is discarded, not stored

	p.mu.Lock()
	n := len(p.idle)
	p.mu.Unlock()
	if n != 1 {
		t.Fatalf("idle pool size = %d, want 1", n)
	}
}

func TestDefaultSizeAppliedWhenZero(t *testing.T) {
	env := setupEnv(t)
	p := New(env, 0)
	if p.size != DefaultSize {
		t.Fatalf("size = %d, want %d", p.size, DefaultSize)
	}
}

func TestCloseEndsIdleSnapshots(t *testing.T) {
	env := setupEnv(t)
	p := New(env, 2)
	tx := p.Acquire()
	p.Release(tx)
	p.Close()

	p.mu.Lock()
	n := len(p.idle)
	p.mu.Unlock()
	if n != 0 {
		t.Fatalf("idle pool size after Close = %d, want 0", n)
	}
}
