package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"mongolite/dberr"
)

func setupTestEnv(t *testing.T) *Environment {
	t.Helper()
	dir := t.TempDir()
	env, err := Open(filepath.Join(dir, "test.mdb"), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { env.Close() })
	return env
}

func TestSubTreeInsertGetDelete(t *testing.T) {
	env := setupTestEnv(t)

	wtx := env.BeginWrite()
	st := wtx.OpenSubTree("col:widgets", 0, 0)
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		val := []byte(fmt.Sprintf("v%04d", i))
		if err := st.Insert(key, val); err != nil {
			t.Fatalf("Insert(%s): %v", key, err)
		}
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rtx := env.BeginRead()
	defer rtx.EndRead()
	rt, ok := rtx.ReadSubTree("col:widgets")
	if !ok {
		t.Fatal("sub-tree not found after commit")
	}
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		want := fmt.Sprintf("v%04d", i)
		got, ok := rt.Get(key)
		if !ok || string(got) != want {
			t.Fatalf("Get(%s) = (%q, %v), want (%q, true)", key, got, ok, want)
		}
	}

	wtx2 := env.BeginWrite()
	st2 := wtx2.OpenSubTree("col:widgets", 0, 0)
	for i := 0; i < 200; i += 2 {
		key := []byte(fmt.Sprintf("k%04d", i))
		if !st2.Delete(key) {
			t.Fatalf("Delete(%s) returned false", key)
		}
	}
	if err := wtx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rtx2 := env.BeginRead()
	defer rtx2.EndRead()
	rt2, _ := rtx2.ReadSubTree("col:widgets")
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		_, ok := rt2.Get(key)
		if i%2 == 0 && ok {
			t.Fatalf("Get(%s) still present after delete", key)
		}
		if i%2 == 1 && !ok {
			t.Fatalf("Get(%s) missing but was never deleted", key)
		}
	}
}

func TestCursorForwardAndBackward(t *testing.T) {
	env := setupTestEnv(t)

	wtx := env.BeginWrite()
	st := wtx.OpenSubTree("col:ordered", 0, 0)
	for i := 0; i < 500; i++ {
		key := []byte(fmt.Sprintf("k%05d", i))
		if err := st.Insert(key, key); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rtx := env.BeginRead()
	defer rtx.EndRead()
	rt, _ := rtx.ReadSubTree("col:ordered")
	c := rtx.CursorFor(rt)

	c.First()
	count := 0
	for c.Valid() {
		key, _ := c.Deref()
		want := fmt.Sprintf("k%05d", count)
		if string(key) != want {
			t.Fatalf("forward scan at %d: got %s, want %s", count, key, want)
		}
		count++
		c.Next()
	}
	if count != 500 {
		t.Fatalf("forward scan visited %d keys, want 500", count)
	}

	c.Last()
	count = 0
	for c.Valid() {
		key, _ := c.Deref()
		want := fmt.Sprintf("k%05d", 499-count)
		if string(key) != want {
			t.Fatalf("backward scan at %d: got %s, want %s", count, key, want)
		}
		count++
		c.Prev()
	}
	if count != 500 {
		t.Fatalf("backward scan visited %d keys, want 500", count)
	}
}

func TestNestedWriteTxnCommit(t *testing.T) {
	env := setupTestEnv(t)

	top := env.BeginWrite()
	outer := top.OpenSubTree("col:nested", 0, 0)
	if err := outer.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	child := top.BeginNested()
	inner := child.OpenSubTree("col:nested", 0, 0)
	if err := inner.Insert([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := child.Commit(); err != nil {
		t.Fatalf("nested Commit: %v", err)
	}

	// the parent must see the child's write once the child commits, even
	// though the parent has not committed to disk yet.
	again := top.OpenSubTree("col:nested", 0, 0)
	if _, ok := again.Get([]byte("b")); !ok {
		t.Fatal("parent transaction does not see committed nested write")
	}

	if err := top.Commit(); err != nil {
		t.Fatalf("top Commit: %v", err)
	}

	rtx := env.BeginRead()
	defer rtx.EndRead()
	rt, _ := rtx.ReadSubTree("col:nested")
	if _, ok := rt.Get([]byte("a")); !ok {
		t.Fatal("outer write missing after commit")
	}
	if _, ok := rt.Get([]byte("b")); !ok {
		t.Fatal("nested write missing after commit")
	}
}

func TestNestedWriteTxnAbortDiscardsChanges(t *testing.T) {
	env := setupTestEnv(t)

	top := env.BeginWrite()
	outer := top.OpenSubTree("col:nested-abort", 0, 0)
	if err := outer.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	child := top.BeginNested()
	inner := child.OpenSubTree("col:nested-abort", 0, 0)
	if err := inner.Insert([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	child.Abort()

	again := top.OpenSubTree("col:nested-abort", 0, 0)
	if _, ok := again.Get([]byte("b")); ok {
		t.Fatal("aborted nested write leaked into parent")
	}
	if err := top.Commit(); err != nil {
		t.Fatalf("top Commit: %v", err)
	}
}

func TestWriteTxnAbortRollsBackCatalog(t *testing.T) {
	env := setupTestEnv(t)

	wtx := env.BeginWrite()
	st := wtx.OpenSubTree("col:rolled-back", 0, 0)
	if err := st.Insert([]byte("x"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	wtx.Abort()

	rtx := env.BeginRead()
	defer rtx.EndRead()
	if _, ok := rtx.ReadSubTree("col:rolled-back"); ok {
		t.Fatal("aborted sub-tree creation is visible to a new reader")
	}
}

func TestReopenRecoversMasterPage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reopen.mdb")

	env, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	wtx := env.BeginWrite()
	st := wtx.OpenSubTree("col:durable", 0, 0)
	if err := st.Insert([]byte("k"), []byte("persisted")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	env2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer env2.Close()

	rtx := env2.BeginRead()
	defer rtx.EndRead()
	rt, ok := rtx.ReadSubTree("col:durable")
	if !ok {
		t.Fatal("sub-tree missing after reopen")
	}
	val, ok := rt.Get([]byte("k"))
	if !ok || string(val) != "persisted" {
		t.Fatalf("Get after reopen = (%q, %v)", val, ok)
	}
}

func TestCommitFailsMapFullThenResizeRecovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capped.mdb")
	env, err := Open(path, Options{MaxBytes: pageSize})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer env.Close()

	wtx := env.BeginWrite()
	st := wtx.OpenSubTree("col:capped", 0, 0)
	if err := st.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := wtx.Commit(); !errors.Is(err, dberr.ErrMapFull) {
		t.Fatalf("Commit error = %v, want MapFull", err)
	}

	rtx := env.BeginRead()
	if _, ok := rtx.ReadSubTree("col:capped"); ok {
		rtx.EndRead()
		t.Fatal("sub-tree from a rejected commit is visible")
	}
	rtx.EndRead()

	if err := env.Resize(64 * pageSize); err != nil {
		t.Fatalf("Resize: %v", err)
	}

	wtx2 := env.BeginWrite()
	st2 := wtx2.OpenSubTree("col:capped", 0, 0)
	if err := st2.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert after resize: %v", err)
	}
	if err := wtx2.Commit(); err != nil {
		t.Fatalf("Commit after resize: %v", err)
	}

	rtx2 := env.BeginRead()
	defer rtx2.EndRead()
	rt, ok := rtx2.ReadSubTree("col:capped")
	if !ok {
		t.Fatal("sub-tree missing after successful retry")
	}
	if val, ok := rt.Get([]byte("a")); !ok || string(val) != "1" {
		t.Fatalf("Get after resize+retry = (%q, %v)", val, ok)
	}
}

func TestResizeRejectsShrinkingBelowCommittedSize(t *testing.T) {
	env := setupTestEnv(t)
	wtx := env.BeginWrite()
	st := wtx.OpenSubTree("col:sized", 0, 0)
	if err := st.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := env.Resize(1); !errors.Is(err, dberr.ErrInvalidArgument) {
		t.Fatalf("Resize(1) error = %v, want InvalidArgument", err)
	}
}

func TestStatsReportsVersionAndSize(t *testing.T) {
	env := setupTestEnv(t)
	wtx := env.BeginWrite()
	st := wtx.OpenSubTree("col:stats", 0, 0)
	if err := st.Insert([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	stats := env.Stats()
	if stats.Version == 0 {
		t.Fatal("Stats().Version did not advance after commit")
	}
	if stats.FileBytes == 0 {
		t.Fatal("Stats().FileBytes is zero after a commit that appended pages")
	}
}
