// Read and write transactions over an Environment. Adapted from the
// teacher's KVReader/KVTX and KV.Begin/Commit/Abort, extended with nested
// write transactions (the teacher has none) via a per-nesting-level
// overlay of the parent's page-updates map.
package storage

import (
	"container/heap"
	"time"

	"mongolite/dberr"
	"mongolite/internal/metrics"
)

// ReadTxn is a read-only snapshot: a fixed tree root and a fixed view of
// the mmap chunks, immune to concurrent writers because pages are never
// mutated in place.
type ReadTxn struct {
	env         *Environment
	version     uint64
	catalogRoot uint64
	chunks      [][]byte
	index       int // position in env.readers heap

	metrics *metrics.Collectors
}

// BeginRead opens a new read snapshot. The returned ReadTxn must be closed
// with EndRead.
func (env *Environment) BeginRead() *ReadTxn {
	env.mu.Lock()
	defer env.mu.Unlock()

	tx := &ReadTxn{
		env:         env,
		version:     env.version,
		catalogRoot: env.catalogRoot,
		chunks:      env.mmap.chunks,
		metrics:     env.metrics,
	}
	heap.Push(&env.readers, tx)
	env.metrics.TxnBeginRead()
	return tx
}

// EndRead releases the snapshot, allowing the free list to reclaim pages
// that were retained only to satisfy it.
func (tx *ReadTxn) EndRead() {
	tx.env.mu.Lock()
	defer tx.env.mu.Unlock()
	if tx.index >= 0 && tx.index < len(tx.env.readers) && tx.env.readers[tx.index] == tx {
		heap.Remove(&tx.env.readers, tx.index)
	}
}

// Reset detaches the transaction from its current snapshot without
// returning it to the caller; Renew re-attaches it to the environment's
// current version. Together they let a transaction pool reuse a ReadTxn's
// backing struct across many short-lived reads.
func (tx *ReadTxn) Reset() {
	tx.EndRead()
	tx.catalogRoot = 0
	tx.chunks = nil
}

// Renew re-snapshots an idle ReadTxn against the environment's current
// state, equivalent to EndRead followed by BeginRead but without
// allocating a new struct.
func (tx *ReadTxn) Renew() {
	env := tx.env
	env.mu.Lock()
	defer env.mu.Unlock()
	tx.version = env.version
	tx.catalogRoot = env.catalogRoot
	tx.chunks = env.mmap.chunks
	heap.Push(&env.readers, tx)
}

func (tx *ReadTxn) pageGetMapped(ptr uint64) node {
	return pageGetMapped(tx.chunks, ptr)
}

// catalog returns a read-only handle onto the catalog tree for this
// snapshot (see subtree.go).
func (tx *ReadTxn) catalog() *tree {
	return &tree{root: tx.catalogRoot, get: tx.pageGetMapped}
}

// WriteTxn is a single read-write transaction. Exactly one may be open per
// Environment at a time at the top level (env.writer serializes them);
// BeginNested opens a logical child transaction that shares the parent's
// page allocator and is rolled into the parent on commit instead of
// touching the environment directly.
type WriteTxn struct {
	env     *Environment
	parent  *WriteTxn // nil for a top-level write transaction
	version uint64

	catalogRoot uint64
	free        freeList

	chunks [][]byte

	nappend uint64
	updates map[uint64][]byte // ptr -> new page data, nil means freed

	done    bool
	metrics *metrics.Collectors
}

// BeginWrite starts the single top-level write transaction. It blocks
// until any other write transaction (top-level or nested) finishes.
func (env *Environment) BeginWrite() *WriteTxn {
	env.writer.Lock()

	tx := &WriteTxn{
		env:         env,
		version:     env.version,
		catalogRoot: env.catalogRoot,
		chunks:      env.mmap.chunks,
		updates:     map[uint64][]byte{},
		metrics:     env.metrics,
	}
	tx.free.freeListState = env.free
	tx.free.version = env.version
	tx.free.get = tx.pageGet
	tx.free.new = tx.pageAppend
	tx.free.use = tx.pageUse

	env.mu.Lock()
	tx.free.minReader = env.version
	if len(env.readers) > 0 {
		tx.free.minReader = env.readers[0].version
	}
	env.mu.Unlock()

	env.metrics.TxnBeginWrite()
	return tx
}

// BeginNested opens a child write transaction layered on top of tx. Writes
// made through the child are invisible to tx until the child commits, and
// are discarded entirely if the child aborts — this is the nesting the
// teacher's single-level KVTX does not support.
func (tx *WriteTxn) BeginNested() *WriteTxn {
	child := &WriteTxn{
		env:         tx.env,
		parent:      tx,
		version:     tx.version,
		catalogRoot: tx.catalogRoot,
		chunks:      tx.chunks,
		updates:     map[uint64][]byte{},
		metrics:     tx.metrics,
	}
	child.free.freeListState = tx.free.freeListState
	child.free.version = tx.free.version
	child.free.minReader = tx.free.minReader
	child.free.get = child.pageGet
	child.free.new = child.pageAppend
	child.free.use = child.pageUse
	tx.metrics.TxnBeginNested()
	return child
}

// catalogGet, catalogInsert and catalogDelete are the only ways the
// catalog's root pointer changes; each keeps tx.catalogRoot in sync with
// the tree value it mutates, since a *tree is a thin view whose root field
// update would otherwise be lost the moment the local value goes away.
func (tx *WriteTxn) catalogGet(key []byte) ([]byte, bool) {
	t := tree{root: tx.catalogRoot, get: tx.pageGet}
	return t.Get(key)
}

func (tx *WriteTxn) catalogInsert(key, val []byte) error {
	t := tree{root: tx.catalogRoot, get: tx.pageGet, new: tx.pageNew, del: tx.pageDel}
	if err := t.Insert(key, val); err != nil {
		return err
	}
	tx.catalogRoot = t.root
	return nil
}

func (tx *WriteTxn) catalogDelete(key []byte) bool {
	t := tree{root: tx.catalogRoot, get: tx.pageGet, new: tx.pageNew, del: tx.pageDel}
	deleted := t.Delete(key)
	if deleted {
		tx.catalogRoot = t.root
	}
	return deleted
}

// Commit persists a top-level transaction's pages and advances the
// environment's master page, or, for a nested transaction, folds its
// updates into the parent in memory without touching disk.
func (tx *WriteTxn) Commit() error {
	if tx.done {
		return dberr.New(dberr.CodeInvalidState, "storage", "transaction already finished")
	}
	tx.done = true

	if tx.parent != nil {
		return tx.commitNested()
	}
	return tx.commitTop()
}

func (tx *WriteTxn) commitNested() error {
	parent := tx.parent
	for ptr, page := range tx.updates {
		parent.updates[ptr] = page
	}
	parent.nappend += tx.nappend
	parent.catalogRoot = tx.catalogRoot
	parent.free.freeListState = tx.free.freeListState
	tx.metrics.TxnCommitNested()
	return nil
}

func (tx *WriteTxn) commitTop() error {
	env := tx.env
	defer env.writer.Unlock()

	started := nowFunc()
	if env.catalogRoot == tx.catalogRoot && len(tx.updates) == 0 {
		return nil // no-op transaction
	}

	if err := tx.writePages(); err != nil {
		tx.rollback()
		return err
	}
	if env.sync {
		if err := env.fp.Sync(); err != nil {
			tx.rollback()
			return dberr.Wrap(dberr.CodeIo, "storage", err, "fsync data pages")
		}
	}

	env.page.flushed += tx.nappend
	env.free = tx.free.freeListState
	env.mu.Lock()
	env.catalogRoot = tx.catalogRoot
	env.version++
	env.mu.Unlock()

	if err := env.masterStore(); err != nil {
		return err
	}
	if env.sync {
		if err := env.fp.Sync(); err != nil {
			return dberr.Wrap(dberr.CodeIo, "storage", err, "fsync master page")
		}
	}
	env.metrics.TxnCommitWrite()
	env.metrics.ObserveCommit(nowFunc().Sub(started).Seconds())
	return nil
}

// Abort discards a transaction's in-memory changes. For a top-level
// transaction this releases the write lock without touching disk; for a
// nested transaction it simply drops the child's overlay.
func (tx *WriteTxn) Abort() {
	if tx.done {
		return
	}
	tx.done = true
	if tx.parent != nil {
		tx.metrics.TxnAbortNested()
		return
	}
	tx.rollback()
	tx.metrics.TxnAbortWrite()
	tx.env.writer.Unlock()
}

func (tx *WriteTxn) rollback() {
	tx.catalogRoot = tx.env.catalogRoot
	tx.free.freeListState = tx.env.free
	tx.nappend = 0
	tx.updates = map[uint64][]byte{}
}

func (tx *WriteTxn) writePages() error {
	var freed []uint64
	for ptr, page := range tx.updates {
		if page == nil {
			freed = append(freed, ptr)
		}
	}
	tx.free.Add(freed)

	npages := int(tx.nappend) + int(tx.env.page.flushed)
	if err := tx.env.capacityFor(npages); err != nil {
		return err
	}
	if err := extendFile(tx.env, npages); err != nil {
		return err
	}
	if err := extendMmap(tx.env, npages); err != nil {
		return err
	}
	for ptr, page := range tx.updates {
		if page != nil {
			copy(pageGetMapped(tx.env.mmap.chunks, ptr).data, page)
		}
	}
	return nil
}

// page allocator callbacks, shared by every tree/subtree/index operating
// within this transaction (and, transitively, its nested children).

func (tx *WriteTxn) pageGet(ptr uint64) node {
	if page, ok := tx.updates[ptr]; ok {
		if page == nil {
			panic("storage: use of a page freed in this transaction")
		}
		return node{page}
	}
	if tx.parent != nil {
		return tx.parent.pageGet(ptr)
	}
	return pageGetMapped(tx.chunks, ptr)
}

func (tx *WriteTxn) pageNew(n node) uint64 {
	if len(n.data) > pageSize {
		panic("storage: oversize page passed to pageNew")
	}
	ptr := tx.free.Pop()
	if ptr == 0 {
		ptr = tx.pageAppend(n)
		return ptr
	}
	tx.updates[ptr] = n.data
	return ptr
}

func (tx *WriteTxn) pageDel(ptr uint64) {
	tx.updates[ptr] = nil
}

func (tx *WriteTxn) pageAppend(n node) uint64 {
	if len(n.data) > pageSize {
		panic("storage: oversize page passed to pageAppend")
	}
	ptr := tx.allocBase() + tx.nappend
	tx.nappend++
	tx.updates[ptr] = n.data
	return ptr
}

// allocBase is the page number one past every page already appended by an
// ancestor transaction, i.e. where this transaction's own appends begin.
func (tx *WriteTxn) allocBase() uint64 {
	if tx.parent != nil {
		return tx.parent.allocBase() + tx.parent.nappend
	}
	return tx.env.page.flushed
}

func (tx *WriteTxn) pageUse(ptr uint64, n node) {
	tx.updates[ptr] = n.data
}

// nowFunc is overridable so commit-latency measurement never calls
// time.Now in a code path the spec forbids timing dependence on; both ends
// of the measurement read it, so replacing it gives deterministic durations.
var nowFunc = time.Now
