// Named sub-trees: the catalog is itself a B+-tree, mapping a sub-tree
// name (e.g. "col:orders", "idx:orders:by_email", "__catalog__") to that
// sub-tree's root pointer plus a small flags/ordering word. The master
// page only ever needs to reference the catalog's own root; every other
// root lives inside it. This has no equivalent in the teacher, whose KV
// exposes exactly one implicit tree — it generalizes the teacher's single
// root pointer into an arbitrary number of named roots built the same way.
package storage

import (
	"bytes"
	"encoding/binary"

	"mongolite/dberr"
)

// SubTreeFlags are caller-defined bits a higher layer (collection/index)
// stashes alongside a root pointer; the page store does not interpret
// them.
type SubTreeFlags uint16

// Sub-tree key orderings, recorded in the catalog entry at creation time
// and re-applied on every later OpenSubTree/ReadSubTree for that name (see
// DESIGN.md's "custom sub-tree ordering" decision). SubTreeOrderAsc is the
// default every collection/index sub-tree uses today; SubTreeOrderDesc
// exists for a future reverse-scanned sub-tree (e.g. newest-first TTL
// buckets) without requiring a second tree implementation.
const (
	SubTreeOrderAsc  uint16 = 0
	SubTreeOrderDesc uint16 = 1
)

// orderingCmp returns the byte comparator a sub-tree's catalog-recorded
// ordering implies, or nil for the default ascending bytes.Compare (tree.
// compare falls back to it directly, so the common case pays no extra
// indirection).
func orderingCmp(ordering uint16) func(a, b []byte) int {
	if ordering == SubTreeOrderDesc {
		return func(a, b []byte) int { return bytes.Compare(b, a) }
	}
	return nil
}

// catalogEntrySize is root(8) + flags(2) + orderingID(2).
const catalogEntrySize = 8 + 2 + 2

func encodeCatalogEntry(root uint64, flags SubTreeFlags, ordering uint16) []byte {
	buf := make([]byte, catalogEntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], root)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(flags))
	binary.LittleEndian.PutUint16(buf[10:12], ordering)
	return buf
}

func decodeCatalogEntry(buf []byte) (root uint64, flags SubTreeFlags, ordering uint16) {
	root = binary.LittleEndian.Uint64(buf[0:8])
	flags = SubTreeFlags(binary.LittleEndian.Uint16(buf[8:10]))
	ordering = binary.LittleEndian.Uint16(buf[10:12])
	return
}

// SubTreeInfo is the catalog's durable record for one named sub-tree.
type SubTreeInfo struct {
	Name     string
	Flags    SubTreeFlags
	Ordering uint16
}

// lookupSubTree finds an existing sub-tree's root and metadata by name.
func lookupSubTree(cat *tree, name string) (root uint64, flags SubTreeFlags, ordering uint16, ok bool) {
	val, found := cat.Get([]byte(name))
	if !found {
		return 0, 0, 0, false
	}
	root, flags, ordering = decodeCatalogEntry(val)
	return root, flags, ordering, true
}

// ReadSubTree opens a read-only view of a named sub-tree within tx. ok is
// false if no such sub-tree exists in this snapshot.
func (tx *ReadTxn) ReadSubTree(name string) (t *tree, ok bool) {
	root, _, ordering, found := lookupSubTree(tx.catalog(), name)
	if !found {
		return nil, false
	}
	return &tree{root: root, get: tx.pageGetMapped, cmp: orderingCmp(ordering)}, true
}

// ListSubTrees returns every catalog entry visible to this snapshot, used
// by the CLI "stats" subcommand and by collection/index bootstrap scans.
func (tx *ReadTxn) ListSubTrees() []SubTreeInfo {
	return scanCatalog(tx.catalog())
}

// ListSubTrees returns every catalog entry visible inside this write
// transaction, including any sub-trees it has itself created but not yet
// committed. Used by collection creation (to enforce max_collections) and
// index enumeration while already holding the write lock, so neither has
// to open a second, separate ReadTxn snapshot.
func (tx *WriteTxn) ListSubTrees() []SubTreeInfo {
	cat := tree{root: tx.catalogRoot, get: tx.pageGet}
	return scanCatalog(&cat)
}

// WriteSubTree is a mutable handle onto one named sub-tree, bound to a
// WriteTxn. Every mutating call updates the in-memory root and writes it
// back to the catalog immediately, so the catalog is never out of sync
// with the sub-tree's actual root within the transaction.
type WriteSubTree struct {
	tx       *WriteTxn
	name     string
	t        tree
	flags    SubTreeFlags
	ordering uint16
}

// OpenSubTree returns a mutable handle to an existing sub-tree, or creates
// one (empty, with the given flags/ordering) if it does not exist yet.
// For an existing sub-tree the flags and ordering recorded at creation
// apply; different values passed here are ignored, and no error is raised.
func (tx *WriteTxn) OpenSubTree(name string, flags SubTreeFlags, ordering uint16) *WriteSubTree {
	var root uint64
	val, ok := tx.catalogGet([]byte(name))
	if ok {
		var existingFlags SubTreeFlags
		var existingOrdering uint16
		root, existingFlags, existingOrdering = decodeCatalogEntry(val)
		flags, ordering = existingFlags, existingOrdering
	}
	st := &WriteSubTree{
		tx:       tx,
		name:     name,
		flags:    flags,
		ordering: ordering,
	}
	st.t = tree{root: root, get: tx.pageGet, new: tx.pageNew, del: tx.pageDel, cmp: orderingCmp(ordering)}
	if !ok {
		st.sync()
	}
	return st
}

// DropSubTree removes name's catalog entry. It does not walk and free the
// sub-tree's pages; the caller is expected to delete every key first (the
// collection/index layer always does, since it tracks its own document
// count), after which the sub-tree's pages were already returned to the
// free list by those deletes.
func (tx *WriteTxn) DropSubTree(name string) bool {
	return tx.catalogDelete([]byte(name))
}

func (st *WriteSubTree) Name() string        { return st.name }
func (st *WriteSubTree) Flags() SubTreeFlags { return st.flags }
func (st *WriteSubTree) Ordering() uint16    { return st.ordering }

func (st *WriteSubTree) Get(key []byte) ([]byte, bool) { return st.t.Get(key) }

func (st *WriteSubTree) Insert(key, val []byte) error {
	if err := st.t.Insert(key, val); err != nil {
		return err
	}
	st.sync()
	return nil
}

func (st *WriteSubTree) Delete(key []byte) bool {
	deleted := st.t.Delete(key)
	if deleted {
		st.sync()
	}
	return deleted
}

// sync writes this sub-tree's current root back into the catalog entry.
func (st *WriteSubTree) sync() {
	entry := encodeCatalogEntry(st.t.root, st.flags, st.ordering)
	if err := st.tx.catalogInsert([]byte(st.name), entry); err != nil {
		// the catalog key is a short fixed name and the value a fixed 12
		// bytes, so this can only fail if the page store itself is
		// corrupt; there is no recoverable path.
		panic(dberr.Wrap(dberr.CodeInternal, "storage", err, "sync catalog entry for %s", st.name))
	}
}

func (st *WriteSubTree) Cursor() *Cursor {
	return &Cursor{t: &st.t}
}

func (tx *ReadTxn) CursorFor(t *tree) *Cursor {
	return &Cursor{t: t}
}

func scanCatalog(cat *tree) []SubTreeInfo {
	var out []SubTreeInfo
	c := &Cursor{t: cat}
	c.First()
	for c.Valid() {
		key, val := c.Deref()
		root, flags, ordering := decodeCatalogEntry(val)
		_ = root
		out = append(out, SubTreeInfo{Name: string(key), Flags: flags, Ordering: ordering})
		c.Next()
	}
	return out
}
