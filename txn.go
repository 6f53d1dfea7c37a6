package mongolite

import (
	"go.mongodb.org/mongo-driver/bson"

	"mongolite/dberr"
	"mongolite/internal/index"
	"mongolite/internal/matcher"
	"mongolite/internal/oid"
	"mongolite/internal/query"
	"mongolite/internal/storage"
)

// Txn is an explicit, caller-driven write transaction spanning multiple
// collection operations, per spec.md §6's "optional explicit begin /
// commit / rollback bracketing for composing multiple top-level
// operations" and exercised by spec.md §8 scenario 5 ("Begin explicit
// transaction; insert_one; rollback; count is 0"). Every Collection
// write method already opens and commits its own storage write
// transaction internally (collection.go's openWrite); Txn gives a caller a way to
// hold that same machinery open across several calls instead.
type Txn struct {
	db   *Database
	wtx  *storage.WriteTxn
	done bool
}

// Begin starts an explicit write transaction. It blocks until any other
// write transaction (explicit or one opened internally by a Collection
// method) finishes, exactly like storage.Environment.BeginWrite.
func (db *Database) Begin() (*Txn, error) {
	return &Txn{db: db, wtx: db.env.BeginWrite()}, nil
}

// Commit persists every operation run through t.
func (t *Txn) Commit() error {
	if t.done {
		return dberr.New(dberr.CodeInvalidState, "mongolite", "transaction already finished")
	}
	t.done = true
	return t.wtx.Commit()
}

// Rollback discards every operation run through t. Safe to call after
// Commit has already run (a no-op then), mirroring storage.WriteTxn.Abort.
func (t *Txn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.wtx.Abort()
}

// collection resolves name to a handle plus its live index trees, opened
// against this transaction's snapshot rather than a fresh one.
func (t *Txn) collection(name string) (*Collection, []*index.Tree, error) {
	col := t.db.newCollectionHandle(name)
	trees, err := col.openIndexTrees(t.wtx)
	if err != nil {
		return nil, nil, err
	}
	return col, trees, nil
}

// InsertOne inserts doc into collection name under this transaction.
func (t *Txn) InsertOne(name string, doc bson.D) (oid.ID, error) {
	ids, err := t.InsertMany(name, []bson.D{doc})
	if err != nil {
		return oid.Nil, err
	}
	return ids[0], nil
}

// InsertMany inserts docs into collection name under this transaction.
func (t *Txn) InsertMany(name string, docs []bson.D) ([]oid.ID, error) {
	col, trees, err := t.collection(name)
	if err != nil {
		return nil, err
	}
	return col.insertManyBody(t.wtx, trees, docs)
}

// UpdateOne applies update to the first document in name matching filter,
// under this transaction.
func (t *Txn) UpdateOne(name string, filter, update bson.D, opts ...UpdateOption) (matched, modified int64, err error) {
	col, trees, err := t.collection(name)
	if err != nil {
		return 0, 0, err
	}
	return col.updateBody(t.wtx, trees, filter, update, false, resolveUpdateOptions(opts))
}

// UpdateMany applies update to every document in name matching filter,
// under this transaction.
func (t *Txn) UpdateMany(name string, filter, update bson.D, opts ...UpdateOption) (matched, modified int64, err error) {
	col, trees, err := t.collection(name)
	if err != nil {
		return 0, 0, err
	}
	return col.updateBody(t.wtx, trees, filter, update, true, resolveUpdateOptions(opts))
}

// DeleteOne deletes the first document in name matching filter, under
// this transaction.
func (t *Txn) DeleteOne(name string, filter bson.D) (int64, error) {
	col, trees, err := t.collection(name)
	if err != nil {
		return 0, err
	}
	return col.deleteBody(t.wtx, trees, filter, false)
}

// DeleteMany deletes every document in name matching filter, under this
// transaction.
func (t *Txn) DeleteMany(name string, filter bson.D) (int64, error) {
	col, trees, err := t.collection(name)
	if err != nil {
		return 0, err
	}
	return col.deleteBody(t.wtx, trees, filter, true)
}

// FindOne returns the first document in name matching filter, reading
// this transaction's own uncommitted writes along with committed state
// (the same WriteTxn.OpenSubTree view Collection's own write methods use
// to re-fetch a document they just wrote).
func (t *Txn) FindOne(name string, filter bson.D, proj ...bson.D) (bson.D, bool, error) {
	col, trees, err := t.collection(name)
	if err != nil {
		return nil, false, err
	}
	plan := query.Build(filter, col.cachedIndexes())
	ids, err := col.writeCandidates(t.wtx, plan, trees)
	if err != nil {
		return nil, false, err
	}
	for _, id := range ids {
		doc, ok, err := col.fetchWrite(t.wtx, id)
		if err != nil {
			return nil, false, err
		}
		if !ok || !matcher.Match(doc, plan.Residual) {
			continue
		}
		doc, err = applyProjection(doc, proj)
		if err != nil {
			return nil, false, err
		}
		return doc, true, nil
	}
	return nil, false, nil
}

// Count returns name's live document count as seen by this transaction.
func (t *Txn) Count(name string) (int64, error) {
	col, _, err := t.collection(name)
	if err != nil {
		return 0, err
	}
	sub := t.wtx.OpenSubTree(col.subTree(), 0, 0)
	raw, ok := sub.Get(collectionMetaKey)
	if !ok {
		return 0, nil
	}
	return decodeCollectionMeta(raw), nil
}
