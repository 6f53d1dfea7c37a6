package mongolite

import (
	"encoding/binary"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"mongolite/dberr"
	"mongolite/internal/bsonpath"
	"mongolite/internal/cache"
	"mongolite/internal/index"
	"mongolite/internal/matcher"
	"mongolite/internal/oid"
	"mongolite/internal/projection"
	"mongolite/internal/query"
	"mongolite/internal/storage"
	"mongolite/internal/updateop"

	"github.com/rs/zerolog"
)

// collectionMetaKey is a reserved 1-byte key (never a valid 12-byte
// primary key) holding the collection's live document count, the same
// trick internal/index uses for its own Def record.
var collectionMetaKey = []byte{0x00}

// Collection is a handle to one named, schemaless document collection.
// Grounded on the teacher's table-scoped Set/Get/GetRange/Delete surface
// in filodb_operations.go, generalized from fixed-column TableDef rows to
// bson.D documents keyed by a 12-byte object id.
type Collection struct {
	db    *Database
	name  string
	cache *cache.Cache
	log   zerolog.Logger
}

// Name returns this collection's name.
func (c *Collection) Name() string { return c.name }

func (c *Collection) subTree() string { return collectionSubTree(c.name) }

func encodeCollectionMeta(count int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(count))
	return buf
}

func decodeCollectionMeta(buf []byte) int64 {
	return int64(binary.LittleEndian.Uint64(buf))
}

// Count returns the number of live documents in the collection.
func (c *Collection) Count() (int64, error) {
	rtx := c.db.env.BeginRead()
	defer rtx.EndRead()
	sub, ok := rtx.ReadSubTree(c.subTree())
	if !ok {
		return 0, dberr.New(dberr.CodeNotFound, "mongolite", "collection %s not found", c.name)
	}
	raw, ok := sub.Get(collectionMetaKey)
	if !ok {
		return 0, nil
	}
	return decodeCollectionMeta(raw), nil
}

// refreshIndexes reloads this collection's cached index definitions from
// the catalog, called after CreateIndex/DropIndex and when a Collection
// handle is first opened.
func (c *Collection) refreshIndexes() {
	rtx := c.db.env.BeginRead()
	defs := index.ListDefs(rtx, c.name)
	rtx.EndRead()

	c.db.mu.Lock()
	c.db.indexes[c.name] = defs
	c.db.mu.Unlock()
}

func (c *Collection) cachedIndexes() []index.Def {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return append([]index.Def{}, c.db.indexes[c.name]...)
}

// ListIndexes returns every index currently defined on the collection.
func (c *Collection) ListIndexes() []index.Def { return c.cachedIndexes() }

// IndexHandle is a lightweight reference to a created index, returned by
// CreateIndex for fluent dropping.
type IndexHandle struct {
	col *Collection
	def index.Def
}

// Name returns the index's name.
func (h *IndexHandle) Name() string { return h.def.Name }

// Def returns the index's full definition.
func (h *IndexHandle) Def() index.Def { return h.def }

// Drop removes this index.
func (h *IndexHandle) Drop() error { return h.col.DropIndex(h.def.Name) }

// CreateIndex registers a new secondary index and synchronously
// backfills it from every existing document (spec.md's Non-goal against
// background index builds: "background" is accepted on Def but ignored).
func (c *Collection) CreateIndex(def index.Def) (*IndexHandle, error) {
	wtx := c.db.env.BeginWrite()

	if len(wtx.ListSubTrees()) >= c.db.cfg.MaxSubTrees {
		wtx.Abort()
		return nil, dberr.New(dberr.CodeMapFull, "mongolite", "max_sub_trees (%d) reached", c.db.cfg.MaxSubTrees)
	}

	idx, err := index.AddIndex(wtx, c.name, def)
	if err != nil {
		wtx.Abort()
		return nil, err
	}

	docs := wtx.OpenSubTree(c.subTree(), 0, 0)
	cur := docs.Cursor()
	cur.First()
	for cur.Valid() {
		key, val := cur.Deref()
		if len(key) == 1 && key[0] == 0x00 {
			cur.Next()
			continue
		}
		id, err := oid.FromBytes(key)
		if err != nil {
			wtx.Abort()
			return nil, err
		}
		var doc bson.D
		if err := bson.Unmarshal(val, &doc); err != nil {
			wtx.Abort()
			return nil, dberr.Wrap(dberr.CodeInternal, "mongolite", err, "decode document during index backfill")
		}
		if err := idx.Insert(id, doc); err != nil {
			wtx.Abort()
			return nil, err
		}
		cur.Next()
	}

	if err := wtx.Commit(); err != nil {
		return nil, err
	}
	c.refreshIndexes()
	return &IndexHandle{col: c, def: idx.Def()}, nil
}

// DropIndex removes the named index.
func (c *Collection) DropIndex(name string) error {
	wtx := c.db.env.BeginWrite()
	if err := index.DropIndex(wtx, c.name, name); err != nil {
		wtx.Abort()
		return err
	}
	if err := wtx.Commit(); err != nil {
		return err
	}
	c.refreshIndexes()
	return nil
}

// openIndexTrees opens a live maintenance handle for each of the
// collection's currently defined indexes, bound to wtx.
func (c *Collection) openIndexTrees(wtx *storage.WriteTxn) ([]*index.Tree, error) {
	defs := c.cachedIndexes()
	trees := make([]*index.Tree, 0, len(defs))
	for _, def := range defs {
		t, err := index.OpenIndex(wtx, c.name, def.Name)
		if err != nil {
			return nil, err
		}
		trees = append(trees, t)
	}
	return trees, nil
}

// sweepTTL lazily expires documents under any TTL index, piggybacking on
// the next write transaction rather than running a background goroutine
// (spec.md's Non-goal against background index work).
func (c *Collection) sweepTTL(wtx *storage.WriteTxn, trees []*index.Tree) error {
	now := time.Now()
	for _, t := range trees {
		if t.Def().TTLSeconds <= 0 {
			continue
		}
		expired, err := t.ExpireTTL(now)
		if err != nil {
			return err
		}
		docs := wtx.OpenSubTree(c.subTree(), 0, 0)
		for _, id := range expired {
			raw, ok := docs.Get(id[:])
			if !ok {
				continue
			}
			var doc bson.D
			if err := bson.Unmarshal(raw, &doc); err != nil {
				continue
			}
			docs.Delete(id[:])
			for _, other := range trees {
				_ = other.Delete(id, doc)
			}
			c.bumpCount(wtx, -1)
			c.cache.Invalidate(id)
		}
	}
	return nil
}

func (c *Collection) bumpCount(wtx *storage.WriteTxn, delta int64) {
	docs := wtx.OpenSubTree(c.subTree(), 0, 0)
	cur := int64(0)
	if raw, ok := docs.Get(collectionMetaKey); ok {
		cur = decodeCollectionMeta(raw)
	}
	docs.Insert(collectionMetaKey, encodeCollectionMeta(cur+delta))
}

// openWrite starts a write transaction and runs the lazy TTL sweep before
// returning it, so every mutating Collection operation naturally keeps
// expired documents out of the result it itself is about to produce.
func (c *Collection) openWrite() (*storage.WriteTxn, []*index.Tree, error) {
	wtx := c.db.env.BeginWrite()
	trees, err := c.openIndexTrees(wtx)
	if err != nil {
		wtx.Abort()
		return nil, nil, err
	}
	if err := c.sweepTTL(wtx, trees); err != nil {
		wtx.Abort()
		return nil, nil, err
	}
	return wtx, trees, nil
}

// InsertOne inserts doc, assigning a fresh _id if it does not already
// carry one.
func (c *Collection) InsertOne(doc bson.D) (oid.ID, error) {
	ids, err := c.InsertMany([]bson.D{doc})
	if err != nil {
		return oid.Nil, err
	}
	return ids[0], nil
}

// InsertMany inserts every document in docs as a single write
// transaction: either all succeed, or none do.
func (c *Collection) InsertMany(docs []bson.D) ([]oid.ID, error) {
	wtx, trees, err := c.openWrite()
	if err != nil {
		return nil, err
	}
	ids, err := c.insertManyBody(wtx, trees, docs)
	if err != nil {
		wtx.Abort()
		return nil, err
	}
	if err := wtx.Commit(); err != nil {
		return nil, err
	}
	for i, doc := range docs {
		withID := doc
		if v, ok := bsonpath.Get(doc, "_id"); !ok || v != ids[i] {
			withID = append(bson.D{{Key: "_id", Value: ids[i]}}, doc...)
		}
		c.cache.Put(ids[i], mustEncode(withID))
	}
	return ids, nil
}

// insertManyBody is InsertMany's transaction body, reused by Txn.InsertMany
// for a caller-managed explicit transaction (database.go's Begin/Commit/
// Rollback) — it neither commits nor aborts wtx, leaving that to the
// caller's transaction-lifecycle wrapper.
func (c *Collection) insertManyBody(wtx *storage.WriteTxn, trees []*index.Tree, docs []bson.D) ([]oid.ID, error) {
	ids := make([]oid.ID, len(docs))
	sub := wtx.OpenSubTree(c.subTree(), 0, 0)
	for i, doc := range docs {
		id, withID := withObjectID(doc)
		encoded, err := bson.Marshal(withID)
		if err != nil {
			return nil, dberr.Wrap(dberr.CodeInternal, "mongolite", err, "encode document")
		}
		if _, exists := sub.Get(id[:]); exists {
			return nil, dberr.New(dberr.CodeDuplicateKey, "mongolite", "duplicate _id %s", id.Hex())
		}
		if err := sub.Insert(id[:], encoded); err != nil {
			return nil, err
		}
		for _, t := range trees {
			if err := t.Insert(id, withID); err != nil {
				return nil, err
			}
		}
		ids[i] = id
	}
	c.bumpCount(wtx, int64(len(docs)))
	return ids, nil
}

// withObjectID returns doc's _id (assigning a fresh one if absent) and
// the document with that _id set as its first field.
func withObjectID(doc bson.D) (oid.ID, bson.D) {
	if v, ok := bsonpath.Get(doc, "_id"); ok {
		if id, ok := v.(oid.ID); ok {
			return id, doc
		}
	}
	id := oid.New()
	out := make(bson.D, 0, len(doc)+1)
	out = append(out, bson.E{Key: "_id", Value: id})
	out = append(out, doc...)
	return id, out
}

func mustEncode(doc bson.D) []byte {
	b, err := bson.Marshal(doc)
	if err != nil {
		return nil
	}
	return b
}

// FindOne returns the first document matching filter, in planner /
// declaration order. An optional proj document (spec.md §6's
// find_one(db, name, filter, projection)) selects or drops fields from
// the returned document; omit it, or pass bson.D{}, for the whole
// document.
func (c *Collection) FindOne(filter bson.D, proj ...bson.D) (bson.D, bool, error) {
	rtx := c.db.pool.Acquire()
	defer c.db.pool.Release(rtx)
	doc, ok, err := c.findOneRead(rtx, filter)
	if err != nil || !ok {
		return doc, ok, err
	}
	doc, err = applyProjection(doc, proj)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// applyProjection runs projection.Apply with the first element of proj,
// if any was supplied — the variadic trailing-argument idiom the Go
// driver itself uses for "optional" parameters that spec.md's
// language-neutral sketch always lists positionally.
func applyProjection(doc bson.D, proj []bson.D) (bson.D, error) {
	if len(proj) == 0 || len(proj[0]) == 0 {
		return doc, nil
	}
	return projection.Apply(doc, proj[0])
}

func (c *Collection) findOneRead(rtx *storage.ReadTxn, filter bson.D) (bson.D, bool, error) {
	plan := query.Build(filter, c.cachedIndexes())
	candidates, err := c.candidatesRead(rtx, plan)
	if err != nil {
		return nil, false, err
	}
	for _, id := range candidates {
		if cached, ok := c.cache.Get(id); ok {
			var doc bson.D
			if err := bson.Unmarshal(cached, &doc); err == nil && matcher.Match(doc, plan.Residual) {
				return doc, true, nil
			}
			continue
		}
		doc, ok, err := c.fetchRead(rtx, id)
		if err != nil {
			return nil, false, err
		}
		if ok && matcher.Match(doc, plan.Residual) {
			return doc, true, nil
		}
	}
	return nil, false, nil
}

func (c *Collection) fetchRead(rtx *storage.ReadTxn, id oid.ID) (bson.D, bool, error) {
	sub, ok := rtx.ReadSubTree(c.subTree())
	if !ok {
		return nil, false, nil
	}
	raw, ok := sub.Get(id[:])
	if !ok {
		return nil, false, nil
	}
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, false, dberr.Wrap(dberr.CodeInternal, "mongolite", err, "decode document %s", id.Hex())
	}
	c.cache.Put(id, raw)
	return doc, true, nil
}

// candidatesRead resolves a Plan to a candidate id list against a read
// snapshot: an ID lookup check, an index-assisted seek, or a full scan.
func (c *Collection) candidatesRead(rtx *storage.ReadTxn, plan query.Plan) ([]oid.ID, error) {
	switch plan.Strategy {
	case query.StrategyIDLookup:
		return []oid.ID{plan.ID}, nil
	case query.StrategyIndexSeek:
		return index.SeekEqualRead(rtx, c.name, plan.Index.Name, plan.Values)
	default:
		sub, ok := rtx.ReadSubTree(c.subTree())
		if !ok {
			return nil, nil
		}
		var ids []oid.ID
		cur := rtx.CursorFor(sub)
		cur.First()
		for cur.Valid() {
			key, _ := cur.Deref()
			if len(key) != 12 {
				cur.Next()
				continue
			}
			id, err := oid.FromBytes(key)
			if err != nil {
				cur.Next()
				continue
			}
			ids = append(ids, id)
			cur.Next()
		}
		return ids, nil
	}
}

// Find returns a Cursor over every document matching filter. An optional
// proj document (spec.md §6's find(db, name, filter, projection))
// selects or drops fields from every document the cursor yields. The
// cursor owns a dedicated read transaction until Destroy is called or it
// is fully exhausted.
func (c *Collection) Find(filter bson.D, proj ...bson.D) (*Cursor, error) {
	rtx := c.db.env.BeginRead()
	plan := query.Build(filter, c.cachedIndexes())
	candidates, err := c.candidatesRead(rtx, plan)
	if err != nil {
		rtx.EndRead()
		return nil, err
	}

	docs := make([]bson.D, 0, len(candidates))
	for _, id := range candidates {
		doc, ok, err := c.fetchRead(rtx, id)
		if err != nil {
			rtx.EndRead()
			return nil, err
		}
		if !ok || !matcher.Match(doc, plan.Residual) {
			continue
		}
		doc, err = applyProjection(doc, proj)
		if err != nil {
			rtx.EndRead()
			return nil, err
		}
		docs = append(docs, doc)
	}
	return newCursor(rtx, docs), nil
}

// writeCandidates resolves a Plan to matching ids within an already-open
// write transaction, for Update*/Delete*/FindOneAndX, which must see (and
// mutate) the same snapshot. trees is the caller's already-opened index
// set (from openWrite), searched by name rather than reopened.
func (c *Collection) writeCandidates(wtx *storage.WriteTxn, plan query.Plan, trees []*index.Tree) ([]oid.ID, error) {
	switch plan.Strategy {
	case query.StrategyIDLookup:
		return []oid.ID{plan.ID}, nil
	case query.StrategyIndexSeek:
		for _, t := range trees {
			if t.Def().Name == plan.Index.Name {
				return t.SeekEqual(plan.Values)
			}
		}
		return nil, nil
	default:
		sub := wtx.OpenSubTree(c.subTree(), 0, 0)
		var ids []oid.ID
		cur := sub.Cursor()
		cur.First()
		for cur.Valid() {
			key, _ := cur.Deref()
			if len(key) == 12 {
				if id, err := oid.FromBytes(key); err == nil {
					ids = append(ids, id)
				}
			}
			cur.Next()
		}
		return ids, nil
	}
}

func (c *Collection) fetchWrite(wtx *storage.WriteTxn, id oid.ID) (bson.D, bool, error) {
	sub := wtx.OpenSubTree(c.subTree(), 0, 0)
	raw, ok := sub.Get(id[:])
	if !ok {
		return nil, false, nil
	}
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, false, dberr.Wrap(dberr.CodeInternal, "mongolite", err, "decode document %s", id.Hex())
	}
	return doc, true, nil
}

// UpdateOptions configures UpdateOne/UpdateMany.
type UpdateOptions struct {
	// Upsert, when set, inserts a document synthesized from filter and
	// update if no document matches filter (spec.md §4.3).
	Upsert bool
}

// UpdateOption sets one UpdateOptions field.
type UpdateOption func(*UpdateOptions)

// WithUpsert enables upsert semantics for this call: "If upsert=true and
// no match is found, synthesize an initial document by merging the
// equality fragments of the filter with the update's $set body and
// L2-insert it" (spec.md §4.3).
func WithUpsert() UpdateOption { return func(o *UpdateOptions) { o.Upsert = true } }

func resolveUpdateOptions(opts []UpdateOption) UpdateOptions {
	var o UpdateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// upsertBase synthesizes the document UpdateOne/UpdateMany inserts on an
// upsert miss: the filter's top-level equality fragments (a bare scalar
// or a `{field: {$eq: v}}` fragment — the same extraction query.Build
// uses to pick an index), with update's operators applied on top. A
// filter clause on anything but top-level equality (e.g. `$gt`, `$or`)
// contributes nothing to the base document — spec.md §9 marks the
// "upsert base-builder for non-trivial filter operators" as acceptable
// to leave minimum-viable.
func upsertBase(filter, update bson.D) (bson.D, error) {
	eq, order := query.EqualityFields(filter)
	base := make(bson.D, 0, len(order))
	for _, k := range order {
		base = append(base, bson.E{Key: k, Value: eq[k]})
	}
	return updateop.Apply(base, update)
}

// UpdateOne applies update (operator form) to the first document
// matching filter.
func (c *Collection) UpdateOne(filter, update bson.D, opts ...UpdateOption) (matched, modified int64, err error) {
	return c.update(filter, update, false, resolveUpdateOptions(opts))
}

// UpdateMany applies update to every document matching filter.
func (c *Collection) UpdateMany(filter, update bson.D, opts ...UpdateOption) (matched, modified int64, err error) {
	return c.update(filter, update, true, resolveUpdateOptions(opts))
}

func (c *Collection) update(filter, update bson.D, all bool, options UpdateOptions) (matched, modified int64, err error) {
	wtx, trees, err := c.openWrite()
	if err != nil {
		return 0, 0, err
	}
	matched, modified, err = c.updateBody(wtx, trees, filter, update, all, options)
	if err != nil {
		wtx.Abort()
		return 0, 0, err
	}
	if err := wtx.Commit(); err != nil {
		return 0, 0, err
	}
	return matched, modified, nil
}

// updateBody is update's transaction body, reused by Txn.UpdateOne/
// UpdateMany for a caller-managed explicit transaction — it neither
// commits nor aborts wtx.
func (c *Collection) updateBody(wtx *storage.WriteTxn, trees []*index.Tree, filter, update bson.D, all bool, options UpdateOptions) (matched, modified int64, err error) {
	plan := query.Build(filter, c.cachedIndexes())
	ids, err := c.writeCandidates(wtx, plan, trees)
	if err != nil {
		return 0, 0, err
	}

	sub := wtx.OpenSubTree(c.subTree(), 0, 0)
	for _, id := range ids {
		oldDoc, ok, err := c.fetchWrite(wtx, id)
		if err != nil {
			return 0, 0, err
		}
		if !ok || !matcher.Match(oldDoc, plan.Residual) {
			continue
		}
		matched++

		newDoc, err := updateop.Apply(oldDoc, update)
		if err != nil {
			return 0, 0, err
		}
		encoded, err := bson.Marshal(newDoc)
		if err != nil {
			return 0, 0, dberr.Wrap(dberr.CodeInternal, "mongolite", err, "encode updated document")
		}
		if err := sub.Insert(id[:], encoded); err != nil {
			return 0, 0, err
		}
		for _, t := range trees {
			if err := t.Update(id, oldDoc, newDoc); err != nil {
				return 0, 0, err
			}
		}
		c.cache.Invalidate(id)
		modified++
		if !all {
			break
		}
	}

	if matched == 0 && options.Upsert {
		base, err := upsertBase(filter, update)
		if err != nil {
			return 0, 0, err
		}
		id, withID := withObjectID(base)
		encoded, err := bson.Marshal(withID)
		if err != nil {
			return 0, 0, dberr.Wrap(dberr.CodeInternal, "mongolite", err, "encode upserted document")
		}
		if err := sub.Insert(id[:], encoded); err != nil {
			return 0, 0, err
		}
		for _, t := range trees {
			if err := t.Insert(id, withID); err != nil {
				return 0, 0, err
			}
		}
		c.bumpCount(wtx, 1)
		matched, modified = 1, 1
		c.cache.Put(id, encoded)
		return matched, modified, nil
	}

	return matched, modified, nil
}

// ReplaceOne replaces the first document matching filter with
// replacement, preserving its original _id.
func (c *Collection) ReplaceOne(filter, replacement bson.D) (matched, modified int64, err error) {
	wtx, trees, err := c.openWrite()
	if err != nil {
		return 0, 0, err
	}
	plan := query.Build(filter, c.cachedIndexes())
	ids, err := c.writeCandidates(wtx, plan, trees)
	if err != nil {
		wtx.Abort()
		return 0, 0, err
	}

	sub := wtx.OpenSubTree(c.subTree(), 0, 0)
	for _, id := range ids {
		oldDoc, ok, err := c.fetchWrite(wtx, id)
		if err != nil {
			wtx.Abort()
			return 0, 0, err
		}
		if !ok || !matcher.Match(oldDoc, plan.Residual) {
			continue
		}
		matched = 1

		newDoc := make(bson.D, 0, len(replacement)+1)
		newDoc = append(newDoc, bson.E{Key: "_id", Value: id})
		for _, f := range replacement {
			if f.Key == "_id" {
				continue
			}
			newDoc = append(newDoc, f)
		}
		encoded, err := bson.Marshal(newDoc)
		if err != nil {
			wtx.Abort()
			return 0, 0, dberr.Wrap(dberr.CodeInternal, "mongolite", err, "encode replacement document")
		}
		if err := sub.Insert(id[:], encoded); err != nil {
			wtx.Abort()
			return 0, 0, err
		}
		for _, t := range trees {
			if err := t.Update(id, oldDoc, newDoc); err != nil {
				wtx.Abort()
				return 0, 0, err
			}
		}
		c.cache.Invalidate(id)
		modified = 1
		break
	}

	if err := wtx.Commit(); err != nil {
		return 0, 0, err
	}
	return matched, modified, nil
}

// FindOneAndUpdate applies update to the first document matching filter
// and returns its pre-image.
func (c *Collection) FindOneAndUpdate(filter, update bson.D) (bson.D, bool, error) {
	wtx, trees, err := c.openWrite()
	if err != nil {
		return nil, false, err
	}
	plan := query.Build(filter, c.cachedIndexes())
	ids, err := c.writeCandidates(wtx, plan, trees)
	if err != nil {
		wtx.Abort()
		return nil, false, err
	}

	sub := wtx.OpenSubTree(c.subTree(), 0, 0)
	for _, id := range ids {
		oldDoc, ok, err := c.fetchWrite(wtx, id)
		if err != nil {
			wtx.Abort()
			return nil, false, err
		}
		if !ok || !matcher.Match(oldDoc, plan.Residual) {
			continue
		}

		newDoc, err := updateop.Apply(oldDoc, update)
		if err != nil {
			wtx.Abort()
			return nil, false, err
		}
		encoded, err := bson.Marshal(newDoc)
		if err != nil {
			wtx.Abort()
			return nil, false, dberr.Wrap(dberr.CodeInternal, "mongolite", err, "encode updated document")
		}
		if err := sub.Insert(id[:], encoded); err != nil {
			wtx.Abort()
			return nil, false, err
		}
		for _, t := range trees {
			if err := t.Update(id, oldDoc, newDoc); err != nil {
				wtx.Abort()
				return nil, false, err
			}
		}
		c.cache.Invalidate(id)
		if err := wtx.Commit(); err != nil {
			return nil, false, err
		}
		return oldDoc, true, nil
	}

	wtx.Abort()
	return nil, false, nil
}

// FindOneAndDelete deletes the first document matching filter and
// returns it.
func (c *Collection) FindOneAndDelete(filter bson.D) (bson.D, bool, error) {
	wtx, trees, err := c.openWrite()
	if err != nil {
		return nil, false, err
	}
	plan := query.Build(filter, c.cachedIndexes())
	ids, err := c.writeCandidates(wtx, plan, trees)
	if err != nil {
		wtx.Abort()
		return nil, false, err
	}

	sub := wtx.OpenSubTree(c.subTree(), 0, 0)
	for _, id := range ids {
		doc, ok, err := c.fetchWrite(wtx, id)
		if err != nil {
			wtx.Abort()
			return nil, false, err
		}
		if !ok || !matcher.Match(doc, plan.Residual) {
			continue
		}
		sub.Delete(id[:])
		for _, t := range trees {
			_ = t.Delete(id, doc)
		}
		c.bumpCount(wtx, -1)
		c.cache.Invalidate(id)
		if err := wtx.Commit(); err != nil {
			return nil, false, err
		}
		return doc, true, nil
	}

	wtx.Abort()
	return nil, false, nil
}

// DeleteOne deletes the first document matching filter.
func (c *Collection) DeleteOne(filter bson.D) (int64, error) {
	return c.delete(filter, false)
}

// DeleteMany deletes every document matching filter.
func (c *Collection) DeleteMany(filter bson.D) (int64, error) {
	return c.delete(filter, true)
}

func (c *Collection) delete(filter bson.D, all bool) (int64, error) {
	wtx, trees, err := c.openWrite()
	if err != nil {
		return 0, err
	}
	deleted, err := c.deleteBody(wtx, trees, filter, all)
	if err != nil {
		wtx.Abort()
		return 0, err
	}
	if err := wtx.Commit(); err != nil {
		return 0, err
	}
	return deleted, nil
}

// deleteBody is delete's transaction body, reused by Txn.DeleteOne/
// DeleteMany for a caller-managed explicit transaction — it neither
// commits nor aborts wtx.
func (c *Collection) deleteBody(wtx *storage.WriteTxn, trees []*index.Tree, filter bson.D, all bool) (int64, error) {
	plan := query.Build(filter, c.cachedIndexes())
	ids, err := c.writeCandidates(wtx, plan, trees)
	if err != nil {
		return 0, err
	}

	sub := wtx.OpenSubTree(c.subTree(), 0, 0)
	var deleted int64
	for _, id := range ids {
		doc, ok, err := c.fetchWrite(wtx, id)
		if err != nil {
			return 0, err
		}
		if !ok || !matcher.Match(doc, plan.Residual) {
			continue
		}
		sub.Delete(id[:])
		for _, t := range trees {
			_ = t.Delete(id, doc)
		}
		c.cache.Invalidate(id)
		deleted++
		if !all {
			break
		}
	}
	if deleted > 0 {
		c.bumpCount(wtx, -deleted)
	}
	return deleted, nil
}
