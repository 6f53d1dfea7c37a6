// Package mongolite is the embedded document database's public surface:
// Database, Collection, Cursor and IndexHandle, built on top of the
// internal storage/index/query/cache layers. Grounded on the teacher's
// DB/newDB/StartDB lifecycle (filodb_engine.go) and its TableNew/Set/Get/
// GetRange/Delete surface (filodb_operations.go), generalized from
// FiloDB's fixed-column tables to spec.md's schemaless bson.D documents.
package mongolite

import (
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"github.com/google/uuid"

	"mongolite/dberr"
	"mongolite/internal/cache"
	"mongolite/internal/index"
	"mongolite/internal/logging"
	"mongolite/internal/metrics"
	"mongolite/internal/storage"
	"mongolite/internal/txpool"

	"github.com/rs/zerolog"
)

// catalogSubTree is the database-level metadata record spec.md §4.6 names
// "__catalog__": boot id and user metadata, persisted as a single BSON
// document under a reserved key inside a
// dedicated sub-tree (the same reserved-byte-key trick internal/index
// uses for its own Def records).
const catalogSubTree = "__catalog__"

var catalogMetaKey = []byte{0x00}

// Database is one open page-store file plus every collection opened
// against it. Exactly one Database should hold a given file open at a
// time (the underlying storage.Environment has no cross-process
// coordination, per spec.md's single-process non-goal).
type Database struct {
	env  *storage.Environment
	cfg  Config
	pool *txpool.Pool
	log  zerolog.Logger

	bootID uuid.UUID

	mu      sync.Mutex
	caches  map[string]*cache.Cache
	indexes map[string][]index.Def // collection -> cached index defs
}

// Open mounts path (creating it if absent) and returns a ready Database.
func Open(path string, opts ...Option) (*Database, error) {
	cfg := defaultConfig(path)
	for _, opt := range opts {
		opt(&cfg)
	}
	return openWithConfig(cfg)
}

// OpenConfig mounts a Database from an explicitly built Config (e.g. one
// loaded with LoadConfig), with opts applied on top.
func OpenConfig(cfg Config, opts ...Option) (*Database, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	return openWithConfig(cfg)
}

func openWithConfig(cfg Config) (*Database, error) {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New("mongolite")
	}
	logging.SetLevel(cfg.LogLevel)

	env, err := storage.Open(cfg.Path, storage.Options{
		Metrics:  cfg.Metrics,
		Sync:     cfg.IOFlags == IOSync,
		MaxBytes: cfg.MaxBytes,
	})
	if err != nil {
		return nil, err
	}

	db := &Database{
		env:     env,
		cfg:     cfg,
		pool:    txpool.New(env, cfg.TxPoolSize),
		log:     logging.Component("mongolite"),
		caches:  make(map[string]*cache.Cache),
		indexes: make(map[string][]index.Def),
	}

	if err := db.ensureCatalog(); err != nil {
		env.Close()
		return nil, err
	}
	db.log.Info().Str("path", cfg.Path).Str("boot_id", db.bootID.String()).Msg("database opened")
	return db, nil
}

// catalogRecord is the on-disk shape of the "__catalog__" metadata
// document.
type catalogRecord struct {
	BootID   string            `bson:"boot_id"`
	Metadata map[string]string `bson:"metadata"`
}

// ensureCatalog reads the database's persisted boot id, or mints and
// stores a fresh one on first open, and records it for the lifetime of
// this Database handle (used in log lines to distinguish process
// generations that reopened the same file, per spec.md's supplemented
// "boot id" feature; it plays no role in correctness).
func (db *Database) ensureCatalog() error {
	rtx := db.env.BeginRead()
	sub, ok := rtx.ReadSubTree(catalogSubTree)
	var existing catalogRecord
	found := false
	if ok {
		if raw, ok2 := sub.Get(catalogMetaKey); ok2 {
			if err := bson.Unmarshal(raw, &existing); err == nil {
				found = true
			}
		}
	}
	rtx.EndRead()

	if found {
		id, err := uuid.Parse(existing.BootID)
		if err != nil {
			return dberr.Wrap(dberr.CodeInvalidState, "mongolite", err, "parse stored boot id")
		}
		db.bootID = id
		return nil
	}

	db.bootID = uuid.New()
	wtx := db.env.BeginWrite()
	st := wtx.OpenSubTree(catalogSubTree, 0, 0)
	rec := catalogRecord{BootID: db.bootID.String(), Metadata: db.cfg.Metadata}
	encoded, err := bson.Marshal(rec)
	if err != nil {
		wtx.Abort()
		return dberr.Wrap(dberr.CodeInternal, "mongolite", err, "encode catalog record")
	}
	if err := st.Insert(catalogMetaKey, encoded); err != nil {
		wtx.Abort()
		return err
	}
	return wtx.Commit()
}

// BootID returns the UUID minted the first time this database file was
// ever opened.
func (db *Database) BootID() uuid.UUID { return db.bootID }

// Close flushes and releases every resource this Database holds.
func (db *Database) Close() error {
	db.pool.Close()
	return db.env.Close()
}

// Sync forces pending writes to stable storage.
func (db *Database) Sync() error { return db.env.Sync() }

// Resize raises or lowers the page store's max_bytes budget (spec.md
// §4.1's resize(new_map)), for recovering from a MapFull commit failure:
// abort the failed write, Resize, then retry it.
func (db *Database) Resize(maxBytes int64) error {
	if err := db.env.Resize(maxBytes); err != nil {
		return err
	}
	db.cfg.MaxBytes = maxBytes
	return nil
}

// Version returns the page store's current commit version, incremented
// on every successful top-level write commit.
func (db *Database) Version() uint64 { return db.env.Stats().Version }

// Stats exposes the underlying page store's sizing for diagnostics (the
// CLI "stats" subcommand).
func (db *Database) Stats() storage.Stats { return db.env.Stats() }

func collectionSubTree(name string) string { return "col:" + name }

const collectionPrefix = "col:"

// CreateCollection creates a new, empty collection. It is an error if
// name already exists.
func (db *Database) CreateCollection(name string) (*Collection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	wtx := db.env.BeginWrite()
	full := collectionSubTree(name)

	// Count and existence must be checked against the catalog as it
	// stood before this call, since OpenSubTree below would itself add
	// a new catalog entry for an absent name the moment it runs -
	// counting afterwards would always see the collection being created
	// and reject even the very first one under a MaxCollections of 1.
	n, total := 0, 0
	for _, info := range wtx.ListSubTrees() {
		if info.Name == full {
			wtx.Abort()
			return nil, dberr.New(dberr.CodeInvalidArgument, "mongolite", "collection %s already exists", name)
		}
		total++
		if len(info.Name) > len(collectionPrefix) && info.Name[:len(collectionPrefix)] == collectionPrefix {
			n++
		}
	}
	if total >= db.cfg.MaxSubTrees {
		wtx.Abort()
		return nil, dberr.New(dberr.CodeMapFull, "mongolite", "max_sub_trees (%d) reached", db.cfg.MaxSubTrees)
	}
	if n >= db.cfg.MaxCollections {
		wtx.Abort()
		return nil, dberr.New(dberr.CodeMapFull, "mongolite", "max_collections (%d) reached", db.cfg.MaxCollections)
	}

	st := wtx.OpenSubTree(full, 0, 0)
	if err := st.Insert(collectionMetaKey, encodeCollectionMeta(0)); err != nil {
		wtx.Abort()
		return nil, err
	}
	if err := wtx.Commit(); err != nil {
		return nil, err
	}

	return db.newCollectionHandle(name), nil
}

// CreateOrOpenCollection returns a handle to name, creating it first if
// it does not already exist. Convenience for callers (the CLI's insert
// command) that don't want a separate provisioning step.
func (db *Database) CreateOrOpenCollection(name string) (*Collection, error) {
	if db.CollectionExists(name) {
		return db.newCollectionHandle(name), nil
	}
	return db.CreateCollection(name)
}

// Collection returns a handle to an existing collection, or an error if
// it has not been created.
func (db *Database) Collection(name string) (*Collection, error) {
	if !db.CollectionExists(name) {
		return nil, dberr.New(dberr.CodeNotFound, "mongolite", "collection %s not found", name)
	}
	return db.newCollectionHandle(name), nil
}

// CollectionExists reports whether name has been created.
func (db *Database) CollectionExists(name string) bool {
	rtx := db.env.BeginRead()
	defer rtx.EndRead()
	_, ok := rtx.ReadSubTree(collectionSubTree(name))
	return ok
}

// ListCollections returns every collection name currently defined.
func (db *Database) ListCollections() []string {
	rtx := db.env.BeginRead()
	defer rtx.EndRead()
	var out []string
	for _, info := range rtx.ListSubTrees() {
		if len(info.Name) > len(collectionPrefix) && info.Name[:len(collectionPrefix)] == collectionPrefix {
			out = append(out, info.Name[len(collectionPrefix):])
		}
	}
	return out
}

// DropCollection deletes every document and index belonging to name, and
// removes the collection itself.
func (db *Database) DropCollection(name string) error {
	if !db.CollectionExists(name) {
		return dberr.New(dberr.CodeNotFound, "mongolite", "collection %s not found", name)
	}
	col := db.newCollectionHandle(name)
	defs := col.ListIndexes()

	wtx := db.env.BeginWrite()
	full := collectionSubTree(name)
	st := wtx.OpenSubTree(full, 0, 0)
	c := st.Cursor()
	c.First()
	for c.Valid() {
		if !c.Del() {
			break
		}
	}
	wtx.DropSubTree(full)
	for _, def := range defs {
		if err := index.DropIndex(wtx, name, def.Name); err != nil {
			wtx.Abort()
			return err
		}
	}
	if err := wtx.Commit(); err != nil {
		return err
	}

	db.mu.Lock()
	delete(db.caches, name)
	delete(db.indexes, name)
	db.mu.Unlock()
	return nil
}

func (db *Database) newCollectionHandle(name string) *Collection {
	db.mu.Lock()
	c, ok := db.caches[name]
	if !ok {
		c = cache.New(cache.Options{
			MaxEntries: db.cfg.CacheMaxEntries,
			MaxBytes:   db.cfg.CacheMaxBytes,
			TTL:        db.cfg.CacheTTL,
			Metrics:    db.cfg.Metrics,
		})
		db.caches[name] = c
	}
	db.mu.Unlock()

	col := &Collection{
		db:    db,
		name:  name,
		cache: c,
		log:   logging.Component("collection"),
	}
	col.refreshIndexes()
	return col
}

func validateName(name string) error {
	if name == "" {
		return dberr.New(dberr.CodeInvalidArgument, "mongolite", "name must not be empty")
	}
	for _, r := range name {
		if !(r == '_' || r == '-' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')) {
			return dberr.New(dberr.CodeInvalidArgument, "mongolite", "invalid character %q in name %q", r, name)
		}
	}
	return nil
}
