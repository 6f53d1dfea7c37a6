package index

import (
	"path/filepath"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"mongolite/internal/oid"
	"mongolite/internal/storage"
)

func setupEnv(t *testing.T) *storage.Environment {
	t.Helper()
	env, err := storage.Open(filepath.Join(t.TempDir(), "idx.mdb"), storage.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { env.Close() })
	return env
}

func TestUniqueIndexRejectsDuplicate(t *testing.T) {
	env := setupEnv(t)
	wtx := env.BeginWrite()

	idx, err := AddIndex(wtx, "users", Def{Name: "by_email", Fields: []string{"email"}, Unique: true})
	if err != nil {
		t.Fatalf("AddIndex: %v", err)
	}

	a := oid.New()
	docA := bson.D{{Key: "email", Value: "a@example.com"}}
	if err := idx.Insert(a, docA); err != nil {
		t.Fatalf("Insert a: %v", err)
	}

	b := oid.New()
	docB := bson.D{{Key: "email", Value: "a@example.com"}}
	if err := idx.Insert(b, docB); err == nil {
		t.Fatal("expected duplicate key error, got nil")
	}

	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestSparseIndexSkipsMissingField(t *testing.T) {
	env := setupEnv(t)
	wtx := env.BeginWrite()

	idx, err := AddIndex(wtx, "users", Def{Name: "by_phone", Fields: []string{"phone"}, Sparse: true})
	if err != nil {
		t.Fatalf("AddIndex: %v", err)
	}

	withPhone := oid.New()
	if err := idx.Insert(withPhone, bson.D{{Key: "phone", Value: "555"}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	withoutPhone := oid.New()
	if err := idx.Insert(withoutPhone, bson.D{{Key: "name", Value: "nophone"}}); err != nil {
		t.Fatalf("Insert (sparse skip): %v", err)
	}

	ids, err := idx.SeekEqual(bson.A{"555"})
	if err != nil {
		t.Fatalf("SeekEqual: %v", err)
	}
	if len(ids) != 1 || ids[0] != withPhone {
		t.Fatalf("SeekEqual = %v, want [%v]", ids, withPhone)
	}
}

func TestIndexUpdateMovesEntry(t *testing.T) {
	env := setupEnv(t)
	wtx := env.BeginWrite()

	idx, err := AddIndex(wtx, "users", Def{Name: "by_name", Fields: []string{"name"}})
	if err != nil {
		t.Fatalf("AddIndex: %v", err)
	}

	id := oid.New()
	oldDoc := bson.D{{Key: "name", Value: "old"}}
	newDoc := bson.D{{Key: "name", Value: "new"}}
	if err := idx.Insert(id, oldDoc); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := idx.Update(id, oldDoc, newDoc); err != nil {
		t.Fatalf("Update: %v", err)
	}

	oldIDs, _ := idx.SeekEqual(bson.A{"old"})
	if len(oldIDs) != 0 {
		t.Fatalf("stale entry still present: %v", oldIDs)
	}
	newIDs, _ := idx.SeekEqual(bson.A{"new"})
	if len(newIDs) != 1 || newIDs[0] != id {
		t.Fatalf("SeekEqual(new) = %v, want [%v]", newIDs, id)
	}
}

func TestDropIndexRemovesEntries(t *testing.T) {
	env := setupEnv(t)
	wtx := env.BeginWrite()

	idx, err := AddIndex(wtx, "users", Def{Name: "by_name", Fields: []string{"name"}})
	if err != nil {
		t.Fatalf("AddIndex: %v", err)
	}
	id := oid.New()
	if err := idx.Insert(id, bson.D{{Key: "name", Value: "x"}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	wtx2 := env.BeginWrite()
	if err := DropIndex(wtx2, "users", "by_name"); err != nil {
		t.Fatalf("DropIndex: %v", err)
	}
	if err := wtx2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rtx := env.BeginRead()
	defer rtx.EndRead()
	if _, ok := ReadDef(rtx, "users", "by_name"); ok {
		t.Fatal("index definition still readable after drop")
	}
}
