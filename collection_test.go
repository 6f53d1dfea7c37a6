package mongolite

import (
	"path/filepath"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"mongolite/internal/index"
)

func openTestCollection(t *testing.T, name string) *Collection {
	t.Helper()
	path := filepath.Join(t.TempDir(), "col.mdb")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	col, err := db.CreateCollection(name)
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	return col
}

func TestInsertOneAndFindOne(t *testing.T) {
	col := openTestCollection(t, "widgets")

	id, err := col.InsertOne(bson.D{{Key: "name", Value: "sprocket"}, {Key: "qty", Value: int32(3)}})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	doc, ok, err := col.FindOne(bson.D{{Key: "_id", Value: id}})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if !ok {
		t.Fatal("expected to find inserted document")
	}
	if v, _ := bsonField(doc, "name"); v != "sprocket" {
		t.Fatalf("name = %v, want sprocket", v)
	}
}

func TestInsertManyRejectsDuplicateID(t *testing.T) {
	col := openTestCollection(t, "widgets")
	id, err := col.InsertOne(bson.D{{Key: "name", Value: "a"}})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	_, err = col.InsertMany([]bson.D{{{Key: "_id", Value: id}, {Key: "name", Value: "dup"}}})
	if err == nil {
		t.Fatal("expected duplicate _id error")
	}
}

func TestFindFiltersByEquality(t *testing.T) {
	col := openTestCollection(t, "widgets")
	if _, err := col.InsertOne(bson.D{{Key: "color", Value: "red"}}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	if _, err := col.InsertOne(bson.D{{Key: "color", Value: "blue"}}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	cur, err := col.Find(bson.D{{Key: "color", Value: "red"}})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	docs := cur.All()
	if len(docs) != 1 {
		t.Fatalf("matched %d documents, want 1", len(docs))
	}
	if v, _ := bsonField(docs[0], "color"); v != "red" {
		t.Fatalf("color = %v, want red", v)
	}
}

func TestUpdateOneAppliesSet(t *testing.T) {
	col := openTestCollection(t, "widgets")
	id, err := col.InsertOne(bson.D{{Key: "qty", Value: int32(1)}})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	matched, modified, err := col.UpdateOne(
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "qty", Value: int32(5)}}}},
	)
	if err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}
	if matched != 1 || modified != 1 {
		t.Fatalf("matched=%d modified=%d, want 1,1", matched, modified)
	}

	doc, ok, err := col.FindOne(bson.D{{Key: "_id", Value: id}})
	if err != nil || !ok {
		t.Fatalf("FindOne: ok=%v err=%v", ok, err)
	}
	if v, _ := bsonField(doc, "qty"); v != int32(5) {
		t.Fatalf("qty = %v, want 5", v)
	}
}

func TestUpdateOneUpsertInsertsOnMiss(t *testing.T) {
	col := openTestCollection(t, "widgets")

	matched, modified, err := col.UpdateOne(
		bson.D{{Key: "sku", Value: "abc"}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "qty", Value: int32(7)}}}},
		WithUpsert(),
	)
	if err != nil {
		t.Fatalf("UpdateOne upsert: %v", err)
	}
	if matched != 1 || modified != 1 {
		t.Fatalf("matched=%d modified=%d, want 1,1", matched, modified)
	}

	doc, ok, err := col.FindOne(bson.D{{Key: "sku", Value: "abc"}})
	if err != nil || !ok {
		t.Fatalf("FindOne: ok=%v err=%v", ok, err)
	}
	if v, _ := bsonField(doc, "sku"); v != "abc" {
		t.Fatalf("sku = %v, want abc (from filter equality fragment)", v)
	}
	if v, _ := bsonField(doc, "qty"); v != int32(7) {
		t.Fatalf("qty = %v, want 7 (from $set)", v)
	}

	n, err := col.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
}

func TestUpdateOneWithoutUpsertLeavesMissUnmatched(t *testing.T) {
	col := openTestCollection(t, "widgets")

	matched, modified, err := col.UpdateOne(
		bson.D{{Key: "sku", Value: "missing"}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "qty", Value: int32(7)}}}},
	)
	if err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}
	if matched != 0 || modified != 0 {
		t.Fatalf("matched=%d modified=%d, want 0,0", matched, modified)
	}
	if n, _ := col.Count(); n != 0 {
		t.Fatalf("Count = %d, want 0 (no upsert requested)", n)
	}
}

func TestFindOneProjectionInclusionAndExclusion(t *testing.T) {
	col := openTestCollection(t, "widgets")
	id, err := col.InsertOne(bson.D{
		{Key: "name", Value: "sprocket"},
		{Key: "qty", Value: int32(3)},
		{Key: "color", Value: "red"},
	})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	included, ok, err := col.FindOne(bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "name", Value: 1}})
	if err != nil || !ok {
		t.Fatalf("FindOne inclusion: ok=%v err=%v", ok, err)
	}
	if len(included) != 2 {
		t.Fatalf("inclusion projection = %v, want _id+name only", included)
	}
	if v, ok := bsonField(included, "name"); !ok || v != "sprocket" {
		t.Fatalf("name = %v, want sprocket", v)
	}
	if _, ok := bsonField(included, "qty"); ok {
		t.Fatal("qty should be excluded by an inclusion projection")
	}

	excluded, ok, err := col.FindOne(bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "color", Value: 0}})
	if err != nil || !ok {
		t.Fatalf("FindOne exclusion: ok=%v err=%v", ok, err)
	}
	if _, ok := bsonField(excluded, "color"); ok {
		t.Fatal("color should be excluded by an exclusion projection")
	}
	if v, ok := bsonField(excluded, "qty"); !ok || v != int32(3) {
		t.Fatalf("qty = %v, want 3 (untouched by exclusion projection)", v)
	}
}

func TestFindProjectionRejectsMixedInclusionExclusion(t *testing.T) {
	col := openTestCollection(t, "widgets")
	if _, err := col.InsertOne(bson.D{{Key: "a", Value: int32(1)}, {Key: "b", Value: int32(2)}}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	_, err := col.Find(bson.D{}, bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 0}})
	if err == nil {
		t.Fatal("expected an error mixing inclusion and exclusion in a projection")
	}
}

func TestDeleteOneRemovesDocument(t *testing.T) {
	col := openTestCollection(t, "widgets")
	id, err := col.InsertOne(bson.D{{Key: "name", Value: "gone"}})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	n, err := col.DeleteOne(bson.D{{Key: "_id", Value: id}})
	if err != nil {
		t.Fatalf("DeleteOne: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}

	_, ok, err := col.FindOne(bson.D{{Key: "_id", Value: id}})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if ok {
		t.Fatal("document should have been deleted")
	}
}

func TestCreateIndexBackfillsAndEnforcesUnique(t *testing.T) {
	col := openTestCollection(t, "users")
	if _, err := col.InsertOne(bson.D{{Key: "email", Value: "a@example.com"}}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	if _, err := col.CreateIndex(index.Def{Name: "by_email", Fields: []string{"email"}, Unique: true}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	_, err := col.InsertOne(bson.D{{Key: "email", Value: "a@example.com"}})
	if err == nil {
		t.Fatal("expected unique index violation on duplicate email")
	}
}

func TestCountTracksInsertsAndDeletes(t *testing.T) {
	col := openTestCollection(t, "counted")
	for i := 0; i < 3; i++ {
		if _, err := col.InsertOne(bson.D{{Key: "i", Value: int32(i)}}); err != nil {
			t.Fatalf("InsertOne: %v", err)
		}
	}
	n, err := col.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("Count = %d, want 3", n)
	}

	if _, err := col.DeleteMany(bson.D{}); err != nil {
		t.Fatalf("DeleteMany: %v", err)
	}
	n, err = col.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Fatalf("Count after DeleteMany = %d, want 0", n)
	}
}

func bsonField(doc bson.D, key string) (any, bool) {
	for _, e := range doc {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}
