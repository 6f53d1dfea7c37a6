package mongolite

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestCursorSortLimitSkip(t *testing.T) {
	col := openTestCollection(t, "scored")
	for _, v := range []int32{3, 1, 4, 1, 5} {
		if _, err := col.InsertOne(bson.D{{Key: "score", Value: v}}); err != nil {
			t.Fatalf("InsertOne: %v", err)
		}
	}

	cur, err := col.Find(bson.D{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if err := cur.SetSort("score", false); err != nil {
		t.Fatalf("SetSort: %v", err)
	}
	if err := cur.SetSkip(1); err != nil {
		t.Fatalf("SetSkip: %v", err)
	}
	if err := cur.SetLimit(2); err != nil {
		t.Fatalf("SetLimit: %v", err)
	}
	docs := cur.All()
	if len(docs) != 2 {
		t.Fatalf("got %d docs, want 2", len(docs))
	}
	first, _ := bsonField(docs[0], "score")
	second, _ := bsonField(docs[1], "score")
	if first != int32(1) || second != int32(3) {
		t.Fatalf("sorted+skipped scores = %v, %v, want 1, 3", first, second)
	}
}

func TestCursorSetLimitAfterNextReturnsError(t *testing.T) {
	col := openTestCollection(t, "scored")
	if _, err := col.InsertOne(bson.D{{Key: "x", Value: int32(1)}}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	cur, err := col.Find(bson.D{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	defer cur.Destroy()
	if _, ok := cur.Next(); !ok {
		t.Fatal("Next should succeed")
	}
	if err := cur.SetLimit(5); err == nil {
		t.Fatal("SetLimit after Next should return an error")
	}
	if err := cur.SetSkip(1); err == nil {
		t.Fatal("SetSkip after Next should return an error")
	}
	if err := cur.SetSort("x", false); err == nil {
		t.Fatal("SetSort after Next should return an error")
	}
}

func TestCursorMoreBecomesFalseAfterExhaustion(t *testing.T) {
	col := openTestCollection(t, "scored")
	if _, err := col.InsertOne(bson.D{{Key: "x", Value: int32(1)}}); err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	cur, err := col.Find(bson.D{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !cur.More() {
		t.Fatal("expected at least one document")
	}
	if _, ok := cur.Next(); !ok {
		t.Fatal("Next should succeed")
	}
	if cur.More() {
		t.Fatal("cursor should be exhausted")
	}
}

func TestCursorDestroyIsIdempotent(t *testing.T) {
	col := openTestCollection(t, "scored")
	cur, err := col.Find(bson.D{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	cur.Destroy()
	cur.Destroy()
}
