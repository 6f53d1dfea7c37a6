package mongolite

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestExplicitTxnRollbackLeavesNoTrace(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.CreateCollection("c1"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := txn.InsertOne("c1", bson.D{{Key: "x", Value: int32(1)}}); err != nil {
		t.Fatalf("Txn InsertOne: %v", err)
	}
	txn.Rollback()

	col, err := db.Collection("c1")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	n, err := col.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Fatalf("Count after rollback = %d, want 0", n)
	}
}

func TestExplicitTxnCommitPersistsEveryOperation(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.CreateCollection("c1"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	txn, err := db.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	id, err := txn.InsertOne("c1", bson.D{{Key: "x", Value: int32(1)}})
	if err != nil {
		t.Fatalf("Txn InsertOne: %v", err)
	}
	if matched, modified, err := txn.UpdateOne("c1", bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "$set", Value: bson.D{{Key: "x", Value: int32(2)}}}}); err != nil || matched != 1 || modified != 1 {
		t.Fatalf("Txn UpdateOne: matched=%d modified=%d err=%v", matched, modified, err)
	}
	if doc, ok, err := txn.FindOne("c1", bson.D{{Key: "_id", Value: id}}); err != nil || !ok {
		t.Fatalf("Txn FindOne: ok=%v err=%v", ok, err)
	} else if v, _ := bsonField(doc, "x"); v != int32(2) {
		t.Fatalf("Txn FindOne sees x = %v, want 2 (this transaction's own uncommitted write)", v)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	col, err := db.Collection("c1")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	doc, ok, err := col.FindOne(bson.D{{Key: "_id", Value: id}})
	if err != nil || !ok {
		t.Fatalf("FindOne after commit: ok=%v err=%v", ok, err)
	}
	if v, _ := bsonField(doc, "x"); v != int32(2) {
		t.Fatalf("x after commit = %v, want 2", v)
	}
}
