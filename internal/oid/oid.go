// Package oid wraps the engine's document identifier: a 12-byte value
// (4-byte seconds-since-epoch timestamp, 5-byte process-random, 3-byte
// counter) matching spec.md §3's wire layout exactly — which is also the
// layout of a BSON ObjectID, so the concrete type is the real
// go.mongodb.org/mongo-driver primitive rather than a hand-rolled
// encoding.
package oid

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"mongolite/dberr"
)

// ID is a document's primary identifier.
type ID = primitive.ObjectID

// New generates a fresh identifier.
func New() ID { return primitive.NewObjectID() }

// Nil is the zero identifier, never assigned to a real document.
var Nil ID

// FromBytes interprets exactly 12 bytes as an identifier.
func FromBytes(b []byte) (ID, error) {
	if len(b) != 12 {
		return Nil, dberr.New(dberr.CodeInvalidArgument, "oid", "object id must be 12 bytes, got %d", len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// FromHex parses the 24-character hex form.
func FromHex(s string) (ID, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return Nil, dberr.Wrap(dberr.CodeInvalidArgument, "oid", err, "invalid object id %q", s)
	}
	return id, nil
}
