// Package projection applies a find/find_one projection document to a
// materialized document, the external-collaborator-style capability
// spec.md §6 names alongside the filter ("find_one(db, name, filter,
// projection)"). There is no teacher equivalent (FiloDB rows are
// returned whole); this is new code, grounded in bsonpath's dotted-path
// get/set/unset and written in the same plain-function style.
package projection

import (
	"go.mongodb.org/mongo-driver/bson"

	"mongolite/dberr"
	"mongolite/internal/bsonpath"
)

// Apply returns the subset (or complement) of doc that spec selects. A
// nil or empty spec returns doc unchanged. spec must be either entirely
// inclusive (truthy values) or entirely exclusive (falsy values), with
// "_id" exempt from that rule on either side, matching MongoDB's own
// restriction against mixing the two — anything else is InvalidArgument.
// Only top-level and dotted-path scalar/sub-document fields are
// supported; projecting through array elements (e.g. `$elemMatch`,
// positional `$`) is out of scope (spec.md §9 marks projection
// "minimum viable").
func Apply(doc bson.D, spec bson.D) (bson.D, error) {
	if len(spec) == 0 {
		return doc, nil
	}

	inclusion := false
	exclusion := false
	for _, f := range spec {
		if f.Key == "_id" {
			continue
		}
		if truthy(f.Value) {
			inclusion = true
		} else {
			exclusion = true
		}
	}
	if inclusion && exclusion {
		return nil, dberr.New(dberr.CodeInvalidArgument, "projection", "cannot mix inclusion and exclusion fields")
	}

	if inclusion {
		return applyInclusion(doc, spec), nil
	}
	return applyExclusion(doc, spec), nil
}

func applyInclusion(doc bson.D, spec bson.D) bson.D {
	out := bson.D{}
	includeID := true
	for _, f := range spec {
		if f.Key == "_id" {
			includeID = truthy(f.Value)
			continue
		}
		if !truthy(f.Value) {
			continue
		}
		if v, ok := bsonpath.Get(doc, f.Key); ok {
			out = bsonpath.Set(out, f.Key, v)
		}
	}
	if includeID {
		if v, ok := bsonpath.Get(doc, "_id"); ok {
			out = prependID(out, v)
		}
	}
	return out
}

func applyExclusion(doc bson.D, spec bson.D) bson.D {
	out := doc
	excludeID := false
	for _, f := range spec {
		if f.Key == "_id" {
			excludeID = !truthy(f.Value)
			continue
		}
		if truthy(f.Value) {
			continue
		}
		out = bsonpath.Unset(out, f.Key)
	}
	if excludeID {
		out = bsonpath.Unset(out, "_id")
	}
	return out
}

// prependID inserts an "_id" field at the front of doc, since inclusion
// projections build their result field-by-field in spec order and _id
// conventionally sorts first.
func prependID(doc bson.D, id any) bson.D {
	out := make(bson.D, 0, len(doc)+1)
	out = append(out, bson.E{Key: "_id", Value: id})
	out = append(out, doc...)
	return out
}

// truthy mirrors MongoDB's projection-value convention: any numeric zero
// or false excludes, everything else (including non-numeric values,
// which a projection spec should not contain but which should not panic)
// includes.
func truthy(v any) bool {
	switch n := v.(type) {
	case int:
		return n != 0
	case int32:
		return n != 0
	case int64:
		return n != 0
	case float64:
		return n != 0
	case bool:
		return n
	default:
		return true
	}
}
