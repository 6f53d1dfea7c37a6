// Package updateop is the default implementation behind spec.md's
// "external collaborator" update-operator engine: it takes an old
// document and an update spec and produces the new document. No teacher
// equivalent exists (FiloDB only ever replaces a whole fixed-column
// record); this is new code grounded in spec.md §4.4's operator
// vocabulary, written in the teacher's plain-function idiom.
package updateop

import (
	"go.mongodb.org/mongo-driver/bson"

	"mongolite/dberr"
	"mongolite/internal/bsonpath"
)

// Apply returns a new document built by applying every operator in spec
// to doc. spec must consist entirely of top-level `$operator` keys, each
// mapping to a bson.D of `field: operand` pairs — passing a plain
// replacement document (no `$` keys) is the caller's job to detect
// first, since Apply itself only understands operator form.
func Apply(doc bson.D, spec bson.D) (bson.D, error) {
	out := append(bson.D{}, doc...)
	for _, op := range spec {
		fields, ok := op.Value.(bson.D)
		if !ok {
			return nil, dberr.New(dberr.CodeInvalidArgument, "updateop", "operator %s requires a document operand", op.Key)
		}
		var err error
		out, err = applyOperator(out, op.Key, fields)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func applyOperator(doc bson.D, op string, fields bson.D) (bson.D, error) {
	switch op {
	case "$set":
		return applySet(doc, fields), nil
	case "$unset":
		return applyUnset(doc, fields), nil
	case "$inc":
		return applyInc(doc, fields)
	case "$rename":
		return applyRename(doc, fields)
	case "$push":
		return applyPush(doc, fields)
	case "$min":
		return applyMinMax(doc, fields, false)
	case "$max":
		return applyMinMax(doc, fields, true)
	default:
		return nil, dberr.New(dberr.CodeInvalidArgument, "updateop", "unsupported update operator %s", op)
	}
}

func applySet(doc bson.D, fields bson.D) bson.D {
	for _, f := range fields {
		doc = bsonpath.Set(doc, f.Key, f.Value)
	}
	return doc
}

func applyUnset(doc bson.D, fields bson.D) bson.D {
	for _, f := range fields {
		doc = bsonpath.Unset(doc, f.Key)
	}
	return doc
}

func applyInc(doc bson.D, fields bson.D) (bson.D, error) {
	for _, f := range fields {
		delta, ok := asFloat(f.Value)
		if !ok {
			return nil, dberr.New(dberr.CodeInvalidArgument, "updateop", "$inc operand for %s must be numeric", f.Key)
		}
		cur, present := bsonpath.Get(doc, f.Key)
		base := 0.0
		if present {
			b, ok := asFloat(cur)
			if !ok {
				return nil, dberr.New(dberr.CodeInvalidArgument, "updateop", "$inc target %s is not numeric", f.Key)
			}
			base = b
		}
		result := numericResult(f.Value, base+delta)
		switch cur.(type) {
		case float64, float32:
			result = base + delta
		}
		doc = bsonpath.Set(doc, f.Key, result)
	}
	return doc, nil
}

func applyRename(doc bson.D, fields bson.D) (bson.D, error) {
	for _, f := range fields {
		to, ok := f.Value.(string)
		if !ok {
			return nil, dberr.New(dberr.CodeInvalidArgument, "updateop", "$rename target for %s must be a string", f.Key)
		}
		val, present := bsonpath.Get(doc, f.Key)
		if !present {
			continue
		}
		doc = bsonpath.Unset(doc, f.Key)
		doc = bsonpath.Set(doc, to, val)
	}
	return doc, nil
}

func applyPush(doc bson.D, fields bson.D) (bson.D, error) {
	for _, f := range fields {
		items, err := pushItems(f.Value)
		if err != nil {
			return nil, err
		}
		cur, present := bsonpath.Get(doc, f.Key)
		var arr bson.A
		if present {
			a, ok := cur.(bson.A)
			if !ok {
				return nil, dberr.New(dberr.CodeInvalidArgument, "updateop", "$push target %s is not an array", f.Key)
			}
			arr = a
		}
		arr = append(append(bson.A{}, arr...), items...)
		doc = bsonpath.Set(doc, f.Key, arr)
	}
	return doc, nil
}

// pushItems supports both `$push: {field: value}` (push one element) and
// `$push: {field: {$each: [..]}}` (push several).
func pushItems(operand any) ([]any, error) {
	if d, ok := operand.(bson.D); ok && len(d) == 1 && d[0].Key == "$each" {
		each, ok := d[0].Value.(bson.A)
		if !ok {
			return nil, dberr.New(dberr.CodeInvalidArgument, "updateop", "$each operand must be an array")
		}
		return each, nil
	}
	return []any{operand}, nil
}

func applyMinMax(doc bson.D, fields bson.D, wantMax bool) (bson.D, error) {
	for _, f := range fields {
		cur, present := bsonpath.Get(doc, f.Key)
		if !present {
			doc = bsonpath.Set(doc, f.Key, f.Value)
			continue
		}
		curF, curOK := asFloat(cur)
		newF, newOK := asFloat(f.Value)
		if !curOK || !newOK {
			return nil, dberr.New(dberr.CodeInvalidArgument, "updateop", "$min/$max target %s is not numeric", f.Key)
		}
		replace := (wantMax && newF > curF) || (!wantMax && newF < curF)
		if replace {
			doc = bsonpath.Set(doc, f.Key, f.Value)
		}
	}
	return doc, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// numericResult preserves int32/int64-ness when both operands were
// integral, instead of always widening an $inc result to float64.
func numericResult(original any, result float64) any {
	switch original.(type) {
	case int32:
		return int32(result)
	case int64:
		return int64(result)
	case int:
		return int(result)
	default:
		return result
	}
}
