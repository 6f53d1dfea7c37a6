// Package bsonpath resolves dotted field paths ("a.b.c") against bson.D /
// bson.A values, the way the matcher, update-operator engine, and index
// extractors all need to. There is no teacher equivalent (FiloDB's Record
// is flat, fixed-column); this is new code grounded directly in spec.md's
// "dotted field path" requirement, kept in the teacher's plain-function,
// no-reflection style.
package bsonpath

import "go.mongodb.org/mongo-driver/bson"

// Get resolves a dotted path against doc, descending through nested
// bson.D values. It does not descend into bson.A elements by numeric
// index (arrays are matched as a whole by the matcher, not projected
// through dotted paths) — matching MongoDB's own behavior for plain
// dotted paths versus positional/array operators, which are out of
// scope here.
func Get(doc bson.D, path string) (any, bool) {
	segments := splitPath(path)
	var cur any = doc
	for _, seg := range segments {
		d, ok := cur.(bson.D)
		if !ok {
			return nil, false
		}
		val, found := lookup(d, seg)
		if !found {
			return nil, false
		}
		cur = val
	}
	return cur, true
}

// Set writes value at the dotted path, creating intermediate bson.D
// levels as needed, and returns the resulting top-level document. The
// input doc is not mutated in place; Set builds a new top-level slice for
// every level it touches so callers can keep comparing against the
// previous version.
func Set(doc bson.D, path string, value any) bson.D {
	segments := splitPath(path)
	return setAt(doc, segments, value)
}

// Unset removes the key at the dotted path, if present, and returns the
// resulting document unchanged if the path does not exist.
func Unset(doc bson.D, path string) bson.D {
	segments := splitPath(path)
	out, _ := unsetAt(doc, segments)
	return out
}

func splitPath(path string) []string {
	var out []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			out = append(out, path[start:i])
			start = i + 1
		}
	}
	out = append(out, path[start:])
	return out
}

func lookup(d bson.D, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func setAt(d bson.D, segments []string, value any) bson.D {
	head, rest := segments[0], segments[1:]
	out := make(bson.D, 0, len(d)+1)
	replaced := false
	for _, e := range d {
		if e.Key == head {
			if len(rest) == 0 {
				out = append(out, bson.E{Key: head, Value: value})
			} else {
				child, _ := e.Value.(bson.D)
				out = append(out, bson.E{Key: head, Value: setAt(child, rest, value)})
			}
			replaced = true
			continue
		}
		out = append(out, e)
	}
	if !replaced {
		if len(rest) == 0 {
			out = append(out, bson.E{Key: head, Value: value})
		} else {
			out = append(out, bson.E{Key: head, Value: setAt(nil, rest, value)})
		}
	}
	return out
}

func unsetAt(d bson.D, segments []string) (bson.D, bool) {
	head, rest := segments[0], segments[1:]
	out := make(bson.D, 0, len(d))
	changed := false
	for _, e := range d {
		if e.Key != head {
			out = append(out, e)
			continue
		}
		if len(rest) == 0 {
			changed = true
			continue // drop this entry entirely
		}
		child, ok := e.Value.(bson.D)
		if !ok {
			out = append(out, e) // nothing to descend into, leave as-is
			continue
		}
		newChild, didChange := unsetAt(child, rest)
		out = append(out, bson.E{Key: head, Value: newChild})
		changed = changed || didChange
	}
	return out, changed
}
