package mongolite

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"mongolite/dberr"
	"mongolite/internal/bsonpath"
	"mongolite/internal/matcher"
	"mongolite/internal/storage"
)

// cursorState tracks where a Cursor sits in its Fresh -> Running ->
// Exhausted lifecycle: SetSkip/SetSort/SetLimit are only legal before the
// first Next call, mirroring the teacher's GetRange, which materializes
// its whole result up front (filodb_operations.go) — generalized here
// into a stateful handle so callers can page through a match set without
// holding every document in memory at once on the caller's side.
type cursorState int

const (
	cursorFresh cursorState = iota
	cursorRunning
	cursorExhausted
)

// Cursor iterates the documents matched by a Collection.Find call. It
// owns a dedicated read-transaction snapshot until Destroy is called or
// the cursor runs out of documents on its own.
type Cursor struct {
	rtx   *storage.ReadTxn
	docs  []bson.D
	pos   int
	state cursorState

	skip  int
	limit int
	sort  []sortKey
}

type sortKey struct {
	field string
	desc  bool
}

func newCursor(rtx *storage.ReadTxn, docs []bson.D) *Cursor {
	return &Cursor{rtx: rtx, docs: docs, state: cursorFresh}
}

// errCursorNotFresh reports a set-* call made after the cursor has
// started returning documents, matching spec.md §8 testable property 8:
// "calling set_limit after next returns error".
func errCursorNotFresh(method string) error {
	return dberr.New(dberr.CodeInvalidState, "mongolite", "%s is only valid before the first Next call", method)
}

// SetSkip discards the first n matching documents. Only valid before the
// first Next call.
func (c *Cursor) SetSkip(n int) error {
	if c.state != cursorFresh {
		return errCursorNotFresh("SetSkip")
	}
	c.skip = n
	return nil
}

// SetLimit caps the cursor at n documents (0 means unlimited). Only valid
// before the first Next call.
func (c *Cursor) SetLimit(n int) error {
	if c.state != cursorFresh {
		return errCursorNotFresh("SetLimit")
	}
	c.limit = n
	return nil
}

// SetSort orders the cursor's results by field, ascending unless desc is
// true. Calling it more than once adds a secondary, tertiary, etc. sort
// key. Only valid before the first Next call.
func (c *Cursor) SetSort(field string, desc bool) error {
	if c.state != cursorFresh {
		return errCursorNotFresh("SetSort")
	}
	c.sort = append(c.sort, sortKey{field: field, desc: desc})
	return nil
}

// apply materializes skip/limit/sort against the buffered match set the
// moment the cursor starts being consumed.
func (c *Cursor) apply() {
	if len(c.sort) > 0 {
		docs := c.docs
		sort.SliceStable(docs, func(i, j int) bool {
			for _, key := range c.sort {
				vi, _ := bsonpath.Get(docs[i], key.field)
				vj, _ := bsonpath.Get(docs[j], key.field)
				cmp := matcher.Compare(vi, vj)
				if cmp == 0 {
					continue
				}
				if key.desc {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}
	if c.skip > 0 {
		if c.skip >= len(c.docs) {
			c.docs = nil
		} else {
			c.docs = c.docs[c.skip:]
		}
	}
	if c.limit > 0 && c.limit < len(c.docs) {
		c.docs = c.docs[:c.limit]
	}
}

// More reports whether Next would return another document.
func (c *Cursor) More() bool {
	if c.state == cursorFresh {
		c.apply()
		c.state = cursorRunning
	}
	if c.pos >= len(c.docs) {
		if c.state != cursorExhausted {
			c.Destroy()
		}
		return false
	}
	return true
}

// Next returns the next matching document.
func (c *Cursor) Next() (bson.D, bool) {
	if !c.More() {
		return nil, false
	}
	doc := c.docs[c.pos]
	c.pos++
	return doc, true
}

// All drains the cursor into a slice and destroys it.
func (c *Cursor) All() []bson.D {
	var out []bson.D
	for {
		doc, ok := c.Next()
		if !ok {
			break
		}
		out = append(out, doc)
	}
	return out
}

// Destroy releases the cursor's read transaction. Safe to call more than
// once, and called automatically once the cursor is exhausted.
func (c *Cursor) Destroy() {
	if c.state == cursorExhausted {
		return
	}
	c.state = cursorExhausted
	if c.rtx != nil {
		c.rtx.EndRead()
		c.rtx = nil
	}
}
