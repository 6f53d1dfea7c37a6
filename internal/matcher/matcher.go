// Package matcher is the default implementation behind spec.md's
// "external collaborator" query matcher interface: a pure predicate
// evaluator over bson.D documents. There is no teacher equivalent
// (FiloDB's queries are range scans over typed columns, not predicate
// trees); this is new code, grounded in spec.md §4.4's operator list and
// built in the teacher's plain-function, no-reflection-heavy style where
// possible.
package matcher

import (
	"go.mongodb.org/mongo-driver/bson"

	"mongolite/internal/bsonpath"
)

// Matcher evaluates a compiled filter against documents.
type Matcher struct {
	filter bson.D
}

// New compiles filter. Compilation is purely structural (it does not look
// at any document), so a Matcher can be reused across every document a
// scan or index-assisted Seek visits.
func New(filter bson.D) *Matcher {
	return &Matcher{filter: filter}
}

// Match reports whether doc satisfies the compiled filter.
func (m *Matcher) Match(doc bson.D) bool {
	return matchD(doc, m.filter)
}

// Match is a convenience one-shot form for callers (e.g. partial-filter
// index definitions) that do not need to reuse the compiled filter.
func Match(doc bson.D, filter bson.D) bool {
	return matchD(doc, filter)
}

func matchD(doc bson.D, filter bson.D) bool {
	for _, clause := range filter {
		if !matchClause(doc, clause.Key, clause.Value) {
			return false
		}
	}
	return true
}

func matchClause(doc bson.D, key string, cond any) bool {
	switch key {
	case "$and":
		return matchLogicalAll(doc, cond)
	case "$or":
		return matchLogicalAny(doc, cond)
	}

	actual, present := bsonpath.Get(doc, key)
	switch c := cond.(type) {
	case bson.D:
		if isOperatorDoc(c) {
			return matchOperators(actual, present, c)
		}
		return present && Equal(actual, c)
	default:
		return present && Equal(actual, cond)
	}
}

func matchLogicalAll(doc bson.D, cond any) bool {
	clauses, ok := cond.(bson.A)
	if !ok {
		return false
	}
	for _, c := range clauses {
		sub, ok := c.(bson.D)
		if !ok || !matchD(doc, sub) {
			return false
		}
	}
	return true
}

func matchLogicalAny(doc bson.D, cond any) bool {
	clauses, ok := cond.(bson.A)
	if !ok {
		return false
	}
	for _, c := range clauses {
		sub, ok := c.(bson.D)
		if ok && matchD(doc, sub) {
			return true
		}
	}
	return false
}

func isOperatorDoc(d bson.D) bool {
	if len(d) == 0 {
		return false
	}
	for _, e := range d {
		if len(e.Key) == 0 || e.Key[0] != '$' {
			return false
		}
	}
	return true
}

func matchOperators(actual any, present bool, ops bson.D) bool {
	for _, op := range ops {
		if !matchOperator(actual, present, op.Key, op.Value) {
			return false
		}
	}
	return true
}

func matchOperator(actual any, present bool, op string, operand any) bool {
	switch op {
	case "$eq":
		return present && Equal(actual, operand)
	case "$ne":
		return !present || !Equal(actual, operand)
	case "$exists":
		want, _ := operand.(bool)
		return present == want
	case "$gt":
		return present && Compare(actual, operand) > 0
	case "$gte":
		return present && Compare(actual, operand) >= 0
	case "$lt":
		return present && Compare(actual, operand) < 0
	case "$lte":
		return present && Compare(actual, operand) <= 0
	case "$in":
		return present && inSet(actual, operand)
	case "$nin":
		return !present || !inSet(actual, operand)
	default:
		// unknown operators never match, rather than panicking a whole
		// scan over one malformed clause.
		return false
	}
}

func inSet(actual, operand any) bool {
	set, ok := operand.(bson.A)
	if !ok {
		return false
	}
	for _, v := range set {
		if Equal(actual, v) {
			return true
		}
	}
	return false
}

// IsOperatorExpression is exported for the planner: it needs to tell
// whether a top-level filter clause is a plain-equality fragment (usable
// to seed a prefix scan or upsert base document) or an operator
// expression.
func IsOperatorExpression(v any) bool {
	d, ok := v.(bson.D)
	return ok && isOperatorDoc(d)
}
