// Package query is the planner sitting between a Collection's Find/
// FindOne and the storage/index layers: given a filter, it picks the ID
// fast path, an index-assisted seek, or a full scan, with a deterministic
// tie-break. Grounded on the teacher's findIndex/isPrefix
// (filodb_indexing.go) and the request-building logic around
// encodeKeyPartial in filodb_queries.go, generalized from FiloDB's fixed
// primary-key-or-named-index choice to spec.md §4.3's three-tier planner
// (ID lookup → index seek → scan) with an added unique-index-first
// tie-break the teacher's single-winning-index model never needed.
package query

import (
	"go.mongodb.org/mongo-driver/bson"

	"mongolite/internal/index"
	"mongolite/internal/matcher"
	"mongolite/internal/oid"
)

// Strategy identifies which access path a Plan chose.
type Strategy int

const (
	// StrategyScan visits every live document in declaration order.
	StrategyScan Strategy = iota
	// StrategyIDLookup does a single primary-key point lookup.
	StrategyIDLookup
	// StrategyIndexSeek does a prefix-bounded seek over a secondary index.
	StrategyIndexSeek
)

// Plan is the planner's decision for one filter. Residual always holds
// the full original filter: an ID lookup or index seek only narrows the
// candidate set, it never fully decides membership (a filter can carry
// extra clauses beyond the fields used to choose the access path), so
// every candidate document is still re-checked with matcher.Match(doc,
// Residual) before being returned.
type Plan struct {
	Strategy Strategy
	ID       oid.ID      // valid iff Strategy == StrategyIDLookup
	Index    *index.Def  // valid iff Strategy == StrategyIndexSeek
	Values   bson.A      // equality values in Index.Fields order
	Residual bson.D
}

// EqualityFields exposes equalityFields for callers outside the planner
// that need the same top-level-equality-fragment extraction it uses to
// pick an index — currently the collection layer's upsert base-document
// synthesis (spec.md §4.3: "merging the equality fragments of the
// filter with the update's $set body").
func EqualityFields(filter bson.D) (map[string]any, []string) {
	return equalityFields(filter)
}

// Build chooses a Plan for filter given the indexes currently defined on
// the collection.
func Build(filter bson.D, indexes []index.Def) Plan {
	eq, order := equalityFields(filter)

	if id, ok := eq["_id"]; ok {
		if oidVal, ok := id.(oid.ID); ok {
			return Plan{Strategy: StrategyIDLookup, ID: oidVal, Residual: filter}
		}
	}

	if best, ok := bestIndex(order, indexes); ok {
		values := make(bson.A, len(best.Fields))
		for i, f := range best.Fields {
			values[i] = eq[f]
		}
		def := best
		return Plan{Strategy: StrategyIndexSeek, Index: &def, Values: values, Residual: filter}
	}

	return Plan{Strategy: StrategyScan, Residual: filter}
}

// equalityFields extracts every top-level filter clause that pins a field
// to an exact value — either a bare scalar or a `{field: {$eq: v}}`
// fragment — returning both a lookup map and the fields in the order they
// appeared in filter (the same order the teacher's callers build a
// Key1.Cols slice in).
func equalityFields(filter bson.D) (map[string]any, []string) {
	eq := make(map[string]any, len(filter))
	var order []string
	for _, clause := range filter {
		if len(clause.Key) > 0 && clause.Key[0] == '$' {
			continue
		}
		if !matcher.IsOperatorExpression(clause.Value) {
			eq[clause.Key] = clause.Value
			order = append(order, clause.Key)
			continue
		}
		d := clause.Value.(bson.D)
		if len(d) == 1 && d[0].Key == "$eq" {
			eq[clause.Key] = d[0].Value
			order = append(order, clause.Key)
		}
	}
	return eq, order
}

// bestIndex picks the index whose Fields list has boundFields as a
// prefix, mirroring the teacher's isPrefix(index, keys) test. Among
// matches it prefers the shortest field list (the narrowest seek), then a
// unique index over a non-unique one, then first-declared order — the
// same three-level tie-break spec.md §4.3 names.
func bestIndex(boundFields []string, indexes []index.Def) (index.Def, bool) {
	if len(boundFields) == 0 {
		// isPrefix(long, nil) is vacuously true for every index, which
		// would otherwise pick an arbitrary index and seek it with no
		// bound values at all. An unconstrained filter always scans.
		return index.Def{}, false
	}
	var winner index.Def
	found := false
	for _, idx := range indexes {
		if !isPrefix(idx.Fields, boundFields) {
			continue
		}
		if !found {
			winner, found = idx, true
			continue
		}
		if better(idx, winner) {
			winner = idx
		}
	}
	return winner, found
}

func better(candidate, current index.Def) bool {
	if len(candidate.Fields) != len(current.Fields) {
		return len(candidate.Fields) < len(current.Fields)
	}
	if candidate.Unique != current.Unique {
		return candidate.Unique
	}
	return false
}

// isPrefix reports whether short is a prefix of long.
func isPrefix(long, short []string) bool {
	if len(long) < len(short) {
		return false
	}
	for i, c := range short {
		if long[i] != c {
			return false
		}
	}
	return true
}
