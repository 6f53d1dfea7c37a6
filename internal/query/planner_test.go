package query

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"mongolite/internal/index"
	"mongolite/internal/oid"
)

func TestBuildPicksIDLookup(t *testing.T) {
	id := oid.New()
	filter := bson.D{{Key: "_id", Value: id}, {Key: "status", Value: "active"}}
	plan := Build(filter, nil)
	if plan.Strategy != StrategyIDLookup {
		t.Fatalf("Strategy = %v, want StrategyIDLookup", plan.Strategy)
	}
	if plan.ID != id {
		t.Fatalf("ID = %v, want %v", plan.ID, id)
	}
}

func TestBuildPicksShortestMatchingIndex(t *testing.T) {
	filter := bson.D{{Key: "email", Value: "a@example.com"}}
	indexes := []index.Def{
		{Name: "by_email_name", Fields: []string{"email", "name"}},
		{Name: "by_email", Fields: []string{"email"}},
	}
	plan := Build(filter, indexes)
	if plan.Strategy != StrategyIndexSeek {
		t.Fatalf("Strategy = %v, want StrategyIndexSeek", plan.Strategy)
	}
	if plan.Index.Name != "by_email" {
		t.Fatalf("Index = %s, want by_email (shortest prefix match)", plan.Index.Name)
	}
}

func TestBuildPrefersUniqueOnTie(t *testing.T) {
	filter := bson.D{{Key: "email", Value: "a@example.com"}}
	indexes := []index.Def{
		{Name: "non_unique", Fields: []string{"email"}, Unique: false},
		{Name: "unique", Fields: []string{"email"}, Unique: true},
	}
	plan := Build(filter, indexes)
	if plan.Index.Name != "unique" {
		t.Fatalf("Index = %s, want unique (tie-break)", plan.Index.Name)
	}
}

func TestBuildFallsBackToScan(t *testing.T) {
	filter := bson.D{{Key: "age", Value: bson.D{{Key: "$gt", Value: 21}}}}
	plan := Build(filter, []index.Def{{Name: "by_email", Fields: []string{"email"}}})
	if plan.Strategy != StrategyScan {
		t.Fatalf("Strategy = %v, want StrategyScan", plan.Strategy)
	}
	if len(plan.Residual) != 1 {
		t.Fatalf("Residual = %v, want original filter retained", plan.Residual)
	}
}

func TestBuildScansOnEmptyFilterEvenWithIndexes(t *testing.T) {
	plan := Build(bson.D{}, []index.Def{{Name: "by_email", Fields: []string{"email"}}})
	if plan.Strategy != StrategyScan {
		t.Fatalf("Strategy = %v, want StrategyScan for an unconstrained filter", plan.Strategy)
	}
}

func TestBuildMatchesEqOperatorForm(t *testing.T) {
	filter := bson.D{{Key: "email", Value: bson.D{{Key: "$eq", Value: "a@example.com"}}}}
	indexes := []index.Def{{Name: "by_email", Fields: []string{"email"}}}
	plan := Build(filter, indexes)
	if plan.Strategy != StrategyIndexSeek {
		t.Fatalf("Strategy = %v, want StrategyIndexSeek for $eq form", plan.Strategy)
	}
}
