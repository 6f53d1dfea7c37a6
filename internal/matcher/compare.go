package matcher

import (
	"bytes"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Equal reports whether two decoded BSON scalar values are the same,
// treating numeric kinds as interchangeable (1 == int32(1) == float64(1))
// the way a MongoDB-flavored equality filter does.
func Equal(a, b any) bool {
	return Compare(a, b) == 0
}

// Compare orders two decoded BSON values. Values of incompatible kinds
// (e.g. a string against a number) compare as not-equal with an arbitrary
// but stable ordering, never panicking — the spec never requires
// cross-type ordering to be meaningful, only consistent.
func Compare(a, b any) int {
	if d, ok := a.(primitive.DateTime); ok {
		a = d.Time()
	}
	if d, ok := b.(primitive.DateTime); ok {
		b = d.Time()
	}

	af, aIsNum := asFloat(a)
	bf, bIsNum := asFloat(b)
	if aIsNum && bIsNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}

	at, aIsTime := a.(time.Time)
	bt, bIsTime := b.(time.Time)
	if aIsTime && bIsTime {
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		default:
			return 0
		}
	}

	ab, aIsBool := a.(bool)
	bb, bIsBool := b.(bool)
	if aIsBool && bIsBool {
		switch {
		case ab == bb:
			return 0
		case !ab && bb:
			return -1
		default:
			return 1
		}
	}

	aid, aIsID := a.(primitive.ObjectID)
	bid, bIsID := b.(primitive.ObjectID)
	if aIsID && bIsID {
		return bytes.Compare(aid[:], bid[:])
	}

	if a == nil && b == nil {
		return 0
	}

	// incompatible or otherwise uncomparable kinds: stable, arbitrary.
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	return 1
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
