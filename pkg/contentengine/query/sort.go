package query

import (
	"fmt"
	"sort"
	"strings"
)

// ApplySort orders items in place. Items missing the sort field (or
// holding nil) always sort last, regardless of direction; direction
// only affects the ordering of non-null values.
func ApplySort(items []map[string]interface{}, s Sort) {
	sort.SliceStable(items, func(i, j int) bool {
		a, aok := items[i][s.Field]
		b, bok := items[j][s.Field]
		aNull := !aok || a == nil
		bNull := !bok || b == nil
		if aNull || bNull {
			return !aNull && bNull
		}
		cmp := compareValues(a, b)
		if s.Descending {
			return cmp > 0
		}
		return cmp < 0
	})
}

// compareValues is a type-aware three-way comparison. Numbers compare
// numerically, times chronologically, strings lexically; mismatched or
// unknown types fall back to string comparison of their rendering.
func compareValues(a, b interface{}) int {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if at, aok := asTime(a); aok {
		if bt, bok := asTime(b); bok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return strings.Compare(as, bs)
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			switch {
			case ab == bb:
				return 0
			case bb:
				return -1
			default:
				return 1
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v interface{}) (float64, bool) {
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
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func stringContainsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
