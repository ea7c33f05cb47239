package query

import (
	"time"
)

// Operator is a filter comparison operator.
type Operator string

// Supported filter operators.
const (
	OpEq        Operator = "eq"
	OpNe        Operator = "ne"
	OpLt        Operator = "lt"
	OpLte       Operator = "lte"
	OpGt        Operator = "gt"
	OpGte       Operator = "gte"
	OpBetween   Operator = "between"
	OpBegins    Operator = "begins"
	OpContains  Operator = "contains"
	OpIn        Operator = "in"
	OpExists    Operator = "exists"
	OpNotExists Operator = "not_exists"
)

var validOperators = map[Operator]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLte: true, OpGt: true, OpGte: true,
	OpBetween: true, OpBegins: true, OpContains: true, OpIn: true,
	OpExists: true, OpNotExists: true,
}

// Valid reports whether the operator is in the supported set.
func (o Operator) Valid() bool {
	return validOperators[o]
}

// Filter is a single field predicate supplied by the caller.
type Filter struct {
	Field  string
	Op     Operator
	Value  interface{}
	Value2 interface{} // second bound for "between"
}

// Sort describes a requested result ordering.
type Sort struct {
	Field      string
	Descending bool
}

// Search describes a free-text search across a set of fields.
type Search struct {
	Query  string
	Fields []string
}

// Condition is a compiled predicate clause evaluated server-side.
type Condition struct {
	Field  string
	Op     Operator
	Value  interface{}
	Value2 interface{}
}

// Expression is a rendered filter expression with placeholder tables.
// Placeholder names avoid reserved-word collisions and keep user input
// out of the expression string itself.
type Expression struct {
	Filter string
	Names  map[string]string
	Values map[string]interface{}
}

// KeyCondition describes an index-based range query: an exact partition
// key match optionally narrowed by a sort key condition.
type KeyCondition struct {
	IndexName      string
	PartitionName  string
	PartitionValue interface{}
	SortName       string
	SortOp         Operator // eq, lt, lte, gt, gte, between, begins
	SortValue      interface{}
	SortValue2     interface{}
}

// Kind selects the execution path for a built query.
type Kind int

const (
	// KindScan is a full-table scan with a server-evaluated predicate.
	KindScan Kind = iota
	// KindIndex is a key-condition query against a secondary index.
	KindIndex
)

// Query is the output of Builder.Build: everything a store needs to
// execute the request, plus the conditions in structured form so
// in-process stores can evaluate them without parsing the expression.
type Query struct {
	Kind        Kind
	Expr        Expression
	Conditions  []Condition // ANDed predicate clauses (scan path)
	SearchConds []Condition // ORed contains clauses (scan path)
	Key         *KeyCondition
	Sort        *Sort
	// InMemorySort is set when the store cannot order results natively
	// and the caller must sort after the page returns.
	InMemorySort bool
	Limit        int
	StartKey     map[string]interface{}
	ScanForward  bool
}

// Matches evaluates the scan predicate against a single item: all
// Conditions must hold and, if search clauses are present, at least
// one of them must hold.
func (q *Query) Matches(item map[string]interface{}) bool {
	for _, c := range q.Conditions {
		if !c.Matches(item) {
			return false
		}
	}
	if len(q.SearchConds) > 0 {
		hit := false
		for _, c := range q.SearchConds {
			if c.Matches(item) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// Matches evaluates a single condition against an item.
func (c Condition) Matches(item map[string]interface{}) bool {
	v, present := item[c.Field]
	switch c.Op {
	case OpExists:
		return present && v != nil
	case OpNotExists:
		return !present || v == nil
	}
	if !present || v == nil {
		return false
	}
	switch c.Op {
	case OpEq:
		return compareValues(v, c.Value) == 0
	case OpNe:
		return compareValues(v, c.Value) != 0
	case OpLt:
		return compareValues(v, c.Value) < 0
	case OpLte:
		return compareValues(v, c.Value) <= 0
	case OpGt:
		return compareValues(v, c.Value) > 0
	case OpGte:
		return compareValues(v, c.Value) >= 0
	case OpBetween:
		return compareValues(v, c.Value) >= 0 && compareValues(v, c.Value2) <= 0
	case OpBegins:
		s, ok := v.(string)
		p, ok2 := c.Value.(string)
		return ok && ok2 && len(s) >= len(p) && s[:len(p)] == p
	case OpContains:
		return containsValue(v, c.Value)
	case OpIn:
		for _, want := range toSlice(c.Value) {
			if compareValues(v, want) == 0 {
				return true
			}
		}
		return false
	}
	return false
}

func toSlice(v interface{}) []interface{} {
	switch s := v.(type) {
	case []interface{}:
		return s
	case []string:
		out := make([]interface{}, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	default:
		return []interface{}{v}
	}
}

func containsValue(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		return ok && stringContainsFold(h, n)
	case []interface{}:
		for _, e := range h {
			if compareValues(e, needle) == 0 {
				return true
			}
		}
	case []string:
		n, ok := needle.(string)
		if !ok {
			return false
		}
		for _, e := range h {
			if e == n {
				return true
			}
		}
	}
	return false
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
