package query

import (
	"fmt"
	"strings"
)

// Default names for the single-table key attributes and the soft-delete
// discriminant. They can be overridden per builder.
const (
	DefaultPartitionKeyName = "pk"
	DefaultSortKeyName      = "sk"
	DefaultSortKeySentinel  = "META"
	DefaultDeletedField     = "deletedAt"
)

// Builder translates a structured query request into either a scan
// with a server-evaluated predicate or an index-based range query.
//
// The builder owns its placeholder counters; they are reset on every
// Build so a builder can be reused. Build never mutates the inputs.
type Builder struct {
	filters        []Filter
	search         *Search
	sort           *Sort
	limit          int
	startKey       map[string]interface{}
	includeDeleted bool
	key            *KeyCondition
	resourcePrefix string

	partitionKeyName string
	sortKeyName      string
	sortKeySentinel  string
	deletedField     string

	nameCount  int
	valueCount int
	names      map[string]string
	values     map[string]interface{}
}

// NewBuilder returns a builder with the single-table defaults.
func NewBuilder() *Builder {
	return &Builder{
		partitionKeyName: DefaultPartitionKeyName,
		sortKeyName:      DefaultSortKeyName,
		sortKeySentinel:  DefaultSortKeySentinel,
		deletedField:     DefaultDeletedField,
	}
}

// WithFilter appends a single filter clause.
func (b *Builder) WithFilter(f Filter) *Builder {
	b.filters = append(b.filters, f)
	return b
}

// WithFilters appends filter clauses.
func (b *Builder) WithFilters(fs ...Filter) *Builder {
	b.filters = append(b.filters, fs...)
	return b
}

// WithResourcePrefix scopes a scan to items whose partition key starts
// with the given prefix ("PRODUCT#"). Single-table rows interleave all
// resources, so any resource-level scan must set this.
func (b *Builder) WithResourcePrefix(prefix string) *Builder {
	b.resourcePrefix = prefix
	return b
}

// WithSearch sets a free-text search ORed across the given fields.
func (b *Builder) WithSearch(q string, fields ...string) *Builder {
	if q != "" && len(fields) > 0 {
		b.search = &Search{Query: q, Fields: fields}
	}
	return b
}

// WithSort sets the requested ordering.
func (b *Builder) WithSort(field string, descending bool) *Builder {
	if field != "" {
		b.sort = &Sort{Field: field, Descending: descending}
	}
	return b
}

// WithLimit caps the page size.
func (b *Builder) WithLimit(limit int) *Builder {
	b.limit = limit
	return b
}

// WithStartKey resumes from a previously returned pagination key.
func (b *Builder) WithStartKey(key map[string]interface{}) *Builder {
	b.startKey = key
	return b
}

// IncludeDeleted disables the implicit soft-delete filter.
func (b *Builder) IncludeDeleted() *Builder {
	b.includeDeleted = true
	return b
}

// WithKeyCondition switches the builder to the index path.
func (b *Builder) WithKeyCondition(kc KeyCondition) *Builder {
	b.key = &kc
	return b
}

// Build compiles the query. It validates every operator against the
// whitelist and returns an error on the first invalid one.
func (b *Builder) Build() (*Query, error) {
	b.nameCount = 0
	b.valueCount = 0
	b.names = make(map[string]string)
	b.values = make(map[string]interface{})

	if b.key != nil {
		return b.buildIndex()
	}
	return b.buildScan()
}

func (b *Builder) buildIndex() (*Query, error) {
	if b.key.PartitionName == "" {
		return nil, fmt.Errorf("index query requires a partition key name")
	}
	q := &Query{
		Kind:        KindIndex,
		Key:         b.key,
		Limit:       b.limit,
		StartKey:    b.startKey,
		ScanForward: true,
	}
	if b.sort != nil {
		q.Sort = b.sort
		q.ScanForward = !b.sort.Descending
	}
	return q, nil
}

func (b *Builder) buildScan() (*Query, error) {
	var clauses []string
	var conds []Condition

	// Every item row carries the fixed sort-key sentinel; anything else
	// in the partition is a nested record and must not leak into lists.
	clauses = append(clauses, fmt.Sprintf("%s = %s",
		b.nextName(b.sortKeyName), b.nextValue(b.sortKeySentinel)))
	conds = append(conds, Condition{Field: b.sortKeyName, Op: OpEq, Value: b.sortKeySentinel})

	if b.resourcePrefix != "" {
		clauses = append(clauses, fmt.Sprintf("begins_with(%s, %s)",
			b.nextName(b.partitionKeyName), b.nextValue(b.resourcePrefix)))
		conds = append(conds, Condition{Field: b.partitionKeyName, Op: OpBegins, Value: b.resourcePrefix})
	}

	if !b.includeDeleted {
		clauses = append(clauses, fmt.Sprintf("attribute_not_exists(%s)", b.nextName(b.deletedField)))
		conds = append(conds, Condition{Field: b.deletedField, Op: OpNotExists})
	}

	for _, f := range b.filters {
		if !f.Op.Valid() {
			return nil, fmt.Errorf("unsupported filter operator %q", f.Op)
		}
		clause, err := b.renderFilter(f)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
		conds = append(conds, Condition(f))
	}

	var searchConds []Condition
	if b.search != nil {
		lowered := strings.ToLower(b.search.Query)
		var ors []string
		for _, field := range b.search.Fields {
			ors = append(ors, fmt.Sprintf("contains(%s, %s)", b.nextName(field), b.nextValue(lowered)))
			searchConds = append(searchConds, Condition{Field: field, Op: OpContains, Value: lowered})
		}
		if len(ors) > 0 {
			clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
		}
	}

	q := &Query{
		Kind: KindScan,
		Expr: Expression{
			Filter: strings.Join(clauses, " AND "),
			Names:  b.names,
			Values: b.values,
		},
		Conditions:  conds,
		SearchConds: searchConds,
		Limit:       b.limit,
		StartKey:    b.startKey,
		ScanForward: true,
	}
	if b.sort != nil {
		// A scan has no native ordering; the caller sorts the page.
		q.Sort = b.sort
		q.InMemorySort = true
	}
	return q, nil
}

func (b *Builder) renderFilter(f Filter) (string, error) {
	name := b.nextName(f.Field)
	switch f.Op {
	case OpEq:
		return fmt.Sprintf("%s = %s", name, b.nextValue(f.Value)), nil
	case OpNe:
		return fmt.Sprintf("%s <> %s", name, b.nextValue(f.Value)), nil
	case OpLt:
		return fmt.Sprintf("%s < %s", name, b.nextValue(f.Value)), nil
	case OpLte:
		return fmt.Sprintf("%s <= %s", name, b.nextValue(f.Value)), nil
	case OpGt:
		return fmt.Sprintf("%s > %s", name, b.nextValue(f.Value)), nil
	case OpGte:
		return fmt.Sprintf("%s >= %s", name, b.nextValue(f.Value)), nil
	case OpBetween:
		return fmt.Sprintf("%s BETWEEN %s AND %s", name, b.nextValue(f.Value), b.nextValue(f.Value2)), nil
	case OpBegins:
		return fmt.Sprintf("begins_with(%s, %s)", name, b.nextValue(f.Value)), nil
	case OpContains:
		return fmt.Sprintf("contains(%s, %s)", name, b.nextValue(f.Value)), nil
	case OpIn:
		values := toSlice(f.Value)
		if len(values) == 0 {
			return "", fmt.Errorf("filter %q: in operator requires at least one value", f.Field)
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = b.nextValue(v)
		}
		return fmt.Sprintf("%s IN (%s)", name, strings.Join(placeholders, ", ")), nil
	case OpExists:
		return fmt.Sprintf("attribute_exists(%s)", name), nil
	case OpNotExists:
		return fmt.Sprintf("attribute_not_exists(%s)", name), nil
	}
	return "", fmt.Errorf("unsupported filter operator %q", f.Op)
}

func (b *Builder) nextName(field string) string {
	b.nameCount++
	placeholder := fmt.Sprintf("#f%d", b.nameCount)
	b.names[placeholder] = field
	return placeholder
}

func (b *Builder) nextValue(v interface{}) string {
	b.valueCount++
	placeholder := fmt.Sprintf(":v%d", b.valueCount)
	b.values[placeholder] = v
	return placeholder
}
