package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseFilters parses textual filters of the form
// "field:operator:value[:value2]", one per element. The form is URL
// query friendly; list values for the "in" operator are pipe-separated.
func ParseFilters(raw ...string) ([]Filter, error) {
	var filters []Filter
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			f, err := ParseFilter(part)
			if err != nil {
				return nil, err
			}
			filters = append(filters, f)
		}
	}
	return filters, nil
}

// ParseFilter parses a single textual filter.
func ParseFilter(s string) (Filter, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) < 2 {
		return Filter{}, fmt.Errorf("malformed filter %q: want field:operator[:value]", s)
	}
	op := Operator(parts[1])
	if !op.Valid() {
		return Filter{}, fmt.Errorf("unsupported filter operator %q", parts[1])
	}

	f := Filter{Field: parts[0], Op: op}
	switch op {
	case OpExists, OpNotExists:
		return f, nil
	case OpBetween:
		if len(parts) < 4 {
			return Filter{}, fmt.Errorf("malformed filter %q: between requires two values", s)
		}
		f.Value = typeValue(parts[2])
		f.Value2 = typeValue(parts[3])
		return f, nil
	case OpIn:
		if len(parts) < 3 {
			return Filter{}, fmt.Errorf("malformed filter %q: in requires a value list", s)
		}
		var values []interface{}
		for _, v := range strings.Split(parts[2], "|") {
			values = append(values, typeValue(v))
		}
		f.Value = values
		return f, nil
	default:
		if len(parts) < 3 {
			return Filter{}, fmt.Errorf("malformed filter %q: operator %s requires a value", s, op)
		}
		// Rejoin in case the value itself contained colons (timestamps).
		f.Value = typeValue(strings.Join(parts[2:], ":"))
		return f, nil
	}
}

// typeValue best-effort types a textual value. Priority order:
// boolean, null, number, ISO-8601 timestamp, string.
func typeValue(s string) interface{} {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return s
}
