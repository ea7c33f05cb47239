package dynamo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type updateExpression struct {
	update string
	names  map[string]string
	values map[string]types.AttributeValue
}

// buildUpdateExpression renders attrs into SET/REMOVE clauses with
// placeholder tables. A nil attribute value removes the attribute.
// Attributes are rendered in name order so expressions are stable.
func buildUpdateExpression(attrs map[string]interface{}) (*updateExpression, error) {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	expr := &updateExpression{
		names:  make(map[string]string, len(attrs)),
		values: make(map[string]types.AttributeValue),
	}
	var sets, removes []string
	for i, name := range names {
		namePlaceholder := fmt.Sprintf("#u%d", i)
		expr.names[namePlaceholder] = name

		value := attrs[name]
		if value == nil {
			removes = append(removes, namePlaceholder)
			continue
		}
		valuePlaceholder := fmt.Sprintf(":u%d", i)
		av, err := attributevalue.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		expr.values[valuePlaceholder] = av
		sets = append(sets, namePlaceholder+" = "+valuePlaceholder)
	}

	var clauses []string
	if len(sets) > 0 {
		clauses = append(clauses, "SET "+strings.Join(sets, ", "))
	}
	if len(removes) > 0 {
		clauses = append(clauses, "REMOVE "+strings.Join(removes, ", "))
	}
	if len(clauses) == 0 {
		return nil, fmt.Errorf("no attributes to update")
	}
	expr.update = strings.Join(clauses, " ")
	return expr, nil
}
