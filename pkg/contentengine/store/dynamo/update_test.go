package dynamo

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpdateExpressionSets(t *testing.T) {
	expr, err := buildUpdateExpression(map[string]interface{}{
		"name":  "Widget",
		"price": 19.99,
	})
	require.NoError(t, err)

	// Attributes render in name order, so placeholder numbering is
	// deterministic.
	assert.Equal(t, "SET #u0 = :u0, #u1 = :u1", expr.update)
	assert.Equal(t, map[string]string{"#u0": "name", "#u1": "price"}, expr.names)

	name, ok := expr.values[":u0"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "Widget", name.Value)
	price, ok := expr.values[":u1"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "19.99", price.Value)
}

func TestBuildUpdateExpressionRemoves(t *testing.T) {
	expr, err := buildUpdateExpression(map[string]interface{}{
		"deletedAt": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, "REMOVE #u0", expr.update)
	assert.Empty(t, expr.values)
}

func TestBuildUpdateExpressionMixed(t *testing.T) {
	expr, err := buildUpdateExpression(map[string]interface{}{
		"price":     25.0,
		"deletedAt": nil,
	})
	require.NoError(t, err)
	assert.Equal(t, "SET #u1 = :u1 REMOVE #u0", expr.update)
	assert.Equal(t, map[string]string{"#u0": "deletedAt", "#u1": "price"}, expr.names)
}

func TestBuildUpdateExpressionEmpty(t *testing.T) {
	_, err := buildUpdateExpression(nil)
	assert.Error(t, err)
}
