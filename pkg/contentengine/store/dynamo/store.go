// Package dynamo implements the content store on DynamoDB using the
// single-table layout: partition key "pk" = RESOURCE#id, sort key "sk"
// with the fixed META sentinel for item records.
package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/appforge/content-engine/pkg/contentengine"
	"github.com/appforge/content-engine/pkg/contentengine/query"
)

// Config options for the DynamoDB store.
type Config struct {
	Region          string
	Table           string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // optional, for DynamoDB Local
}

// Store implements contentengine.Store on DynamoDB.
type Store struct {
	client *dynamodb.Client
	table  string
}

// New creates a DynamoDB store from config, using the default
// credential chain unless static keys are provided.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		return nil, errors.New("table name is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var opts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &Store{
		client: dynamodb.NewFromConfig(awsCfg, opts...),
		table:  cfg.Table,
	}, nil
}

// NewWithClient wraps an existing client, e.g. for tests.
func NewWithClient(client *dynamodb.Client, table string) *Store {
	return &Store{client: client, table: table}
}

func keyAttributes(key contentengine.CompositeKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		contentengine.FieldPK: &types.AttributeValueMemberS{Value: key.PartitionKey()},
		contentengine.FieldSK: &types.AttributeValueMemberS{Value: key.SortKey},
	}
}

func (s *Store) Get(ctx context.Context, key contentengine.CompositeKey) (contentengine.Item, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       keyAttributes(key),
	})
	if err != nil {
		return nil, wrapAWS("dynamo get", err)
	}
	if resp.Item == nil {
		return nil, contentengine.ErrItemNotFound
	}

	var item contentengine.Item
	if err := attributevalue.UnmarshalMap(resp.Item, &item); err != nil {
		return nil, fmt.Errorf("dynamo get unmarshal: %w", err)
	}
	return item, nil
}

func (s *Store) Put(ctx context.Context, item contentengine.Item, ifNotExists bool) error {
	av, err := attributevalue.MarshalMap(map[string]interface{}(item))
	if err != nil {
		return fmt.Errorf("dynamo put marshal: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}
	if ifNotExists {
		input.ConditionExpression = aws.String("attribute_not_exists(#pk)")
		input.ExpressionAttributeNames = map[string]string{"#pk": contentengine.FieldPK}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		return conditionErr("dynamo put", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, key contentengine.CompositeKey, attrs map[string]interface{}, ifExists bool) (contentengine.Item, error) {
	expr, err := buildUpdateExpression(attrs)
	if err != nil {
		return nil, fmt.Errorf("dynamo update marshal: %w", err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.table),
		Key:                      keyAttributes(key),
		UpdateExpression:         aws.String(expr.update),
		ExpressionAttributeNames: expr.names,
		ReturnValues:             types.ReturnValueAllNew,
	}
	if len(expr.values) > 0 {
		input.ExpressionAttributeValues = expr.values
	}
	if ifExists {
		expr.names["#pk"] = contentengine.FieldPK
		input.ConditionExpression = aws.String("attribute_exists(#pk)")
	}

	resp, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		return nil, conditionErr("dynamo update", err)
	}

	var item contentengine.Item
	if err := attributevalue.UnmarshalMap(resp.Attributes, &item); err != nil {
		return nil, fmt.Errorf("dynamo update unmarshal: %w", err)
	}
	return item, nil
}

func (s *Store) Delete(ctx context.Context, key contentengine.CompositeKey, ifExists bool) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       keyAttributes(key),
	}
	if ifExists {
		input.ConditionExpression = aws.String("attribute_exists(#pk)")
		input.ExpressionAttributeNames = map[string]string{"#pk": contentengine.FieldPK}
	}

	if _, err := s.client.DeleteItem(ctx, input); err != nil {
		return conditionErr("dynamo delete", err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, q *query.Query) (*contentengine.Page, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.table),
	}
	if q.Expr.Filter != "" {
		input.FilterExpression = aws.String(q.Expr.Filter)
		input.ExpressionAttributeNames = q.Expr.Names
		values, err := marshalValues(q.Expr.Values)
		if err != nil {
			return nil, err
		}
		input.ExpressionAttributeValues = values
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(int32(q.Limit))
	}
	if q.StartKey != nil {
		start, err := attributevalue.MarshalMap(q.StartKey)
		if err != nil {
			return nil, fmt.Errorf("dynamo scan start key: %w", err)
		}
		input.ExclusiveStartKey = start
	}

	resp, err := s.client.Scan(ctx, input)
	if err != nil {
		return nil, wrapAWS("dynamo scan", err)
	}
	return unmarshalPage(resp.Items, resp.LastEvaluatedKey)
}

func (s *Store) Query(ctx context.Context, q *query.Query) (*contentengine.Page, error) {
	if q.Key == nil {
		return nil, errors.New("dynamo query: missing key condition")
	}

	names := map[string]string{"#pk": q.Key.PartitionName}
	values := map[string]interface{}{":pk": q.Key.PartitionValue}
	keyExpr := "#pk = :pk"
	if q.Key.SortName != "" && q.Key.SortOp != "" {
		names["#sk"] = q.Key.SortName
		sortExpr, err := renderSortCondition(q.Key, values)
		if err != nil {
			return nil, err
		}
		keyExpr += " AND " + sortExpr
	}

	avValues, err := marshalValues(values)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String(keyExpr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: avValues,
		ScanIndexForward:          aws.Bool(q.ScanForward),
	}
	if q.Key.IndexName != "" {
		input.IndexName = aws.String(q.Key.IndexName)
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(int32(q.Limit))
	}
	if q.StartKey != nil {
		start, err := attributevalue.MarshalMap(q.StartKey)
		if err != nil {
			return nil, fmt.Errorf("dynamo query start key: %w", err)
		}
		input.ExclusiveStartKey = start
	}

	resp, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, wrapAWS("dynamo query", err)
	}
	return unmarshalPage(resp.Items, resp.LastEvaluatedKey)
}

func (s *Store) BatchWrite(ctx context.Context, puts []contentengine.Item, deletes []contentengine.CompositeKey) error {
	if len(puts)+len(deletes) == 0 {
		return nil
	}
	if len(puts)+len(deletes) > contentengine.BatchWriteLimit {
		return fmt.Errorf("dynamo batch write: %d requests exceeds the %d item limit",
			len(puts)+len(deletes), contentengine.BatchWriteLimit)
	}

	requests := make([]types.WriteRequest, 0, len(puts)+len(deletes))
	for _, item := range puts {
		av, err := attributevalue.MarshalMap(map[string]interface{}(item))
		if err != nil {
			return fmt.Errorf("dynamo batch write marshal: %w", err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}
	for _, key := range deletes {
		requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: keyAttributes(key)}})
	}

	resp, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{s.table: requests},
	})
	if err != nil {
		return wrapAWS("dynamo batch write", err)
	}
	if unprocessed := len(resp.UnprocessedItems[s.table]); unprocessed > 0 {
		return fmt.Errorf("dynamo batch write: %d unprocessed items", unprocessed)
	}
	return nil
}

func renderSortCondition(key *query.KeyCondition, values map[string]interface{}) (string, error) {
	switch key.SortOp {
	case query.OpEq:
		values[":sk"] = key.SortValue
		return "#sk = :sk", nil
	case query.OpLt:
		values[":sk"] = key.SortValue
		return "#sk < :sk", nil
	case query.OpLte:
		values[":sk"] = key.SortValue
		return "#sk <= :sk", nil
	case query.OpGt:
		values[":sk"] = key.SortValue
		return "#sk > :sk", nil
	case query.OpGte:
		values[":sk"] = key.SortValue
		return "#sk >= :sk", nil
	case query.OpBetween:
		values[":sk1"] = key.SortValue
		values[":sk2"] = key.SortValue2
		return "#sk BETWEEN :sk1 AND :sk2", nil
	case query.OpBegins:
		values[":sk"] = key.SortValue
		return "begins_with(#sk, :sk)", nil
	default:
		return "", fmt.Errorf("dynamo query: unsupported sort key operator %q", key.SortOp)
	}
}

func marshalValues(values map[string]interface{}) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(values))
	for placeholder, v := range values {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("dynamo expression value %s: %w", placeholder, err)
		}
		out[placeholder] = av
	}
	return out, nil
}

func unmarshalPage(items []map[string]types.AttributeValue, lastKey map[string]types.AttributeValue) (*contentengine.Page, error) {
	page := &contentengine.Page{}
	for _, raw := range items {
		var item contentengine.Item
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("dynamo unmarshal item: %w", err)
		}
		page.Items = append(page.Items, item)
	}
	if len(lastKey) > 0 {
		var key map[string]interface{}
		if err := attributevalue.UnmarshalMap(lastKey, &key); err != nil {
			return nil, fmt.Errorf("dynamo unmarshal last key: %w", err)
		}
		page.LastKey = key
	}
	return page, nil
}

func conditionErr(op string, err error) error {
	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return contentengine.ErrConditionFailed
	}
	return wrapAWS(op, err)
}

// wrapAWS prefixes service faults with the API error code, which is far
// more useful in logs than the SDK's operation wrapper alone.
func wrapAWS(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s: %w", op, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
