// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/sage-x-project/sage-ratelimit/core/resilience"
)

// DynamoConfig configures the primary store backend.
type DynamoConfig struct {
	// TableName is the single table holding every record.
	TableName string

	// Region is the AWS region; when non-empty it is applied even if
	// EndpointURL points at DynamoDB Local or a test double.
	Region string

	// EndpointURL overrides the default DynamoDB endpoint, for local
	// development against DynamoDB Local.
	EndpointURL string

	// RetryBudget bounds how long transient failures (throttling,
	// internal errors) are retried before surfacing as a transport
	// error. Condition-check failures are never retried here -- they
	// return ErrConflict immediately for the acquire engine to handle.
	RetryBudget time.Duration
}

// DefaultDynamoConfig returns sensible defaults for a production table.
func DefaultDynamoConfig(tableName string) DynamoConfig {
	return DynamoConfig{
		TableName:   tableName,
		Region:      "us-east-1",
		RetryBudget: 3 * time.Second,
	}
}

// DynamoGateway is the primary Gateway backend: DynamoDB's native
// TransactWriteItems and ConditionExpression give the conditional-write
// and multi-item-transaction primitives the acquire engine requires.
type DynamoGateway struct {
	client  *dynamodb.Client
	table   string
	retry   *resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// execute runs fn through the retry policy, itself gated by the
// gateway's circuit breaker so a persistently unreachable table fails
// fast instead of exhausting every caller's retry budget individually.
// Retry-budget exhaustion and an open breaker both collapse into
// ErrUnavailable, so callers see one transport-class sentinel instead
// of having to know resilience's internal error types.
func (g *DynamoGateway) execute(ctx context.Context, fn resilience.Executor) error {
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, g.retry, fn)
	})
	if errors.Is(err, resilience.ErrMaxAttemptsExceeded) || errors.Is(err, resilience.ErrCircuitBreakerOpen) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// NewDynamoGateway builds a client from the ambient AWS credential
// chain (environment, shared config, EC2/ECS role) unless EndpointURL
// overrides it for local development.
func NewDynamoGateway(ctx context.Context, cfg DynamoConfig) (*DynamoGateway, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("store: load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = &cfg.EndpointURL
		}
	})

	budget := cfg.RetryBudget
	if budget <= 0 {
		budget = 3 * time.Second
	}

	return &DynamoGateway{
		client: client,
		table:  cfg.TableName,
		retry: &resilience.RetryConfig{
			MaxAttempts: 5,
			Backoff:     resilience.FullJitterBackoff(20*time.Millisecond, budget),
			ShouldRetry: isTransientDynamoError,
		},
		breaker: resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
			MaxFailures:         5,
			Timeout:             30 * time.Second,
			MaxHalfOpenRequests: 1,
		}),
	}, nil
}

func isTransientDynamoError(err error) bool {
	if err == nil {
		return false
	}
	var ccf *types.ConditionalCheckFailedException
	var tce *types.TransactionCanceledException
	if errors.As(err, &ccf) || errors.As(err, &tce) {
		return false
	}
	var throttling *types.ProvisionedThroughputExceededException
	var internal *types.InternalServerError
	if errors.As(err, &throttling) || errors.As(err, &internal) {
		return true
	}
	return false
}

func toAttrValue(v interface{}) types.AttributeValue {
	switch x := v.(type) {
	case string:
		return &types.AttributeValueMemberS{Value: x}
	case int64:
		return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", x)}
	case int:
		return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", x)}
	case float64:
		return &types.AttributeValueMemberN{Value: fmt.Sprintf("%v", x)}
	case bool:
		return &types.AttributeValueMemberBOOL{Value: x}
	default:
		return &types.AttributeValueMemberNULL{Value: true}
	}
}

func fromAttrValue(av types.AttributeValue) interface{} {
	switch x := av.(type) {
	case *types.AttributeValueMemberS:
		return x.Value
	case *types.AttributeValueMemberN:
		var n int64
		if _, err := fmt.Sscanf(x.Value, "%d", &n); err == nil {
			return n
		}
		var f float64
		fmt.Sscanf(x.Value, "%g", &f)
		return f
	case *types.AttributeValueMemberBOOL:
		return x.Value
	default:
		return nil
	}
}

func itemToAttrMap(pk, sk string, item Item) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item)+2)
	out["PK"] = &types.AttributeValueMemberS{Value: pk}
	out["SK"] = &types.AttributeValueMemberS{Value: sk}
	for k, v := range item {
		if k == "PK" || k == "SK" {
			continue
		}
		out[k] = toAttrValue(v)
	}
	return out
}

func attrMapToItem(av map[string]types.AttributeValue) Item {
	out := make(Item, len(av))
	for k, v := range av {
		out[k] = fromAttrValue(v)
	}
	return out
}

func (g *DynamoGateway) GetItem(ctx context.Context, pk, sk string) (Item, error) {
	var out Item
	err := g.execute(ctx, func(ctx context.Context) error {
		resp, err := g.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: &g.table,
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: pk},
				"SK": &types.AttributeValueMemberS{Value: sk},
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Item) == 0 {
			out = nil
			return nil
		}
		out = attrMapToItem(resp.Item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: get item: %w", err)
	}
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

func (g *DynamoGateway) BatchGetItems(ctx context.Context, keys []Key) (map[Key]Item, error) {
	if len(keys) > MaxBatchItems {
		return nil, ErrTooManyItems
	}
	if len(keys) == 0 {
		return map[Key]Item{}, nil
	}

	dynKeys := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		dynKeys = append(dynKeys, map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: k.PK},
			"SK": &types.AttributeValueMemberS{Value: k.SK},
		})
	}

	out := make(map[Key]Item, len(keys))
	err := g.execute(ctx, func(ctx context.Context) error {
		resp, err := g.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				g.table: {Keys: dynKeys},
			},
		})
		if err != nil {
			return err
		}
		for _, av := range resp.Responses[g.table] {
			item := attrMapToItem(av)
			pk, _ := item["PK"].(string)
			sk, _ := item["SK"].(string)
			out[Key{PK: pk, SK: sk}] = item
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: batch get items: %w", err)
	}
	return out, nil
}

// buildConditionExpr turns a Condition's raw expression string -- already
// valid DynamoDB condition-expression syntax -- into the ConditionExpression
// and ExpressionAttributeValues pair PutItem/TransactWriteItem expect.
func buildConditionExpr(cond *Condition) (*string, map[string]types.AttributeValue) {
	if cond == nil {
		return nil, nil
	}
	values := make(map[string]types.AttributeValue, len(cond.Values))
	for k, v := range cond.Values {
		values[k] = toAttrValue(v)
	}
	expr := cond.Expression
	return &expr, values
}

func (g *DynamoGateway) PutItem(ctx context.Context, pk, sk string, item Item, cond *Condition) error {
	av := itemToAttrMap(pk, sk, item)
	condExpr, values := buildConditionExpr(cond)

	input := &dynamodb.PutItemInput{
		TableName:                 &g.table,
		Item:                      av,
		ConditionExpression:       condExpr,
		ExpressionAttributeValues: values,
	}

	err := g.execute(ctx, func(ctx context.Context) error {
		_, err := g.client.PutItem(ctx, input)
		return err
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrConflict
		}
		return fmt.Errorf("store: put item: %w", err)
	}
	return nil
}

func (g *DynamoGateway) DeleteItem(ctx context.Context, pk, sk string) error {
	err := g.execute(ctx, func(ctx context.Context) error {
		_, err := g.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: &g.table,
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: pk},
				"SK": &types.AttributeValueMemberS{Value: sk},
			},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("store: delete item: %w", err)
	}
	return nil
}

func (g *DynamoGateway) TransactWrite(ctx context.Context, ops []WriteOp) error {
	if len(ops) > MaxBatchItems {
		return ErrTooManyItems
	}

	items := make([]types.TransactWriteItem, 0, len(ops))
	for _, op := range ops {
		condExpr, values := buildConditionExpr(op.Condition)

		key := map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: op.Key.PK},
			"SK": &types.AttributeValueMemberS{Value: op.Key.SK},
		}

		switch op.Kind {
		case OpPut:
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName:                 &g.table,
					Item:                      itemToAttrMap(op.Key.PK, op.Key.SK, op.Item),
					ConditionExpression:       condExpr,
					ExpressionAttributeValues: values,
				},
			})
		case OpDelete:
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName:                 &g.table,
					Key:                       key,
					ConditionExpression:       condExpr,
					ExpressionAttributeValues: values,
				},
			})
		case OpConditionCheck:
			items = append(items, types.TransactWriteItem{
				ConditionCheck: &types.ConditionCheck{
					TableName:                 &g.table,
					Key:                       key,
					ConditionExpression:       condExpr,
					ExpressionAttributeValues: values,
				},
			})
		}
	}

	err := g.execute(ctx, func(ctx context.Context) error {
		_, err := g.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: items,
		})
		return err
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return ErrConflict
		}
		return fmt.Errorf("store: transact write: %w", err)
	}
	return nil
}

func (g *DynamoGateway) Query(ctx context.Context, index, pk, skBeginsWith string, limit int) (QueryResult, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(pk))
	if skBeginsWith != "" {
		keyCond = keyCond.And(expression.Key("SK").BeginsWith(skBeginsWith))
	}

	builder, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return QueryResult{}, fmt.Errorf("store: build query expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 &g.table,
		KeyConditionExpression:    builder.KeyCondition(),
		ExpressionAttributeNames:  builder.Names(),
		ExpressionAttributeValues: builder.Values(),
	}
	if index != "" {
		input.IndexName = &index
	}
	if limit > 0 {
		l := int32(limit)
		input.Limit = &l
	}

	var result QueryResult
	err = g.execute(ctx, func(ctx context.Context) error {
		resp, err := g.client.Query(ctx, input)
		if err != nil {
			return err
		}
		result.Items = make([]Item, 0, len(resp.Items))
		for _, av := range resp.Items {
			result.Items = append(result.Items, attrMapToItem(av))
		}
		if resp.LastEvaluatedKey != nil {
			pk, _ := fromAttrValue(resp.LastEvaluatedKey["PK"]).(string)
			sk, _ := fromAttrValue(resp.LastEvaluatedKey["SK"]).(string)
			result.LastEvaluatedKey = &Key{PK: pk, SK: sk}
		}
		return nil
	})
	if err != nil {
		return QueryResult{}, fmt.Errorf("store: query: %w", err)
	}
	return result, nil
}

func (g *DynamoGateway) Ping(ctx context.Context) error {
	_, err := g.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &g.table})
	if err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

func (g *DynamoGateway) Close() error { return nil }
