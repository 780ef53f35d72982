// Package store provides the persistent backends for the AI job queue and
// the feed session store.
//
// DynamoStore uses a single-table design. Job records live under
// PK=AIJOB#{jobId}, SK=META and are indexed by two GSIs: status-createdAt
// (the leasing scheduler and admin listing) and photoId (per-photo lookup).
// Feed sessions live under PK=FEED#{userId}, SK=MODE#{mode} and carry a TTL
// attribute (expiresAt) so idle sessions age out. Session items never carry
// a status or photoId attribute, which keeps them out of both indexes.
//
// MemoryStore implements the same contracts in process for tests and the
// local CLI; RedisSessionStore is an alternate session backend.
package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB key and index names for the single-table design.
const (
	jobPKPrefix     = "AIJOB#"
	feedPKPrefix    = "FEED#"
	skMeta          = "META"
	skModePrefix    = "MODE#"
	StatusIndexName = "status-createdAt"
	PhotoIndexName  = "photoId"
)

// dynamoAPI is the subset of the DynamoDB client the store uses.
type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore implements pipeline.Queue and feed.SessionStore on DynamoDB.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
}

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return newDynamoStore(client, tableName, time.Now)
}

func newDynamoStore(client dynamoAPI, tableName string, now func() time.Time) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, now: now}
}

func jobPK(jobID string) string {
	return jobPKPrefix + jobID
}

func feedPK(userID string) string {
	return feedPKPrefix + userID
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func numberAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func stringAttr(s string) *types.AttributeValueMemberS {
	return &types.AttributeValueMemberS{Value: s}
}

// putItem marshals data and writes it with PK and SK. A non-empty
// condition makes the write conditional.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data interface{}, condition string) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = stringAttr(pk)
	item["SK"] = stringAttr(sk)

	input := &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}
	if condition != "" {
		input.ConditionExpression = aws.String(condition)
	}
	if _, err := s.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads one item into out. It returns false if the item does not exist.
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            itemKey(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// queryIndex pages through an index query, stopping once keep has accepted
// max items. keep may be nil to accept everything.
func (s *DynamoStore) queryIndex(ctx context.Context, input *dynamodb.QueryInput, max int, keep func(map[string]types.AttributeValue) bool) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query index=%s: %w", aws.ToString(input.IndexName), err)
		}
		for _, item := range result.Items {
			if keep != nil && !keep(item) {
				continue
			}
			items = append(items, item)
			if max > 0 && len(items) >= max {
				return items, nil
			}
		}
		if result.LastEvaluatedKey == nil {
			return items, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}
