package repository

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"ppmt-amp-api/internal/model"
	"ppmt-amp-api/internal/ratelimit"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// rateLimitItem is the stored shape of a rate-limit record. Instants are
// fractional unix seconds; expiresAt is the table's TTL attribute.
type rateLimitItem struct {
	DeviceID     string  `dynamodbav:"deviceId"`
	RequestCount int     `dynamodbav:"requestCount"`
	WindowStart  float64 `dynamodbav:"windowStart"`
	LastRequest  float64 `dynamodbav:"lastRequest"`
	ExpiresAt    int64   `dynamodbav:"expiresAt,omitempty"`
}

// DynamoRateLimitStore keeps rate-limit counters in a DynamoDB table keyed by deviceId.
type DynamoRateLimitStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoRateLimitStore creates a DynamoDB backed counter store.
func NewDynamoRateLimitStore(client DynamoAPI, table string) *DynamoRateLimitStore {
	return &DynamoRateLimitStore{client: client, table: table}
}

// Get returns the device's record, or nil when none exists.
func (s *DynamoRateLimitStore) Get(ctx context.Context, deviceID string) (*model.RateLimitRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            deviceKey(deviceID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limit record: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var item rateLimitItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to decode rate limit record: %w", err)
	}
	return &model.RateLimitRecord{
		DeviceID:     deviceID,
		RequestCount: item.RequestCount,
		WindowStart:  fromEpoch(item.WindowStart),
		LastRequest:  fromEpoch(item.LastRequest),
	}, nil
}

// Reset opens a new window with a count of one. The put is conditional on the
// record being absent or stale.
func (s *DynamoRateLimitStore) Reset(ctx context.Context, deviceID string, now, staleBefore time.Time) error {
	av, err := attributevalue.MarshalMap(rateLimitItem{
		DeviceID:     deviceID,
		RequestCount: 1,
		WindowStart:  toEpoch(now),
		LastRequest:  toEpoch(now),
		ExpiresAt:    now.Add(2 * ratelimit.Window).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode rate limit record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(deviceId) OR windowStart <= :stale"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":stale": epochValue(staleBefore),
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("failed to reset rate limit record: %w", err)
	}
	return nil
}

// Increment adds one request server side and refreshes lastRequest.
func (s *DynamoRateLimitStore) Increment(ctx context.Context, deviceID string, now time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key:       deviceKey(deviceID),
		UpdateExpression: aws.String(
			"SET requestCount = if_not_exists(requestCount, :zero) + :inc, " +
				"lastRequest = :now, windowStart = if_not_exists(windowStart, :now)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
			":now":  epochValue(now),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to increment rate limit record: %w", err)
	}
	return nil
}

func deviceKey(deviceID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"deviceId": &types.AttributeValueMemberS{Value: deviceID},
	}
}

func toEpoch(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func fromEpoch(f float64) time.Time {
	return time.UnixMicro(int64(math.Round(f * 1e6))).UTC()
}

func epochValue(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(toEpoch(t), 'f', -1, 64)}
}

var _ ratelimit.Store = (*DynamoRateLimitStore)(nil)
