package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ppmt-amp-api/internal/model"
	"ppmt-amp-api/internal/query"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// DynamoCatalog executes query plans against the items and series tables.
type DynamoCatalog struct {
	client      DynamoAPI
	itemsTable  string
	seriesTable string
	logger      *zap.Logger
	clock       func() time.Time
}

// NewDynamoCatalog creates a catalog adapter.
func NewDynamoCatalog(client DynamoAPI, itemsTable, seriesTable string, logger *zap.Logger) *DynamoCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoCatalog{
		client:      client,
		itemsTable:  itemsTable,
		seriesTable: seriesTable,
		logger:      logger.Named("catalog"),
		clock:       time.Now,
	}
}

// FindItems runs plan against the items table. Records that fail to decode
// and items already past their expiry are dropped.
func (c *DynamoCatalog) FindItems(ctx context.Context, plan *query.Plan) ([]model.Item, error) {
	raw, err := c.fetch(ctx, c.itemsTable, plan)
	if err != nil {
		return nil, err
	}

	now := c.clock()
	items := make([]model.Item, 0, len(raw))
	for _, av := range raw {
		it, err := decodeItem(av)
		if err != nil {
			c.logger.Warn("skipping undecodable item", zap.String("rule", plan.Rule), zap.Error(err))
			continue
		}
		if it.Expired(now) {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// FindSeries runs plan against the series table.
func (c *DynamoCatalog) FindSeries(ctx context.Context, plan *query.Plan) ([]model.Series, error) {
	raw, err := c.fetch(ctx, c.seriesTable, plan)
	if err != nil {
		return nil, err
	}

	series := make([]model.Series, 0, len(raw))
	for _, av := range raw {
		s, err := decodeSeries(av)
		if err != nil {
			c.logger.Warn("skipping undecodable series", zap.String("rule", plan.Rule), zap.Error(err))
			continue
		}
		series = append(series, s)
	}
	return series, nil
}

func (c *DynamoCatalog) fetch(ctx context.Context, table string, plan *query.Plan) ([]map[string]types.AttributeValue, error) {
	switch plan.Access {
	case query.AccessGet:
		out, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(table),
			Key:       keyOf(plan.Keys),
		})
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", table, err)
		}
		if len(out.Item) == 0 {
			return nil, nil
		}
		return []map[string]types.AttributeValue{out.Item}, nil

	case query.AccessQuery:
		ex := newExprBuilder()
		in := &dynamodb.QueryInput{
			TableName:              aws.String(table),
			KeyConditionExpression: aws.String(ex.conjunction(plan.Keys)),
			ScanIndexForward:       aws.Bool(!plan.Descending),
			Limit:                  aws.Int32(plan.Limit),
		}
		if plan.Index != "" {
			in.IndexName = aws.String(plan.Index)
		}
		if len(plan.Filters) > 0 {
			in.FilterExpression = aws.String(ex.conjunction(plan.Filters))
		}
		in.ExpressionAttributeNames, in.ExpressionAttributeValues = ex.names, ex.values

		out, err := c.client.Query(ctx, in)
		if err != nil {
			if plan.Index != "" && isIndexUnavailable(err) {
				return nil, fmt.Errorf("query %s/%s: %w", table, plan.Index, errors.Join(ErrIndexUnavailable, err))
			}
			return nil, fmt.Errorf("query %s: %w", table, err)
		}
		return out.Items, nil

	case query.AccessScan:
		in := &dynamodb.ScanInput{
			TableName: aws.String(table),
			Limit:     aws.Int32(plan.Limit),
		}
		if len(plan.Filters) > 0 {
			ex := newExprBuilder()
			in.FilterExpression = aws.String(ex.conjunction(plan.Filters))
			in.ExpressionAttributeNames, in.ExpressionAttributeValues = ex.names, ex.values
		}

		out, err := c.client.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		return out.Items, nil
	}
	return nil, fmt.Errorf("unsupported access path %q", plan.Access)
}

func keyOf(conds []query.Condition) map[string]types.AttributeValue {
	key := make(map[string]types.AttributeValue, len(conds))
	for _, c := range conds {
		key[c.Attribute] = &types.AttributeValueMemberS{Value: c.Value}
	}
	return key
}

// exprBuilder renders conditions with placeholder names, so reserved words
// such as Timestamp and Status need no special casing.
type exprBuilder struct {
	names  map[string]string
	values map[string]types.AttributeValue
	n      int
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{
		names:  make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
}

func (b *exprBuilder) conjunction(conds []query.Condition) string {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		parts = append(parts, b.condition(c))
	}
	return strings.Join(parts, " AND ")
}

func (b *exprBuilder) condition(c query.Condition) string {
	id := strconv.Itoa(b.n)
	b.n++

	name, value := "#a"+id, ":v"+id
	b.names[name] = c.Attribute
	b.values[value] = &types.AttributeValueMemberS{Value: c.Value}

	op := "="
	switch c.Op {
	case query.OpGreaterEqual:
		op = ">="
	case query.OpLessEqual:
		op = "<="
	}
	return name + " " + op + " " + value
}

var _ query.Store = (*DynamoCatalog)(nil)
