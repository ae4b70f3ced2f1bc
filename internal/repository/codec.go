package repository

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"ppmt-amp-api/internal/model"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// errMissingKey marks a stored record without its identifying attribute.
var errMissingKey = errors.New("record missing key attribute")

// itemRecord is the stored shape of a catalog item. Loaders have written
// numbers both as N and as numeric strings, so fields use tolerant types.
type itemRecord struct {
	SeriesID           avText     `dynamodbav:"SeriesId"`
	ProductID          avText     `dynamodbav:"ProductId"`
	ProductName        avText     `dynamodbav:"ProductName"`
	IPCharacter        avText     `dynamodbav:"IpCharacter"`
	SeriesName         avText     `dynamodbav:"SeriesName"`
	Category           avText     `dynamodbav:"Category"`
	Rarity             avText     `dynamodbav:"Rarity"`
	RetailPrice        avDecimal  `dynamodbav:"RetailPrice"`
	AfterMarketPrice   avDecimal  `dynamodbav:"AfterMarketPrice"`
	PriceChange        *avDecimal `dynamodbav:"PriceChange"`
	PriceChangePercent *avDecimal `dynamodbav:"PriceChangePercent"`
	Currency           avText     `dynamodbav:"Currency"`
	Timestamp          avText     `dynamodbav:"Timestamp"`
	Status             avText     `dynamodbav:"Status"`
	SeriesSize         avInt      `dynamodbav:"SeriesSize"`
	ImageURL           avText     `dynamodbav:"ImageUrl"`
	Description        avText     `dynamodbav:"Description"`
	TTL                avInt      `dynamodbav:"TTL"`
}

// seriesRecord is the stored shape of a series.
type seriesRecord struct {
	SeriesID            avText    `dynamodbav:"SeriesId"`
	SeriesName          avText    `dynamodbav:"SeriesName"`
	IPCharacter         avText    `dynamodbav:"IpCharacter"`
	RelatedIPCharacters avStrings `dynamodbav:"RelatedIpCharacters"`
	ReleaseDate         avText    `dynamodbav:"ReleaseDate"`
	TotalItems          avInt     `dynamodbav:"TotalItems"`
	Status              avText    `dynamodbav:"Status"`
	RetailPrice         avDecimal `dynamodbav:"RetailPrice"`
	Currency            avText    `dynamodbav:"Currency"`
}

// decodeItem converts a DynamoDB item into a model.Item. Prices keep their
// decimal form; missing descriptive attributes get catalog defaults.
func decodeItem(av map[string]types.AttributeValue) (model.Item, error) {
	var rec itemRecord
	if err := attributevalue.UnmarshalMap(av, &rec); err != nil {
		return model.Item{}, fmt.Errorf("item: %w", err)
	}

	it := model.Item{
		SeriesID:         string(rec.SeriesID),
		ProductID:        string(rec.ProductID),
		ProductName:      string(rec.ProductName),
		IPCharacter:      string(rec.IPCharacter),
		SeriesName:       string(rec.SeriesName),
		Category:         string(rec.Category),
		Rarity:           model.Rarity(rec.Rarity),
		RetailPrice:      rec.RetailPrice.Decimal,
		AfterMarketPrice: rec.AfterMarketPrice.Decimal,
		Currency:         string(rec.Currency),
		Timestamp:        string(rec.Timestamp),
		Status:           string(rec.Status),
		SeriesSize:       int(rec.SeriesSize),
		ImageURL:         string(rec.ImageURL),
		Description:      string(rec.Description),
	}
	if it.ProductID == "" {
		return it, fmt.Errorf("item: %w: ProductId", errMissingKey)
	}

	if rec.PriceChange != nil && rec.PriceChangePercent != nil {
		it.PriceChange = rec.PriceChange.Decimal
		it.PriceChangePercent = rec.PriceChangePercent.Decimal
	} else {
		it.ComputeDelta()
	}

	if rec.TTL > 0 {
		exp := time.Unix(int64(rec.TTL), 0).UTC()
		it.ExpiresAt = &exp
	}

	it.ApplyDefaults()
	return it, nil
}

// decodeSeries converts a DynamoDB item into a model.Series.
func decodeSeries(av map[string]types.AttributeValue) (model.Series, error) {
	var rec seriesRecord
	if err := attributevalue.UnmarshalMap(av, &rec); err != nil {
		return model.Series{}, fmt.Errorf("series: %w", err)
	}

	s := model.Series{
		SeriesID:            string(rec.SeriesID),
		SeriesName:          string(rec.SeriesName),
		IPCharacter:         string(rec.IPCharacter),
		RelatedIPCharacters: []string(rec.RelatedIPCharacters),
		ReleaseDate:         string(rec.ReleaseDate),
		TotalItems:          int(rec.TotalItems),
		Status:              string(rec.Status),
		RetailPrice:         rec.RetailPrice.Decimal,
		Currency:            string(rec.Currency),
	}
	if s.SeriesID == "" {
		return s, fmt.Errorf("series: %w: SeriesId", errMissingKey)
	}

	s.ApplyDefaults()
	return s, nil
}

// scalar returns the text of an S or N value, or "" for anything else.
func scalar(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

// avText decodes S or N as text. Other types read as empty.
type avText string

func (t *avText) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	*t = avText(scalar(av))
	return nil
}

// avDecimal decodes a number stored either as N or as a numeric string.
type avDecimal struct {
	decimal.Decimal
}

func (d *avDecimal) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	raw := scalar(av)
	if raw == "" {
		d.Decimal = decimal.Zero
		return nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return err
	}
	d.Decimal = v
	return nil
}

// avInt decodes a count. Counts written by older loaders sometimes carry a
// fractional part.
type avInt int

func (n *avInt) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	raw := scalar(av)
	if raw == "" {
		*n = 0
		return nil
	}
	if v, err := strconv.Atoi(raw); err == nil {
		*n = avInt(v)
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("not an integer: %q", raw)
	}
	*n = avInt(d.IntPart())
	return nil
}

// avStrings decodes SS, a list of S, or a single S.
type avStrings []string

func (s *avStrings) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	switch v := av.(type) {
	case *types.AttributeValueMemberSS:
		*s = v.Value
	case *types.AttributeValueMemberL:
		out := make([]string, 0, len(v.Value))
		for _, e := range v.Value {
			if str, ok := e.(*types.AttributeValueMemberS); ok {
				out = append(out, str.Value)
			}
		}
		*s = out
	case *types.AttributeValueMemberS:
		*s = []string{v.Value}
	}
	return nil
}

var (
	_ attributevalue.Unmarshaler = (*avText)(nil)
	_ attributevalue.Unmarshaler = (*avDecimal)(nil)
	_ attributevalue.Unmarshaler = (*avInt)(nil)
	_ attributevalue.Unmarshaler = (*avStrings)(nil)
)
