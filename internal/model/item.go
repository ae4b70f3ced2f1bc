package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rarity is the pull tier of a catalog item. The set is open; these are the
// values the catalog ships with today.
type Rarity string

const (
	RarityCommon Rarity = "Common"
	RarityRare   Rarity = "Rare"
	RaritySecret Rarity = "Secret"
)

// Defaults applied when a stored record is missing descriptive attributes.
const (
	UnknownSeriesID   = "SERIES-UNKNOWN-DEFAULT"
	UnknownSeriesName = "Unknown Series"
	UnknownCharacter  = "Unknown"
	DefaultCurrency   = "CNY"
)

// Item is a single catalog entry with its latest observed prices.
// (SeriesID, ProductID) is unique across the catalog.
type Item struct {
	SeriesID           string          `json:"SeriesId"`
	ProductID          string          `json:"ProductId"`
	ProductName        string          `json:"ProductName"`
	IPCharacter        string          `json:"IpCharacter"`
	SeriesName         string          `json:"SeriesName"`
	Category           string          `json:"Category,omitempty"`
	Rarity             Rarity          `json:"Rarity"`
	RetailPrice        decimal.Decimal `json:"RetailPrice"`
	AfterMarketPrice   decimal.Decimal `json:"AfterMarketPrice"`
	Currency           string          `json:"Currency"`
	PriceChange        decimal.Decimal `json:"PriceChange"`
	PriceChangePercent decimal.Decimal `json:"PriceChangePercent"`
	Timestamp          string          `json:"Timestamp,omitempty"`
	Status             string          `json:"Status,omitempty"`
	SeriesSize         int             `json:"SeriesSize,omitempty"`
	ImageURL           string          `json:"ImageUrl,omitempty"`
	Description        string          `json:"Description,omitempty"`
	ExpiresAt          *time.Time      `json:"ExpiresAt,omitempty"`
}

// Expired reports whether the store is allowed to have removed the item by now.
func (i Item) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// ComputeDelta fills PriceChange and PriceChangePercent from the two prices
// when the stored record does not carry them. The percentage is rounded to
// two places and stays zero when there is no retail price.
func (i *Item) ComputeDelta() {
	i.PriceChange = i.AfterMarketPrice.Sub(i.RetailPrice)
	if i.RetailPrice.IsZero() {
		i.PriceChangePercent = decimal.Zero
		return
	}
	i.PriceChangePercent = i.PriceChange.Div(i.RetailPrice).Mul(decimal.NewFromInt(100)).Round(2)
}

// ApplyDefaults replaces missing descriptive fields with the catalog defaults.
func (i *Item) ApplyDefaults() {
	if i.SeriesID == "" {
		i.SeriesID = UnknownSeriesID
	}
	if i.SeriesName == "" {
		i.SeriesName = UnknownSeriesName
	}
	if i.IPCharacter == "" {
		i.IPCharacter = UnknownCharacter
	}
	if i.Rarity == "" {
		i.Rarity = RarityCommon
	}
	if i.Currency == "" {
		i.Currency = DefaultCurrency
	}
}
