package model

import "github.com/shopspring/decimal"

// Series describes a product line. Items reference it by SeriesID.
type Series struct {
	SeriesID            string          `json:"SeriesId"`
	SeriesName          string          `json:"SeriesName"`
	IPCharacter         string          `json:"IpCharacter"`
	RelatedIPCharacters []string        `json:"RelatedIpCharacters,omitempty"`
	ReleaseDate         string          `json:"ReleaseDate,omitempty"`
	TotalItems          int             `json:"TotalItems"`
	Status              string          `json:"Status,omitempty"`
	RetailPrice         decimal.Decimal `json:"RetailPrice"`
	Currency            string          `json:"Currency"`
}

// ApplyDefaults fills the descriptive fields a partial record may lack.
func (s *Series) ApplyDefaults() {
	if s.SeriesName == "" {
		s.SeriesName = UnknownSeriesName
	}
	if s.IPCharacter == "" {
		s.IPCharacter = UnknownCharacter
	}
	if s.Currency == "" {
		s.Currency = DefaultCurrency
	}
}
