package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateQuote is the price of one unit of From expressed in To.
type RateQuote struct {
	From            string          `json:"from"`
	To              string          `json:"to"`
	Rate            decimal.Decimal `json:"rate"`
	DerivedViaPivot bool            `json:"derived_via_pivot"`
	Source          string          `json:"source"`
	ComputedAt      time.Time       `json:"computed_at"`
	ValidUntil      time.Time       `json:"valid_until"`
}

func (q RateQuote) Expired(now time.Time) bool {
	return !now.Before(q.ValidUntil)
}

// Convert applies the quote to an amount of From.
func (q RateQuote) Convert(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(q.Rate)
}

type FeeBreakdown struct {
	PercentageFee decimal.Decimal `json:"percentage_fee"`
	NetworkFee    decimal.Decimal `json:"network_fee"`
	TotalFee      decimal.Decimal `json:"total_fee"`
}

type RouteCandidate struct {
	SourceAsset      AssetRef        `json:"source_asset"`
	ConversionType   ConversionType  `json:"conversion_type"`
	Fees             FeeBreakdown    `json:"fees"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	EstimatedMinutes int             `json:"estimated_minutes"`
	Score            decimal.Decimal `json:"score"`
	Rate             decimal.Decimal `json:"rate"`
	SourceAmount     decimal.Decimal `json:"source_amount"`
}
