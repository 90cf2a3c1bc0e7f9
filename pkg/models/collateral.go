package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CollateralAsset struct {
	Class            AssetClass      `json:"class"`
	Symbol           string          `json:"symbol,omitempty"`
	ValueInReference decimal.Decimal `json:"value_in_reference"`
}

type CollateralPosition struct {
	ID                   string            `json:"id"`
	UserID               string            `json:"user_id"`
	CollateralAssets     []CollateralAsset `json:"collateral_assets"`
	TotalCollateralValue decimal.Decimal   `json:"total_collateral_value"`
	BorrowedAmount       decimal.Decimal   `json:"borrowed_amount"`
	LoanToValue          decimal.Decimal   `json:"loan_to_value"`
	LiquidationLTV       decimal.Decimal   `json:"liquidation_ltv"`
	HealthFactor         decimal.Decimal   `json:"health_factor"`
	CreatedAt            time.Time         `json:"created_at"`
}
