package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Records read from the ledger/wallet provider.

type Account struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	Name        string           `json:"name"`
	Class       AssetClass       `json:"class"`
	Currency    string           `json:"currency"`
	Balance     decimal.Decimal  `json:"balance"`
	CreditLimit *decimal.Decimal `json:"credit_limit,omitempty"`
}

// AvailableCredit is limit minus outstanding balance, floored at zero.
func (a Account) AvailableCredit() decimal.Decimal {
	if a.CreditLimit == nil {
		return decimal.Zero
	}
	avail := a.CreditLimit.Sub(a.Balance)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

type Wallet struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Network string `json:"network"`
}

type WalletAsset struct {
	WalletID         string          `json:"wallet_id"`
	Symbol           string          `json:"symbol"`
	Name             string          `json:"name"`
	Balance          decimal.Decimal `json:"balance"`
	ValueInReference decimal.Decimal `json:"value_in_reference"`
}

type NFT struct {
	WalletID         string          `json:"wallet_id"`
	Collection       string          `json:"collection"`
	TokenID          string          `json:"token_id"`
	Name             string          `json:"name"`
	ValueInReference decimal.Decimal `json:"value_in_reference"`
}

type DeFiPosition struct {
	WalletID         string          `json:"wallet_id"`
	Protocol         string          `json:"protocol"`
	Kind             string          `json:"kind"`
	Symbol           string          `json:"symbol"`
	ValueInReference decimal.Decimal `json:"value_in_reference"`
}

type User struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
}

type Liability struct {
	UserID   string          `json:"user_id"`
	Kind     string          `json:"kind"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// UnifiedBalanceSnapshot is a derived read model; the ledger stays the system
// of record.
type UnifiedBalanceSnapshot struct {
	UserID            string                         `json:"user_id"`
	ReferenceCurrency string                         `json:"reference_currency"`
	Totals            map[AssetClass]decimal.Decimal `json:"totals"`
	TotalAssets       decimal.Decimal                `json:"total_assets"`
	TotalLiabilities  decimal.Decimal                `json:"total_liabilities"`
	NetWorth          decimal.Decimal                `json:"net_worth"`
	LiquidAssets      decimal.Decimal                `json:"liquid_assets"`
	IlliquidAssets    decimal.Decimal                `json:"illiquid_assets"`
	AvailableCredit   decimal.Decimal                `json:"available_credit"`
	DebtToAssetRatio  decimal.Decimal                `json:"debt_to_asset_ratio"`
	ComputedAt        time.Time                      `json:"computed_at"`
}
