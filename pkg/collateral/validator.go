package collateral

import (
	"fmt"
	"strings"

	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/shopspring/decimal"
)

// Haircuts discount collateral before it counts toward borrowing power. Class
// entries apply to every asset of that class unless the asset's symbol has its
// own entry; Default covers anything else.
type Haircuts struct {
	ByClass  map[models.AssetClass]decimal.Decimal
	BySymbol map[string]decimal.Decimal
	Default  decimal.Decimal
}

func DefaultHaircuts() Haircuts {
	stable := decimal.RequireFromString("0.05")
	return Haircuts{
		ByClass: map[models.AssetClass]decimal.Decimal{
			models.AssetClassFiat:   stable,
			models.AssetClassCrypto: decimal.RequireFromString("0.20"),
			models.AssetClassNFT:    decimal.RequireFromString("0.50"),
		},
		BySymbol: map[string]decimal.Decimal{
			"USDT": stable,
			"USDC": stable,
			"DAI":  stable,
		},
		Default: decimal.RequireFromString("0.10"),
	}
}

func (h Haircuts) For(asset models.CollateralAsset) decimal.Decimal {
	if asset.Symbol != "" {
		if cut, ok := h.BySymbol[strings.ToUpper(asset.Symbol)]; ok {
			return cut
		}
	}
	if cut, ok := h.ByClass[asset.Class]; ok {
		return cut
	}
	return h.Default
}

type Result struct {
	Eligible           bool            `json:"eligible"`
	AdjustedCollateral decimal.Decimal `json:"adjusted_collateral"`
	MaxBorrowable      decimal.Decimal `json:"max_borrowable"`
	Shortfall          decimal.Decimal `json:"shortfall"`
	Reason             string          `json:"reason"`
	requested          decimal.Decimal
}

// Err converts an ineligible result into an *InsufficientCollateralError.
func (r Result) Err() error {
	if r.Eligible {
		return nil
	}
	return &models.InsufficientCollateralError{
		Requested:     r.requested,
		MaxBorrowable: r.MaxBorrowable,
		Shortfall:     r.Shortfall,
	}
}

type Validator struct {
	haircuts Haircuts
}

func NewValidator(haircuts Haircuts) *Validator {
	return &Validator{haircuts: haircuts}
}

// Validate decides whether assets can back a borrow of requested at the given
// LTV ceiling. The boundary (max borrowable == requested) is eligible.
func (v *Validator) Validate(assets []models.CollateralAsset, requested, ltvCeiling decimal.Decimal) (Result, error) {
	if !requested.IsPositive() {
		return Result{}, fmt.Errorf("%w: requested %s", models.ErrInvalidAmount, requested.String())
	}
	if !ltvCeiling.IsPositive() || ltvCeiling.GreaterThan(decimal.NewFromInt(1)) {
		return Result{}, fmt.Errorf("%w: %s", models.ErrInvalidLTV, ltvCeiling.String())
	}

	adjusted := decimal.Zero
	for _, a := range assets {
		if a.ValueInReference.IsNegative() {
			return Result{}, fmt.Errorf("%w: collateral %s valued %s", models.ErrInvalidAmount, a.Class, a.ValueInReference.String())
		}
		keep := decimal.NewFromInt(1).Sub(v.haircuts.For(a))
		adjusted = adjusted.Add(a.ValueInReference.Mul(keep))
	}

	maxBorrowable := adjusted.Mul(ltvCeiling)
	res := Result{
		AdjustedCollateral: adjusted,
		MaxBorrowable:      maxBorrowable,
		Shortfall:          decimal.Zero,
		requested:          requested,
	}

	if maxBorrowable.GreaterThanOrEqual(requested) {
		res.Eligible = true
		res.Reason = "sufficient collateral"
		return res, nil
	}

	res.Shortfall = requested.Sub(maxBorrowable)
	res.Reason = fmt.Sprintf("insufficient collateral: shortfall %s", res.Shortfall.String())
	return res, nil
}
