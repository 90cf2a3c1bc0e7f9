package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Engine error kinds. Callers match them with errors.Is.
var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrRateUnavailable        = errors.New("rate unavailable")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrNoViableRoute          = errors.New("no viable route")
	ErrBridgeTransition       = errors.New("invalid bridge transition")
)

var (
	ErrUnsupportedConversion = errors.New("unsupported conversion")
	ErrUnknownConversionType = errors.New("unknown conversion type")
	ErrInvalidLTV            = errors.New("invalid loan-to-value ceiling")
	ErrAssetNotFound         = errors.New("asset not found")
)

// InsufficientCollateralError carries the amount by which a borrow request
// exceeds the borrowable limit.
type InsufficientCollateralError struct {
	Requested     decimal.Decimal
	MaxBorrowable decimal.Decimal
	Shortfall     decimal.Decimal
}

func (e *InsufficientCollateralError) Error() string {
	return fmt.Sprintf("insufficient collateral: requested %s, max borrowable %s, shortfall %s",
		e.Requested.String(), e.MaxBorrowable.String(), e.Shortfall.String())
}

func (e *InsufficientCollateralError) Unwrap() error {
	return ErrInsufficientCollateral
}
