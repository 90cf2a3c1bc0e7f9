package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type AssetClass string

const (
	AssetClassFiat   AssetClass = "FIAT"
	AssetClassCrypto AssetClass = "CRYPTO"
	AssetClassCredit AssetClass = "CREDIT"
	AssetClassNFT    AssetClass = "NFT"
	AssetClassDeFi   AssetClass = "DEFI"
)

// AssetClasses lists every class in a stable order.
var AssetClasses = []AssetClass{
	AssetClassFiat,
	AssetClassCrypto,
	AssetClassCredit,
	AssetClassNFT,
	AssetClassDeFi,
}

func (c AssetClass) Valid() bool {
	switch c {
	case AssetClassFiat, AssetClassCrypto, AssetClassCredit, AssetClassNFT, AssetClassDeFi:
		return true
	}
	return false
}

// Liquid reports whether holdings of this class count as liquid net worth.
func (c AssetClass) Liquid() bool {
	return c != AssetClassNFT
}

func ParseAssetClass(s string) (AssetClass, error) {
	c := AssetClass(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown asset class %q", s)
	}
	return c, nil
}

// AssetRef identifies one leg of a conversion. Symbol is the identifier used
// for rate lookups (currency code or token symbol); ID is the ledger identity
// (account id for fiat and credit, symbol for wallet holdings).
type AssetRef struct {
	Class  AssetClass `json:"class"`
	ID     string     `json:"id"`
	Symbol string     `json:"symbol"`
	Name   string     `json:"name"`
}

func (a AssetRef) String() string {
	return fmt.Sprintf("%s:%s", a.Class, a.ID)
}

// AvailableAsset is a holding the route optimizer may draw from.
type AvailableAsset struct {
	Asset   AssetRef        `json:"asset"`
	Balance decimal.Decimal `json:"balance"`
}
