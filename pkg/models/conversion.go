package models

import (
	"fmt"
	"strings"
)

type ConversionType string

const (
	ConversionFiatToCrypto   ConversionType = "FIAT_TO_CRYPTO"
	ConversionCryptoToFiat   ConversionType = "CRYPTO_TO_FIAT"
	ConversionCryptoToCrypto ConversionType = "CRYPTO_TO_CRYPTO"
	ConversionCreditToFiat   ConversionType = "CREDIT_TO_FIAT"
	ConversionCollateralSwap ConversionType = "COLLATERAL_SWAP"
	ConversionFiatToFiat     ConversionType = "FIAT_TO_FIAT"
)

var ConversionTypes = []ConversionType{
	ConversionFiatToCrypto,
	ConversionCryptoToFiat,
	ConversionCryptoToCrypto,
	ConversionCreditToFiat,
	ConversionCollateralSwap,
	ConversionFiatToFiat,
}

func (t ConversionType) Valid() bool {
	for _, ct := range ConversionTypes {
		if ct == t {
			return true
		}
	}
	return false
}

func ParseConversionType(s string) (ConversionType, error) {
	t := ConversionType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownConversionType, s)
	}
	return t, nil
}

// ClassifyConversion derives the conversion type of a (source, destination)
// class pair. Credit can be drawn from but never converted into.
func ClassifyConversion(from, to AssetClass) (ConversionType, error) {
	if !from.Valid() || !to.Valid() {
		return "", fmt.Errorf("%w: %s -> %s", ErrUnsupportedConversion, from, to)
	}
	if to == AssetClassCredit {
		return "", fmt.Errorf("%w: %s -> %s", ErrUnsupportedConversion, from, to)
	}
	if from == AssetClassNFT || from == AssetClassDeFi || to == AssetClassNFT || to == AssetClassDeFi {
		return ConversionCollateralSwap, nil
	}

	switch from {
	case AssetClassCredit:
		return ConversionCreditToFiat, nil
	case AssetClassFiat:
		if to == AssetClassCrypto {
			return ConversionFiatToCrypto, nil
		}
		return ConversionFiatToFiat, nil
	case AssetClassCrypto:
		if to == AssetClassFiat {
			return ConversionCryptoToFiat, nil
		}
		return ConversionCryptoToCrypto, nil
	}
	return "", fmt.Errorf("%w: %s -> %s", ErrUnsupportedConversion, from, to)
}
