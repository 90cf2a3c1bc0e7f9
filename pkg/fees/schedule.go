package fees

import (
	"fmt"

	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/shopspring/decimal"
)

// Rule is the fee policy for one conversion type. Percentage is a fraction
// (0.015 = 1.5%). A nil MaximumFee means the fee is not capped.
type Rule struct {
	Percentage decimal.Decimal
	MinimumFee decimal.Decimal
	MaximumFee *decimal.Decimal
}

// Clamp bounds fee to [MinimumFee, MaximumFee].
func (r Rule) Clamp(fee decimal.Decimal) decimal.Decimal {
	if fee.LessThan(r.MinimumFee) {
		fee = r.MinimumFee
	}
	if r.MaximumFee != nil && fee.GreaterThan(*r.MaximumFee) {
		fee = *r.MaximumFee
	}
	return fee
}

// NetworkFeeEstimator estimates the settlement or network cost of a conversion.
type NetworkFeeEstimator interface {
	EstimateNetworkFee(ct models.ConversionType, amount decimal.Decimal) decimal.Decimal
}

// StaticNetworkFees returns a fixed network fee per conversion type.
type StaticNetworkFees map[models.ConversionType]decimal.Decimal

func (s StaticNetworkFees) EstimateNetworkFee(ct models.ConversionType, _ decimal.Decimal) decimal.Decimal {
	if fee, ok := s[ct]; ok {
		return fee
	}
	return decimal.Zero
}

type Schedule struct {
	rules   map[models.ConversionType]Rule
	network NetworkFeeEstimator
}

func NewSchedule(rules map[models.ConversionType]Rule, network NetworkFeeEstimator) *Schedule {
	if network == nil {
		network = StaticNetworkFees{}
	}
	copied := make(map[models.ConversionType]Rule, len(rules))
	for ct, r := range rules {
		copied[ct] = r
	}
	return &Schedule{rules: copied, network: network}
}

func DefaultSchedule() *Schedule {
	return NewSchedule(DefaultRules(), DefaultNetworkFees())
}

func DefaultRules() map[models.ConversionType]Rule {
	return map[models.ConversionType]Rule{
		models.ConversionFiatToCrypto:   {Percentage: dec("0.015"), MinimumFee: dec("0.99"), MaximumFee: decPtr("49.99")},
		models.ConversionCryptoToFiat:   {Percentage: dec("0.01"), MinimumFee: dec("0.99"), MaximumFee: decPtr("29.99")},
		models.ConversionCryptoToCrypto: {Percentage: dec("0.005"), MinimumFee: dec("0.10")},
		models.ConversionCreditToFiat:   {Percentage: dec("0.03"), MinimumFee: dec("5.00")},
		models.ConversionCollateralSwap: {Percentage: dec("0.0025"), MinimumFee: dec("1.00"), MaximumFee: decPtr("99.99")},
		models.ConversionFiatToFiat:     {Percentage: dec("0.005"), MinimumFee: dec("0.50"), MaximumFee: decPtr("25.00")},
	}
}

func DefaultNetworkFees() StaticNetworkFees {
	return StaticNetworkFees{
		models.ConversionFiatToCrypto:   dec("2.50"),
		models.ConversionCryptoToFiat:   dec("1.50"),
		models.ConversionCryptoToCrypto: dec("3.00"),
		models.ConversionCollateralSwap: dec("5.00"),
	}
}

func (s *Schedule) Rule(ct models.ConversionType) (Rule, bool) {
	r, ok := s.rules[ct]
	return r, ok
}

// ComputeFees applies the clamped percentage fee for ct to amount and adds the
// estimated network fee.
func (s *Schedule) ComputeFees(amount decimal.Decimal, ct models.ConversionType) (models.FeeBreakdown, error) {
	if amount.IsNegative() {
		return models.FeeBreakdown{}, fmt.Errorf("%w: %s", models.ErrInvalidAmount, amount.String())
	}
	rule, ok := s.rules[ct]
	if !ok {
		return models.FeeBreakdown{}, fmt.Errorf("%w: %s", models.ErrUnknownConversionType, ct)
	}

	pct := rule.Clamp(amount.Mul(rule.Percentage))
	network := s.network.EstimateNetworkFee(ct, amount)

	return models.FeeBreakdown{
		PercentageFee: pct,
		NetworkFee:    network,
		TotalFee:      pct.Add(network),
	}, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}
