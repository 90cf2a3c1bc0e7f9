package fees

import (
	"fmt"
	"os"

	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// scheduleFile is the on-disk layout:
//
//	rules:
//	  FIAT_TO_CRYPTO:
//	    percentage: 0.015
//	    minimum_fee: 0.99
//	    maximum_fee: 49.99
//	    network_fee: 2.50
type scheduleFile struct {
	Rules map[string]ruleFile `yaml:"rules"`
}

type ruleFile struct {
	Percentage float64  `yaml:"percentage"`
	MinimumFee float64  `yaml:"minimum_fee"`
	MaximumFee *float64 `yaml:"maximum_fee"`
	NetworkFee *float64 `yaml:"network_fee"`
}

// LoadSchedule reads a YAML fee table. Types missing from the file keep their
// default rule and network fee.
func LoadSchedule(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fee schedule: %w", err)
	}
	return ParseSchedule(data)
}

func ParseSchedule(data []byte) (*Schedule, error) {
	var file scheduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse fee schedule: %w", err)
	}

	rules := DefaultRules()
	network := DefaultNetworkFees()

	for name, rf := range file.Rules {
		ct, err := models.ParseConversionType(name)
		if err != nil {
			return nil, err
		}
		if rf.Percentage < 0 || rf.Percentage > 1 {
			return nil, fmt.Errorf("fee schedule %s: percentage %v out of range [0,1]", ct, rf.Percentage)
		}
		if rf.MaximumFee != nil && *rf.MaximumFee < rf.MinimumFee {
			return nil, fmt.Errorf("fee schedule %s: maximum_fee below minimum_fee", ct)
		}

		rule := Rule{
			Percentage: decimal.NewFromFloat(rf.Percentage),
			MinimumFee: decimal.NewFromFloat(rf.MinimumFee),
		}
		if rf.MaximumFee != nil {
			maxFee := decimal.NewFromFloat(*rf.MaximumFee)
			rule.MaximumFee = &maxFee
		}
		rules[ct] = rule

		if rf.NetworkFee != nil {
			network[ct] = decimal.NewFromFloat(*rf.NetworkFee)
		}
	}

	return NewSchedule(rules, network), nil
}
