package ledger

import (
	"fmt"
	"os"

	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Fixtures describe seed holdings for a Memory ledger. Amounts are strings so
// they keep full decimal precision.
type Fixtures struct {
	Users []struct {
		ID          string `yaml:"id"`
		Handle      string `yaml:"handle"`
		DisplayName string `yaml:"display_name"`
		Accounts    []struct {
			ID          string `yaml:"id"`
			Name        string `yaml:"name"`
			Class       string `yaml:"class"`
			Currency    string `yaml:"currency"`
			Balance     string `yaml:"balance"`
			CreditLimit string `yaml:"credit_limit"`
		} `yaml:"accounts"`
		Wallets []struct {
			ID      string `yaml:"id"`
			Name    string `yaml:"name"`
			Network string `yaml:"network"`
			Assets  []struct {
				Symbol string `yaml:"symbol"`
				Name   string `yaml:"name"`
				Amount string `yaml:"balance"`
				Value  string `yaml:"value"`
			} `yaml:"assets"`
			NFTs []struct {
				Collection string `yaml:"collection"`
				TokenID    string `yaml:"token_id"`
				Name       string `yaml:"name"`
				Value      string `yaml:"value"`
			} `yaml:"nfts"`
			DeFi []struct {
				Protocol string `yaml:"protocol"`
				Kind     string `yaml:"kind"`
				Symbol   string `yaml:"symbol"`
				Value    string `yaml:"value"`
			} `yaml:"defi"`
		} `yaml:"wallets"`
		Liabilities []struct {
			Kind     string `yaml:"kind"`
			Currency string `yaml:"currency"`
			Amount   string `yaml:"amount"`
		} `yaml:"liabilities"`
	} `yaml:"users"`
}

// LoadFixtures reads a YAML fixture file into a new Memory ledger.
func LoadFixtures(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

func ParseFixtures(data []byte) (*Memory, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}

	m := NewMemory()
	for _, u := range f.Users {
		m.AddUser(models.User{ID: u.ID, Handle: u.Handle, DisplayName: u.DisplayName})

		for _, a := range u.Accounts {
			class, err := models.ParseAssetClass(a.Class)
			if err != nil {
				return nil, fmt.Errorf("account %s: %w", a.ID, err)
			}
			balance, err := amount(a.Balance)
			if err != nil {
				return nil, fmt.Errorf("account %s balance: %w", a.ID, err)
			}
			acct := models.Account{
				ID:       a.ID,
				UserID:   u.ID,
				Name:     a.Name,
				Class:    class,
				Currency: a.Currency,
				Balance:  balance,
			}
			if a.CreditLimit != "" {
				limit, err := amount(a.CreditLimit)
				if err != nil {
					return nil, fmt.Errorf("account %s credit limit: %w", a.ID, err)
				}
				acct.CreditLimit = &limit
			}
			m.AddAccount(acct)
		}

		for _, w := range u.Wallets {
			m.AddWallet(models.Wallet{ID: w.ID, UserID: u.ID, Name: w.Name, Network: w.Network})
			for _, a := range w.Assets {
				bal, err := amount(a.Amount)
				if err != nil {
					return nil, fmt.Errorf("wallet %s asset %s: %w", w.ID, a.Symbol, err)
				}
				val, err := amount(a.Value)
				if err != nil {
					return nil, fmt.Errorf("wallet %s asset %s value: %w", w.ID, a.Symbol, err)
				}
				m.AddWalletAsset(models.WalletAsset{WalletID: w.ID, Symbol: a.Symbol, Name: a.Name, Balance: bal, ValueInReference: val})
			}
			for _, n := range w.NFTs {
				val, err := amount(n.Value)
				if err != nil {
					return nil, fmt.Errorf("wallet %s nft %s: %w", w.ID, n.TokenID, err)
				}
				m.AddNFT(models.NFT{WalletID: w.ID, Collection: n.Collection, TokenID: n.TokenID, Name: n.Name, ValueInReference: val})
			}
			for _, p := range w.DeFi {
				val, err := amount(p.Value)
				if err != nil {
					return nil, fmt.Errorf("wallet %s defi %s: %w", w.ID, p.Protocol, err)
				}
				m.AddDeFiPosition(models.DeFiPosition{WalletID: w.ID, Protocol: p.Protocol, Kind: p.Kind, Symbol: p.Symbol, ValueInReference: val})
			}
		}

		for _, l := range u.Liabilities {
			amt, err := amount(l.Amount)
			if err != nil {
				return nil, fmt.Errorf("liability %s: %w", l.Kind, err)
			}
			m.AddLiability(models.Liability{UserID: u.ID, Kind: l.Kind, Currency: l.Currency, Amount: amt})
		}
	}
	return m, nil
}

func amount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
