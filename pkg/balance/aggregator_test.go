package balance

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/gregtusar/assetrouter/pkg/ledger"
	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/gregtusar/assetrouter/pkg/oracle"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testRates() *oracle.Oracle {
	src := oracle.NewStaticSource(map[string]decimal.Decimal{
		"EUR/USD": d("1.08"),
		"ETH/USD": d("3200"),
	})
	return oracle.New(src, oracle.NewMemoryCache(), oracle.Config{Pivot: "USD"}, quietLogger())
}

func seeded() *ledger.Memory {
	limit := d("2000")
	m := ledger.NewMemory()
	m.AddAccount(models.Account{ID: "usd", UserID: "u1", Class: models.AssetClassFiat, Currency: "USD", Balance: d("1500.25")})
	m.AddAccount(models.Account{ID: "eur", UserID: "u1", Class: models.AssetClassFiat, Currency: "EUR", Balance: d("1000")})
	m.AddAccount(models.Account{ID: "card", UserID: "u1", Class: models.AssetClassCredit, Currency: "USD", Balance: d("400"), CreditLimit: &limit})
	m.AddWallet(models.Wallet{ID: "w1", UserID: "u1"})
	m.AddWallet(models.Wallet{ID: "w2", UserID: "u1"})
	m.AddWalletAsset(models.WalletAsset{WalletID: "w1", Symbol: "ETH", Balance: d("1"), ValueInReference: d("3200")})
	m.AddWalletAsset(models.WalletAsset{WalletID: "w2", Symbol: "eth", Balance: d("0.5"), ValueInReference: d("1600")})
	m.AddNFT(models.NFT{WalletID: "w1", Collection: "punks", TokenID: "42", ValueInReference: d("12000")})
	m.AddDeFiPosition(models.DeFiPosition{WalletID: "w2", Protocol: "aave", Kind: "lending", Symbol: "USDC", ValueInReference: d("2500")})
	m.AddLiability(models.Liability{UserID: "u1", Kind: "loan", Currency: "EUR", Amount: d("500")})
	return m
}

func TestSnapshot_NetWorthIdentity(t *testing.T) {
	m := seeded()
	a := NewAggregator(m, testRates(), m, nil, 4, quietLogger())

	s, err := a.Snapshot(context.Background(), "u1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	expect := map[models.AssetClass]string{
		models.AssetClassFiat:   "2580.25", // 1500.25 + 1000 * 1.08
		models.AssetClassCrypto: "4800",
		models.AssetClassNFT:    "12000",
		models.AssetClassDeFi:   "2500",
	}
	for class, want := range expect {
		if !s.Totals[class].Equal(d(want)) {
			t.Errorf("%s total: expected %s, got %s", class, want, s.Totals[class])
		}
	}
	if !s.TotalAssets.Equal(d("21880.25")) {
		t.Errorf("expected total assets 21880.25, got %s", s.TotalAssets)
	}
	// card 400 + loan 500 EUR
	if !s.TotalLiabilities.Equal(d("940")) {
		t.Errorf("expected liabilities 940, got %s", s.TotalLiabilities)
	}
	if !s.NetWorth.Equal(s.TotalAssets.Sub(s.TotalLiabilities)) {
		t.Errorf("net worth %s != assets - liabilities", s.NetWorth)
	}
	if !s.LiquidAssets.Add(s.IlliquidAssets).Equal(s.TotalAssets) || !s.IlliquidAssets.Equal(d("12000")) {
		t.Errorf("unexpected liquidity split %s / %s", s.LiquidAssets, s.IlliquidAssets)
	}
	if !s.AvailableCredit.Equal(d("1600")) {
		t.Errorf("expected available credit 1600, got %s", s.AvailableCredit)
	}
	if !s.DebtToAssetRatio.Equal(d("940").Div(d("21880.25"))) {
		t.Errorf("unexpected debt ratio %s", s.DebtToAssetRatio)
	}
	if s.ReferenceCurrency != "USD" {
		t.Errorf("expected USD reference, got %s", s.ReferenceCurrency)
	}
}

func TestSnapshot_ZeroAssets(t *testing.T) {
	m := ledger.NewMemory()
	a := NewAggregator(m, testRates(), m, nil, 0, quietLogger())

	s, err := a.Snapshot(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !s.TotalAssets.IsZero() || !s.NetWorth.IsZero() || !s.DebtToAssetRatio.IsZero() {
		t.Errorf("expected all-zero snapshot, got %+v", s)
	}

	m.AddLiability(models.Liability{UserID: "debtor", Kind: "loan", Currency: "USD", Amount: d("300")})
	s, err = a.Snapshot(context.Background(), "debtor")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !s.NetWorth.Equal(d("-300")) || !s.DebtToAssetRatio.IsZero() {
		t.Errorf("expected net worth -300 and zero ratio, got %s and %s", s.NetWorth, s.DebtToAssetRatio)
	}
}

func TestSnapshot_UnpricedCurrencyFails(t *testing.T) {
	m := ledger.NewMemory()
	m.AddAccount(models.Account{ID: "chf", UserID: "u1", Class: models.AssetClassFiat, Currency: "CHF", Balance: d("10")})
	a := NewAggregator(m, testRates(), nil, nil, 0, quietLogger())

	if _, err := a.Snapshot(context.Background(), "u1"); !errors.Is(err, models.ErrRateUnavailable) {
		t.Errorf("expected ErrRateUnavailable, got %v", err)
	}
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(context.Context, models.UnifiedBalanceSnapshot) error {
	f.calls++
	return errors.New("disk full")
}

func TestSnapshot_RecorderFailureIsNotFatal(t *testing.T) {
	m := seeded()
	rec := &failingRecorder{}
	a := NewAggregator(m, testRates(), m, rec, 0, quietLogger())

	if _, err := a.Snapshot(context.Background(), "u1"); err != nil {
		t.Fatalf("recorder failure leaked: %v", err)
	}
	if rec.calls != 1 {
		t.Errorf("expected one record attempt, got %d", rec.calls)
	}
}

func TestSQLiteRecorder(t *testing.T) {
	rec, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rec.Close()

	m := seeded()
	a := NewAggregator(m, testRates(), m, rec, 0, quietLogger())
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := a.Snapshot(ctx, "u1"); err != nil {
			t.Fatalf("snapshot: %v", err)
		}
	}

	history, err := rec.History(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 recorded snapshots, got %d", len(history))
	}
	if !history[0].NetWorth.Equal(d("20940.25")) {
		t.Errorf("unexpected recorded net worth %s", history[0].NetWorth)
	}

	n, err := rec.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 2 {
		t.Errorf("expected 2 pruned rows, got %d (%v)", n, err)
	}
}

func TestAvailableAssets(t *testing.T) {
	m := seeded()
	a := NewAggregator(m, testRates(), m, nil, 0, quietLogger())

	got, err := a.AvailableAssets(context.Background(), "u1")
	if err != nil {
		t.Fatalf("available assets: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected usd, eur, card and ETH, got %+v", got)
	}
	byID := make(map[string]models.AvailableAsset)
	for _, h := range got {
		byID[h.Asset.ID] = h
	}
	if eth := byID["ETH"]; !eth.Balance.Equal(d("1.5")) || eth.Asset.Class != models.AssetClassCrypto {
		t.Errorf("expected ETH merged across wallets to 1.5, got %+v", eth)
	}
	if card := byID["card"]; !card.Balance.Equal(d("1600")) || card.Asset.Class != models.AssetClassCredit {
		t.Errorf("expected card to offer 1600 of credit, got %+v", card)
	}
}
