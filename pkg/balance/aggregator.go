package balance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gregtusar/assetrouter/pkg/metrics"
	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type RateProvider interface {
	GetRate(ctx context.Context, from, to string, fromClass, toClass models.AssetClass) (models.RateQuote, error)
	Pivot() string
}

type Store interface {
	ListAccounts(ctx context.Context, userID string) ([]models.Account, error)
	ListWallets(ctx context.Context, userID string) ([]models.Wallet, error)
	ListWalletAssets(ctx context.Context, walletID string) ([]models.WalletAsset, error)
	ListNFTs(ctx context.Context, walletID string) ([]models.NFT, error)
	ListDeFiPositions(ctx context.Context, walletID string) ([]models.DeFiPosition, error)
}

// LiabilitySource reports debts held outside the user's credit accounts,
// such as loans.
type LiabilitySource interface {
	ListLiabilities(ctx context.Context, userID string) ([]models.Liability, error)
}

// Recorder keeps an audit trail of computed snapshots.
type Recorder interface {
	Record(ctx context.Context, snapshot models.UnifiedBalanceSnapshot) error
}

// Aggregator values everything a user holds in the reference currency.
// Snapshots are derived views; nothing here writes to the ledger.
type Aggregator struct {
	store       Store
	rates       RateProvider
	liabilities LiabilitySource
	recorder    Recorder
	maxParallel int
	logger      *logrus.Logger
	now         func() time.Time
}

// NewAggregator builds an aggregator. liabilities and recorder may be nil.
func NewAggregator(store Store, rates RateProvider, liabilities LiabilitySource, recorder Recorder, maxParallel int, logger *logrus.Logger) *Aggregator {
	if maxParallel <= 0 {
		maxParallel = 8
	}
	return &Aggregator{
		store:       store,
		rates:       rates,
		liabilities: liabilities,
		recorder:    recorder,
		maxParallel: maxParallel,
		logger:      logger,
		now:         time.Now,
	}
}

type holdings struct {
	accounts    []models.Account
	wallets     []models.Wallet
	liabilities []models.Liability

	mu     sync.Mutex
	assets []models.WalletAsset
	nfts   []models.NFT
	defi   []models.DeFiPosition
}

func (a *Aggregator) load(ctx context.Context, userID string) (*holdings, error) {
	h := &holdings{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if h.accounts, err = a.store.ListAccounts(gctx, userID); err != nil {
			return fmt.Errorf("failed to list accounts: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if h.wallets, err = a.store.ListWallets(gctx, userID); err != nil {
			return fmt.Errorf("failed to list wallets: %w", err)
		}
		return nil
	})
	if a.liabilities != nil {
		g.Go(func() error {
			var err error
			if h.liabilities, err = a.liabilities.ListLiabilities(gctx, userID); err != nil {
				return fmt.Errorf("failed to list liabilities: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(a.maxParallel)
	for _, w := range h.wallets {
		w := w
		g.Go(func() error {
			assets, err := a.store.ListWalletAssets(gctx, w.ID)
			if err != nil {
				return fmt.Errorf("failed to list assets of wallet %s: %w", w.ID, err)
			}
			nfts, err := a.store.ListNFTs(gctx, w.ID)
			if err != nil {
				return fmt.Errorf("failed to list nfts of wallet %s: %w", w.ID, err)
			}
			defi, err := a.store.ListDeFiPositions(gctx, w.ID)
			if err != nil {
				return fmt.Errorf("failed to list defi positions of wallet %s: %w", w.ID, err)
			}

			h.mu.Lock()
			defer h.mu.Unlock()
			h.assets = append(h.assets, assets...)
			h.nfts = append(h.nfts, nfts...)
			h.defi = append(h.defi, defi...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return h, nil
}

// Snapshot computes the user's unified balance.
//
// Fiat accounts and external liabilities are converted through the rate
// oracle; wallet holdings already carry a reference value. Credit accounts
// add their outstanding balance to liabilities and their unused limit to
// available credit. NFTs count as illiquid.
func (a *Aggregator) Snapshot(ctx context.Context, userID string) (models.UnifiedBalanceSnapshot, error) {
	start := time.Now()
	defer func() {
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	}()

	h, err := a.load(ctx, userID)
	if err != nil {
		return models.UnifiedBalanceSnapshot{}, err
	}

	pivot := a.rates.Pivot()
	snap := models.UnifiedBalanceSnapshot{
		UserID:            userID,
		ReferenceCurrency: pivot,
		Totals: map[models.AssetClass]decimal.Decimal{
			models.AssetClassFiat:   decimal.Zero,
			models.AssetClassCrypto: decimal.Zero,
			models.AssetClassNFT:    decimal.Zero,
			models.AssetClassDeFi:   decimal.Zero,
		},
		TotalLiabilities: decimal.Zero,
		AvailableCredit:  decimal.Zero,
	}

	for _, acct := range h.accounts {
		switch acct.Class {
		case models.AssetClassFiat:
			v, err := a.toReference(ctx, acct.Currency, acct.Balance)
			if err != nil {
				return models.UnifiedBalanceSnapshot{}, fmt.Errorf("account %s: %w", acct.ID, err)
			}
			snap.Totals[models.AssetClassFiat] = snap.Totals[models.AssetClassFiat].Add(v)
		case models.AssetClassCredit:
			owed, err := a.toReference(ctx, acct.Currency, acct.Balance)
			if err != nil {
				return models.UnifiedBalanceSnapshot{}, fmt.Errorf("account %s: %w", acct.ID, err)
			}
			avail, err := a.toReference(ctx, acct.Currency, acct.AvailableCredit())
			if err != nil {
				return models.UnifiedBalanceSnapshot{}, fmt.Errorf("account %s: %w", acct.ID, err)
			}
			snap.TotalLiabilities = snap.TotalLiabilities.Add(owed)
			snap.AvailableCredit = snap.AvailableCredit.Add(avail)
		default:
			a.logger.WithFields(logrus.Fields{
				"account_id": acct.ID,
				"class":      acct.Class,
			}).Warn("Skipping account with unexpected class")
		}
	}

	for _, asset := range h.assets {
		snap.Totals[models.AssetClassCrypto] = snap.Totals[models.AssetClassCrypto].Add(asset.ValueInReference)
	}
	for _, nft := range h.nfts {
		snap.Totals[models.AssetClassNFT] = snap.Totals[models.AssetClassNFT].Add(nft.ValueInReference)
	}
	for _, p := range h.defi {
		snap.Totals[models.AssetClassDeFi] = snap.Totals[models.AssetClassDeFi].Add(p.ValueInReference)
	}
	for _, l := range h.liabilities {
		v, err := a.toReference(ctx, l.Currency, l.Amount)
		if err != nil {
			return models.UnifiedBalanceSnapshot{}, fmt.Errorf("liability %s: %w", l.Kind, err)
		}
		snap.TotalLiabilities = snap.TotalLiabilities.Add(v)
	}

	snap.TotalAssets = decimal.Zero
	snap.LiquidAssets = decimal.Zero
	snap.IlliquidAssets = decimal.Zero
	for class, v := range snap.Totals {
		snap.TotalAssets = snap.TotalAssets.Add(v)
		if class.Liquid() {
			snap.LiquidAssets = snap.LiquidAssets.Add(v)
		} else {
			snap.IlliquidAssets = snap.IlliquidAssets.Add(v)
		}
	}
	snap.NetWorth = snap.TotalAssets.Sub(snap.TotalLiabilities)
	snap.DebtToAssetRatio = decimal.Zero
	if !snap.TotalAssets.IsZero() {
		snap.DebtToAssetRatio = snap.TotalLiabilities.Div(snap.TotalAssets)
	}
	snap.ComputedAt = a.now().UTC()

	if a.recorder != nil {
		if err := a.recorder.Record(ctx, snap); err != nil {
			a.logger.WithError(err).WithField("user_id", userID).Warn("Failed to record balance snapshot")
		}
	}

	a.logger.WithFields(logrus.Fields{
		"user_id":      userID,
		"total_assets": snap.TotalAssets.String(),
		"net_worth":    snap.NetWorth.String(),
	}).Debug("Computed balance snapshot")

	return snap, nil
}

func (a *Aggregator) toReference(ctx context.Context, currency string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsZero() {
		return decimal.Zero, nil
	}
	q, err := a.rates.GetRate(ctx, currency, a.rates.Pivot(), models.AssetClassFiat, models.AssetClassFiat)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Convert(amount), nil
}

// AvailableAssets lists what the user could fund a payment from: fiat
// balances, unused credit, and crypto holdings summed per symbol across
// wallets. NFTs and DeFi positions carry no unit balance and are left out.
func (a *Aggregator) AvailableAssets(ctx context.Context, userID string) ([]models.AvailableAsset, error) {
	h, err := a.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out []models.AvailableAsset
	for _, acct := range h.accounts {
		ref := models.AssetRef{Class: acct.Class, ID: acct.ID, Symbol: acct.Currency, Name: acct.Name}
		switch acct.Class {
		case models.AssetClassFiat:
			out = append(out, models.AvailableAsset{Asset: ref, Balance: acct.Balance})
		case models.AssetClassCredit:
			if avail := acct.AvailableCredit(); avail.IsPositive() {
				out = append(out, models.AvailableAsset{Asset: ref, Balance: avail})
			}
		}
	}

	bySymbol := make(map[string]*models.AvailableAsset)
	for _, asset := range h.assets {
		sym := strings.ToUpper(asset.Symbol)
		if cur, ok := bySymbol[sym]; ok {
			cur.Balance = cur.Balance.Add(asset.Balance)
			continue
		}
		bySymbol[sym] = &models.AvailableAsset{
			Asset:   models.AssetRef{Class: models.AssetClassCrypto, ID: sym, Symbol: sym, Name: asset.Name},
			Balance: asset.Balance,
		}
	}
	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		out = append(out, *bySymbol[sym])
	}
	return out, nil
}
