package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"
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

type FeeCalculator interface {
	ComputeFees(amount decimal.Decimal, ct models.ConversionType) (models.FeeBreakdown, error)
}

type Config struct {
	MaxParallel  int
	AssetTimeout time.Duration
	FeeWeight    decimal.Decimal
	TimeWeight   decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		MaxParallel:  8,
		AssetTimeout: 2 * time.Second,
		FeeWeight:    decimal.RequireFromString("0.7"),
		TimeWeight:   decimal.RequireFromString("0.3"),
	}
}

// Optimizer ranks the holdings a user could fund a payment from.
type Optimizer struct {
	rates      RateProvider
	fees       FeeCalculator
	settlement SettlementEstimator
	cfg        Config
	logger     *logrus.Logger
}

func NewOptimizer(rates RateProvider, fees FeeCalculator, settlement SettlementEstimator, cfg Config, logger *logrus.Logger) *Optimizer {
	def := DefaultConfig()
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = def.MaxParallel
	}
	if cfg.AssetTimeout <= 0 {
		cfg.AssetTimeout = def.AssetTimeout
	}
	if cfg.FeeWeight.IsZero() && cfg.TimeWeight.IsZero() {
		cfg.FeeWeight, cfg.TimeWeight = def.FeeWeight, def.TimeWeight
	}
	if settlement == nil {
		settlement = DefaultWindows()
	}
	return &Optimizer{
		rates:      rates,
		fees:       fees,
		settlement: settlement,
		cfg:        cfg,
		logger:     logger,
	}
}

var sixty = decimal.NewFromInt(60)

// FindRoutes returns one candidate per usable holding, best first.
// amountNeeded is denominated in the reference currency. Holdings whose rate
// cannot be fetched in time are left out; an empty result is not an error.
func (o *Optimizer) FindRoutes(ctx context.Context, available []models.AvailableAsset, targetClass models.AssetClass, amountNeeded decimal.Decimal) ([]models.RouteCandidate, error) {
	if !amountNeeded.IsPositive() {
		return nil, fmt.Errorf("amount needed %s: %w", amountNeeded, models.ErrInvalidAmount)
	}
	if !targetClass.Valid() {
		return nil, fmt.Errorf("target class %q: %w", targetClass, models.ErrUnsupportedConversion)
	}

	results := make([]*models.RouteCandidate, len(available))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxParallel)

	for i, asset := range available {
		i, asset := i, asset
		g.Go(func() error {
			c, err := o.evaluate(gctx, asset, targetClass, amountNeeded)
			if err != nil {
				return err
			}
			results[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// A caller deadline only excludes the assets still being priced.
	// Explicit cancellation abandons the search.
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, ctx.Err()
	}

	candidates := make([]models.RouteCandidate, 0, len(results))
	for _, c := range results {
		if c != nil {
			candidates = append(candidates, *c)
		}
	}
	Rank(candidates)

	outcome := "found"
	if len(candidates) == 0 {
		outcome = "empty"
	}
	metrics.RouteSearches.WithLabelValues(outcome).Inc()

	o.logger.WithFields(logrus.Fields{
		"target_class":  targetClass,
		"amount_needed": amountNeeded.String(),
		"holdings":      len(available),
		"candidates":    len(candidates),
	}).Debug("Route search finished")

	return candidates, nil
}

// evaluate returns nil, nil for holdings that cannot fund the payment.
func (o *Optimizer) evaluate(ctx context.Context, asset models.AvailableAsset, targetClass models.AssetClass, amountNeeded decimal.Decimal) (*models.RouteCandidate, error) {
	if !asset.Balance.IsPositive() {
		return nil, nil
	}
	ct, err := models.ClassifyConversion(asset.Asset.Class, targetClass)
	if errors.Is(err, models.ErrUnsupportedConversion) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// The bound is the earlier of the caller's deadline and AssetTimeout.
	actx, cancel := context.WithTimeout(ctx, o.cfg.AssetTimeout)
	defer cancel()

	quote, err := o.rates.GetRate(actx, asset.Asset.Symbol, o.rates.Pivot(), asset.Asset.Class, models.AssetClassFiat)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, nil
		}
		metrics.RouteCandidatesDropped.Inc()
		o.logger.WithError(err).WithFields(logrus.Fields{
			"asset": asset.Asset.String(),
		}).Warn("Excluding asset from route search")
		return nil, nil
	}

	price := quote.Rate
	if asset.Balance.Mul(price).LessThan(amountNeeded) {
		return nil, nil
	}

	fees, err := o.fees.ComputeFees(amountNeeded, ct)
	if err != nil {
		return nil, fmt.Errorf("fees for %s: %w", asset.Asset, err)
	}
	// Amounts are in the reference currency, so a fiat target is taken to be
	// in that currency.
	target := models.AssetRef{Class: targetClass}
	if targetClass == models.AssetClassFiat {
		target.Symbol = o.rates.Pivot()
	}
	minutes := o.settlement.EstimateMinutes(asset.Asset, target)
	score := o.cfg.FeeWeight.Mul(fees.TotalFee).
		Add(o.cfg.TimeWeight.Mul(decimal.NewFromInt(int64(minutes)).Div(sixty)))

	return &models.RouteCandidate{
		SourceAsset:      asset.Asset,
		ConversionType:   ct,
		Fees:             fees,
		TotalCost:        amountNeeded.Add(fees.TotalFee),
		EstimatedMinutes: minutes,
		Score:            score,
		Rate:             price,
		SourceAmount:     amountNeeded.Div(price),
	}, nil
}

// Rank orders candidates by score, then total cost, then source asset id.
func Rank(candidates []models.RouteCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if c := a.Score.Cmp(b.Score); c != 0 {
			return c < 0
		}
		if c := a.TotalCost.Cmp(b.TotalCost); c != 0 {
			return c < 0
		}
		return a.SourceAsset.ID < b.SourceAsset.ID
	})
}

// Best returns the top-ranked candidate.
func Best(candidates []models.RouteCandidate) (models.RouteCandidate, error) {
	if len(candidates) == 0 {
		return models.RouteCandidate{}, models.ErrNoViableRoute
	}
	return candidates[0], nil
}
