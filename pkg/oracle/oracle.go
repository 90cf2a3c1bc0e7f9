package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gregtusar/assetrouter/pkg/metrics"
	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultPivot        = "USD"
	DefaultTTL          = 5 * time.Minute
	DefaultFetchTimeout = 5 * time.Second
)

type Config struct {
	// Pivot is the reference currency used to derive cross rates.
	Pivot        string
	TTL          time.Duration
	FetchTimeout time.Duration
}

// Oracle answers rate queries from a Source, caching computed quotes.
//
// A rate is resolved in this order: identity, a direct quote of the pair,
// the inverse of a direct quote of the reversed pair, and finally a cross
// rate through the pivot currency.
type Oracle struct {
	source Source
	cache  Cache
	cfg    Config
	group  singleflight.Group
	logger *logrus.Logger
	now    func() time.Time
}

func New(source Source, cache Cache, cfg Config, logger *logrus.Logger) *Oracle {
	if cfg.Pivot == "" {
		cfg.Pivot = DefaultPivot
	}
	cfg.Pivot = normalize(cfg.Pivot)
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Oracle{
		source: source,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (o *Oracle) Pivot() string {
	return o.cfg.Pivot
}

// GetRate returns the price of one unit of from expressed in to. The asset
// classes are informational; symbols identify the instruments.
func (o *Oracle) GetRate(ctx context.Context, from, to string, fromClass, toClass models.AssetClass) (models.RateQuote, error) {
	from, to = normalize(from), normalize(to)
	if from == "" || to == "" {
		return models.RateQuote{}, fmt.Errorf("rate %q/%q: %w", from, to, models.ErrRateUnavailable)
	}

	now := o.now()
	if from == to {
		return models.RateQuote{
			From:       from,
			To:         to,
			Rate:       decimal.NewFromInt(1),
			Source:     "identity",
			ComputedAt: now,
			ValidUntil: now.Add(o.cfg.TTL),
		}, nil
	}

	key := pairKey(from, to)
	cached, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		o.logger.WithError(err).WithField("pair", key).Warn("Rate cache read failed")
	} else if ok && !cached.Expired(now) {
		metrics.RateLookups.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.RateLookups.WithLabelValues("miss").Inc()

	quote, err := o.fetch(ctx, from, to, key)
	if err != nil {
		o.logger.WithFields(logrus.Fields{
			"from":       from,
			"to":         to,
			"from_class": fromClass,
			"to_class":   toClass,
		}).WithError(err).Debug("Rate lookup failed")
		return models.RateQuote{}, err
	}
	return quote, nil
}

// Refresh drops any cached quote for the pair and computes a fresh one.
func (o *Oracle) Refresh(ctx context.Context, from, to string) (models.RateQuote, error) {
	from, to = normalize(from), normalize(to)
	key := pairKey(from, to)
	if err := o.cache.Invalidate(ctx, key); err != nil {
		o.logger.WithError(err).WithField("pair", key).Warn("Rate cache invalidate failed")
	}
	return o.fetch(ctx, from, to, key)
}

// fetch coalesces concurrent computations of the same pair. The shared
// computation is detached from the caller's cancellation and bounded by the
// fetch timeout instead; each caller still stops waiting at its own deadline.
func (o *Oracle) fetch(ctx context.Context, from, to, key string) (models.RateQuote, error) {
	ch := o.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FetchTimeout)
		defer cancel()

		quote, err := o.compute(fctx, from, to)
		if err != nil {
			metrics.RateFetchErrors.Inc()
			return nil, err
		}
		if err := o.cache.Put(fctx, key, quote, o.cfg.TTL); err != nil {
			o.logger.WithError(err).WithField("pair", key).Warn("Rate cache write failed")
		}
		return quote, nil
	})

	select {
	case <-ctx.Done():
		return models.RateQuote{}, fmt.Errorf("rate %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return models.RateQuote{}, res.Err
		}
		return res.Val.(models.RateQuote), nil
	}
}

func (o *Oracle) compute(ctx context.Context, from, to string) (models.RateQuote, error) {
	start := time.Now()
	quote := models.RateQuote{From: from, To: to, Source: o.source.Name()}

	rate, err := o.direct(ctx, from, to)
	switch {
	case err == nil:
		quote.Rate = rate
		metrics.RateFetchDuration.WithLabelValues("direct").Observe(time.Since(start).Seconds())
	case errors.Is(err, ErrNoQuote):
		fromPrice, err := o.pivotPrice(ctx, from)
		if err != nil {
			return models.RateQuote{}, o.unavailable(from, to, err)
		}
		toPrice, err := o.pivotPrice(ctx, to)
		if err != nil {
			return models.RateQuote{}, o.unavailable(from, to, err)
		}
		quote.Rate = fromPrice.Div(toPrice)
		quote.DerivedViaPivot = true
		metrics.RateFetchDuration.WithLabelValues("pivot").Observe(time.Since(start).Seconds())
	default:
		return models.RateQuote{}, fmt.Errorf("rate %s/%s: %w", from, to, err)
	}

	quote.ComputedAt = o.now()
	quote.ValidUntil = quote.ComputedAt.Add(o.cfg.TTL)
	return quote, nil
}

func (o *Oracle) unavailable(from, to string, err error) error {
	if errors.Is(err, ErrNoQuote) {
		return fmt.Errorf("rate %s/%s: %w", from, to, models.ErrRateUnavailable)
	}
	return fmt.Errorf("rate %s/%s: %w", from, to, err)
}

// direct looks up base/quote, falling back to the inverse of quote/base.
func (o *Oracle) direct(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	rate, err := o.quote(ctx, base, quote)
	if err == nil {
		return rate, nil
	}
	if !errors.Is(err, ErrNoQuote) {
		return decimal.Zero, err
	}

	inverse, err := o.quote(ctx, quote, base)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(1).Div(inverse), nil
}

func (o *Oracle) pivotPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if symbol == o.cfg.Pivot {
		return decimal.NewFromInt(1), nil
	}
	return o.direct(ctx, symbol, o.cfg.Pivot)
}

func (o *Oracle) quote(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	rate, err := o.source.Quote(ctx, base, quote)
	if err != nil {
		return decimal.Zero, err
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive quote %s for %s/%s", ErrNoQuote, rate, base, quote)
	}
	return rate, nil
}
