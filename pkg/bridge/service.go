package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gregtusar/assetrouter/pkg/ledger"
	"github.com/gregtusar/assetrouter/pkg/metrics"
	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type RateProvider interface {
	GetRate(ctx context.Context, from, to string, fromClass, toClass models.AssetClass) (models.RateQuote, error)
	Pivot() string
}

type FeeCalculator interface {
	ComputeFees(amount decimal.Decimal, ct models.ConversionType) (models.FeeBreakdown, error)
}

// Store is the slice of the ledger the bridge service reads and writes.
type Store interface {
	ListAccounts(ctx context.Context, userID string) ([]models.Account, error)
	ListWallets(ctx context.Context, userID string) ([]models.Wallet, error)
	ListWalletAssets(ctx context.Context, walletID string) ([]models.WalletAsset, error)
	ListNFTs(ctx context.Context, walletID string) ([]models.NFT, error)
	ListDeFiPositions(ctx context.Context, walletID string) ([]models.DeFiPosition, error)
	PersistBridge(ctx context.Context, bridge models.AssetBridge) error
	GetBridge(ctx context.Context, id string) (models.AssetBridge, error)
	RecordBridgeTransition(ctx context.Context, bridge models.AssetBridge) error
}

type CreateRequest struct {
	UserID     string            `json:"user_id"`
	FromClass  models.AssetClass `json:"from_class"`
	FromID     string            `json:"from_id"`
	FromAmount decimal.Decimal   `json:"from_amount"`
	ToClass    models.AssetClass `json:"to_class"`
	ToID       string            `json:"to_id,omitempty"`
}

type Config struct {
	// DefaultCrypto is the destination symbol when a crypto-bound request
	// names none.
	DefaultCrypto string
}

// Service runs conversions through PENDING to a terminal state. Every
// transition out of PENDING goes through the store's conditional write, so it
// happens at most once.
type Service struct {
	rates     RateProvider
	fees      FeeCalculator
	store     Store
	settler   Settler
	publisher Publisher
	cfg       Config
	logger    *logrus.Logger
	now       func() time.Time
}

func NewService(rates RateProvider, fees FeeCalculator, store Store, settler Settler, publisher Publisher, cfg Config, logger *logrus.Logger) *Service {
	if settler == nil {
		settler = InstantSettler{}
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if cfg.DefaultCrypto == "" {
		cfg.DefaultCrypto = "USDC"
	}
	return &Service{
		rates:     rates,
		fees:      fees,
		store:     store,
		settler:   settler,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Create prices and records a conversion, then submits it for settlement.
//
// Validation failures return before anything is stored. Once both assets are
// resolved, a rate or fee failure still leaves a record: the bridge is stored
// PENDING and moved to FAILED, and the failed bridge is returned with the
// error.
func (s *Service) Create(ctx context.Context, req CreateRequest) (models.AssetBridge, error) {
	if !req.FromAmount.IsPositive() {
		return models.AssetBridge{}, fmt.Errorf("from amount %s: %w", req.FromAmount, models.ErrInvalidAmount)
	}
	ct, err := models.ClassifyConversion(req.FromClass, req.ToClass)
	if err != nil {
		return models.AssetBridge{}, err
	}

	from, err := s.resolveSource(ctx, req.UserID, req.FromClass, req.FromID)
	if err != nil {
		return models.AssetBridge{}, err
	}
	to, err := s.resolveDestination(ctx, req.UserID, req.ToClass, req.ToID)
	if err != nil {
		return models.AssetBridge{}, err
	}

	b := models.AssetBridge{
		ID:          ulid.Make().String(),
		UserID:      req.UserID,
		BridgeType:  ct,
		FromAsset:   from,
		ToAsset:     to,
		FromAmount:  req.FromAmount,
		Status:      models.BridgeStatusPending,
		InitiatedAt: s.now().UTC(),
	}

	// The rate is captured once. Fees are charged on the reference value of
	// the source and converted into destination units at that same rate.
	quote, err := s.rates.GetRate(ctx, from.Symbol, to.Symbol, from.Class, to.Class)
	if err != nil {
		return s.failNew(ctx, b, err)
	}
	refPrice, err := s.referencePrice(ctx, from, to, quote.Rate)
	if err != nil {
		return s.failNew(ctx, b, err)
	}
	fees, err := s.fees.ComputeFees(req.FromAmount.Mul(refPrice), ct)
	if err != nil {
		return s.failNew(ctx, b, err)
	}
	notional := req.FromAmount.Mul(quote.Rate)
	destFee := fees.TotalFee.Mul(quote.Rate).Div(refPrice)
	b.RateApplied = quote.Rate
	b.Fees = fees
	b.ToAmount = notional.Sub(destFee)
	if !b.ToAmount.IsPositive() {
		return s.failNew(ctx, b, fmt.Errorf("fees %s %s exceed converted amount %s %s: %w",
			destFee, to.Symbol, notional, to.Symbol, models.ErrInvalidAmount))
	}

	if err := s.store.PersistBridge(ctx, b); err != nil {
		return models.AssetBridge{}, fmt.Errorf("failed to persist bridge: %w", err)
	}
	s.emit(ctx, EventCreated, b)

	s.logger.WithFields(logrus.Fields{
		"bridge_id":   b.ID,
		"user_id":     b.UserID,
		"bridge_type": b.BridgeType,
		"from":        from.String(),
		"to":          to.String(),
		"from_amount": b.FromAmount.String(),
		"to_amount":   b.ToAmount.String(),
		"rate":        b.RateApplied.String(),
		"fee":         b.Fees.TotalFee.String(),
		"fee_dest":    destFee.String(),
	}).Info("Bridge created")

	res, err := s.settler.Settle(ctx, b)
	if err != nil {
		failed, ferr := s.Fail(context.WithoutCancel(ctx), b.ID, "settlement: "+err.Error())
		if ferr != nil {
			return b, fmt.Errorf("settlement failed: %w (and could not mark bridge failed: %v)", err, ferr)
		}
		return failed, fmt.Errorf("settlement failed: %w", err)
	}
	if !res.Settled {
		return b, nil
	}
	return s.Complete(context.WithoutCancel(ctx), b.ID)
}

// referencePrice returns the price of one unit of the source in the pivot
// currency. When either side is the pivot the captured rate answers it.
func (s *Service) referencePrice(ctx context.Context, from, to models.AssetRef, rate decimal.Decimal) (decimal.Decimal, error) {
	pivot := s.rates.Pivot()
	price := rate
	switch {
	case strings.EqualFold(from.Symbol, pivot):
		return decimal.NewFromInt(1), nil
	case !strings.EqualFold(to.Symbol, pivot):
		q, err := s.rates.GetRate(ctx, from.Symbol, pivot, from.Class, models.AssetClassFiat)
		if err != nil {
			return decimal.Decimal{}, err
		}
		price = q.Rate
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("reference price of %s is %s: %w", from.Symbol, price, models.ErrRateUnavailable)
	}
	return price, nil
}

// failNew stores a bridge that never reached settlement as PENDING, then
// FAILED. The writes ignore the caller's cancellation so a timed-out request
// still leaves a consistent record.
func (s *Service) failNew(ctx context.Context, b models.AssetBridge, cause error) (models.AssetBridge, error) {
	wctx := context.WithoutCancel(ctx)
	if err := s.store.PersistBridge(wctx, b); err != nil {
		return models.AssetBridge{}, fmt.Errorf("%w (and failed to persist bridge: %v)", cause, err)
	}
	s.emit(wctx, EventCreated, b)

	failed, err := s.transition(wctx, b, func(b models.AssetBridge) (models.AssetBridge, error) {
		return b.Fail(s.now().UTC(), cause.Error())
	})
	if err != nil {
		return b, fmt.Errorf("%w (and failed to mark bridge failed: %v)", cause, err)
	}
	return failed, cause
}

func (s *Service) Get(ctx context.Context, id string) (models.AssetBridge, error) {
	b, err := s.store.GetBridge(ctx, id)
	if err != nil {
		return models.AssetBridge{}, err
	}
	return b, nil
}

// Complete moves a PENDING bridge to COMPLETED. Completing an already
// completed bridge returns it unchanged.
func (s *Service) Complete(ctx context.Context, id string) (models.AssetBridge, error) {
	b, err := s.store.GetBridge(ctx, id)
	if err != nil {
		return models.AssetBridge{}, err
	}
	if b.Status == models.BridgeStatusCompleted {
		return b, nil
	}

	done, err := s.transition(ctx, b, func(b models.AssetBridge) (models.AssetBridge, error) {
		return b.Complete(s.now().UTC())
	})
	if err != nil {
		// A concurrent Complete may have won the conditional write.
		if cur, gerr := s.store.GetBridge(ctx, id); gerr == nil && cur.Status == models.BridgeStatusCompleted {
			return cur, nil
		}
		return b, err
	}
	return done, nil
}

// Fail moves a PENDING bridge to FAILED.
func (s *Service) Fail(ctx context.Context, id, reason string) (models.AssetBridge, error) {
	b, err := s.store.GetBridge(ctx, id)
	if err != nil {
		return models.AssetBridge{}, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "failed"
	}
	return s.transition(ctx, b, func(b models.AssetBridge) (models.AssetBridge, error) {
		return b.Fail(s.now().UTC(), reason)
	})
}

func (s *Service) transition(ctx context.Context, b models.AssetBridge, apply func(models.AssetBridge) (models.AssetBridge, error)) (models.AssetBridge, error) {
	next, err := apply(b)
	if err != nil {
		return b, err
	}
	if err := s.store.RecordBridgeTransition(ctx, next); err != nil {
		if errors.Is(err, ledger.ErrStaleTransition) {
			return b, fmt.Errorf("bridge %s: %w: %v", b.ID, models.ErrBridgeTransition, err)
		}
		return b, fmt.Errorf("failed to record bridge transition: %w", err)
	}

	eventType := EventCompleted
	if next.Status == models.BridgeStatusFailed {
		eventType = EventFailed
	}
	s.emit(ctx, eventType, next)

	s.logger.WithFields(logrus.Fields{
		"bridge_id": next.ID,
		"status":    next.Status,
		"reason":    next.FailureReason,
	}).Info("Bridge transitioned")
	return next, nil
}

func (s *Service) emit(ctx context.Context, eventType string, b models.AssetBridge) {
	metrics.BridgeTransitions.WithLabelValues(string(b.BridgeType), string(b.Status)).Inc()
	if err := s.publisher.Publish(ctx, newEvent(eventType, b, s.now().UTC())); err != nil {
		metrics.KafkaPublishErrors.Inc()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"bridge_id": b.ID,
			"event":     eventType,
		}).Warn("Failed to publish bridge event")
	}
}

func (s *Service) resolveSource(ctx context.Context, userID string, class models.AssetClass, id string) (models.AssetRef, error) {
	if strings.TrimSpace(id) == "" {
		return models.AssetRef{}, fmt.Errorf("source %s: empty id: %w", class, models.ErrAssetNotFound)
	}
	switch class {
	case models.AssetClassFiat, models.AssetClassCredit:
		return s.findAccount(ctx, userID, class, id)
	default:
		ref, found, err := s.findWalletHolding(ctx, userID, class, id)
		if err != nil {
			return models.AssetRef{}, err
		}
		if !found {
			return models.AssetRef{}, fmt.Errorf("source %s:%s: %w", class, id, models.ErrAssetNotFound)
		}
		return ref, nil
	}
}

// resolveDestination accepts wallet symbols the user does not hold yet;
// fiat destinations must be existing accounts.
func (s *Service) resolveDestination(ctx context.Context, userID string, class models.AssetClass, id string) (models.AssetRef, error) {
	id = strings.TrimSpace(id)
	switch class {
	case models.AssetClassFiat, models.AssetClassCredit:
		return s.findAccount(ctx, userID, class, id)
	}

	if id == "" {
		if class != models.AssetClassCrypto {
			return models.AssetRef{}, fmt.Errorf("destination %s: empty id: %w", class, models.ErrAssetNotFound)
		}
		id = s.cfg.DefaultCrypto
	}
	ref, found, err := s.findWalletHolding(ctx, userID, class, id)
	if err != nil {
		return models.AssetRef{}, err
	}
	if !found {
		symbol := strings.ToUpper(id)
		return models.AssetRef{Class: class, ID: symbol, Symbol: symbol}, nil
	}
	return ref, nil
}

// findAccount matches by account id; an empty id selects the first account
// of the class.
func (s *Service) findAccount(ctx context.Context, userID string, class models.AssetClass, id string) (models.AssetRef, error) {
	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return models.AssetRef{}, fmt.Errorf("failed to list accounts: %w", err)
	}
	for _, a := range accounts {
		if a.Class != class {
			continue
		}
		if id == "" || a.ID == id {
			return models.AssetRef{Class: class, ID: a.ID, Symbol: a.Currency, Name: a.Name}, nil
		}
	}
	return models.AssetRef{}, fmt.Errorf("account %s:%s: %w", class, id, models.ErrAssetNotFound)
}

func (s *Service) findWalletHolding(ctx context.Context, userID string, class models.AssetClass, id string) (models.AssetRef, bool, error) {
	wallets, err := s.store.ListWallets(ctx, userID)
	if err != nil {
		return models.AssetRef{}, false, fmt.Errorf("failed to list wallets: %w", err)
	}

	for _, w := range wallets {
		switch class {
		case models.AssetClassCrypto:
			assets, err := s.store.ListWalletAssets(ctx, w.ID)
			if err != nil {
				return models.AssetRef{}, false, fmt.Errorf("failed to list wallet assets: %w", err)
			}
			for _, a := range assets {
				if strings.EqualFold(a.Symbol, id) {
					sym := strings.ToUpper(a.Symbol)
					return models.AssetRef{Class: class, ID: sym, Symbol: sym, Name: a.Name}, true, nil
				}
			}
		case models.AssetClassNFT:
			nfts, err := s.store.ListNFTs(ctx, w.ID)
			if err != nil {
				return models.AssetRef{}, false, fmt.Errorf("failed to list nfts: %w", err)
			}
			for _, n := range nfts {
				if n.TokenID == id || strings.EqualFold(n.Collection, id) {
					return models.AssetRef{Class: class, ID: n.TokenID, Symbol: strings.ToUpper(n.Collection), Name: n.Name}, true, nil
				}
			}
		case models.AssetClassDeFi:
			positions, err := s.store.ListDeFiPositions(ctx, w.ID)
			if err != nil {
				return models.AssetRef{}, false, fmt.Errorf("failed to list defi positions: %w", err)
			}
			for _, p := range positions {
				if strings.EqualFold(p.Symbol, id) {
					sym := strings.ToUpper(p.Symbol)
					return models.AssetRef{Class: class, ID: sym, Symbol: sym, Name: p.Protocol}, true, nil
				}
			}
		}
	}
	return models.AssetRef{}, false, nil
}
