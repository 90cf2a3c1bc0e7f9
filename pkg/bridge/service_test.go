package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/gregtusar/assetrouter/pkg/fees"
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

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type countingStore struct {
	*ledger.Memory
	mu       sync.Mutex
	persists int
}

func (s *countingStore) PersistBridge(ctx context.Context, b models.AssetBridge) error {
	s.mu.Lock()
	s.persists++
	s.mu.Unlock()
	return s.Memory.PersistBridge(ctx, b)
}

func seededStore() *countingStore {
	m := ledger.NewMemory()
	m.AddUser(models.User{ID: "u1", Handle: "alice"})
	m.AddAccount(models.Account{ID: "acc-usd", UserID: "u1", Name: "Checking", Class: models.AssetClassFiat, Currency: "USD", Balance: d("5000")})
	m.AddWallet(models.Wallet{ID: "w1", UserID: "u1", Name: "Main", Network: "ethereum"})
	m.AddWalletAsset(models.WalletAsset{WalletID: "w1", Symbol: "ETH", Name: "Ether", Balance: d("2"), ValueInReference: d("6400")})
	return &countingStore{Memory: m}
}

func newService(store Store, settler Settler, pub Publisher) *Service {
	src := oracle.NewStaticSource(map[string]decimal.Decimal{
		"BTC/USD":  d("50000"),
		"ETH/USD":  d("3200"),
		"USDC/USD": d("1"),
	})
	rates := oracle.New(src, oracle.NewMemoryCache(), oracle.Config{Pivot: "USD"}, quietLogger())
	return NewService(rates, fees.DefaultSchedule(), store, settler, pub, Config{DefaultCrypto: "USDC"}, quietLogger())
}

func TestCreate_InstantSettlementCompletes(t *testing.T) {
	store := seededStore()
	pub := &recordingPublisher{}
	s := newService(store, InstantSettler{}, pub)

	b, err := s.Create(context.Background(), CreateRequest{
		UserID:     "u1",
		FromClass:  models.AssetClassFiat,
		FromID:     "acc-usd",
		FromAmount: d("1000"),
		ToClass:    models.AssetClassCrypto,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Status != models.BridgeStatusCompleted || b.CompletedAt == nil {
		t.Errorf("expected COMPLETED with timestamp, got %s", b.Status)
	}
	if b.BridgeType != models.ConversionFiatToCrypto || b.ToAsset.Symbol != "USDC" {
		t.Errorf("unexpected type/destination: %s %s", b.BridgeType, b.ToAsset.Symbol)
	}
	// 1000 USDC notional, 1.5% = 15 plus 2.50 network
	if !b.Fees.TotalFee.Equal(d("17.5")) || !b.ToAmount.Equal(d("982.5")) {
		t.Errorf("expected fee 17.5 and to amount 982.5, got %s and %s", b.Fees.TotalFee, b.ToAmount)
	}

	stored, err := s.Get(context.Background(), b.ID)
	if err != nil || stored.Status != models.BridgeStatusCompleted {
		t.Errorf("expected stored COMPLETED, got %s (%v)", stored.Status, err)
	}
	if pub.count(EventCreated) != 1 || pub.count(EventCompleted) != 1 {
		t.Errorf("expected created and completed events, got %+v", pub.events)
	}
}

func TestCreate_CryptoToFiat(t *testing.T) {
	s := newService(seededStore(), InstantSettler{}, nil)
	b, err := s.Create(context.Background(), CreateRequest{
		UserID:     "u1",
		FromClass:  models.AssetClassCrypto,
		FromID:     "eth",
		FromAmount: d("1"),
		ToClass:    models.AssetClassFiat,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// 3200 notional: 1% = 32 clamps to 29.99, plus 1.50 network
	if !b.ToAmount.Equal(d("3168.51")) {
		t.Errorf("expected to amount 3168.51, got %s", b.ToAmount)
	}
	if b.ToAsset.ID != "acc-usd" {
		t.Errorf("expected default fiat account, got %s", b.ToAsset.ID)
	}
	if !b.RateApplied.Equal(d("3200")) {
		t.Errorf("expected rate 3200, got %s", b.RateApplied)
	}
}

type observingSettler struct {
	store  Store
	status models.BridgeStatus
}

func (o *observingSettler) Name() string { return "observing" }

func (o *observingSettler) Settle(ctx context.Context, b models.AssetBridge) (SettlementResult, error) {
	stored, err := o.store.GetBridge(ctx, b.ID)
	if err != nil {
		return SettlementResult{}, err
	}
	o.status = stored.Status
	return SettlementResult{Settled: true}, nil
}

func TestCreate_PendingObservableBeforeSettlement(t *testing.T) {
	store := seededStore()
	settler := &observingSettler{store: store}
	s := newService(store, settler, nil)

	b, err := s.Create(context.Background(), CreateRequest{
		UserID: "u1", FromClass: models.AssetClassFiat, FromID: "acc-usd",
		FromAmount: d("100"), ToClass: models.AssetClassCrypto,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if settler.status != models.BridgeStatusPending {
		t.Errorf("expected PENDING while settling, saw %s", settler.status)
	}
	if b.Status != models.BridgeStatusCompleted {
		t.Errorf("expected COMPLETED after settlement, got %s", b.Status)
	}
}

func TestDeferredSettlement_Lifecycle(t *testing.T) {
	pub := &recordingPublisher{}
	s := newService(seededStore(), NewDeferredSettler(quietLogger()), pub)
	ctx := context.Background()

	b, err := s.Create(ctx, CreateRequest{
		UserID: "u1", FromClass: models.AssetClassFiat, FromID: "acc-usd",
		FromAmount: d("250"), ToClass: models.AssetClassCrypto,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Status != models.BridgeStatusPending {
		t.Fatalf("expected PENDING, got %s", b.Status)
	}

	done, err := s.Complete(ctx, b.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	again, err := s.Complete(ctx, b.ID)
	if err != nil {
		t.Fatalf("second complete should be a no-op: %v", err)
	}
	if again.Status != models.BridgeStatusCompleted || !again.CompletedAt.Equal(*done.CompletedAt) {
		t.Errorf("second complete changed the bridge: %+v", again)
	}
	if pub.count(EventCompleted) != 1 {
		t.Errorf("expected one completed event, got %d", pub.count(EventCompleted))
	}

	if _, err := s.Fail(ctx, b.ID, "too late"); !errors.Is(err, models.ErrBridgeTransition) {
		t.Errorf("expected ErrBridgeTransition failing a completed bridge, got %v", err)
	}
	stored, _ := s.Get(ctx, b.ID)
	if stored.Status != models.BridgeStatusCompleted || stored.FailureReason != "" {
		t.Errorf("terminal bridge was modified: %+v", stored)
	}
}

func TestFailedBridge_IsTerminal(t *testing.T) {
	s := newService(seededStore(), NewDeferredSettler(quietLogger()), nil)
	ctx := context.Background()

	b, err := s.Create(ctx, CreateRequest{
		UserID: "u1", FromClass: models.AssetClassFiat, FromID: "acc-usd",
		FromAmount: d("250"), ToClass: models.AssetClassCrypto,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	failed, err := s.Fail(ctx, b.ID, "rail rejected")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.Status != models.BridgeStatusFailed || failed.FailureReason != "rail rejected" {
		t.Errorf("unexpected failed bridge %+v", failed)
	}
	if _, err := s.Complete(ctx, b.ID); !errors.Is(err, models.ErrBridgeTransition) {
		t.Errorf("expected ErrBridgeTransition completing a failed bridge, got %v", err)
	}
	if _, err := s.Fail(ctx, b.ID, "again"); !errors.Is(err, models.ErrBridgeTransition) {
		t.Errorf("expected ErrBridgeTransition failing twice, got %v", err)
	}
}

func TestComplete_ConcurrentCallersAgree(t *testing.T) {
	pub := &recordingPublisher{}
	s := newService(seededStore(), NewDeferredSettler(quietLogger()), pub)
	ctx := context.Background()

	b, err := s.Create(ctx, CreateRequest{
		UserID: "u1", FromClass: models.AssetClassFiat, FromID: "acc-usd",
		FromAmount: d("250"), ToClass: models.AssetClassCrypto,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const callers = 12
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.Complete(ctx, b.ID)
			if err == nil && got.Status != models.BridgeStatusCompleted {
				err = errors.New("status " + string(got.Status))
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent complete: %v", err)
		}
	}
	if n := pub.count(EventCompleted); n != 1 {
		t.Errorf("expected exactly one completion, got %d", n)
	}
}

func TestCreate_ValidationPersistsNothing(t *testing.T) {
	store := seededStore()
	s := newService(store, InstantSettler{}, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"zero amount", CreateRequest{UserID: "u1", FromClass: models.AssetClassFiat, FromID: "acc-usd", FromAmount: d("0"), ToClass: models.AssetClassCrypto}, models.ErrInvalidAmount},
		{"negative amount", CreateRequest{UserID: "u1", FromClass: models.AssetClassFiat, FromID: "acc-usd", FromAmount: d("-5"), ToClass: models.AssetClassCrypto}, models.ErrInvalidAmount},
		{"into credit", CreateRequest{UserID: "u1", FromClass: models.AssetClassFiat, FromID: "acc-usd", FromAmount: d("5"), ToClass: models.AssetClassCredit}, models.ErrUnsupportedConversion},
		{"unknown account", CreateRequest{UserID: "u1", FromClass: models.AssetClassFiat, FromID: "nope", FromAmount: d("5"), ToClass: models.AssetClassCrypto}, models.ErrAssetNotFound},
		{"unheld token", CreateRequest{UserID: "u1", FromClass: models.AssetClassCrypto, FromID: "SOL", FromAmount: d("5"), ToClass: models.AssetClassFiat}, models.ErrAssetNotFound},
	}
	for _, tc := range cases {
		if _, err := s.Create(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if store.persists != 0 {
		t.Errorf("validation failures persisted %d bridges", store.persists)
	}
}

func TestCreate_RateUnavailableLeavesFailedRecord(t *testing.T) {
	store := seededStore()
	pub := &recordingPublisher{}
	s := newService(store, InstantSettler{}, pub)
	ctx := context.Background()

	b, err := s.Create(ctx, CreateRequest{
		UserID: "u1", FromClass: models.AssetClassFiat, FromID: "acc-usd",
		FromAmount: d("100"), ToClass: models.AssetClassCrypto, ToID: "DOGE",
	})
	if !errors.Is(err, models.ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable, got %v", err)
	}
	if b.Status != models.BridgeStatusFailed || b.FailureReason == "" {
		t.Errorf("expected FAILED bridge with reason, got %+v", b)
	}
	stored, err := s.Get(ctx, b.ID)
	if err != nil || stored.Status != models.BridgeStatusFailed {
		t.Errorf("expected stored FAILED, got %s (%v)", stored.Status, err)
	}
	if pub.count(EventCreated) != 1 || pub.count(EventFailed) != 1 {
		t.Errorf("expected created then failed events, got %+v", pub.events)
	}
}

func TestCreate_FeesChargedInReferenceCurrency(t *testing.T) {
	store := seededStore()
	store.AddAccount(models.Account{ID: "acc-big", UserID: "u1", Name: "Treasury", Class: models.AssetClassFiat, Currency: "USD", Balance: d("1000000")})
	s := newService(store, InstantSettler{}, nil)

	cases := []struct {
		name     string
		req      CreateRequest
		fee      string
		toAmount string
	}{
		{
			// 1.5% of 1,000,000 caps at 49.99, plus 2.50 network = 52.49 USD
			name: "capped fiat to btc",
			req:  CreateRequest{UserID: "u1", FromClass: models.AssetClassFiat, FromID: "acc-big",
				FromAmount: d("1000000"), ToClass: models.AssetClassCrypto, ToID: "BTC"},
			fee:      "52.49",
			toAmount: "19.9989502",
		},
		{
			// 1.50 + 2.50 network = 4 USD, or 0.00008 BTC
			name: "small fiat to btc",
			req:  CreateRequest{UserID: "u1", FromClass: models.AssetClassFiat, FromID: "acc-usd",
				FromAmount: d("100"), ToClass: models.AssetClassCrypto, ToID: "BTC"},
			fee:      "4",
			toAmount: "0.00192",
		},
		{
			// 1 ETH is 3200 USD: 0.5% = 16 plus 3.00 network = 19 USD, or 0.00038 BTC
			name: "eth to btc",
			req:  CreateRequest{UserID: "u1", FromClass: models.AssetClassCrypto, FromID: "ETH",
				FromAmount: d("1"), ToClass: models.AssetClassCrypto, ToID: "BTC"},
			fee:      "19",
			toAmount: "0.06362",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := s.Create(context.Background(), tc.req)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if b.Status != models.BridgeStatusCompleted {
				t.Errorf("expected COMPLETED, got %s", b.Status)
			}
			if !b.Fees.TotalFee.Equal(d(tc.fee)) {
				t.Errorf("expected fee %s USD, got %s", tc.fee, b.Fees.TotalFee)
			}
			if !b.ToAmount.Equal(d(tc.toAmount)) {
				t.Errorf("expected to amount %s, got %s", tc.toAmount, b.ToAmount)
			}
		})
	}
}

func TestCreate_FeesExceedingNotionalFail(t *testing.T) {
	s := newService(seededStore(), InstantSettler{}, nil)
	// 2 USD is below the 0.99 minimum plus 2.50 network fee.
	b, err := s.Create(context.Background(), CreateRequest{
		UserID: "u1", FromClass: models.AssetClassFiat, FromID: "acc-usd",
		FromAmount: d("2"), ToClass: models.AssetClassCrypto,
	})
	if !errors.Is(err, models.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if b.Status != models.BridgeStatusFailed {
		t.Errorf("expected FAILED, got %s", b.Status)
	}
}

type rejectingSettler struct{}

func (rejectingSettler) Name() string { return "rejecting" }
func (rejectingSettler) Settle(context.Context, models.AssetBridge) (SettlementResult, error) {
	return SettlementResult{}, errors.New("rail offline")
}

func TestCreate_SettlementErrorFailsBridge(t *testing.T) {
	s := newService(seededStore(), rejectingSettler{}, nil)
	b, err := s.Create(context.Background(), CreateRequest{
		UserID: "u1", FromClass: models.AssetClassFiat, FromID: "acc-usd",
		FromAmount: d("100"), ToClass: models.AssetClassCrypto,
	})
	if err == nil {
		t.Fatal("expected settlement error")
	}
	if b.Status != models.BridgeStatusFailed {
		t.Errorf("expected FAILED, got %s", b.Status)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newService(seededStore(), nil, nil)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Complete(context.Background(), "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
