package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/shopspring/decimal"
)

const fixtureYAML = `
users:
  - id: u1
    handle: alice
    display_name: Alice
    accounts:
      - id: acc-checking
        name: Checking
        class: fiat
        currency: USD
        balance: 1500.25
      - id: acc-card
        name: Card
        class: CREDIT
        currency: USD
        balance: "400"
        credit_limit: "2000"
    wallets:
      - id: w1
        name: Main
        network: ethereum
        assets:
          - symbol: ETH
            name: Ether
            balance: "1.5"
            value: "4800"
        nfts:
          - collection: punks
            token_id: "42"
            value: "12000"
        defi:
          - protocol: aave
            kind: lending
            symbol: USDC
            value: "2500"
    liabilities:
      - kind: loan
        currency: USD
        amount: "1000"
`

func TestParseFixtures(t *testing.T) {
	m, err := ParseFixtures([]byte(fixtureYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ctx := context.Background()

	accounts, _ := m.ListAccounts(ctx, "u1")
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if accounts[0].Class != models.AssetClassFiat || !accounts[0].Balance.Equal(decimal.RequireFromString("1500.25")) {
		t.Errorf("unexpected checking account %+v", accounts[0])
	}
	if accounts[1].CreditLimit == nil || !accounts[1].AvailableCredit().Equal(decimal.NewFromInt(1600)) {
		t.Errorf("unexpected card account %+v", accounts[1])
	}

	assets, _ := m.ListWalletAssets(ctx, "w1")
	nfts, _ := m.ListNFTs(ctx, "w1")
	defi, _ := m.ListDeFiPositions(ctx, "w1")
	liabilities, _ := m.ListLiabilities(ctx, "u1")
	if len(assets) != 1 || len(nfts) != 1 || len(defi) != 1 || len(liabilities) != 1 {
		t.Errorf("unexpected wallet contents: %d assets, %d nfts, %d defi, %d liabilities",
			len(assets), len(nfts), len(defi), len(liabilities))
	}

	u, err := m.FindUserByHandle(ctx, "ALICE")
	if err != nil || u.ID != "u1" {
		t.Errorf("expected case-insensitive handle match, got %+v (%v)", u, err)
	}
	if _, err := m.FindUserByHandle(ctx, "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestParseFixtures_Rejects(t *testing.T) {
	bad := `
users:
  - id: u1
    accounts:
      - id: a
        class: GOLD
        balance: "1"
`
	if _, err := ParseFixtures([]byte(bad)); err == nil {
		t.Error("expected unknown class to be rejected")
	}
}

func pendingBridge(id string) models.AssetBridge {
	return models.AssetBridge{
		ID:          id,
		UserID:      "u1",
		BridgeType:  models.ConversionFiatToCrypto,
		Status:      models.BridgeStatusPending,
		InitiatedAt: time.Now(),
	}
}

func TestMemory_BridgeLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	b := pendingBridge("b1")
	if err := m.PersistBridge(ctx, b); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := m.PersistBridge(ctx, b); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	done, _ := b.Complete(time.Now())
	if err := m.RecordBridgeTransition(ctx, done); err != nil {
		t.Fatalf("transition: %v", err)
	}
	failed, _ := b.Fail(time.Now(), "late")
	if err := m.RecordBridgeTransition(ctx, failed); !errors.Is(err, ErrStaleTransition) {
		t.Errorf("expected ErrStaleTransition, got %v", err)
	}

	got, err := m.GetBridge(ctx, "b1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.BridgeStatusCompleted {
		t.Errorf("expected COMPLETED to stick, got %s", got.Status)
	}

	if _, err := m.GetBridge(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := m.RecordBridgeTransition(ctx, pendingBridge("missing")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_TransitionAtMostOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	b := pendingBridge("race")
	_ = m.PersistBridge(ctx, b)

	const racers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var next models.AssetBridge
			if i%2 == 0 {
				next, _ = b.Complete(time.Now())
			} else {
				next, _ = b.Fail(time.Now(), "raced")
			}
			if err := m.RecordBridgeTransition(ctx, next); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one transition to win, got %d", wins)
	}
}

func TestMemory_ListsAreCopies(t *testing.T) {
	m := NewMemory()
	m.AddAccount(models.Account{ID: "a", UserID: "u"})
	ctx := context.Background()

	accounts, _ := m.ListAccounts(ctx, "u")
	accounts[0].ID = "mutated"
	again, _ := m.ListAccounts(ctx, "u")
	if again[0].ID != "a" {
		t.Error("caller mutation leaked into the ledger")
	}
}
