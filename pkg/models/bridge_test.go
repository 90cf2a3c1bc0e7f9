package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestBridgeStatus_Transition(t *testing.T) {
	next, err := BridgeStatusPending.Transition(BridgeStatusCompleted)
	if err != nil || next != BridgeStatusCompleted {
		t.Fatalf("expected PENDING -> COMPLETED, got %s (%v)", next, err)
	}

	next, err = BridgeStatusPending.Transition(BridgeStatusFailed)
	if err != nil || next != BridgeStatusFailed {
		t.Fatalf("expected PENDING -> FAILED, got %s (%v)", next, err)
	}

	if _, err := BridgeStatusPending.Transition(BridgeStatusPending); !errors.Is(err, ErrBridgeTransition) {
		t.Errorf("expected ErrBridgeTransition for PENDING -> PENDING, got %v", err)
	}

	for _, from := range []BridgeStatus{BridgeStatusCompleted, BridgeStatusFailed} {
		for _, to := range []BridgeStatus{BridgeStatusPending, BridgeStatusCompleted, BridgeStatusFailed} {
			if _, err := from.Transition(to); !errors.Is(err, ErrBridgeTransition) {
				t.Errorf("expected ErrBridgeTransition for %s -> %s, got %v", from, to, err)
			}
		}
	}
}

func TestAssetBridge_CompleteDoesNotMutateReceiver(t *testing.T) {
	b := AssetBridge{
		ID:         "b1",
		Status:     BridgeStatusPending,
		FromAmount: decimal.NewFromInt(100),
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	done, err := b.Complete(at)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if b.Status != BridgeStatusPending || b.CompletedAt != nil {
		t.Errorf("receiver mutated: %+v", b)
	}
	if done.Status != BridgeStatusCompleted || done.CompletedAt == nil || !done.CompletedAt.Equal(at) {
		t.Errorf("unexpected completed bridge: %+v", done)
	}

	again, err := done.Fail(at.Add(time.Minute), "late")
	if !errors.Is(err, ErrBridgeTransition) {
		t.Fatalf("expected ErrBridgeTransition, got %v", err)
	}
	if again.Status != BridgeStatusCompleted || again.FailureReason != "" || !again.CompletedAt.Equal(at) {
		t.Errorf("terminal bridge changed: %+v", again)
	}
}

func TestAssetBridge_Fail(t *testing.T) {
	b := AssetBridge{ID: "b2", Status: BridgeStatusPending}
	failed, err := b.Fail(time.Now(), "rate unavailable")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.Status != BridgeStatusFailed || failed.FailureReason != "rate unavailable" {
		t.Errorf("unexpected failed bridge: %+v", failed)
	}
	if _, err := failed.Complete(time.Now()); !errors.Is(err, ErrBridgeTransition) {
		t.Errorf("expected failed bridge to reject completion, got %v", err)
	}
}

func TestClassifyConversion(t *testing.T) {
	cases := []struct {
		from, to AssetClass
		want     ConversionType
	}{
		{AssetClassFiat, AssetClassCrypto, ConversionFiatToCrypto},
		{AssetClassCrypto, AssetClassFiat, ConversionCryptoToFiat},
		{AssetClassCrypto, AssetClassCrypto, ConversionCryptoToCrypto},
		{AssetClassCredit, AssetClassFiat, ConversionCreditToFiat},
		{AssetClassCredit, AssetClassCrypto, ConversionCreditToFiat},
		{AssetClassFiat, AssetClassFiat, ConversionFiatToFiat},
		{AssetClassNFT, AssetClassFiat, ConversionCollateralSwap},
		{AssetClassCrypto, AssetClassDeFi, ConversionCollateralSwap},
	}
	for _, tc := range cases {
		got, err := ClassifyConversion(tc.from, tc.to)
		if err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s -> %s: expected %s, got %s", tc.from, tc.to, tc.want, got)
		}
	}

	if _, err := ClassifyConversion(AssetClassFiat, AssetClassCredit); !errors.Is(err, ErrUnsupportedConversion) {
		t.Errorf("expected ErrUnsupportedConversion for FIAT -> CREDIT, got %v", err)
	}
	if _, err := ClassifyConversion("GOLD", AssetClassFiat); !errors.Is(err, ErrUnsupportedConversion) {
		t.Errorf("expected ErrUnsupportedConversion for unknown class, got %v", err)
	}
}

func TestAccount_AvailableCredit(t *testing.T) {
	limit := decimal.NewFromInt(1000)
	a := Account{Class: AssetClassCredit, Balance: decimal.NewFromInt(250), CreditLimit: &limit}
	if !a.AvailableCredit().Equal(decimal.NewFromInt(750)) {
		t.Errorf("expected 750, got %s", a.AvailableCredit())
	}

	a.Balance = decimal.NewFromInt(1200)
	if !a.AvailableCredit().IsZero() {
		t.Errorf("expected over-limit credit to floor at zero, got %s", a.AvailableCredit())
	}

	a.CreditLimit = nil
	if !a.AvailableCredit().IsZero() {
		t.Errorf("expected zero without a limit, got %s", a.AvailableCredit())
	}
}
