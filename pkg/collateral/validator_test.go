package collateral

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/gregtusar/assetrouter/pkg/models"
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

func TestValidate_CryptoExample(t *testing.T) {
	v := NewValidator(DefaultHaircuts())
	assets := []models.CollateralAsset{{Class: models.AssetClassCrypto, ValueInReference: d("10000")}}

	res, err := v.Validate(assets, d("4000"), d("0.5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.AdjustedCollateral.Equal(d("8000")) {
		t.Errorf("expected adjusted 8000, got %s", res.AdjustedCollateral)
	}
	if !res.MaxBorrowable.Equal(d("4000")) {
		t.Errorf("expected max borrowable 4000, got %s", res.MaxBorrowable)
	}
	if !res.Eligible {
		t.Error("expected boundary request to be eligible")
	}
	if res.Err() != nil {
		t.Errorf("expected nil Err for eligible result, got %v", res.Err())
	}

	res, err = v.Validate(assets, d("4001"), d("0.5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Eligible {
		t.Error("expected 4001 to be ineligible")
	}
	if !res.Shortfall.Equal(d("1")) {
		t.Errorf("expected shortfall 1, got %s", res.Shortfall)
	}

	var insufficient *models.InsufficientCollateralError
	if !errors.As(res.Err(), &insufficient) {
		t.Fatalf("expected InsufficientCollateralError, got %v", res.Err())
	}
	if !insufficient.Shortfall.Equal(d("1")) {
		t.Errorf("expected error shortfall 1, got %s", insufficient.Shortfall)
	}
	if !errors.Is(res.Err(), models.ErrInsufficientCollateral) {
		t.Error("expected error to match ErrInsufficientCollateral")
	}
}

func TestValidate_Boundary(t *testing.T) {
	v := NewValidator(DefaultHaircuts())
	assets := []models.CollateralAsset{
		{Class: models.AssetClassFiat, ValueInReference: d("1000")},
		{Class: models.AssetClassNFT, ValueInReference: d("2000")},
		{Class: models.AssetClassDeFi, ValueInReference: d("500")},
		{Class: models.AssetClassCrypto, Symbol: "usdc", ValueInReference: d("100")},
	}
	ltv := d("0.6")
	// adjusted = 2495, max = 1497
	for _, tc := range []struct {
		requested string
		eligible  bool
	}{
		{"1496.99", true},
		{"1497", true},
		{"1497.01", false},
	} {
		res, err := v.Validate(assets, d(tc.requested), ltv)
		if err != nil {
			t.Fatalf("%s: %v", tc.requested, err)
		}
		want := res.AdjustedCollateral.Mul(ltv).GreaterThanOrEqual(d(tc.requested))
		if res.Eligible != want || res.Eligible != tc.eligible {
			t.Errorf("%s: eligible=%v, expected %v", tc.requested, res.Eligible, tc.eligible)
		}
	}
}

func TestValidate_InvalidInput(t *testing.T) {
	v := NewValidator(DefaultHaircuts())
	assets := []models.CollateralAsset{{Class: models.AssetClassCrypto, ValueInReference: d("100")}}

	if _, err := v.Validate(assets, d("0"), d("0.5")); !errors.Is(err, models.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero request, got %v", err)
	}
	if _, err := v.Validate(assets, d("10"), d("0")); !errors.Is(err, models.ErrInvalidLTV) {
		t.Errorf("expected ErrInvalidLTV for zero ceiling, got %v", err)
	}
	if _, err := v.Validate(assets, d("10"), d("1.2")); !errors.Is(err, models.ErrInvalidLTV) {
		t.Errorf("expected ErrInvalidLTV for ceiling > 1, got %v", err)
	}
	neg := []models.CollateralAsset{{Class: models.AssetClassFiat, ValueInReference: d("-5")}}
	if _, err := v.Validate(neg, d("1"), d("0.5")); !errors.Is(err, models.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for negative collateral, got %v", err)
	}
}

type recordingWriter struct {
	positions []models.CollateralPosition
	err       error
}

func (w *recordingWriter) PersistCollateralPosition(_ context.Context, p models.CollateralPosition) error {
	if w.err != nil {
		return w.err
	}
	w.positions = append(w.positions, p)
	return nil
}

func TestService_OpenPosition(t *testing.T) {
	w := &recordingWriter{}
	s := NewService(NewValidator(DefaultHaircuts()), w, d("0.5"), d("0.8"), quietLogger())
	assets := []models.CollateralAsset{{Class: models.AssetClassCrypto, ValueInReference: d("10000")}}

	pos, err := s.OpenPosition(context.Background(), "user-1", assets, d("2000"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(w.positions) != 1 {
		t.Fatalf("expected one persisted position, got %d", len(w.positions))
	}
	if pos.ID == "" || pos.UserID != "user-1" {
		t.Errorf("unexpected identity: %+v", pos)
	}
	if !pos.LoanToValue.Equal(d("0.2")) {
		t.Errorf("expected LTV 0.2, got %s", pos.LoanToValue)
	}
	// 10000 * 0.8 / 2000
	if !pos.HealthFactor.Equal(d("4")) {
		t.Errorf("expected health factor 4, got %s", pos.HealthFactor)
	}

	if _, err := s.OpenPosition(context.Background(), "user-1", assets, d("4001")); !errors.Is(err, models.ErrInsufficientCollateral) {
		t.Errorf("expected ErrInsufficientCollateral, got %v", err)
	}
	if len(w.positions) != 1 {
		t.Errorf("rejected position must not be persisted, have %d", len(w.positions))
	}

	w.err = errors.New("disk full")
	if _, err := s.OpenPosition(context.Background(), "user-1", assets, d("100")); err == nil {
		t.Error("expected persistence error to propagate")
	}
}

func TestHealthFactor(t *testing.T) {
	if !HealthFactor(d("1000"), d("0.75"), d("500")).Equal(d("1.5")) {
		t.Error("expected 1.5")
	}
	if !HealthFactor(d("1000"), d("0.75"), decimal.Zero).IsZero() {
		t.Error("expected zero for zero borrow")
	}
}
