package collateral

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type PositionWriter interface {
	PersistCollateralPosition(ctx context.Context, position models.CollateralPosition) error
}

type Service struct {
	validator      *Validator
	writer         PositionWriter
	ltvCeiling     decimal.Decimal
	liquidationLTV decimal.Decimal
	logger         *logrus.Logger
	now            func() time.Time
}

func NewService(validator *Validator, writer PositionWriter, ltvCeiling, liquidationLTV decimal.Decimal, logger *logrus.Logger) *Service {
	return &Service{
		validator:      validator,
		writer:         writer,
		ltvCeiling:     ltvCeiling,
		liquidationLTV: liquidationLTV,
		logger:         logger,
		now:            time.Now,
	}
}

func (s *Service) LTVCeiling() decimal.Decimal {
	return s.ltvCeiling
}

// Validate runs the validator against the configured ceiling.
func (s *Service) Validate(assets []models.CollateralAsset, requested decimal.Decimal) (Result, error) {
	return s.validator.Validate(assets, requested, s.ltvCeiling)
}

// OpenPosition validates the borrow and, when eligible, records a new
// collateral position. The position is written once and never updated here.
func (s *Service) OpenPosition(ctx context.Context, userID string, assets []models.CollateralAsset, borrow decimal.Decimal) (models.CollateralPosition, error) {
	res, err := s.Validate(assets, borrow)
	if err != nil {
		return models.CollateralPosition{}, err
	}
	if !res.Eligible {
		s.logger.WithFields(logrus.Fields{
			"user_id":   userID,
			"requested": borrow.String(),
			"shortfall": res.Shortfall.String(),
		}).Info("Collateral position rejected")
		return models.CollateralPosition{}, res.Err()
	}

	total := decimal.Zero
	for _, a := range assets {
		total = total.Add(a.ValueInReference)
	}

	position := models.CollateralPosition{
		ID:                   uuid.NewString(),
		UserID:               userID,
		CollateralAssets:     append([]models.CollateralAsset(nil), assets...),
		TotalCollateralValue: total,
		BorrowedAmount:       borrow,
		LoanToValue:          borrow.Div(total),
		LiquidationLTV:       s.liquidationLTV,
		HealthFactor:         HealthFactor(total, s.liquidationLTV, borrow),
		CreatedAt:            s.now().UTC(),
	}

	if err := s.writer.PersistCollateralPosition(ctx, position); err != nil {
		return models.CollateralPosition{}, fmt.Errorf("failed to persist collateral position: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":       userID,
		"position_id":   position.ID,
		"borrowed":      borrow.String(),
		"health_factor": position.HealthFactor.StringFixed(4),
	}).Info("Collateral position opened")

	return position, nil
}

// HealthFactor is (collateral * liquidationLTV) / borrowed. Below 1 the
// position is at liquidation risk. A zero borrow has no finite health factor
// and reports zero.
func HealthFactor(collateral, liquidationLTV, borrowed decimal.Decimal) decimal.Decimal {
	if borrowed.IsZero() {
		return decimal.Zero
	}
	return collateral.Mul(liquidationLTV).Div(borrowed)
}
