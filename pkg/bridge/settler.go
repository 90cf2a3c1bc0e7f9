package bridge

import (
	"context"

	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/sirupsen/logrus"
)

// Settler is the port to whatever rail moves the funds. The service hands it
// a bridge that is already persisted as PENDING.
type Settler interface {
	Settle(ctx context.Context, bridge models.AssetBridge) (SettlementResult, error)
	Name() string
}

type SettlementResult struct {
	// Settled reports that the funds moved; the bridge can be completed now.
	// Otherwise the rail confirms later through Service.Complete or Fail.
	Settled   bool
	Reference string
}

// InstantSettler treats every conversion as settled on submission.
type InstantSettler struct{}

func (InstantSettler) Name() string { return "instant" }

func (InstantSettler) Settle(_ context.Context, b models.AssetBridge) (SettlementResult, error) {
	return SettlementResult{Settled: true, Reference: b.ID}, nil
}

// DeferredSettler accepts the bridge and leaves it PENDING for an external
// confirmation.
type DeferredSettler struct {
	logger *logrus.Logger
}

func NewDeferredSettler(logger *logrus.Logger) *DeferredSettler {
	return &DeferredSettler{logger: logger}
}

func (s *DeferredSettler) Name() string { return "deferred" }

func (s *DeferredSettler) Settle(_ context.Context, b models.AssetBridge) (SettlementResult, error) {
	s.logger.WithFields(logrus.Fields{
		"bridge_id":   b.ID,
		"bridge_type": b.BridgeType,
	}).Info("Bridge awaiting external settlement")
	return SettlementResult{Settled: false, Reference: b.ID}, nil
}
