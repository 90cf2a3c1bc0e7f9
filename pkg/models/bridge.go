package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type BridgeStatus string

const (
	BridgeStatusPending   BridgeStatus = "PENDING"
	BridgeStatusCompleted BridgeStatus = "COMPLETED"
	BridgeStatusFailed    BridgeStatus = "FAILED"
)

func (s BridgeStatus) Terminal() bool {
	return s == BridgeStatusCompleted || s == BridgeStatusFailed
}

// Transition validates a move from s to next and returns next. Only
// PENDING -> COMPLETED and PENDING -> FAILED exist.
func (s BridgeStatus) Transition(next BridgeStatus) (BridgeStatus, error) {
	if s != BridgeStatusPending {
		return s, fmt.Errorf("%w: %s is terminal", ErrBridgeTransition, s)
	}
	if next != BridgeStatusCompleted && next != BridgeStatusFailed {
		return s, fmt.Errorf("%w: %s -> %s", ErrBridgeTransition, s, next)
	}
	return next, nil
}

// AssetBridge is a single cross-asset conversion order.
type AssetBridge struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	BridgeType    ConversionType  `json:"bridge_type"`
	FromAsset     AssetRef        `json:"from_asset"`
	ToAsset       AssetRef        `json:"to_asset"`
	FromAmount    decimal.Decimal `json:"from_amount"`
	ToAmount      decimal.Decimal `json:"to_amount"`
	RateApplied   decimal.Decimal `json:"rate_applied"`
	Fees          FeeBreakdown    `json:"fees"`
	Status        BridgeStatus    `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	InitiatedAt   time.Time       `json:"initiated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Complete returns a copy of b in COMPLETED state. b itself is not modified.
func (b AssetBridge) Complete(at time.Time) (AssetBridge, error) {
	next, err := b.Status.Transition(BridgeStatusCompleted)
	if err != nil {
		return b, fmt.Errorf("bridge %s: %w", b.ID, err)
	}
	b.Status = next
	b.CompletedAt = &at
	return b, nil
}

// Fail returns a copy of b in FAILED state with the reason recorded.
func (b AssetBridge) Fail(at time.Time, reason string) (AssetBridge, error) {
	next, err := b.Status.Transition(BridgeStatusFailed)
	if err != nil {
		return b, fmt.Errorf("bridge %s: %w", b.ID, err)
	}
	b.Status = next
	b.FailureReason = reason
	b.CompletedAt = &at
	return b, nil
}
