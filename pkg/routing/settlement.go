package routing

import (
	"strings"
	"time"

	"github.com/gregtusar/assetrouter/pkg/models"
)

// SettlementEstimator predicts how long a conversion takes to settle.
type SettlementEstimator interface {
	EstimateMinutes(from, to models.AssetRef) int
}

type Window struct {
	Min time.Duration
	Max time.Duration
}

func (w Window) Midpoint() time.Duration {
	return w.Min + (w.Max-w.Min)/2
}

type classPair struct {
	from models.AssetClass
	to   models.AssetClass
}

type classWindow struct {
	Window
	crossCurrency bool
}

// WindowEstimator reports the midpoint of a per class-pair window. Pairs
// without a window, and same-currency moves on a cross-currency window, use
// the fallback.
type WindowEstimator struct {
	windows  map[classPair]classWindow
	fallback Window
}

func NewWindowEstimator(fallback Window) *WindowEstimator {
	return &WindowEstimator{windows: make(map[classPair]classWindow), fallback: fallback}
}

func DefaultWindows() *WindowEstimator {
	e := NewWindowEstimator(Window{Min: time.Hour, Max: 3 * time.Hour})
	e.Set(models.AssetClassCrypto, models.AssetClassCrypto, Window{Min: 5 * time.Minute, Max: 30 * time.Minute})
	e.Set(models.AssetClassFiat, models.AssetClassCrypto, Window{Min: 10 * time.Minute, Max: 60 * time.Minute})
	e.SetCrossCurrency(models.AssetClassFiat, models.AssetClassFiat, Window{Min: 24 * time.Hour, Max: 72 * time.Hour})
	return e
}

func (e *WindowEstimator) Set(from, to models.AssetClass, w Window) {
	e.windows[classPair{from, to}] = classWindow{Window: w}
}

// SetCrossCurrency registers a window that only applies when the two sides
// are in different currencies.
func (e *WindowEstimator) SetCrossCurrency(from, to models.AssetClass, w Window) {
	e.windows[classPair{from, to}] = classWindow{Window: w, crossCurrency: true}
}

func (e *WindowEstimator) EstimateMinutes(from, to models.AssetRef) int {
	w := e.fallback
	if cw, ok := e.windows[classPair{from.Class, to.Class}]; ok {
		if !cw.crossCurrency || !strings.EqualFold(from.Symbol, to.Symbol) {
			w = cw.Window
		}
	}
	return int(w.Midpoint().Minutes())
}
