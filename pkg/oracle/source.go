package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrNoQuote means a source does not quote the requested pair. Any other
// error is a failure of the source itself.
var ErrNoQuote = errors.New("pair not quoted")

// Source supplies direct quotes: the price of one unit of base in quote.
type Source interface {
	Name() string
	Quote(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

func pairKey(base, quote string) string {
	return normalize(base) + "/" + normalize(quote)
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// StaticSource serves a fixed rate table keyed "BASE/QUOTE".
type StaticSource struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

func NewStaticSource(rates map[string]decimal.Decimal) *StaticSource {
	s := &StaticSource{rates: make(map[string]decimal.Decimal, len(rates))}
	for pair, rate := range rates {
		base, quote, ok := strings.Cut(pair, "/")
		if !ok {
			continue
		}
		s.rates[pairKey(base, quote)] = rate
	}
	return s
}

func (s *StaticSource) Name() string {
	return "static"
}

func (s *StaticSource) Set(base, quote string, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[pairKey(base, quote)] = rate
}

func (s *StaticSource) Quote(_ context.Context, base, quote string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rate, ok := s.rates[pairKey(base, quote)]
	if !ok {
		return decimal.Zero, ErrNoQuote
	}
	return rate, nil
}

// MultiSource asks each source in order and returns the first quote. Sources
// that do not quote the pair are skipped; if none answers, the first real
// failure is returned, otherwise ErrNoQuote.
type MultiSource struct {
	sources []Source
}

func NewMultiSource(sources ...Source) *MultiSource {
	return &MultiSource{sources: sources}
}

func (m *MultiSource) Name() string {
	names := make([]string, 0, len(m.sources))
	for _, s := range m.sources {
		names = append(names, s.Name())
	}
	return strings.Join(names, ",")
}

func (m *MultiSource) Quote(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	var firstErr error
	for _, s := range m.sources {
		rate, err := s.Quote(ctx, base, quote)
		if err == nil {
			return rate, nil
		}
		if !errors.Is(err, ErrNoQuote) && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", s.Name(), err)
		}
		if ctx.Err() != nil {
			return decimal.Zero, ctx.Err()
		}
	}
	if firstErr != nil {
		return decimal.Zero, firstErr
	}
	return decimal.Zero, ErrNoQuote
}

// SimulatedSource perturbs every quote of the wrapped source by a uniform
// jitter in [-bound, +bound]. It stands in for market movement in sandbox
// deployments only.
type SimulatedSource struct {
	inner Source
	bound decimal.Decimal
	mu    sync.Mutex
	rnd   func() float64
}

func NewSimulatedSource(inner Source, bound float64, rnd func() float64) *SimulatedSource {
	if rnd == nil {
		rnd = rand.Float64
	}
	return &SimulatedSource{inner: inner, bound: decimal.NewFromFloat(bound), rnd: rnd}
}

func (s *SimulatedSource) Name() string {
	return "simulated(" + s.inner.Name() + ")"
}

func (s *SimulatedSource) Quote(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	rate, err := s.inner.Quote(ctx, base, quote)
	if err != nil {
		return rate, err
	}
	s.mu.Lock()
	r := s.rnd()
	s.mu.Unlock()

	// 2r-1 spans [-1, 1)
	shift := decimal.NewFromFloat(2*r - 1).Mul(s.bound)
	return rate.Mul(decimal.NewFromInt(1).Add(shift)), nil
}
