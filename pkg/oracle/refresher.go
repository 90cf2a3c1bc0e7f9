package oracle

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Pair struct {
	From string
	To   string
}

// ParsePairs reads "BASE/QUOTE" entries, skipping malformed ones.
func ParsePairs(entries []string) []Pair {
	pairs := make([]Pair, 0, len(entries))
	for _, e := range entries {
		base, quote, ok := strings.Cut(e, "/")
		if !ok || strings.TrimSpace(base) == "" || strings.TrimSpace(quote) == "" {
			continue
		}
		pairs = append(pairs, Pair{From: normalize(base), To: normalize(quote)})
	}
	return pairs
}

// Refresher keeps a fixed set of pairs warm in the oracle cache.
type Refresher struct {
	oracle   *Oracle
	pairs    []Pair
	interval time.Duration
	logger   *logrus.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewRefresher(oracle *Oracle, pairs []Pair, interval time.Duration, logger *logrus.Logger) *Refresher {
	return &Refresher{
		oracle:   oracle,
		pairs:    pairs,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (r *Refresher) Start(ctx context.Context) {
	r.logger.WithFields(logrus.Fields{
		"pairs":    len(r.pairs),
		"interval": r.interval.String(),
	}).Info("Starting rate refresher")

	r.wg.Add(1)
	go r.run(ctx)
}

func (r *Refresher) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("Stopping rate refresher")
		close(r.stopCh)
	})
	r.wg.Wait()
}

func (r *Refresher) run(ctx context.Context) {
	defer r.wg.Done()

	r.refreshAll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

func (r *Refresher) refreshAll(ctx context.Context) {
	for _, p := range r.pairs {
		q, err := r.oracle.Refresh(ctx, p.From, p.To)
		if err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"from": p.From,
				"to":   p.To,
			}).Warn("Failed to refresh rate")
			continue
		}
		r.logger.WithFields(logrus.Fields{
			"from": p.From,
			"to":   p.To,
			"rate": q.Rate.String(),
		}).Debug("Refreshed rate")
	}
}
