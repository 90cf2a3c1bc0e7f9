package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gregtusar/assetrouter/pkg/oracle"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const DefaultFeedURL = "wss://ws-feed.exchange.coinbase.com"

// TickerFeed keeps the last traded price for a set of products from the
// Coinbase ticker channel. It is an oracle.Source that never touches the
// network on Quote.
type TickerFeed struct {
	url        string
	productIDs []string
	maxAge     time.Duration
	retryDelay time.Duration
	logger     *logrus.Logger

	mu     sync.RWMutex
	prices map[string]tick
	now    func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type tick struct {
	price decimal.Decimal
	at    time.Time
}

type subscribeMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

type tickerMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Message   string `json:"message"`
}

// NewTickerFeed subscribes to products such as "BTC-USD". Prices older than
// maxAge are treated as missing.
func NewTickerFeed(url string, productIDs []string, maxAge time.Duration, logger *logrus.Logger) *TickerFeed {
	if url == "" {
		url = DefaultFeedURL
	}
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	ids := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		ids = append(ids, strings.ToUpper(strings.TrimSpace(id)))
	}
	return &TickerFeed{
		url:        url,
		productIDs: ids,
		maxAge:     maxAge,
		retryDelay: 5 * time.Second,
		logger:     logger,
		prices:     make(map[string]tick),
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

func (f *TickerFeed) Name() string {
	return "coinbase-ws"
}

func (f *TickerFeed) Quote(_ context.Context, base, quote string) (decimal.Decimal, error) {
	product := strings.ToUpper(base) + "-" + strings.ToUpper(quote)

	f.mu.RLock()
	t, ok := f.prices[product]
	f.mu.RUnlock()

	if !ok || f.now().Sub(t.at) > f.maxAge {
		return decimal.Zero, oracle.ErrNoQuote
	}
	return t.price, nil
}

// Start runs the read loop in the background, reconnecting until Stop is
// called or ctx ends.
func (f *TickerFeed) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			err := f.run(ctx)
			select {
			case <-ctx.Done():
				return
			case <-f.stopCh:
				return
			default:
			}
			f.logger.WithError(err).WithField("url", f.url).Warn("Ticker feed disconnected, reconnecting")

			select {
			case <-ctx.Done():
				return
			case <-f.stopCh:
				return
			case <-time.After(f.retryDelay):
			}
		}
	}()
}

func (f *TickerFeed) Stop() {
	f.stopOnce.Do(func() {
		close(f.stopCh)
	})
	f.wg.Wait()
}

func (f *TickerFeed) run(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMessage{
		Type:       "subscribe",
		ProductIDs: f.productIDs,
		Channels:   []string{"ticker"},
	}); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	f.logger.WithField("products", f.productIDs).Info("Subscribed to ticker feed")

	// Unblock ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.stopCh:
		case <-done:
			return
		}
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(data)
	}
}

func (f *TickerFeed) handleMessage(data []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.WithError(err).Debug("Failed to unmarshal feed message")
		return
	}

	switch msg.Type {
	case "ticker":
		price, err := decimal.NewFromString(msg.Price)
		if err != nil || !price.IsPositive() {
			f.logger.WithField("product_id", msg.ProductID).Debug("Ignoring ticker with invalid price")
			return
		}
		f.mu.Lock()
		f.prices[strings.ToUpper(msg.ProductID)] = tick{price: price, at: f.now()}
		f.mu.Unlock()
	case "error":
		f.logger.WithField("message", msg.Message).Error("Ticker feed error")
	}
}
