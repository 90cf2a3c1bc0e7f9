package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gregtusar/assetrouter/pkg/oracle"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.coinbase.com"

// PriceClient reads spot prices from the Coinbase REST API. It is an
// oracle.Source.
type PriceClient struct {
	baseURL    string
	auth       Authenticator
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *logrus.Logger
}

type PriceClientOptions struct {
	BaseURL string
	// Auth is optional; public spot prices need none.
	Auth              Authenticator
	RequestsPerSecond float64
	Timeout           time.Duration
}

func NewPriceClient(opts PriceClientOptions, logger *logrus.Logger) *PriceClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &PriceClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		auth:       opts.Auth,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst),
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     logger,
	}
}

func (c *PriceClient) Name() string {
	return "coinbase"
}

type spotResponse struct {
	Data struct {
		Amount   string `json:"amount"`
		Base     string `json:"base"`
		Currency string `json:"currency"`
	} `json:"data"`
}

// Quote returns the spot price of base in quote. Unknown pairs report
// oracle.ErrNoQuote.
func (c *PriceClient) Quote(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	path := fmt.Sprintf("/v2/prices/%s-%s/spot", strings.ToUpper(base), strings.ToUpper(quote))
	resp, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusBadRequest:
		return decimal.Zero, oracle.ErrNoQuote
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("coinbase %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out spotResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode spot price: %w", err)
	}
	price, err := decimal.NewFromString(out.Data.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid spot price %q: %w", out.Data.Amount, err)
	}

	c.logger.WithFields(logrus.Fields{
		"base":  base,
		"quote": quote,
		"price": price.String(),
	}).Debug("Fetched spot price")
	return price, nil
}

func (c *PriceClient) doRequest(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		if err := c.auth.AddAuthHeaders(req); err != nil {
			return nil, err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coinbase request failed: %w", err)
	}
	return resp, nil
}
