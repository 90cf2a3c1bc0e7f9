package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gregtusar/assetrouter/api"
	"github.com/gregtusar/assetrouter/internal/config"
	"github.com/gregtusar/assetrouter/pkg/balance"
	"github.com/gregtusar/assetrouter/pkg/bridge"
	"github.com/gregtusar/assetrouter/pkg/coinbase"
	"github.com/gregtusar/assetrouter/pkg/collateral"
	"github.com/gregtusar/assetrouter/pkg/fees"
	"github.com/gregtusar/assetrouter/pkg/ledger"
	"github.com/gregtusar/assetrouter/pkg/oracle"
	"github.com/gregtusar/assetrouter/pkg/recipient"
	"github.com/gregtusar/assetrouter/pkg/routing"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// App holds the wired engine and the resources it must release.
type App struct {
	Services api.Services
	Ledger   ledger.Provider

	cfg       *config.Config
	logger    *logrus.Logger
	refresher *oracle.Refresher
	feed      *coinbase.TickerFeed
	closers   []func() error
}

// NewLogger builds the process logger from the logging section. The returned
// function closes the log file, if any.
func NewLogger(cfg config.LoggingConfig) (*logrus.Logger, func() error, error) {
	logger := logrus.New()
	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.File == "" {
		return logger, func() error { return nil }, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, f))
	return logger, f.Close, nil
}

// Build wires every component from configuration. Background workers are
// not started until Start.
func Build(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	store, err := a.buildLedger(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ledger = store

	rates, err := a.buildOracle()
	if err != nil {
		a.Close()
		return nil, err
	}

	schedule := fees.DefaultSchedule()
	if cfg.Fees.ScheduleFile != "" {
		schedule, err = fees.LoadSchedule(cfg.Fees.ScheduleFile)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	ltvCeiling, err := decimal.NewFromString(cfg.Collateral.LTVCeiling)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid collateral.ltv_ceiling: %w", err)
	}
	liquidationLTV, err := decimal.NewFromString(cfg.Collateral.LiquidationLTV)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid collateral.liquidation_ltv: %w", err)
	}

	routeCfg := routing.DefaultConfig()
	if cfg.Routing.MaxParallel > 0 {
		routeCfg.MaxParallel = cfg.Routing.MaxParallel
	}
	if cfg.Routing.AssetTimeout > 0 {
		routeCfg.AssetTimeout = cfg.Routing.AssetTimeout
	}

	var settler bridge.Settler = bridge.InstantSettler{}
	if cfg.Bridge.Settlement == "deferred" {
		settler = bridge.NewDeferredSettler(logger)
	}

	var publisher bridge.Publisher = bridge.NopPublisher{}
	if cfg.Kafka.Enabled {
		kp, err := bridge.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, kp.Close)
		publisher = kp
	}

	var recorder balance.Recorder
	if cfg.Balance.AuditPath != "" {
		rec, err := balance.NewSQLiteRecorder(cfg.Balance.AuditPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rec.Close)
		recorder = rec
	}

	a.Services = api.Services{
		Rates:      rates,
		Fees:       schedule,
		Collateral: collateral.NewService(collateral.NewValidator(collateral.DefaultHaircuts()), store, ltvCeiling, liquidationLTV, logger),
		Routes:     routing.NewOptimizer(rates, schedule, routing.DefaultWindows(), routeCfg, logger),
		Recipients: recipient.NewClassifier(store, logger),
		Bridges:    bridge.NewService(rates, schedule, store, settler, publisher, bridge.Config{DefaultCrypto: cfg.Bridge.DefaultCrypto}, logger),
		Balances:   balance.NewAggregator(store, rates, store, recorder, cfg.Balance.MaxParallel, logger),
	}

	if len(cfg.Rates.RefreshPairs) > 0 {
		interval := cfg.Rates.RefreshInterval
		if interval <= 0 {
			interval = time.Minute
		}
		a.refresher = oracle.NewRefresher(rates, oracle.ParsePairs(cfg.Rates.RefreshPairs), interval, logger)
	}

	logger.WithFields(logrus.Fields{
		"ledger":     cfg.Database.Driver,
		"rate_cache": cfg.Rates.Cache,
		"sources":    cfg.Rates.Sources,
		"settlement": settler.Name(),
		"kafka":      cfg.Kafka.Enabled,
	}).Info("Engine wired")
	return a, nil
}

func (a *App) buildLedger(ctx context.Context) (ledger.Provider, error) {
	switch a.cfg.Database.Driver {
	case "postgres":
		pool, err := ledger.Connect(ctx, a.cfg.Database.URL, a.cfg.Database.MaxConns)
		if err != nil {
			return nil, err
		}
		pg := ledger.NewPostgres(pool)
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	default:
		if a.cfg.Database.Fixtures == "" {
			return ledger.NewMemory(), nil
		}
		m, err := ledger.LoadFixtures(a.cfg.Database.Fixtures)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

func (a *App) buildOracle() (*oracle.Oracle, error) {
	rc := a.cfg.Rates

	var sources []oracle.Source
	for _, name := range rc.Sources {
		switch name {
		case "static":
			table := make(map[string]decimal.Decimal, len(rc.Static))
			for pair, raw := range rc.Static {
				rate, err := decimal.NewFromString(raw)
				if err != nil {
					return nil, fmt.Errorf("invalid static rate %s: %w", pair, err)
				}
				table[pair] = rate
			}
			sources = append(sources, oracle.NewStaticSource(table))
		case "coinbase":
			var auth coinbase.Authenticator
			if a.cfg.Coinbase.AuthType == "jwt" {
				jwtAuth, err := coinbase.NewJWTAuthenticator(a.cfg.Coinbase.APIKeyName, a.cfg.Coinbase.PrivateKeyPEM)
				if err != nil {
					return nil, fmt.Errorf("failed to create coinbase authenticator: %w", err)
				}
				auth = jwtAuth
			}
			sources = append(sources, coinbase.NewPriceClient(coinbase.PriceClientOptions{
				BaseURL:           a.cfg.Coinbase.BaseURL,
				Auth:              auth,
				RequestsPerSecond: a.cfg.Coinbase.RequestsPerSecond,
			}, a.logger))
		case "coinbase_ws":
			ws := a.cfg.Coinbase.WebSocket
			a.feed = coinbase.NewTickerFeed(ws.URL, ws.Products, ws.MaxAge, a.logger)
			sources = append(sources, a.feed)
		default:
			return nil, fmt.Errorf("unknown rate source %q", name)
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no rate sources configured")
	}

	var source oracle.Source = sources[0]
	if len(sources) > 1 {
		source = oracle.NewMultiSource(sources...)
	}
	if rc.SimulateJitter > 0 {
		source = oracle.NewSimulatedSource(source, rc.SimulateJitter, nil)
	}

	var cache oracle.Cache = oracle.NewMemoryCache()
	if rc.Cache == "redis" {
		client := oracle.NewRedisClient(a.cfg.Redis.Addrs, a.cfg.Redis.Password, a.cfg.Redis.Cluster)
		a.closers = append(a.closers, client.Close)
		cache = oracle.NewRedisCache(client, a.cfg.Redis.Namespace)
	}

	return oracle.New(source, cache, oracle.Config{
		Pivot:        rc.Pivot,
		TTL:          rc.TTL,
		FetchTimeout: rc.FetchTimeout,
	}, a.logger), nil
}

// Start launches the background workers: the ticker feed and the rate
// refresher.
func (a *App) Start(ctx context.Context) {
	if a.feed != nil {
		a.feed.Start(ctx)
	}
	if a.refresher != nil {
		a.refresher.Start(ctx)
	}
}

// Server returns the HTTP surface over the wired services.
func (a *App) Server() *api.Server {
	sc := a.cfg.Server
	return api.NewServer(a.Services, api.Options{
		Port:            sc.Port,
		AllowedOrigins:  sc.AllowedOrigins,
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		ShutdownTimeout: sc.ShutdownTimeout,
	}, a.logger)
}

// Close stops workers and releases resources in reverse order of creation.
func (a *App) Close() {
	if a.refresher != nil {
		a.refresher.Stop()
	}
	if a.feed != nil {
		a.feed.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to release resource")
		}
	}
	a.closers = nil
}

// RunServe starts workers and serves the API until ctx is cancelled.
func (a *App) RunServe(ctx context.Context) error {
	a.Start(ctx)
	start := time.Now()
	err := a.Server().Start(ctx)
	a.logger.WithField("uptime", time.Since(start).String()).Info("API server stopped")
	return err
}
