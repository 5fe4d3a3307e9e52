// Package bootstrap assembles the payment service from configuration. It is shared by
// the service binary and paymentctl so both run against the same stores and gateway.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/partsmarket/golang_services/internal/payment_service/adapters/paymentgateway"
	"github.com/partsmarket/golang_services/internal/payment_service/app"
	"github.com/partsmarket/golang_services/internal/payment_service/catalog"
	"github.com/partsmarket/golang_services/internal/payment_service/domain"
	"github.com/partsmarket/golang_services/internal/payment_service/repository/memory"
	"github.com/partsmarket/golang_services/internal/payment_service/repository/postgres"
	"github.com/partsmarket/golang_services/internal/platform/config"
	"github.com/partsmarket/golang_services/internal/platform/database"
	"github.com/partsmarket/golang_services/internal/platform/messagebroker"
)

const (
	serviceName        = "payment-service"
	writeTimeoutMargin = 10 * time.Second
)

// Components holds everything the binaries need. Close releases connections in
// reverse order of acquisition.
type Components struct {
	DB       *pgxpool.Pool // nil with the memory driver
	Packages *postgres.PgPackageRepository
	Catalog  domain.PackageCatalog
	Cache    *catalog.CachedCatalog // nil when Redis is not configured

	Sessions    domain.SessionRepository
	Ledger      domain.CreditLedger
	Fulfillment domain.FulfillmentStore
	Gateway     domain.GatewayAdapter
	Publisher   messagebroker.Publisher
	Retry       app.RetryPolicy

	Checkout    *app.CheckoutService
	Reconciler  *app.Reconciler
	Credits     *app.CreditsService
	Housekeeper *app.Housekeeper

	closers []func()
}

func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build connects to the configured backends and wires the application services.
// Redis and NATS are optional: when they cannot be reached the service runs without
// the catalog cache and without resolution events.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	if err := c.buildStores(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err := c.buildCatalog(ctx, cfg, logger); err != nil {
		return nil, err
	}
	gw, err := NewGateway(cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Gateway = gw
	c.buildPublisher(cfg, logger)

	retry := app.RetryPolicy{
		MaxAttempts:    cfg.VerifyMaxAttempts,
		InitialBackoff: cfg.VerifyInitialBackoff,
		CallTimeout:    cfg.GatewayTimeout,
	}
	c.Retry = retry
	c.Checkout = app.NewCheckoutService(c.Catalog, c.Sessions, c.Gateway, c.Publisher,
		app.CheckoutConfig{PublicBaseURL: cfg.PublicBaseURL, Retry: retry}, logger)
	c.Reconciler = app.NewReconciler(c.Sessions, c.Ledger, c.Fulfillment, c.Gateway, c.Publisher,
		app.ReconcilerConfig{Retry: retry}, logger)
	c.Credits = app.NewCreditsService(c.Ledger, logger)
	c.Housekeeper = app.NewHousekeeper(c.Sessions, c.Ledger, c.Reconciler, app.HousekeeperConfig{
		PendingTTL: cfg.SessionPendingTTL,
		Retention:  cfg.SessionRetention,
		Interval:   cfg.SweepInterval,
		BatchSize:  cfg.SweepBatchSize,
	}, logger)

	ok = true
	return c, nil
}

// HTTPWriteTimeout is long enough for a reconcile request to exhaust every gateway
// attempt and still write its pending response.
func (c *Components) HTTPWriteTimeout() time.Duration {
	return c.Retry.Budget() + writeTimeoutMargin
}

func (c *Components) buildStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("Using in-memory session store; data is lost on restart")
		store := memory.NewStore()
		c.Sessions, c.Ledger, c.Fulfillment = store, store, store
		return nil
	case "postgres":
		pool, err := database.NewDBPool(ctx, cfg.PostgresDSN, serviceName, logger)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		c.DB = pool
		c.closers = append(c.closers, pool.Close)

		sessions := postgres.NewPgSessionRepository(pool, logger)
		ledger := postgres.NewPgLedgerRepository(pool, logger)
		c.Sessions = sessions
		c.Ledger = ledger
		c.Fulfillment = postgres.NewPgFulfillmentStore(pool, sessions, ledger, logger)
		c.Packages = postgres.NewPgPackageRepository(pool, logger)
		return nil
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func (c *Components) buildCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var source domain.PackageCatalog
	switch {
	case cfg.CatalogFile != "":
		pkgs, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			return err
		}
		logger.Info("Loaded package catalog from file", "file", cfg.CatalogFile, "packages", len(pkgs))
		source = catalog.NewStaticCatalog(pkgs)
	case c.Packages != nil:
		source = c.Packages
	default:
		return errors.New("CATALOG_FILE is required with the memory store driver")
	}
	c.Catalog = source

	if cfg.RedisAddr == "" {
		return nil
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unavailable; package catalog cache disabled", "addr", cfg.RedisAddr, "error", err)
		_ = rdb.Close()
		return nil
	}
	c.closers = append(c.closers, func() { _ = rdb.Close() })
	c.Cache = catalog.NewCachedCatalog(source, rdb, cfg.CatalogCacheTTL, logger)
	c.Catalog = c.Cache
	return nil
}

func (c *Components) buildPublisher(cfg *config.Config, logger *slog.Logger) {
	c.Publisher = messagebroker.NoopPublisher{}
	if cfg.NATSUrl == "" {
		logger.Info("NATS_URL not set; payment events are not published")
		return
	}
	nc, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, logger)
	if err != nil {
		logger.Warn("NATS unavailable; payment events are not published", "error", err)
		return
	}
	c.Publisher = nc
	c.closers = append(c.closers, nc.Close)
}

// NewGateway returns the adapter selected by GATEWAY_PROVIDER.
func NewGateway(cfg *config.Config, logger *slog.Logger) (domain.GatewayAdapter, error) {
	switch cfg.GatewayProvider {
	case "hosted":
		if cfg.GatewayStoreID == "" || cfg.GatewayAuthKey == "" {
			return nil, errors.New("GATEWAY_STORE_ID and GATEWAY_AUTH_KEY are required for the hosted gateway")
		}
		return paymentgateway.NewHostedPageAdapter(paymentgateway.HostedPageConfig{
			APIURL:        cfg.GatewayAPIURL,
			StoreID:       cfg.GatewayStoreID,
			AuthKey:       cfg.GatewayAuthKey,
			TestMode:      cfg.GatewayTestMode,
			WebhookSecret: cfg.GatewayWebhookSecret,
			Timeout:       cfg.GatewayTimeout,
		}, logger, &http.Client{Timeout: cfg.GatewayTimeout}), nil
	case "midtrans":
		if cfg.MidtransServerKey == "" {
			return nil, errors.New("MIDTRANS_SERVER_KEY is required for the midtrans gateway")
		}
		return paymentgateway.NewMidtransAdapter(cfg.MidtransServerKey, cfg.MidtransProduction, logger), nil
	case "mock":
		logger.Warn("Using mock payment gateway")
		return paymentgateway.NewMockPaymentGatewayAdapter(logger, cfg.GatewayWebhookSecret), nil
	default:
		return nil, fmt.Errorf("unsupported gateway provider %q", cfg.GatewayProvider)
	}
}
