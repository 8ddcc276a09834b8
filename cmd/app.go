package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/giftcard-fulfillment/internal"
	"github.com/frahmantamala/giftcard-fulfillment/internal/analytics"
	analyticsPostgres "github.com/frahmantamala/giftcard-fulfillment/internal/analytics/postgres"
	"github.com/frahmantamala/giftcard-fulfillment/internal/auth"
	authPostgres "github.com/frahmantamala/giftcard-fulfillment/internal/auth/postgres"
	"github.com/frahmantamala/giftcard-fulfillment/internal/catalog"
	catalogPostgres "github.com/frahmantamala/giftcard-fulfillment/internal/catalog/postgres"
	"github.com/frahmantamala/giftcard-fulfillment/internal/core/events"
	"github.com/frahmantamala/giftcard-fulfillment/internal/credential"
	credentialPostgres "github.com/frahmantamala/giftcard-fulfillment/internal/credential/postgres"
	credentialRedis "github.com/frahmantamala/giftcard-fulfillment/internal/credential/redis"
	"github.com/frahmantamala/giftcard-fulfillment/internal/jobs"
	"github.com/frahmantamala/giftcard-fulfillment/internal/notification"
	"github.com/frahmantamala/giftcard-fulfillment/internal/order"
	orderPostgres "github.com/frahmantamala/giftcard-fulfillment/internal/order/postgres"
	"github.com/frahmantamala/giftcard-fulfillment/internal/paymentgateway"
	"github.com/frahmantamala/giftcard-fulfillment/internal/quota"
	quotaPostgres "github.com/frahmantamala/giftcard-fulfillment/internal/quota/postgres"
	"github.com/frahmantamala/giftcard-fulfillment/internal/tracing"
	"github.com/frahmantamala/giftcard-fulfillment/internal/vault"
	vendor "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi"
	vendorPostgres "github.com/frahmantamala/giftcard-fulfillment/internal/vendorapi/postgres"
)

// App holds every long-lived component. Each command builds one and only
// uses the parts it needs.
type App struct {
	Config *internal.Config
	Logger *slog.Logger

	Gorm  *gorm.DB
	DB    *sqlx.DB
	Redis *goredis.Client
	Cache *credentialRedis.Cache

	Bus   *events.EventBus
	Kafka *events.KafkaForwarder

	Vault       *vault.Vault
	CallLogs    *vendorPostgres.CallLogRepository
	Vendor      *vendor.Client
	Credentials *credential.Service
	Catalog     *catalog.Service
	Policies    *quota.Engine
	Quota       *quota.Service
	OrderRepo   *orderPostgres.OrderRepository
	Orders      *order.Service
	UserRepo    *authPostgres.Repository
	Auth        *auth.Service
	Analytics   *analytics.Service

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}
	if err := app.build(ctx); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	shutdownTracing, err := tracing.Init(cfg.Observability.Tracing, a.Logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdownTracing)

	if a.DB, err = initDB(cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.DB.Close() })

	if a.Gorm, err = initGorm(a.DB, cfg.Env); err != nil {
		return fmt.Errorf("failed to initialize gorm: %w", err)
	}

	if a.Vault, err = vault.New(cfg.Vault.Secret); err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}

	a.Bus = events.NewEventBus(a.Logger)
	if len(cfg.Kafka.Brokers) > 0 {
		a.Kafka = events.NewKafkaForwarder(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), a.Logger)
		a.Kafka.Attach(a.Bus, events.EventTypeOrderFulfilled, events.EventTypeOrderFailed, events.EventTypeVendorCredentialRefreshed)
		a.closers = append(a.closers, func(context.Context) error { return a.Kafka.Close() })
		a.Logger.Info("kafka forwarding enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	var cache credential.Cache
	if cfg.Redis.Addr != "" {
		a.Redis = credentialRedis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		a.closers = append(a.closers, func(context.Context) error { return a.Redis.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := a.Redis.Ping(pingCtx).Err(); err != nil {
			a.Logger.Warn("redis unreachable, credential cache degraded", "addr", cfg.Redis.Addr, "error", err)
		}
		a.Cache = credentialRedis.NewCache(a.Redis, a.Vault, cfg.Redis.KeyPrefix, cfg.Vendor.DistributorID)
		cache = a.Cache
	}

	codec, err := vendor.NewCodec(cfg.Vendor.EncryptionKey, cfg.Vendor.EncryptionIV, vendor.Strategy(cfg.Vendor.Strategy))
	if err != nil {
		return fmt.Errorf("failed to initialize vendor codec: %w", err)
	}
	rules := make([]vendor.Rule, 0, len(cfg.Vendor.Rules))
	for _, r := range cfg.Vendor.Rules {
		rules = append(rules, vendor.Rule{Outcome: vendor.Outcome(r.Outcome), Expr: r.Expr})
	}
	classifier, err := vendor.NewClassifier(rules)
	if err != nil {
		return fmt.Errorf("failed to compile vendor rules: %w", err)
	}
	a.CallLogs = vendorPostgres.NewCallLogRepository(a.Gorm, a.Logger)
	a.Vendor = vendor.NewClient(vendor.Config{
		BaseURL:       cfg.Vendor.BaseURL,
		ClientID:      cfg.Vendor.ClientID,
		ClientSecret:  cfg.Vendor.ClientSecret,
		DistributorID: cfg.Vendor.DistributorID,
		TokenPath:     cfg.Vendor.TokenPath,
		BrandsPath:    cfg.Vendor.BrandsPath,
		StoresPath:    cfg.Vendor.StoresPath,
		OrderPath:     cfg.Vendor.OrderPath,
		Timeout:       cfg.Vendor.Timeout,
	}, codec, classifier, a.CallLogs, a.Logger)

	a.Credentials = credential.NewService(
		credentialPostgres.NewCredentialRepository(a.Gorm),
		cache,
		a.Vendor,
		a.Vault,
		a.Bus,
		credential.Options{
			DistributorID:   cfg.Vendor.DistributorID,
			TokenTimeout:    cfg.Vendor.TokenTimeout,
			DefaultTTL:      cfg.Vendor.DefaultTokenTTL,
			EarlyExpirySkew: cfg.Vendor.EarlyExpirySkew,
			StorePlainToken: cfg.Vendor.StorePlainToken,
		},
		a.Logger,
	)

	brands := catalogPostgres.NewBrandRepository(a.Gorm)
	a.Catalog = catalog.NewService(brands, a.Vendor, a.Credentials, a.Logger)

	if a.Policies, err = quota.NewEngineFromConfig(cfg.Quota); err != nil {
		return err
	}
	a.Quota = quota.NewService(quotaPostgres.NewUsageRepository(a.Gorm), a.Logger)

	a.OrderRepo = orderPostgres.NewOrderRepository(a.Gorm)
	a.Orders = order.NewService(order.Dependencies{
		Repo:    a.OrderRepo,
		Brands:  brands,
		Gateway: paymentgateway.NewClient(paymentgateway.Config{
			BaseURL:   cfg.PaymentGateway.BaseURL,
			KeyID:     cfg.PaymentGateway.KeyID,
			KeySecret: cfg.PaymentGateway.KeySecret,
			Timeout:   cfg.PaymentGateway.Timeout,
		}, a.Logger),
		Quota:       a.Quota,
		Policies:    a.Policies,
		Credentials: a.Credentials,
		Vendor:      a.Vendor,
		Vault:       a.Vault,
		Events:      a.Bus,
	}, order.Options{
		DistributorID:             cfg.Vendor.DistributorID,
		Currency:                  cfg.PaymentGateway.Currency,
		FloorAmount:               cfg.Pricing.FloorAmount,
		MaxQuantity:               cfg.Pricing.MaxQuantity,
		MockOnInsufficientBalance: cfg.Vendor.MockOnInsufficientBalance,
		ProcessingLease:           cfg.Pricing.ProcessingLease,
		VendorTimeout:             cfg.Vendor.Timeout,
		IdentifierPepper:          cfg.Security.IdentifierPepper,
	}, a.Logger)

	a.UserRepo = authPostgres.NewRepository(a.Gorm)
	a.Auth = auth.NewService(a.UserRepo, auth.NewJWTTokenGenerator(
		cfg.Security.JWTSecret,
		cfg.Security.JWTSecret,
		cfg.Security.AccessTokenDuration,
		cfg.Security.RefreshTokenDuration,
	), cfg.Security.BCryptCost)

	a.Analytics = analytics.NewService(analyticsPostgres.NewAnalyticsRepository(a.DB))
	return nil
}

// Notifications starts the mail dispatcher on bus. It returns nil when mail
// is disabled.
func (a *App) Notifications(bus *events.EventBus) *notification.Dispatcher {
	cfg := a.Config.Mail
	if !cfg.Enabled {
		a.Logger.Info("mail disabled, fulfilment notifications are not sent")
		return nil
	}
	mailer := notification.NewSMTPMailer(notification.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	})
	d := notification.NewDispatcher(mailer, a.OrderRepo, notification.DispatcherConfig{
		MaxWorkers:   cfg.Workers,
		JobQueueSize: cfg.QueueSize,
	}, a.Logger)
	d.Start()
	d.Attach(bus)
	a.closers = append(a.closers, func(context.Context) error {
		d.Shutdown()
		return nil
	})
	return d
}

// Scheduler returns the periodic jobs: keeping the vendor credential fresh
// and re-syncing the catalog.
func (a *App) Scheduler() *jobs.Scheduler {
	cfg := a.Config.Jobs
	refresher := credential.NewRefresher(a.Credentials, cfg.CredentialRefreshThreshold, a.Logger)
	return jobs.NewScheduler(a.Logger,
		jobs.Job{
			Name:       "vendor-credential-refresh",
			Interval:   cfg.CredentialRefreshInterval,
			Timeout:    cfg.RunTimeout,
			RunAtStart: true,
			Run:        refresher.Run,
		},
		jobs.Job{
			Name:       "catalog-sync",
			Interval:   cfg.CatalogSyncInterval,
			Timeout:    cfg.RunTimeout,
			RunAtStart: true,
			Run: func(ctx context.Context) error {
				res, err := a.Catalog.Sync(ctx)
				if err != nil {
					return err
				}
				a.Logger.Info("catalog synced", "brands", res.Brands, "stores", res.Stores)
				return nil
			},
		},
	)
}

// Close drains in-flight event handlers, then releases resources in reverse
// order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Bus != nil {
		if err := a.Bus.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("event bus drain: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// initDB opens the pgx-backed sqlx pool shared by gorm, goose and analytics.
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return dbConn, nil
}

func initGorm(db *sqlx.DB, env string) (*gorm.DB, error) {
	level := gormlogger.Warn
	if env == "production" {
		level = gormlogger.Error
	}
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	})
}
