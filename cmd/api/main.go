package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/amaldonado/streamlane-backend/api/routes"
	"github.com/amaldonado/streamlane-backend/internal/auth"
	"github.com/amaldonado/streamlane-backend/internal/billing"
	"github.com/amaldonado/streamlane-backend/internal/checkout"
	"github.com/amaldonado/streamlane-backend/internal/streams"
	"github.com/amaldonado/streamlane-backend/internal/subscriptions"
	"github.com/amaldonado/streamlane-backend/internal/usage"
	"github.com/amaldonado/streamlane-backend/internal/users"
	stripewebhook "github.com/amaldonado/streamlane-backend/internal/webhooks/stripe"
	"github.com/amaldonado/streamlane-backend/pkg/auth/session"
	"github.com/amaldonado/streamlane-backend/pkg/config"
	"github.com/amaldonado/streamlane-backend/pkg/db"
	"github.com/amaldonado/streamlane-backend/pkg/debuglog"
	"github.com/amaldonado/streamlane-backend/pkg/logger"
	"github.com/amaldonado/streamlane-backend/pkg/metrics"
	"github.com/amaldonado/streamlane-backend/pkg/migrate"
	"github.com/amaldonado/streamlane-backend/pkg/redis"
	pkgstripe "github.com/amaldonado/streamlane-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       users.NewRepository(dbClient.DB()),
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auth service", err)
		os.Exit(1)
	}

	registerService, err := auth.NewRegisterServiceFromDB(dbClient, cfg.Password)
	if err != nil {
		logg.Error(context.Background(), "failed to create register service", err)
		os.Exit(1)
	}

	debugBuffer := debuglog.NewBuffer(cfg.Billing.DebugLogCapacity)
	billingMetrics := metrics.NewBillingMetrics(prometheus.DefaultRegisterer)
	billingRepo := billing.NewRepository(dbClient.DB())
	subscriptionClient := subscriptions.NewStripeClient(stripeClient, cfg.Billing.ProviderTimeout)

	billingService, err := billing.NewService(billing.ServiceParams{
		Repo:              billingRepo,
		StripeClient:      subscriptionClient,
		TransactionRunner: dbClient,
		Locker:            redisClient,
		Logger:            logg,
		Metrics:           billingMetrics,
		DebugLog:          debugBuffer,
		LockTTL:           cfg.Billing.PlanChangeLockTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewServiceFromConfig(
		billingRepo,
		checkout.NewStripeCheckoutClient(stripeClient, cfg.Billing.ProviderTimeout),
		logg,
		debugBuffer,
		cfg.Stripe,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	streamRepo := streams.NewRepository(dbClient.DB())
	guard, err := usage.NewGuard(usage.GuardParams{
		Billing: billingRepo,
		Streams: streamRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create usage guard", err)
		os.Exit(1)
	}

	streamService, err := streams.NewService(streams.ServiceParams{
		Repo:              streamRepo,
		BillingRepo:       billingRepo,
		Guard:             guard,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stream service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		BillingRepo:       billingRepo,
		StripeClient:      subscriptionClient,
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           billingMetrics,
		DebugLog:          debugBuffer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Billing.WebhookEventTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			sessionManager,
			authService,
			registerService,
			billingService,
			checkoutService,
			streamService,
			stripeClient,
			webhookService,
			webhookGuard,
			debugBuffer,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
