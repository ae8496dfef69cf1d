package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Ruyllex/rulo-web/internal/api"
	"github.com/Ruyllex/rulo-web/internal/catalog"
	"github.com/Ruyllex/rulo-web/internal/config"
	"github.com/Ruyllex/rulo-web/internal/handler"
	"github.com/Ruyllex/rulo-web/internal/infrastructure/kafka"
	"github.com/Ruyllex/rulo-web/internal/infrastructure/payments"
	"github.com/Ruyllex/rulo-web/internal/infrastructure/payments/mercadopago"
	"github.com/Ruyllex/rulo-web/internal/infrastructure/payments/paypal"
	"github.com/Ruyllex/rulo-web/internal/infrastructure/payments/stripe"
	"github.com/Ruyllex/rulo-web/internal/infrastructure/redis"
	"github.com/Ruyllex/rulo-web/internal/models"
	"github.com/Ruyllex/rulo-web/internal/observability"
	"github.com/Ruyllex/rulo-web/internal/outbox"
	"github.com/Ruyllex/rulo-web/internal/reconcile"
	core "github.com/Ruyllex/rulo-web/internal/repository/postgres"
	service "github.com/Ruyllex/rulo-web/internal/services"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
)

const serviceName = "solcitos-ledger"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownTracing, metricsHandler, err := observability.Setup(ctx, serviceName, cfg.Observability)
	if err != nil {
		log.Fatalf("failed to set up observability: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("tracer shutdown failed", "error", err)
		}
	}()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to open Postgres: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	if err := core.Migrate(db); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	redisClient, err := redis.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	cat, err := catalog.Load()
	if err != nil {
		log.Fatalf("failed to load package catalog: %v", err)
	}

	userRepo := core.NewPostgresUserRepository(db)
	transactionRepo := core.NewPostgresTransactionRepository(db)
	outboxRepo := core.NewPostgresOutboxRepository(db)
	membershipRepo := core.NewPostgresMembershipRepository(db)

	ledger := service.NewLedgerService(transactionRepo, userRepo, redisClient, cfg.Ledger.BalanceCacheTTL, service.DefaultRetryPolicy)
	transfers := service.NewTransferService(userRepo, redisClient, service.DefaultRetryPolicy)
	sweeper := service.NewSweeper(transactionRepo, membershipRepo, cfg.Ledger.StalePendingAfter)

	httpClient := payments.NewHTTPClient()
	checkouts := make(map[models.Provider]service.CheckoutProvider)
	reconciler := reconcile.NewReconciler(ledger, redisClient)
	var primeCheckout service.CheckoutProvider

	if cfg.MercadoPago.AccessToken != "" {
		client := mercadopago.NewClient(mercadopago.Config{
			AccessToken: cfg.MercadoPago.AccessToken,
			Sandbox:     cfg.MercadoPago.Sandbox,
		}, httpClient)
		checkouts[models.ProviderMercadoPago] = client
		primeCheckout = client
		reconciler.RegisterWebhook(reconcile.NewMercadoPagoAdapter(client))
	}
	if cfg.PayPal.ClientID != "" {
		client := paypal.NewClient(paypal.Config{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			Sandbox:      cfg.PayPal.Sandbox,
			BrandName:    "Solcitos",
		}, httpClient)
		adapter := reconcile.NewPayPalAdapter(client)
		checkouts[models.ProviderPayPal] = client
		reconciler.RegisterWebhook(adapter)
		reconciler.RegisterCallback(adapter)
	}
	if cfg.Stripe.SecretKey != "" {
		client := stripe.NewClient(stripe.Config{
			SecretKey: cfg.Stripe.SecretKey,
			Sandbox:   cfg.Stripe.Sandbox,
		}, httpClient)
		checkouts[models.ProviderStripe] = client
		reconciler.RegisterWebhook(reconcile.NewStripeAdapter(client))
	}
	if len(checkouts) == 0 {
		slog.Warn("no payment provider configured, purchases are disabled")
	}

	purchases := service.NewPurchaseService(ledger, cat, checkouts, cfg.PublicBaseURL)
	memberships := service.NewMembershipService(membershipRepo, primeCheckout, cfg.PublicBaseURL)
	reconciler.RegisterMemberships(memberships)

	var workers sync.WaitGroup

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()
	relay := outbox.NewRelay(outboxRepo, producer, cfg.Kafka.Topic, cfg.Ledger.OutboxInterval, cfg.Ledger.OutboxBatchSize)
	workers.Add(1)
	go func() {
		defer workers.Done()
		relay.Run(ctx)
	}()

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, redisClient)
	defer consumer.Close()
	workers.Add(1)
	go func() {
		defer workers.Done()
		consumer.Consume(ctx)
	}()

	limiter := api.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 10m", func() { limiter.Cleanup(30 * time.Minute) }); err != nil {
		log.Fatalf("failed to schedule limiter cleanup: %v", err)
	}
	if cfg.Ledger.SweepSchedule != "" {
		if _, err := scheduler.AddFunc(cfg.Ledger.SweepSchedule, func() {
			if _, err := sweeper.Run(ctx); err != nil {
				slog.Error("scheduled sweep failed", "error", err)
			}
		}); err != nil {
			log.Fatalf("invalid SWEEP_SCHEDULE %q: %v", cfg.Ledger.SweepSchedule, err)
		}
		slog.Info("expiry sweep scheduled", "schedule", cfg.Ledger.SweepSchedule)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	h := handler.NewHandler(handler.Options{
		Purchases:   purchases,
		Ledger:      ledger,
		Transfers:   transfers,
		Memberships: memberships,
		Reconciler:  reconciler,
		Sweeper:     sweeper,
		CronSecret:  cfg.CronSecret,
		BaseURL:     cfg.PublicBaseURL,
		Checks: map[string]handler.HealthCheck{
			"postgres": db.PingContext,
			"redis":    redisClient.Ping,
		},
	})
	router := api.SetupRouter(h, api.RouterConfig{
		RedisClient:    redisClient,
		JWTSecret:      cfg.JWTSecret,
		RateLimiter:    limiter,
		MetricsHandler: metricsHandler,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("starting server", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	workers.Wait()
	slog.Info("server stopped")
}
