package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/stockledger/api/controllers"
	"github.com/angelmondragon/stockledger/api/routes"
	"github.com/angelmondragon/stockledger/internal/checkout"
	"github.com/angelmondragon/stockledger/internal/inventory"
	"github.com/angelmondragon/stockledger/internal/orders"
	"github.com/angelmondragon/stockledger/internal/payments"
	paymentwebhook "github.com/angelmondragon/stockledger/internal/webhooks/payments"
	"github.com/angelmondragon/stockledger/pkg/config"
	"github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/instance"
	"github.com/angelmondragon/stockledger/pkg/logger"
	"github.com/angelmondragon/stockledger/pkg/metrics"
	"github.com/angelmondragon/stockledger/pkg/migrate"
	"github.com/angelmondragon/stockledger/pkg/outbox"
	"github.com/angelmondragon/stockledger/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

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
	cfg.Service.Kind = "api"

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

	deps, err := buildDeps(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"addr":        addr,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logg.Info(ctx, "api server shutting down")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

func buildDeps(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (routes.Deps, error) {
	stockMetrics := metrics.NewStockMetrics(prometheus.DefaultRegisterer)

	stock, err := inventory.NewManager(inventory.ManagerParams{
		DB:               dbClient,
		Repository:       inventory.NewRepository(dbClient.DB()),
		Logger:           logg,
		Metrics:          stockMetrics,
		ReservationTTL:   cfg.Inventory.ReservationTTL,
		CleanupBatchSize: cfg.Inventory.ReaperBatchSize,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	notifier, err := orders.NewOutboxNotifier(dbClient, outbox.NewService(outbox.NewRepository(dbClient.DB()), logg))
	if err != nil {
		return routes.Deps{}, err
	}
	orderRepo := orders.NewRepository(dbClient.DB())
	orderSvc, err := orders.NewService(orders.ServiceParams{
		DB:         dbClient,
		Repository: orderRepo,
		Stock:      stock,
		Notifier:   notifier,
		Logger:     logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	checkoutSvc, err := checkout.NewService(checkout.ServiceParams{
		DB:     dbClient,
		Stock:  stock,
		Orders: orderSvc,
		Logger: logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	paymentSvc, err := payments.NewService(payments.ServiceParams{
		DB:              dbClient,
		Orders:          orderSvc,
		OrderRepository: orderRepo,
		Stock:           stock,
		Logger:          logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}
	webhookSvc, err := paymentwebhook.NewService(paymentSvc, logg)
	if err != nil {
		return routes.Deps{}, err
	}
	guard, err := paymentwebhook.NewIdempotencyGuard(redisClient, cfg.Webhooks.IdempotencyTTL)
	if err != nil {
		return routes.Deps{}, err
	}

	return routes.Deps{
		Config: cfg,
		Logger: logg,
		Ready: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Gatherer:       prometheus.DefaultGatherer,
		Checkout:       checkoutSvc,
		Stock:          stock,
		StockLogs:      stock,
		Orders:         orderSvc,
		PaymentWebhook: webhookSvc,
		WebhookGuard:   guard,
	}, nil
}
