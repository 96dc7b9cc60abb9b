package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/stockledger/internal/cron"
	"github.com/angelmondragon/stockledger/internal/inventory"
	"github.com/angelmondragon/stockledger/pkg/bigquery"
	"github.com/angelmondragon/stockledger/pkg/config"
	"github.com/angelmondragon/stockledger/pkg/db"
	"github.com/angelmondragon/stockledger/pkg/instance"
	"github.com/angelmondragon/stockledger/pkg/logger"
	"github.com/angelmondragon/stockledger/pkg/metrics"
	"github.com/angelmondragon/stockledger/pkg/migrate"
	"github.com/angelmondragon/stockledger/pkg/outbox"
	"github.com/angelmondragon/stockledger/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	jobs, closeJobs, err := buildJobs(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}
	defer closeJobs()

	registry, err := cron.NewRegistry(jobs...)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Tick:     cfg.Inventory.ReaperInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"tick":        cfg.Inventory.ReaperInterval.String(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildJobs wires the reaper, outbox retention and, when a dataset is
// configured, the stock log export. The returned func closes the clients it
// opened.
func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) ([]cron.Job, func(), error) {
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	stock, err := inventory.NewManager(inventory.ManagerParams{
		DB:               dbClient,
		Repository:       inventory.NewRepository(dbClient.DB()),
		Logger:           logg,
		Metrics:          metrics.NewStockMetrics(prometheus.DefaultRegisterer),
		ReservationTTL:   cfg.Inventory.ReservationTTL,
		CleanupBatchSize: cfg.Inventory.ReaperBatchSize,
	})
	if err != nil {
		return nil, closeAll, err
	}
	reaper, err := cron.NewReservationReaperJob(cron.ReservationReaperJobParams{Logger: logg, Reaper: stock})
	if err != nil {
		return nil, closeAll, err
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  time.Duration(cfg.Outbox.RetentionDays) * 24 * time.Hour,
	})
	if err != nil {
		return nil, closeAll, err
	}
	jobs := []cron.Job{reaper, retention}

	if !cfg.BigQuery.Enabled() {
		logg.Info(context.Background(), "bigquery dataset not configured; stock log export disabled")
		return jobs, closeAll, nil
	}

	bq, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return nil, closeAll, err
	}
	closers = append(closers, func() {
		if err := bq.Close(); err != nil {
			logg.Error(context.Background(), "error closing bigquery", err)
		}
	})
	export, err := cron.NewStockLogExportJob(cron.StockLogExportJobParams{
		Logger:       logg,
		Source:       inventory.NewRepository(dbClient.DB()),
		Watermarks:   redisClient,
		WatermarkKey: redisClient.WatermarkKey(cron.StockLogExportWatermark),
		Sink:         bq,
		Table:        bq.StockLogsTable(),
		BatchSize:    cfg.BigQuery.ExportBatch,
	})
	if err != nil {
		return nil, closeAll, err
	}
	return append(jobs, export), closeAll, nil
}
