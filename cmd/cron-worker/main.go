package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/inalterahq/inaltera-backend/internal/audit"
	"github.com/inalterahq/inaltera-backend/internal/cron"
	"github.com/inalterahq/inaltera-backend/internal/hashchain"
	"github.com/inalterahq/inaltera-backend/internal/ledger"
	"github.com/inalterahq/inaltera-backend/internal/quota"
	"github.com/inalterahq/inaltera-backend/pkg/config"
	"github.com/inalterahq/inaltera-backend/pkg/db"
	"github.com/inalterahq/inaltera-backend/pkg/enums"
	"github.com/inalterahq/inaltera-backend/pkg/logger"
	"github.com/inalterahq/inaltera-backend/pkg/metrics"
	"github.com/inalterahq/inaltera-backend/pkg/migrate"
	"github.com/inalterahq/inaltera-backend/pkg/outbox"
	"github.com/inalterahq/inaltera-backend/pkg/redis"
)

const lockKeyFormat = "inaltera:cron-worker:lock:%s"

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

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
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

	algorithm, err := hashchain.ParseAlgorithm(cfg.Ledger.HashAlgorithm)
	if err != nil {
		logg.Error(context.Background(), "invalid hash algorithm", err)
		os.Exit(1)
	}

	quotaService, err := quota.NewService(quota.ServiceParams{
		Repo:        quota.NewRepository(dbClient.DB()),
		Tx:          dbClient,
		DefaultPlan: enums.PlanTier(cfg.Quota.DefaultPlan),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create quota service", err)
		os.Exit(1)
	}

	auditService, err := audit.NewService(audit.ServiceParams{
		Repo: audit.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create audit service", err)
		os.Exit(1)
	}

	quotaResetJob, err := cron.NewQuotaResetJob(cron.QuotaResetJobParams{
		Logger: logg,
		DB:     dbClient,
		Quota:  quotaService,
		Audit:  auditService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create quota reset job", err)
		os.Exit(1)
	}

	chainVerifyJob, err := cron.NewChainVerifyJob(cron.ChainVerifyJobParams{
		Logger:    logg,
		Repo:      ledger.NewRepository(dbClient.DB()),
		Algorithm: algorithm,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create chain verify job", err)
		os.Exit(1)
	}

	outboxRetentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outbox.NewRepository(dbClient.DB()),
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(quotaResetJob, chainVerifyJob, outboxRetentionJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
