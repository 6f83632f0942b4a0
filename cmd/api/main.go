package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/inalterahq/inaltera-backend/api/controllers"
	"github.com/inalterahq/inaltera-backend/api/routes"
	"github.com/inalterahq/inaltera-backend/internal/audit"
	"github.com/inalterahq/inaltera-backend/internal/hashchain"
	"github.com/inalterahq/inaltera-backend/internal/ledger"
	"github.com/inalterahq/inaltera-backend/internal/quota"
	"github.com/inalterahq/inaltera-backend/internal/rectification"
	"github.com/inalterahq/inaltera-backend/internal/verification"
	"github.com/inalterahq/inaltera-backend/pkg/config"
	"github.com/inalterahq/inaltera-backend/pkg/db"
	"github.com/inalterahq/inaltera-backend/pkg/enums"
	"github.com/inalterahq/inaltera-backend/pkg/logger"
	"github.com/inalterahq/inaltera-backend/pkg/metrics"
	"github.com/inalterahq/inaltera-backend/pkg/migrate"
	"github.com/inalterahq/inaltera-backend/pkg/outbox"
	"github.com/inalterahq/inaltera-backend/pkg/redis"
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

	locker, err := ledger.NewRedisChainLocker(ledger.ChainLockerParams{
		Client:      redisClient,
		TTL:         cfg.Ledger.LockTTL,
		WaitTimeout: cfg.Ledger.LockWaitTimeout,
		RetryDelay:  cfg.Ledger.LockRetryDelay,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create chain locker", err)
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

	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)
	ledgerRepo := ledger.NewRepository(dbClient.DB())

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repo:      ledgerRepo,
		Tx:        dbClient,
		Quota:     quotaService,
		Audit:     auditService,
		Outbox:    outbox.NewRepository(dbClient.DB()),
		Locker:    locker,
		Algorithm: algorithm,
		Metrics:   ledgerMetrics,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	rectificationService, err := rectification.NewService(rectification.ServiceParams{
		Ledger:  ledgerService,
		Repo:    ledgerRepo,
		Tx:      dbClient,
		Audit:   auditService,
		Metrics: ledgerMetrics,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create rectification service", err)
		os.Exit(1)
	}

	verificationService, err := verification.NewService(verification.ServiceParams{
		Ledger:  ledgerService,
		Metrics: ledgerMetrics,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create verification service", err)
		os.Exit(1)
	}

	if err := dbClient.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, appendErr := auditService.Append(context.Background(), tx, audit.AppendInput{
			Category:    enums.AuditCategorySystem,
			Description: "servicio api iniciado",
		})
		return appendErr
	}); err != nil {
		logg.Error(context.Background(), "failed to record startup event", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config: cfg,
			Logger: logg,
			Redis:  redisClient,
			Pingers: map[string]controllers.Pinger{
				"database": dbClient,
				"redis":    redisClient,
			},
			Ledger:       ledgerService,
			Rectify:      rectificationService,
			Verify:       verificationService,
			Quota:        quotaService,
			Audit:        auditService,
			MetricsAlive: true,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
