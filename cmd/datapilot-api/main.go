package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datapilot/datapilot/internal/api"
	"github.com/datapilot/datapilot/internal/auth"
	"github.com/datapilot/datapilot/internal/config"
	"github.com/datapilot/datapilot/internal/export"
	"github.com/datapilot/datapilot/internal/gateway"
	"github.com/datapilot/datapilot/internal/maintenance"
	"github.com/datapilot/datapilot/internal/observability"
	"github.com/datapilot/datapilot/internal/sqlgen"
	storepostgres "github.com/datapilot/datapilot/internal/store/postgres"
	s3store "github.com/datapilot/datapilot/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("datapilot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	catalogDB, err := storepostgres.Open(context.Background(), storepostgres.DBConfig{
		DSN:             cfg.Catalog.DSN,
		MaxOpenConns:    cfg.Catalog.MaxOpenConns,
		MaxIdleConns:    cfg.Catalog.MaxIdleConns,
		ConnMaxIdleTime: cfg.Catalog.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Catalog.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open catalog db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = catalogDB.Close() }()

	repo := storepostgres.NewRepository(catalogDB)
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defaultUser, err := repo.EnsureDefaultUser(startupCtx)
	startupCancel()
	if err != nil {
		logger.Error("failed to ensure default user", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("default user ready", slog.Int64("user_id", defaultUser.UserID))

	targetGateway := gateway.New(cfg.Gateway, logger)
	defer targetGateway.CloseAll()

	model, err := sqlgen.NewLLMModel(cfg.AI)
	if err != nil {
		logger.Error("failed to initialize language model", slog.Any("error", err))
		os.Exit(1)
	}
	generator := sqlgen.NewGenerator(model, cfg.Query, logger)

	readinessChecks := []api.ReadinessCheck{
		repo.HealthCheck,
		api.CheckCatalogDSN(cfg),
	}

	var exporter api.ResultExporter
	if cfg.ObjectStore.Endpoint != "" {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		exporter = export.NewExporter(objectStore, logger)
		readinessChecks = append(readinessChecks, api.CheckObjectStoreConfig(cfg))
	}

	deps := api.Dependencies{
		Logger:            logger,
		Repo:              repo,
		Gateway:           targetGateway,
		Generator:         generator,
		Exporter:          exporter,
		QueryCfg:          cfg.Query,
		Readiness:         api.CombineReadinessChecks(readinessChecks...),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Maintenance.Enabled {
		maintenanceService := &maintenance.Service{
			Catalog: repo,
			Schemas: targetGateway,
			Config: maintenance.Config{
				SnapshotRefreshInterval: cfg.Maintenance.SnapshotRefreshInterval,
				RetentionInterval:       cfg.Maintenance.RetentionInterval,
				ConversationMaxAge:      cfg.Maintenance.ConversationMaxAge,
			},
			Logger: logger,
		}
		go func() {
			if err := maintenanceService.Run(ctx); err != nil {
				logger.Error("maintenance loop failed", slog.Any("error", err))
			}
		}()
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
