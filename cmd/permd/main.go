package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/permd/internal/common/config"
	"github.com/Alexander-D-Karpov/permd/internal/common/logging"
	"github.com/Alexander-D-Karpov/permd/internal/infra/db"
	"github.com/Alexander-D-Karpov/permd/internal/observability"
	"github.com/Alexander-D-Karpov/permd/internal/perms"
	"github.com/Alexander-D-Karpov/permd/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.Init(
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.Output,
		cfg.Logging.EnableFile,
		cfg.Logging.FilePath,
	)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics(logger)

	manager := db.NewManager(cfg.Database, logger)
	if err := manager.Connect(ctx); err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer manager.Close()

	manager.StartMonitor(ctx, cfg.Database.MonitorInterval, metrics.RecordReconnect)

	repo := perms.NewRepository(manager, logger, metrics)
	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	service := perms.NewService(logger, repo, metrics)
	if err := service.LoadAllFromStorage(ctx); err != nil {
		return fmt.Errorf("load permission data: %w", err)
	}
	logger.Info("permission data loaded",
		zap.Strings("groups", service.GetAllGroupNames()),
	)

	if cfg.Metrics.Enabled {
		obs := observability.NewServer(logger, metrics, version.Version)
		obs.RegisterCheck("database", manager.Health)
		go func() {
			if err := obs.Start(ctx, cfg.Metrics.Host, cfg.Metrics.Port); err != nil {
				logger.Error("observability server failed", zap.Error(err))
			}
		}()
	}

	sweeper := time.NewTicker(cfg.Sweep.Interval)
	defer sweeper.Stop()
	go func() {
		for {
			select {
			case <-sweeper.C:
				service.SweepExpirations()
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Info("permd started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", zap.String("signal", sig.String()))

	cancel()
	return nil
}
