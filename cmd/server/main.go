package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevinKickass/OpenLockIn/internal/auth"
	"github.com/KevinKickass/OpenLockIn/internal/config"
	"github.com/KevinKickass/OpenLockIn/internal/storage"
	"github.com/KevinKickass/OpenLockIn/internal/system"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "path to the YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Logging.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Config loaded successfully", zap.String("path", *configPath))

	var db *storage.PostgresClient
	if cfg.Database.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err = storage.NewPostgresClient(ctx, cfg.Database)
		if err == nil {
			err = db.EnsureSchema(ctx)
		}
		cancel()
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		logger.Info("Database connected successfully")
	}

	var authService *auth.AuthService
	if cfg.Auth.Enabled {
		if !cfg.Auth.IsProductionReady() {
			logger.Warn("JWT secret is missing or too short, using development secret",
				zap.String("env", cfg.Auth.JWTSecretEnv))
		}
		authService, err = auth.NewAuthService(cfg.Auth, logger)
		if err != nil {
			logger.Fatal("Failed to set up authentication", zap.Error(err))
		}
	}

	lifecycle := system.NewLifecycleManager(cfg, db, authService, system.InstrumentOpener(cfg), logger)

	startCtx, cancel := context.WithTimeout(context.Background(), cfg.Device.Timeout+5*time.Second)
	err = lifecycle.Start(startCtx)
	cancel()
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		lifecycle.Shutdown(shutdownCtx)
		cancel()
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("OpenLockIn started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("OpenLockIn stopped successfully")
}
