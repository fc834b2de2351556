package main

import (
	"context"
	"os"
	"os/signal"
	clts "polywatch/clients"
	"polywatch/config"
	"polywatch/internal/app"
	"polywatch/internal/store"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Local development loads from .env; deployments set real env vars.
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Load config from environment variables
	cfg := config.Load()
	if result := cfg.Validate(); !result.Valid {
		for _, e := range result.Errors {
			logger.Error("invalid configuration",
				zap.String("field", e.Field),
				zap.String("message", e.Message),
			)
		}
		logger.Fatal("configuration validation failed")
	}

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, cfg)
	if !clients.Telegram.Enabled() && clients.Broadcast.Count() == 0 {
		logger.Fatal("no delivery transport configured, set TELEGRAM_BOT_TOKEN")
	}

	st, err := openStore(logger, cfg)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(logger, cfg, clients, st)
	runner.Run(ctx)
}

func openStore(logger *zap.Logger, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		logger.Info("using redis store")
		return store.NewRedisStore(logger, cfg.Store.RedisURL, cfg.Store.RedisPassword)
	default:
		logger.Info("using file store", zap.String("path", cfg.Store.FilePath))
		return store.NewFileStore(logger, cfg.Store.FilePath)
	}
}
