package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"collectopdf/internal/app"
	u "collectopdf/internal/utils"
)

func main() {
	cfg := u.LoadConfig()
	u.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)
	u.SetLogLevel(cfg.Logger.Level)

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Cache.RedisHost,
		DB:   cfg.Cache.RateLimitDB,
	})

	idleConnsClosed := make(chan struct{})

	// API keys are optional; without a DSN every request is anonymous.
	if cfg.Auth.PostgresDSN != "" {
		if err := u.LoadTokensFromPostgres(cfg.Auth.PostgresDSN); err != nil {
			u.Error("Failed to load API tokens", "error", err)
		}
		go u.RefreshTokensPeriodically(cfg.Auth.PostgresDSN, cfg.Auth.ReloadInterval, idleConnsClosed)
	}

	app := app.SetupApp(cfg, rdb)

	startServer(app, cfg, idleConnsClosed)
	<-idleConnsClosed
}

// startServer starts the Fiber app and listens for shutdown signals
func startServer(app *fiber.App, cfg u.Config, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			u.Error("Server error", "error", err)
		}
	}()

	// Listen for OS termination signals
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	<-sigint

	u.Warn("Shutdown signal received, closing server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		u.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	u.Info("Server stopped cleanly")
}
