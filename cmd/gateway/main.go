package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/server"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.json"
	}

	cfg, err := config.Load(path)
	if err != nil {
		hclog.Default().Error("failed to load config", "path", path, "error", err)
		os.Exit(1)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "admission-gateway",
		Level:      hclog.LevelFromString(cfg.Log.Level),
		JSONFormat: cfg.Log.JSON,
	})

	deps := server.Deps{Config: cfg, Logger: logger}

	if cfg.UsesRedis() {
		redis, err := storage.NewRedis(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redis.Close()

		logger.Info("connected to redis", "addr", cfg.Redis.Addr())
		deps.Redis = redis
	}

	if cfg.Database.URL != "" {
		db, err := storage.NewPostgres(cfg.Database.URL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.AutoMigrate(); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}

		logger.Info("connected to database")
		deps.DB = db
	}

	srv, err := server.New(deps)
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(":" + cfg.Server.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited")
}
