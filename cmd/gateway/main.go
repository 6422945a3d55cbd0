package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/config"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/metrics"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/repository"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/server"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/service"
	"github.com/aman-churiwal/intelligent-api-gateway/internal/storage"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load env if it exists
	_ = godotenv.Load()

	defaultPath := os.Getenv("GATEWAY_CONFIG")
	if defaultPath == "" {
		defaultPath = "config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the gateway configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	var redis *storage.RedisClient
	if cfg.Redis.Enabled() {
		redis, err = storage.NewRedis(cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer redis.Close()
		logger.Info("Connected to redis successfully", "addr", cfg.Redis.GetRedisAddr())
	}

	users, closeUsers, err := openUserStore(cfg.Database)
	if err != nil {
		return err
	}
	if closeUsers != nil {
		defer closeUsers()
		logger.Info("User store ready", "driver", cfg.Database.Driver)
	}

	srv, err := server.New(server.Dependencies{
		Config:     cfg,
		ConfigPath: *configPath,
		Redis:      redis,
		Users:      users,
		Metrics:    metrics.New(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Server.WatchConfig {
		watcher, err := config.NewWatcher(*configPath, srv.WatcherConfig(), logger)
		if err != nil {
			return err
		}
		watcher.Start()
		defer watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	for {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil

		case sig := <-signals:
			if sig == syscall.SIGHUP {
				if err := srv.ReloadFromFile(); err != nil {
					logger.Error("Reload failed, keeping current routes", "error", err)
				}
				continue
			}

			logger.Info("Received signal", "signal", sig.String())
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer shutdownCancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			<-errCh

			logger.Info("Server exited")
			return nil
		}
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// openUserStore returns nil when login is not configured.
func openUserStore(cfg config.DatabaseConfig) (service.UserStore, func() error, error) {
	switch cfg.Driver {
	case "":
		return nil, nil, nil

	case config.DriverPostgres:
		db, err := storage.NewPostgres(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.AutoMigrate(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return repository.NewUserRepository(db), db.Close, nil

	case config.DriverSQLite:
		db, err := storage.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewSQLiteUserRepository(db), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}
