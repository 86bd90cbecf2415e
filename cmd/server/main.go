// Package main is the entry point for the Trakit server. It loads
// configuration, connects to MariaDB and (optionally) Redis, applies
// migrations, wires the application, and runs it until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/keyxmakerx/trakit/internal/app"
	"github.com/keyxmakerx/trakit/internal/config"
	"github.com/keyxmakerx/trakit/internal/database"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	log := newLogger(cfg)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting Trakit",
		slog.String("env", cfg.Env),
		slog.Int("port", cfg.Port),
	)

	// --- MariaDB ---
	db, err := database.NewMariaDB(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("connected to MariaDB")

	if err := database.RunMigrations(db, cfg.Database.MigrationsPath, log); err != nil {
		return err
	}

	// --- Redis (optional) ---
	rdb, err := database.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		log.Info("connected to Redis; rate limits are shared")
	} else {
		log.Info("REDIS_URL not set; rate limits are kept in memory")
	}

	application, err := app.New(cfg, db, rdb, log)
	if err != nil {
		return err
	}
	application.RegisterRoutes()
	application.StartBackground(ctx)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- application.Start()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return application.Shutdown(shutdownCtx)
}

// newLogger builds the process logger: text output in development, JSON in
// production, at LOG_LEVEL.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
