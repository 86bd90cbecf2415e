// Package database owns the lifecycle of the MariaDB pool and the optional
// Redis client: open, configure, ping, migrate. Connections are created once
// in main and handed to plugins by dependency injection.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// MariaDB driver, registered for database/sql.
	_ "github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/trakit/internal/config"
)

// connectAttempts bounds the startup wait for MariaDB. Compose brings the
// database up alongside the app, so the first pings routinely fail.
const connectAttempts = 10

// NewMariaDB opens the pool, applies the pool limits from cfg and pings
// until the server answers or ctx is done.
func NewMariaDB(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mariadb connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := pingWithBackoff(ctx, db, log); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// pingWithBackoff pings db with exponential backoff capped at 30s.
func pingWithBackoff(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	backoff := time.Second
	var lastErr error

	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = db.PingContext(pingCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if attempt == connectAttempts {
			break
		}

		log.Warn("mariadb not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("error", lastErr),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for mariadb: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}

	return fmt.Errorf("pinging mariadb after %d attempts: %w", connectAttempts, lastErr)
}
