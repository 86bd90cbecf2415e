// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string `env:"ENV" env-default:"development"`

	// Port is the HTTP listen port.
	Port int `env:"PORT" env-default:"8080"`

	// BaseURL is the public-facing URL, used as the allowed CORS origin.
	BaseURL string `env:"BASE_URL" env-default:"http://localhost:8080"`

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`

	// TrustedProxies lists the CIDRs whose X-Forwarded-For and X-Real-IP
	// headers are believed. Defaults cover loopback and private networks
	// used by container bridges.
	TrustedProxies []string `env:"TRUSTED_PROXIES" env-separator:"," env-default:"127.0.0.0/8,10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,fd00::/8"`

	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Notifications NotificationConfig
	SMTP          SMTPConfig
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so
// container orchestrators can manage each independently.
// If DATABASE_URL is set, it takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format. If no port is
	// specified, 3306 is appended automatically.
	Host     string `env:"DB_HOST" env-default:"localhost:3306"`
	User     string `env:"DB_USER" env-default:"trakit"`
	Password string `env:"DB_PASSWORD" env-default:"trakit"`
	Name     string `env:"DB_NAME" env-default:"trakit"`

	// URL bypasses the individual fields when set.
	URL string `env:"DATABASE_URL"`

	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`

	// MigrationsPath is the directory golang-migrate reads .sql files from.
	MigrationsPath string `env:"MIGRATIONS_PATH" env-default:"db/migrations"`
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// fields using the driver's Config.FormatDSN() to safely handle special
// characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	// Migration files hold more than one statement.
	cfg.MultiStatements = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters. Redis is optional: when URL
// is empty, rate-limit counters are kept in process memory.
type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

// Enabled reports whether a Redis URL was configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// AuthConfig holds signup and verification toggles.
type AuthConfig struct {
	AllowRegistration         bool `env:"ALLOW_REGISTRATION" env-default:"true"`
	EmailVerificationRequired bool `env:"EMAIL_VERIFICATION_REQUIRED" env-default:"false"`
}

// NotificationConfig holds the reminder delivery settings.
type NotificationConfig struct {
	// EncryptionKey is the hex-encoded AES-256 key protecting stored relay
	// URLs. Empty disables relay delivery.
	EncryptionKey string `env:"NOTIFICATION_ENCRYPTION_KEY"`

	VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY"`

	// VAPIDSubject is the administrative contact sent to push services.
	VAPIDSubject string `env:"VAPID_EMAIL"`

	// Schedule is the cron expression driving the reminder tick.
	Schedule string `env:"REMINDER_SCHEDULE" env-default:"* * * * *"`
}

// PushConfigured reports whether the VAPID keypair and contact are present.
func (n NotificationConfig) PushConfigured() bool {
	return n.VAPIDPublicKey != "" && n.VAPIDPrivateKey != "" && n.VAPIDSubject != ""
}

// SMTPConfig holds outbound mail settings for verification codes.
type SMTPConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" env-default:"587"`
	Username string `env:"SMTP_USER"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM"`

	// Encryption is "starttls", "ssl", or "none".
	Encryption string `env:"SMTP_ENCRYPTION" env-default:"starttls"`
}

// Configured reports whether enough SMTP settings exist to send mail.
func (s SMTPConfig) Configured() bool {
	return s.Host != "" && s.From != ""
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if values are present but malformed.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects malformed values. A missing encryption key is allowed
// and degrades relay delivery; a malformed one is a startup error in
// production.
func (c *Config) validate() error {
	switch c.SMTP.Encryption {
	case "starttls", "ssl", "none":
	default:
		return fmt.Errorf("SMTP_ENCRYPTION must be starttls, ssl or none, got %q", c.SMTP.Encryption)
	}

	if key := c.Notifications.EncryptionKey; key != "" && !c.IsDevelopment() {
		if len(key) != 64 {
			return fmt.Errorf("NOTIFICATION_ENCRYPTION_KEY must be 64 hex characters")
		}
		if _, err := hex.DecodeString(key); err != nil {
			return fmt.Errorf("NOTIFICATION_ENCRYPTION_KEY must be hex: %w", err)
		}
	}
	return nil
}

// SecureCookies reports whether cookies get the Secure flag and responses
// carry HSTS. Only development runs over plain HTTP.
func (c *Config) SecureCookies() bool {
	return !c.IsDevelopment()
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}
