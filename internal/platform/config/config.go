package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const maxSnapshotLimit = 1000

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	NotifyChannel  string `env:"NOTIFY_CHANNEL" default:"order_changes"`
	OrdersTable    string `env:"ORDERS_TABLE" default:"orders"`
	SnapshotLimit  int    `env:"SNAPSHOT_LIMIT" default:"200"`
	BootstrapLimit int    `env:"BOOTSTRAP_LIMIT" default:"100"`
	RunMigrations  bool   `env:"RUN_MIGRATIONS" default:"true"`

	PingInterval time.Duration `env:"PING_INTERVAL" default:"30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" default:"5s"`
	SendBuffer   int           `env:"SEND_BUFFER" default:"256"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	AcceptRate              float64 `env:"ACCEPT_RATE" default:"50"`
	AcceptBurst             int     `env:"ACCEPT_BURST" default:"100"`
	AllowedOrigins          string  `env:"ALLOWED_ORIGINS"`

	OrdersRate  float64 `env:"ORDERS_RATE" default:"10"`
	OrdersBurst int     `env:"ORDERS_BURST" default:"20"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// IsDevelopment reports whether APP_ENV selects development behaviour.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// Origins splits ALLOWED_ORIGINS on commas, dropping blanks.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if cfg.NotifyChannel == "" {
		return errors.New("NOTIFY_CHANNEL must not be empty")
	}
	if cfg.OrdersTable == "" {
		return errors.New("ORDERS_TABLE must not be empty")
	}

	if cfg.SnapshotLimit < 1 || cfg.SnapshotLimit > maxSnapshotLimit {
		return fmt.Errorf("SNAPSHOT_LIMIT must be between 1 and %d, got %d", maxSnapshotLimit, cfg.SnapshotLimit)
	}
	if cfg.BootstrapLimit < 0 || cfg.BootstrapLimit > maxSnapshotLimit {
		return fmt.Errorf("BOOTSTRAP_LIMIT must be between 0 and %d, got %d", maxSnapshotLimit, cfg.BootstrapLimit)
	}
	if cfg.PingInterval < time.Second {
		return fmt.Errorf("PING_INTERVAL must be at least 1s, got %s", cfg.PingInterval)
	}
	if cfg.WriteTimeout <= 0 {
		return errors.New("WRITE_TIMEOUT must be positive")
	}
	if cfg.SendBuffer < 1 {
		return fmt.Errorf("SEND_BUFFER must be positive, got %d", cfg.SendBuffer)
	}
	if cfg.AcceptRate > 0 && cfg.AcceptBurst < 1 {
		return errors.New("ACCEPT_BURST must be positive when ACCEPT_RATE is set")
	}
	if cfg.OrdersRate > 0 && cfg.OrdersBurst < 1 {
		return errors.New("ORDERS_BURST must be positive when ORDERS_RATE is set")
	}

	if cfg.AppEnv == "production" {
		if err := validateProductionSSL(cfg.DatabaseURL); err != nil {
			return err
		}
	}

	return nil
}

func validateProductionSSL(databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}

	mode := strings.ToLower(u.Query().Get("sslmode"))
	if mode == "disable" || mode == "allow" {
		return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
	}
	return nil
}
