// Package config loads and validates the server configuration from the
// environment. A local .env file is honoured in development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const minSecretLength = 16

type Config struct {
	AppEnv    string `env:"APP_ENV" envDefault:"development"`
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// HS256 secret used to verify client credentials.
	JWTSecret string `env:"JWT_SECRET,required"`

	// Origins allowed to open WebSocket connections. Empty means same-host only.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	// Per-client message rate limiting (sliding window).
	RateLimitMaxRequests int           `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"100"`
	RateLimitWindow      time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`

	// Inactive session reaping.
	ReapInterval         time.Duration `env:"REAP_INTERVAL" envDefault:"30s"`
	SessionIdleThreshold time.Duration `env:"SESSION_IDLE_THRESHOLD" envDefault:"5m"`

	// Connection admission limits.
	MaxConnections      int64   `env:"MAX_CONNECTIONS" envDefault:"10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" envDefault:"20"`
	ConnectionRate      float64 `env:"CONNECTION_RATE" envDefault:"10"`
	ConnectionBurst     int     `env:"CONNECTION_BURST" envDefault:"10"`

	// How long verified credentials stay cached.
	AuthCacheTTL time.Duration `env:"AUTH_CACHE_TTL" envDefault:"1m"`
}

func Load() (*Config, error) {
	// Best effort: absence of a .env file is not an error.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.JWTSecret) < minSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minSecretLength)
	}
	if c.RateLimitMaxRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be positive, got %d", c.RateLimitMaxRequests)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimitWindow)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("REAP_INTERVAL must be positive, got %s", c.ReapInterval)
	}
	if c.SessionIdleThreshold <= 0 {
		return fmt.Errorf("SESSION_IDLE_THRESHOLD must be positive, got %s", c.SessionIdleThreshold)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS must be positive, got %d", c.MaxConnections)
	}
	if c.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_IP must be positive, got %d", c.MaxConnectionsPerIP)
	}
	return nil
}
