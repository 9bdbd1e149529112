// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// RateLimitConfig paces how fast one connection's lines are read. A Burst of
// zero turns pacing off.
type RateLimitConfig struct {
	Burst          int           `toml:"burst" env:"RATE_LIMIT_BURST" validate:"gte=0"`
	RefillInterval time.Duration `toml:"refill_interval" env:"RATE_LIMIT_REFILL_INTERVAL" validate:"gt=0"`
}

// Config holds the service configuration. Zero values are replaced by
// defaults in Sanitize.
type Config struct {
	// Port is the TCP listen address of the line protocol, e.g. ":12345".
	Port string `toml:"port" env:"CHAT_PORT" validate:"required"`
	// HTTPPort is the listen address of the WebSocket gateway. Empty disables it.
	HTTPPort       string        `toml:"http_port" env:"CHAT_HTTP_PORT"`
	LogFile        string        `toml:"log_file" env:"CHAT_LOG_FILE" validate:"required"`
	LogLevel       string        `toml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	AllowedOrigins []string      `toml:"allowed_origins"`
	MaxMessageSize int           `toml:"max_message_size" env:"MAX_MESSAGE_SIZE" validate:"gt=0"`
	SendBufferSize int           `toml:"send_buffer_size" env:"SEND_BUFFER_SIZE" validate:"gt=0"`
	WriteTimeout   time.Duration `toml:"write_timeout" env:"WRITE_TIMEOUT" validate:"gt=0"`
	// ShutdownTimeout bounds how long Shutdown waits for sessions to drain.
	ShutdownTimeout time.Duration   `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	RateLimit       RateLimitConfig `toml:"rate_limit"`
}

// originsEnv carries the comma-separated origin list, which has no direct
// slice mapping in the environment.
type originsEnv struct {
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		Port:     ":12345",
		HTTPPort: ":8080",
		LogFile:  "chat_log.txt",
		LogLevel: "info",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:  4096,
		SendBufferSize:  256,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:          0,
			RefillInterval: time.Second,
		},
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := DefaultConfig()
	return &cfg
}

// LoadConfig layers defaults, the optional TOML file at path, a .env file in
// the working directory and the process environment, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if _, err := toml.Decode(string(data), c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return fmt.Errorf("config env: %w", err)
	}

	var origins originsEnv
	if _, err := env.UnmarshalFromEnviron(&origins); err != nil {
		return fmt.Errorf("config env: %w", err)
	}
	if origins.AllowedOrigins != "" {
		c.AllowedOrigins = parseOrigins(origins.AllowedOrigins)
	}
	return nil
}

// Sanitize replaces unusable values with defaults and normalizes the rest.
func (c *Config) Sanitize() {
	defaults := DefaultConfig()

	if c.Port == "" {
		c.Port = defaults.Port
	}
	if c.LogFile == "" {
		c.LogFile = defaults.LogFile
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = defaults.SendBufferSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if c.RateLimit.Burst < 0 {
		c.RateLimit.Burst = 0
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SessionOptions derives per-session settings.
func (c *Config) SessionOptions() SessionOptions {
	return SessionOptions{
		SendBufferSize: c.SendBufferSize,
		WriteTimeout:   c.WriteTimeout,
		RateLimit:      c.RateLimit,
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
