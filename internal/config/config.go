// Package config loads the MADLAB server configuration. Precedence is
// code defaults, then an optional YAML file, then environment variable
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the root server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string `yaml:"host" env:"MADLAB_HOST"`
	Port            int    `yaml:"port" env:"MADLAB_PORT"`
	ReadTimeoutSec  int    `yaml:"read_timeout" env:"MADLAB_READ_TIMEOUT"`
	WriteTimeoutSec int    `yaml:"write_timeout" env:"MADLAB_WRITE_TIMEOUT"`
}

// DatabaseConfig configures the relational store. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	Driver             string `yaml:"driver" env:"MADLAB_DB_DRIVER"`
	DSN                string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns       int    `yaml:"max_open_conns" env:"MADLAB_DB_MAX_OPEN"`
	MaxIdleConns       int    `yaml:"max_idle_conns" env:"MADLAB_DB_MAX_IDLE"`
	ConnMaxLifetimeSec int    `yaml:"conn_max_lifetime" env:"MADLAB_DB_CONN_LIFETIME"`
	SkipMigrate        bool   `yaml:"skip_migrate" env:"MADLAB_DB_SKIP_MIGRATE"`
}

// RedisConfig configures the optional task list cache. An empty address
// disables caching.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"MADLAB_REDIS_ADDR"`
	Password string `yaml:"password" env:"MADLAB_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"MADLAB_REDIS_DB"`
	TTLSec   int    `yaml:"ttl" env:"MADLAB_REDIS_TTL"`
}

// AuthConfig configures request authentication. An empty secret
// disables authentication, which is only sensible in development.
type AuthConfig struct {
	Secret string `yaml:"secret" env:"MADLAB_AUTH_SECRET"`
	// Tokens are static bearer tokens for machine clients, as
	// "name:token" pairs.
	Tokens      []string `yaml:"tokens" env:"MADLAB_AUTH_TOKENS"`
	TokenTTLMin int      `yaml:"token_ttl" env:"MADLAB_AUTH_TOKEN_TTL"`
}

// StaticTokens resolves the configured token pairs into a token to
// service name map. Entries without a name use "service".
func (a AuthConfig) StaticTokens() map[string]string {
	out := make(map[string]string, len(a.Tokens))
	for _, entry := range a.Tokens {
		name, token, found := strings.Cut(entry, ":")
		if !found {
			token, name = name, "service"
		}
		token = strings.TrimSpace(token)
		if token != "" {
			out[token] = strings.TrimSpace(name)
		}
	}
	return out
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"MADLAB_CORS_ORIGINS"`
}

// RateLimitConfig bounds per-client request rates. Zero disables
// limiting.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" env:"MADLAB_RATE_RPS"`
	Burst             int `yaml:"burst" env:"MADLAB_RATE_BURST"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"MADLAB_LOG_LEVEL"`
	Format     string `yaml:"format" env:"MADLAB_LOG_FORMAT"`
	Output     string `yaml:"output" env:"MADLAB_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"MADLAB_LOG_FILE_PREFIX"`
}

// SweeperConfig configures the overdue task sweeper.
type SweeperConfig struct {
	// Schedule is a cron expression; @every syntax is accepted.
	Schedule string `yaml:"schedule" env:"MADLAB_SWEEP_SCHEDULE"`
	Disabled bool   `yaml:"disabled" env:"MADLAB_SWEEP_DISABLED"`
}

// Default returns the configuration used when nothing is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 30,
		},
		Database: DatabaseConfig{
			Driver:             "postgres",
			MaxOpenConns:       20,
			MaxIdleConns:       5,
			ConnMaxLifetimeSec: 300,
		},
		Redis:     RedisConfig{TTLSec: 30},
		Auth:      AuthConfig{TokenTTLMin: 720},
		CORS:      CORSConfig{AllowedOrigins: []string{"*"}},
		RateLimit: RateLimitConfig{RequestsPerSecond: 25, Burst: 50},
		Logging:   LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Sweeper:   SweeperConfig{Schedule: "@every 10m"},
	}
}

// Load reads configuration from the path in MADLAB_CONFIG (when set),
// then applies environment overrides.
func Load() (*Config, error) {
	return LoadFromPath(os.Getenv("MADLAB_CONFIG"))
}

// LoadFromPath reads configuration from the given YAML file, then
// applies environment overrides. An empty path skips the file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Database.DSN != "" && strings.TrimSpace(c.Database.Driver) == "" {
		return fmt.Errorf("database driver is required when dsn is set")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values must be non-negative")
	}
	if !c.Sweeper.Disabled && strings.TrimSpace(c.Sweeper.Schedule) == "" {
		return fmt.Errorf("sweeper schedule is required when enabled")
	}
	return nil
}
