// Package config loads server settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/msomdec/minddump/internal/database"
)

// Config holds all server settings.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port               string        `yaml:"port"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
	ShutdownTimeout    time.Duration `yaml:"-"`
}

// DatabaseConfig configures the note store.
type DatabaseConfig struct {
	Path   string `yaml:"path"`
	Buffer int    `yaml:"buffer"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RateLimitConfig configures the write limiter.
type RateLimitConfig struct {
	Rate  float64 `yaml:"rate"`
	Burst float64 `yaml:"burst"`
}

const defaultShutdownTimeout = 5 * time.Second

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               "8080",
			ShutdownTimeoutRaw: "5s",
		},
		Database: DatabaseConfig{
			Path:   database.DefaultPath,
			Buffer: 64,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			Rate:  5,
			Burst: 20,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or "" when
// unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = envOrDefault("PORT", cfg.Server.Port)
	cfg.Database.Path = envOrDefault("DATABASE_PATH", cfg.Database.Path)
	cfg.Logging.Level = envOrDefault("LOG_LEVEL", cfg.Logging.Level)
}

func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseDurations(cfg *Config) error {
	if cfg.Server.ShutdownTimeoutRaw == "" {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
		return nil
	}
	d, err := time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
	if err != nil {
		return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
	}
	cfg.Server.ShutdownTimeout = d
	return nil
}

// Validate checks that the settings are usable.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("server.port %q is not a valid port", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.Buffer < 0 {
		return fmt.Errorf("database.buffer must not be negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit needs rate >= 0 and burst >= 1")
	}
	return nil
}

// Level parses Logging.Level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Logging.Level))); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Server.Port
}
