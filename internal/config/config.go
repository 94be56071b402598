// Package config loads runtime configuration for the Parley chat relay from
// a YAML file, layered under environment variable overrides and defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	MessagesPerSecond float64 `yaml:"messagesPerSecond"`
	Burst             int     `yaml:"burst"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port             string          `yaml:"port"`
	DatabasePath     string          `yaml:"databasePath"`
	LogLevel         string          `yaml:"logLevel"`
	AllowedOrigins   []string        `yaml:"allowedOrigins"`
	MaxMessageSize   int64           `yaml:"maxMessageSize"`
	TokenSecret      string          `yaml:"tokenSecret"`
	TokenTTL         time.Duration   `yaml:"tokenTTL"`
	RoomHistoryLimit int             `yaml:"roomHistoryLimit"`
	RateLimit        RateLimitConfig `yaml:"rateLimit"`
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Port:         ":8080",
		DatabasePath: "parley.db",
		LogLevel:     "info",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:   4096,
		TokenSecret:      "dev-secret-change-in-production",
		TokenTTL:         24 * time.Hour,
		RoomHistoryLimit: 100,
		RateLimit: RateLimitConfig{
			MessagesPerSecond: 5,
			Burst:             10,
		},
	}
}

// Load reads configuration from path, falling back to defaults when the file
// is absent, and applies environment variable overrides on top. An empty path
// skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	sanitize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil && size > 0 {
			cfg.MaxMessageSize = size
		}
	}
	if v := os.Getenv("TOKEN_SECRET"); v != "" {
		cfg.TokenSecret = v
	}
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil && ttl > 0 {
			cfg.TokenTTL = ttl
		}
	}
	if v := os.Getenv("ROOM_HISTORY_LIMIT"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			cfg.RoomHistoryLimit = limit
		}
	}
	if v := os.Getenv("RATE_LIMIT_PER_SECOND"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil && rps > 0 {
			cfg.RateLimit.MessagesPerSecond = rps
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if burst, err := strconv.Atoi(v); err == nil && burst > 0 {
			cfg.RateLimit.Burst = burst
		}
	}
}

func sanitize(cfg *Config) {
	def := Default()
	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.HasPrefix(cfg.Port, ":") && !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = def.DatabasePath
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.TokenSecret == "" {
		cfg.TokenSecret = def.TokenSecret
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.RoomHistoryLimit <= 0 {
		cfg.RoomHistoryLimit = def.RoomHistoryLimit
	}
	if cfg.RateLimit.MessagesPerSecond <= 0 {
		cfg.RateLimit.MessagesPerSecond = def.RateLimit.MessagesPerSecond
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
