// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

// Config holds all application configuration.
type Config struct {
	Port              string        `env:"PORT" envDefault:"8080"`
	FrontendURL       string        `env:"FRONTEND_URL"`
	DatasetPath       string        `env:"MERGED_DATA_PATH" envDefault:"ref/merged_data.json"`
	DatasetRefresh    string        `env:"DATASET_REFRESH" envDefault:"@every 30s"`
	EmotionClassifier string        `env:"EMOTION_CLASSIFIER" envDefault:"static"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	TranscriptDir     string        `env:"TRANSCRIPT_DIR"`
	StaticDir         string        `env:"STATIC_DIR"`

	Provider  ProviderConfig  `envPrefix:"DEEPSEEK_"`
	SSE       SSEConfig       `envPrefix:"SSE_"`
	RateLimit RateLimitConfig `envPrefix:"CHAT_RATE_"`
}

// ProviderConfig configures the chat-completion provider.
type ProviderConfig struct {
	BaseURL     string        `env:"BASE_URL" envDefault:"https://api.deepseek.com/v1"`
	APIKey      string        `env:"API_KEY"`
	Model       string        `env:"MODEL" envDefault:"deepseek-chat"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"30s"`
	Temperature float32       `env:"TEMPERATURE" envDefault:"0.7"`
	MaxTokens   int           `env:"MAX_TOKENS" envDefault:"512"`
	Fake        bool          `env:"FAKE" envDefault:"false"`

	RetryAttempts   int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay  time.Duration `env:"RETRY_BASE_DELAY" envDefault:"300ms"`
	RetryMultiplier float64       `env:"RETRY_MULTIPLIER" envDefault:"2"`
}

// UseFake reports whether the provider should run offline.
func (p ProviderConfig) UseFake() bool {
	return p.Fake || p.APIKey == ""
}

// SSEConfig controls the server-push channel.
type SSEConfig struct {
	KeepaliveInterval  time.Duration `env:"KEEPALIVE_INTERVAL" envDefault:"10s"`
	MaxRequestBodySize int64         `env:"MAX_REQUEST_BODY" envDefault:"1048576"`
}

// RateLimitConfig throttles chat requests per client.
type RateLimitConfig struct {
	Requests int           `env:"LIMIT" envDefault:"30"`
	Window   time.Duration `env:"WINDOW" envDefault:"1m"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DatasetPath == "" {
		return fmt.Errorf("MERGED_DATA_PATH cannot be empty")
	}
	if !c.Provider.UseFake() && c.Provider.BaseURL == "" {
		return fmt.Errorf("DEEPSEEK_BASE_URL cannot be empty")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("DEEPSEEK_TIMEOUT must be > 0")
	}
	if c.Provider.RetryAttempts < 1 {
		return fmt.Errorf("DEEPSEEK_RETRY_ATTEMPTS must be >= 1")
	}
	if c.Provider.RetryBaseDelay < 0 {
		return fmt.Errorf("DEEPSEEK_RETRY_BASE_DELAY cannot be negative")
	}
	if c.Provider.RetryMultiplier < 1 {
		return fmt.Errorf("DEEPSEEK_RETRY_MULTIPLIER must be >= 1")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE_INTERVAL must be > 0")
	}
	if c.SSE.MaxRequestBodySize <= 0 {
		return fmt.Errorf("SSE_MAX_REQUEST_BODY must be > 0")
	}
	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT cannot be negative")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("CHAT_RATE_WINDOW must be > 0 when rate limiting is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
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
