// Package provider wraps the remote chat-completion API.
package provider

import (
	"context"
	"log/slog"

	"github.com/ashureev/counselsim/internal/config"
	"github.com/ashureev/counselsim/internal/domain"
)

// FragmentFunc receives streamed text in arrival order. Returning an error
// aborts the stream.
type FragmentFunc func(fragment string) error

// Result is a single-shot completion.
type Result struct {
	Text string
}

// Client defines the two provider entry points.
type Client interface {
	// Complete returns the full response, retrying transient failures.
	Complete(ctx context.Context, messages []domain.Message, opts ...Option) (Result, error)

	// Stream delivers fragments to onFragment as they arrive and returns the
	// concatenated text. It never retries.
	Stream(ctx context.Context, messages []domain.Message, onFragment FragmentFunc, opts ...Option) (string, error)
}

// Options are per-call overrides.
type Options struct {
	Temperature *float32
	MaxTokens   *int
}

// Option customizes a single call.
type Option func(*Options)

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float32) Option {
	return func(o *Options) { o.Temperature = &t }
}

// WithMaxTokens overrides the maximum output length.
func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = &n }
}

func resolveOptions(defaultTemp float32, defaultMax int, opts []Option) (float32, int) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	temp, maxTokens := defaultTemp, defaultMax
	if o.Temperature != nil {
		temp = *o.Temperature
	}
	if o.MaxTokens != nil {
		maxTokens = *o.MaxTokens
	}
	return temp, maxTokens
}

// New returns the offline Fake when no credential is configured, otherwise an
// OpenAI-compatible client.
func New(cfg config.ProviderConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UseFake() {
		logger.Info("Provider running in offline mode")
		return NewFake()
	}
	logger.Info("Provider configured", "base_url", cfg.BaseURL, "model", cfg.Model)
	return NewOpenAIClient(cfg, logger)
}
