package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"

	"github.com/ashureev/counselsim/internal/config"
	"github.com/ashureev/counselsim/internal/domain"
)

// OpenAIClient talks to any OpenAI-compatible chat-completions endpoint.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	retry       RetryPolicy
	logger      *slog.Logger
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client from provider configuration.
func NewOpenAIClient(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		retry: RetryPolicy{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			Multiplier:  cfg.RetryMultiplier,
		},
		logger: logger,
	}
}

// SetRetryPolicy replaces the retry schedule.
func (c *OpenAIClient) SetRetryPolicy(p RetryPolicy) {
	c.retry = p
}

func (c *OpenAIClient) request(messages []domain.Message, stream bool, opts []Option) openai.ChatCompletionRequest {
	temp, maxTokens := resolveOptions(c.temperature, c.maxTokens, opts)
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: temp,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
}

// Complete sends a non-streaming request with retry.
func (c *OpenAIClient) Complete(ctx context.Context, messages []domain.Message, opts ...Option) (Result, error) {
	req := c.request(messages, false, opts)

	var text string
	err := c.retry.Do(ctx, c.logger, func() error {
		attemptCtx, cancel := c.withTimeout(ctx)
		defer cancel()

		resp, err := c.client.CreateChatCompletion(attemptCtx, req)
		if err != nil {
			if ctx.Err() != nil || !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("response has no choices")
		}
		text = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: chat completion: %w", domain.ErrProvider, err)
	}
	return Result{Text: text}, nil
}

// Stream sends a streaming request and forwards content deltas. A stream
// that stays silent longer than the configured timeout is cancelled.
func (c *OpenAIClient) Stream(ctx context.Context, messages []domain.Message, onFragment FragmentFunc, opts ...Option) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var idle *time.Timer
	if c.timeout > 0 {
		idle = time.AfterFunc(c.timeout, cancel)
		defer idle.Stop()
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(messages, true, opts))
	if err != nil {
		return "", fmt.Errorf("%w: open stream: %w", domain.ErrProvider, err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), fmt.Errorf("%w: read stream: %w", domain.ErrProvider, err)
		}
		if idle != nil {
			idle.Reset(c.timeout)
		}
		for _, choice := range resp.Choices {
			piece := choice.Delta.Content
			if piece == "" {
				continue
			}
			b.WriteString(piece)
			if onFragment != nil {
				if err := onFragment(piece); err != nil {
					return b.String(), err
				}
			}
		}
	}
}

func (c *OpenAIClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// retryable reports whether an upstream failure is worth another attempt.
// Client errors are final except request timeout and rate limiting.
func retryable(err error) bool {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status >= 400 && status < 500 {
		return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
	}
	return true
}
