package imagegen

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/pictora/pictora/types"
)

// RetryConfig holds retry behavior for a client wrapper.
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`    // Additional attempts after the first, default 2
	InitialDelay  time.Duration `yaml:"initial_delay"`  // Base delay before the first retry, default 1s
	MaxDelay      time.Duration `yaml:"max_delay"`      // Delay cap, default 30s
	BackoffFactor float64       `yaml:"backoff_factor"` // >1 enables exponential growth; otherwise delay grows linearly with the attempt number
	RetryableOnly bool          `yaml:"retryable_only"` // Only retry errors marked Retryable
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 1.0,
		RetryableOnly: true,
	}
}

// RetryableClient wraps a Client with bounded retry. Only transient errors
// are retried; validation and client errors surface immediately since
// retrying cannot change the outcome. Each attempt runs with whatever
// per-call timeout the underlying HTTP client carries, so a retry gets a
// fresh budget.
type RetryableClient struct {
	inner  Client
	config RetryConfig
	logger *zap.Logger
}

// NewRetryableClient creates a retrying wrapper around the given client.
func NewRetryableClient(inner Client, config RetryConfig, logger *zap.Logger) *RetryableClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryableClient{
		inner:  inner,
		config: config,
		logger: logger.With(
			zap.String("component", "retry_client"),
			zap.String("format", inner.Format()),
		),
	}
}

// Compile-time interface check.
var _ Client = (*RetryableClient)(nil)

func (c *RetryableClient) Format() string { return c.inner.Format() }

// Generate performs a generation with retry on transient errors.
func (c *RetryableClient) Generate(ctx context.Context, req *Request) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateDelay(attempt)
			c.logger.Debug("retrying generation",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		res, err := c.inner.Generate(ctx, req)
		if err == nil {
			return res, nil
		}

		lastErr = err

		// Non-retryable errors are returned immediately.
		if c.config.RetryableOnly && !types.IsRetryable(err) {
			return nil, err
		}

		c.logger.Warn("generation failed, will retry",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	return nil, fmt.Errorf("generation failed after %d retries: %w", c.config.MaxRetries, lastErr)
}

func (c *RetryableClient) calculateDelay(attempt int) time.Duration {
	var delay float64
	if c.config.BackoffFactor > 1 {
		delay = float64(c.config.InitialDelay) * math.Pow(c.config.BackoffFactor, float64(attempt-1))
	} else {
		delay = float64(c.config.InitialDelay) * float64(attempt)
	}
	if delay > float64(c.config.MaxDelay) {
		delay = float64(c.config.MaxDelay)
	}
	return time.Duration(delay)
}
