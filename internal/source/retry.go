package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
)

// RetryConfig configures retry behavior for GitHub API calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// Default: 3
	MaxRetries int

	// InitialBackoff is the initial backoff duration.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 30 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration for GitHub API calls.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// retryGitHubOperation retries a GitHub API operation with exponential
// backoff. Rate-limited responses wait until the reported reset, capped at
// MaxBackoff.
func retryGitHubOperation(ctx context.Context, config *RetryConfig, logger *zap.Logger, operation func() (*github.Response, error)) (*github.Response, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	var lastResp *github.Response
	backoff := config.InitialBackoff
	startTime := time.Now()

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		resp, err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info("GitHub API operation recovered after retries",
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(startTime)),
				)
			}
			return resp, nil
		}

		lastErr = err
		lastResp = resp

		if !isGitHubRetryableError(err, resp) {
			logger.Debug("GitHub API error is not retryable",
				zap.Error(err),
				zap.Int("status_code", getStatusCode(resp)),
			)
			return resp, err
		}

		if attempt == config.MaxRetries {
			break
		}

		if isRateLimitError(resp) {
			backoff = getRateLimitBackoff(resp, config.MaxBackoff)
			logger.Info("GitHub API rate limit hit, adjusting backoff",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", config.MaxRetries+1),
				zap.Duration("backoff", backoff),
			)
		} else {
			logger.Info("Retrying GitHub API operation after transient error",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", config.MaxRetries+1),
				zap.Error(err),
				zap.Int("status_code", getStatusCode(resp)),
				zap.Duration("backoff", backoff),
			)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			nextBackoff := time.Duration(float64(backoff) * config.BackoffMultiplier)
			if nextBackoff > config.MaxBackoff {
				nextBackoff = config.MaxBackoff
			}
			backoff = nextBackoff
		}
	}

	logger.Warn("GitHub API operation failed after all retries exhausted",
		zap.Int("total_attempts", config.MaxRetries+1),
		zap.Duration("total_time", time.Since(startTime)),
		zap.Error(lastErr),
		zap.Int("status_code", getStatusCode(lastResp)),
	)

	return lastResp, fmt.Errorf("GitHub API operation failed after %d retries: %w", config.MaxRetries, lastErr)
}

// isGitHubRetryableError checks if a GitHub API error is retryable.
func isGitHubRetryableError(err error, resp *github.Response) bool {
	if err == nil {
		return false
	}

	if resp != nil && resp.Response != nil {
		statusCode := resp.Response.StatusCode
		switch statusCode {
		case http.StatusTooManyRequests:
			return true
		case http.StatusForbidden:
			// Secondary rate limits come back as 403 with rate headers.
			return resp.Rate.Limit > 0
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound,
			http.StatusConflict, http.StatusUnprocessableEntity:
			return false
		default:
			return statusCode >= 500 && statusCode < 600
		}
	}

	// Network errors, timeouts, etc. are typically retryable.
	return true
}

// isRateLimitError checks if the response indicates a rate limit error.
func isRateLimitError(resp *github.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	if resp.Response.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.Response.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0
}

// getRateLimitBackoff returns the wait until the rate limit resets.
func getRateLimitBackoff(resp *github.Response, maxBackoff time.Duration) time.Duration {
	if resp == nil || (resp.Rate.Limit == 0 && resp.Rate.Remaining == 0) {
		return maxBackoff
	}

	backoff := time.Until(resp.Rate.Reset.Time) + time.Second
	if backoff < time.Second {
		backoff = time.Second
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// getStatusCode safely extracts the HTTP status code from a GitHub response.
func getStatusCode(resp *github.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.Response.StatusCode
	}
	return 0
}
