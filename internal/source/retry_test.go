package source

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func statusResp(code int) *github.Response {
	return &github.Response{Response: &http.Response{StatusCode: code}}
}

func TestRetryConfig_ApplyDefaults(t *testing.T) {
	t.Run("applies all defaults when empty", func(t *testing.T) {
		config := &RetryConfig{}
		config.ApplyDefaults()

		assert.Equal(t, 3, config.MaxRetries)
		assert.Equal(t, time.Second, config.InitialBackoff)
		assert.Equal(t, 30*time.Second, config.MaxBackoff)
		assert.Equal(t, 2.0, config.BackoffMultiplier)
	})

	t.Run("preserves non-zero values", func(t *testing.T) {
		config := &RetryConfig{MaxRetries: 5, InitialBackoff: 2 * time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 3}
		config.ApplyDefaults()

		assert.Equal(t, 5, config.MaxRetries)
		assert.Equal(t, 2*time.Second, config.InitialBackoff)
		assert.Equal(t, time.Minute, config.MaxBackoff)
		assert.Equal(t, 3.0, config.BackoffMultiplier)
	})
}

func TestRetryGitHubOperation_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	resp, err := retryGitHubOperation(context.Background(), fastRetry(3), nil, func() (*github.Response, error) {
		callCount++
		if callCount < 3 {
			return statusResp(503), errors.New("service unavailable")
		}
		return statusResp(200), nil
	})

	require.NoError(t, err)
	assert.Equal(t, 200, resp.Response.StatusCode)
	assert.Equal(t, 3, callCount)
}

func TestRetryGitHubOperation_NonRetryableError(t *testing.T) {
	callCount := 0
	resp, err := retryGitHubOperation(context.Background(), fastRetry(3), nil, func() (*github.Response, error) {
		callCount++
		return statusResp(404), errors.New("not found")
	})

	require.Error(t, err)
	assert.Equal(t, 404, resp.Response.StatusCode)
	assert.Equal(t, 1, callCount, "should not retry non-retryable errors")
}

func TestRetryGitHubOperation_ExhaustsRetries(t *testing.T) {
	callCount := 0
	resp, err := retryGitHubOperation(context.Background(), fastRetry(2), nil, func() (*github.Response, error) {
		callCount++
		return statusResp(503), errors.New("service unavailable")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 2 retries")
	assert.Equal(t, 503, resp.Response.StatusCode)
	assert.Equal(t, 3, callCount, "should try once + 2 retries = 3 total")
}

func TestRetryGitHubOperation_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &RetryConfig{MaxRetries: 3, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}

	callCount := 0
	resp, err := retryGitHubOperation(ctx, config, nil, func() (*github.Response, error) {
		callCount++
		cancel()
		return statusResp(503), errors.New("service unavailable")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation canceled")
	assert.Nil(t, resp)
	assert.Equal(t, 1, callCount)
}

func TestIsGitHubRetryableError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		hasRate    bool
		want       bool
	}{
		{"nil error", nil, 200, false, false},
		{"429 rate limit", errors.New("rate limit"), 429, false, true},
		{"500", errors.New("internal"), 500, false, true},
		{"503", errors.New("unavailable"), 503, false, true},
		{"400", errors.New("bad request"), 400, false, false},
		{"401", errors.New("unauthorized"), 401, false, false},
		{"403 without rate info", errors.New("forbidden"), 403, false, false},
		{"403 with rate info", errors.New("forbidden"), 403, true, true},
		{"404", errors.New("not found"), 404, false, false},
		{"409 empty repository", errors.New("conflict"), 409, false, false},
		{"network error", errors.New("connection reset"), 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *github.Response
			if tt.statusCode > 0 {
				resp = statusResp(tt.statusCode)
				if tt.hasRate {
					resp.Rate = github.Rate{Limit: 5000, Remaining: 0}
				}
			}
			assert.Equal(t, tt.want, isGitHubRetryableError(tt.err, resp))
		})
	}
}

func TestGetRateLimitBackoff(t *testing.T) {
	maxBackoff := 30 * time.Second

	assert.Equal(t, maxBackoff, getRateLimitBackoff(nil, maxBackoff))

	resp := statusResp(429)
	resp.Rate = github.Rate{Limit: 5000, Reset: github.Timestamp{Time: time.Now().Add(5 * time.Second)}}
	got := getRateLimitBackoff(resp, maxBackoff)
	assert.Greater(t, got, 4*time.Second)
	assert.LessOrEqual(t, got, 6*time.Second)

	resp.Rate.Reset = github.Timestamp{Time: time.Now().Add(time.Hour)}
	assert.Equal(t, maxBackoff, getRateLimitBackoff(resp, maxBackoff))

	resp.Rate.Reset = github.Timestamp{Time: time.Now().Add(-time.Hour)}
	assert.Equal(t, time.Second, getRateLimitBackoff(resp, maxBackoff))
}
