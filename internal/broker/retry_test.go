package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := RetryWithConfig(context.Background(), func() error {
		calls++
		return nil
	}, fastRetryConfig())

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesTransientFailure(t *testing.T) {
	calls := 0
	err := RetryWithConfig(context.Background(), func() error {
		calls++
		if calls < 3 {
			return NewGatewayError(ErrCodeRateLimitExceeded, "rate limit exceeded")
		}
		return nil
	}, fastRetryConfig())

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	calls := 0
	rejection := NewGatewayError(ErrCodeInvalidQuantity, "invalid quantity")
	err := RetryWithConfig(context.Background(), func() error {
		calls++
		return rejection
	}, fastRetryConfig())

	assert.Equal(t, 1, calls, "rejections must not be retried")
	var gwErr *GatewayError
	assert.ErrorAs(t, err, &gwErr)
	assert.Equal(t, ErrCodeInvalidQuantity, gwErr.Code)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := RetryWithConfig(context.Background(), func() error {
		calls++
		return NewGatewayError(503, "service unavailable")
	}, fastRetryConfig())

	assert.Error(t, err)
	assert.Equal(t, 4, calls) // initial attempt plus three retries
	assert.Contains(t, err.Error(), "retry exhausted")
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryWithConfig(ctx, func() error {
		return NewGatewayError(503, "service unavailable")
	}, fastRetryConfig())

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewGatewayError(ErrCodeRateLimitExceeded, "slow down")))
	assert.True(t, IsRetryable(NewGatewayError(502, "bad gateway")))
	assert.False(t, IsRetryable(NewGatewayError(ErrCodeInsufficientFunds, "no funds")))
	assert.False(t, IsRetryable(errors.New("plain error")))
}

func TestIsAuthenticationError(t *testing.T) {
	assert.True(t, IsAuthenticationError(NewGatewayError(ErrCodeInvalidAPIKey, "bad key")))
	assert.False(t, IsAuthenticationError(NewGatewayError(ErrCodeMarketClosed, "closed")))
}

func TestWrapAPIError(t *testing.T) {
	assert.NoError(t, WrapAPIError("search", nil))

	wrapped := WrapAPIError("search", errors.New("timeout"))
	assert.Contains(t, wrapped.Error(), "search failed")

	gw := WrapAPIError("cancel", NewGatewayError(ErrCodeMarketClosed, "closed"))
	var gwErr *GatewayError
	assert.ErrorAs(t, gw, &gwErr)
	assert.Contains(t, gwErr.Details, "cancel")
}

func TestParseAPIError(t *testing.T) {
	assert.NoError(t, ParseAPIError(0, "OK"))

	err := ParseAPIError(ErrCodeSymbolNotFound, "symbol not found")
	var gwErr *GatewayError
	assert.ErrorAs(t, err, &gwErr)
	assert.Equal(t, ErrCodeSymbolNotFound, gwErr.Code)
}
