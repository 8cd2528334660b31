package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThresholdAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          20 * time.Millisecond,
	})
	ctx := context.Background()
	boom := fmt.Errorf("backend down")

	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, func(ctx context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
	}
	require.Equal(t, StateOpen, cb.State())

	// While open, calls are rejected without invoking the function.
	invoked := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	require.Error(t, err)
	require.True(t, IsDegraded(err))
	require.False(t, invoked)

	// After the cooldown the breaker half-opens and a success closes it.
	time.Sleep(25 * time.Millisecond)
	err = cb.Execute(ctx, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})
	ctx := context.Background()
	boom := fmt.Errorf("still down")

	require.Error(t, cb.Execute(ctx, func(ctx context.Context) error { return boom }))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	require.Error(t, cb.Execute(ctx, func(ctx context.Context) error { return boom }))
	require.Equal(t, StateOpen, cb.State())
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), FixedRetryConfig(3, time.Millisecond), func(ctx context.Context) error {
		calls++
		return NewPermanentError(fmt.Errorf("bad request"), "")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryRecoversFromTransientError(t *testing.T) {
	calls := 0
	result, err := RetryWithResult(context.Background(), FixedRetryConfig(3, time.Millisecond), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(fmt.Errorf("429 too many requests"), "")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.Equal(t, 3, calls)
}

func TestErrorClassification(t *testing.T) {
	require.True(t, IsTransient(NewTransientError(fmt.Errorf("x"), "")))
	require.True(t, IsTransient(fmt.Errorf("API error 503: service unavailable")))
	require.True(t, IsTransient(fmt.Errorf("context deadline exceeded")))
	require.False(t, IsTransient(NewPermanentError(fmt.Errorf("x"), "")))
	require.False(t, IsTransient(fmt.Errorf("API error 401: unauthorized")))

	require.Equal(t, ErrorTypeDegraded, GetErrorType(NewDegradedError(fmt.Errorf("x"), "", "fallback")))
	require.Equal(t, ErrorTypePermanent, GetErrorType(fmt.Errorf("unknown oddity")))
}
