package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestCall_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	res := Call(context.Background(), fastConfig(), func(_ context.Context) (string, error) {
		calls++
		return "rows", nil
	})
	assert.True(t, res.OK())
	assert.Equal(t, "rows", res.Value)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Attempts)
}

func TestCall_SuccessAfterTransient(t *testing.T) {
	var calls int
	res := Call(context.Background(), fastConfig(), func(_ context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewTransientError(errors.New("connection reset by peer"), 0)
		}
		return 42, nil
	})
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, 42, res.Value)
	assert.Equal(t, 3, calls)
}

func TestCall_ExhaustedReturnsZeroValue(t *testing.T) {
	var calls int
	res := Call(context.Background(), fastConfig(), func(_ context.Context) ([]int, error) {
		calls++
		return nil, NewTransientError(errors.New("503"), 503)
	})
	assert.Equal(t, OutcomeExhausted, res.Outcome)
	assert.Nil(t, res.Value)
	assert.Error(t, res.Err)
	assert.Equal(t, 3, calls)
}

func TestCall_UnclassifiedErrorsAreRetried(t *testing.T) {
	var calls int
	res := Call(context.Background(), fastConfig(), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("weird upstream behaviour")
	})
	assert.Equal(t, OutcomeExhausted, res.Outcome)
	assert.Equal(t, 3, calls)
}

func TestCall_TerminalShortCircuits(t *testing.T) {
	var calls int
	res := Call(context.Background(), fastConfig(), func(_ context.Context) (int, error) {
		calls++
		return 0, NewNotFoundError(errors.New("bond 000000"))
	})
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Equal(t, 1, calls)
	assert.False(t, res.OK())
}

func TestCall_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, _ error) {
		attempts = append(attempts, attempt)
	}
	Call(context.Background(), cfg, func(_ context.Context) (int, error) {
		return 0, NewTransientError(errors.New("timeout"), 504)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestCall_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.InitialBackoff = time.Second

	var calls int
	res := Call(ctx, cfg, func(_ context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewTransientError(errors.New("reset"), 0)
	})
	assert.Equal(t, OutcomeCanceled, res.Outcome)
	assert.Equal(t, 1, calls)
}

func TestCall_PostDelay(t *testing.T) {
	cfg := fastConfig()
	cfg.PostDelay = 20 * time.Millisecond

	start := time.Now()
	res := Call(context.Background(), cfg, func(_ context.Context) (int, error) {
		return 1, nil
	})
	require.True(t, res.OK())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDo_RetriesTransientOnly(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(), func(_ context.Context) error {
		calls++
		return errors.New("permanent error: bad request")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)

	calls = 0
	err = Do(context.Background(), fastConfig(), func(_ context.Context) error {
		calls++
		if calls < 2 {
			return NewTransientError(errors.New("busy"), 503)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestComputeBackoff_Doubling(t *testing.T) {
	cfg := applyDefaults(RetryConfig{InitialBackoff: 2 * time.Second})
	assert.Equal(t, 2*time.Second, computeBackoff(0, cfg))
	assert.Equal(t, 4*time.Second, computeBackoff(1, cfg))
	assert.Equal(t, 8*time.Second, computeBackoff(2, cfg))
	assert.Equal(t, 30*time.Second, computeBackoff(10, cfg))
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.InitialBackoff)
	assert.Equal(t, 500*time.Millisecond, cfg.PostDelay)
}

func TestFromFetchConfig(t *testing.T) {
	cfg := FromFetchConfig(5, 100, 0)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, time.Duration(0), cfg.PostDelay)

	cfg = FromFetchConfig(0, 0, -1)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.PostDelay)
}
