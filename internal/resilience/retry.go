package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default: 2s.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration. Default: 30s.
	MaxBackoff time.Duration

	// Multiplier scales the backoff after each attempt. Default: 2.0.
	Multiplier float64

	// JitterFraction adds random jitter as a fraction of the computed delay.
	// Default: 0 (deterministic doubling).
	JitterFraction float64

	// PostDelay is slept after a successful call to stay polite with
	// upstream providers. Zero disables it.
	PostDelay time.Duration

	// OnRetry is called before each retry sleep with attempt number and error.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the provider call policy: 3 attempts, 2s
// initial backoff doubling, 500ms pause after success.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		PostDelay:      500 * time.Millisecond,
	}
}

// Outcome describes how a Call ended.
type Outcome int

const (
	// OutcomeOK means the operation returned a value.
	OutcomeOK Outcome = iota
	// OutcomeNotFound means a terminal error short-circuited the call.
	OutcomeNotFound
	// OutcomeExhausted means every attempt failed.
	OutcomeExhausted
	// OutcomeCanceled means the context ended the call.
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is the value and diagnosis of a Call.
type Result[T any] struct {
	Value    T
	Outcome  Outcome
	Attempts int
	Err      error
}

// OK reports whether the call produced a value.
func (r Result[T]) OK() bool {
	return r.Outcome == OutcomeOK
}

// Call runs fn with bounded retries and never fails: on a terminal error or
// exhaustion the zero value is returned with the last error recorded in the
// Result. Terminal errors stop immediately; transient and unclassified
// errors are retried.
func Call[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) Result[T] {
	cfg = applyDefaults(cfg)
	log := zap.L().With(zap.String("component", "resilience.call"))

	var res Result[T]
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt + 1
		val, err := fn(ctx)
		if err == nil {
			res.Value = val
			res.Outcome = OutcomeOK
			res.Err = nil
			if cfg.PostDelay > 0 {
				sleep(ctx, cfg.PostDelay)
			}
			return res
		}
		res.Err = err

		if ctx.Err() != nil {
			res.Outcome = OutcomeCanceled
			return res
		}

		class := Classify(err)
		if class == ClassTerminal {
			log.Debug("terminal error, not retrying", zap.Error(err))
			res.Outcome = OutcomeNotFound
			return res
		}
		if class == ClassUnknown {
			log.Warn("unclassified error", zap.Int("attempt", attempt+1), zap.Error(err))
		}

		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}

		if !sleep(ctx, computeBackoff(attempt, cfg)) {
			res.Outcome = OutcomeCanceled
			return res
		}
	}

	res.Outcome = OutcomeExhausted
	return res
}

// Do executes fn with retry logic according to cfg, retrying only on
// transient errors. Context cancellation stops retries immediately.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = applyDefaults(cfg)

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(lastErr) {
			return lastErr
		}
		if attempt >= cfg.MaxAttempts-1 {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr)
		}
		if !sleep(ctx, computeBackoff(attempt, cfg)) {
			return lastErr
		}
	}
	return lastErr
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
		return true
	}
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

func computeBackoff(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}

	if cfg.JitterFraction > 0 {
		jitterRange := delay * cfg.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(source, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying provider call",
			zap.String("source", source),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
