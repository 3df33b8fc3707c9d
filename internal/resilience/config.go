package resilience

import (
	"time"
)

// FromFetchConfig converts config values to a RetryConfig.
func FromFetchConfig(maxAttempts, initialBackoffMs, postDelayMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if postDelayMs >= 0 {
		cfg.PostDelay = time.Duration(postDelayMs) * time.Millisecond
	}
	return cfg
}
