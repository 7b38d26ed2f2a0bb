package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig. A negative
// initialBackoffMs disables waiting between attempts.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if initialBackoffMs < 0 {
		cfg.InitialBackoff = -1
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// FromFailureLimit converts the configured failure limit to a
// FailureBreakerConfig.
func FromFailureLimit(failureLimit int) FailureBreakerConfig {
	cfg := DefaultFailureBreakerConfig()
	if failureLimit > 0 {
		cfg.FailureLimit = failureLimit
	}
	return cfg
}
