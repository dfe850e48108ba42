package llm

import "time"

// RetryConfig bounds the client's retry loop for transient failures.
type RetryConfig struct {
	// MaxAttempts caps how often a single completion is tried.
	MaxAttempts int

	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration

	// BackoffMultiplier grows the delay on each further retry.
	BackoffMultiplier float64

	// MaxBackoff bounds the grown delay.
	MaxBackoff time.Duration
}

// DefaultRetryConfig suits interactive planner and responder calls: a few
// quick retries, never more than half a minute of waiting in total backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}
