package infra

import (
	"time"
)

const (
	// Stream reconnect policy
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxRetries = 5
)

// CalculateBackoff returns the linear reconnect delay for the given attempt number.
// Logic: baseDelay * attempt, so attempts 1, 2, 3 wait 1s, 2s, 3s with the default base.
// If attempt is less than 1, it returns baseDelay.
func CalculateBackoff(baseDelay time.Duration, attempt int) time.Duration {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if attempt < 1 {
		return baseDelay
	}
	return baseDelay * time.Duration(attempt)
}
