package fetcher

import (
	"math"
	"time"
)

// RetryDelay computes the wait before retry attempt n (0-based). It is a
// pure function of the attempt index and an optional Retry-After hint so it
// can be tested with injected time.
//
// Exponential 2^attempt seconds, capped at maxBackoff. A Retry-After hint
// wins when it demands a longer wait.
func RetryDelay(attempt int, retryAfter time.Duration) time.Duration {
	const maxBackoff = 5 * time.Minute

	d := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	if retryAfter > d {
		d = retryAfter
		if d > maxBackoff {
			d = maxBackoff
		}
	}
	return d
}

// Retryable reports whether an HTTP status should be retried. Transport
// errors are always retryable; 4xx except 429 are permanent.
func Retryable(status int) bool {
	if status == 429 {
		return true
	}
	return status >= 500
}
