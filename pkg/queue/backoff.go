package queue

import (
	"math"
	"math/rand"
	"time"
)

const (
	// baseRetryDelay is the delay before the second attempt.
	baseRetryDelay = time.Second

	// maxRetryDelay caps the exponential growth.
	maxRetryDelay = 30 * time.Second
)

// retryDelay computes the backoff before the (n+1)th attempt, where n is the
// retry count prior to incrementing: min(1s * 2^n, 30s). A non-zero jitter
// fraction randomizes the result by ±fraction to desynchronize retries
// across client instances recovering from the same outage.
func retryDelay(retryCount int, jitter float64) time.Duration {
	d := float64(baseRetryDelay) * math.Pow(2, float64(retryCount))
	if d > float64(maxRetryDelay) {
		d = float64(maxRetryDelay)
	}
	if jitter > 0 {
		d += d * jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
