package mempool

import (
	"time"
)

// RequestHistoryUpdaterFunc computes the next attempt count and retry
// interval for a part request about to be dispatched. Returning false rejects
// the update, leaving the request untouched.
type RequestHistoryUpdaterFunc func(attempts uint64, retryAfter time.Duration) (uint64, time.Duration, bool)

// ExponentialUpdater increments the attempt count and multiplies the retry
// interval, clamped to [minInterval, maxInterval]. The multiplier must be
// greater than 1 so intervals actually grow.
func ExponentialUpdater(multiplier float64, maxInterval time.Duration, minInterval time.Duration) RequestHistoryUpdaterFunc {
	return func(attempts uint64, retryAfter time.Duration) (uint64, time.Duration, bool) {
		if multiplier <= 1 {
			return attempts, retryAfter, false
		}

		retryAfter = time.Duration(float64(retryAfter) * multiplier)
		if retryAfter < minInterval {
			retryAfter = minInterval
		}
		if retryAfter > maxInterval {
			retryAfter = maxInterval
		}

		return attempts + 1, retryAfter, true
	}
}

// IncrementalAttemptUpdater increments the attempt count and keeps the retry
// interval unchanged, making the request immediately due again.
func IncrementalAttemptUpdater() RequestHistoryUpdaterFunc {
	return func(attempts uint64, retryAfter time.Duration) (uint64, time.Duration, bool) {
		return attempts + 1, retryAfter, true
	}
}
