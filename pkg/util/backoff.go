package util

import "time"

// Backoff computes the exponential retry delay base * 2^attempt, capped at
// max. attempt is the number of retries already consumed.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
