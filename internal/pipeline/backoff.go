package pipeline

import "time"

const (
	backoffBase     = 10 * time.Second
	backoffCeiling  = 30 * time.Minute
	backoffMaxShift = 10
)

// Backoff returns the delay before a rate-limited job becomes leaseable
// again: 10s doubled per prior retry, capped at 30 minutes.
func Backoff(retryCount int) time.Duration {
	n := retryCount
	if n < 0 {
		n = 0
	}
	if n > backoffMaxShift {
		n = backoffMaxShift
	}
	d := backoffBase * time.Duration(1<<uint(n))
	if d > backoffCeiling {
		return backoffCeiling
	}
	return d
}
