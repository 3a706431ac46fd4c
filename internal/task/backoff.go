package task

import (
	"math"
	"time"
)

// backoffDelay returns the wait before the next attempt of a task that has
// failed attempt times. The first retry waits MinBackoff; each further
// failure doubles the delay until MaxDoublings doublings have been applied,
// and the result never leaves [MinBackoff, MaxBackoff].
func backoffDelay(rc RetryConfig, attempt int) time.Duration {
	doublings := attempt - 1
	if doublings < 0 {
		doublings = 0
	}
	if doublings > rc.MaxDoublings {
		doublings = rc.MaxDoublings
	}

	delay := float64(rc.MinBackoff) * math.Pow(2, float64(doublings))
	if delay >= float64(rc.MaxBackoff) {
		return rc.MaxBackoff
	}

	d := time.Duration(delay)
	if d < rc.MinBackoff {
		return rc.MinBackoff
	}
	return d
}
