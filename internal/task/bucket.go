package task

import "time"

// tokenEpsilon absorbs float rounding from fractional per-tick rates.
const tokenEpsilon = 1e-9

// tokenBucket bounds how many dispatches a queue may start. It holds at most
// capacity tokens and gains at most perTick tokens on each refill. It is not
// safe for concurrent use; TaskQueue guards it with its own mutex.
type tokenBucket struct {
	tokens     float64
	capacity   float64
	perTick    float64
	lastRefill time.Time
}

// newTokenBucket returns a full bucket. ratePerSecond is scaled to the refill
// interval so that the sustained rate does not depend on the tick length.
func newTokenBucket(capacity int, ratePerSecond float64, interval time.Duration, now time.Time) *tokenBucket {
	if interval <= 0 {
		interval = time.Second
	}
	return &tokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		perTick:    ratePerSecond * interval.Seconds(),
		lastRefill: now,
	}
}

// refill adds min(perTick, capacity-tokens) tokens and returns how many were added.
func (b *tokenBucket) refill(now time.Time) float64 {
	add := b.capacity - b.tokens
	if b.perTick < add {
		add = b.perTick
	}
	if add < 0 {
		add = 0
	}
	b.tokens += add
	b.lastRefill = now
	return add
}

// take consumes one token if a whole token is available.
func (b *tokenBucket) take() bool {
	if b.tokens+tokenEpsilon < 1 {
		return false
	}
	b.tokens--
	return true
}

// available returns the number of whole tokens in the bucket.
func (b *tokenBucket) available() int {
	return int(b.tokens + tokenEpsilon)
}
