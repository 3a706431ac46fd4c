package task

import (
	"fmt"
	"time"
)

// Limits enforced on every queue configuration.
const (
	// MaxConcurrentDispatchesLimit is the largest accepted value for
	// RateLimits.MaxConcurrentDispatches.
	MaxConcurrentDispatchesLimit = 5000

	// UnlimitedAttempts as RetryConfig.MaxAttempts retries a task forever.
	UnlimitedAttempts = -1
)

// RetryConfig controls how failed dispatches are retried.
type RetryConfig struct {
	// MaxAttempts is the total number of dispatch attempts, including the
	// first. UnlimitedAttempts disables the bound.
	MaxAttempts int

	// MaxRetryDuration bounds the time between the first attempt and the
	// last retry. Zero means no bound.
	MaxRetryDuration time.Duration

	// MinBackoff and MaxBackoff clamp the delay between attempts.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// MaxDoublings is how many times the delay doubles before it stops growing.
	MaxDoublings int
}

// RateLimits bounds how fast and how many tasks a queue dispatches.
type RateLimits struct {
	MaxConcurrentDispatches int
	MaxDispatchesPerSecond  float64
}

// QueueConfig is the complete configuration of one queue.
type QueueConfig struct {
	RetryConfig RetryConfig
	RateLimits  RateLimits

	// Timeout is passed to the transport with every dispatch.
	Timeout time.Duration

	// Retry disables retries entirely when false: a failed dispatch drops
	// the task.
	Retry bool

	// DefaultURI is the target for tasks that carry no URL of their own.
	DefaultURI string
}

// DefaultRetryConfig returns the retry policy applied when a queue is created
// without one.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:      3,
		MaxRetryDuration: 0,
		MaxBackoff:       3600 * time.Second,
		MaxDoublings:     16,
		MinBackoff:       100 * time.Millisecond,
	}
}

// DefaultRateLimits returns the rate limits applied when a queue is created
// without them.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		MaxConcurrentDispatches: 1000,
		MaxDispatchesPerSecond:  500,
	}
}

// DefaultQueueConfig returns a complete queue configuration with default values.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		RetryConfig: DefaultRetryConfig(),
		RateLimits:  DefaultRateLimits(),
		Timeout:     10 * time.Minute,
		Retry:       true,
	}
}

// Validate reports whether the configuration can drive a queue.
func (c QueueConfig) Validate() error {
	rl := c.RateLimits
	if rl.MaxConcurrentDispatches < 1 || rl.MaxConcurrentDispatches > MaxConcurrentDispatchesLimit {
		return fmt.Errorf("%w: maxConcurrentDispatches must be between 1 and %d, got %d",
			ErrInvalidQueueConfig, MaxConcurrentDispatchesLimit, rl.MaxConcurrentDispatches)
	}
	if rl.MaxDispatchesPerSecond <= 0 {
		return fmt.Errorf("%w: maxDispatchesPerSecond must be positive, got %g",
			ErrInvalidQueueConfig, rl.MaxDispatchesPerSecond)
	}

	rc := c.RetryConfig
	if rc.MaxAttempts == 0 || rc.MaxAttempts < UnlimitedAttempts {
		return fmt.Errorf("%w: maxAttempts must be positive or %d, got %d",
			ErrInvalidQueueConfig, UnlimitedAttempts, rc.MaxAttempts)
	}
	if rc.MaxRetryDuration < 0 {
		return fmt.Errorf("%w: maxRetrySeconds must not be negative", ErrInvalidQueueConfig)
	}
	if rc.MinBackoff < 0 || rc.MaxBackoff < rc.MinBackoff {
		return fmt.Errorf("%w: backoff range [%s, %s] is invalid",
			ErrInvalidQueueConfig, rc.MinBackoff, rc.MaxBackoff)
	}
	if rc.MaxDoublings < 0 {
		return fmt.Errorf("%w: maxDoublings must not be negative, got %d",
			ErrInvalidQueueConfig, rc.MaxDoublings)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeoutSeconds must be positive", ErrInvalidQueueConfig)
	}
	return nil
}

// QueueKey identifies a queue by project, location and queue name.
type QueueKey struct {
	Project  string
	Location string
	Queue    string
}

// String returns the composite key "project/location/queue".
func (k QueueKey) String() string {
	return k.Project + "/" + k.Location + "/" + k.Queue
}

// ResourceName returns the queue's resource name,
// "projects/<p>/locations/<l>/queues/<q>".
func (k QueueKey) ResourceName() string {
	return fmt.Sprintf("projects/%s/locations/%s/queues/%s", k.Project, k.Location, k.Queue)
}
