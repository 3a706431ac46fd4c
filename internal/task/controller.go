package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ControllerConfig holds the controller's timing configuration.
type ControllerConfig struct {
	// RefillInterval is the period of every queue's token refill.
	RefillInterval time.Duration

	// ActivePollInterval is the delay between poll ticks while any queue is
	// active. IdlePollInterval is used when no queue is.
	ActivePollInterval time.Duration
	IdlePollInterval   time.Duration
}

// DefaultControllerConfig returns a ControllerConfig with reasonable defaults
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		RefillInterval:     time.Second,
		ActivePollInterval: time.Millisecond,
		IdlePollInterval:   time.Second,
	}
}

// managedQueue pairs a queue with the cancel func of its refill timer.
type managedQueue struct {
	queue      *TaskQueue
	stopRefill context.CancelFunc
	refillDone chan struct{}
}

// Controller owns every queue by key, refills their buckets on a fixed
// interval, and runs the poll loop that dispatches and reconciles tasks.
type Controller struct {
	config    ControllerConfig
	transport Transport
	logger    *slog.Logger

	mu      sync.RWMutex
	queues  map[string]*managedQueue
	running bool

	stopLoop context.CancelFunc
	loopDone chan struct{}
	wake     chan struct{}
}

// NewController creates a stopped controller. Invalid intervals fall back to
// the defaults.
func NewController(config ControllerConfig, transport Transport, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "task_queue_controller")

	defaults := DefaultControllerConfig()
	if config.RefillInterval <= 0 {
		logger.Warn("invalid refill interval specified, using default",
			"specified", config.RefillInterval,
			"default", defaults.RefillInterval)
		config.RefillInterval = defaults.RefillInterval
	}
	if config.ActivePollInterval < 0 {
		config.ActivePollInterval = defaults.ActivePollInterval
	}
	if config.IdlePollInterval <= 0 {
		config.IdlePollInterval = defaults.IdlePollInterval
	}

	return &Controller{
		config:    config,
		transport: transport,
		logger:    logger,
		queues:    make(map[string]*managedQueue),
		wake:      make(chan struct{}, 1),
	}
}

// CreateQueue creates or replaces the queue at key and starts its refill
// timer. Replacing a queue discards its tasks; dispatches still running on
// the old queue are cancelled and their results ignored.
func (c *Controller) CreateQueue(key QueueKey, config QueueConfig) (*TaskQueue, error) {
	q, err := NewTaskQueue(key, config, c.transport, c.config.RefillInterval, c.logger)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	old := c.queues[key.String()]
	mq := &managedQueue{queue: q}
	c.queues[key.String()] = mq
	c.startRefillLocked(mq)
	c.mu.Unlock()

	if old != nil {
		c.stopRefill(old)
		old.queue.abandon()
		c.logger.Info("queue replaced", "queue", key.String())
	} else {
		c.logger.Info("queue created", "queue", key.String())
	}

	c.logger.Debug("queue configuration",
		"queue", key.String(),
		"max_attempts", config.RetryConfig.MaxAttempts,
		"max_retry_duration", config.RetryConfig.MaxRetryDuration,
		"min_backoff", config.RetryConfig.MinBackoff,
		"max_backoff", config.RetryConfig.MaxBackoff,
		"max_doublings", config.RetryConfig.MaxDoublings,
		"max_concurrent_dispatches", config.RateLimits.MaxConcurrentDispatches,
		"max_dispatches_per_second", config.RateLimits.MaxDispatchesPerSecond,
		"timeout", config.Timeout,
		"retry", config.Retry)

	return q, nil
}

// DeleteQueue stops the queue's refill timer and removes it.
func (c *Controller) DeleteQueue(key QueueKey) error {
	c.mu.Lock()
	mq, ok := c.queues[key.String()]
	if ok {
		delete(c.queues, key.String())
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, key)
	}
	c.stopRefill(mq)
	mq.queue.abandon()
	c.logger.Info("queue deleted", "queue", key.String())
	return nil
}

// Queue returns the queue at key.
func (c *Controller) Queue(key QueueKey) (*TaskQueue, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mq, ok := c.queues[key.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, key)
	}
	return mq.queue, nil
}

// Enqueue adds a task to the queue at key and wakes the poll loop.
func (c *Controller) Enqueue(key QueueKey, t Task) (Task, error) {
	q, err := c.Queue(key)
	if err != nil {
		return Task{}, err
	}
	stored, err := q.Enqueue(t)
	if err != nil {
		return Task{}, err
	}
	c.signal()
	return stored, nil
}

// Delete removes a task from the queue at key.
func (c *Controller) Delete(key QueueKey, taskName string) error {
	q, err := c.Queue(key)
	if err != nil {
		return err
	}
	return q.Delete(taskName)
}

// Statistics returns every queue's statistics keyed by queue key.
func (c *Controller) Statistics() map[string]Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make(map[string]Stats, len(c.queues))
	for k, mq := range c.queues {
		stats[k] = mq.queue.Statistics()
	}
	return stats
}

// Start begins the poll loop and restarts refill timers stopped by Stop.
// Calling Start on a running controller does nothing.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.running = true

	for _, mq := range c.queues {
		c.startRefillLocked(mq)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.stopLoop = cancel
	c.loopDone = make(chan struct{})
	go c.loop(ctx, c.loopDone)

	c.logger.Info("task queue controller started", "queue_count", len(c.queues))
}

// Stop cancels the poll loop and every refill timer, then waits for
// in-flight dispatches until ctx is done and reconciles their results. Tasks
// still pending stay queued and resume on the next Start.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	wasRunning := c.running
	c.running = false
	stopLoop, loopDone := c.stopLoop, c.loopDone
	c.stopLoop, c.loopDone = nil, nil
	queues := make([]*managedQueue, 0, len(c.queues))
	for _, mq := range c.queues {
		queues = append(queues, mq)
	}
	c.mu.Unlock()

	if stopLoop != nil {
		stopLoop()
		<-loopDone
	}
	for _, mq := range queues {
		c.stopRefill(mq)
	}

	var errs []error
	for _, mq := range queues {
		if err := mq.queue.Drain(ctx); err != nil {
			c.logger.Warn("in-flight dispatches cancelled on stop",
				"queue", mq.queue.Key().String(),
				"error", err)
			errs = append(errs, fmt.Errorf("drain %s: %w", mq.queue.Key(), err))
		}
	}

	if wasRunning {
		c.logger.Info("task queue controller stopped")
	}
	return errors.Join(errs...)
}

// IsRunning reports whether Start has been called without a later Stop.
func (c *Controller) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// loop is the single poll loop. After every tick it picks the active or idle
// cadence depending on whether any queue still has work.
func (c *Controller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-c.wake:
		}

		next := c.config.IdlePollInterval
		if c.updateQueues() {
			next = c.config.ActivePollInterval
		}
		timer.Reset(next)
	}
}

// updateQueues dispatches and reconciles every active queue and reports
// whether any queue is still active afterwards.
func (c *Controller) updateQueues() bool {
	c.mu.RLock()
	queues := make([]*TaskQueue, 0, len(c.queues))
	for _, mq := range c.queues {
		queues = append(queues, mq.queue)
	}
	c.mu.RUnlock()

	active := false
	for _, q := range queues {
		if !q.IsActive() {
			continue
		}
		q.DispatchTasks()
		q.ProcessDispatch()
		if q.IsActive() {
			active = true
		}
	}
	return active
}

// signal wakes the poll loop without blocking.
func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// startRefillLocked starts mq's refill timer if it is not running.
// c.mu must be held.
func (c *Controller) startRefillLocked(mq *managedQueue) {
	if mq.stopRefill != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	mq.stopRefill = cancel
	mq.refillDone = make(chan struct{})
	go c.refill(ctx, mq.queue, c.config.RefillInterval, mq.refillDone)
}

// stopRefill cancels mq's refill timer and waits for it to exit.
func (c *Controller) stopRefill(mq *managedQueue) {
	c.mu.Lock()
	cancel, done := mq.stopRefill, mq.refillDone
	mq.stopRefill, mq.refillDone = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *Controller) refill(ctx context.Context, q *TaskQueue, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if added := q.RefillTokens(); added > 0 {
				c.signal()
			}
		}
	}
}
