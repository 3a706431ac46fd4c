package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasks-emulator/internal/redact"
)

// Stats is a point-in-time view of one queue.
type Stats struct {
	// Pending counts tasks waiting for dispatch, including those in Backoff.
	Pending int `json:"pending"`
	// Backoff counts pending tasks whose next attempt is still in the future.
	Backoff  int `json:"backoff"`
	InFlight int `json:"inFlight"`
	// Executed counts tasks the target accepted.
	Executed int `json:"executed"`
	// Failed counts tasks dropped after their retries were exhausted.
	Failed int `json:"failed"`
	Tokens int `json:"tokens"`
}

// dispatchResult is pushed by a dispatch goroutine when the transport returns.
// task identifies the dispatched attempt; a re-enqueued task with the same
// name is a different *Task.
type dispatchResult struct {
	name string
	task *Task
	err  error
}

// TaskQueue owns the pending and in-flight tasks of one queue together with
// its token bucket and retry bookkeeping. Dispatch results arrive on a
// channel and are reconciled by ProcessDispatch.
type TaskQueue struct {
	key       QueueKey
	config    QueueConfig
	transport Transport
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	bucket   *tokenBucket
	pending  []*Task
	inFlight map[string]*Task
	// running counts dispatch goroutines whose result has not been processed.
	// It can exceed len(inFlight) when an in-flight task is deleted.
	running  int
	executed int
	failed   int

	results chan dispatchResult
	wg      sync.WaitGroup

	dispatchCtx    context.Context
	cancelDispatch context.CancelFunc
}

// NewTaskQueue creates an empty queue. refillInterval is the period at which
// the owner calls RefillTokens; it scales the per-second dispatch rate.
func NewTaskQueue(
	key QueueKey,
	config QueueConfig,
	transport Transport,
	refillInterval time.Duration,
	logger *slog.Logger,
) (*TaskQueue, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &TaskQueue{
		key:            key,
		config:         config,
		transport:      transport,
		logger:         logger.With("queue", key.String()),
		now:            time.Now,
		inFlight:       make(map[string]*Task),
		results:        make(chan dispatchResult, config.RateLimits.MaxConcurrentDispatches),
		dispatchCtx:    ctx,
		cancelDispatch: cancel,
	}
	q.bucket = newTokenBucket(
		config.RateLimits.MaxConcurrentDispatches,
		config.RateLimits.MaxDispatchesPerSecond,
		refillInterval,
		q.now(),
	)
	return q, nil
}

// Key returns the queue's key.
func (q *TaskQueue) Key() QueueKey {
	return q.key
}

// Config returns the queue's configuration.
func (q *TaskQueue) Config() QueueConfig {
	return q.config
}

// Enqueue adds a task to the end of the pending list and returns the stored
// copy. A missing name is generated; a bare ID is expanded to a full
// resource name. The task's URL falls back to the queue's default URI.
func (q *TaskQueue) Enqueue(t Task) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	stored := t
	stored.Name = q.qualify(t.Name)
	if stored.Name == "" {
		stored.Name = q.key.ResourceName() + "/tasks/" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	if _, ok := q.inFlight[stored.Name]; ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskAlreadyExists, stored.Name)
	}
	for _, p := range q.pending {
		if p.Name == stored.Name {
			return Task{}, fmt.Errorf("%w: %s", ErrTaskAlreadyExists, stored.Name)
		}
	}

	if stored.HTTPRequest.URL == "" {
		stored.HTTPRequest.URL = q.config.DefaultURI
	}
	if stored.HTTPRequest.URL == "" {
		return Task{}, fmt.Errorf("%w: no target URL and queue has no default URI", ErrInvalidTask)
	}
	if stored.HTTPRequest.Method == "" {
		stored.HTTPRequest.Method = http.MethodPost
	}
	stored.HTTPRequest.Method = strings.ToUpper(stored.HTTPRequest.Method)

	stored.CreateTime = now
	if stored.ScheduleTime.IsZero() {
		stored.ScheduleTime = now
	}
	stored.NextAttempt = stored.ScheduleTime
	stored.Attempts = 0
	stored.Executions = 0

	q.pending = append(q.pending, &stored)

	q.logger.Debug("task enqueued",
		"task", stored.Name,
		"schedule_time", stored.ScheduleTime,
		"pending_count", len(q.pending))

	return stored, nil
}

// Delete removes a task by name or ID from the pending list or the in-flight
// set. A deleted in-flight task still occupies its concurrency slot until its
// dispatch returns, but the result is discarded.
func (q *TaskQueue) Delete(name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	name = q.qualify(name)

	for i, p := range q.pending {
		if p.Name == name {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.logger.Debug("pending task deleted", "task", name)
			return nil
		}
	}
	if _, ok := q.inFlight[name]; ok {
		delete(q.inFlight, name)
		q.logger.Debug("in-flight task deleted", "task", name)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
}

// IsActive reports whether the queue has pending tasks (eligible or backing
// off) or dispatches that have not been reconciled.
func (q *TaskQueue) IsActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) > 0 || q.running > 0
}

// RefillTokens adds this tick's tokens to the bucket and returns the number added.
func (q *TaskQueue) RefillTokens() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bucket.refill(q.now())
}

// DispatchTasks starts dispatches for eligible pending tasks in FIFO order
// while both a token and a concurrency slot are available. Tasks whose next
// attempt is in the future are skipped, not blocking later tasks. It returns
// the number of dispatches started.
func (q *TaskQueue) DispatchTasks() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	maxConcurrent := q.config.RateLimits.MaxConcurrentDispatches
	started := 0
	remaining := q.pending[:0]

	for i, t := range q.pending {
		if q.running >= maxConcurrent || q.bucket.available() < 1 {
			remaining = append(remaining, q.pending[i:]...)
			break
		}
		if t.NextAttempt.After(now) {
			remaining = append(remaining, t)
			continue
		}

		q.bucket.take()
		q.running++
		started++

		if t.FirstAttempt.IsZero() {
			t.FirstAttempt = now
		}
		t.LastAttempt = now
		req := q.dispatchRequest(t)
		t.Attempts++
		q.inFlight[t.Name] = t

		q.wg.Add(1)
		go q.dispatch(q.dispatchCtx, t, req)
	}

	// Clear the tail so dropped pointers can be collected.
	for i := len(remaining); i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = remaining

	if started > 0 {
		q.logger.Debug("tasks dispatched",
			"count", started,
			"in_flight", q.running,
			"tokens", q.bucket.available())
	}
	return started
}

// dispatch runs the transport call and reports its outcome.
func (q *TaskQueue) dispatch(ctx context.Context, t *Task, req DispatchRequest) {
	defer q.wg.Done()
	err := q.transport.Dispatch(ctx, req)
	q.results <- dispatchResult{name: req.TaskName, task: t, err: err}
}

// dispatchRequest builds the transport request for t's next attempt.
func (q *TaskQueue) dispatchRequest(t *Task) DispatchRequest {
	headers := make(map[string]string, len(t.HTTPRequest.Headers))
	for k, v := range t.HTTPRequest.Headers {
		headers[k] = v
	}
	return DispatchRequest{
		QueueName:      q.key.Queue,
		TaskName:       t.Name,
		URL:            t.HTTPRequest.URL,
		Method:         t.HTTPRequest.Method,
		Headers:        headers,
		Body:           t.HTTPRequest.Body,
		Timeout:        q.config.Timeout,
		RetryCount:     t.Attempts,
		ExecutionCount: t.Executions,
		ScheduleTime:   t.ScheduleTime,
	}
}

// ProcessDispatch reconciles every dispatch that has returned since the last
// call. Success removes the task; failure reschedules it after a backoff
// delay or, once its retries are exhausted, drops it. It returns the number
// of results processed.
func (q *TaskQueue) ProcessDispatch() int {
	processed := 0
	for {
		select {
		case r := <-q.results:
			q.complete(r)
			processed++
		default:
			return processed
		}
	}
}

func (q *TaskQueue) complete(r dispatchResult) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.running--
	t, ok := q.inFlight[r.name]
	if !ok || t != r.task {
		// Deleted while in flight, possibly re-enqueued under the same name.
		return
	}
	delete(q.inFlight, r.name)

	var respErr *ResponseError
	if r.err == nil || errors.As(r.err, &respErr) {
		t.Executions++
	}

	if r.err == nil {
		q.executed++
		q.logger.Debug("task dispatched successfully", "task", t.Name, "attempts", t.Attempts)
		return
	}

	now := q.now()
	if !q.shouldRetry(t, now) {
		q.failed++
		q.logger.Warn("task dropped after final attempt",
			"task", t.Name,
			"attempts", t.Attempts,
			"error", redact.Error(r.err))
		return
	}

	delay := backoffDelay(q.config.RetryConfig, t.Attempts)
	t.NextAttempt = now.Add(delay)
	q.pending = append(q.pending, t)
	q.logger.Warn("task dispatch failed, retry scheduled",
		"task", t.Name,
		"attempts", t.Attempts,
		"backoff", delay,
		"error", redact.Error(r.err))
}

// shouldRetry applies the queue's retry policy to a task that just failed.
func (q *TaskQueue) shouldRetry(t *Task, now time.Time) bool {
	if !q.config.Retry {
		return false
	}
	rc := q.config.RetryConfig
	if rc.MaxAttempts != UnlimitedAttempts && t.Attempts >= rc.MaxAttempts {
		return false
	}
	if rc.MaxRetryDuration > 0 && now.Sub(t.FirstAttempt) >= rc.MaxRetryDuration {
		return false
	}
	return true
}

// Statistics returns the queue's counters. It has no side effects.
func (q *TaskQueue) Statistics() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	backoff := 0
	for _, t := range q.pending {
		if t.NextAttempt.After(now) {
			backoff++
		}
	}
	return Stats{
		Pending:  len(q.pending),
		Backoff:  backoff,
		InFlight: q.running,
		Executed: q.executed,
		Failed:   q.failed,
		Tokens:   q.bucket.available(),
	}
}

// Tasks returns copies of the pending and in-flight tasks, pending first in
// dispatch order.
func (q *TaskQueue) Tasks() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Task, 0, len(q.pending)+len(q.inFlight))
	for _, t := range q.pending {
		out = append(out, *t)
	}
	for _, t := range q.inFlight {
		out = append(out, *t)
	}
	return out
}

// Drain waits for running dispatches to return and reconciles them. If ctx
// ends first, the remaining dispatches are cancelled and awaited; later
// dispatches use a fresh context.
func (q *TaskQueue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		q.mu.Lock()
		cancel := q.cancelDispatch
		q.dispatchCtx, q.cancelDispatch = context.WithCancel(context.Background())
		q.mu.Unlock()
		cancel()
		<-done
	}

	q.ProcessDispatch()
	return err
}

// abandon cancels in-flight dispatches without waiting for them.
func (q *TaskQueue) abandon() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelDispatch()
}

// qualify expands a bare task ID into this queue's task resource name.
func (q *TaskQueue) qualify(name string) string {
	if name == "" || strings.Contains(name, "/") {
		return name
	}
	return q.key.ResourceName() + "/tasks/" + name
}

func taskID(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
