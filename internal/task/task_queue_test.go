package task

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/tasks-emulator/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskQueue_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.RateLimits.MaxConcurrentDispatches = MaxConcurrentDispatchesLimit + 1

	_, err := NewTaskQueue(testKey, cfg, &recordingTransport{}, time.Second, setupTestLogger())
	assert.ErrorIs(t, err, ErrInvalidQueueConfig)

	_, err = NewTaskQueue(testKey, DefaultQueueConfig(), nil, time.Second, setupTestLogger())
	assert.Error(t, err)
}

func TestTaskQueue_StatisticsBeforeEnqueue(t *testing.T) {
	q := newTestQueue(t, DefaultQueueConfig(), &recordingTransport{}, newFakeClock())

	stats := q.Statistics()
	assert.Equal(t, Stats{Tokens: 1000}, stats)
	assert.False(t, q.IsActive())
}

func TestTaskQueue_Enqueue(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, DefaultQueueConfig(), &recordingTransport{}, clock)

	t.Run("generates a name when absent", func(t *testing.T) {
		stored, err := q.Enqueue(httpTask(""))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(stored.Name, testKey.ResourceName()+"/tasks/"))
		assert.NotEmpty(t, stored.ID())
		assert.Equal(t, http.MethodPost, stored.HTTPRequest.Method)
		assert.Equal(t, clock.Now(), stored.ScheduleTime)
		assert.Equal(t, clock.Now(), stored.NextAttempt)
	})

	t.Run("expands a bare id", func(t *testing.T) {
		stored, err := q.Enqueue(httpTask("thumb-1"))
		require.NoError(t, err)
		assert.Equal(t, testKey.ResourceName()+"/tasks/thumb-1", stored.Name)
		assert.Equal(t, "thumb-1", stored.ID())
	})

	t.Run("keeps a future schedule time", func(t *testing.T) {
		task := httpTask("later")
		task.ScheduleTime = clock.Now().Add(time.Minute)
		stored, err := q.Enqueue(task)
		require.NoError(t, err)
		assert.Equal(t, task.ScheduleTime, stored.NextAttempt)
	})

	assert.Equal(t, 3, q.Statistics().Pending)
	assert.Equal(t, 1, q.Statistics().Backoff)
	assert.True(t, q.IsActive())
}

func TestTaskQueue_EnqueueDuplicate(t *testing.T) {
	q := newTestQueue(t, DefaultQueueConfig(), &recordingTransport{}, newFakeClock())

	_, err := q.Enqueue(httpTask("once"))
	require.NoError(t, err)

	_, err = q.Enqueue(httpTask("once"))
	assert.ErrorIs(t, err, ErrTaskAlreadyExists)

	_, err = q.Enqueue(httpTask(testKey.ResourceName() + "/tasks/once"))
	assert.ErrorIs(t, err, ErrTaskAlreadyExists)

	assert.Equal(t, 1, q.Statistics().Pending)
}

func TestTaskQueue_EnqueueDuplicateInFlight(t *testing.T) {
	g := newGate()
	transport := &recordingTransport{fn: g.wait}
	q := newTestQueue(t, DefaultQueueConfig(), transport, newFakeClock())

	_, err := q.Enqueue(httpTask("busy"))
	require.NoError(t, err)
	require.Equal(t, 1, q.DispatchTasks())

	_, err = q.Enqueue(httpTask("busy"))
	assert.ErrorIs(t, err, ErrTaskAlreadyExists)

	g.release()
	settle(t, q)

	_, err = q.Enqueue(httpTask("busy"))
	assert.NoError(t, err, "name is free again once the task completed")
}

func TestTaskQueue_EnqueueTargetURL(t *testing.T) {
	clock := newFakeClock()

	t.Run("falls back to default uri", func(t *testing.T) {
		cfg := DefaultQueueConfig()
		cfg.DefaultURI = "http://127.0.0.1:5001/demo-project/us-central1/fallback"
		q := newTestQueue(t, cfg, &recordingTransport{}, clock)

		stored, err := q.Enqueue(Task{Name: "no-url"})
		require.NoError(t, err)
		assert.Equal(t, cfg.DefaultURI, stored.HTTPRequest.URL)
	})

	t.Run("rejects a task without any target", func(t *testing.T) {
		q := newTestQueue(t, DefaultQueueConfig(), &recordingTransport{}, clock)

		_, err := q.Enqueue(Task{Name: "no-url"})
		assert.ErrorIs(t, err, ErrInvalidTask)
		assert.Equal(t, 0, q.Statistics().Pending)
	})
}

func TestTaskQueue_Delete(t *testing.T) {
	q := newTestQueue(t, DefaultQueueConfig(), &recordingTransport{}, newFakeClock())

	_, err := q.Enqueue(httpTask("a"))
	require.NoError(t, err)
	_, err = q.Enqueue(httpTask("b"))
	require.NoError(t, err)

	require.NoError(t, q.Delete("a"))
	require.NoError(t, q.Delete(testKey.ResourceName()+"/tasks/b"))
	assert.Equal(t, 0, q.Statistics().Pending)

	err = q.Delete("a")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskQueue_DeleteInFlightDiscardsResult(t *testing.T) {
	g := newGate()
	transport := &recordingTransport{fn: g.wait}
	q := newTestQueue(t, DefaultQueueConfig(), transport, newFakeClock())

	_, err := q.Enqueue(httpTask("doomed"))
	require.NoError(t, err)
	require.Equal(t, 1, q.DispatchTasks())

	require.NoError(t, q.Delete("doomed"))
	assert.Equal(t, 1, q.Statistics().InFlight, "slot is held until the dispatch returns")
	assert.True(t, q.IsActive())

	g.release()
	settle(t, q)

	stats := q.Statistics()
	assert.Equal(t, 0, stats.InFlight)
	assert.Equal(t, 0, stats.Executed)
	assert.False(t, q.IsActive())
}

func TestTaskQueue_StaleResultAfterReenqueue(t *testing.T) {
	tests := []struct {
		name     string
		staleErr error
	}{
		{name: "stale success", staleErr: nil},
		{name: "stale failure", staleErr: errTargetDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Each dispatch blocks on its own channel, in call order.
			outcomes := []chan error{make(chan error, 1), make(chan error, 1)}
			var mu sync.Mutex
			calls := 0
			transport := &recordingTransport{fn: func(ctx context.Context, _ DispatchRequest) error {
				mu.Lock()
				outcome := outcomes[calls]
				calls++
				mu.Unlock()
				select {
				case err := <-outcome:
					return err
				case <-ctx.Done():
					return ctx.Err()
				}
			}}
			q := newTestQueue(t, DefaultQueueConfig(), transport, newFakeClock())

			_, err := q.Enqueue(httpTask("x"))
			require.NoError(t, err)
			require.Equal(t, 1, q.DispatchTasks())
			require.NoError(t, q.Delete("x"))

			_, err = q.Enqueue(httpTask("x"))
			require.NoError(t, err)
			require.Equal(t, 1, q.DispatchTasks())

			outcomes[0] <- tt.staleErr
			require.Eventually(t, func() bool { return len(q.results) == 1 }, 2*time.Second, time.Millisecond)
			require.Equal(t, 1, q.ProcessDispatch())

			stats := q.Statistics()
			assert.Equal(t, 0, stats.Executed, "deleted dispatch must not count")
			assert.Equal(t, 0, stats.Failed)
			assert.Equal(t, 0, stats.Pending, "running task must not be requeued")
			assert.Equal(t, 1, stats.InFlight)
			require.Len(t, q.Tasks(), 1)

			_, err = q.Enqueue(httpTask("x"))
			assert.ErrorIs(t, err, ErrTaskAlreadyExists)

			outcomes[1] <- nil
			settle(t, q)

			stats = q.Statistics()
			assert.Equal(t, 1, stats.Executed)
			assert.Equal(t, 0, stats.InFlight)
			assert.False(t, q.IsActive())
		})
	}
}

func TestTaskQueue_RateLimitedDispatchInOrder(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.RateLimits = RateLimits{MaxConcurrentDispatches: 1, MaxDispatchesPerSecond: 1}

	transport := &recordingTransport{}
	q := newTestQueue(t, cfg, transport, newFakeClock())

	for _, id := range []string{"t1", "t2", "t3"} {
		_, err := q.Enqueue(httpTask(id))
		require.NoError(t, err)
	}

	for tick := 0; tick < 3; tick++ {
		assert.Equal(t, 1, q.DispatchTasks(), "tick %d dispatches exactly one task", tick)
		assert.Equal(t, 0, q.DispatchTasks(), "no token left in tick %d", tick)
		settle(t, q)
		q.RefillTokens()
	}

	assert.Equal(t, []string{"t1", "t2", "t3"}, transport.TaskIDs())

	stats := q.Statistics()
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.InFlight)
	assert.Equal(t, 3, stats.Executed)
	assert.False(t, q.IsActive())
}

func TestTaskQueue_ConcurrencyBound(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.RateLimits = RateLimits{MaxConcurrentDispatches: 2, MaxDispatchesPerSecond: 100}

	g := newGate()
	transport := &recordingTransport{fn: g.wait}
	q := newTestQueue(t, cfg, transport, newFakeClock())

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := q.Enqueue(httpTask(id))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, q.DispatchTasks())
	q.RefillTokens()
	assert.Equal(t, 0, q.DispatchTasks(), "both slots are occupied")

	stats := q.Statistics()
	assert.Equal(t, 2, stats.InFlight)
	assert.Equal(t, 3, stats.Pending)
	assert.LessOrEqual(t, stats.InFlight, cfg.RateLimits.MaxConcurrentDispatches)

	g.release()
	settle(t, q)

	assert.Equal(t, 2, q.DispatchTasks())
	assert.LessOrEqual(t, q.Statistics().InFlight, cfg.RateLimits.MaxConcurrentDispatches)
	settle(t, q)
	q.RefillTokens()
	assert.Equal(t, 1, q.DispatchTasks())
	settle(t, q)

	ids := transport.TaskIDs()
	require.Len(t, ids, 5)
	assert.ElementsMatch(t, []string{"a", "b"}, ids[:2])
	assert.ElementsMatch(t, []string{"c", "d"}, ids[2:4])
	assert.Equal(t, "e", ids[4])
	assert.Equal(t, 5, q.Statistics().Executed)
}

func TestTaskQueue_RetryExhaustion(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.RetryConfig.MaxAttempts = 2
	cfg.RetryConfig.MinBackoff = 100 * time.Millisecond
	cfg.RetryConfig.MaxBackoff = time.Second

	clock := newFakeClock()
	transport := &recordingTransport{fn: func(context.Context, DispatchRequest) error { return errTargetDown }}
	handler := testutils.NewTestSlogHandler()
	q, err := NewTaskQueue(testKey, cfg, transport, time.Second, slog.New(handler))
	require.NoError(t, err)
	q.now = clock.Now

	_, err = q.Enqueue(httpTask("flaky"))
	require.NoError(t, err)

	require.Equal(t, 1, q.DispatchTasks())
	settle(t, q)

	stats := q.Statistics()
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Backoff)
	assert.Equal(t, 0, q.DispatchTasks(), "task is backing off")

	clock.Advance(100 * time.Millisecond)
	require.Equal(t, 1, q.DispatchTasks())
	settle(t, q)

	stats = q.Statistics()
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.InFlight)
	assert.Equal(t, 1, stats.Failed)
	assert.Empty(t, q.Tasks())
	assert.False(t, q.IsActive())
	assert.Len(t, transport.Calls(), 2)

	dropped := handler.FindByMessage("task dropped after final attempt")
	require.Len(t, dropped, 1)
	assert.Equal(t, testKey.String(), dropped[0]["queue"])
	assert.Equal(t, "WARN", dropped[0]["level"])
}

func TestTaskQueue_RetryDisabled(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.Retry = false

	transport := &recordingTransport{fn: func(context.Context, DispatchRequest) error { return errTargetDown }}
	q := newTestQueue(t, cfg, transport, newFakeClock())

	_, err := q.Enqueue(httpTask("once-only"))
	require.NoError(t, err)
	require.Equal(t, 1, q.DispatchTasks())
	settle(t, q)

	assert.Equal(t, Stats{Failed: 1, Tokens: 999}, q.Statistics())
}

func TestTaskQueue_MaxRetryDuration(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.RetryConfig.MaxAttempts = UnlimitedAttempts
	cfg.RetryConfig.MinBackoff = time.Second
	cfg.RetryConfig.MaxBackoff = time.Second
	cfg.RetryConfig.MaxRetryDuration = 3 * time.Second

	clock := newFakeClock()
	transport := &recordingTransport{fn: func(context.Context, DispatchRequest) error { return errTargetDown }}
	q := newTestQueue(t, cfg, transport, clock)

	_, err := q.Enqueue(httpTask("bounded"))
	require.NoError(t, err)

	for i := 0; i < 10 && q.IsActive(); i++ {
		q.DispatchTasks()
		settle(t, q)
		clock.Advance(time.Second)
	}

	assert.Len(t, transport.Calls(), 4, "attempts at 0s, 1s, 2s and 3s")
	assert.Equal(t, 1, q.Statistics().Failed)
}

func TestTaskQueue_BackedOffTaskIsSkipped(t *testing.T) {
	clock := newFakeClock()
	fail := true
	transport := &recordingTransport{fn: func(_ context.Context, req DispatchRequest) error {
		if fail && taskID(req.TaskName) == "first" {
			return errTargetDown
		}
		return nil
	}}
	q := newTestQueue(t, DefaultQueueConfig(), transport, clock)

	_, err := q.Enqueue(httpTask("first"))
	require.NoError(t, err)
	q.DispatchTasks()
	settle(t, q)

	_, err = q.Enqueue(httpTask("second"))
	require.NoError(t, err)
	assert.Equal(t, 1, q.DispatchTasks())
	settle(t, q)

	fail = false
	clock.Advance(time.Second)
	assert.Equal(t, 1, q.DispatchTasks())
	settle(t, q)

	assert.Equal(t, []string{"first", "second", "first"}, transport.TaskIDs())
	assert.Equal(t, 2, q.Statistics().Executed)
}

func TestTaskQueue_DispatchRequest(t *testing.T) {
	cfg := DefaultQueueConfig()
	cfg.Timeout = 30 * time.Second
	cfg.RetryConfig.MinBackoff = 0

	calls := 0
	transport := &recordingTransport{fn: func(context.Context, DispatchRequest) error {
		calls++
		if calls == 1 {
			return &ResponseError{StatusCode: http.StatusServiceUnavailable}
		}
		if calls == 2 {
			return errTargetDown
		}
		return nil
	}}
	q := newTestQueue(t, cfg, transport, newFakeClock())

	task := httpTask("headers")
	task.HTTPRequest.Method = "put"
	task.HTTPRequest.Headers = map[string]string{"X-Trace": "abc"}
	_, err := q.Enqueue(task)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.Equal(t, 1, q.DispatchTasks())
		settle(t, q)
	}

	got := transport.Calls()
	require.Len(t, got, 3)
	assert.Equal(t, "resize-images", got[0].QueueName)
	assert.Equal(t, http.MethodPut, got[0].Method)
	assert.Equal(t, "abc", got[0].Headers["X-Trace"])
	assert.Equal(t, 30*time.Second, got[0].Timeout)
	assert.Equal(t, []byte(`{"data":{"id":"headers"}}`), got[0].Body)

	assert.Equal(t, 0, got[0].RetryCount)
	assert.Equal(t, 0, got[0].ExecutionCount)
	assert.Equal(t, 1, got[1].RetryCount)
	assert.Equal(t, 1, got[1].ExecutionCount, "a response from the target counts as an execution")
	assert.Equal(t, 2, got[2].RetryCount)
	assert.Equal(t, 1, got[2].ExecutionCount, "a connection failure does not")
}

func TestTaskQueue_DrainTimeoutCancelsDispatch(t *testing.T) {
	g := newGate()
	transport := &recordingTransport{fn: g.wait}
	q := newTestQueue(t, DefaultQueueConfig(), transport, newFakeClock())

	_, err := q.Enqueue(httpTask("stuck"))
	require.NoError(t, err)
	require.Equal(t, 1, q.DispatchTasks())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = q.Drain(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	stats := q.Statistics()
	assert.Equal(t, 0, stats.InFlight)
	assert.Equal(t, 1, stats.Pending, "cancelled dispatch is rescheduled")

	// Later dispatches get a live context again.
	g.release()
	q.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.Equal(t, 1, q.DispatchTasks())
	settle(t, q)
	assert.Equal(t, 1, q.Statistics().Executed)
}
