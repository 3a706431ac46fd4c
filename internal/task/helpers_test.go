package task

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTargetDown = errors.New("connection refused")

// fakeClock is a manually advanced clock for deterministic queue tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingTransport records every dispatch and answers with fn, or with
// success when fn is nil.
type recordingTransport struct {
	mu    sync.Mutex
	calls []DispatchRequest
	fn    func(ctx context.Context, req DispatchRequest) error
}

func (r *recordingTransport) Dispatch(ctx context.Context, req DispatchRequest) error {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	fn := r.fn
	r.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(ctx, req)
}

func (r *recordingTransport) Calls() []DispatchRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DispatchRequest, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *recordingTransport) TaskIDs() []string {
	var ids []string
	for _, c := range r.Calls() {
		ids = append(ids, taskID(c.TaskName))
	}
	return ids
}

// gate blocks dispatches until released.
type gate struct {
	ch   chan struct{}
	once sync.Once
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

func (g *gate) wait(ctx context.Context, _ DispatchRequest) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) release() {
	g.once.Do(func() { close(g.ch) })
}

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

var testKey = QueueKey{Project: "demo-project", Location: "us-central1", Queue: "resize-images"}

func newTestQueue(t *testing.T, cfg QueueConfig, transport Transport, clock *fakeClock) *TaskQueue {
	t.Helper()
	q, err := NewTaskQueue(testKey, cfg, transport, time.Second, setupTestLogger())
	require.NoError(t, err)
	q.now = clock.Now
	return q
}

// settle waits for all running dispatches and reconciles them.
func settle(t *testing.T, q *TaskQueue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
}

func httpTask(id string) Task {
	return Task{
		Name: id,
		HTTPRequest: HTTPRequest{
			URL:  "http://127.0.0.1:5001/demo-project/us-central1/resizeImages",
			Body: []byte(`{"data":{"id":"` + id + `"}}`),
		},
	}
}
