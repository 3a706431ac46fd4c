package task

import (
	"context"
	"strconv"
	"time"
)

// HTTPRequest describes the call made when a task is dispatched.
type HTTPRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	// Body is the decoded payload; base64 decoding happens at the API boundary.
	Body []byte
}

// Task is a unit of work held by a TaskQueue.
type Task struct {
	// Name is the resource name ".../queues/<q>/tasks/<id>".
	Name        string
	HTTPRequest HTTPRequest

	// ScheduleTime is the earliest time of the first dispatch.
	ScheduleTime time.Time
	CreateTime   time.Time

	// Attempts counts dispatches started so far; Executions counts the
	// subset that received a response from the target.
	Attempts     int
	Executions   int
	FirstAttempt time.Time
	LastAttempt  time.Time

	// NextAttempt is when the task becomes eligible for dispatch. It starts at
	// ScheduleTime and advances by the backoff delay after each failure.
	NextAttempt time.Time
}

// ID returns the last segment of the task's resource name.
func (t *Task) ID() string {
	return taskID(t.Name)
}

// DispatchRequest is what a Transport receives for one dispatch attempt.
type DispatchRequest struct {
	QueueName string
	TaskName  string

	URL     string
	Method  string
	Headers map[string]string
	Body    []byte

	// Timeout is the queue's dispatch deadline; the transport honors it.
	Timeout time.Duration

	// RetryCount is the number of earlier attempts of this task.
	RetryCount int
	// ExecutionCount is the number of earlier attempts that got a response.
	ExecutionCount int
	ScheduleTime   time.Time
}

// Transport performs a dispatch. A nil error means the target accepted the task.
type Transport interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req DispatchRequest) error

// Dispatch calls f.
func (f TransportFunc) Dispatch(ctx context.Context, req DispatchRequest) error {
	return f(ctx, req)
}

// ResponseError is returned by transports when the target answered with a
// non-success status. It distinguishes executions from connection failures.
type ResponseError struct {
	StatusCode int
}

func (e *ResponseError) Error() string {
	return "target responded with status " + strconv.Itoa(e.StatusCode)
}
