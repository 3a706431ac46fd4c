package task

import "errors"

// Structural errors returned by TaskQueue and Controller. Dispatch failures
// never surface through these; they are handled by the retry state machine.
var (
	// ErrQueueNotFound is returned when an operation names an unknown queue.
	ErrQueueNotFound = errors.New("queue does not exist")

	// ErrTaskNotFound is returned when deleting a task that is neither
	// pending nor in flight.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskAlreadyExists is returned when enqueuing a task whose name is
	// already pending or in flight on the same queue.
	ErrTaskAlreadyExists = errors.New("task already exists")

	// ErrInvalidQueueConfig is returned when a queue configuration is out of range.
	ErrInvalidQueueConfig = errors.New("invalid queue configuration")

	// ErrInvalidTask is returned when a task cannot be dispatched as given,
	// e.g. it has no target URL and the queue has no default URI.
	ErrInvalidTask = errors.New("invalid task")
)
