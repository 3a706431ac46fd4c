package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/tasks-emulator/internal/api/shared"
	"github.com/phrazzld/tasks-emulator/internal/task"
)

// QueueController is the subset of *task.Controller the handlers use.
type QueueController interface {
	CreateQueue(key task.QueueKey, config task.QueueConfig) (*task.TaskQueue, error)
	DeleteQueue(key task.QueueKey) error
	Queue(key task.QueueKey) (*task.TaskQueue, error)
	Enqueue(key task.QueueKey, t task.Task) (task.Task, error)
	Delete(key task.QueueKey, taskName string) error
	Statistics() map[string]task.Stats
}

// QueueHandler serves the queue and task endpoints.
type QueueHandler struct {
	controller QueueController
	logger     *slog.Logger
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(controller QueueController, logger *slog.Logger) *QueueHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for QueueHandler")
	}
	return &QueueHandler{
		controller: controller,
		logger:     logger.With(slog.String("component", "queue_handler")),
	}
}

// queueKeyFromPath reads the project, location and queue path parameters.
func queueKeyFromPath(r *http.Request) task.QueueKey {
	return task.QueueKey{
		Project:  chi.URLParam(r, "project"),
		Location: chi.URLParam(r, "location"),
		Queue:    chi.URLParam(r, "queue"),
	}
}

// CreateQueue handles POST /projects/{project}/locations/{location}/queues/{queue}.
// An existing queue with the same key is replaced.
func (h *QueueHandler) CreateQueue(w http.ResponseWriter, r *http.Request) {
	key := queueKeyFromPath(r)

	if err := shared.ValidateVar(key.Queue, "queuename"); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	var req CreateQueueRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, r, fmt.Errorf("%w: %w", errInvalidRequest, err))
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	q, err := h.controller.CreateQueue(key, req.QueueConfig())
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.logger.DebugContext(r.Context(), "create queue request handled", slog.String("queue", key.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, queueToResponse(key, q.Config(), q.Statistics()))
}

// GetQueue handles GET /projects/{project}/locations/{location}/queues/{queue}.
func (h *QueueHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	key := queueKeyFromPath(r)

	q, err := h.controller.Queue(key)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, queueToResponse(key, q.Config(), q.Statistics()))
}

// DeleteQueue handles DELETE /projects/{project}/locations/{location}/queues/{queue}.
func (h *QueueHandler) DeleteQueue(w http.ResponseWriter, r *http.Request) {
	key := queueKeyFromPath(r)

	if err := h.controller.DeleteQueue(key); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.logger.DebugContext(r.Context(), "delete queue request handled", slog.String("queue", key.String()))
	w.WriteHeader(http.StatusNoContent)
}

// EnqueueTask handles POST /projects/{project}/locations/{location}/queues/{queue}/tasks.
func (h *QueueHandler) EnqueueTask(w http.ResponseWriter, r *http.Request) {
	key := queueKeyFromPath(r)

	var req EnqueueTaskRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, r, fmt.Errorf("%w: %w", errInvalidRequest, err))
		return
	}
	req.Task.HTTPRequest.HTTPMethod = strings.ToUpper(req.Task.HTTPRequest.HTTPMethod)
	if err := shared.ValidateRequest(&req); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if err := validateTaskName(key, req.Task.Name); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	t, err := req.Task.toTask()
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	stored, err := h.controller.Enqueue(key, t)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.logger.DebugContext(r.Context(), "task enqueued",
		slog.String("queue", key.String()),
		slog.String("task", stored.Name))
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(stored))
}

// DeleteTask handles DELETE /projects/{project}/locations/{location}/queues/{queue}/tasks/{task}.
func (h *QueueHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	key := queueKeyFromPath(r)
	taskID := chi.URLParam(r, "task")

	if err := h.controller.Delete(key, taskID); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.logger.DebugContext(r.Context(), "task deleted",
		slog.String("queue", key.String()),
		slog.String("task", taskID))
	w.WriteHeader(http.StatusNoContent)
}

// QueueStats handles GET /queueStats. The response maps each queue key to
// its statistics.
func (h *QueueHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.controller.Statistics())
}

// validateTaskName accepts an empty name, a bare task ID, or a full resource
// name under key's queue.
func validateTaskName(key task.QueueKey, name string) error {
	if name == "" {
		return nil
	}
	id := name
	if strings.Contains(name, "/") {
		prefix := key.ResourceName() + "/tasks/"
		if !strings.HasPrefix(name, prefix) {
			return fmt.Errorf("%w: task name must be under %s", errInvalidRequest, key.ResourceName())
		}
		id = strings.TrimPrefix(name, prefix)
	}
	return shared.ValidateVar(id, "taskid")
}

func (h *QueueHandler) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}
