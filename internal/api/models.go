package api

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/phrazzld/tasks-emulator/internal/task"
)

// CreateQueueRequest defines the payload for creating or replacing a queue.
// Omitted fields take their defaults.
type CreateQueueRequest struct {
	RetryConfig    *RetryConfigRequest `json:"retryConfig"`
	RateLimits     *RateLimitsRequest  `json:"rateLimits"`
	TimeoutSeconds *float64            `json:"timeoutSeconds" validate:"omitempty,gt=0,lte=86400"`
	Retry          *bool               `json:"retry"`
	DefaultURI     string              `json:"defaultUri"     validate:"omitempty,url"`
}

// RetryConfigRequest mirrors task.RetryConfig with durations in seconds.
// Durations are capped at 100 years so they fit in a time.Duration.
type RetryConfigRequest struct {
	MaxAttempts *int `json:"maxAttempts" validate:"omitempty,min=-1"`
	// MaxRetrySeconds may be null, meaning no bound.
	MaxRetrySeconds   *float64 `json:"maxRetrySeconds"   validate:"omitempty,gte=0,lte=3153600000"`
	MaxBackoffSeconds *float64 `json:"maxBackoffSeconds" validate:"omitempty,gte=0,lte=3153600000"`
	MaxDoublings      *int     `json:"maxDoublings"      validate:"omitempty,gte=0,lte=64"`
	MinBackoffSeconds *float64 `json:"minBackoffSeconds" validate:"omitempty,gte=0,lte=3153600000"`
}

// RateLimitsRequest mirrors task.RateLimits.
type RateLimitsRequest struct {
	MaxConcurrentDispatches *int     `json:"maxConcurrentDispatches" validate:"omitempty,gte=1,lte=5000"`
	MaxDispatchesPerSecond  *float64 `json:"maxDispatchesPerSecond"  validate:"omitempty,gt=0"`
}

// QueueConfig merges the request onto the default queue configuration.
func (r CreateQueueRequest) QueueConfig() task.QueueConfig {
	cfg := task.DefaultQueueConfig()

	if rc := r.RetryConfig; rc != nil {
		if rc.MaxAttempts != nil {
			cfg.RetryConfig.MaxAttempts = *rc.MaxAttempts
		}
		if rc.MaxRetrySeconds != nil {
			cfg.RetryConfig.MaxRetryDuration = seconds(*rc.MaxRetrySeconds)
		}
		if rc.MaxBackoffSeconds != nil {
			cfg.RetryConfig.MaxBackoff = seconds(*rc.MaxBackoffSeconds)
		}
		if rc.MaxDoublings != nil {
			cfg.RetryConfig.MaxDoublings = *rc.MaxDoublings
		}
		if rc.MinBackoffSeconds != nil {
			cfg.RetryConfig.MinBackoff = seconds(*rc.MinBackoffSeconds)
		}
	}

	if rl := r.RateLimits; rl != nil {
		if rl.MaxConcurrentDispatches != nil {
			cfg.RateLimits.MaxConcurrentDispatches = *rl.MaxConcurrentDispatches
		}
		if rl.MaxDispatchesPerSecond != nil {
			cfg.RateLimits.MaxDispatchesPerSecond = *rl.MaxDispatchesPerSecond
		}
	}

	if r.TimeoutSeconds != nil {
		cfg.Timeout = seconds(*r.TimeoutSeconds)
	}
	if r.Retry != nil {
		cfg.Retry = *r.Retry
	}
	cfg.DefaultURI = r.DefaultURI

	return cfg
}

// QueueResponse describes a queue's configuration and current statistics.
type QueueResponse struct {
	Name           string              `json:"name"`
	RetryConfig    RetryConfigResponse `json:"retryConfig"`
	RateLimits     RateLimitsResponse  `json:"rateLimits"`
	TimeoutSeconds float64             `json:"timeoutSeconds"`
	Retry          bool                `json:"retry"`
	DefaultURI     string              `json:"defaultUri,omitempty"`
	Stats          task.Stats          `json:"stats"`
}

// RetryConfigResponse is the wire form of task.RetryConfig.
type RetryConfigResponse struct {
	MaxAttempts int `json:"maxAttempts"`
	// MaxRetrySeconds is null when retries are not time-bounded.
	MaxRetrySeconds   *float64 `json:"maxRetrySeconds"`
	MaxBackoffSeconds float64  `json:"maxBackoffSeconds"`
	MaxDoublings      int      `json:"maxDoublings"`
	MinBackoffSeconds float64  `json:"minBackoffSeconds"`
}

// RateLimitsResponse is the wire form of task.RateLimits.
type RateLimitsResponse struct {
	MaxConcurrentDispatches int     `json:"maxConcurrentDispatches"`
	MaxDispatchesPerSecond  float64 `json:"maxDispatchesPerSecond"`
}

func queueToResponse(key task.QueueKey, cfg task.QueueConfig, stats task.Stats) QueueResponse {
	rc := cfg.RetryConfig
	var maxRetry *float64
	if rc.MaxRetryDuration > 0 {
		s := rc.MaxRetryDuration.Seconds()
		maxRetry = &s
	}

	return QueueResponse{
		Name: key.ResourceName(),
		RetryConfig: RetryConfigResponse{
			MaxAttempts:       rc.MaxAttempts,
			MaxRetrySeconds:   maxRetry,
			MaxBackoffSeconds: rc.MaxBackoff.Seconds(),
			MaxDoublings:      rc.MaxDoublings,
			MinBackoffSeconds: rc.MinBackoff.Seconds(),
		},
		RateLimits: RateLimitsResponse{
			MaxConcurrentDispatches: cfg.RateLimits.MaxConcurrentDispatches,
			MaxDispatchesPerSecond:  cfg.RateLimits.MaxDispatchesPerSecond,
		},
		TimeoutSeconds: cfg.Timeout.Seconds(),
		Retry:          cfg.Retry,
		DefaultURI:     cfg.DefaultURI,
		Stats:          stats,
	}
}

// EnqueueTaskRequest defines the payload for the enqueue endpoint.
type EnqueueTaskRequest struct {
	Task TaskRequest `json:"task"`
}

// TaskRequest is the task as submitted by a client.
type TaskRequest struct {
	// Name is optional: a bare task ID or the full task resource name.
	Name         string             `json:"name"`
	HTTPRequest  HTTPRequestPayload `json:"httpRequest"`
	ScheduleTime *time.Time         `json:"scheduleTime"`
}

// HTTPRequestPayload describes the target call. Body is base64 encoded.
type HTTPRequestPayload struct {
	URL        string            `json:"url"        validate:"omitempty,url"`
	HTTPMethod string            `json:"httpMethod" validate:"omitempty,oneof=POST GET HEAD PUT DELETE PATCH OPTIONS"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"       validate:"omitempty,base64"`
}

// toTask decodes the request into a task.Task.
func (r TaskRequest) toTask() (task.Task, error) {
	body, err := base64.StdEncoding.DecodeString(r.HTTPRequest.Body)
	if err != nil {
		return task.Task{}, fmt.Errorf("%w: httpRequest.body is not valid base64", errInvalidRequest)
	}

	t := task.Task{
		Name: r.Name,
		HTTPRequest: task.HTTPRequest{
			URL:     r.HTTPRequest.URL,
			Method:  r.HTTPRequest.HTTPMethod,
			Headers: r.HTTPRequest.Headers,
			Body:    body,
		},
	}
	if r.ScheduleTime != nil {
		t.ScheduleTime = *r.ScheduleTime
	}
	return t, nil
}

// TaskResponse is the wire form of a stored task.
type TaskResponse struct {
	Name          string              `json:"name"`
	HTTPRequest   HTTPRequestResponse `json:"httpRequest"`
	ScheduleTime  time.Time           `json:"scheduleTime"`
	CreateTime    time.Time           `json:"createTime"`
	DispatchCount int                 `json:"dispatchCount"`
	ResponseCount int                 `json:"responseCount"`
}

// HTTPRequestResponse echoes the stored target call with a base64 body.
type HTTPRequestResponse struct {
	URL        string            `json:"url"`
	HTTPMethod string            `json:"httpMethod"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
}

func taskToResponse(t task.Task) TaskResponse {
	var body string
	if len(t.HTTPRequest.Body) > 0 {
		body = base64.StdEncoding.EncodeToString(t.HTTPRequest.Body)
	}
	return TaskResponse{
		Name: t.Name,
		HTTPRequest: HTTPRequestResponse{
			URL:        t.HTTPRequest.URL,
			HTTPMethod: t.HTTPRequest.Method,
			Headers:    t.HTTPRequest.Headers,
			Body:       body,
		},
		ScheduleTime:  t.ScheduleTime,
		CreateTime:    t.CreateTime,
		DispatchCount: t.Attempts,
		ResponseCount: t.Executions,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
