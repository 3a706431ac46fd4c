// Package httpdispatch delivers tasks to their targets over HTTP.
package httpdispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/phrazzld/tasks-emulator/internal/redact"
	"github.com/phrazzld/tasks-emulator/internal/task"
)

// Headers set on every dispatched request.
const (
	HeaderQueueName      = "X-CloudTasks-QueueName"
	HeaderTaskName       = "X-CloudTasks-TaskName"
	HeaderRetryCount     = "X-CloudTasks-TaskRetryCount"
	HeaderExecutionCount = "X-CloudTasks-TaskExecutionCount"
	HeaderETA            = "X-CloudTasks-TaskETA"
)

// maxDrainBytes caps how much of a response body is read before the
// connection is returned to the pool.
const maxDrainBytes = 64 << 10

// Config holds the transport settings.
type Config struct {
	// UserAgent replaces any User-Agent supplied by the task.
	UserAgent string
	// DefaultTimeout applies when a dispatch carries no timeout of its own.
	DefaultTimeout time.Duration
	// MaxIdleConns sizes the shared connection pool.
	MaxIdleConns int
}

// Transport implements task.Transport with a pooled HTTP client.
type Transport struct {
	client *http.Client
	config Config
	logger *slog.Logger
}

var _ task.Transport = (*Transport)(nil)

// New creates a Transport backed by a pooled client.
func New(config Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}

	pooled := cleanhttp.DefaultPooledTransport()
	if config.MaxIdleConns > 0 {
		pooled.MaxIdleConns = config.MaxIdleConns
		pooled.MaxIdleConnsPerHost = config.MaxIdleConns
	}

	return &Transport{
		client: &http.Client{Transport: pooled},
		config: config,
		logger: logger.With("component", "http_dispatch"),
	}
}

// Dispatch sends req to its target and waits for the response. A 2xx status
// is success; any other status is reported as *task.ResponseError.
func (t *Transport) Dispatch(ctx context.Context, req task.DispatchRequest) error {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.config.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := t.newRequest(ctx, req)
	if err != nil {
		return err
	}

	t.logger.Debug("dispatching task",
		"task", req.TaskName,
		"method", httpReq.Method,
		"url", redact.String(req.URL),
		"headers", redact.Headers(req.Headers),
		"retry_count", req.RetryCount)

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", req.TaskName, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		_ = resp.Body.Close()
	}()

	t.logger.Debug("target responded",
		"task", req.TaskName,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &task.ResponseError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (t *Transport) newRequest(ctx context.Context, req task.DispatchRequest) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", req.TaskName, err)
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if t.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", t.config.UserAgent)
	}

	httpReq.Header.Set(HeaderQueueName, req.QueueName)
	httpReq.Header.Set(HeaderTaskName, taskID(req.TaskName))
	httpReq.Header.Set(HeaderRetryCount, strconv.Itoa(req.RetryCount))
	httpReq.Header.Set(HeaderExecutionCount, strconv.Itoa(req.ExecutionCount))
	httpReq.Header.Set(HeaderETA, formatETA(req.ScheduleTime))

	return httpReq, nil
}

// formatETA renders t as fractional Unix seconds.
func formatETA(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

func taskID(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
