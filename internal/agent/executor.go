package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/skalene/maestro/internal/tools"
	"github.com/skalene/maestro/pkg/models"
)

// ExecutorConfig configures parallel tool dispatch.
type ExecutorConfig struct {
	// MaxConcurrency limits parallel tool executions. Default: 5.
	MaxConcurrency int

	// DefaultTimeout applies to tools that declare none. Default: 60s.
	DefaultTimeout time.Duration

	// MaxTimeout caps any per-tool timeout override. Default: 300s.
	MaxTimeout time.Duration

	// Retries is the retry count for retryable failures. Default: 2.
	Retries int

	// RetryBackoff is the initial backoff between retries. Default: 100ms.
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff. Default: 5s.
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig returns the default dispatch configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  60 * time.Second,
		MaxTimeout:      300 * time.Second,
		Retries:         2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

func (c *ExecutorConfig) sanitize() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 5
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 60 * time.Second
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = 300 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = 5 * time.Second
	}
}

// DispatchResult holds one tool call's outcome with timing and attempts.
type DispatchResult struct {
	ToolCallID string
	ToolName   string
	Result     *models.ToolResult
	Error      error
	Duration   time.Duration
	Attempts   int
}

// Executor dispatches tool calls with concurrency limits, per-tool
// timeouts, retries with exponential backoff, and panic isolation.
// Tools not marked parallel-safe are serialized among themselves.
type Executor struct {
	registry *tools.Registry
	config   *ExecutorConfig

	sem chan struct{}
	// serial keeps Parallel=false tools from overlapping when separate
	// dispatches run concurrently; ordering within one turn comes from
	// ExecuteAll's sequential pass.
	serial sync.Mutex

	metrics *ExecutorMetrics
}

// ExecutorMetrics tracks dispatch counters.
type ExecutorMetrics struct {
	mu              sync.Mutex
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// ExecutorMetricsSnapshot is a copy of the metrics at a point in time.
type ExecutorMetricsSnapshot struct {
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// NewExecutor creates an executor over the registry. A nil config gets
// defaults.
func NewExecutor(registry *tools.Registry, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	config.sanitize()
	return &Executor{
		registry: registry,
		config:   config,
		sem:      make(chan struct{}, config.MaxConcurrency),
		metrics:  &ExecutorMetrics{},
	}
}

// ExecuteAll dispatches the calls of one assistant turn. Parallel-safe
// calls fan out; the rest run sequentially in input order. Results come
// back in input order regardless of completion order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []*DispatchResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]*DispatchResult, len(calls))
	var serialIdx []int
	var wg sync.WaitGroup
	for i, call := range calls {
		if !e.metaFor(call.Name).Parallel {
			serialIdx = append(serialIdx, i)
			continue
		}
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tc)
		}(i, call)
	}
	for _, idx := range serialIdx {
		results[idx] = e.Execute(ctx, calls[idx])
	}
	wg.Wait()
	return results
}

// Execute runs one tool call with backpressure, timeout, and retries.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) *DispatchResult {
	start := time.Now()
	result := &DispatchResult{ToolCallID: call.ID, ToolName: call.Name}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		result.Error = NewToolError(call.Name, ctx.Err()).
			WithKind(models.ErrKindCancelled).
			WithCallID(call.ID)
		result.Duration = time.Since(start)
		return result
	}

	meta := e.metaFor(call.Name)
	if !meta.Parallel {
		e.serial.Lock()
		defer e.serial.Unlock()
	}

	timeout := e.config.DefaultTimeout
	switch {
	case meta.Timeout < 0:
		// The tool bounds its own runtime (delegation to a child loop
		// with step caps); only caller cancellation applies.
		timeout = 0
	case meta.Timeout > 0:
		timeout = meta.Timeout
		if timeout > e.config.MaxTimeout {
			timeout = e.config.MaxTimeout
		}
	}

	var lastErr error
	for attempt := 0; attempt <= e.config.Retries; attempt++ {
		result.Attempts = attempt + 1

		execResult, execErr := e.executeWithTimeout(ctx, call, timeout)
		if execErr == nil {
			result.Result = execResult
			result.Duration = time.Since(start)
			e.record(func(m *ExecutorMetrics) {
				m.TotalExecutions++
				m.TotalRetries += int64(attempt)
			})
			return result
		}
		lastErr = execErr

		toolErr, ok := GetToolError(execErr)
		if !ok || !toolErr.IsRetryable() {
			break
		}
		if ctx.Err() != nil || attempt >= e.config.Retries {
			break
		}

		sleep := e.config.RetryBackoff * time.Duration(1<<uint(attempt))
		if sleep > e.config.MaxRetryBackoff {
			sleep = e.config.MaxRetryBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			lastErr = NewToolError(call.Name, ctx.Err()).
				WithKind(models.ErrKindCancelled).
				WithCallID(call.ID)
			attempt = e.config.Retries
		}
	}

	result.Error = lastErr
	result.Duration = time.Since(start)
	e.record(func(m *ExecutorMetrics) {
		m.TotalExecutions++
		m.TotalFailures++
		if toolErr, ok := GetToolError(lastErr); ok {
			switch toolErr.Kind {
			case models.ErrKindToolTimeout:
				m.TotalTimeouts++
			case models.ErrKindInternal:
				m.TotalPanics++
			}
		}
	})
	return result
}

// executeWithTimeout runs the call in a goroutine so a hung or
// panicking tool cannot take the loop down with it. A zero timeout
// leaves only caller cancellation in force.
func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall, timeout time.Duration) (*models.ToolResult, error) {
	var execCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		execCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type execResult struct {
		result *models.ToolResult
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				err := NewToolError(call.Name, fmt.Errorf("%w: %v\n%s", ErrToolPanic, r, stack)).
					WithKind(models.ErrKindInternal).
					WithCallID(call.ID)
				resultCh <- execResult{err: err}
			}
		}()

		result, err := e.registry.Execute(execCtx, call.Name, call.Input)
		if err != nil {
			resultCh <- execResult{err: NewToolError(call.Name, err).WithCallID(call.ID)}
			return
		}
		resultCh <- execResult{result: result}
	}()

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, NewToolError(call.Name, ctx.Err()).
				WithKind(models.ErrKindCancelled).
				WithCallID(call.ID).
				WithMessage("context cancelled")
		}
		return nil, NewToolError(call.Name, ErrToolTimeout).
			WithKind(models.ErrKindToolTimeout).
			WithCallID(call.ID).
			WithMessage(fmt.Sprintf("execution timed out after %s", timeout))
	}
}

func (e *Executor) metaFor(name string) tools.Meta {
	if tool, ok := e.registry.Get(name); ok {
		return tools.MetaFor(tool)
	}
	return tools.Meta{}
}

func (e *Executor) record(fn func(*ExecutorMetrics)) {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	fn(e.metrics)
}

// Metrics returns a snapshot of the dispatch counters.
func (e *Executor) Metrics() ExecutorMetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return ExecutorMetricsSnapshot{
		TotalExecutions: e.metrics.TotalExecutions,
		TotalRetries:    e.metrics.TotalRetries,
		TotalFailures:   e.metrics.TotalFailures,
		TotalTimeouts:   e.metrics.TotalTimeouts,
		TotalPanics:     e.metrics.TotalPanics,
	}
}

// ToObservations converts dispatch results to recorded tool results in
// input order.
func ToObservations(results []*DispatchResult) []models.ToolResult {
	out := make([]models.ToolResult, len(results))
	for i, r := range results {
		switch {
		case r.Error != nil:
			kind := models.ErrKindToolFailure
			if toolErr, ok := GetToolError(r.Error); ok {
				kind = toolErr.Kind
			}
			out[i] = models.ToolResult{
				ToolCallID: r.ToolCallID,
				Content:    r.Error.Error(),
				IsError:    true,
				ErrorKind:  kind,
			}
		case r.Result != nil:
			out[i] = models.ToolResult{
				ToolCallID: r.ToolCallID,
				Content:    r.Result.Content,
				IsError:    r.Result.IsError,
				ErrorKind:  r.Result.ErrorKind,
				Handle:     r.Result.Handle,
				Size:       r.Result.Size,
			}
		default:
			out[i] = models.ToolResult{
				ToolCallID: r.ToolCallID,
				Content:    "tool produced no result",
				IsError:    true,
				ErrorKind:  models.ErrKindInternal,
			}
		}
	}
	return out
}
