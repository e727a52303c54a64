package executor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hivecore/swarmcore/internal/common/logger"
	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
	"github.com/hivecore/swarmcore/internal/swarm/models"
)

// Result is the structured outcome of one Execute call.
type Result struct {
	Success   bool
	Output    string
	Artifacts map[string][]byte
	Duration  time.Duration
	Error     string
}

// defaultOutputBufferBytes bounds the ring buffer Execute streams driver output
// into.
const defaultOutputBufferBytes = 1 << 20

// Executor runs one task on one agent via its driver, applying a
// timeout/retry policy.
type Executor struct {
	log               *logger.Logger
	outputBufferBytes int
	metrics           *metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithOutputBufferBytes overrides the default 1MiB output ring buffer size.
func WithOutputBufferBytes(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.outputBufferBytes = n
		}
	}
}

// WithMetricsRegistry wires a Prometheus registry for execution metrics; if
// omitted, GetExecutionMetrics still works from the plain in-memory counters.
func WithMetricsRegistry(registry *prometheus.Registry) Option {
	return func(e *Executor) {
		e.metrics = newMetrics(registry)
	}
}

// New creates an Executor.
func New(log *logger.Logger, opts ...Option) *Executor {
	e := &Executor{
		log:               log,
		outputBufferBytes: defaultOutputBufferBytes,
		metrics:           newMetrics(nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs task on agent via driver, following an 8-step algorithm.
// The caller is responsible for steps 1 (mark
// in_progress) and 2 (acquire agent) against the repository before
// invoking Execute, and for persisting the terminal state Execute returns;
// Execute itself only performs step 3-8's driver invocation, streaming, and
// retry-classification — it never mutates the task/agent rows directly, so
// it has no repository dependency and is trivially testable with an
// InProcDriver.
func (e *Executor) Execute(ctx context.Context, task *models.Task, driver AgentDriver) (*Result, error) {
	timeout := task.Constraints.Timeout
	if timeout <= 0 {
		timeout = models.DefaultTaskConstraints().Timeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	chunks, errc := driver.Invoke(execCtx, task.Instructions)

	var output ringBuffer
	output.limit = e.outputBufferBytes

	var driverErr error
drainLoop:
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				if errc == nil {
					break drainLoop
				}
				continue
			}
			output.write(chunk.Data)
		case err, ok := <-errc:
			if !ok {
				errc = nil
				if chunks == nil {
					break drainLoop
				}
				continue
			}
			driverErr = err
		}
		if chunks == nil && errc == nil {
			break drainLoop
		}
	}

	duration := time.Since(start)

	if driverErr == nil {
		e.metrics.recordSuccess(duration)
		return &Result{Success: true, Output: output.String(), Duration: duration}, nil
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		driver.Cancel()
		e.metrics.recordFailure(duration)
		if e.log != nil {
			e.log.Warn("task execution timed out", zap.String("task_id", task.ID), zap.Duration("timeout", timeout))
		}
		return &Result{Success: false, Output: output.String(), Duration: duration, Error: "timeout"}, swarmerrors.ErrExecutionTimeout
	}

	e.metrics.recordFailure(duration)

	var terminal *TerminalError
	if errors.As(driverErr, &terminal) {
		return &Result{Success: false, Output: output.String(), Duration: duration, Error: driverErr.Error()}, terminal
	}

	return &Result{Success: false, Output: output.String(), Duration: duration, Error: driverErr.Error()}, driverErr
}

// ShouldRetry reports whether a failed task is eligible for another attempt
// given its (already incremented) attempt count and constraints, and
// records the retry in metrics when true.
func (e *Executor) ShouldRetry(task *models.Task) bool {
	maxRetries := task.Constraints.MaxRetries
	if maxRetries <= 0 {
		maxRetries = models.DefaultTaskConstraints().MaxRetries
	}
	retry := task.AttemptCount < maxRetries
	if retry {
		e.metrics.recordRetry()
	}
	return retry
}

// NextRetryDelay computes the exponential backoff delay for the given
// (1-indexed) attempt number: base 1s, factor 2, capped at 60s.
func NextRetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 60 * time.Second
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// GetExecutionMetrics returns a snapshot of the running counters.
func (e *Executor) GetExecutionMetrics() ExecutionMetrics {
	return e.metrics.snapshot()
}

// ringBuffer is a bounded append-only buffer: once full, the oldest bytes
// are dropped to make room for newly captured driver output.
type ringBuffer struct {
	buf   []byte
	limit int
}

func (r *ringBuffer) write(p []byte) {
	if r.limit <= 0 {
		r.limit = defaultOutputBufferBytes
	}
	r.buf = append(r.buf, p...)
	r.buf = append(r.buf, '\n')
	if len(r.buf) > r.limit {
		r.buf = r.buf[len(r.buf)-r.limit:]
	}
}

func (r *ringBuffer) String() string {
	return string(r.buf)
}
