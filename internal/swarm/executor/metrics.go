package executor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExecutionMetrics is the snapshot returned by GetExecutionMetrics().
type ExecutionMetrics struct {
	TotalExecutions      int64
	SuccessfulExecutions int64
	FailedExecutions     int64
	TotalDuration        time.Duration
	Retries              int64
}

// metrics holds both the plain running counters GetExecutionMetrics()
// reports and their Prometheus-exported counterparts, following the
// teacher pack's nil-safe *Metrics receiver idiom (observability/metrics.go)
// so the executor works the same whether or not a registry is wired in.
type metrics struct {
	mu sync.Mutex
	ExecutionMetrics

	registry *prometheus.Registry

	promExecutions *prometheus.CounterVec
	promDuration   *prometheus.HistogramVec
	promRetries    prometheus.Counter
}

func newMetrics(registry *prometheus.Registry) *metrics {
	m := &metrics{registry: registry}
	if registry == nil {
		return m
	}

	m.promExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swarmcore",
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Total number of task executions by outcome",
		},
		[]string{"outcome"},
	)
	m.promDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swarmcore",
			Subsystem: "executor",
			Name:      "execution_duration_seconds",
			Help:      "Task execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~13min
		},
		[]string{"outcome"},
	)
	m.promRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "swarmcore",
			Subsystem: "executor",
			Name:      "retries_total",
			Help:      "Total number of task retries scheduled",
		},
	)
	registry.MustRegister(m.promExecutions, m.promDuration, m.promRetries)
	return m
}

func (m *metrics) recordSuccess(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalExecutions++
	m.SuccessfulExecutions++
	m.TotalDuration += d
	if m.promExecutions != nil {
		m.promExecutions.WithLabelValues("success").Inc()
		m.promDuration.WithLabelValues("success").Observe(d.Seconds())
	}
}

func (m *metrics) recordFailure(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalExecutions++
	m.FailedExecutions++
	m.TotalDuration += d
	if m.promExecutions != nil {
		m.promExecutions.WithLabelValues("failure").Inc()
		m.promDuration.WithLabelValues("failure").Observe(d.Seconds())
	}
}

func (m *metrics) recordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Retries++
	if m.promRetries != nil {
		m.promRetries.Inc()
	}
}

func (m *metrics) snapshot() ExecutionMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ExecutionMetrics
}
