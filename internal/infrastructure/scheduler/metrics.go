package scheduler

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics counts job runs across the scheduler. Safe for concurrent use.
type Metrics struct {
	executions atomic.Int64
	failures   atomic.Int64
	busy       atomic.Int64 // total run time in nanoseconds

	mu            sync.Mutex
	failuresByJob map[string]int64
}

// NewMetrics creates empty counters.
func NewMetrics() *Metrics {
	return &Metrics{failuresByJob: make(map[string]int64)}
}

// RecordExecution adds one finished run.
func (m *Metrics) RecordExecution(jobName string, duration time.Duration, success bool) {
	m.executions.Add(1)
	m.busy.Add(int64(duration))
	if success {
		return
	}
	m.failures.Add(1)
	m.mu.Lock()
	m.failuresByJob[jobName]++
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	TotalExecutions int64
	TotalSuccesses  int64
	TotalFailures   int64
	SuccessRate     float64
	AverageDuration time.Duration
	FailuresByJob   map[string]int64
}

// Snapshot copies the counters. Totals may be one run apart under load.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		TotalExecutions: m.executions.Load(),
		TotalFailures:   m.failures.Load(),
	}
	snap.TotalSuccesses = snap.TotalExecutions - snap.TotalFailures
	if snap.TotalExecutions > 0 {
		snap.AverageDuration = time.Duration(m.busy.Load() / snap.TotalExecutions)
		snap.SuccessRate = float64(snap.TotalSuccesses) / float64(snap.TotalExecutions)
	}

	m.mu.Lock()
	snap.FailuresByJob = maps.Clone(m.failuresByJob)
	m.mu.Unlock()
	return snap
}
