// Package sysmon centralizes process resource sampling: CPU percent,
// resident memory, and goroutine count, sampled once per interval and
// read by many callers (the /healthz handler, the rate governor's
// recovery jitter) instead of each one re-measuring independently.
package sysmon

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/adred-codev/bingx-refresh/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is a point-in-time read of process resource usage.
type Snapshot struct {
	CPUPercent float64   `json:"cpuPercent"`
	MemoryMB   float64   `json:"memoryMb"`
	Goroutines int       `json:"goroutines"`
	SampledAt  time.Time `json:"sampledAt"`
}

// Monitor samples process resources on a timer and caches the result for
// concurrent readers.
type Monitor struct {
	proc    *process.Process
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu       sync.RWMutex
	snapshot Snapshot

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Monitor bound to the current process.
func New(m *metrics.Metrics, logger zerolog.Logger) (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Monitor{
		proc:    proc,
		metrics: m,
		logger:  logger.With().Str("component", "sysmon").Logger(),
	}, nil
}

// Start begins periodic sampling. Safe to call once; a second call is a
// no-op until Stop is called.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	if m.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.sample()
		for {
			select {
			case <-ticker.C:
				m.sample()
			case <-runCtx.Done():
				return
			}
		}
	}()
}

// Stop halts sampling and blocks until the background goroutine exits.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.cancel = nil
}

func (m *Monitor) sample() {
	// First call establishes a baseline; gopsutil returns the percentage
	// elapsed since the previous call when interval is 0.
	cpuPercent, err := m.proc.Percent(0)
	if err != nil {
		m.logger.Debug().Err(err).Msg("failed to sample process CPU percent")
		cpuPercent = 0
	}

	memInfo, err := m.proc.MemoryInfo()
	var memoryMB float64
	if err != nil {
		m.logger.Debug().Err(err).Msg("failed to sample process memory")
	} else {
		memoryMB = float64(memInfo.RSS) / (1024 * 1024)
	}

	goroutines := runtime.NumGoroutine()

	snap := Snapshot{
		CPUPercent: cpuPercent,
		MemoryMB:   memoryMB,
		Goroutines: goroutines,
		SampledAt:  time.Now(),
	}

	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ProcessCPUPercent.Set(cpuPercent)
		m.metrics.ProcessMemoryMB.Set(memoryMB)
		m.metrics.Goroutines.Set(float64(goroutines))
	}
}

// Snapshot returns the most recently sampled resource usage.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// RecoveryJitter scales a base backoff duration by current CPU pressure,
// so the rate governor's post-suspension recovery spreads retries out
// further when the process is already under load. CPU usage above 80%
// doubles the base duration.
func (m *Monitor) RecoveryJitter(base time.Duration) time.Duration {
	snap := m.Snapshot()
	if snap.CPUPercent > 80 {
		return base * 2
	}
	return base
}
