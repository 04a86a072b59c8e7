package sysmon

import (
	"context"
	"testing"
	"time"

	"github.com/adred-codev/bingx-refresh/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func TestNewSamplesCurrentProcess(t *testing.T) {
	m, err := New(metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.sample()
	snap := m.Snapshot()
	if snap.SampledAt.IsZero() {
		t.Fatal("expected a sample timestamp to be set")
	}
	if snap.Goroutines == 0 {
		t.Fatal("expected a non-zero goroutine count")
	}
}

func TestStartAndStop(t *testing.T) {
	m, err := New(metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.Start(context.Background(), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	if m.Snapshot().SampledAt.IsZero() {
		t.Fatal("expected at least one sample to have run")
	}
}

func TestRecoveryJitterDoublesUnderHighCPU(t *testing.T) {
	m, err := New(metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.mu.Lock()
	m.snapshot = Snapshot{CPUPercent: 95}
	m.mu.Unlock()

	base := time.Second
	if got := m.RecoveryJitter(base); got != 2*base {
		t.Fatalf("expected doubled jitter, got %v", got)
	}
}
