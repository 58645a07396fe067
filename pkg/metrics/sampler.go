package metrics

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/streamfleet/scheduler/pkg/logger"
)

// ProcessSampler periodically samples this process's own CPU and RSS usage
// into ProcessCPUPercent/ProcessRSSBytes. Grounded on the teacher's
// UsageTracker.monitorLoop (execution/cost/tracker.go): a ticker driven
// goroutine guarded by a stopCh and WaitGroup, started/stopped alongside
// the rest of the process. Unlike the teacher's CPUMonitor/MemoryMonitor,
// which report system-wide totals via cpu.Percent/mem.VirtualMemory, this
// samples the scheduler's own process via gopsutil/v3/process so the
// gauges reflect this replica, not the host.
type ProcessSampler struct {
	proc     *process.Process
	interval time.Duration
	logger   logger.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewProcessSampler opens a gopsutil handle on the current process.
func NewProcessSampler(interval time.Duration, log logger.Logger) (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ProcessSampler{
		proc:     proc,
		interval: interval,
		logger:   log,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins sampling in the background until ctx is cancelled or Stop is
// called.
func (s *ProcessSampler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts sampling and waits for the background goroutine to exit.
func (s *ProcessSampler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *ProcessSampler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *ProcessSampler) sample() {
	cpuPercent, err := s.proc.CPUPercent()
	if err != nil {
		s.logger.Warn("metrics: failed to sample process CPU percent", "error", err)
	} else {
		ProcessCPUPercent.Set(cpuPercent)
	}

	memInfo, err := s.proc.MemoryInfo()
	if err != nil {
		s.logger.Warn("metrics: failed to sample process RSS", "error", err)
		return
	}
	ProcessRSSBytes.Set(float64(memInfo.RSS))
}
