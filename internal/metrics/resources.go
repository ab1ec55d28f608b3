package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// DefaultResourceInterval is how often running bots are sampled.
const DefaultResourceInterval = 15 * time.Second

var (
	botCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "cpu_percent",
			Help:      "CPU usage of the bot's shell process since the previous sample.",
		}, []string{"name"},
	)
	botMemoryRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "memory_rss_bytes",
			Help:      "Resident set size of the bot's shell process.",
		}, []string{"name"},
	)
	botThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "botvisor",
			Subsystem: "bot",
			Name:      "threads",
			Help:      "Number of threads of the bot's shell process.",
		}, []string{"name"},
	)
)

// ResourceSampler periodically reads CPU and memory usage of the running
// bots and publishes them as per-bot gauges. Series of bots that stopped
// running are removed on the next sample.
type ResourceSampler struct {
	interval time.Duration
	pids     func() map[string]int32
	log      *slog.Logger

	mu    sync.Mutex
	procs map[int32]*process.Process
	names map[string]struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewResourceSampler creates a sampler that asks pids for the current
// name -> PID set on every tick.
func NewResourceSampler(interval time.Duration, pids func() map[string]int32, log *slog.Logger) *ResourceSampler {
	if interval <= 0 {
		interval = DefaultResourceInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &ResourceSampler{
		interval: interval,
		pids:     pids,
		log:      log,
		procs:    make(map[int32]*process.Process),
		names:    make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Start samples every interval until ctx is done or Stop is called.
func (s *ResourceSampler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Sample()
			}
		}
	}()
}

// Stop ends the sampling loop and waits for it.
func (s *ResourceSampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Sample reads every running bot once. It does nothing until the metrics
// have been registered.
func (s *ResourceSampler) Sample() {
	if !regOK.Load() {
		return
	}
	running := s.pids()

	s.mu.Lock()
	defer s.mu.Unlock()
	live := make(map[int32]struct{}, len(running))
	for name, pid := range running {
		if pid <= 0 {
			continue
		}
		live[pid] = struct{}{}
		p, ok := s.procs[pid]
		if !ok {
			var err error
			if p, err = process.NewProcess(pid); err != nil {
				s.log.Debug("bot resource sample failed", "bot", name, "pid", pid, "error", err)
				continue
			}
			s.procs[pid] = p
		}
		mem, err := p.MemoryInfo()
		if err != nil {
			s.log.Debug("bot resource sample failed", "bot", name, "pid", pid, "error", err)
			continue
		}
		// Percent(0) compares against the previous call on the same handle;
		// the first sample of a run reports 0.
		cpu, err := p.Percent(0)
		if err != nil {
			cpu = 0
		}
		botCPUPercent.WithLabelValues(name).Set(cpu)
		botMemoryRSS.WithLabelValues(name).Set(float64(mem.RSS))
		if n, err := p.NumThreads(); err == nil {
			botThreads.WithLabelValues(name).Set(float64(n))
		}
		s.names[name] = struct{}{}
	}

	for pid := range s.procs {
		if _, ok := live[pid]; !ok {
			delete(s.procs, pid)
		}
	}
	for name := range s.names {
		if _, ok := running[name]; !ok {
			botCPUPercent.DeleteLabelValues(name)
			botMemoryRSS.DeleteLabelValues(name)
			botThreads.DeleteLabelValues(name)
			delete(s.names, name)
		}
	}
}
