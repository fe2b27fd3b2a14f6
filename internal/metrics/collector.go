package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// TargetSample holds one CPU/memory observation of the supervised target.
type TargetSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// CollectorConfig holds configuration for target metrics collection.
type CollectorConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

// Collector samples the supervised target's OS-level resource usage on an
// interval and keeps a bounded history. A restart changes the PID but not
// the history; samples just continue under the new process.
type Collector struct {
	enabled    bool
	interval   time.Duration
	maxHistory int

	mu      sync.RWMutex
	samples []TargetSample

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

// NewCollector creates a target metrics collector.
func NewCollector(cfg CollectorConfig) *Collector {
	interval := cfg.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}
	maxHistory := cfg.MaxHistory
	if maxHistory == 0 {
		maxHistory = 100
	}
	return &Collector{
		enabled:    cfg.Enabled,
		interval:   interval,
		maxHistory: maxHistory,
		stopCh:     make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "nodetap",
				Subsystem: "target",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage of the supervised target.",
			}, []string{"name"},
		),
		memoryMB: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "nodetap",
				Subsystem: "target",
				Name:      "memory_mb",
				Help:      "Resident memory in MB of the supervised target.",
			}, []string{"name"},
		),
		numThreads: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "nodetap",
				Subsystem: "target",
				Name:      "num_threads",
				Help:      "Thread count of the supervised target.",
			}, []string{"name"},
		),
		numFDs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "nodetap",
				Subsystem: "target",
				Name:      "num_fds",
				Help:      "Open file descriptors of the supervised target (Unix only).",
			}, []string{"name"},
		),
	}
}

// RegisterMetrics registers the collector's gauges with the registerer.
func (c *Collector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	collectors := []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.numFDs)
	}
	for _, col := range collectors {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling. getPID reports the target's current PID,
// or 0 when nothing is running.
func (c *Collector) Start(ctx context.Context, name string, getPID func() int) {
	if !c.enabled {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				pid := getPID()
				if pid <= 0 {
					continue
				}
				sample, err := sampleProcess(int32(pid))
				if err != nil {
					slog.Debug("target metrics sample failed", "pid", pid, "error", err)
					continue
				}
				c.record(name, sample)
			}
		}
	}()
}

// Stop halts sampling and waits for the sampler to exit.
func (c *Collector) Stop() {
	if !c.enabled {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) record(name string, s TargetSample) {
	c.cpuPercent.WithLabelValues(name).Set(s.CPUPercent)
	c.memoryMB.WithLabelValues(name).Set(s.MemoryMB)
	c.numThreads.WithLabelValues(name).Set(float64(s.NumThreads))
	if runtime.GOOS != "windows" && s.NumFDs > 0 {
		c.numFDs.WithLabelValues(name).Set(float64(s.NumFDs))
	}

	c.mu.Lock()
	if len(c.samples) >= c.maxHistory {
		c.samples = c.samples[1:]
	}
	c.samples = append(c.samples, s)
	c.mu.Unlock()
}

// Latest returns the most recent sample.
func (c *Collector) Latest() (TargetSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.samples) == 0 {
		return TargetSample{}, false
	}
	return c.samples[len(c.samples)-1], true
}

// History returns the stored samples in chronological order.
func (c *Collector) History() []TargetSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TargetSample, len(c.samples))
	copy(out, c.samples)
	return out
}

func sampleProcess(pid int32) (TargetSample, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return TargetSample{}, fmt.Errorf("process handle: %w", err)
	}
	sample := TargetSample{PID: pid, Timestamp: time.Now()}
	if cpu, err := proc.CPUPercent(); err == nil {
		sample.CPUPercent = cpu
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return TargetSample{}, fmt.Errorf("memory info: %w", err)
	}
	sample.MemoryRSS = memInfo.RSS
	sample.MemoryMB = float64(memInfo.RSS) / 1024 / 1024
	if n, err := proc.NumThreads(); err == nil {
		sample.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDs(); err == nil {
			sample.NumFDs = n
		}
	}
	return sample, nil
}
