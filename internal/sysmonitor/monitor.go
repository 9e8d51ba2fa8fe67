// internal/sysmonitor/monitor.go
package sysmonitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/filetidy/filetidy/internal/events"
)

const defaultMaxHistory = 1000

// Sampler is the host-metrics source the Monitor polls. Abstracted so tests
// can substitute a fake without touching the real OS counters.
type Sampler interface {
	VirtualMemory() (*mem.VirtualMemoryStat, error)
	Avg() (*load.AvgStat, error)
	CPUCount() (int, error)
	Percent() (float64, error)
}

// gopsutilSampler is the production Sampler backed by gopsutil/v4.
type gopsutilSampler struct{}

func (gopsutilSampler) VirtualMemory() (*mem.VirtualMemoryStat, error) {
	return mem.VirtualMemory()
}

func (gopsutilSampler) Avg() (*load.AvgStat, error) {
	return load.Avg()
}

func (gopsutilSampler) CPUCount() (int, error) {
	return cpu.Counts(true)
}

func (gopsutilSampler) Percent() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("cpu.Percent returned no samples")
	}
	return percents[0], nil
}

// Monitor is the System Monitor (spec.md §4.1): it samples host memory and
// CPU on a ticker, publishes immutable SystemHealth snapshots, guarantees at
// most one sample in flight, and retains the last good snapshot across
// sampling errors instead of propagating a gap.
type Monitor struct {
	sampler       Sampler
	osReservedMB  int64
	softThreshold float64

	bus *events.Bus

	mu         sync.RWMutex
	history    []SystemHealth
	maxHistory int
	last       SystemHealth
	haveLast   bool

	sampling atomic.Bool
}

// NewMonitor creates a Monitor. osReservedMB and softThreshold come from
// the Agent Manager's configuration (spec.md §6's osReservedMemory and
// softThreshold options).
func NewMonitor(osReservedMB int64, softThreshold float64, bus *events.Bus) *Monitor {
	return &Monitor{
		sampler:       gopsutilSampler{},
		osReservedMB:  osReservedMB,
		softThreshold: softThreshold,
		bus:           bus,
		maxHistory:    defaultMaxHistory,
	}
}

// Run polls at nominalInterval, tightening to stressInterval once the last
// snapshot reports IsUnderStress, until ctx is cancelled. Missed ticks (a
// sample still in flight when the ticker fires) are coalesced by skipping
// the tick rather than queuing a second concurrent sample.
func (m *Monitor) Run(ctx context.Context, nominalInterval, stressInterval time.Duration) {
	interval := nominalInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.sampling.CompareAndSwap(false, true) {
				continue // previous sample still running; coalesce this tick
			}
			go func() {
				defer m.sampling.Store(false)
				m.sampleOnce()
			}()

			next := nominalInterval
			if m.UnderStress() {
				next = stressInterval
			}
			if next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// sampleOnce takes one sample, publishes it, and retains the last good
// snapshot if sampling fails.
func (m *Monitor) sampleOnce() {
	health, err := m.sample()
	if err != nil {
		log.Printf("[SYSMONITOR] MonitoringError: %v (retaining last good snapshot)", err)
		if m.bus != nil {
			m.bus.Publish(events.NewEvent(events.EventMonitoringError, "sysmonitor", "all", events.PriorityHigh,
				map[string]interface{}{"error": err.Error()}))
		}
		return
	}

	m.mu.Lock()
	m.last = health
	m.haveLast = true
	m.history = append(m.history, health)
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(events.NewEvent(events.EventSystemHealth, "sysmonitor", "all", events.PriorityNormal,
			map[string]interface{}{
				"memory_pressure": health.Memory.Pressure,
				"is_under_stress": health.IsUnderStress,
			}))
	}
}

func (m *Monitor) sample() (SystemHealth, error) {
	vmem, err := m.sampler.VirtualMemory()
	if err != nil {
		return SystemHealth{}, fmt.Errorf("sampling virtual memory: %w", err)
	}

	avg, err := m.sampler.Avg()
	if err != nil {
		return SystemHealth{}, fmt.Errorf("sampling load average: %w", err)
	}

	cpuCount, err := m.sampler.CPUCount()
	if err != nil || cpuCount == 0 {
		cpuCount = 1
	}

	usagePercent, err := m.sampler.Percent()
	if err != nil {
		return SystemHealth{}, fmt.Errorf("sampling cpu usage: %w", err)
	}

	const mb = 1024 * 1024
	totalMB := int64(vmem.Total / mb)
	freeMB := int64(vmem.Available / mb)
	usedMB := totalMB - freeMB
	if usedMB < 0 {
		usedMB = 0
	}

	availableForAgentsMB := freeMB - m.osReservedMB
	if availableForAgentsMB < 0 {
		availableForAgentsMB = 0
	}

	pressure := vmem.UsedPercent / 100.0

	health := SystemHealth{
		Timestamp: time.Now(),
		Memory: MemoryStats{
			TotalMB:              totalMB,
			FreeMB:               freeMB,
			UsedMB:               usedMB,
			Pressure:             pressure,
			AvailableForAgentsMB: availableForAgentsMB,
		},
		CPU: CPUStats{
			Load1:        avg.Load1,
			Load5:        avg.Load5,
			Load15:       avg.Load15,
			UsagePercent: usagePercent,
			CPUCount:     cpuCount,
		},
	}
	health.IsUnderStress = health.Memory.Pressure >= m.softThreshold || avg.Load1/float64(cpuCount) > 1.0

	return health, nil
}

// Latest returns the most recently published snapshot. The second return
// value is false if no successful sample has ever been taken.
func (m *Monitor) Latest() (SystemHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.haveLast
}

// UnderStress reports whether the last known-good snapshot is under stress.
// Returns false if no snapshot has been taken yet.
func (m *Monitor) UnderStress() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.haveLast && m.last.IsUnderStress
}

// History returns a copy of the retained snapshot history, oldest first.
func (m *Monitor) History() []SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SystemHealth, len(m.history))
	copy(out, m.history)
	return out
}
