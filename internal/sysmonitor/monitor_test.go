// internal/sysmonitor/monitor_test.go
package sysmonitor

import (
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

type fakeSampler struct {
	vmem    *mem.VirtualMemoryStat
	vmemErr error
	avg     *load.AvgStat
	avgErr  error
	cpus    int
	percent float64
}

func (f *fakeSampler) VirtualMemory() (*mem.VirtualMemoryStat, error) { return f.vmem, f.vmemErr }
func (f *fakeSampler) Avg() (*load.AvgStat, error)                    { return f.avg, f.avgErr }
func (f *fakeSampler) CPUCount() (int, error)                         { return f.cpus, nil }
func (f *fakeSampler) Percent() (float64, error)                      { return f.percent, nil }

func newTestMonitor(s Sampler, softThreshold float64) *Monitor {
	m := NewMonitor(2048, softThreshold, nil)
	m.sampler = s
	return m
}

func TestMonitorSampleComputesAvailableForAgents(t *testing.T) {
	sampler := &fakeSampler{
		vmem: &mem.VirtualMemoryStat{
			Total:       16 * 1024 * 1024 * 1024,
			Available:   8 * 1024 * 1024 * 1024,
			UsedPercent: 50,
		},
		avg:     &load.AvgStat{Load1: 0.5, Load5: 0.4, Load15: 0.3},
		cpus:    4,
		percent: 25,
	}
	m := newTestMonitor(sampler, 0.85)

	health, err := m.sample()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantAvailable := int64(8*1024) - 2048
	if health.Memory.AvailableForAgentsMB != wantAvailable {
		t.Errorf("AvailableForAgentsMB = %d, want %d", health.Memory.AvailableForAgentsMB, wantAvailable)
	}
	if health.Memory.Pressure != 0.5 {
		t.Errorf("Pressure = %v, want 0.5", health.Memory.Pressure)
	}
	if health.IsUnderStress {
		t.Error("expected not under stress at 50%% pressure and low load")
	}
}

func TestMonitorIsUnderStressAboveSoftThreshold(t *testing.T) {
	sampler := &fakeSampler{
		vmem: &mem.VirtualMemoryStat{
			Total:       16 * 1024 * 1024 * 1024,
			Available:   1 * 1024 * 1024 * 1024,
			UsedPercent: 90,
		},
		avg:  &load.AvgStat{Load1: 0.2},
		cpus: 4,
	}
	m := newTestMonitor(sampler, 0.85)

	health, err := m.sample()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !health.IsUnderStress {
		t.Error("expected under stress at 90%% pressure with softThreshold=0.85")
	}
}

func TestMonitorRetainsLastGoodSnapshotOnError(t *testing.T) {
	good := &fakeSampler{
		vmem: &mem.VirtualMemoryStat{Total: 16 * 1024 * 1024 * 1024, Available: 8 * 1024 * 1024 * 1024, UsedPercent: 40},
		avg:  &load.AvgStat{Load1: 0.1},
		cpus: 4,
	}
	m := newTestMonitor(good, 0.85)
	m.sampleOnce()

	firstSnapshot, ok := m.Latest()
	if !ok {
		t.Fatal("expected a snapshot after first sampleOnce")
	}

	m.sampler = &fakeSampler{vmemErr: errors.New("boom")}
	m.sampleOnce()

	secondSnapshot, ok := m.Latest()
	if !ok {
		t.Fatal("expected last-good snapshot to be retained")
	}
	if secondSnapshot.Timestamp != firstSnapshot.Timestamp {
		t.Error("expected the retained snapshot to be unchanged after a sampling error")
	}
}

func TestMonitorHistoryBounded(t *testing.T) {
	sampler := &fakeSampler{
		vmem: &mem.VirtualMemoryStat{Total: 16 * 1024 * 1024 * 1024, Available: 8 * 1024 * 1024 * 1024, UsedPercent: 40},
		avg:  &load.AvgStat{Load1: 0.1},
		cpus: 4,
	}
	m := newTestMonitor(sampler, 0.85)
	m.maxHistory = 3

	for i := 0; i < 5; i++ {
		m.sampleOnce()
	}

	if len(m.History()) != 3 {
		t.Errorf("expected bounded history of 3, got %d", len(m.History()))
	}
}
