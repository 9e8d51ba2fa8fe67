// internal/sysmonitor/types.go
package sysmonitor

import "time"

// MemoryStats is the memory portion of a SystemHealth snapshot.
type MemoryStats struct {
	TotalMB              int64   `json:"total_mb"`
	FreeMB               int64   `json:"free_mb"`
	UsedMB               int64   `json:"used_mb"`
	Pressure             float64 `json:"pressure"`
	AvailableForAgentsMB int64   `json:"available_for_agents_mb"`
}

// CPUStats is the CPU portion of a SystemHealth snapshot.
type CPUStats struct {
	Load1        float64 `json:"load1"`
	Load5        float64 `json:"load5"`
	Load15       float64 `json:"load15"`
	UsagePercent float64 `json:"usage_percent"`
	CPUCount     int     `json:"cpu_count"`
}

// SystemHealth is an immutable point-in-time snapshot of host resources.
// Readers receive it by value; the monitor never mutates a published
// snapshot after handing it out.
type SystemHealth struct {
	Timestamp     time.Time   `json:"timestamp"`
	Memory        MemoryStats `json:"memory"`
	CPU           CPUStats    `json:"cpu"`
	IsUnderStress bool        `json:"is_under_stress"`
}
