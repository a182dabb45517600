package models

import "time"

// NetworkSample is a coarse throughput estimate derived from the change in
// rx+tx byte counters over one sampling interval.
type NetworkSample struct {
	Timestamp time.Time `json:"timestamp"`
	KBps      float64   `json:"kbps"`
}

// SystemSnapshot is a one-shot description of the device, collected once
// after the worker connects.
type SystemSnapshot struct {
	Hostname        string        `json:"hostname"`
	Platform        string        `json:"platform,omitempty"`
	PlatformVersion string        `json:"platform_version,omitempty"`
	KernelVersion   string        `json:"kernel_version,omitempty"`
	Uptime          time.Duration `json:"uptime"`
	CPUCount        int           `json:"cpu_count"`
	TotalMemory     uint64        `json:"total_memory"`
	UsedMemory      uint64        `json:"used_memory"`
}
