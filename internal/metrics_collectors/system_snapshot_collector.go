package metrics_collectors

import (
	"time"

	"github.com/benmeehan/ota-supervisor/internal/models"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"
)

// SystemSnapshotCollector gathers a one-shot description of the device for
// the supervisor's status surface.
type SystemSnapshotCollector struct {
	Logger zerolog.Logger
}

// Name returns the identifier for the system snapshot collector.
func (s *SystemSnapshotCollector) Name() string {
	return "system_snapshot"
}

// Collect never fails outright; fields whose source is unavailable are left
// at their zero value.
func (s *SystemSnapshotCollector) Collect() models.SystemSnapshot {
	var snapshot models.SystemSnapshot

	info, err := host.Info()
	if err != nil {
		s.Logger.Warn().Err(err).Msg("Failed to retrieve host information")
	} else {
		snapshot.Hostname = info.Hostname
		snapshot.Platform = info.Platform
		snapshot.PlatformVersion = info.PlatformVersion
		snapshot.KernelVersion = info.KernelVersion
		snapshot.Uptime = time.Duration(info.Uptime) * time.Second
	}

	count, err := cpu.Counts(true)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("Failed to retrieve CPU count")
	} else {
		snapshot.CPUCount = count
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		s.Logger.Warn().Err(err).Msg("Failed to retrieve memory statistics")
	} else {
		snapshot.TotalMemory = vm.Total
		snapshot.UsedMemory = vm.Used
	}

	return snapshot
}
