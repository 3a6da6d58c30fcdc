package services

import (
	"monsoon/internal/errors"
	"monsoon/internal/logger"
	"monsoon/internal/models"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

var metricsLog = logger.Component("metrics")

// Host readers, swapped in tests
var (
	virtualMemory = mem.VirtualMemory
	swapMemory    = mem.SwapMemory
	hostInfo      = host.Info
)

// GetMemoryStatus reads the memory counters once
func GetMemoryStatus() (*models.MemoryStatus, error) {
	vm, err := virtualMemory()
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrCollectMetrics, err)
	}

	status := &models.MemoryStatus{
		Total:     vm.Total,
		Free:      vm.Free,
		Available: vm.Available,
		Buffers:   vm.Buffers,
		Cached:    vm.Cached,
	}

	swap, err := swapMemory()
	if err != nil {
		// No swap information is not worth failing the whole read
		metricsLog.Warn().Err(err).Msg("Could not read swap usage")
		return status, nil
	}
	status.SwapTotal = swap.Total
	status.SwapFree = swap.Free

	return status, nil
}

// GetHostInfo describes the operating system
func GetHostInfo() (*models.HostInfo, error) {
	info, err := hostInfo()
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrCollectMetrics, err)
	}

	osName := info.Platform
	if osName == "" {
		osName = info.OS
	}

	return &models.HostInfo{
		OSName:         osName,
		OSVersion:      info.PlatformVersion,
		KernelVersion:  info.KernelVersion,
		Hostname:       info.Hostname,
		BootTime:       info.BootTime,
		DistributionID: info.PlatformFamily,
		CPUArch:        info.KernelArch,
		Uptime:         info.Uptime,
	}, nil
}
