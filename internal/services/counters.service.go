package services

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"monsoon/internal/errors"
	"monsoon/internal/logger"

	"github.com/shirou/gopsutil/v3/cpu"
)

var countersLog = logger.Component("counters")

// CoreCounter is the latest reading of one logical core
type CoreCounter struct {
	Name         string
	VendorID     string
	Brand        string
	UsagePercent float64
	FrequencyMHz uint64
}

// CounterSource exposes live per-core counters. Refresh must be called
// before Cores and GlobalUsage reflect new values.
type CounterSource interface {
	Refresh() error
	Cores() []CoreCounter
	GlobalUsage() float64
	// PhysicalCoreCount returns 0 when the platform cannot tell.
	PhysicalCoreCount() int
}

// CounterFactory opens a fresh counter source for one subscription
type CounterFactory func() (CounterSource, error)

// HostCounters reads CPU counters through gopsutil. Usage is computed
// from the time deltas between two refreshes of this instance, so
// separate instances never disturb each other.
type HostCounters struct {
	times   func(perCPU bool) ([]cpu.TimesStat, error)
	info    func() ([]cpu.InfoStat, error)
	counts  func(logical bool) (int, error)
	sysRoot string

	infos    []cpu.InfoStat
	previous map[string]cpu.TimesStat
	cores    []CoreCounter
	global   float64
	physical int
}

// NewHostCounters opens the host's CPU counters. It fails when no core
// can be enumerated.
func NewHostCounters() (CounterSource, error) {
	h, err := newHostCounters(cpu.Times, cpu.Info, cpu.Counts, "/sys")
	if err != nil {
		return nil, err
	}
	return h, nil
}

func newHostCounters(
	times func(bool) ([]cpu.TimesStat, error),
	info func() ([]cpu.InfoStat, error),
	counts func(bool) (int, error),
	sysRoot string,
) (*HostCounters, error) {
	errFactory := errors.New()

	h := &HostCounters{
		times:   times,
		info:    info,
		counts:  counts,
		sysRoot: sysRoot,
	}

	snapshot, err := h.times(true)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrCounterInit, err)
	}
	if len(snapshot) == 0 {
		return nil, errFactory.WithMessage(errors.ErrCounterInit, "no enumerable CPU cores")
	}

	infos, err := h.info()
	if err != nil {
		countersLog.Warn().Err(err).Msg("CPU info unavailable, brand and vendor degraded")
	}
	h.infos = infos

	if physical, err := h.counts(false); err == nil {
		h.physical = physical
	} else {
		countersLog.Warn().Err(err).Msg("Physical core count unavailable")
	}

	h.previous = make(map[string]cpu.TimesStat, len(snapshot))
	h.cores = make([]CoreCounter, len(snapshot))
	for i, t := range snapshot {
		h.previous[t.CPU] = t
		h.cores[i] = h.describe(i, t.CPU)
	}

	return h, nil
}

// Refresh reads new per-core times and recomputes usage and frequency
func (h *HostCounters) Refresh() error {
	snapshot, err := h.times(true)
	if err != nil {
		return errors.New().Wrap(errors.ErrCounterRefresh, err)
	}

	cores := make([]CoreCounter, len(snapshot))
	next := make(map[string]cpu.TimesStat, len(snapshot))
	var busySum, totalSum float64

	for i, t := range snapshot {
		core := h.describe(i, t.CPU)
		if prev, ok := h.previous[t.CPU]; ok {
			busy, total := timesDelta(prev, t)
			core.UsagePercent = usagePercent(busy, total)
			busySum += busy
			totalSum += total
		}
		cores[i] = core
		next[t.CPU] = t
	}

	h.cores = cores
	h.previous = next
	h.global = usagePercent(busySum, totalSum)

	return nil
}

func (h *HostCounters) Cores() []CoreCounter {
	out := make([]CoreCounter, len(h.cores))
	copy(out, h.cores)
	return out
}

func (h *HostCounters) GlobalUsage() float64 {
	return h.global
}

func (h *HostCounters) PhysicalCoreCount() int {
	return h.physical
}

// describe fills the static fields and the current frequency of core i
func (h *HostCounters) describe(i int, name string) CoreCounter {
	core := CoreCounter{Name: name}

	var info *cpu.InfoStat
	switch {
	case i < len(h.infos):
		info = &h.infos[i]
	case len(h.infos) > 0:
		// Some platforms report one entry per package, not per core.
		info = &h.infos[0]
	}

	if info != nil {
		core.VendorID = info.VendorID
		core.Brand = strings.TrimSpace(info.ModelName)
		core.FrequencyMHz = uint64(info.Mhz)
	}
	if mhz, ok := readScalingFrequency(h.sysRoot, name); ok {
		core.FrequencyMHz = mhz
	}

	return core
}

// readScalingFrequency reads the current frequency of a core from
// cpufreq. The file is in kHz.
func readScalingFrequency(sysRoot, name string) (uint64, bool) {
	if sysRoot == "" || name == "" {
		return 0, false
	}

	data, err := os.ReadFile(filepath.Join(sysRoot, "devices/system/cpu", name, "cpufreq/scaling_cur_freq"))
	if err != nil {
		return 0, false
	}

	khz, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false
	}

	return khz / 1000, true
}

func timesDelta(prev, cur cpu.TimesStat) (busy, total float64) {
	prevIdle := prev.Idle + prev.Iowait
	curIdle := cur.Idle + cur.Iowait
	prevTotal := prevIdle + prev.User + prev.System + prev.Nice + prev.Irq + prev.Softirq + prev.Steal
	curTotal := curIdle + cur.User + cur.System + cur.Nice + cur.Irq + cur.Softirq + cur.Steal

	total = curTotal - prevTotal
	busy = total - (curIdle - prevIdle)
	return busy, total
}

func usagePercent(busy, total float64) float64 {
	if total <= 0 {
		return 0
	}

	usage := busy / total * 100
	if usage < 0 {
		return 0
	}
	if usage > 100 {
		return 100
	}
	return usage
}
