package services

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"monsoon/internal/errors"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTimes returns the snapshots in order, repeating the last one
func scriptedTimes(snapshots ...[]cpu.TimesStat) func(bool) ([]cpu.TimesStat, error) {
	i := 0
	return func(bool) ([]cpu.TimesStat, error) {
		s := snapshots[i]
		if i < len(snapshots)-1 {
			i++
		}
		return s, nil
	}
}

func staticInfo(infos ...cpu.InfoStat) func() ([]cpu.InfoStat, error) {
	return func() ([]cpu.InfoStat, error) { return infos, nil }
}

func staticCount(n int) func(bool) (int, error) {
	return func(bool) (int, error) { return n, nil }
}

func writeScalingFrequency(t *testing.T, root, name, khz string) {
	t.Helper()
	dir := filepath.Join(root, "devices/system/cpu", name, "cpufreq")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scaling_cur_freq"), []byte(khz+"\n"), 0o644))
}

func TestHostCountersRefresh(t *testing.T) {
	root := t.TempDir()
	writeScalingFrequency(t, root, "cpu0", "2400000")

	times := scriptedTimes(
		[]cpu.TimesStat{
			{CPU: "cpu0", User: 10, Idle: 90},
			{CPU: "cpu1", Idle: 100},
		},
		[]cpu.TimesStat{
			{CPU: "cpu0", User: 60, Idle: 140},
			{CPU: "cpu1", Idle: 200},
		},
	)
	info := staticInfo(
		cpu.InfoStat{VendorID: "GenuineIntel", ModelName: " Test CPU ", Mhz: 3000},
	)

	h, err := newHostCounters(times, info, staticCount(1), root)
	require.NoError(t, err)

	cores := h.Cores()
	require.Len(t, cores, 2)
	assert.Equal(t, 0.0, cores[0].UsagePercent)

	require.NoError(t, h.Refresh())
	cores = h.Cores()

	assert.Equal(t, "cpu0", cores[0].Name)
	assert.Equal(t, "GenuineIntel", cores[0].VendorID)
	assert.Equal(t, "Test CPU", cores[0].Brand)
	assert.InDelta(t, 50.0, cores[0].UsagePercent, 0.001)
	assert.Equal(t, uint64(2400), cores[0].FrequencyMHz)

	// cpu1 falls back to the single info entry and its frequency
	assert.Equal(t, "GenuineIntel", cores[1].VendorID)
	assert.InDelta(t, 0.0, cores[1].UsagePercent, 0.001)
	assert.Equal(t, uint64(3000), cores[1].FrequencyMHz)

	assert.InDelta(t, 25.0, h.GlobalUsage(), 0.001)
	assert.Equal(t, 1, h.PhysicalCoreCount())
}

func TestHostCountersUsageBounded(t *testing.T) {
	times := scriptedTimes(
		[]cpu.TimesStat{{CPU: "cpu0", User: 100, Idle: 100}},
		// counter went backwards
		[]cpu.TimesStat{{CPU: "cpu0", User: 50, Idle: 160}},
	)

	h, err := newHostCounters(times, staticInfo(), staticCount(1), "")
	require.NoError(t, err)
	require.NoError(t, h.Refresh())

	usage := h.Cores()[0].UsagePercent
	assert.GreaterOrEqual(t, usage, 0.0)
	assert.LessOrEqual(t, usage, 100.0)
}

func TestHostCountersInitFailure(t *testing.T) {
	t.Run("times error", func(t *testing.T) {
		failing := func(bool) ([]cpu.TimesStat, error) { return nil, stderrors.New("no /proc") }
		_, err := newHostCounters(failing, staticInfo(), staticCount(1), "")
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCounterInit))
	})

	t.Run("no cores", func(t *testing.T) {
		_, err := newHostCounters(scriptedTimes([]cpu.TimesStat{}), staticInfo(), staticCount(0), "")
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCounterInit))
	})
}

func TestHostCountersDegradedInfo(t *testing.T) {
	info := func() ([]cpu.InfoStat, error) { return nil, stderrors.New("unsupported") }
	counts := func(bool) (int, error) { return 0, stderrors.New("unsupported") }

	h, err := newHostCounters(scriptedTimes([]cpu.TimesStat{{CPU: "cpu0"}}), info, counts, "")
	require.NoError(t, err)

	assert.Equal(t, 0, h.PhysicalCoreCount())
	assert.Empty(t, h.Cores()[0].Brand)
}

func TestHostCountersRefreshFailure(t *testing.T) {
	calls := 0
	times := func(bool) ([]cpu.TimesStat, error) {
		calls++
		if calls > 1 {
			return nil, stderrors.New("read failed")
		}
		return []cpu.TimesStat{{CPU: "cpu0"}}, nil
	}

	h, err := newHostCounters(times, staticInfo(), staticCount(1), "")
	require.NoError(t, err)

	err = h.Refresh()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCounterRefresh))
}

func TestReadScalingFrequency(t *testing.T) {
	root := t.TempDir()
	writeScalingFrequency(t, root, "cpu3", "800000")
	writeScalingFrequency(t, root, "cpu4", "garbage")

	mhz, ok := readScalingFrequency(root, "cpu3")
	assert.True(t, ok)
	assert.Equal(t, uint64(800), mhz)

	_, ok = readScalingFrequency(root, "cpu4")
	assert.False(t, ok)

	_, ok = readScalingFrequency(root, "cpu9")
	assert.False(t, ok)

	_, ok = readScalingFrequency("", "cpu3")
	assert.False(t, ok)
}
