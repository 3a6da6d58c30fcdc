package services

import (
	stderrors "errors"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"monsoon/internal/errors"
	"monsoon/internal/logger"
	"monsoon/internal/models"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

var processLog = logger.Component("processes")

// ProcessSource lists the processes running on the host. Each call is
// one tick: CPU usage is measured against the previous call.
type ProcessSource interface {
	List() ([]models.ProcessInfo, error)
}

// ProcessFactory opens a process source for one subscription
type ProcessFactory func() (ProcessSource, error)

// ProcessSink receives the process batches of one subscription
type ProcessSink interface {
	DeliverProcesses(models.ProcessBatch) error
}

// processHandle is the part of *process.Process read per tick
type processHandle interface {
	Name() (string, error)
	CmdlineSlice() ([]string, error)
	Exe() (string, error)
	Times() (*cpu.TimesStat, error)
	MemoryInfo() (*process.MemoryInfoStat, error)
	Ppid() (int32, error)
	Status() ([]string, error)
	CreateTime() (int64, error)
}

type processEntry struct {
	pid    int32
	handle processHandle
}

type processTimes struct {
	busy float64
	at   time.Time
}

// HostProcesses reads the process table through gopsutil
type HostProcesses struct {
	list     func() ([]processEntry, error)
	now      func() time.Time
	previous map[int32]processTimes
}

// NewHostProcesses opens a process source on the host process table
func NewHostProcesses() (ProcessSource, error) {
	return newHostProcesses(listHostProcesses, time.Now), nil
}

func newHostProcesses(list func() ([]processEntry, error), now func() time.Time) *HostProcesses {
	return &HostProcesses{
		list:     list,
		now:      now,
		previous: make(map[int32]processTimes),
	}
}

func listHostProcesses() ([]processEntry, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	entries := make([]processEntry, 0, len(procs))
	for _, p := range procs {
		entries = append(entries, processEntry{pid: p.Pid, handle: p})
	}
	return entries, nil
}

// List reads every process still alive, busiest first. A process that
// exits between enumeration and reading its name is skipped. CPU usage
// of a process seen for the first time is its lifetime average.
func (h *HostProcesses) List() ([]models.ProcessInfo, error) {
	entries, err := h.list()
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrCollectProcesses, err)
	}

	now := h.now()
	next := make(map[int32]processTimes, len(entries))
	list := make([]models.ProcessInfo, 0, len(entries))

	for _, e := range entries {
		name, err := e.handle.Name()
		if err != nil {
			continue
		}

		info := models.ProcessInfo{PID: e.pid, Name: name, Status: "unknown"}
		if cmd, err := e.handle.CmdlineSlice(); err == nil && cmd != nil {
			info.Cmd = cmd
		} else {
			info.Cmd = []string{}
		}
		if exe, err := e.handle.Exe(); err == nil {
			info.Exe = exe
		}
		if ppid, err := e.handle.Ppid(); err == nil {
			info.Parent = ppid
		}
		if mem, err := e.handle.MemoryInfo(); err == nil && mem != nil {
			info.Memory = mem.RSS
			info.VirtualMemory = mem.VMS
		}
		if status, err := e.handle.Status(); err == nil && len(status) > 0 {
			info.Status = mapProcessState(status[0])
		}

		var started time.Time
		if created, err := e.handle.CreateTime(); err == nil && created > 0 {
			started = time.UnixMilli(created)
			if now.After(started) {
				info.RunTime = uint64(now.Sub(started).Seconds())
			}
		}

		if times, err := e.handle.Times(); err == nil && times != nil {
			busy := times.User + times.System
			if prev, ok := h.previous[e.pid]; ok {
				info.CPUUsage = busyPercent(busy-prev.busy, now.Sub(prev.at))
			} else if !started.IsZero() {
				info.CPUUsage = busyPercent(busy, now.Sub(started))
			}
			next[e.pid] = processTimes{busy: busy, at: now}
		}

		list = append(list, info)
	}

	h.previous = next
	sortProcesses(list)
	return list, nil
}

func busyPercent(busySeconds float64, wall time.Duration) float64 {
	if busySeconds <= 0 || wall <= 0 {
		return 0
	}
	return busySeconds / wall.Seconds() * 100
}

// sortProcesses orders by CPU usage, then resident memory, then PID
func sortProcesses(list []models.ProcessInfo) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CPUUsage != list[j].CPUUsage {
			return list[i].CPUUsage > list[j].CPUUsage
		}
		if list[i].Memory != list[j].Memory {
			return list[i].Memory > list[j].Memory
		}
		return list[i].PID < list[j].PID
	})
}

// LimitProcesses keeps the first limit entries. A limit of zero or less
// keeps everything.
func LimitProcesses(list []models.ProcessInfo, limit int) []models.ProcessInfo {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}

// mapProcessState converts kernel state codes and gopsutil status
// words to readable strings
func mapProcessState(state string) string {
	switch state {
	case "":
		return "unknown"
	case process.Sleep:
		return "sleeping"
	case process.Stop:
		return "stopped"
	case process.Running, process.Idle, process.Zombie, process.Wait, process.Lock:
		return state
	}

	if len(state) > 1 {
		return state
	}
	switch state[0] {
	case 'R':
		return "running"
	case 'S':
		return "sleeping"
	case 'D':
		return "disk_sleep"
	case 'Z':
		return "zombie"
	case 'T':
		return "stopped"
	case 't':
		return "tracing_stop"
	case 'W':
		return "paging"
	case 'X', 'x':
		return "dead"
	case 'K':
		return "wakekill"
	case 'P':
		return "parked"
	case 'I':
		return "idle"
	default:
		return state
	}
}

// ProcessSampler pushes the process list of one subscription on the
// same tick cadence as the capability sampler
type ProcessSampler struct {
	id       string
	source   ProcessSource
	sink     ProcessSink
	period   time.Duration
	stop     *atomic.Bool
	wake     <-chan struct{}
	sequence uint64
	now      func() time.Time
}

// Run ticks until the stop flag is observed, listing fails, or delivery
// fails
func (s *ProcessSampler) Run() error {
	err := tickLoop(s.stop, s.wake, s.period, s.tick)
	if err == nil {
		processLog.Debug().Str("subscription", s.id).Uint64("batches", s.sequence).Msg("Stop observed")
	}
	return err
}

func (s *ProcessSampler) tick() error {
	list, err := s.source.List()
	if err != nil {
		return err
	}

	s.sequence++
	batch := models.ProcessBatch{
		SubscriptionID: s.id,
		Sequence:       s.sequence,
		Timestamp:      s.now(),
		Processes:      list,
	}
	if err := s.sink.DeliverProcesses(batch); err != nil {
		return errors.New().Wrap(errors.ErrDeliveryFailed, err)
	}
	return nil
}

// killProcess is replaced in tests
var killProcess = func(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// KillProcess sends SIGKILL to pid. Init and the server itself are
// refused.
func KillProcess(pid int32) error {
	if pid <= 1 || int(pid) == os.Getpid() {
		return errors.New().WithData(errors.ErrInvalidArgument, map[string]interface{}{"pid": pid}).
			WithMessage("Refusing to kill this process")
	}

	if err := killProcess(pid); err != nil {
		if stderrors.Is(err, process.ErrorProcessNotRunning) {
			return errors.New().WithData(errors.ErrProcessNotFound, map[string]interface{}{"pid": pid})
		}
		return errors.New().Wrap(errors.ErrKillProcess, err)
	}

	processLog.Warn().Int32("pid", pid).Msg("Process killed")
	return nil
}
