package services

import (
	"sync"
	"sync/atomic"
	"time"

	"monsoon/internal/errors"
	"monsoon/internal/models"
	"monsoon/internal/procid"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

type fakeCounters struct {
	cores      []CoreCounter
	global     float64
	physical   int
	refreshErr error
	refreshes  atomic.Int64
}

func (f *fakeCounters) Refresh() error {
	f.refreshes.Add(1)
	return f.refreshErr
}

func (f *fakeCounters) Cores() []CoreCounter {
	out := make([]CoreCounter, len(f.cores))
	copy(out, f.cores)
	return out
}

func (f *fakeCounters) GlobalUsage() float64   { return f.global }
func (f *fakeCounters) PhysicalCoreCount() int { return f.physical }

func fakeFactory(counters *fakeCounters) CounterFactory {
	return func() (CounterSource, error) {
		return counters, nil
	}
}

// quadCore has 4 logical cores on 2 physical ones
func quadCore() *fakeCounters {
	core := func(name string, usage float64) CoreCounter {
		return CoreCounter{
			Name:         name,
			VendorID:     "GenuineIntel",
			Brand:        "Intel(R) Core(TM) i5-7200U CPU @ 2.50GHz",
			UsagePercent: usage,
			FrequencyMHz: 2500,
		}
	}
	return &fakeCounters{
		cores: []CoreCounter{
			core("cpu0", 10), core("cpu1", 20), core("cpu2", 30), core("cpu3", 40),
		},
		global:   25,
		physical: 2,
	}
}

type fakeIDs struct {
	leaves procid.FeatureLeaves
	caches []procid.CacheParams
	brand  string
	vendor string
}

func (f *fakeIDs) FeatureLeaves() procid.FeatureLeaves   { return f.leaves }
func (f *fakeIDs) CacheParameters() []procid.CacheParams { return f.caches }
func (f *fakeIDs) BrandString() string                   { return f.brand }
func (f *fakeIDs) Vendor() string                        { return f.vendor }

// recordingSink keeps every delivered batch and can be told to fail
type recordingSink struct {
	mu      sync.Mutex
	batches []models.SampleBatch
	fail    bool
	first   chan struct{}
	once    sync.Once
}

func newRecordingSink() *recordingSink {
	return &recordingSink{first: make(chan struct{})}
}

func (s *recordingSink) Deliver(batch models.SampleBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return errors.New().New(errors.ErrSubscriberGone)
	}
	s.batches = append(s.batches, batch)
	s.once.Do(func() { close(s.first) })
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *recordingSink) all() []models.SampleBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SampleBatch, len(s.batches))
	copy(out, s.batches)
	return out
}

// fakeProcesses returns the same list on every tick
type fakeProcesses struct {
	list    []models.ProcessInfo
	listErr error
	lists   atomic.Int64
}

func (f *fakeProcesses) List() ([]models.ProcessInfo, error) {
	f.lists.Add(1)
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.ProcessInfo, len(f.list))
	copy(out, f.list)
	return out, nil
}

func fakeProcessFactory(source *fakeProcesses) ProcessFactory {
	return func() (ProcessSource, error) {
		return source, nil
	}
}

func twoProcesses() *fakeProcesses {
	return &fakeProcesses{list: []models.ProcessInfo{
		{PID: 42, Name: "postgres", Cmd: []string{"postgres", "-D", "/var/lib/pg"}, CPUUsage: 12.5, Memory: 64 << 20, Parent: 1, Status: "running"},
		{PID: 7, Name: "sshd", Cmd: []string{"/usr/sbin/sshd"}, Memory: 4 << 20, Parent: 1, Status: "sleeping"},
	}}
}

// fakeHandle stands in for a *process.Process
type fakeHandle struct {
	name    string
	nameErr error
	cmd     []string
	exe     string
	user    float64
	system  float64
	rss     uint64
	vms     uint64
	ppid    int32
	status  []string
	created time.Time
}

func (f *fakeHandle) Name() (string, error)           { return f.name, f.nameErr }
func (f *fakeHandle) CmdlineSlice() ([]string, error) { return f.cmd, nil }
func (f *fakeHandle) Exe() (string, error)            { return f.exe, nil }
func (f *fakeHandle) Ppid() (int32, error)            { return f.ppid, nil }
func (f *fakeHandle) Status() ([]string, error)       { return f.status, nil }

func (f *fakeHandle) Times() (*cpu.TimesStat, error) {
	return &cpu.TimesStat{User: f.user, System: f.system}, nil
}

func (f *fakeHandle) MemoryInfo() (*process.MemoryInfoStat, error) {
	return &process.MemoryInfoStat{RSS: f.rss, VMS: f.vms}, nil
}

func (f *fakeHandle) CreateTime() (int64, error) {
	return f.created.UnixMilli(), nil
}

// recordingProcessSink keeps every delivered process batch
type recordingProcessSink struct {
	mu      sync.Mutex
	batches []models.ProcessBatch
	fail    bool
}

func (s *recordingProcessSink) DeliverProcesses(batch models.ProcessBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return errors.New().New(errors.ErrSubscriberGone)
	}
	s.batches = append(s.batches, batch)
	return nil
}

func (s *recordingProcessSink) all() []models.ProcessBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ProcessBatch, len(s.batches))
	copy(out, s.batches)
	return out
}
