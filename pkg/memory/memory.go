// Package memory tracks heap growth and allocation sites between two
// points of a program, complementing the call profiler.
package memory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"sort"
	"strings"
	"sync"
	"time"

	gprofile "github.com/google/pprof/profile"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
)

var (
	ErrRunning    = errors.New("memory tracker is already running")
	ErrNotRunning = errors.New("memory tracker is not running")
)

// Snapshot is the memory state of the process at one instant.
type Snapshot struct {
	Taken      time.Time
	HeapAlloc  uint64
	TotalAlloc uint64
	Mallocs    uint64
	NumGC      uint32
	RSS        uint64
	// SystemUsedPercent is host memory usage, for context.
	SystemUsedPercent float64

	sites map[string]site
}

type site struct {
	bytes   int64
	objects int64
}

// Allocation is the memory allocated at one site between two snapshots.
type Allocation struct {
	Location string `json:"location"`
	Bytes    int64  `json:"bytes"`
	Objects  int64  `json:"objects"`
}

// Delta compares two snapshots.
type Delta struct {
	SizeBefore     uint64        `json:"size_before"`
	SizeAfter      uint64        `json:"size_after"`
	Growth         int64         `json:"growth"`
	RSSBefore      uint64        `json:"rss_before"`
	RSSAfter       uint64        `json:"rss_after"`
	Allocated      uint64        `json:"allocated"`
	Mallocs        uint64        `json:"mallocs"`
	GCs            uint32        `json:"gcs"`
	Elapsed        time.Duration `json:"elapsed"`
	TopAllocations []Allocation  `json:"top_allocations"`
}

// Take captures a snapshot. A GC runs first so the heap profile reflects
// every allocation made so far.
func Take() (Snapshot, error) {
	runtime.GC()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s := Snapshot{
		Taken:      time.Now(),
		HeapAlloc:  ms.HeapAlloc,
		TotalAlloc: ms.TotalAlloc,
		Mallocs:    ms.Mallocs,
		NumGC:      ms.NumGC,
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return s, fmt.Errorf("cannot inspect process: %w", err)
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return s, fmt.Errorf("cannot read process memory: %w", err)
	}
	s.RSS = info.RSS

	if vm, err := mem.VirtualMemory(); err == nil {
		s.SystemUsedPercent = vm.UsedPercent
	}

	sites, err := heapSites()
	if err != nil {
		return s, err
	}
	s.sites = sites
	return s, nil
}

// heapSites sums cumulative allocations per allocating function.
func heapSites() (map[string]site, error) {
	var buf bytes.Buffer
	if err := pprof.Lookup("heap").WriteTo(&buf, 0); err != nil {
		return nil, fmt.Errorf("cannot write heap profile: %w", err)
	}
	prof, err := gprofile.Parse(&buf)
	if err != nil {
		return nil, fmt.Errorf("cannot parse heap profile: %w", err)
	}

	bytesIdx, objectsIdx := -1, -1
	for i, st := range prof.SampleType {
		switch st.Type {
		case "alloc_space":
			bytesIdx = i
		case "alloc_objects":
			objectsIdx = i
		}
	}
	if bytesIdx < 0 || objectsIdx < 0 {
		return nil, fmt.Errorf("heap profile has no allocation samples")
	}

	sites := make(map[string]site)
	for _, sample := range prof.Sample {
		name := allocator(sample)
		s := sites[name]
		s.bytes += sample.Value[bytesIdx]
		s.objects += sample.Value[objectsIdx]
		sites[name] = s
	}
	return sites, nil
}

// allocator names the innermost non-runtime function of a sample.
func allocator(sample *gprofile.Sample) string {
	fallback := "unknown"
	for _, loc := range sample.Location {
		for _, line := range loc.Line {
			if line.Function == nil {
				continue
			}
			name := line.Function.Name
			if fallback == "unknown" {
				fallback = name
			}
			if !isRuntime(name) {
				return fmt.Sprintf("%s (%s:%d)", name, line.Function.Filename, line.Line)
			}
		}
	}
	return fallback
}

func isRuntime(name string) bool {
	for _, prefix := range []string{"runtime.", "internal/", "reflect."} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Diff compares two snapshots and lists at most top allocation sites,
// largest first.
func Diff(before, after Snapshot, top int) Delta {
	d := Delta{
		SizeBefore: before.HeapAlloc,
		SizeAfter:  after.HeapAlloc,
		Growth:     int64(after.HeapAlloc) - int64(before.HeapAlloc),
		RSSBefore:  before.RSS,
		RSSAfter:   after.RSS,
		Allocated:  after.TotalAlloc - before.TotalAlloc,
		Mallocs:    after.Mallocs - before.Mallocs,
		GCs:        after.NumGC - before.NumGC,
		Elapsed:    after.Taken.Sub(before.Taken),
	}

	for name, a := range after.sites {
		b := before.sites[name]
		if a.bytes-b.bytes <= 0 {
			continue
		}
		d.TopAllocations = append(d.TopAllocations, Allocation{
			Location: name,
			Bytes:    a.bytes - b.bytes,
			Objects:  a.objects - b.objects,
		})
	}
	sort.Slice(d.TopAllocations, func(i, j int) bool {
		x, y := d.TopAllocations[i], d.TopAllocations[j]
		if x.Bytes != y.Bytes {
			return x.Bytes > y.Bytes
		}
		return x.Location < y.Location
	})
	if top > 0 && len(d.TopAllocations) > top {
		d.TopAllocations = d.TopAllocations[:top]
	}
	return d
}

// Tracker measures memory between Start and Stop. It satisfies the same
// Start/Stop/Report lifecycle as a profiling session.
type Tracker struct {
	logger *logrus.Logger
	top    int

	mu      sync.Mutex
	running bool
	before  Snapshot
	delta   *Delta
}

// NewTracker creates a tracker reporting the top allocation sites. A nil
// logger logs warnings to stderr.
func NewTracker(logger *logrus.Logger, top int) *Tracker {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	if top <= 0 {
		top = 10
	}
	return &Tracker{logger: logger, top: top}
}

// Start takes the baseline snapshot.
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrRunning
	}
	s, err := Take()
	if err != nil {
		return err
	}
	t.before = s
	t.delta = nil
	t.running = true
	return nil
}

// Stop takes the second snapshot and computes the delta.
func (t *Tracker) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return ErrNotRunning
	}
	t.running = false
	after, err := Take()
	if err != nil {
		return err
	}
	d := Diff(t.before, after, t.top)
	t.delta = &d

	t.logger.WithFields(logrus.Fields{
		"growth":    d.Growth,
		"allocated": d.Allocated,
		"sites":     len(d.TopAllocations),
	}).Debug("memory tracking stopped")
	return nil
}

// Delta returns the result of the last Stop.
func (t *Tracker) Delta() (*Delta, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.delta == nil {
		return nil, ErrNotRunning
	}
	d := *t.delta
	return &d, nil
}

// Report writes the delta as text.
func (t *Tracker) Report(w io.Writer) error {
	d, err := t.Delta()
	if err != nil {
		return err
	}
	return d.WriteText(w)
}

// WriteText writes the delta as aligned text.
func (d *Delta) WriteText(w io.Writer) error {
	tw := &textWriter{w: w}
	tw.printf("heap: %s -> %s (%+d bytes) in %v\n", Bytes(d.SizeBefore), Bytes(d.SizeAfter), d.Growth, d.Elapsed.Round(time.Microsecond))
	tw.printf("rss:  %s -> %s\n", Bytes(d.RSSBefore), Bytes(d.RSSAfter))
	tw.printf("allocated %s in %d objects, %d GCs\n", Bytes(d.Allocated), d.Mallocs, d.GCs)
	if len(d.TopAllocations) == 0 {
		return tw.err
	}
	tw.printf("top allocation sites:\n")
	for _, a := range d.TopAllocations {
		tw.printf("  %10s  %8d objs  %s\n", Bytes(uint64(a.Bytes)), a.Objects, a.Location)
	}
	return tw.err
}

// textWriter keeps the first write error and skips later writes.
type textWriter struct {
	w   io.Writer
	err error
}

func (t *textWriter) printf(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format, args...)
}

// Bytes formats n with a binary unit.
func Bytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
