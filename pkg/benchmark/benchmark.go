// Package benchmark measures the overhead the profiler adds to
// instrumented code.
package benchmark

import (
	"fmt"
	"io"
	"math"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/danpilch/calltrace/pkg/hook"
	"github.com/danpilch/calltrace/pkg/session"
	"github.com/danpilch/calltrace/pkg/workload"
)

// Options configures a benchmark run.
type Options struct {
	Iterations int
	Warmup     int
}

// DefaultOptions returns sensible benchmark defaults.
func DefaultOptions() Options {
	return Options{
		Iterations: 20,
		Warmup:     3,
	}
}

// Latency summarises a set of run times.
type Latency struct {
	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
	StdDev time.Duration
}

// Result holds benchmark results for a single workload.
type Result struct {
	Workload     string
	Bare         Latency
	Profiled     Latency
	Calls        int
	OverheadPct  float64
	PerCall      time.Duration
	AllocsPerRun float64
}

// Overhead holds the allocations made while profiling.
type Overhead struct {
	AllocBytes uint64
	AllocCount uint64
	GCPauses   uint32
}

var (
	bmTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	bmHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	bmDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	bmWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

// Run benchmarks each workload without a profiler and inside a session.
func Run(workloads []workload.Workload, opts Options) ([]Result, error) {
	if opts.Iterations < 1 {
		opts.Iterations = 1
	}
	var results []Result

	for _, wl := range workloads {
		// Warmup
		for i := 0; i < opts.Warmup; i++ {
			if err := wl.Run(hook.Nop); err != nil {
				return nil, fmt.Errorf("workload %s: %w", wl.Name, err)
			}
		}

		bare := make([]time.Duration, opts.Iterations)
		for i := range bare {
			start := time.Now()
			if err := wl.Run(hook.Nop); err != nil {
				return nil, fmt.Errorf("workload %s: %w", wl.Name, err)
			}
			bare[i] = time.Since(start)
		}

		profiled := make([]time.Duration, opts.Iterations)
		calls := 0
		var allocs uint64
		for i := range profiled {
			before := MeasureOverhead()
			start := time.Now()
			res, err := session.Run(session.Options{CaptureFlame: true}, wl.Run)
			profiled[i] = time.Since(start)
			allocs += MeasureOverhead().AllocCount - before.AllocCount
			if err != nil {
				return nil, fmt.Errorf("workload %s: %w", wl.Name, err)
			}
			calls = 0
			for _, fs := range res.Stats.Functions {
				calls += fs.Calls
			}
		}

		r := Result{
			Workload:     wl.Name,
			Bare:         summarize(bare),
			Profiled:     summarize(profiled),
			Calls:        calls,
			AllocsPerRun: float64(allocs) / float64(opts.Iterations),
		}
		if r.Bare.P50 > 0 {
			r.OverheadPct = float64(r.Profiled.P50-r.Bare.P50) / float64(r.Bare.P50) * 100
		}
		if calls > 0 {
			r.PerCall = (r.Profiled.P50 - r.Bare.P50) / time.Duration(calls)
		}
		results = append(results, r)
	}

	return results, nil
}

func summarize(latencies []time.Duration) Latency {
	// Sort latencies for percentile calculation
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})
	values := make([]float64, len(latencies))
	for i, l := range latencies {
		values[i] = float64(l)
	}
	return Latency{
		P50:    percentile(latencies, 0.50),
		P95:    percentile(latencies, 0.95),
		P99:    percentile(latencies, 0.99),
		StdDev: time.Duration(stddev(values)),
	}
}

// MeasureOverhead returns the process's cumulative allocation counters.
func MeasureOverhead() Overhead {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Overhead{
		AllocBytes: m.TotalAlloc,
		AllocCount: m.Mallocs,
		GCPauses:   m.NumGC,
	}
}

// Since returns the counters accumulated after o was measured.
func (o Overhead) Since() Overhead {
	now := MeasureOverhead()
	return Overhead{
		AllocBytes: now.AllocBytes - o.AllocBytes,
		AllocCount: now.AllocCount - o.AllocCount,
		GCPauses:   now.GCPauses - o.GCPauses,
	}
}

// RenderResults outputs styled benchmark results.
func RenderResults(w io.Writer, results []Result, overhead Overhead) {
	fmt.Fprintln(w, bmTitle.Render("Instrumentation Overhead"))
	fmt.Fprintln(w, bmDim.Render(strings.Repeat("═", 86)))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s %s %s %s %s\n",
		bmHeader.Render("WORKLOAD  "),
		bmHeader.Render("CALLS    "),
		bmHeader.Render("BARE P50   "),
		bmHeader.Render("PROF P50   "),
		bmHeader.Render("PROF P99   "),
		bmHeader.Render("PER CALL  OVERHEAD"))
	fmt.Fprintln(w, "  "+bmDim.Render(strings.Repeat("─", 86)))

	for _, r := range results {
		pct := fmt.Sprintf("%+.0f%%", r.OverheadPct)
		if r.OverheadPct > 100 {
			pct = bmWarn.Render(pct)
		}
		fmt.Fprintf(w, "  %-11s %-10d %-12v %-12v %-12v %-9v %s\n",
			r.Workload, r.Calls, r.Bare.P50, r.Profiled.P50, r.Profiled.P99, r.PerCall, pct)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, bmTitle.Render("Profiler Allocations"))
	fmt.Fprintln(w, bmDim.Render(strings.Repeat("─", 40)))
	fmt.Fprintf(w, "  Memory allocated: %s\n", lipgloss.NewStyle().Bold(true).Render(formatBytes(overhead.AllocBytes)))
	fmt.Fprintf(w, "  Allocations:      %s\n", lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%d", overhead.AllocCount)))
	fmt.Fprintf(w, "  GC pauses:        %s\n", lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%d", overhead.GCPauses)))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum, sumSq float64
	for _, v := range values {
		sum += v
		sumSq += v * v
	}
	n := float64(len(values))
	mean := sum / n
	variance := (sumSq / n) - (mean * mean)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
