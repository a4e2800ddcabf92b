package workload

import (
	"fmt"
	"io"
	"runtime"
	"strconv"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
)

// Host describes the machine a profile was taken on. Timings from a busy
// host are less comparable.
type Host struct {
	CPUs         int        `json:"cpus"`
	GoVersion    string     `json:"go_version"`
	LoadAverages [3]float64 `json:"load_averages"`
	LoadTrend    string     `json:"load_trend"`
}

// Characterize gathers host information. Load averages are left at zero on
// platforms that do not report them.
func Characterize() Host {
	h := Host{
		CPUs:      runtime.NumCPU(),
		GoVersion: runtime.Version(),
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		h.CPUs = n
	}
	if avg, err := load.Avg(); err == nil {
		h.LoadAverages = [3]float64{avg.Load1, avg.Load5, avg.Load15}
	}
	h.LoadTrend = characterizeLoadTrend(h.LoadAverages[0], h.LoadAverages[1], h.LoadAverages[2])
	return h
}

// Busy reports whether the one-minute load exceeds the CPU count.
func (h Host) Busy() bool {
	return h.CPUs > 0 && h.LoadAverages[0] > float64(h.CPUs)
}

// Metadata renders the host as snapshot metadata.
func (h Host) Metadata() map[string]string {
	return map[string]string{
		"cpus":       strconv.Itoa(h.CPUs),
		"go_version": h.GoVersion,
		"load1":      strconv.FormatFloat(h.LoadAverages[0], 'f', 2, 64),
		"load_trend": h.LoadTrend,
	}
}

// Render outputs the host summary line.
func (h Host) Render(w io.Writer) {
	trendStyle := wlOK
	if h.LoadTrend == "increasing" || h.Busy() {
		trendStyle = wlWarn
	}
	fmt.Fprintf(w, "%s %d CPUs, %s, load %.2f %.2f %.2f %s\n",
		wlTitle.Render("Host:"), h.CPUs, h.GoVersion,
		h.LoadAverages[0], h.LoadAverages[1], h.LoadAverages[2],
		trendStyle.Render("("+h.LoadTrend+")"))
}

// characterizeLoadTrend determines if load is increasing, decreasing, or stable.
func characterizeLoadTrend(load1, load5, load15 float64) string {
	if load1 > load5*1.2 && load5 > load15*1.2 {
		return "increasing"
	}
	if load1 < load5*0.8 && load5 < load15*0.8 {
		return "decreasing"
	}
	return "stable"
}
