package baseline

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/danpilch/calltrace/pkg/flamegraph"
	"github.com/danpilch/calltrace/pkg/profile"
)

// Severity indicates the magnitude of a timing drift.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
	SeverityRegress  Severity = "regression"
)

// Presence tells whether a function was seen in both profiles.
type Presence string

const (
	Both    Presence = ""
	Added   Presence = "added"
	Removed Presence = "removed"
)

// Comparison holds the drift analysis for a single function.
type Comparison struct {
	Key           profile.FunctionKey
	BaselineTotal time.Duration
	CurrentTotal  time.Duration
	BaselineCalls int
	CurrentCalls  int
	DeltaPct      float64
	Severity      Severity
	Presence      Presence
}

var (
	blTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	blHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	blDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	blOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	blWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	blErr    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	blMinor  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

// Compare matches functions by key and calculates total-time drift.
// Results are ordered by absolute drift, largest first.
func Compare(baseline *Snapshot, current profile.ProfilerStats) []Comparison {
	var comparisons []Comparison
	for key, cur := range current.Functions {
		c := Comparison{
			Key:          key,
			CurrentTotal: cur.TotalTime,
			CurrentCalls: cur.Calls,
		}
		if base, ok := baseline.Stats.Functions[key]; ok {
			c.BaselineTotal = base.TotalTime
			c.BaselineCalls = base.Calls
		} else {
			c.Presence = Added
		}
		c.DeltaPct = deltaPct(c.BaselineTotal, c.CurrentTotal)
		c.Severity = classifySeverity(c.DeltaPct)
		comparisons = append(comparisons, c)
	}
	for key, base := range baseline.Stats.Functions {
		if _, ok := current.Functions[key]; ok {
			continue
		}
		comparisons = append(comparisons, Comparison{
			Key:           key,
			BaselineTotal: base.TotalTime,
			BaselineCalls: base.Calls,
			DeltaPct:      -100,
			Severity:      classifySeverity(-100),
			Presence:      Removed,
		})
	}

	sort.Slice(comparisons, func(i, j int) bool {
		a, b := math.Abs(comparisons[i].DeltaPct), math.Abs(comparisons[j].DeltaPct)
		if a != b {
			return a > b
		}
		return comparisons[i].Key.Less(comparisons[j].Key)
	})
	return comparisons
}

func deltaPct(base, cur time.Duration) float64 {
	if base != 0 {
		return float64(cur-base) / math.Abs(float64(base)) * 100
	}
	if cur != 0 {
		return 100
	}
	return 0
}

func classifySeverity(deltaPct float64) Severity {
	absDelta := math.Abs(deltaPct)
	if absDelta < 5 {
		return SeverityNone
	}
	if absDelta < 15 {
		return SeverityMinor
	}
	if absDelta < 30 {
		return SeverityModerate
	}
	if deltaPct > 0 {
		return SeverityRegress
	}
	return SeverityMajor
}

// Regressions counts comparisons that got significantly slower.
func Regressions(comparisons []Comparison) int {
	n := 0
	for _, c := range comparisons {
		if c.Severity == SeverityRegress {
			n++
		}
	}
	return n
}

// ComparePaths diffs the flame graphs of two snapshots. It returns nil when
// either snapshot has no flame graph.
func ComparePaths(baseline, current *Snapshot) []flamegraph.PathDelta {
	if baseline.Flame == nil || current.Flame == nil {
		return nil
	}
	return flamegraph.Diff(baseline.Flame, current.Flame)
}

// RenderComparison outputs a styled comparison table.
func RenderComparison(w io.Writer, baseline *Snapshot, comparisons []Comparison) {
	fmt.Fprintln(w, blTitle.Render("Profile Comparison"))
	fmt.Fprintln(w, blDim.Render(strings.Repeat("═", 90)))
	fmt.Fprintf(w, "Comparing against %s (from %s)\n\n",
		lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%q", baseline.Name)),
		blDim.Render(baseline.Timestamp.Format("2006-01-02 15:04:05")))

	fmt.Fprintf(w, "  %s %s %s %s %s\n",
		blHeader.Render("FUNCTION                            "),
		blHeader.Render("BASELINE    "),
		blHeader.Render("CURRENT     "),
		blHeader.Render("DELTA     "),
		blHeader.Render("SEVERITY  "))
	fmt.Fprintln(w, "  "+blDim.Render(strings.Repeat("─", 90)))

	regressions := 0
	for _, c := range comparisons {
		deltaStr := fmt.Sprintf("%+.1f%%", c.DeltaPct)
		if c.Presence != Both {
			deltaStr = string(c.Presence)
		}
		var sevStr string
		switch c.Severity {
		case SeverityRegress:
			sevStr = blErr.Render("REGRESSION")
			regressions++
		case SeverityMajor:
			sevStr = blOK.Render("improved")
		case SeverityModerate:
			sevStr = blWarn.Render("moderate")
		case SeverityMinor:
			sevStr = blMinor.Render("minor")
		default:
			sevStr = blOK.Render("none")
		}

		fmt.Fprintf(w, "  %-37s %-14v %-14v %-11s %s\n",
			profile.FormatKey(c.Key, 20), c.BaselineTotal, c.CurrentTotal, deltaStr, sevStr)
	}

	fmt.Fprintln(w)
	if regressions > 0 {
		fmt.Fprintf(w, "  %s\n", blErr.Render(fmt.Sprintf("%d potential regressions detected.", regressions)))
	} else {
		fmt.Fprintf(w, "  %s\n", blOK.Render("No significant regressions detected."))
	}
}
