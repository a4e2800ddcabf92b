package crosscheck

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/danpilch/calltrace/pkg/profile"
	"github.com/danpilch/calltrace/pkg/session"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	validStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	passStyle     = validStyle
	suspectStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	conflictStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	failStyle     = conflictStyle
)

// Report outputs cross-check validation results and sanity checks.
func Report(w io.Writer, validations []ValidationResult, sanity []SanityResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Profile Cross-Check Report"))
	fmt.Fprintln(w, dimStyle.Render(strings.Repeat("═", 60)))

	if len(validations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Consumer Agreement"))
		rows := make([][]string, len(validations))
		for i, v := range validations {
			readings := make([]string, len(v.Sources))
			for j, s := range v.Sources {
				readings[j] = fmt.Sprintf("%s=%.3f%s", s.Name, s.Value, s.Unit)
			}
			rows[i] = []string{
				v.Metric,
				fmt.Sprintf("%.3f", v.Consensus),
				fmt.Sprintf("%.2f%%", v.MaxDeviation),
				statusLabel(v.Status),
				strings.Join(readings, ", "),
			}
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(dimStyle).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return lipgloss.NewStyle().Padding(0, 1)
			}).
			Headers("METRIC", "CONSENSUS", "MAX DEV", "STATUS", "SOURCES").
			Rows(rows...)
		fmt.Fprintln(w, t)
	}

	if len(sanity) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Invariants"))
	failed := 0
	for _, s := range sanity {
		mark := passStyle.Render("PASS")
		if !s.Passed {
			mark = failStyle.Render("FAIL")
			failed++
		}
		fmt.Fprintf(w, "  [%s] %-34s %s\n", mark, s.Check, dimStyle.Render(s.Details))
	}
	fmt.Fprintln(w)
	if failed == 0 {
		fmt.Fprintf(w, "  %s\n", passStyle.Render(fmt.Sprintf("All %d sanity checks passed.", len(sanity))))
	} else {
		fmt.Fprintf(w, "  %s\n", failStyle.Render(fmt.Sprintf("%d of %d sanity checks failed.", failed, len(sanity))))
	}
}

func statusLabel(s ValidationStatus) string {
	switch s {
	case StatusConflict:
		return conflictStyle.Render("CONFLICT")
	case StatusSuspect:
		return suspectStyle.Render("SUSPECT")
	default:
		return validStyle.Render("VALID")
	}
}

// ReportJSON outputs cross-check results as JSON.
func ReportJSON(w io.Writer, validations []ValidationResult, sanity []SanityResult) error {
	output := struct {
		Validations []ValidationResult `json:"validations"`
		Sanity      []SanityResult     `json:"sanity"`
	}{
		Validations: validations,
		Sanity:      sanity,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

// Failed reports whether any check did not pass or any source conflicts.
func Failed(validations []ValidationResult, sanity []SanityResult) bool {
	for _, v := range validations {
		if v.Status == StatusConflict {
			return true
		}
	}
	for _, s := range sanity {
		if !s.Passed {
			return true
		}
	}
	return false
}

// RunCrossChecks performs full cross-validation of a session result.
func RunCrossChecks(res *session.Result) ([]ValidationResult, []SanityResult) {
	validator := NewValidator()

	var validations []ValidationResult
	if sources := TotalTimeSources(res); len(sources) > 1 {
		validations = append(validations, validator.CrossCheck("Top-level time", sources))
	}
	if sources := CallCountSources(res); len(sources) > 1 {
		validations = append(validations, validator.CrossCheck("Call count", sources))
	}

	sanity := RunSanityChecks(res.Stats, res.Flame, res.Duration)
	return validations, sanity
}

// TotalTimeSources reads the top-level time from every consumer that
// tracks it, in microseconds.
func TotalTimeSources(res *session.Result) []Source {
	sources := []Source{micros("aggregator", res.Stats.TotalTime)}
	if res.Flame != nil {
		sources = append(sources, micros("flame", res.Flame.Root.Value))
	}
	if len(res.Trees) > 0 {
		var total time.Duration
		for _, t := range res.Trees {
			for _, r := range t.Roots {
				total += t.Frame(r).Duration()
			}
		}
		sources = append(sources, micros("frames", total))
	}
	return sources
}

// CallCountSources compares the aggregated call count with the number of
// retained frames.
func CallCountSources(res *session.Result) []Source {
	calls := 0
	for _, fs := range res.Stats.Functions {
		calls += fs.Calls
	}
	sources := []Source{{Name: "aggregator", Value: float64(calls)}}
	if len(res.Trees) > 0 {
		frames := 0
		for _, t := range res.Trees {
			for _, r := range t.Roots {
				t.Walk(r, func(*profile.CallFrame, int) { frames++ })
			}
		}
		sources = append(sources, Source{Name: "frames", Value: float64(frames)})
	}
	return sources
}

func micros(name string, d time.Duration) Source {
	return Source{Name: name, Value: float64(d) / float64(time.Microsecond), Unit: "µs"}
}
