// Package output renders profiling statistics for terminals, scripts and
// language models.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/danpilch/calltrace/pkg/profile"
	"github.com/danpilch/calltrace/pkg/stats"
)

// Format represents the output format type.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatAI    Format = "ai"
	FormatTSV   Format = "tsv"
	FormatCSV   Format = "csv"
)

// Formats lists the accepted formats.
var Formats = []Format{FormatTable, FormatJSON, FormatAI, FormatTSV, FormatCSV}

// ParseFormat validates s. The empty string selects FormatTable.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return FormatTable, nil
	}
	for _, f := range Formats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q (want one of %v)", s, Formats)
}

// flagMarker is appended to functions with corrected measurements.
const flagMarker = "*"

// Formatter handles output formatting.
type Formatter struct {
	format    Format
	writer    io.Writer
	sortBy    stats.SortKey
	top       int
	fileWidth int
	trend     *TrendTracker
	showScore bool
}

// NewFormatter creates a new formatter.
func NewFormatter(format Format, writer io.Writer) *Formatter {
	return &Formatter{
		format:    format,
		writer:    writer,
		sortBy:    stats.SortTotal,
		fileWidth: 40,
	}
}

// SetSort selects the ranking of rows.
func (f *Formatter) SetSort(by stats.SortKey) {
	f.sortBy = by
}

// SetTop limits output to the first n ranked functions. n <= 0 shows all.
func (f *Formatter) SetTop(n int) {
	f.top = n
}

// SetTrendTracker adds a trend column fed by successive renders.
func (f *Formatter) SetTrendTracker(t *TrendTracker) {
	f.trend = t
}

// SetShowScore enables the measurement quality score.
func (f *Formatter) SetShowScore(show bool) {
	f.showScore = show
}

// Render outputs the statistics in the configured format.
func (f *Formatter) Render(p profile.ProfilerStats) error {
	if f.trend != nil {
		f.trend.Observe(p)
	}
	rows := stats.Top(p, f.sortBy, f.top)

	switch f.format {
	case FormatJSON:
		return f.renderJSON(p, rows)
	case FormatAI:
		return f.renderAI(p, rows)
	case FormatTSV:
		return f.renderTSV(rows)
	case FormatCSV:
		return f.renderCSV(rows)
	default:
		return f.renderTable(p, rows)
	}
}

// renderJSON outputs ranked statistics as JSON. A function's total_time
// covers its outermost activations only; see profile.FunctionStats.
func (f *Formatter) renderJSON(p profile.ProfilerStats, rows []profile.FunctionStats) error {
	output := struct {
		TotalTime time.Duration           `json:"total_time"`
		Roots     int                     `json:"roots"`
		SortBy    stats.SortKey           `json:"sort_by"`
		Functions []profile.FunctionStats `json:"functions"`
		Omitted   int                     `json:"omitted,omitempty"`
		Anomalies []profile.Anomaly       `json:"anomalies,omitempty"`
	}{
		TotalTime: p.TotalTime,
		Roots:     p.Roots,
		SortBy:    f.sortBy,
		Functions: rows,
		Omitted:   p.Len() - len(rows),
		Anomalies: p.Anomalies,
	}

	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

// renderTable outputs statistics as a styled table.
func (f *Formatter) renderTable(p profile.ProfilerStats, rows []profile.FunctionStats) error {
	// Define styles
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("62")).
		Padding(0, 1)

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	numStyle := cellStyle.Align(lipgloss.Right)

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		MarginBottom(1)

	fmt.Fprintln(f.writer, titleStyle.Render("Call Profile"))
	fmt.Fprintln(f.writer, strings.Repeat("═", 60))
	fmt.Fprintln(f.writer)

	if len(rows) == 0 {
		fmt.Fprintln(f.writer, mutedStyle.Render("No calls recorded"))
		return nil
	}

	hasTrend := f.trend != nil
	data := make([][]string, len(rows))
	for i, fs := range rows {
		name := profile.FormatKey(fs.Key, f.fileWidth)
		if fs.Flagged() {
			name += " " + warnStyle.Render(flagMarker)
		}
		row := []string{
			name,
			strconv.Itoa(fs.Calls),
			HumanDuration(fs.TotalTime),
			HumanDuration(fs.OwnTime),
			HumanDuration(fs.AvgTime()),
			percentStyle(fs.Percentage).Render(fmt.Sprintf("%.2f%%", fs.Percentage)),
		}
		if hasTrend {
			row = append(row, f.trend.Sparkline(fs.Key))
		}
		data[i] = row
	}

	headers := []string{"FUNCTION", "CALLS", "TOTAL", "OWN", "AVG", "%"}
	if hasTrend {
		headers = append(headers, "TREND")
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col >= 1 && col <= 5 {
				return numStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(data...)

	fmt.Fprintln(f.writer, t)
	fmt.Fprintln(f.writer)
	f.renderSummary(p, len(rows))

	if f.showScore {
		score := QualityScore(p)
		style := okStyle
		if score < 80 {
			style = warnStyle
		}
		if score < 50 {
			style = errStyle
		}
		fmt.Fprintf(f.writer, "Measurement quality: %s\n",
			style.Render(fmt.Sprintf("%d/100 (%s)", score, ScoreLabel(score))))
	}

	f.renderNotes(p)
	return nil
}

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true) // Green
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true) // Yellow
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)  // Red
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))             // Gray
)

func percentStyle(pct float64) lipgloss.Style {
	switch {
	case pct >= 50:
		return errStyle
	case pct >= 20:
		return warnStyle
	default:
		return lipgloss.NewStyle()
	}
}

// renderSummary outputs the summary line.
func (f *Formatter) renderSummary(p profile.ProfilerStats, shown int) {
	parts := []string{
		fmt.Sprintf("%d functions", p.Len()),
		fmt.Sprintf("%d top-level calls", p.Roots),
		fmt.Sprintf("%s total", HumanDuration(p.TotalTime)),
	}
	if shown < p.Len() {
		parts = append(parts, fmt.Sprintf("showing top %d by %s", shown, f.sortBy))
	}
	fmt.Fprintf(f.writer, "Summary: %s\n", strings.Join(parts, ", "))
}

// renderNotes lists the anomalies behind flagged rows.
func (f *Formatter) renderNotes(p profile.ProfilerStats) {
	if len(p.Anomalies) == 0 {
		return
	}
	fmt.Fprintln(f.writer)
	fmt.Fprintln(f.writer, warnStyle.Render(fmt.Sprintf("Notes (%s marks corrected measurements):", flagMarker)))
	for _, a := range p.Anomalies {
		fmt.Fprintf(f.writer, "  %s %s\n", flagMarker, a)
	}
}

// renderAI outputs statistics in an LLM-friendly format.
func (f *Formatter) renderAI(p profile.ProfilerStats, rows []profile.FunctionStats) error {
	fmt.Fprintln(f.writer, "# Call Profile")
	fmt.Fprintf(f.writer, "\n**Total:** %s across %d top-level calls, %d functions\n\n",
		HumanDuration(p.TotalTime), p.Roots, p.Len())

	if len(p.Anomalies) > 0 {
		fmt.Fprintln(f.writer, "## Measurement Issues")
		fmt.Fprintln(f.writer)
		for _, a := range p.Anomalies {
			fmt.Fprintf(f.writer, "- **[%s]** %s: %s\n", a.Kind, a.Key, a.Detail)
		}
		fmt.Fprintln(f.writer)
	}

	fmt.Fprintf(f.writer, "## Functions by %s\n\n", f.sortBy)
	fmt.Fprintln(f.writer, "| Function | Calls | Total | Own | Avg | % |")
	fmt.Fprintln(f.writer, "|----------|-------|-------|-----|-----|---|")
	for _, fs := range rows {
		name := fs.Key.String()
		if fs.Flagged() {
			name = fmt.Sprintf("**%s** %s", name, flagMarker)
		}
		fmt.Fprintf(f.writer, "| %s | %d | %s | %s | %s | %.2f%% |\n",
			name, fs.Calls, HumanDuration(fs.TotalTime), HumanDuration(fs.OwnTime),
			HumanDuration(fs.AvgTime()), fs.Percentage)
	}
	fmt.Fprintln(f.writer)

	fmt.Fprintln(f.writer, "## Interpretation Guide")
	fmt.Fprintln(f.writer)
	fmt.Fprintln(f.writer, "- **Total**: Inclusive time, callees included; recursive re-entries are not counted twice")
	fmt.Fprintln(f.writer, "- **Own**: Exclusive time spent in the function body")
	fmt.Fprintln(f.writer, "- **%**: Total as a share of all top-level calls")

	hints := Hints(p)
	if len(hints) > 0 {
		fmt.Fprintln(f.writer)
		fmt.Fprintln(f.writer, "## Suggested Next Steps")
		fmt.Fprintln(f.writer)
		for _, h := range hints {
			fmt.Fprintf(f.writer, "**%s:**\n", h.Function)
			for _, s := range h.Suggestions {
				fmt.Fprintf(f.writer, "- `%s` - %s\n", s.Command, s.Reason)
			}
			fmt.Fprintln(f.writer)
		}
	}

	return nil
}

// renderTSV outputs statistics as tab-separated values. TOTAL_TIME does
// not count recursive re-entries twice.
func (f *Formatter) renderTSV(rows []profile.FunctionStats) error {
	// Header
	fmt.Fprintln(f.writer, "FUNCTION\tFILE\tLINE\tCALLS\tTOTAL_TIME\tOWN_TIME\tPERCENTAGE\tFLAGGED")

	for _, fs := range rows {
		fmt.Fprintf(f.writer, "%s\t%s\t%d\t%d\t%s\t%s\t%.2f\t%t\n",
			fs.Key.Name, fs.Key.File, fs.Key.Line, fs.Calls,
			Seconds(fs.TotalTime), Seconds(fs.OwnTime), fs.Percentage, fs.Flagged())
	}

	return nil
}

// renderCSV outputs statistics as comma-separated values with times in
// seconds. total_time sums the outermost activations of a function, so a
// recursive function is not counted once per level.
func (f *Formatter) renderCSV(rows []profile.FunctionStats) error {
	w := csv.NewWriter(f.writer)
	if err := w.Write([]string{"function", "calls", "total_time", "own_time", "percentage"}); err != nil {
		return err
	}
	for _, fs := range rows {
		record := []string{
			fs.Key.String(),
			strconv.Itoa(fs.Calls),
			Seconds(fs.TotalTime),
			Seconds(fs.OwnTime),
			strconv.FormatFloat(fs.Percentage, 'f', 2, 64),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// Seconds formats d as seconds with microsecond resolution.
func Seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 6, 64)
}

// HumanDuration formats d with three significant decimals in the largest
// fitting unit.
func HumanDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return fmt.Sprintf("%.3fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
	case d >= time.Microsecond:
		return fmt.Sprintf("%.3fµs", float64(d)/float64(time.Microsecond))
	default:
		return fmt.Sprintf("%dns", int64(d))
	}
}
