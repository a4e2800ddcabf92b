package debug

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/danpilch/calltrace/pkg/callstack"
	"github.com/danpilch/calltrace/pkg/hook"
	"github.com/danpilch/calltrace/pkg/profile"
)

var (
	debugTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	debugHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	debugDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// HookTiming is the wall time spent inside a hook's own calls.
type HookTiming struct {
	Name   string
	Enters int
	Exits  int
	Enter  time.Duration
	Exit   time.Duration
}

// PerCall returns the mean cost of one enter/exit pair.
func (t HookTiming) PerCall() time.Duration {
	if t.Enters == 0 {
		return 0
	}
	return (t.Enter + t.Exit) / time.Duration(t.Enters)
}

// TimedHook wraps a hook to record how long Enter and Exit take.
type TimedHook struct {
	inner hook.Hook

	mu     sync.Mutex
	timing HookTiming
}

// NewTimedHook wraps h with timing instrumentation.
func NewTimedHook(name string, h hook.Hook) *TimedHook {
	return &TimedHook{
		inner:  h,
		timing: HookTiming{Name: name},
	}
}

// Enter runs the wrapped Enter and records its duration.
func (t *TimedHook) Enter(key profile.FunctionKey) callstack.Handle {
	start := time.Now()
	h := t.inner.Enter(key)
	d := time.Since(start)

	t.mu.Lock()
	t.timing.Enters++
	t.timing.Enter += d
	t.mu.Unlock()
	return h
}

// Exit runs the wrapped Exit and records its duration.
func (t *TimedHook) Exit(h callstack.Handle) {
	start := time.Now()
	t.inner.Exit(h)
	d := time.Since(start)

	t.mu.Lock()
	t.timing.Exits++
	t.timing.Exit += d
	t.mu.Unlock()
}

// Timing returns the accumulated timing.
func (t *TimedHook) Timing() HookTiming {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timing
}

// TimingReport prints a styled timing summary for all timed hooks.
func TimingReport(w io.Writer, timings []HookTiming) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, debugTitle.Render("Hook Timing Report"))
	fmt.Fprintln(w, debugDim.Render(strings.Repeat("═", 60)))
	fmt.Fprintf(w, "  %s  %s  %s  %s\n",
		debugHeader.Render("HOOK               "),
		debugHeader.Render("CALLS     "),
		debugHeader.Render("TOTAL       "),
		debugHeader.Render("PER CALL    "))
	fmt.Fprintln(w, "  "+debugDim.Render(strings.Repeat("─", 60)))

	var total time.Duration
	for _, t := range timings {
		fmt.Fprintf(w, "  %-20s %-11d %-13v %v\n", t.Name, t.Enters, t.Enter+t.Exit, t.PerCall())
		total += t.Enter + t.Exit
	}
	fmt.Fprintln(w, "  "+debugDim.Render(strings.Repeat("─", 60)))
	fmt.Fprintf(w, "  %-20s %v\n",
		lipgloss.NewStyle().Bold(true).Render("TOTAL"), total)
}
