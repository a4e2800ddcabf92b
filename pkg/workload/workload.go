// Package workload provides small instrumented programs used to exercise
// and demonstrate the profiler.
package workload

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/danpilch/calltrace/pkg/hook"
	"github.com/danpilch/calltrace/pkg/profile"
)

// Workload is a named instrumented program.
type Workload struct {
	Name        string
	Description string
	Run         func(h hook.Hook) error
}

// Function keys of the instrumented functions. They are fixed so that
// profiles of different builds compare cleanly.
var (
	KeyFib      = profile.FunctionKey{Name: "workload.fib", File: "workload.go", Line: 1}
	KeySum      = profile.FunctionKey{Name: "workload.sum", File: "workload.go", Line: 2}
	KeyLoop     = profile.FunctionKey{Name: "workload.loop", File: "workload.go", Line: 3}
	KeyLeaf     = profile.FunctionKey{Name: "workload.leaf", File: "workload.go", Line: 4}
	KeyNested   = profile.FunctionKey{Name: "workload.nested", File: "workload.go", Line: 5}
	KeyParse    = profile.FunctionKey{Name: "workload.parse", File: "workload.go", Line: 6}
	KeyValidate = profile.FunctionKey{Name: "workload.validate", File: "workload.go", Line: 7}
)

// Fib computes the nth Fibonacci number recursively, one frame per call.
func Fib(h hook.Hook, n int) int {
	defer hook.Track(h, KeyFib)()
	if n < 2 {
		return n
	}
	return Fib(h, n-1) + Fib(h, n-2)
}

// FibCalls returns the number of calls Fib(n) makes.
func FibCalls(n int) int {
	if n < 2 {
		return 1
	}
	return 1 + FibCalls(n-1) + FibCalls(n-2)
}

// Sum adds the integers below n in a single frame.
func Sum(h hook.Hook, n int) int {
	defer hook.Track(h, KeySum)()
	total := 0
	for i := 0; i < n; i++ {
		total += i
	}
	return total
}

// Loop calls a small leaf function n times.
func Loop(h hook.Hook, n int) int {
	defer hook.Track(h, KeyLoop)()
	acc := 0
	for i := 0; i < n; i++ {
		acc += leaf(h, i)
	}
	return acc
}

func leaf(h hook.Hook, i int) int {
	defer hook.Track(h, KeyLeaf)()
	return i * i % 7
}

// Nested descends depth levels, summing work at the bottom.
func Nested(h hook.Hook, depth int) int {
	defer hook.Track(h, KeyNested)()
	if depth <= 0 {
		return Sum(h, 1000)
	}
	return Nested(h, depth-1) + 1
}

// ErrInvalid is returned by Validate for rejected input.
var ErrInvalid = errors.New("invalid record")

// Parse validates every record, recovering from the panic raised by a
// malformed one. Frames are closed on the panicking path as well.
func Parse(h hook.Hook, records []string) (ok int, err error) {
	defer hook.Track(h, KeyParse)()
	for _, r := range records {
		if verr := validate(h, r); verr != nil {
			err = errors.Join(err, verr)
			continue
		}
		ok++
	}
	return ok, err
}

func validate(h hook.Hook, record string) (err error) {
	defer hook.Track(h, KeyValidate)()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w %q: %v", ErrInvalid, record, p)
		}
	}()
	if strings.TrimSpace(record) == "" {
		panic("empty record")
	}
	return nil
}

var catalog = []Workload{
	{"fib", "recursive fibonacci(20)", func(h hook.Hook) error {
		Fib(h, 20)
		return nil
	}},
	{"sum", "sum of range(10000) in one call", func(h hook.Hook) error {
		Sum(h, 10000)
		return nil
	}},
	{"loop", "100000 calls to a tiny leaf", func(h hook.Hook) error {
		Loop(h, 100000)
		return nil
	}},
	{"nested", "a 50-deep call chain", func(h hook.Hook) error {
		Nested(h, 50)
		return nil
	}},
	{"panics", "records that panic during validation", func(h hook.Hook) error {
		_, err := Parse(h, []string{"a", "", "b", " ", "c"})
		if errors.Is(err, ErrInvalid) {
			return nil
		}
		return err
	}},
	{"mixed", "every workload above in sequence", func(h hook.Hook) error {
		Fib(h, 15)
		Sum(h, 10000)
		Loop(h, 1000)
		Nested(h, 10)
		_, _ = Parse(h, []string{"x", ""})
		return nil
	}},
}

// All returns the available workloads in name order.
func All() []Workload {
	out := append([]Workload(nil), catalog...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds a workload by name.
func Lookup(name string) (Workload, error) {
	for _, w := range catalog {
		if w.Name == name {
			return w, nil
		}
	}
	names := make([]string, len(catalog))
	for i, w := range catalog {
		names[i] = w.Name
	}
	return Workload{}, fmt.Errorf("unknown workload %q (want one of %s)", name, strings.Join(names, ", "))
}

var (
	wlTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	wlHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	wlDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	wlWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	wlOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
)

// RenderCatalog lists the workloads.
func RenderCatalog(w io.Writer, workloads []Workload) {
	fmt.Fprintln(w, wlTitle.Render("Sample Workloads"))
	fmt.Fprintln(w, wlDim.Render(strings.Repeat("═", 60)))
	fmt.Fprintf(w, "  %s %s\n",
		wlHeader.Render("NAME      "),
		wlHeader.Render("DESCRIPTION"))
	fmt.Fprintln(w, "  "+wlDim.Render(strings.Repeat("─", 60)))
	for _, wl := range workloads {
		fmt.Fprintf(w, "  %-11s %s\n", wl.Name, wl.Description)
	}
}
