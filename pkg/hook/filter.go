package hook

import (
	"fmt"
	"path"
	"strings"

	"github.com/danpilch/calltrace/pkg/callstack"
	"github.com/danpilch/calltrace/pkg/profile"
)

// DefaultExclude skips runtime internals and the profiling engine itself.
var DefaultExclude = []string{
	"runtime.*",
	"testing.*",
	"github.com/danpilch/calltrace/pkg/hook.*",
	"github.com/danpilch/calltrace/pkg/session.*",
	"github.com/danpilch/calltrace/pkg/callstack.*",
}

// Filter selects which functions are recorded. Patterns use path.Match
// syntax against the function name. Exclusion wins over inclusion; an
// empty include list admits everything not excluded.
type Filter struct {
	Include []string
	Exclude []string
}

// NewFilter validates the patterns and returns a filter.
func NewFilter(include, exclude []string) (*Filter, error) {
	for _, p := range append(append([]string(nil), include...), exclude...) {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
	}
	return &Filter{Include: include, Exclude: exclude}, nil
}

// Allow reports whether key should be recorded.
func (f *Filter) Allow(key profile.FunctionKey) bool {
	if f == nil {
		return true
	}
	for _, p := range f.Exclude {
		if match(p, key.Name) {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, p := range f.Include {
		if match(p, key.Name) {
			return true
		}
	}
	return false
}

// match is path.Match, except that a pattern ending in a literal prefix
// and '*' also covers names containing '/', such as nested package paths.
func match(pattern, name string) bool {
	if ok, _ := path.Match(pattern, name); ok {
		return true
	}
	prefix, ok := strings.CutSuffix(pattern, "*")
	return ok && !strings.ContainsAny(prefix, `*?[\`) && strings.HasPrefix(name, prefix)
}

type filtered struct {
	h Hook
	f *Filter
}

// Filtered returns a Hook that drops keys rejected by f. Dropped calls get
// the zero Handle, which Exit ignores.
func Filtered(h Hook, f *Filter) Hook {
	if f == nil {
		return h
	}
	return &filtered{h: h, f: f}
}

func (fh *filtered) Enter(key profile.FunctionKey) callstack.Handle {
	if !fh.f.Allow(key) {
		return callstack.Handle{}
	}
	return fh.h.Enter(key)
}

func (fh *filtered) Exit(h callstack.Handle) {
	if !h.Valid() {
		return
	}
	fh.h.Exit(h)
}
