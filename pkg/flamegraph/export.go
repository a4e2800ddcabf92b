package flamegraph

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	gprofile "github.com/google/pprof/profile"
	"github.com/zeebo/xxh3"

	"github.com/danpilch/calltrace/pkg/profile"
)

// WriteJSON writes the graph in the nested {name, value, children} schema.
func WriteJSON(w io.Writer, g *profile.FlameGraph) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(g)
}

// ReadJSON reads a graph written by WriteJSON.
func ReadJSON(r io.Reader) (*profile.FlameGraph, error) {
	var g profile.FlameGraph
	if err := json.NewDecoder(r).Decode(&g); err != nil {
		return nil, fmt.Errorf("cannot parse flame graph: %w", err)
	}
	return &g, nil
}

// ToPprof converts the graph to a pprof profile with one sample per call
// path, valued by the path's self time.
func ToPprof(g *profile.FlameGraph) *gprofile.Profile {
	p := &gprofile.Profile{
		SampleType:    []*gprofile.ValueType{{Type: "wall", Unit: "nanoseconds"}},
		PeriodType:    &gprofile.ValueType{Type: "wall", Unit: "nanoseconds"},
		Period:        1,
		DurationNanos: int64(g.Root.Value),
	}

	locations := make(map[profile.FunctionKey]*gprofile.Location)
	location := func(k profile.FunctionKey) *gprofile.Location {
		if loc, ok := locations[k]; ok {
			return loc
		}
		id := uint64(len(locations) + 1)
		fn := &gprofile.Function{
			ID:         id,
			Name:       k.Name,
			SystemName: k.Name,
			Filename:   k.File,
			StartLine:  int64(k.Line),
		}
		loc := &gprofile.Location{
			ID:   id,
			Line: []gprofile.Line{{Function: fn, Line: int64(k.Line)}},
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		locations[k] = loc
		return loc
	}

	g.Walk(func(path []profile.FunctionKey, n *profile.FlameNode) {
		self := n.Self()
		if self <= 0 {
			return
		}
		// pprof stacks are leaf first.
		locs := make([]*gprofile.Location, len(path))
		for i, k := range path {
			locs[len(path)-1-i] = location(k)
		}
		p.Sample = append(p.Sample, &gprofile.Sample{
			Location: locs,
			Value:    []int64{int64(self)},
		})
	})
	return p
}

// WritePprof writes the graph as a gzipped pprof protobuf.
func WritePprof(w io.Writer, g *profile.FlameGraph) error {
	if err := ToPprof(g).Write(w); err != nil {
		return fmt.Errorf("cannot write pprof profile: %w", err)
	}
	return nil
}

// Path is one call path of a flattened graph.
type Path struct {
	Stack []profile.FunctionKey
	Hash  uint64
	Value time.Duration
	Self  time.Duration
}

// String joins the path's function names with ";".
func (p Path) String() string {
	return joinStack(p.Stack)
}

func joinStack(stack []profile.FunctionKey) string {
	names := make([]string, len(stack))
	for i, k := range stack {
		names[i] = k.Name
	}
	return strings.Join(names, ";")
}

// PathHash returns a stable identifier for a call path.
func PathHash(stack []profile.FunctionKey) uint64 {
	h := xxh3.New()
	for _, k := range stack {
		text, _ := k.MarshalText()
		h.Write(text)
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// Flatten lists every path of the graph in depth-first key order.
func Flatten(g *profile.FlameGraph) []Path {
	var out []Path
	g.Walk(func(path []profile.FunctionKey, n *profile.FlameNode) {
		stack := append([]profile.FunctionKey(nil), path...)
		out = append(out, Path{
			Stack: stack,
			Hash:  PathHash(stack),
			Value: n.Value,
			Self:  n.Self(),
		})
	})
	return out
}

// PathDelta is the change of one call path between two graphs.
type PathDelta struct {
	Stack  []profile.FunctionKey
	Before time.Duration
	After  time.Duration
}

// Delta returns After - Before.
func (d PathDelta) Delta() time.Duration {
	return d.After - d.Before
}

// String joins the path's function names with ";".
func (d PathDelta) String() string {
	return joinStack(d.Stack)
}

// Diff compares two graphs path by path, largest absolute change first.
func Diff(before, after *profile.FlameGraph) []PathDelta {
	byHash := make(map[uint64]*PathDelta)
	var order []uint64
	add := func(g *profile.FlameGraph, isAfter bool) {
		for _, p := range Flatten(g) {
			d, ok := byHash[p.Hash]
			if !ok {
				d = &PathDelta{Stack: p.Stack}
				byHash[p.Hash] = d
				order = append(order, p.Hash)
			}
			if isAfter {
				d.After = p.Value
			} else {
				d.Before = p.Value
			}
		}
	}
	add(before, false)
	add(after, true)

	out := make([]PathDelta, 0, len(order))
	for _, h := range order {
		out = append(out, *byHash[h])
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := abs(out[i].Delta()), abs(out[j].Delta())
		if a != b {
			return a > b
		}
		return joinStack(out[i].Stack) < joinStack(out[j].Stack)
	})
	return out
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
