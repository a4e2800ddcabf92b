package flamegraph

import (
	"bytes"
	"strings"
	"testing"
	"time"

	gprofile "github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/calltrace/pkg/callstack"
	"github.com/danpilch/calltrace/pkg/clock"
	"github.com/danpilch/calltrace/pkg/profile"
	"github.com/danpilch/calltrace/pkg/recorder"
)

func key(name string) profile.FunctionKey {
	return profile.FunctionKey{Name: name}
}

func newHarness() (*Builder, *callstack.Stack, *clock.Manual) {
	clk := clock.NewManual(0)
	rec := recorder.New(nil)
	b := NewBuilder()
	rec.AttachRoots(b)
	return b, callstack.New(callstack.Options{Clock: clk, Recorder: rec}), clk
}

// record plays main -> {work -> io, work -> io, idle}.
func record(s *callstack.Stack, clk *clock.Manual) {
	m := s.Enter(key("main"))
	clk.Advance(5)
	for i := 0; i < 2; i++ {
		w := s.Enter(key("work"))
		clk.Advance(10)
		io := s.Enter(key("io"))
		clk.Advance(20)
		s.Exit(io)
		s.Exit(w)
	}
	idle := s.Enter(key("idle"))
	clk.Advance(15)
	s.Exit(idle)
	s.Exit(m)
}

func TestRepeatedCallsMergeIntoOneNode(t *testing.T) {
	b, s, clk := newHarness()

	for i := 0; i < 5; i++ {
		h := s.Enter(key("leaf"))
		clk.Advance(7)
		s.Exit(h)
	}

	g := b.Build()
	require.Len(t, g.Root.Children, 1)
	leaf, ok := g.Find(key("leaf"))
	require.True(t, ok)
	assert.Equal(t, time.Duration(35), leaf.Value)
	assert.Equal(t, time.Duration(35), g.Root.Value)
}

func TestBuilderPathValues(t *testing.T) {
	b, s, clk := newHarness()
	record(s, clk)

	g := b.Build()
	assert.Equal(t, time.Duration(80), g.Root.Value)

	main, ok := g.Find(key("main"))
	require.True(t, ok)
	assert.Equal(t, time.Duration(80), main.Value)
	assert.Equal(t, time.Duration(5), main.Self())

	io, ok := g.Find(key("main"), key("work"), key("io"))
	require.True(t, ok)
	assert.Equal(t, time.Duration(40), io.Value)

	// Children never exceed their parent.
	g.Walk(func(_ []profile.FunctionKey, n *profile.FlameNode) {
		var sum time.Duration
		for _, c := range n.Children {
			sum += c.Value
		}
		assert.LessOrEqual(t, sum, n.Value, n.Key.Name)
	})
}

func TestRecursionNestsPaths(t *testing.T) {
	b, s, clk := newHarness()

	var rec func(n int)
	rec = func(n int) {
		h := s.Enter(key("rec"))
		defer s.Exit(h)
		clk.Advance(1)
		if n > 0 {
			rec(n - 1)
		}
	}
	rec(2)

	g := b.Build()
	assert.Equal(t, 3, g.Depth())
	n, ok := g.Find(key("rec"), key("rec"), key("rec"))
	require.True(t, ok)
	assert.Equal(t, time.Duration(1), n.Value)
}

func TestBuildReturnsCopy(t *testing.T) {
	b, s, clk := newHarness()
	record(s, clk)

	g := b.Build()
	g.Root.Value = 0
	delete(g.Root.Children, key("main"))

	again := b.Build()
	assert.Equal(t, time.Duration(80), again.Root.Value)
	assert.Len(t, again.Root.Children, 1)

	b.Reset()
	assert.Empty(t, b.Build().Root.Children)
}

func TestIngestTree(t *testing.T) {
	clk := clock.NewManual(0)
	s := callstack.New(callstack.Options{Clock: clk, RetainFrames: true})
	record(s, clk)

	b := NewBuilder()
	b.IngestTree(s.Retained())
	n, ok := b.Build().Find(key("main"), key("idle"))
	require.True(t, ok)
	assert.Equal(t, time.Duration(15), n.Value)
}

func TestFoldedRoundTrip(t *testing.T) {
	b, s, clk := newHarness()
	record(s, clk)
	g := b.Build()

	var buf bytes.Buffer
	require.NoError(t, WriteFolded(&buf, g))
	assert.Equal(t, "main 5\nmain;idle 15\nmain;work 20\nmain;work;io 40\n", buf.String())

	back, err := ParseFolded(&buf)
	require.NoError(t, err)
	assert.Equal(t, g.Root.Value, back.Root.Value)
	io, ok := back.Find(key("main"), key("work"), key("io"))
	require.True(t, ok)
	assert.Equal(t, time.Duration(40), io.Value)
	work, _ := back.Find(key("main"), key("work"))
	assert.Equal(t, time.Duration(60), work.Value)
}

func TestParseFoldedRejectsBadLines(t *testing.T) {
	_, err := ParseFolded(strings.NewReader("main;work notanumber\n"))
	assert.Error(t, err)

	_, err = ParseFolded(strings.NewReader("lonely\n"))
	assert.Error(t, err)

	g, err := ParseFolded(strings.NewReader("\n\n"))
	require.NoError(t, err)
	assert.Empty(t, g.Root.Children)
}

func TestRenderSVG(t *testing.T) {
	b, s, clk := newHarness()
	record(s, clk)

	var buf bytes.Buffer
	opts := DefaultSVGOptions()
	opts.Title = "demo <run>"
	require.NoError(t, RenderSVG(&buf, b.Build(), opts))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "<?xml"))
	assert.Contains(t, out, "demo &lt;run&gt;")
	assert.Contains(t, out, ">main<")
	assert.True(t, strings.HasSuffix(out, "</svg>\n"))
}

func TestRenderSVGEmptyGraph(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, RenderSVG(&buf, profile.NewFlameGraph(), DefaultSVGOptions()), ErrEmptyGraph)
}

func TestFrameColorIsStablePerFunction(t *testing.T) {
	for _, scheme := range []string{"hot", "cold", "mem"} {
		r1, g1, b1 := frameColor("pkg.work", scheme)
		r2, g2, b2 := frameColor("pkg.work", scheme)
		assert.Equal(t, []int{r1, g1, b1}, []int{r2, g2, b2})
		for _, c := range []int{r1, g1, b1} {
			assert.True(t, c >= 0 && c <= 255, scheme)
		}
	}
}

func TestFitLabel(t *testing.T) {
	assert.Equal(t, "main", fitLabel("main", 100))
	assert.Equal(t, "", fitLabel("main", 20))
	assert.Equal(t, "long..", fitLabel("longfunctionname", 6+6*svgCharWidth))
}

func TestGenerateSVGFromFolded(t *testing.T) {
	var buf bytes.Buffer
	err := GenerateSVG(strings.NewReader("a;b 10\na;c 30\n"), &buf, SVGOptions{ColorScheme: "cold"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "<svg")
}

func TestJSONRoundTrip(t *testing.T) {
	b, s, clk := newHarness()
	record(s, clk)
	g := b.Build()

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, g))
	back, err := ReadJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, g, back)

	_, err = ReadJSON(strings.NewReader("{"))
	assert.Error(t, err)
}

func TestPprofExport(t *testing.T) {
	b, s, clk := newHarness()
	record(s, clk)
	g := b.Build()

	p := ToPprof(g)
	require.NoError(t, p.CheckValid())
	assert.Equal(t, "wall", p.SampleType[0].Type)
	assert.Equal(t, int64(80), p.DurationNanos)
	assert.Len(t, p.Function, 4)

	var total int64
	for _, sample := range p.Sample {
		total += sample.Value[0]
	}
	assert.Equal(t, int64(80), total)

	var buf bytes.Buffer
	require.NoError(t, WritePprof(&buf, g))
	parsed, err := gprofile.Parse(&buf)
	require.NoError(t, err)
	assert.Len(t, parsed.Sample, len(p.Sample))

	// Leaf first.
	for _, sample := range parsed.Sample {
		if len(sample.Location) == 3 {
			assert.Equal(t, "io", sample.Location[0].Line[0].Function.Name)
			assert.Equal(t, "main", sample.Location[2].Line[0].Function.Name)
		}
	}
}

func TestFlattenAndDiff(t *testing.T) {
	b, s, clk := newHarness()
	record(s, clk)
	before := b.Build()

	paths := Flatten(before)
	require.Len(t, paths, 4)
	assert.Equal(t, "main", paths[0].String())
	assert.Equal(t, PathHash(paths[0].Stack), paths[0].Hash)
	assert.NotEqual(t, paths[0].Hash, paths[1].Hash)

	b.Reset()
	h := s.Enter(key("main"))
	w := s.Enter(key("work"))
	clk.Advance(100)
	s.Exit(w)
	s.Exit(h)
	after := b.Build()

	deltas := Diff(before, after)
	require.NotEmpty(t, deltas)
	assert.Equal(t, "main;work", deltas[0].String())
	assert.Equal(t, time.Duration(40), deltas[0].Delta())

	for _, d := range deltas {
		if joinStack(d.Stack) == "main;idle" {
			assert.Equal(t, time.Duration(-15), d.Delta())
			assert.Equal(t, time.Duration(0), d.After)
		}
	}
}
