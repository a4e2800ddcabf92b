package callstack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/calltrace/pkg/clock"
	"github.com/danpilch/calltrace/pkg/profile"
	"github.com/danpilch/calltrace/pkg/recorder"
)

// completed captures what consumers see when a frame is recorded.
type completed struct {
	key       string
	duration  time.Duration
	childTime time.Duration
	flags     profile.FrameFlag
	root      bool
	recursive bool
	children  []string
}

func setup(t *testing.T, retain bool) (*Stack, *clock.Manual, *recorder.Recorder, *[]completed) {
	t.Helper()
	clk := clock.NewManual(0)
	rec := recorder.New(nil)
	var got []completed
	rec.Attach(recorder.ConsumerFunc(func(tree profile.Tree, id profile.FrameID) {
		f := tree.Frame(id)
		c := completed{
			key:       f.Key.Name,
			duration:  f.Duration(),
			childTime: f.ChildTime,
			flags:     f.Flags,
			root:      f.IsRoot(),
			recursive: f.Recursive,
		}
		for _, ch := range f.Children {
			c.children = append(c.children, tree.Frame(ch).Key.Name)
		}
		got = append(got, c)
	}))
	s := New(Options{Clock: clk, Recorder: rec, RetainFrames: retain})
	return s, clk, rec, &got
}

func key(name string) profile.FunctionKey {
	return profile.FunctionKey{Name: name}
}

func TestNestedCallsCompleteInPostOrder(t *testing.T) {
	s, clk, rec, got := setup(t, true)

	outer := s.Enter(key("outer"))
	clk.Advance(10)
	a := s.Enter(key("a"))
	clk.Advance(20)
	s.Exit(a)
	b := s.Enter(key("b"))
	clk.Advance(5)
	s.Exit(b)
	clk.Advance(1)
	s.Exit(outer)

	require.Len(t, *got, 3)
	assert.Equal(t, "a", (*got)[0].key)
	assert.Equal(t, "b", (*got)[1].key)
	assert.Equal(t, completed{
		key:       "outer",
		duration:  36,
		childTime: 25,
		root:      true,
		children:  []string{"a", "b"},
	}, (*got)[2])
	assert.Empty(t, rec.Anomalies())
	assert.Equal(t, 0, s.Depth())
}

func TestExitOnEmptyStackIsReported(t *testing.T) {
	s, _, rec, got := setup(t, false)

	h := s.Enter(key("f"))
	s.Exit(h)
	s.Exit(h)

	assert.Len(t, *got, 1)
	anomalies := rec.Anomalies()
	require.Len(t, anomalies, 1)
	assert.Equal(t, profile.StackCorruption, anomalies[0].Kind)
}

func TestMismatchedExitForceCompletesFramesAbove(t *testing.T) {
	s, clk, rec, got := setup(t, false)

	outer := s.Enter(key("outer"))
	clk.Advance(1)
	s.Enter(key("skipped"))
	clk.Advance(2)
	s.Enter(key("deeper"))
	clk.Advance(3)
	s.Exit(outer)

	require.Len(t, *got, 3)
	assert.Equal(t, "deeper", (*got)[0].key)
	assert.True(t, (*got)[0].flags&profile.FlagTruncated != 0)
	assert.Equal(t, time.Duration(3), (*got)[0].duration)
	assert.Equal(t, "skipped", (*got)[1].key)
	assert.True(t, (*got)[1].flags&profile.FlagTruncated != 0)
	assert.Equal(t, time.Duration(5), (*got)[1].duration)
	assert.Equal(t, "outer", (*got)[2].key)
	assert.Zero(t, (*got)[2].flags)
	assert.Equal(t, time.Duration(6), (*got)[2].duration)

	anomalies := rec.Anomalies()
	require.Len(t, anomalies, 2)
	for _, a := range anomalies {
		assert.Equal(t, profile.StackCorruption, a.Kind)
	}
	assert.Equal(t, 0, s.Depth())
}

func TestExitForUnknownHandleLeavesStackIntact(t *testing.T) {
	s, _, rec, got := setup(t, false)

	first := s.Enter(key("first"))
	s.Exit(first)

	// first belongs to a released epoch now.
	live := s.Enter(key("live"))
	s.Exit(first)
	assert.Equal(t, 1, s.Depth())
	require.Len(t, rec.Anomalies(), 1)

	s.Exit(live)
	assert.Len(t, *got, 2)
}

func TestZeroHandleIsIgnored(t *testing.T) {
	s, _, rec, got := setup(t, false)
	s.Exit(Handle{})
	assert.Empty(t, *got)
	assert.Empty(t, rec.Anomalies())
	assert.False(t, Handle{}.Valid())
}

func TestClockGoingBackwardsClampsDuration(t *testing.T) {
	s, clk, rec, got := setup(t, false)

	clk.Set(100)
	h := s.Enter(key("f"))
	clk.Set(40)
	s.Exit(h)

	require.Len(t, *got, 1)
	assert.Equal(t, time.Duration(0), (*got)[0].duration)
	assert.True(t, (*got)[0].flags&profile.FlagClockSkew != 0)
	require.Len(t, rec.Anomalies(), 1)
	assert.Equal(t, profile.ClockNonMonotonic, rec.Anomalies()[0].Kind)
}

func TestChildOutlastingParentIsFlagged(t *testing.T) {
	s, clk, rec, got := setup(t, false)

	clk.Set(0)
	parent := s.Enter(key("parent"))
	clk.Set(10)
	child := s.Enter(key("child"))
	clk.Set(50)
	s.Exit(child)
	// A host clock stepping back makes the parent end before its child did.
	clk.Set(30)
	s.Exit(parent)

	require.Len(t, *got, 2)
	p := (*got)[1]
	assert.Equal(t, time.Duration(30), p.duration)
	assert.Equal(t, time.Duration(40), p.childTime)
	assert.True(t, p.flags&profile.FlagOwnClamped != 0)

	kinds := []profile.AnomalyKind{}
	for _, a := range rec.Anomalies() {
		kinds = append(kinds, a.Kind)
	}
	assert.Contains(t, kinds, profile.NegativeOwnTime)
}

func TestRecursionMarksInnerActivations(t *testing.T) {
	s, clk, _, got := setup(t, false)

	var rec func(n int)
	rec = func(n int) {
		h := s.Enter(key("rec"))
		defer s.Exit(h)
		clk.Advance(1)
		if n > 0 {
			rec(n - 1)
		}
	}
	rec(3)

	require.Len(t, *got, 4)
	for _, c := range (*got)[:3] {
		assert.True(t, c.recursive)
	}
	assert.False(t, (*got)[3].recursive)
	assert.Equal(t, time.Duration(4), (*got)[3].duration)
}

func TestUnwindCompletesOpenFrames(t *testing.T) {
	s, clk, rec, got := setup(t, false)

	s.Enter(key("a"))
	clk.Advance(4)
	s.Enter(key("b"))
	clk.Advance(6)

	assert.Equal(t, 2, s.UnwindAt(clk.Now()))
	require.Len(t, *got, 2)
	assert.Equal(t, "b", (*got)[0].key)
	assert.Equal(t, time.Duration(6), (*got)[0].duration)
	assert.Equal(t, "a", (*got)[1].key)
	assert.Equal(t, time.Duration(10), (*got)[1].duration)
	assert.Equal(t, time.Duration(6), (*got)[1].childTime)
	for _, c := range *got {
		assert.True(t, c.flags&profile.FlagTruncated != 0)
	}
	require.Len(t, rec.Anomalies(), 2)
	assert.Equal(t, profile.OpenAtStop, rec.Anomalies()[0].Kind)
	assert.Equal(t, 0, s.Unwind())
}

func TestRetainedKeepsCompletedTrees(t *testing.T) {
	s, clk, _, _ := setup(t, true)

	for i := 0; i < 2; i++ {
		root := s.Enter(key("root"))
		clk.Advance(1)
		child := s.Enter(key("child"))
		clk.Advance(2)
		s.Exit(child)
		s.Exit(root)
	}

	tree := s.Retained()
	require.Len(t, tree.Roots, 2)
	var names []string
	tree.Walk(tree.Roots[1], func(f *profile.CallFrame, depth int) {
		names = append(names, f.Key.Name)
	})
	assert.Equal(t, []string{"root", "child"}, names)
	assert.Equal(t, time.Duration(3), tree.Frame(tree.Roots[0]).Duration())
}

func TestReleasedArenaReusesSlots(t *testing.T) {
	s, clk, _, got := setup(t, false)

	for i := 0; i < 3; i++ {
		root := s.Enter(key("root"))
		c := s.Enter(key("child"))
		clk.Advance(1)
		s.Exit(c)
		s.Exit(root)
	}

	assert.Empty(t, s.Retained().Frames)
	assert.Empty(t, s.arena)
	require.Len(t, *got, 6)
	assert.Equal(t, time.Duration(1), (*got)[5].childTime)
}

func TestArenaStaysBoundedUnderOpenRoot(t *testing.T) {
	s, clk, rec, got := setup(t, false)

	root := s.Enter(key("main"))
	for i := 0; i < 100000; i++ {
		inner := s.Enter(key("step"))
		leaf := s.Enter(key("leaf"))
		clk.Advance(1)
		s.Exit(leaf)
		s.Exit(inner)
	}

	assert.LessOrEqual(t, len(s.arena), 3)
	assert.Empty(t, s.arena[0].Children)
	assert.Equal(t, 1, s.Depth())

	clk.Advance(5)
	s.Exit(root)

	require.Len(t, *got, 200001)
	last := (*got)[len(*got)-1]
	assert.Equal(t, "main", last.key)
	assert.Equal(t, time.Duration(100000), last.childTime)
	assert.Equal(t, time.Duration(100005), last.duration)
	assert.Empty(t, rec.Anomalies())
}

func TestTreeConsumersKeepChildrenUntilRootCompletes(t *testing.T) {
	clk := clock.NewManual(0)
	rec := recorder.New(nil)
	var children []string
	rec.AttachRoots(recorder.ConsumerFunc(func(tree profile.Tree, id profile.FrameID) {
		for _, c := range tree.Frame(id).Children {
			children = append(children, tree.Frame(c).Key.Name)
		}
	}))
	s := New(Options{Clock: clk, Recorder: rec})

	root := s.Enter(key("root"))
	for _, name := range []string{"a", "b", "c"} {
		h := s.Enter(key(name))
		clk.Advance(1)
		s.Exit(h)
	}
	s.Exit(root)

	assert.Equal(t, []string{"a", "b", "c"}, children)
}

func TestRecycledSlotRejectsStaleHandle(t *testing.T) {
	s, _, rec, got := setup(t, false)

	root := s.Enter(key("root"))
	first := s.Enter(key("first"))
	s.Exit(first)

	// second takes over the slot first was recycled from.
	second := s.Enter(key("second"))
	s.Exit(first)
	assert.Equal(t, 2, s.Depth())
	require.Len(t, rec.Anomalies(), 1)
	assert.Equal(t, profile.StackCorruption, rec.Anomalies()[0].Kind)

	s.Exit(second)
	s.Exit(root)
	assert.Len(t, *got, 3)
	assert.Equal(t, 0, s.Depth())
}

func TestForeignHandleIsRejected(t *testing.T) {
	clk := clock.NewManual(0)
	rec := recorder.New(nil)
	var got []string
	rec.Attach(recorder.ConsumerFunc(func(tree profile.Tree, id profile.FrameID) {
		got = append(got, tree.Frame(id).Key.Name)
	}))
	a := New(Options{Clock: clk, Recorder: rec})
	b := New(Options{Clock: clk, Recorder: rec})

	ha := a.Enter(key("a"))
	hb := b.Enter(key("b"))
	b.Exit(ha)

	assert.Equal(t, 1, b.Depth())
	assert.Empty(t, got)
	anomalies := rec.Anomalies()
	require.Len(t, anomalies, 1)
	assert.Equal(t, profile.StackCorruption, anomalies[0].Kind)

	b.Exit(hb)
	a.Exit(ha)
	assert.Equal(t, []string{"b", "a"}, got)
	assert.Equal(t, 0, a.Depth())
	assert.Equal(t, 0, b.Depth())
}

func TestReset(t *testing.T) {
	s, _, _, got := setup(t, false)
	h := s.Enter(key("open"))
	s.Reset()
	assert.Equal(t, 0, s.Depth())
	assert.Empty(t, *got)

	// Handles from before the reset are stale.
	s.Exit(h)
	assert.Empty(t, *got)
}
