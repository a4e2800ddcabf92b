package workload

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/calltrace/pkg/clock"
	"github.com/danpilch/calltrace/pkg/hook"
	"github.com/danpilch/calltrace/pkg/session"
)

func TestFibCallCount(t *testing.T) {
	res, err := session.Run(session.Options{Clock: clock.NewManual(0)}, func(h hook.Hook) error {
		assert.Equal(t, 55, Fib(h, 10))
		return nil
	})
	require.NoError(t, err)

	fs, ok := res.Stats.Get(KeyFib)
	require.True(t, ok)
	assert.Equal(t, 177, fs.Calls)
	assert.Equal(t, FibCalls(10), fs.Calls)
	assert.LessOrEqual(t, fs.OwnTime, fs.TotalTime)
}

func TestSumIsSingleCall(t *testing.T) {
	res, err := session.Run(session.Options{}, func(h hook.Hook) error {
		assert.Equal(t, 49995000, Sum(h, 10000))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Stats.Len())
	fs, _ := res.Stats.Get(KeySum)
	assert.Equal(t, 1, fs.Calls)
	assert.InDelta(t, 100.0, fs.Percentage, 1e-9)
}

func TestLoopMergesIntoOneFlameNode(t *testing.T) {
	res, err := session.Run(session.Options{Clock: clock.NewManual(0), CaptureFlame: true}, func(h hook.Hook) error {
		Loop(h, 5)
		return nil
	})
	require.NoError(t, err)

	leaf, ok := res.Flame.Find(KeyLoop, KeyLeaf)
	require.True(t, ok)
	assert.Empty(t, leaf.Children)
	fs, _ := res.Stats.Get(KeyLeaf)
	assert.Equal(t, 5, fs.Calls)
}

func TestNestedDepth(t *testing.T) {
	res, err := session.Run(session.Options{CaptureFlame: true}, func(h hook.Hook) error {
		Nested(h, 3)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Flame.Depth())
}

func TestParseRecoversPanics(t *testing.T) {
	var (
		n   int
		err error
	)
	res, runErr := session.Run(session.Options{Clock: clock.NewManual(0)}, func(h hook.Hook) error {
		n, err = Parse(h, []string{"a", "", "b"})
		return nil
	})
	require.NoError(t, runErr)
	assert.Equal(t, 2, n)
	assert.True(t, errors.Is(err, ErrInvalid))

	fs, _ := res.Stats.Get(KeyValidate)
	assert.Equal(t, 3, fs.Calls)
	assert.Empty(t, res.Anomalies)
}

func TestCatalog(t *testing.T) {
	all := All()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Name, all[i].Name)
	}
	for _, w := range all {
		assert.NoError(t, w.Run(hook.Nop), w.Name)
	}

	w, err := Lookup("fib")
	require.NoError(t, err)
	assert.Equal(t, "fib", w.Name)
	_, err = Lookup("nope")
	assert.Error(t, err)

	var buf bytes.Buffer
	RenderCatalog(&buf, all)
	assert.Contains(t, buf.String(), "panics")
}

func TestCharacterize(t *testing.T) {
	h := Characterize()
	assert.Positive(t, h.CPUs)
	assert.NotEmpty(t, h.GoVersion)
	assert.Contains(t, []string{"increasing", "decreasing", "stable"}, h.LoadTrend)
	assert.Equal(t, h.GoVersion, h.Metadata()["go_version"])

	var buf bytes.Buffer
	h.Render(&buf)
	assert.Contains(t, buf.String(), "CPUs")
}

func TestLoadTrend(t *testing.T) {
	assert.Equal(t, "increasing", characterizeLoadTrend(4, 2, 1))
	assert.Equal(t, "decreasing", characterizeLoadTrend(1, 2, 4))
	assert.Equal(t, "stable", characterizeLoadTrend(1, 1, 1))
	assert.True(t, Host{CPUs: 2, LoadAverages: [3]float64{3, 0, 0}}.Busy())
}
