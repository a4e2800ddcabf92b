package baseline

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/calltrace/pkg/profile"
)

func statsOf(totals map[string]time.Duration) profile.ProfilerStats {
	p := profile.ProfilerStats{Functions: make(map[profile.FunctionKey]profile.FunctionStats)}
	for name, d := range totals {
		k := profile.FunctionKey{Name: name, File: name + ".go", Line: 1}
		p.Functions[k] = profile.FunctionStats{Key: k, Calls: 1, TotalTime: d, OwnTime: d}
		p.TotalTime += d
	}
	return p
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	flame := profile.NewFlameGraph()
	flame.Root.Value = 30
	flame.Root.Child(profile.FunctionKey{Name: "a"}).Value = 30

	s := NewSnapshot("run1", statsOf(map[string]time.Duration{"a": 10, "b": 20}), flame)
	s.Stats.Anomalies = []profile.Anomaly{{Kind: profile.OpenAtStop, Key: profile.FunctionKey{Name: "a"}, Detail: "open"}}
	s.Metadata = map[string]string{"workload": "fib"}
	require.NoError(t, s.Save(dir))

	got, err := Load("run1", dir)
	require.NoError(t, err)
	assert.Equal(t, s.Stats, got.Stats)
	assert.Equal(t, s.Flame, got.Flame)
	assert.Equal(t, "fib", got.Metadata["workload"])
	assert.True(t, s.Timestamp.Equal(got.Timestamp))

	byPath, err := Load(filepath.Join(dir, "run1.json"), "")
	require.NoError(t, err)
	assert.Equal(t, "run1", byPath.Name)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("nope", t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0644))
	_, err := Load("bad", dir)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	names, err := List(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, n := range []string{"b", "a"} {
		require.NoError(t, NewSnapshot(n, statsOf(nil), nil).Save(dir))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644))

	names, err = List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestSaveReport(t *testing.T) {
	dir := t.TempDir()
	s := NewSnapshot("r", statsOf(nil), nil)
	require.NoError(t, s.SaveReport(dir, func(w io.Writer) error {
		_, err := fmt.Fprint(w, "report body")
		return err
	}))
	data, err := os.ReadFile(filepath.Join(dir, "r.txt"))
	require.NoError(t, err)
	assert.Equal(t, "report body", string(data))

	assert.Error(t, s.SaveReport(dir, func(io.Writer) error { return fmt.Errorf("boom") }))
}

func TestAutoName(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "profile_fib_20240309_140507", AutoName("fib", at))
	assert.Equal(t, "profile_my_run_20240309_140507", AutoName("my run!", at))
	assert.Equal(t, "profile_session_20240309_140507", AutoName("", at))
}

func TestCompare(t *testing.T) {
	base := NewSnapshot("base", statsOf(map[string]time.Duration{
		"steady": 100, "slower": 100, "faster": 100, "gone": 50,
	}), nil)
	cur := statsOf(map[string]time.Duration{
		"steady": 102, "slower": 150, "faster": 60, "fresh": 10,
	})

	cs := Compare(base, cur)
	require.Len(t, cs, 5)

	byName := map[string]Comparison{}
	for _, c := range cs {
		byName[c.Key.Name] = c
	}
	assert.Equal(t, SeverityNone, byName["steady"].Severity)
	assert.Equal(t, SeverityRegress, byName["slower"].Severity)
	assert.InDelta(t, 50.0, byName["slower"].DeltaPct, 1e-9)
	assert.Equal(t, SeverityMajor, byName["faster"].Severity)
	assert.Equal(t, Added, byName["fresh"].Presence)
	assert.Equal(t, Removed, byName["gone"].Presence)
	assert.Equal(t, 2, Regressions(cs))

	// Largest drift first; ties broken by key.
	assert.Equal(t, "fresh", cs[0].Key.Name)
	assert.Equal(t, "gone", cs[1].Key.Name)
	assert.Equal(t, "steady", cs[4].Key.Name)

	var buf bytes.Buffer
	RenderComparison(&buf, base, cs)
	assert.Contains(t, buf.String(), "REGRESSION")
	assert.Contains(t, buf.String(), "2 potential regressions detected.")
}

func TestComparePaths(t *testing.T) {
	a := NewSnapshot("a", statsOf(nil), nil)
	b := NewSnapshot("b", statsOf(nil), nil)
	assert.Nil(t, ComparePaths(a, b))

	a.Flame = profile.NewFlameGraph()
	a.Flame.Root.Child(profile.FunctionKey{Name: "x"}).Value = 10
	b.Flame = profile.NewFlameGraph()
	b.Flame.Root.Child(profile.FunctionKey{Name: "x"}).Value = 25

	d := ComparePaths(a, b)
	require.Len(t, d, 1)
	assert.Equal(t, time.Duration(15), d[0].Delta())
}
