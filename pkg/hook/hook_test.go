package hook

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/calltrace/pkg/callstack"
	"github.com/danpilch/calltrace/pkg/clock"
	"github.com/danpilch/calltrace/pkg/profile"
	"github.com/danpilch/calltrace/pkg/recorder"
	"github.com/danpilch/calltrace/pkg/stats"
)

func newHook() (*callstack.Stack, *stats.Aggregator, *recorder.Recorder) {
	rec := recorder.New(nil)
	agg := stats.NewAggregator()
	rec.Attach(agg)
	return callstack.New(callstack.Options{Clock: clock.NewManual(0), Recorder: rec}), agg, rec
}

func sample() {}

func TestKeyOf(t *testing.T) {
	k := KeyOf(sample)
	assert.True(t, strings.HasSuffix(k.Name, "hook.sample"), k.Name)
	assert.True(t, strings.HasSuffix(k.File, "hook_test.go"), k.File)
	assert.Positive(t, k.Line)

	assert.Equal(t, profile.FunctionKey{}, KeyOf(nil))
	assert.Equal(t, profile.FunctionKey{}, KeyOf(42))
	var nilFn func()
	assert.Equal(t, profile.FunctionKey{}, KeyOf(nilFn))
}

func callerKey() profile.FunctionKey {
	return Caller(0)
}

func TestCallerIsStablePerFunction(t *testing.T) {
	a := callerKey()
	b := callerKey()
	assert.Equal(t, a, b)
	assert.True(t, strings.HasSuffix(a.Name, "hook.callerKey"), a.Name)
}

func TestTrackClosesFrameOnPanic(t *testing.T) {
	s, agg, rec := newHook()
	key := profile.FunctionKey{Name: "boom"}

	assert.Panics(t, func() {
		Do(s, key, func() { panic("boom") })
	})

	assert.Equal(t, 0, s.Depth())
	fs, ok := agg.Snapshot().Get(key)
	require.True(t, ok)
	assert.Equal(t, 1, fs.Calls)
	assert.Empty(t, rec.Anomalies())
}

func TestCallReturnsResults(t *testing.T) {
	s, agg, _ := newHook()
	key := profile.FunctionKey{Name: "load"}

	v, err := Call(s, key, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = Call(s, key, func() (string, error) { return "", errors.New("nope") })
	assert.EqualError(t, err, "nope")

	fs, _ := agg.Snapshot().Get(key)
	assert.Equal(t, 2, fs.Calls)
}

func TestWrapUsesFunctionKey(t *testing.T) {
	s, agg, _ := newHook()
	Wrap(s, sample)()
	_, ok := agg.Snapshot().Get(KeyOf(sample))
	assert.True(t, ok)
}

func TestFilterAllow(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		key     string
		want    bool
	}{
		{"empty filter", nil, nil, "main.work", true},
		{"excluded", nil, []string{"runtime.*"}, "runtime.gopark", false},
		{"nested package", nil, DefaultExclude, "github.com/danpilch/calltrace/pkg/session.(*Session).Enter", false},
		{"not excluded", nil, DefaultExclude, "main.work", true},
		{"included", []string{"main.*"}, nil, "main.work", true},
		{"not included", []string{"main.*"}, nil, "fmt.Println", false},
		{"exclude wins", []string{"main.*"}, []string{"main.noisy"}, "main.noisy", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFilter(tt.include, tt.exclude)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Allow(profile.FunctionKey{Name: tt.key}))
		})
	}

	var nilFilter *Filter
	assert.True(t, nilFilter.Allow(profile.FunctionKey{Name: "x"}))
}

func TestNewFilterRejectsBadPattern(t *testing.T) {
	_, err := NewFilter([]string{"main.["}, nil)
	assert.Error(t, err)
}

func TestFilteredHookSkipsExcluded(t *testing.T) {
	s, agg, rec := newHook()
	f, err := NewFilter(nil, []string{"skip.*"})
	require.NoError(t, err)
	h := Filtered(s, f)

	Do(h, profile.FunctionKey{Name: "keep.outer"}, func() {
		Do(h, profile.FunctionKey{Name: "skip.inner"}, func() {
			Do(h, profile.FunctionKey{Name: "keep.leaf"}, func() {})
		})
	})

	snap := agg.Snapshot()
	assert.Equal(t, 2, snap.Len())
	_, ok := snap.Get(profile.FunctionKey{Name: "skip.inner"})
	assert.False(t, ok)
	assert.Empty(t, rec.Anomalies())

	assert.Same(t, Hook(s), Filtered(s, nil))
}

func TestNop(t *testing.T) {
	ran := false
	Do(Nop, profile.FunctionKey{Name: "x"}, func() { ran = true })
	assert.True(t, ran)
	assert.False(t, Nop.Enter(profile.FunctionKey{}).Valid())
}
