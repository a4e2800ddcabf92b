package benchmark

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/calltrace/pkg/hook"
	"github.com/danpilch/calltrace/pkg/workload"
)

func TestRunMeasuresWorkloads(t *testing.T) {
	wl, err := workload.Lookup("fib")
	require.NoError(t, err)

	start := MeasureOverhead()
	results, err := Run([]workload.Workload{wl}, Options{Iterations: 3, Warmup: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "fib", r.Workload)
	assert.Equal(t, workload.FibCalls(20), r.Calls)
	assert.Positive(t, r.Profiled.P50)
	assert.LessOrEqual(t, r.Profiled.P50, r.Profiled.P99)
	assert.Positive(t, r.AllocsPerRun)

	var buf bytes.Buffer
	RenderResults(&buf, results, start.Since())
	assert.Contains(t, buf.String(), "Instrumentation Overhead")
	assert.Contains(t, buf.String(), "fib")
}

func TestRunPropagatesWorkloadError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Run([]workload.Workload{{Name: "bad", Run: func(hook.Hook) error { return boom }}}, DefaultOptions())
	assert.ErrorIs(t, err, boom)
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(sorted, 0.50))
	assert.Equal(t, time.Duration(10), percentile(sorted, 0.99))
	assert.Equal(t, time.Duration(0), percentile(nil, 0.5))
}

func TestStdDev(t *testing.T) {
	assert.Equal(t, 0.0, stddev([]float64{3}))
	assert.InDelta(t, 2.0, stddev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "100 B", formatBytes(100))
	assert.Equal(t, "1.0 KB", formatBytes(1024))
}
