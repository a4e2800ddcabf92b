package output

import (
	"strings"
	"sync"

	"github.com/danpilch/calltrace/pkg/profile"
)

// TrendTracker keeps a rolling window of per-function total times across
// successive profiles, for sparkline rendering.
type TrendTracker struct {
	mu     sync.Mutex
	data   map[profile.FunctionKey][]float64
	maxLen int
}

// NewTrendTracker creates a tracker with a fixed window size.
func NewTrendTracker(maxLen int) *TrendTracker {
	if maxLen < 1 {
		maxLen = 20
	}
	return &TrendTracker{
		data:   make(map[profile.FunctionKey][]float64),
		maxLen: maxLen,
	}
}

// Observe records the total time of every function in p.
func (t *TrendTracker) Observe(p profile.ProfilerStats) {
	for k, fs := range p.Functions {
		t.Record(k, float64(fs.TotalTime))
	}
}

// Record adds a new value for a function.
func (t *TrendTracker) Record(key profile.FunctionKey, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data[key] = append(t.data[key], value)
	if len(t.data[key]) > t.maxLen {
		t.data[key] = t.data[key][len(t.data[key])-t.maxLen:]
	}
}

// Sparkline returns a Unicode sparkline for a function.
func (t *TrendTracker) Sparkline(key profile.FunctionKey) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Sparkline(t.data[key])
}

// sparkline block characters from lowest to highest
var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders values scaled between their minimum and maximum.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	var b strings.Builder
	span := hi - lo
	top := len(sparkBlocks) - 1
	for _, v := range values {
		idx := 0
		if span > 0 {
			idx = int((v - lo) / span * float64(top))
		}
		b.WriteRune(sparkBlocks[max(0, min(idx, top))])
	}
	return b.String()
}
