package profile

import "time"

// FunctionStats aggregates every completed invocation of one function.
type FunctionStats struct {
	Key   FunctionKey `json:"function"`
	Calls int         `json:"calls"`

	// TotalTime is inclusive time summed over the outermost activations.
	// Recursive re-entries count as calls and own time but do not add to
	// it, so time is never counted twice for the same function and the
	// percentage stays within 100.
	TotalTime time.Duration `json:"total_time"`
	OwnTime   time.Duration `json:"own_time"`

	// Percentage is TotalTime relative to the profile's root total. It is
	// derived when a snapshot is taken.
	Percentage float64 `json:"percentage"`

	// Truncated counts invocations that were force-completed.
	Truncated int `json:"truncated,omitempty"`
	// Anomalous counts invocations with clock skew or clamped own time.
	Anomalous int `json:"anomalous,omitempty"`
}

// AvgTime returns the mean inclusive time per call.
func (s FunctionStats) AvgTime() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Calls)
}

// Flagged reports whether any invocation needed correction.
func (s FunctionStats) Flagged() bool {
	return s.Truncated > 0 || s.Anomalous > 0
}

// ProfilerStats is the aggregate result of a profiling session.
type ProfilerStats struct {
	// TotalTime is the sum of the durations of all top-level frames.
	TotalTime time.Duration `json:"total_time"`
	// Roots is the number of top-level frames.
	Roots     int                           `json:"roots"`
	Functions map[FunctionKey]FunctionStats `json:"functions"`
	Anomalies []Anomaly                     `json:"anomalies,omitempty"`
}

// Get returns the stats for key.
func (p ProfilerStats) Get(key FunctionKey) (FunctionStats, bool) {
	s, ok := p.Functions[key]
	return s, ok
}

// Len returns the number of distinct functions.
func (p ProfilerStats) Len() int {
	return len(p.Functions)
}

// Percent computes part as a share of whole, guarding against a zero whole.
func Percent(part, whole time.Duration) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
