package output

import (
	"fmt"

	"github.com/danpilch/calltrace/pkg/profile"
	"github.com/danpilch/calltrace/pkg/stats"
)

// Suggestion represents a diagnostic next-step.
type Suggestion struct {
	Tool    string
	Command string
	Reason  string
}

// Hint groups the suggestions for one hotspot.
type Hint struct {
	Function    string
	Suggestions []Suggestion
}

// Hotspot thresholds.
const (
	hotPercent    = 20.0
	ownShare      = 0.8
	chattyCalls   = 1000
	chattyAverage = 10_000 // ns
)

// DrillDown returns suggestions for one function.
func DrillDown(fs profile.FunctionStats) []Suggestion {
	var suggestions []Suggestion

	if fs.Percentage >= hotPercent {
		if fs.TotalTime > 0 && float64(fs.OwnTime)/float64(fs.TotalTime) >= ownShare {
			suggestions = append(suggestions,
				Suggestion{"pprof", "calltrace flamegraph --format pprof -o cpu.pb.gz", "Time is spent in the function body; inspect it line by line"},
			)
		} else {
			suggestions = append(suggestions,
				Suggestion{"calltrace", "calltrace flamegraph -o flame.svg", "Time is spent in callees; follow the hot path"},
			)
		}
	}

	if fs.Calls >= chattyCalls && fs.AvgTime() < chattyAverage {
		suggestions = append(suggestions,
			Suggestion{"calltrace", "calltrace report --sort calls", fmt.Sprintf("Called %d times for %s each; batch or cache", fs.Calls, HumanDuration(fs.AvgTime()))},
		)
	}

	if fs.Flagged() {
		suggestions = append(suggestions,
			Suggestion{"calltrace", "calltrace check", "Measurements were corrected; validate the profile"},
		)
	}

	return suggestions
}

// Hints returns suggestions for every function that has any, hottest first.
func Hints(p profile.ProfilerStats) []Hint {
	var results []Hint
	for _, fs := range stats.Rank(p, stats.SortTotal) {
		if s := DrillDown(fs); len(s) > 0 {
			results = append(results, Hint{Function: fs.Key.String(), Suggestions: s})
		}
	}
	return results
}
