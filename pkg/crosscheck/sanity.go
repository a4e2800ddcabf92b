package crosscheck

import (
	"fmt"
	"strings"
	"time"

	"github.com/danpilch/calltrace/pkg/profile"
	"github.com/danpilch/calltrace/pkg/stats"
)

// percentSlack absorbs floating point error in percentage sums.
const percentSlack = 0.1

// SanityResult holds the outcome of one invariant check.
type SanityResult struct {
	Check   string `json:"check"`
	Passed  bool   `json:"passed"`
	Details string `json:"details"`
}

// RunSanityChecks validates the statistics, the flame graph and the
// session interval against the invariants every profile must satisfy.
// g may be nil and wall may be zero; the checks needing them are skipped.
func RunSanityChecks(p profile.ProfilerStats, g *profile.FlameGraph, wall time.Duration) []SanityResult {
	var results []SanityResult

	var ownOver, badPct, noCalls []string
	for _, fs := range stats.Rank(p, stats.SortName) {
		if fs.OwnTime > fs.TotalTime {
			ownOver = append(ownOver, fs.Key.Name)
		}
		if fs.Percentage < 0 || fs.Percentage > 100+percentSlack {
			badPct = append(badPct, fmt.Sprintf("%s=%.2f", fs.Key.Name, fs.Percentage))
		}
		if fs.Calls < 1 {
			noCalls = append(noCalls, fs.Key.Name)
		}
	}
	results = append(results,
		collect("own time <= total time", ownOver, fmt.Sprintf("%d functions", p.Len())),
		collect("percentage within [0, 100]", badPct, fmt.Sprintf("%d functions", p.Len())),
		collect("every function called", noCalls, fmt.Sprintf("%d functions", p.Len())),
	)

	if g != nil {
		var over []string
		nodes := 0
		check := func(path []profile.FunctionKey, n *profile.FlameNode) {
			nodes++
			var sum time.Duration
			for _, c := range n.Children {
				sum += c.Value
			}
			if sum > n.Value {
				names := make([]string, len(path))
				for i, k := range path {
					names[i] = k.Name
				}
				if len(names) == 0 {
					names = []string{profile.RootKey.Name}
				}
				over = append(over, strings.Join(names, ";"))
			}
		}
		check(nil, g.Root)
		g.Walk(check)
		results = append(results, collect("flame children <= parent", over, fmt.Sprintf("%d nodes", nodes)))

		var top float64
		for _, c := range g.Root.Children {
			top += profile.Percent(c.Value, p.TotalTime)
		}
		results = append(results, SanityResult{
			Check:   "top-level share <= 100%",
			Passed:  top <= 100+percentSlack,
			Details: fmt.Sprintf("%.2f%%", top),
		})
	}

	if wall > 0 {
		results = append(results, SanityResult{
			Check:   "top-level time <= session time",
			Passed:  p.TotalTime <= wall,
			Details: fmt.Sprintf("%v of %v", p.TotalTime, wall),
		})
	}

	return results
}

func collect(check string, failures []string, scope string) SanityResult {
	if len(failures) == 0 {
		return SanityResult{Check: check, Passed: true, Details: scope}
	}
	shown := failures
	if len(shown) > 3 {
		shown = append(shown[:3:3], fmt.Sprintf("and %d more", len(failures)-3))
	}
	return SanityResult{Check: check, Passed: false, Details: strings.Join(shown, ", ")}
}
