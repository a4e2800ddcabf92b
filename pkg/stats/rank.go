package stats

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danpilch/calltrace/pkg/profile"
)

// SortKey selects the primary ordering of a ranked view.
type SortKey string

const (
	SortTotal SortKey = "total"
	SortOwn   SortKey = "own"
	SortCalls SortKey = "calls"
	SortName  SortKey = "name"
	SortAvg   SortKey = "avg"
)

// SortKeys lists the accepted sort keys.
var SortKeys = []SortKey{SortTotal, SortOwn, SortCalls, SortName, SortAvg}

// ParseSortKey validates s. The empty string selects SortTotal.
func ParseSortKey(s string) (SortKey, error) {
	if s == "" {
		return SortTotal, nil
	}
	for _, k := range SortKeys {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown sort key %q (want one of %v)", s, SortKeys)
}

// Rank orders the functions of p by key. Ties fall back to total time
// descending, then own time descending, then function key, so output is
// reproducible for identical timings.
func Rank(p profile.ProfilerStats, by SortKey) []profile.FunctionStats {
	out := make([]profile.FunctionStats, 0, len(p.Functions))
	for _, s := range p.Functions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch by {
		case SortOwn:
			if a.OwnTime != b.OwnTime {
				return a.OwnTime > b.OwnTime
			}
		case SortCalls:
			if a.Calls != b.Calls {
				return a.Calls > b.Calls
			}
		case SortName:
			if a.Key != b.Key {
				return a.Key.Less(b.Key)
			}
		case SortAvg:
			if a.AvgTime() != b.AvgTime() {
				return a.AvgTime() > b.AvgTime()
			}
		}
		if a.TotalTime != b.TotalTime {
			return a.TotalTime > b.TotalTime
		}
		if a.OwnTime != b.OwnTime {
			return a.OwnTime > b.OwnTime
		}
		return a.Key.Less(b.Key)
	})
	return out
}

// Top returns at most n ranked functions. n <= 0 returns all of them.
func Top(p profile.ProfilerStats, by SortKey, n int) []profile.FunctionStats {
	ranked := Rank(p, by)
	if n > 0 && n < len(ranked) {
		return ranked[:n]
	}
	return ranked
}
