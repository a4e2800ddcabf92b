// Package stats aggregates completed call frames into per-function
// statistics.
package stats

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danpilch/calltrace/pkg/profile"
)

// ErrUnknownFunctionKey means the aggregation state is internally
// inconsistent. It is raised as a panic because stats built on a broken
// table cannot be trusted.
var ErrUnknownFunctionKey = errors.New("unknown function key in aggregation table")

type entry struct {
	key       profile.FunctionKey
	calls     int
	total     time.Duration
	own       time.Duration
	truncated int
	anomalous int
}

// Aggregator maintains FunctionStats for every function seen. Ingest may be
// called from several execution contexts; each call holds the lock for its
// own duration only.
type Aggregator struct {
	mu        sync.Mutex
	entries   map[profile.FunctionKey]*entry
	rootTotal time.Duration
	roots     int
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		entries: make(map[profile.FunctionKey]*entry),
	}
}

// Ingest folds one completed frame into the statistics.
func (a *Aggregator) Ingest(tree profile.Tree, id profile.FrameID) {
	f := tree.Frame(id)
	d := f.Duration()
	own := f.OwnTime()

	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[f.Key]
	if !ok {
		e = &entry{key: f.Key}
		a.entries[f.Key] = e
	}
	e.calls++
	if !f.Recursive {
		e.total += d
	}
	e.own += own
	if f.Has(profile.FlagTruncated) {
		e.truncated++
	}
	if f.Has(profile.FlagClockSkew) || f.Has(profile.FlagOwnClamped) {
		e.anomalous++
	}
	if f.IsRoot() {
		a.rootTotal += d
		a.roots++
	}
}

// Snapshot returns the current statistics with percentages computed against
// the total time of all top-level frames.
func (a *Aggregator) Snapshot() profile.ProfilerStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := profile.ProfilerStats{
		TotalTime: a.rootTotal,
		Roots:     a.roots,
		Functions: make(map[profile.FunctionKey]profile.FunctionStats, len(a.entries)),
	}
	for k, e := range a.entries {
		if e == nil || e.key != k {
			panic(fmt.Errorf("%w: %s", ErrUnknownFunctionKey, k))
		}
		out.Functions[k] = profile.FunctionStats{
			Key:        k,
			Calls:      e.calls,
			TotalTime:  e.total,
			OwnTime:    e.own,
			Percentage: profile.Percent(e.total, a.rootTotal),
			Truncated:  e.truncated,
			Anomalous:  e.anomalous,
		}
	}
	return out
}

// Reset discards all statistics.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = make(map[profile.FunctionKey]*entry)
	a.rootTotal = 0
	a.roots = 0
}
