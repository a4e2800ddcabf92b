package output

import (
	"encoding/json"
	"io"
	"time"

	"github.com/danpilch/calltrace/pkg/profile"
)

// TraceEvent is a complete event ("ph":"X") of the Chrome trace event
// format, loadable in chrome://tracing and Perfetto.
type TraceEvent struct {
	Name      string         `json:"name"`
	Category  string         `json:"cat"`
	Phase     string         `json:"ph"`
	Timestamp float64        `json:"ts"`
	Duration  float64        `json:"dur"`
	PID       int            `json:"pid"`
	TID       int            `json:"tid"`
	Args      map[string]any `json:"args,omitempty"`
}

// TraceEvents converts retained call trees into trace events. Each tree is
// one thread; timestamps are microseconds of the profiling clock.
func TraceEvents(trees []*profile.CallTree) []TraceEvent {
	var events []TraceEvent
	for tid, tree := range trees {
		for _, root := range tree.Roots {
			tree.Walk(root, func(f *profile.CallFrame, _ int) {
				ev := TraceEvent{
					Name:      f.Key.Name,
					Category:  "function",
					Phase:     "X",
					Timestamp: micros(f.Start),
					Duration:  micros(f.Duration()),
					PID:       1,
					TID:       tid,
				}
				if f.Key.File != "" || f.Flags != 0 {
					ev.Args = map[string]any{}
					if f.Key.File != "" {
						ev.Args["file"] = f.Key.File
						ev.Args["line"] = f.Key.Line
					}
					if f.Has(profile.FlagTruncated) {
						ev.Args["truncated"] = true
					}
				}
				events = append(events, ev)
			})
		}
	}
	return events
}

// WriteTraceEvents writes trees as a Chrome trace JSON object.
func WriteTraceEvents(w io.Writer, trees []*profile.CallTree) error {
	events := TraceEvents(trees)
	if events == nil {
		events = []TraceEvent{}
	}
	doc := struct {
		TraceEvents     []TraceEvent `json:"traceEvents"`
		DisplayTimeUnit string       `json:"displayTimeUnit"`
	}{events, "ns"}
	return json.NewEncoder(w).Encode(doc)
}

func micros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}
