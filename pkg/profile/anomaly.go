package profile

import "fmt"

// AnomalyKind classifies a recoverable measurement problem.
type AnomalyKind string

const (
	StackCorruption   AnomalyKind = "stack_corruption"
	ClockNonMonotonic AnomalyKind = "clock_non_monotonic"
	NegativeOwnTime   AnomalyKind = "negative_own_time"
	OpenAtStop        AnomalyKind = "open_at_stop"
)

// Anomaly is a problem observed while profiling. Anomalies never abort a
// session; reporters list them next to the results.
type Anomaly struct {
	Kind   AnomalyKind `json:"kind"`
	Key    FunctionKey `json:"function"`
	Detail string      `json:"detail"`
}

func (a Anomaly) String() string {
	if a.Key.Name == "" {
		return fmt.Sprintf("%s: %s", a.Kind, a.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", a.Kind, a.Key, a.Detail)
}
