// Package crosscheck validates a finished profile by comparing the same
// quantity derived by independent consumers and by checking the invariants
// the statistics must satisfy.
package crosscheck

import (
	"math"
	"slices"
)

// ValidationStatus indicates the confidence level of a cross-checked metric.
type ValidationStatus string

const (
	StatusValid    ValidationStatus = "valid"
	StatusSuspect  ValidationStatus = "suspect"
	StatusConflict ValidationStatus = "conflict"
)

// Source is one consumer's reading of a metric.
type Source struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// ValidationResult holds the cross-check outcome for a metric.
type ValidationResult struct {
	Metric       string           `json:"metric"`
	Sources      []Source         `json:"sources"`
	Consensus    float64          `json:"consensus"`
	MaxDeviation float64          `json:"max_deviation"` // percent of consensus
	Outlier      string           `json:"outlier,omitempty"`
	Status       ValidationStatus `json:"status"`
}

// Validator grades how far readings stray from their median. Consumers
// see identical frames, so any spread beyond rounding is a defect.
type Validator struct {
	SuspectThreshold  float64 // percent deviation, default 0.5
	ConflictThreshold float64 // percent deviation, default 2
	// Tolerance is an absolute difference treated as agreement.
	Tolerance float64
}

// NewValidator creates a validator with default thresholds.
func NewValidator() *Validator {
	return &Validator{
		SuspectThreshold:  0.5,
		ConflictThreshold: 2,
		Tolerance:         1e-3,
	}
}

// CrossCheck compares the readings of one metric.
func (v *Validator) CrossCheck(metric string, sources []Source) ValidationResult {
	result := ValidationResult{Metric: metric, Sources: sources, Status: StatusValid}
	if len(sources) == 0 {
		return result
	}

	result.Consensus = median(sources)
	for _, s := range sources {
		dev := v.deviation(s.Value, result.Consensus)
		if dev > result.MaxDeviation {
			result.MaxDeviation = dev
			result.Outlier = s.Name
		}
	}

	switch {
	case result.MaxDeviation >= v.ConflictThreshold:
		result.Status = StatusConflict
	case result.MaxDeviation >= v.SuspectThreshold:
		result.Status = StatusSuspect
	}
	return result
}

// deviation returns |val-consensus| as a percentage of consensus.
func (v *Validator) deviation(val, consensus float64) float64 {
	diff := math.Abs(val - consensus)
	if diff <= v.Tolerance {
		return 0
	}
	if consensus == 0 {
		return 100
	}
	return diff / math.Abs(consensus) * 100
}

func median(sources []Source) float64 {
	values := make([]float64, len(sources))
	for i, s := range sources {
		values[i] = s.Value
	}
	slices.Sort(values)
	mid := len(values) / 2
	if len(values)%2 == 0 {
		return (values[mid-1] + values[mid]) / 2
	}
	return values[mid]
}
