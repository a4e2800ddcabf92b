package output

import "github.com/danpilch/calltrace/pkg/profile"

// QualityScore rates how much a profile can be trusted, from 0 to 100.
// Starts at 100, -15 per stack corruption, -5 per clock or own-time
// correction, -3 per frame still open at stop.
func QualityScore(p profile.ProfilerStats) int {
	score := 100
	for _, a := range p.Anomalies {
		switch a.Kind {
		case profile.StackCorruption:
			score -= 15
		case profile.ClockNonMonotonic, profile.NegativeOwnTime:
			score -= 5
		case profile.OpenAtStop:
			score -= 3
		}
	}
	return max(score, 0)
}

// ScoreLabel returns a human-readable label for a quality score.
func ScoreLabel(score int) string {
	if score >= 80 {
		return "Reliable"
	}
	if score >= 50 {
		return "Noisy"
	}
	return "Unreliable"
}
