package domain

const (
	// anomalyMinMagnitude is the exclusive lower magnitude bound for an anomaly.
	anomalyMinMagnitude = 5.0
	// anomalyMaxDepth is the exclusive upper depth bound (km) for an anomaly.
	anomalyMaxDepth = 10.0
)

// IsAnomalous reports whether a magnitude/depth pair is flagged: strong and
// shallow events only.
func IsAnomalous(magnitude, depth float64) bool {
	return magnitude > anomalyMinMagnitude && depth < anomalyMaxDepth
}

// AnomalyScore returns the heuristic score for a magnitude/depth pair, or 0
// when the pair is not anomalous. The score is unbounded and is not a
// probability.
func AnomalyScore(magnitude, depth float64) float64 {
	if !IsAnomalous(magnitude, depth) {
		return 0
	}
	return (magnitude*10 + (100 - depth)) / 2
}

// ScoreAnomaly sets IsAnomaly and AnomalyScore on a copy of e.
func ScoreAnomaly(e Event) Event {
	e.IsAnomaly = IsAnomalous(e.Magnitude, e.Depth)
	e.AnomalyScore = AnomalyScore(e.Magnitude, e.Depth)
	return e
}

// ScoreAnomalies returns a new slice with every event re-scored.
func ScoreAnomalies(events []Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = ScoreAnomaly(e)
	}
	return out
}
