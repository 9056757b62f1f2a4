package domain

// Magnitude bucket labels, fixed and always present in Stats.ByMagnitude.
const (
	BucketBelow3 = "<3"
	Bucket3To4   = "3-4"
	Bucket4To5   = "4-5"
	Bucket5To6   = "5-6"
	Bucket6Plus  = ">=6"
)

// MagnitudeBuckets lists the bucket labels in ascending order.
func MagnitudeBuckets() []string {
	return []string{BucketBelow3, Bucket3To4, Bucket4To5, Bucket5To6, Bucket6Plus}
}

// Stats is derived from a filtered event list and never stored on its own.
type Stats struct {
	Total            int            `json:"total"`
	AnomalyCount     int            `json:"anomalyCount"`
	BySource         map[Source]int `json:"sourceDistribution"`
	ByMagnitude      map[string]int `json:"magnitudeDistribution"`
	AverageMagnitude float64        `json:"averageMagnitude"`
	MinMagnitude     float64        `json:"minMagnitude"`
	MaxMagnitude     float64        `json:"maxMagnitude"`
	AverageDepth     float64        `json:"averageDepth"`
}

// MagnitudeBucket returns the bucket label for a magnitude.
func MagnitudeBucket(m float64) string {
	switch {
	case m < 3:
		return BucketBelow3
	case m < 4:
		return Bucket3To4
	case m < 5:
		return Bucket4To5
	case m < 6:
		return Bucket5To6
	default:
		return Bucket6Plus
	}
}

// ComputeStats derives aggregate statistics from scratch. Averages and
// extremes are zero for an empty list.
func ComputeStats(events []Event) Stats {
	st := Stats{
		Total:       len(events),
		BySource:    make(map[Source]int),
		ByMagnitude: make(map[string]int, 5),
	}
	for _, b := range MagnitudeBuckets() {
		st.ByMagnitude[b] = 0
	}
	if len(events) == 0 {
		return st
	}

	var magSum, depthSum float64
	st.MinMagnitude = events[0].Magnitude
	st.MaxMagnitude = events[0].Magnitude
	for _, e := range events {
		if e.IsAnomaly {
			st.AnomalyCount++
		}
		st.BySource[e.Source]++
		st.ByMagnitude[MagnitudeBucket(e.Magnitude)]++
		magSum += e.Magnitude
		depthSum += e.Depth
		st.MinMagnitude = min(st.MinMagnitude, e.Magnitude)
		st.MaxMagnitude = max(st.MaxMagnitude, e.Magnitude)
	}
	st.AverageMagnitude = magSum / float64(len(events))
	st.AverageDepth = depthSum / float64(len(events))
	return st
}
