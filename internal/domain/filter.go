package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Default filter bounds.
const (
	DefaultMinMagnitude = 0
	DefaultMaxMagnitude = 10
	DefaultMinDepth     = 0
	DefaultMaxDepth     = 1000
)

// DateRange bounds events by calendar date. A nil side is unbounded.
type DateRange struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// UnmarshalJSON accepts each bound as a plain date (YYYY-MM-DD, taken as
// midnight in the reporting zone), an RFC 3339 timestamp, or null.
func (r *DateRange) UnmarshalJSON(data []byte) error {
	var raw struct {
		Start *string `json:"start"`
		End   *string `json:"end"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	start, err := parseRangeBound(raw.Start)
	if err != nil {
		return fmt.Errorf("dateRange.start: %w", err)
	}
	end, err := parseRangeBound(raw.End)
	if err != nil {
		return fmt.Errorf("dateRange.end: %w", err)
	}
	r.Start, r.End = start, end
	return nil
}

func parseRangeBound(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, *s); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(DateLayout, *s, ReportingZone)
	if err != nil {
		return nil, fmt.Errorf("want YYYY-MM-DD or RFC 3339, got %q", *s)
	}
	return &t, nil
}

// FilterSpec controls which events are visible. All criteria are combined
// with AND; magnitude and depth bounds are inclusive.
type FilterSpec struct {
	MinMagnitude  float64   `json:"minMagnitude"`
	MaxMagnitude  float64   `json:"maxMagnitude"`
	MinDepth      float64   `json:"minDepth"`
	MaxDepth      float64   `json:"maxDepth"`
	DateRange     DateRange `json:"dateRange"`
	Sources       []Source  `json:"sources"`
	ShowAnomalies bool      `json:"showAnomalies"`
}

// DefaultFilters returns a specification that admits every known event:
// magnitude 0–10, depth 0–1000 km, no date bound, all sources, anomalies off.
func DefaultFilters() FilterSpec {
	return FilterSpec{
		MinMagnitude: DefaultMinMagnitude,
		MaxMagnitude: DefaultMaxMagnitude,
		MinDepth:     DefaultMinDepth,
		MaxDepth:     DefaultMaxDepth,
		Sources:      AllSources(),
	}
}

// FilterPatch is a partial FilterSpec. Nil fields are left unchanged.
// A provided DateRange replaces both bounds; a provided Sources replaces the
// whole set, so an empty non-nil list admits nothing.
type FilterPatch struct {
	MinMagnitude  *float64   `json:"minMagnitude,omitempty"`
	MaxMagnitude  *float64   `json:"maxMagnitude,omitempty"`
	MinDepth      *float64   `json:"minDepth,omitempty"`
	MaxDepth      *float64   `json:"maxDepth,omitempty"`
	DateRange     *DateRange `json:"dateRange,omitempty"`
	Sources       []Source   `json:"sources,omitempty"`
	ShowAnomalies *bool      `json:"showAnomalies,omitempty"`
}

// Merge returns a copy of s with the provided patch fields applied.
func (s FilterSpec) Merge(p FilterPatch) FilterSpec {
	if p.MinMagnitude != nil {
		s.MinMagnitude = *p.MinMagnitude
	}
	if p.MaxMagnitude != nil {
		s.MaxMagnitude = *p.MaxMagnitude
	}
	if p.MinDepth != nil {
		s.MinDepth = *p.MinDepth
	}
	if p.MaxDepth != nil {
		s.MaxDepth = *p.MaxDepth
	}
	if p.DateRange != nil {
		s.DateRange = *p.DateRange
	}
	if p.Sources != nil {
		s.Sources = slices.Clone(p.Sources)
	}
	if p.ShowAnomalies != nil {
		s.ShowAnomalies = *p.ShowAnomalies
	}
	return s
}

// Clone returns a deep copy of the specification.
func (s FilterSpec) Clone() FilterSpec {
	s.Sources = slices.Clone(s.Sources)
	if s.DateRange.Start != nil {
		start := *s.DateRange.Start
		s.DateRange.Start = &start
	}
	if s.DateRange.End != nil {
		end := *s.DateRange.End
		s.DateRange.End = &end
	}
	return s
}

// Matches reports whether an event passes every criterion of the spec.
// Date bounds compare calendar dates only; the bound's date is taken in the
// bound's own location.
func (s FilterSpec) Matches(e Event) bool {
	if e.Magnitude < s.MinMagnitude || e.Magnitude > s.MaxMagnitude {
		return false
	}
	if e.Depth < s.MinDepth || e.Depth > s.MaxDepth {
		return false
	}
	// Canonical dates are zero-padded YYYY-MM-DD, so string order is date order.
	if s.DateRange.Start != nil && e.Date < s.DateRange.Start.Format(DateLayout) {
		return false
	}
	if s.DateRange.End != nil && e.Date > s.DateRange.End.Format(DateLayout) {
		return false
	}
	if !slices.Contains(s.Sources, e.Source) {
		return false
	}
	if s.ShowAnomalies && !e.IsAnomaly {
		return false
	}
	return true
}

// ApplyFilters returns the events that match spec, in input order, and the
// statistics of that filtered list. The input slice is never modified.
func ApplyFilters(spec FilterSpec, events []Event) ([]Event, Stats) {
	filtered := make([]Event, 0, len(events))
	for _, e := range events {
		if spec.Matches(e) {
			filtered = append(filtered, e)
		}
	}
	return filtered, ComputeStats(filtered)
}
