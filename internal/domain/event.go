package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Source tags the provider an event came from.
type Source string

const (
	SourceKandilli Source = "Kandilli"
	SourceAFAD     Source = "AFAD"
)

// AllSources lists every provider tag the service knows about, in the order
// providers are registered by default.
func AllSources() []Source {
	return []Source{SourceKandilli, SourceAFAD}
}

// Valid reports whether s is one of AllSources.
func (s Source) Valid() bool {
	return slices.Contains(AllSources(), s)
}

// UnknownLocation is the placeholder used when a provider supplies no
// usable location text.
const UnknownLocation = "unknown"

// Event is the canonical seismic record every provider is mapped into.
// The JSON field names are the contract handed to rendering layers.
type Event struct {
	ID           string  `json:"id"`
	Date         string  `json:"date"`
	Time         string  `json:"time"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Magnitude    float64 `json:"magnitude"`
	Depth        float64 `json:"depth"`
	Location     string  `json:"location"`
	Province     *string `json:"province"`
	District     *string `json:"district"`
	Source       Source  `json:"source"`
	Timestamp    int64   `json:"timestamp"`
	IsAnomaly    bool    `json:"isAnomaly"`
	AnomalyScore float64 `json:"anomalyScore"`
}

// OccurredAt returns the event timestamp as a time.Time in the reporting zone.
func (e Event) OccurredAt() time.Time {
	return time.UnixMilli(e.Timestamp).In(ReportingZone)
}

// EventPatch is a partial update to an Event. Nil fields are left unchanged.
type EventPatch struct {
	Date      *string  `json:"date,omitempty"`
	Time      *string  `json:"time,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Magnitude *float64 `json:"magnitude,omitempty"`
	Depth     *float64 `json:"depth,omitempty"`
	Location  *string  `json:"location,omitempty"`
	Province  *string  `json:"province,omitempty"`
	District  *string  `json:"district,omitempty"`
	Source    *Source  `json:"source,omitempty"`
}

// Apply returns a copy of e with the patch merged in. The timestamp is
// recomputed when date or time change, and the anomaly fields when
// magnitude or depth change. A patch that leaves an unparseable date+time or
// names an unknown source fails with ErrInvalidRecord and changes nothing.
func (p EventPatch) Apply(e Event) (Event, error) {
	if p.Source != nil && !p.Source.Valid() {
		return Event{}, fmt.Errorf("%w: unknown source %q", ErrInvalidRecord, *p.Source)
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.Time != nil {
		e.Time = *p.Time
	}
	if p.Latitude != nil {
		e.Latitude = *p.Latitude
	}
	if p.Longitude != nil {
		e.Longitude = *p.Longitude
	}
	if p.Magnitude != nil {
		e.Magnitude = *p.Magnitude
	}
	if p.Depth != nil {
		e.Depth = *p.Depth
	}
	if p.Location != nil {
		e.Location = *p.Location
	}
	if p.Province != nil {
		e.Province = p.Province
	}
	if p.District != nil {
		e.District = p.District
	}
	if p.Source != nil {
		e.Source = *p.Source
	}

	if p.Date != nil || p.Time != nil {
		ts, err := ParseTimestamp(e.Date, e.Time)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
		e.Timestamp = ts
		e.Date, e.Time = FormatTimestamp(ts)
	}
	if p.Magnitude != nil || p.Depth != nil {
		e = ScoreAnomaly(e)
	}
	return e, nil
}

// FetchParams narrows a provider request. Nil bounds are not sent.
type FetchParams struct {
	Start        *time.Time
	End          *time.Time
	MinMagnitude *float64
	MaxMagnitude *float64
	MinDepth     *float64
	MaxDepth     *float64
	Limit        int
}

// UpdateType identifies the kind of live record update.
type UpdateType string

const (
	UpdateNew    UpdateType = "new_earthquake"
	UpdateChange UpdateType = "update_earthquake"
	UpdateRemove UpdateType = "remove_earthquake"
)

// RecordUpdate is a live add/update/remove message for a single event.
// Data holds an Event for UpdateNew and an EventPatch for UpdateChange.
type RecordUpdate struct {
	Type      UpdateType      `json:"type"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// RawUpdate is an unprocessed live-update message from the updates topic.
type RawUpdate struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}
