package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Normalize derives the fields a canonical event must carry regardless of
// where it came from: the timestamp from date+time, a location placeholder,
// and the anomaly fields. Any caller-supplied timestamp is replaced. Records
// whose date+time does not parse or whose source is unknown are rejected
// with ErrInvalidRecord.
func Normalize(e Event) (Event, error) {
	if !e.Source.Valid() {
		return Event{}, fmt.Errorf("%w: unknown source %q", ErrInvalidRecord, e.Source)
	}
	ts, err := ParseTimestamp(e.Date, e.Time)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	e.Timestamp = ts
	e.Date, e.Time = FormatTimestamp(ts)
	e.Location = FirstNonEmpty(UnknownLocation, e.Location)
	return ScoreAnomaly(e), nil
}

// ParsedUpdate is a decoded live update, ready to apply to the store.
type ParsedUpdate struct {
	Type  UpdateType
	ID    string
	Event Event
	Patch EventPatch
}

// ParseRecordUpdate decodes a live-update message. New events must carry a
// payload; updates and removals must name an id.
func ParseRecordUpdate(raw RawUpdate) (ParsedUpdate, error) {
	var msg RecordUpdate
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		return ParsedUpdate{}, fmt.Errorf("parse record update: %w", err)
	}

	out := ParsedUpdate{Type: msg.Type, ID: msg.ID}
	switch msg.Type {
	case UpdateNew:
		if len(msg.Data) == 0 {
			return ParsedUpdate{}, errors.New("parse record update: new event without data")
		}
		if err := json.Unmarshal(msg.Data, &out.Event); err != nil {
			return ParsedUpdate{}, fmt.Errorf("parse record update: event: %w", err)
		}
		if out.Event.ID == "" {
			out.Event.ID = msg.ID
		}
		if !out.Event.Source.Valid() {
			return ParsedUpdate{}, fmt.Errorf("parse record update: %w: unknown source %q", ErrInvalidRecord, out.Event.Source)
		}
		out.ID = out.Event.ID
	case UpdateChange:
		if msg.ID == "" {
			return ParsedUpdate{}, errors.New("parse record update: update without id")
		}
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &out.Patch); err != nil {
				return ParsedUpdate{}, fmt.Errorf("parse record update: patch: %w", err)
			}
		}
	case UpdateRemove:
		if msg.ID == "" {
			return ParsedUpdate{}, errors.New("parse record update: remove without id")
		}
	default:
		return ParsedUpdate{}, fmt.Errorf("parse record update: unknown type %q", msg.Type)
	}
	return out, nil
}
