package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
)

// ErrUnknownRecord is returned when an update or removal names an id the
// store does not hold.
var ErrUnknownRecord = errors.New("unknown record")

// RecordStore is the part of the store live updates write to.
type RecordStore interface {
	AddRecord(e domain.Event) (domain.Event, error)
	UpdateRecord(id string, patch domain.EventPatch) (bool, error)
	RemoveRecord(id string) bool
	Get(id string) (domain.Event, bool)
}

// UpdateApplier decodes live updates and applies them to the store, with
// optional geocoding of new records.
type UpdateApplier struct {
	store    RecordStore
	geocoder domain.Geocoder
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewApplier creates an UpdateApplier. Pass a nil geocoder to disable
// geocoding enrichment.
func NewApplier(store RecordStore, geocoder domain.Geocoder, metrics *observability.Metrics, logger *slog.Logger) *UpdateApplier {
	return &UpdateApplier{
		store:    store,
		geocoder: geocoder,
		metrics:  metrics,
		logger:   logger,
	}
}

func (a *UpdateApplier) Apply(ctx context.Context, raw domain.RawUpdate) (domain.Event, bool, error) {
	u, err := domain.ParseRecordUpdate(raw)
	if err != nil {
		return domain.Event{}, false, err
	}

	switch u.Type {
	case domain.UpdateNew:
		event, err := domain.Normalize(u.Event)
		if err != nil {
			return domain.Event{}, false, fmt.Errorf("add %q: %w", u.ID, err)
		}
		event = domain.EnrichWithGeocoding(ctx, event, a.geocoder, a.logger)
		stored, err := a.store.AddRecord(event)
		if err != nil {
			return domain.Event{}, false, fmt.Errorf("add %q: %w", u.ID, err)
		}
		a.metrics.UpdatesApplied.WithLabelValues(string(u.Type)).Inc()
		return stored, true, nil

	case domain.UpdateChange:
		found, err := a.store.UpdateRecord(u.ID, u.Patch)
		if err != nil {
			return domain.Event{}, false, fmt.Errorf("update %q: %w", u.ID, err)
		}
		if !found {
			return domain.Event{}, false, fmt.Errorf("update %q: %w", u.ID, ErrUnknownRecord)
		}
		a.metrics.UpdatesApplied.WithLabelValues(string(u.Type)).Inc()
		event, ok := a.store.Get(u.ID)
		return event, ok, nil

	case domain.UpdateRemove:
		if !a.store.RemoveRecord(u.ID) {
			return domain.Event{}, false, fmt.Errorf("remove %q: %w", u.ID, ErrUnknownRecord)
		}
		a.metrics.UpdatesApplied.WithLabelValues(string(u.Type)).Inc()
		return domain.Event{}, false, nil
	}

	return domain.Event{}, false, fmt.Errorf("unsupported update type %q", u.Type)
}
