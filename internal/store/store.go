package store

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
)

// Status is the state of the most recent fetch.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrStaleFetch is returned by Fetch when a newer fetch started before this
// one completed. The stale result is discarded.
var ErrStaleFetch = errors.New("fetch superseded by a newer fetch")

// Fetcher produces the full event list for a refresh.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]domain.Event, error)
}

// Snapshot is a consistent copy of the store's state.
type Snapshot struct {
	Raw        []domain.Event    `json:"earthquakes"`
	Filtered   []domain.Event    `json:"filteredEarthquakes"`
	Filters    domain.FilterSpec `json:"filters"`
	Stats      domain.Stats      `json:"stats"`
	Status     Status            `json:"status"`
	Error      string            `json:"error,omitempty"`
	LastUpdate *time.Time        `json:"lastUpdate"`
}

// Store holds the event list, the active filter, and the derived filtered
// view. Every command recomputes the view; every read returns a copy.
type Store struct {
	fetcher Fetcher
	metrics *observability.Metrics
	logger  *slog.Logger

	mu         sync.RWMutex
	raw        []domain.Event
	filtered   []domain.Event
	filters    domain.FilterSpec
	stats      domain.Stats
	status     Status
	lastErr    error
	lastUpdate time.Time
	generation uint64
	ready      bool
}

// New creates an empty store in the idle state with default filters.
func New(fetcher Fetcher, metrics *observability.Metrics, logger *slog.Logger) *Store {
	s := &Store{
		fetcher: fetcher,
		metrics: metrics,
		logger:  logger,
		filters: domain.DefaultFilters(),
		status:  StatusIdle,
	}
	s.refilter()
	return s
}

// Fetch replaces the event list with a fresh aggregate. On failure the
// previous list is kept and the error recorded. Only the most recently
// started fetch may commit.
func (s *Store) Fetch(ctx context.Context) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.status = StatusLoading
	s.lastErr = nil
	s.mu.Unlock()

	events, err := s.fetcher.FetchAll(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.metrics.Fetches.WithLabelValues("stale").Inc()
		s.logger.Info("discarding stale fetch", "generation", gen, "latest", s.generation)
		return ErrStaleFetch
	}

	if err != nil {
		s.status = StatusError
		s.lastErr = err
		s.metrics.Fetches.WithLabelValues("error").Inc()
		s.logger.Error("fetch failed", "generation", gen, "error", err)
		return err
	}

	s.raw = events
	s.status = StatusSuccess
	s.lastUpdate = domain.Now()
	s.ready = true
	s.refilter()
	s.metrics.Fetches.WithLabelValues("success").Inc()
	s.logger.Info("fetch complete", "generation", gen, "count", len(events), "filtered", len(s.filtered))
	return nil
}

// SetFilters merges the provided fields into the active filter.
func (s *Store) SetFilters(patch domain.FilterPatch) domain.FilterSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = s.filters.Merge(patch)
	s.refilter()
	return s.filters.Clone()
}

// ClearFilters restores the default filter.
func (s *Store) ClearFilters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = domain.DefaultFilters()
	s.refilter()
}

// AddRecord normalizes e and inserts it, keeping the list newest first.
// It returns the stored record, or an error wrapping domain.ErrInvalidRecord
// when e cannot be normalized.
func (s *Store) AddRecord(e domain.Event) (domain.Event, error) {
	e, err := domain.Normalize(e)
	if err != nil {
		return domain.Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.raw, func(x domain.Event) bool { return x.Timestamp < e.Timestamp })
	if i < 0 {
		i = len(s.raw)
	}
	s.raw = slices.Insert(slices.Clip(s.raw), i, e)
	s.refilter()
	return e, nil
}

// UpdateRecord applies patch to every record with the given id and reports
// whether any matched. A patch that any match rejects leaves the list
// untouched.
func (s *Store) UpdateRecord(id string, patch domain.EventPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.Clone(s.raw)
	found := false
	for i := range next {
		if next[i].ID != id {
			continue
		}
		updated, err := patch.Apply(next[i])
		if err != nil {
			return true, err
		}
		next[i] = updated
		found = true
	}
	if !found {
		return false, nil
	}
	if patch.Date != nil || patch.Time != nil {
		sortNewestFirst(next)
	}
	s.raw = next
	s.refilter()
	return true, nil
}

// RemoveRecord drops every record with the given id and reports whether any
// matched.
func (s *Store) RemoveRecord(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.DeleteFunc(slices.Clone(s.raw), func(e domain.Event) bool { return e.ID == id })
	if len(next) == len(s.raw) {
		return false
	}
	s.raw = next
	s.refilter()
	return true
}

// DetectAnomalies re-runs the anomaly heuristic over the event list.
func (s *Store) DetectAnomalies() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = domain.ScoreAnomalies(s.raw)
	s.refilter()
}

// refilter recomputes the filtered view and stats. Callers hold the write lock.
func (s *Store) refilter() {
	s.filtered, s.stats = domain.ApplyFilters(s.filters, s.raw)
	s.metrics.RawEvents.Set(float64(len(s.raw)))
	s.metrics.FilteredEvents.Set(float64(len(s.filtered)))
	s.metrics.AnomalyEvents.Set(float64(s.stats.AnomalyCount))
}

// Raw returns a copy of the full event list, newest first.
func (s *Store) Raw() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.raw)
}

// Filtered returns a copy of the events passing the active filter.
func (s *Store) Filtered() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.filtered)
}

// Filters returns a copy of the active filter.
func (s *Store) Filters() domain.FilterSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters.Clone()
}

// Stats returns statistics over the filtered view.
func (s *Store) Stats() domain.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneStats(s.stats)
}

// Status returns the state of the most recent fetch.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastError returns the error of the most recent fetch, or nil.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// LastUpdate returns when the last successful fetch committed. The zero time
// means no fetch has succeeded.
func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Snapshot returns a consistent copy of the whole state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Raw:      slices.Clone(s.raw),
		Filtered: slices.Clone(s.filtered),
		Filters:  s.filters.Clone(),
		Stats:    cloneStats(s.stats),
		Status:   s.status,
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	if !s.lastUpdate.IsZero() {
		t := s.lastUpdate
		snap.LastUpdate = &t
	}
	return snap
}

// Get returns the first record with the given id.
func (s *Store) Get(id string) (domain.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := slices.IndexFunc(s.raw, func(e domain.Event) bool { return e.ID == id })
	if i < 0 {
		return domain.Event{}, false
	}
	return s.raw[i], true
}

// Nearby returns the events within radiusKm of the point. A non-positive
// radius uses the default.
func (s *Store) Nearby(lat, lon, radiusKm float64) []domain.Event {
	if radiusKm <= 0 {
		radiusKm = domain.DefaultNearbyRadiusKm
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.WithinRadius(s.raw, lat, lon, radiusKm)
}

// Recent returns the events that occurred within window of now.
func (s *Store) Recent(window time.Duration) []domain.Event {
	cutoff := domain.Now().Add(-window).UnixMilli()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Event, 0)
	for _, e := range s.raw {
		if e.Timestamp >= cutoff {
			out = append(out, e)
		}
	}
	return out
}

// CheckReadiness reports ready once a fetch has succeeded.
func (s *Store) CheckReadiness(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		if s.lastErr != nil {
			return errors.New("no successful fetch yet: " + s.lastErr.Error())
		}
		return errors.New("no successful fetch yet")
	}
	return nil
}

func sortNewestFirst(events []domain.Event) {
	slices.SortStableFunc(events, func(x, y domain.Event) int {
		switch {
		case x.Timestamp > y.Timestamp:
			return -1
		case x.Timestamp < y.Timestamp:
			return 1
		}
		return 0
	})
}

func cloneStats(st domain.Stats) domain.Stats {
	st.BySource = maps.Clone(st.BySource)
	st.ByMagnitude = maps.Clone(st.ByMagnitude)
	return st
}
