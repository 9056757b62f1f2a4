package aggregator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
)

type fakeProvider struct {
	name  domain.Source
	fetch func(ctx context.Context, params domain.FetchParams) ([]domain.Event, error)
}

func (f *fakeProvider) Name() domain.Source { return f.name }

func (f *fakeProvider) Fetch(ctx context.Context, params domain.FetchParams) ([]domain.Event, error) {
	return f.fetch(ctx, params)
}

func returning(name domain.Source, events ...domain.Event) *fakeProvider {
	return &fakeProvider{name: name, fetch: func(context.Context, domain.FetchParams) ([]domain.Event, error) {
		return events, nil
	}}
}

func failing(name domain.Source, err error) *fakeProvider {
	return &fakeProvider{name: name, fetch: func(context.Context, domain.FetchParams) ([]domain.Event, error) {
		return nil, err
	}}
}

func event(t *testing.T, id string, source domain.Source, date, clock string, mag, depth float64) domain.Event {
	t.Helper()
	ts, err := domain.ParseTimestamp(date, clock)
	require.NoError(t, err)
	return domain.Event{
		ID: id, Date: date, Time: clock, Timestamp: ts,
		Latitude: 38.4, Longitude: 27.1, Magnitude: mag, Depth: depth,
		Location: "X", Source: source,
	}
}

func newAggregator(opts Options, providers ...Provider) *Aggregator {
	return New(providers, opts, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func ids(events []domain.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestFetchAll_DeduplicatesAndSorts(t *testing.T) {
	shared := event(t, "k-1", domain.SourceKandilli, "2024-01-15", "12:15:10", 5.1, 8.2)
	sameFromAFAD := shared
	sameFromAFAD.ID = "a-9"
	sameFromAFAD.Source = domain.SourceAFAD

	kandilli := returning(domain.SourceKandilli,
		event(t, "k-old", domain.SourceKandilli, "2024-01-14", "08:00:00", 3.0, 5),
		shared,
	)
	afad := returning(domain.SourceAFAD,
		sameFromAFAD,
		event(t, "a-new", domain.SourceAFAD, "2024-01-16", "09:00:00", 4.2, 12.5),
	)

	agg := newAggregator(Options{}, kandilli, afad)
	events, err := agg.FetchAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a-new", "k-1", "k-old"}, ids(events))
	assert.Equal(t, domain.SourceKandilli, events[1].Source, "first provider wins a duplicate")
	assert.True(t, events[1].IsAnomaly)
	assert.InDelta(t, 71.4, events[1].AnomalyScore, 1e-9)
}

func TestFetchAll_EqualTimestampsKeepProviderOrder(t *testing.T) {
	a := event(t, "k", domain.SourceKandilli, "2024-01-15", "10:00:00", 3.0, 5)
	b := event(t, "a", domain.SourceAFAD, "2024-01-15", "10:00:00", 3.1, 5)

	events, err := newAggregator(Options{},
		returning(domain.SourceKandilli, a),
		returning(domain.SourceAFAD, b),
	).FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "a"}, ids(events))
}

func TestFetchAll_OneProviderFails(t *testing.T) {
	timeout := &domain.ProviderError{Provider: domain.SourceKandilli, Op: "request", Timeout: true, Err: context.DeadlineExceeded}
	agg := newAggregator(Options{},
		failing(domain.SourceKandilli, timeout),
		returning(domain.SourceAFAD, event(t, "a", domain.SourceAFAD, "2024-01-15", "10:00:00", 3.0, 5)),
	)

	events, err := agg.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(events))
}

func TestFetchAll_AllProvidersFail(t *testing.T) {
	agg := newAggregator(Options{},
		failing(domain.SourceKandilli, &domain.ProviderError{Provider: domain.SourceKandilli, Op: "request", Timeout: true, Err: context.DeadlineExceeded}),
		failing(domain.SourceAFAD, errors.New("connection refused")),
	)

	events, err := agg.FetchAll(context.Background())
	require.Error(t, err)
	assert.Nil(t, events)

	var aggErr *domain.AggregateError
	require.True(t, errors.As(err, &aggErr))
	require.Len(t, aggErr.Errors, 2)
	assert.Equal(t, domain.SourceKandilli, aggErr.Errors[0].Provider)
	assert.True(t, aggErr.Errors[0].Timeout)
	assert.Equal(t, domain.SourceAFAD, aggErr.Errors[1].Provider)
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchAll_FallbackToMock(t *testing.T) {
	agg := newAggregator(Options{FallbackToMock: true},
		failing(domain.SourceKandilli, errors.New("down")),
	)

	events, err := agg.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mock_1", "mock_2"}, ids(events))
}

func TestFetchAll_QueriesProvidersConcurrently(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	barrier := func(name domain.Source) *fakeProvider {
		return &fakeProvider{name: name, fetch: func(context.Context, domain.FetchParams) ([]domain.Event, error) {
			arrived.Done()
			done := make(chan struct{})
			go func() { arrived.Wait(); close(done) }()
			select {
			case <-done:
				return nil, nil
			case <-time.After(2 * time.Second):
				return nil, errors.New("providers were queried sequentially")
			}
		}}
	}

	_, err := newAggregator(Options{}, barrier(domain.SourceKandilli), barrier(domain.SourceAFAD)).FetchAll(context.Background())
	require.NoError(t, err)
}

func TestFetchAll_LookbackWindow(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { domain.SetClock(nil) })

	var got domain.FetchParams
	var calls atomic.Int32
	p := &fakeProvider{name: domain.SourceAFAD, fetch: func(_ context.Context, params domain.FetchParams) ([]domain.Event, error) {
		calls.Add(1)
		got = params
		return nil, nil
	}}

	_, err := newAggregator(Options{Lookback: 6 * time.Hour, Limit: 200}, p).FetchAll(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 1, calls.Load())
	require.NotNil(t, got.Start)
	require.NotNil(t, got.End)
	assert.True(t, now.Equal(*got.End))
	assert.True(t, now.Add(-6*time.Hour).Equal(*got.Start))
	assert.Equal(t, 200, got.Limit)
}

type stubGeocoder struct{ calls int }

func (s *stubGeocoder) ReverseGeocode(context.Context, float64, float64) (domain.GeocodingResult, error) {
	s.calls++
	return domain.GeocodingResult{FormattedAddress: "Bornova, İzmir", PlaceName: "İzmir"}, nil
}

func TestFetchAll_GeocodesUnknownLocations(t *testing.T) {
	known := event(t, "known", domain.SourceAFAD, "2024-01-15", "10:00:00", 3.0, 5)
	unknown := event(t, "unknown", domain.SourceAFAD, "2024-01-15", "09:00:00", 3.0, 5)
	unknown.Location = domain.UnknownLocation

	geo := &stubGeocoder{}
	events, err := newAggregator(Options{Geocoder: geo}, returning(domain.SourceAFAD, known, unknown)).FetchAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, geo.calls)
	assert.Equal(t, "X", events[0].Location)
	assert.Equal(t, "Bornova, İzmir", events[1].Location)
}

func TestSources(t *testing.T) {
	agg := newAggregator(Options{}, returning(domain.SourceAFAD), returning(domain.SourceKandilli))
	assert.Equal(t, []domain.Source{domain.SourceAFAD, domain.SourceKandilli}, agg.Sources())
}
