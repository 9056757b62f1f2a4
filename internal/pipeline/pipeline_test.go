package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
	"github.com/couchcryptid/quake-data-etl/internal/pipeline"
	"github.com/couchcryptid/quake-data-etl/internal/store"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawUpdate
	index   atomic.Int64
	err     error
	calls   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawUpdate, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	i := int(m.index.Add(1) - 1)
	if i >= len(m.batches) {
		// block until cancelled to simulate an idle topic
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingNotifier) Notify(_ context.Context, events []domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

type recordingWriter struct {
	mu        sync.Mutex
	published []domain.Event
	err       error
}

func (w *recordingWriter) PublishAnomalies(_ context.Context, events []domain.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.published = append(w.published, events...)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(f store.Fetcher) *store.Store {
	return store.New(f, observability.NewMetricsForTesting(), discardLogger())
}

func ids(events []domain.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

type fetchFunc func(ctx context.Context) ([]domain.Event, error)

func (f fetchFunc) FetchAll(ctx context.Context) ([]domain.Event, error) { return f(ctx) }

func makeUpdate(t *testing.T, typ domain.UpdateType, id string, data any, commits *atomic.Int64) domain.RawUpdate {
	t.Helper()
	msg := domain.RecordUpdate{Type: typ, ID: id, Timestamp: 1705310110000}
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		msg.Data = b
	}
	value, err := json.Marshal(msg)
	require.NoError(t, err)
	return domain.RawUpdate{
		Key:   []byte(id),
		Value: value,
		Topic: "seismic-event-updates",
		Commit: func(context.Context) error {
			if commits != nil {
				commits.Add(1)
			}
			return nil
		},
	}
}

func runFor(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_AppliesUpdates(t *testing.T) {
	s := newStore(fetchFunc(func(context.Context) ([]domain.Event, error) { return domain.MockEvents(), nil }))
	require.NoError(t, s.Fetch(context.Background()))

	var commits atomic.Int64
	newEvent := domain.Event{ID: "live-1", Date: "2024-01-15", Time: "13:00:00", Magnitude: 6.2, Depth: 3, Location: "Sındırgı", Source: domain.SourceKandilli}
	ext := &mockExtractor{batches: [][]domain.RawUpdate{{
		makeUpdate(t, domain.UpdateNew, "live-1", newEvent, &commits),
		makeUpdate(t, domain.UpdateChange, "mock_1", map[string]any{"magnitude": 2.5}, &commits),
		makeUpdate(t, domain.UpdateRemove, "mock_2", nil, &commits),
	}}}
	notifier := &recordingNotifier{}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New(ext, pipeline.NewApplier(s, nil, metrics, discardLogger()), notifier, discardLogger(), metrics, 50)
	runFor(t, p, 300*time.Millisecond)

	raw := s.Raw()
	require.Len(t, raw, 2)
	assert.Equal(t, "mock_1", raw[0].ID)
	assert.Equal(t, 2.5, raw[0].Magnitude)
	assert.Equal(t, "live-1", raw[1].ID)
	assert.True(t, raw[1].IsAnomaly)

	assert.EqualValues(t, 3, commits.Load())

	require.Len(t, notifier.events, 2)
	assert.Equal(t, "live-1", notifier.events[0].ID)
	assert.Equal(t, "mock_1", notifier.events[1].ID)
}

func TestPipeline_Run_SkipsAndCommitsBadMessages(t *testing.T) {
	s := newStore(fetchFunc(func(context.Context) ([]domain.Event, error) { return nil, nil }))

	var commits atomic.Int64
	garbage := domain.RawUpdate{Value: []byte("{not json"), Commit: func(context.Context) error { commits.Add(1); return nil }}
	ext := &mockExtractor{batches: [][]domain.RawUpdate{{
		garbage,
		makeUpdate(t, domain.UpdateRemove, "nobody", nil, &commits),
	}}}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New(ext, pipeline.NewApplier(s, nil, metrics, discardLogger()), nil, discardLogger(), metrics, 50)
	runFor(t, p, 300*time.Millisecond)

	assert.EqualValues(t, 2, commits.Load())
	assert.Empty(t, s.Raw())
}

func TestPipeline_Run_RejectsInvalidLiveRecords(t *testing.T) {
	s := newStore(fetchFunc(func(context.Context) ([]domain.Event, error) { return domain.MockEvents(), nil }))
	require.NoError(t, s.Fetch(context.Background()))
	before := s.Raw()

	var commits atomic.Int64
	ext := &mockExtractor{batches: [][]domain.RawUpdate{{
		makeUpdate(t, domain.UpdateNew, "no-source", domain.Event{Date: "2024-01-15", Time: "13:00:00", Magnitude: 3}, &commits),
		makeUpdate(t, domain.UpdateNew, "usgs", domain.Event{Date: "2024-01-15", Time: "13:00:00", Magnitude: 3, Source: "USGS"}, &commits),
		makeUpdate(t, domain.UpdateNew, "bad-date", domain.Event{Date: "yesterday", Magnitude: 3, Source: domain.SourceAFAD}, &commits),
		makeUpdate(t, domain.UpdateChange, "mock_1", map[string]any{"date": "2024-13-45"}, &commits),
	}}}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New(ext, pipeline.NewApplier(s, nil, metrics, discardLogger()), nil, discardLogger(), metrics, 50)
	runFor(t, p, 300*time.Millisecond)

	assert.EqualValues(t, 4, commits.Load(), "rejected messages are still committed")
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.UpdateErrors))
	assert.Equal(t, before, s.Raw())
}

func TestPipeline_ReadyWhileConsumingIdleTopic(t *testing.T) {
	ext := &mockExtractor{}
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(ext, pipeline.NewApplier(newStore(nil), nil, metrics, discardLogger()), nil, discardLogger(), metrics, 50)
	require.Error(t, p.CheckReadiness(context.Background()), "not ready before Run")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- p.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return p.CheckReadiness(context.Background()) == nil
	}, time.Second, 10*time.Millisecond, "ready with no messages delivered")

	cancel()
	require.NoError(t, <-done)
	assert.Error(t, p.CheckReadiness(context.Background()), "not ready after Run returns")
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ext := &mockExtractor{}
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(ext, pipeline.NewApplier(newStore(nil), nil, metrics, discardLogger()), nil, discardLogger(), metrics, 50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Zero(t, ext.calls.Load())
}

func TestPipeline_Run_BacksOffOnExtractError(t *testing.T) {
	ext := &mockExtractor{err: errors.New("broker unavailable")}
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(ext, pipeline.NewApplier(newStore(nil), nil, metrics, discardLogger()), nil, discardLogger(), metrics, 50)

	runFor(t, p, 500*time.Millisecond)

	// 200ms then 400ms of backoff fit at most three attempts in 500ms.
	assert.LessOrEqual(t, ext.calls.Load(), int64(3))
	assert.GreaterOrEqual(t, ext.calls.Load(), int64(2))
}

func TestApplier_GeocodesNewRecords(t *testing.T) {
	s := newStore(nil)
	geo := &stubGeocoder{result: domain.GeocodingResult{FormattedAddress: "Bornova, İzmir", PlaceName: "İzmir"}}
	metrics := observability.NewMetricsForTesting()
	a := pipeline.NewApplier(s, geo, metrics, discardLogger())

	event, kept, err := a.Apply(context.Background(), makeUpdate(t, domain.UpdateNew, "g-1",
		domain.Event{Date: "2024-01-15", Time: "10:00:00", Latitude: 38.46, Longitude: 27.22, Magnitude: 3.1, Depth: 7, Source: domain.SourceAFAD}, nil))
	require.NoError(t, err)
	assert.True(t, kept)
	assert.Equal(t, "g-1", event.ID, "id taken from the envelope")
	assert.Equal(t, "Bornova, İzmir", event.Location)

	stored, ok := s.Get("g-1")
	require.True(t, ok)
	assert.Equal(t, event, stored)
}

func TestApplier_UnknownRecord(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	a := pipeline.NewApplier(newStore(nil), nil, metrics, discardLogger())

	_, _, err := a.Apply(context.Background(), makeUpdate(t, domain.UpdateChange, "ghost", map[string]any{"depth": 3}, nil))
	assert.ErrorIs(t, err, pipeline.ErrUnknownRecord)

	_, _, err = a.Apply(context.Background(), makeUpdate(t, domain.UpdateRemove, "ghost", nil, nil))
	assert.ErrorIs(t, err, pipeline.ErrUnknownRecord)
}

func TestApplier_InvalidRecord(t *testing.T) {
	s := newStore(fetchFunc(func(context.Context) ([]domain.Event, error) { return domain.MockEvents(), nil }))
	require.NoError(t, s.Fetch(context.Background()))
	a := pipeline.NewApplier(s, nil, observability.NewMetricsForTesting(), discardLogger())

	_, kept, err := a.Apply(context.Background(), makeUpdate(t, domain.UpdateNew, "usgs",
		domain.Event{Date: "2024-01-15", Time: "10:00:00", Source: "USGS"}, nil))
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)
	assert.False(t, kept)

	_, _, err = a.Apply(context.Background(), makeUpdate(t, domain.UpdateNew, "bad-date",
		domain.Event{Date: "15/01/2024", Source: domain.SourceKandilli}, nil))
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)

	_, _, err = a.Apply(context.Background(), makeUpdate(t, domain.UpdateChange, "mock_1", map[string]any{"time": "25:99"}, nil))
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)

	assert.Len(t, s.Raw(), 2)
}

type stubGeocoder struct{ result domain.GeocodingResult }

func (s *stubGeocoder) ReverseGeocode(context.Context, float64, float64) (domain.GeocodingResult, error) {
	return s.result, nil
}

func TestAnomalyNotifier_PublishesOnce(t *testing.T) {
	w := &recordingWriter{}
	n := pipeline.NewAnomalyNotifier(w, 100, time.Hour, clockwork.NewFakeClock(), observability.NewMetricsForTesting(), discardLogger())

	events := domain.MockEvents()
	require.NoError(t, n.Notify(context.Background(), events))
	require.NoError(t, n.Notify(context.Background(), events))

	require.Len(t, w.published, 1)
	assert.Equal(t, "mock_2", w.published[0].ID)
}

func TestAnomalyNotifier_RetriesAfterWriteFailure(t *testing.T) {
	w := &recordingWriter{err: errors.New("kafka down")}
	n := pipeline.NewAnomalyNotifier(w, 100, time.Hour, clockwork.NewFakeClock(), observability.NewMetricsForTesting(), discardLogger())

	require.Error(t, n.Notify(context.Background(), domain.MockEvents()))

	w.err = nil
	require.NoError(t, n.Notify(context.Background(), domain.MockEvents()))
	assert.Len(t, w.published, 1)
}

func TestAnomalyNotifier_CollapsesDuplicatesInBatch(t *testing.T) {
	w := &recordingWriter{}
	n := pipeline.NewAnomalyNotifier(w, 100, time.Hour, clockwork.NewFakeClock(), observability.NewMetricsForTesting(), discardLogger())

	e := domain.MockEvents()[1]
	dup := e
	dup.ID = "other-provider-id"
	require.NoError(t, n.Notify(context.Background(), []domain.Event{e, dup}))
	assert.Len(t, w.published, 1)
}

func TestRefresher_FetchesOnEveryTick(t *testing.T) {
	var fetches atomic.Int64
	s := newStore(fetchFunc(func(context.Context) ([]domain.Event, error) {
		fetches.Add(1)
		return domain.MockEvents(), nil
	}))
	w := &recordingWriter{}
	clock := clockwork.NewFakeClock()
	n := pipeline.NewAnomalyNotifier(w, 100, time.Hour, clock, observability.NewMetricsForTesting(), discardLogger())
	r := pipeline.NewRefresher(s, n, clock, time.Minute, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- r.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	assert.EqualValues(t, 1, fetches.Load())

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return fetches.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Len(t, w.published, 1, "the same anomaly is published once across refreshes")
}

func TestRefresher_ZeroIntervalFetchesOnce(t *testing.T) {
	var fetches atomic.Int64
	s := newStore(fetchFunc(func(context.Context) ([]domain.Event, error) {
		fetches.Add(1)
		return nil, errors.New("down")
	}))
	r := pipeline.NewRefresher(s, nil, clockwork.NewFakeClock(), 0, discardLogger())

	require.NoError(t, r.Run(context.Background()))
	assert.EqualValues(t, 1, fetches.Load())
	assert.Equal(t, store.StatusError, s.Status())
}
