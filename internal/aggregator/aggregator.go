package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
)

// Provider is one upstream source of seismic events.
type Provider interface {
	Name() domain.Source
	Fetch(ctx context.Context, params domain.FetchParams) ([]domain.Event, error)
}

// Options tune an Aggregator. The zero value queries the last 24 hours with
// no limit and no fallback.
type Options struct {
	Lookback       time.Duration
	Limit          int
	FallbackToMock bool
	// Geocoder, when set, fills in events whose providers gave no location.
	Geocoder domain.Geocoder
}

// Aggregator queries every provider concurrently and reconciles the results
// into one deduplicated, newest-first list.
type Aggregator struct {
	providers []Provider
	opts      Options
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// New creates an Aggregator over providers, queried in the given order.
func New(providers []Provider, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Aggregator {
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}
	return &Aggregator{
		providers: providers,
		opts:      opts,
		metrics:   metrics,
		logger:    logger,
	}
}

// Sources returns the source tags of the registered providers.
func (a *Aggregator) Sources() []domain.Source {
	out := make([]domain.Source, len(a.providers))
	for i, p := range a.providers {
		out[i] = p.Name()
	}
	return out
}

type outcome struct {
	events []domain.Event
	err    error
}

// FetchAll fetches from every provider and waits for all of them to settle.
// A failing provider is logged and skipped. When every provider fails the
// result is an *domain.AggregateError, or the mock dataset when fallback is
// enabled.
func (a *Aggregator) FetchAll(ctx context.Context) ([]domain.Event, error) {
	end := domain.Now()
	start := end.Add(-a.opts.Lookback)
	params := domain.FetchParams{Start: &start, End: &end, Limit: a.opts.Limit}

	outcomes := make([]outcome, len(a.providers))
	var wg sync.WaitGroup
	for i, p := range a.providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			outcomes[i] = a.fetchOne(ctx, p, params)
		}(i, p)
	}
	wg.Wait()

	var failures []*domain.ProviderError
	var merged []domain.Event
	for i, o := range outcomes {
		if o.err != nil {
			failures = append(failures, asProviderError(a.providers[i].Name(), o.err))
			continue
		}
		merged = append(merged, o.events...)
	}

	if len(failures) == len(a.providers) {
		aggErr := &domain.AggregateError{Errors: failures}
		if a.opts.FallbackToMock {
			a.logger.Warn("all providers failed, serving mock data", "error", aggErr)
			return domain.MockEvents(), nil
		}
		return nil, aggErr
	}

	events := a.reconcile(merged)
	if a.opts.Geocoder != nil {
		for i := range events {
			events[i] = domain.EnrichWithGeocoding(ctx, events[i], a.opts.Geocoder, a.logger)
		}
	}
	return events, nil
}

func (a *Aggregator) fetchOne(ctx context.Context, p Provider, params domain.FetchParams) outcome {
	name := string(p.Name())
	start := time.Now()
	events, err := p.Fetch(ctx, params)
	a.metrics.ProviderDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		result := "error"
		var pe *domain.ProviderError
		if errors.As(err, &pe) && pe.Timeout {
			result = "timeout"
		}
		a.metrics.ProviderRequests.WithLabelValues(name, result).Inc()
		a.logger.Error("provider fetch failed", "provider", name, "error", err)
		return outcome{err: err}
	}

	a.metrics.ProviderRequests.WithLabelValues(name, "success").Inc()
	a.metrics.EventsFetched.WithLabelValues(name).Add(float64(len(events)))
	a.logger.Info("provider fetch complete", "provider", name, "events", len(events))
	return outcome{events: events}
}

// reconcile drops exact-fingerprint duplicates (first seen wins), sorts
// newest first keeping provider order among equal timestamps, and scores
// anomalies.
func (a *Aggregator) reconcile(events []domain.Event) []domain.Event {
	seen := make(map[domain.Fingerprint]struct{}, len(events))
	out := make([]domain.Event, 0, len(events))
	for _, e := range events {
		fp := domain.FingerprintOf(e)
		if _, dup := seen[fp]; dup {
			a.metrics.DuplicatesDropped.Inc()
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, e)
	}

	slices.SortStableFunc(out, func(x, y domain.Event) int {
		switch {
		case x.Timestamp > y.Timestamp:
			return -1
		case x.Timestamp < y.Timestamp:
			return 1
		}
		return 0
	})
	return domain.ScoreAnomalies(out)
}

func asProviderError(name domain.Source, err error) *domain.ProviderError {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &domain.ProviderError{
		Provider: name,
		Op:       "fetch",
		Timeout:  errors.Is(err, context.DeadlineExceeded),
		Err:      err,
	}
}
