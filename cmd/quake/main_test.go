package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
	"github.com/couchcryptid/quake-data-etl/internal/pipeline"
	"github.com/couchcryptid/quake-data-etl/internal/store"
)

type fetchFunc func(ctx context.Context) ([]domain.Event, error)

func (f fetchFunc) FetchAll(ctx context.Context) ([]domain.Event, error) { return f(ctx) }

// idleTopic never delivers a message.
type idleTopic struct{}

func (idleTopic) ExtractBatch(ctx context.Context, _ int) ([]domain.RawUpdate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestReadinessChecks_SparseUpdatesTopic(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	events := store.New(fetchFunc(func(context.Context) ([]domain.Event, error) { return domain.MockEvents(), nil }), metrics, logger)
	p := pipeline.New(idleTopic{}, pipeline.NewApplier(events, nil, metrics, logger), nil, logger, metrics, 10)
	ready := readinessChecks{events, p}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	assert.Error(t, ready.CheckReadiness(context.Background()), "not ready before the first fetch")

	require.NoError(t, events.Fetch(context.Background()))
	assert.Eventually(t, func() bool {
		return ready.CheckReadiness(context.Background()) == nil
	}, time.Second, 10*time.Millisecond, "ready without any live update delivered")
}

func TestReadinessChecks_StoppedPipeline(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	events := store.New(fetchFunc(func(context.Context) ([]domain.Event, error) { return domain.MockEvents(), nil }), metrics, logger)
	require.NoError(t, events.Fetch(context.Background()))
	p := pipeline.New(idleTopic{}, pipeline.NewApplier(events, nil, metrics, logger), nil, logger, metrics, 10)

	assert.NoError(t, readinessChecks{events}.CheckReadiness(context.Background()))
	assert.Error(t, readinessChecks{events, p}.CheckReadiness(context.Background()))
}
