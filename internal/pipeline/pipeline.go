package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
)

// BatchExtractor reads up to batchSize live updates from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawUpdate, error)
}

// Applier applies one live update to the store. It returns the resulting
// record and true when the update left a record behind (add or change).
type Applier interface {
	Apply(ctx context.Context, raw domain.RawUpdate) (domain.Event, bool, error)
}

// Notifier is told about records that changed, so anomalies can be
// published downstream.
type Notifier interface {
	Notify(ctx context.Context, events []domain.Event) error
}

// Pipeline consumes live record updates and applies them to the store.
type Pipeline struct {
	extractor BatchExtractor
	applier   Applier
	notifier  Notifier
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
}

// New creates a Pipeline. A nil notifier disables anomaly notification.
func New(e BatchExtractor, a Applier, n Notifier, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor: e,
		applier:   a,
		notifier:  n,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil while Run is consuming, whether or not the
// topic has delivered anything yet.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("live update pipeline is not running")
	}
	return nil
}

// Run consumes updates until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("live update pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	p.ready.Store(true)
	defer func() {
		p.ready.Store(false)
		p.metrics.PipelineRunning.Set(0)
	}()

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("live update pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-apply-commit cycle. Returns false if the
// pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	batch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(batch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.BatchSize.Observe(float64(len(batch)))
	*backoff = 200 * time.Millisecond

	var changed []domain.Event
	for _, raw := range batch {
		event, kept, err := p.applier.Apply(ctx, raw)
		if err != nil {
			p.logger.Warn("apply update failed, skipping message",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.UpdateErrors.Inc()
			p.commitOffset(ctx, raw)
			continue
		}
		if kept {
			changed = append(changed, event)
		}
		p.commitOffset(ctx, raw)
	}

	if p.notifier != nil && len(changed) > 0 {
		if err := p.notifier.Notify(ctx, changed); err != nil {
			p.logger.Warn("anomaly notification failed", "error", err, "count", len(changed))
		}
	}
	return true
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !retry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = retry.NextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawUpdate) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}
