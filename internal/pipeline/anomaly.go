package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
	"github.com/couchcryptid/quake-data-etl/internal/observability"
)

// AnomalyWriter publishes anomalous events downstream.
type AnomalyWriter interface {
	PublishAnomalies(ctx context.Context, events []domain.Event) error
}

// AnomalyNotifier forwards each anomalous event to the writer once. Events
// are recognized by fingerprint and forgotten after the TTL.
type AnomalyNotifier struct {
	writer  AnomalyWriter
	seen    *seenSet
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewAnomalyNotifier creates an AnomalyNotifier remembering up to maxKeys
// fingerprints for ttl.
func NewAnomalyNotifier(w AnomalyWriter, maxKeys int, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *AnomalyNotifier {
	return &AnomalyNotifier{
		writer:  w,
		seen:    newSeenSet(maxKeys, ttl, clock),
		metrics: metrics,
		logger:  logger,
	}
}

// Notify publishes the anomalies among events that were not published
// before. Fingerprints are remembered only after a successful write.
func (n *AnomalyNotifier) Notify(ctx context.Context, events []domain.Event) error {
	var fresh []domain.Event
	var keys []string
	batch := make(map[string]bool)
	for _, e := range events {
		if !e.IsAnomaly {
			continue
		}
		key := domain.FingerprintOf(e).String()
		if batch[key] || n.seen.Seen(key) {
			continue
		}
		batch[key] = true
		fresh = append(fresh, e)
		keys = append(keys, key)
	}
	if len(fresh) == 0 {
		return nil
	}

	if err := n.writer.PublishAnomalies(ctx, fresh); err != nil {
		return err
	}
	for _, key := range keys {
		n.seen.Mark(key)
	}
	n.metrics.AnomaliesPublished.Add(float64(len(fresh)))
	n.logger.Info("published anomalies", "count", len(fresh))
	return nil
}
