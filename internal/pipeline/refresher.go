package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-data-etl/internal/domain"
)

// FetchStore is the part of the store the refresher drives.
type FetchStore interface {
	Fetch(ctx context.Context) error
	Raw() []domain.Event
}

// Refresher re-fetches from the providers on a fixed interval.
type Refresher struct {
	store    FetchStore
	notifier Notifier
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger
}

// NewRefresher creates a Refresher. A nil notifier disables anomaly
// notification; a non-positive interval fetches once and returns.
func NewRefresher(s FetchStore, n Notifier, clock clockwork.Clock, interval time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		store:    s,
		notifier: n,
		clock:    clock,
		interval: interval,
		logger:   logger,
	}
}

// Run fetches immediately, then on every tick until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	r.refresh(ctx)
	if r.interval <= 0 {
		return nil
	}

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.Info("refresher started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresher stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	// Failures and stale results are recorded by the store.
	if err := r.store.Fetch(ctx); err != nil {
		return
	}
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, r.store.Raw()); err != nil {
		r.logger.Warn("anomaly notification failed", "error", err)
	}
}
