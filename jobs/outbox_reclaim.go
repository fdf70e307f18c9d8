package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-pos/meridian-pos/internal/jobs"
)

// ReclaimStore is the slice of the outbox store the reclaimer needs.
type ReclaimStore interface {
	ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error)
}

// OutboxReclaimer returns PROCESSING rows whose lease expired to PENDING so a
// crashed worker cannot strand events forever.
type OutboxReclaimer struct {
	store   ReclaimStore
	timeout time.Duration
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewOutboxReclaimer constructs the reclaimer. A non-positive timeout falls
// back to ten minutes.
func NewOutboxReclaimer(store ReclaimStore, timeout time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *OutboxReclaimer {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &OutboxReclaimer{store: store, timeout: timeout, logger: logger, metrics: metrics}
}

// Run executes one sweep.
func (r *OutboxReclaimer) Run(ctx context.Context) error {
	tracker := r.metrics.Track("outbox_reclaim")
	reclaimed, err := r.store.ReclaimStuck(ctx, r.timeout)
	if err != nil {
		return tracker.End(err)
	}
	if reclaimed > 0 {
		r.metrics.AddReclaimed(reclaimed)
		if r.logger != nil {
			r.logger.Warn("reclaimed stuck outbox events",
				slog.Int64("count", reclaimed),
				slog.Duration("lease", r.timeout))
		}
	}
	return tracker.End(nil)
}

// HandleTask adapts Run to the Asynq handler signature.
func (r *OutboxReclaimer) HandleTask(ctx context.Context, _ *asynq.Task) error {
	return r.Run(ctx)
}
