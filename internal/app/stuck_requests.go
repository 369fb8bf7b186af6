package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-broker/internal/usecase"
)

// StuckRequestObserver periodically pages through processing rows
// older than a threshold and reports them. It never mutates the rows;
// after a worker crash an operator decides per request whether a
// reset replays safely, so recovery stays manual.
type StuckRequestObserver struct {
	broker   usecase.QueueService
	maxAge   time.Duration
	interval time.Duration
}

// NewStuckRequestObserver builds an observer; non-positive durations
// fall back to a 10m threshold checked every minute.
func NewStuckRequestObserver(broker usecase.QueueService, maxAge, interval time.Duration) *StuckRequestObserver {
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckRequestObserver{broker: broker, maxAge: maxAge, interval: interval}
}

// Run observes until ctx is canceled, with one initial pass.
func (o *StuckRequestObserver) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.observeOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck request observer stopping")
			return
		case <-ticker.C:
			o.observeOnce(ctx)
		}
	}
}

func (o *StuckRequestObserver) observeOnce(ctx context.Context) {
	tracer := otel.Tracer("queue.stuck_observer")
	ctx, span := tracer.Start(ctx, "StuckRequestObserver.observeOnce")
	defer span.End()

	const pageSize = 100
	span.SetAttributes(
		attribute.Int("queue.page_size", pageSize),
		attribute.Float64("queue.max_processing_age_seconds", o.maxAge.Seconds()),
	)

	total := 0
	for offset := 0; ; offset += pageSize {
		reqs, err := o.broker.ListStuck(ctx, o.maxAge, offset, pageSize)
		if err != nil {
			span.RecordError(err)
			slog.Error("stuck request listing failed", slog.Any("error", err))
			return
		}
		if len(reqs) == 0 {
			break
		}
		total += len(reqs)
		for _, r := range reqs {
			age := time.Duration(0)
			if r.StartedAt != nil {
				age = time.Since(*r.StartedAt)
			}
			slog.Warn("request stuck in processing",
				slog.String("request_id", r.ID),
				slog.String("user_id", r.UserID),
				slog.Int("retry_count", r.RetryCount),
				slog.Duration("processing_age", age))
		}
		if len(reqs) < pageSize {
			break
		}
	}

	observability.StuckProcessingRows.Set(float64(total))
	span.SetAttributes(attribute.Int("queue.stuck_total", total))
	if total > 0 {
		slog.Warn("stuck processing rows observed", slog.Int("count", total))
	}
}
