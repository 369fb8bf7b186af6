package usecase

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/statscache"
	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

// QueueService is the broker policy over the queue store: claim
// discipline, terminal transitions, cached stats and operator
// recovery.
type QueueService struct {
	Queue domain.QueueRepository
	Cache statscache.Cache
	Audit domain.AuditSink
}

// NewQueueService constructs a QueueService with its dependencies.
func NewQueueService(q domain.QueueRepository, cache statscache.Cache, sink domain.AuditSink) QueueService {
	return QueueService{Queue: q, Cache: cache, Audit: sink}
}

// ClaimNext claims the single highest-priority pending request.
// ok=false with nil error means the queue is empty.
func (s QueueService) ClaimNext(ctx domain.Context, now time.Time) (domain.Request, bool, error) {
	req, ok, err := s.Queue.ClaimOne(ctx, now)
	if err != nil || !ok {
		return domain.Request{}, false, err
	}
	observability.StartProcessingRequest(string(req.Type))
	s.record(ctx, domain.AuditRecord{
		Action:           domain.AuditActionStarted,
		UserID:           req.UserID,
		RequestID:        req.ID,
		ComplianceStatus: domain.ComplianceCompliant,
		Details:          map[string]string{"priority": fmt.Sprintf("%d", req.Priority)},
	})
	return req, true, nil
}

// Finish makes a processing row terminal. A row that already reached a
// terminal state reports transitioned=false with nil error; callers
// treat that as success, it means a duplicate delivery lost the race.
func (s QueueService) Finish(ctx domain.Context, req domain.Request, outcome domain.RequestOutcome, now time.Time) (bool, error) {
	transitioned, err := s.Queue.Complete(ctx, req.ID, outcome, now)
	if err != nil {
		return false, err
	}
	if !transitioned {
		slog.Info("request already terminal, finish skipped",
			slog.String("request_id", req.ID))
		return false, nil
	}

	if outcome.Success {
		observability.CompleteRequest(string(req.Type))
		status := domain.ComplianceCompliant
		if outcome.Metadata != nil {
			status = domain.ComplianceStatusFor(outcome.Metadata.SECCompliant, outcome.Metadata.HumanReviewRequired)
		}
		s.record(ctx, domain.AuditRecord{
			Action:           domain.AuditActionCompleted,
			UserID:           req.UserID,
			RequestID:        req.ID,
			ComplianceStatus: status,
		})
	} else {
		observability.FailRequest(string(req.Type))
		s.record(ctx, domain.AuditRecord{
			Action:           domain.AuditActionFailed,
			UserID:           req.UserID,
			RequestID:        req.ID,
			ComplianceStatus: domain.ComplianceCompliant,
			Details:          map[string]string{"error": outcome.ErrorMessage},
		})
	}
	return true, nil
}

// Stats returns queue counts, serving a snapshot at most the cache TTL
// old when one is available.
func (s QueueService) Stats(ctx domain.Context) (domain.QueueStats, error) {
	if s.Cache != nil {
		if cached, ok := s.Cache.Get(ctx); ok {
			return cached, nil
		}
	}
	stats, err := s.Queue.Stats(ctx)
	if err != nil {
		return domain.QueueStats{}, err
	}
	if s.Cache != nil {
		s.Cache.Set(ctx, stats)
	}
	observability.ObserveQueueDepth(stats.Pending, stats.Processing, stats.Completed, stats.Failed)
	return stats, nil
}

// Get looks a request up by id.
func (s QueueService) Get(ctx domain.Context, id string) (domain.Request, error) {
	if id == "" {
		return domain.Request{}, fmt.Errorf("%w: id required", domain.ErrInvalidArgument)
	}
	return s.Queue.Get(ctx, id)
}

// Reset is the manual operator recovery for a row stuck in processing
// after a worker crash. ok=false means the row was not in processing.
func (s QueueService) Reset(ctx domain.Context, id string) (bool, error) {
	ok, err := s.Queue.ResetToPending(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	s.record(ctx, domain.AuditRecord{
		Action:           domain.AuditActionReset,
		UserID:           "system",
		RequestID:        id,
		ComplianceStatus: domain.ComplianceCompliant,
	})
	slog.Info("request reset to pending", slog.String("request_id", id))
	return true, nil
}

// RecordRetry persists a failed attempt on the row's retry counter.
func (s QueueService) RecordRetry(ctx domain.Context, id string) error {
	return s.Queue.IncrementRetry(ctx, id)
}

// Purge deletes terminal rows older than the retention window and
// audits the count. Pending and processing rows are never touched.
func (s QueueService) Purge(ctx domain.Context, olderThan time.Duration, now time.Time) (int64, error) {
	cutoff := now.UTC().Add(-olderThan)
	n, err := s.Queue.PurgeTerminalOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.record(ctx, domain.AuditRecord{
			Action:           domain.AuditActionPurged,
			UserID:           "system",
			ComplianceStatus: domain.ComplianceCompliant,
			Details: map[string]string{
				"purged": strconv.FormatInt(n, 10),
				"cutoff": cutoff.Format(time.RFC3339),
			},
		})
	}
	slog.Info("terminal requests purged",
		slog.Int64("purged", n),
		slog.Time("cutoff", cutoff))
	return n, nil
}

// ListStuck pages through processing rows older than age. It only
// observes; recovery stays manual.
func (s QueueService) ListStuck(ctx domain.Context, age time.Duration, offset, limit int) ([]domain.Request, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-age)
	return s.Queue.ListProcessingOlderThan(ctx, cutoff, offset, limit)
}

func (s QueueService) record(ctx domain.Context, rec domain.AuditRecord) {
	if s.Audit == nil {
		return
	}
	_ = s.Audit.Record(ctx, rec)
}
