package postgres

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

// CleanupService purges terminal queue rows past the retention window.
// Pending and processing rows are never deleted here; stuck processing
// rows are an operator decision, not a sweeper one.
type CleanupService struct {
	Repo          *QueueRepo
	RetentionDays int
	// Audit, when set, receives a record per sweep that removed rows.
	Audit domain.AuditSink
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(repo *QueueRepo, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &CleanupService{Repo: repo, RetentionDays: retentionDays}
}

// CleanupOldRequests removes terminal rows older than the retention period.
func (s *CleanupService) CleanupOldRequests(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.RetentionDays)

	removed, err := s.Repo.PurgeTerminalOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	slog.Info("queue retention sweep completed",
		slog.Int64("removed", removed),
		slog.Time("cutoff", cutoff),
	)

	if removed > 0 && s.Audit != nil {
		rec := domain.AuditRecord{
			Timestamp:        time.Now().UTC(),
			Action:           domain.AuditActionPurged,
			UserID:           "system",
			ComplianceStatus: domain.ComplianceCompliant,
			Details: map[string]string{
				"removed": strconv.FormatInt(removed, 10),
				"cutoff":  cutoff.Format(time.RFC3339),
			},
		}
		if err := s.Audit.Record(ctx, rec); err != nil {
			slog.Warn("retention audit record failed", slog.Any("error", err))
		}
	}

	return nil
}

// RunPeriodic starts a periodic retention sweep.
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run initial sweep
	if err := s.CleanupOldRequests(ctx); err != nil {
		slog.Error("initial retention sweep failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention sweeper stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldRequests(ctx); err != nil {
				slog.Error("periodic retention sweep failed", slog.Any("error", err))
			}
		}
	}
}
