// Package audit emits the compliance audit trail. Every record lands
// in the structured log; a Kafka sink can mirror the trail onto a
// topic for downstream compliance tooling.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

// DefaultTopic is the Kafka topic for the mirrored trail.
const DefaultTopic = "compliance-audit"

func normalize(rec domain.AuditRecord) domain.AuditRecord {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.ComplianceStatus == "" {
		rec.ComplianceStatus = domain.ComplianceCompliant
	}
	return rec
}

// LogSink writes audit records to the structured log, marked with
// audit=true so log pipelines can split the trail out.
type LogSink struct{ logger *slog.Logger }

// NewLogSink creates a log sink. A nil logger uses slog's default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, rec domain.AuditRecord) error {
	rec = normalize(rec)
	s.logger.Info("compliance audit",
		slog.Bool("audit", true),
		slog.Time("timestamp", rec.Timestamp),
		slog.String("action", rec.Action),
		slog.String("user_id", rec.UserID),
		slog.String("request_id", rec.RequestID),
		slog.String("compliance_status", string(rec.ComplianceStatus)),
		slog.Any("details", rec.Details),
	)
	return nil
}

// Tee fans every record out to all sinks. Each sink sees the record
// even when an earlier one fails; the first error is returned.
type Tee struct{ sinks []domain.AuditSink }

// NewTee composes sinks into one. Nil sinks are dropped.
func NewTee(sinks ...domain.AuditSink) *Tee {
	kept := make([]domain.AuditSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Tee{sinks: kept}
}

func (t *Tee) Record(ctx context.Context, rec domain.AuditRecord) error {
	var first error
	for _, s := range t.sinks {
		if err := s.Record(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}
