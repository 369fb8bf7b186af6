package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

type auditStub struct {
	recs []domain.AuditRecord
	err  error
}

func (a *auditStub) Record(_ domain.Context, rec domain.AuditRecord) error {
	a.recs = append(a.recs, rec)
	return a.err
}

func TestCleanupService_SweepRecordsAudit(t *testing.T) {
	t.Parallel()
	p := &poolStub{execTag: pgconn.NewCommandTag("DELETE 3")}
	sink := &auditStub{}
	svc := postgres.NewCleanupService(postgres.NewQueueRepo(p), 7)
	svc.Audit = sink

	require.NoError(t, svc.CleanupOldRequests(context.Background()))
	require.Len(t, sink.recs, 1)
	assert.Equal(t, domain.AuditActionPurged, sink.recs[0].Action)
	assert.Equal(t, "system", sink.recs[0].UserID)
	assert.Equal(t, "3", sink.recs[0].Details["removed"])
}

func TestCleanupService_EmptySweepSkipsAudit(t *testing.T) {
	t.Parallel()
	p := &poolStub{execTag: pgconn.NewCommandTag("DELETE 0")}
	sink := &auditStub{}
	svc := postgres.NewCleanupService(postgres.NewQueueRepo(p), 7)
	svc.Audit = sink

	require.NoError(t, svc.CleanupOldRequests(context.Background()))
	assert.Empty(t, sink.recs)
}

func TestCleanupService_AuditFailureIsNonFatal(t *testing.T) {
	t.Parallel()
	p := &poolStub{execTag: pgconn.NewCommandTag("DELETE 1")}
	sink := &auditStub{err: errors.New("stream down")}
	svc := postgres.NewCleanupService(postgres.NewQueueRepo(p), 7)
	svc.Audit = sink

	require.NoError(t, svc.CleanupOldRequests(context.Background()))
}

func TestCleanupService_DefaultsRetention(t *testing.T) {
	t.Parallel()
	svc := postgres.NewCleanupService(postgres.NewQueueRepo(&poolStub{}), 0)
	assert.Equal(t, 7, svc.RetentionDays)
}

func TestCleanupService_RunPeriodic_StopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &poolStub{execTag: pgconn.NewCommandTag("DELETE 0")}
	svc := postgres.NewCleanupService(postgres.NewQueueRepo(p), 1)

	done := make(chan struct{})
	go func() {
		svc.RunPeriodic(ctx, 10*time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunPeriodic did not stop on canceled context")
	}
	// initial sweep happens even with a canceled context
	assert.NotEmpty(t, p.execCalls)
}
