package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
	"github.com/fairyhunter13/ai-inference-broker/internal/usecase"
)

func stuckRows(n int) []domain.Request {
	started := time.Now().UTC().Add(-30 * time.Minute)
	rows := make([]domain.Request, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, domain.Request{
			ID:         fmt.Sprintf("stuck-%03d", i),
			Type:       domain.RequestChat,
			UserID:     "advisor-1",
			Status:     domain.RequestProcessing,
			RetryCount: 1,
			StartedAt:  &started,
		})
	}
	return rows
}

func TestNewStuckRequestObserverDefaults(t *testing.T) {
	o := NewStuckRequestObserver(usecase.QueueService{Queue: &dispatchQueueRepo{}}, 0, 0)
	if o.maxAge != 10*time.Minute {
		t.Fatalf("maxAge = %v, want 10m default", o.maxAge)
	}
	if o.interval != time.Minute {
		t.Fatalf("interval = %v, want 1m default", o.interval)
	}
}

func TestStuckRequestObserverPagesThroughRows(t *testing.T) {
	repo := &dispatchQueueRepo{stuck: stuckRows(250)}
	o := NewStuckRequestObserver(usecase.QueueService{Queue: repo}, 10*time.Minute, time.Minute)

	o.observeOnce(context.Background())

	want := []listCall{{offset: 0, limit: 100}, {offset: 100, limit: 100}, {offset: 200, limit: 100}}
	repo.mu.Lock()
	calls := append([]listCall(nil), repo.listCalls...)
	repo.mu.Unlock()
	if len(calls) != len(want) {
		t.Fatalf("expected %d list calls, got %d: %v", len(want), len(calls), calls)
	}
	for i, c := range calls {
		if c != want[i] {
			t.Fatalf("call %d = %+v, want %+v", i, c, want[i])
		}
	}
}

func TestStuckRequestObserverStopsOnExactPageBoundary(t *testing.T) {
	repo := &dispatchQueueRepo{stuck: stuckRows(100)}
	o := NewStuckRequestObserver(usecase.QueueService{Queue: repo}, 10*time.Minute, time.Minute)

	o.observeOnce(context.Background())

	// A full page forces one follow-up call that comes back empty.
	repo.mu.Lock()
	calls := len(repo.listCalls)
	repo.mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected 2 list calls for a full page, got %d", calls)
	}
}

func TestStuckRequestObserverToleratesListErrors(t *testing.T) {
	repo := &dispatchQueueRepo{listErr: errors.New("connection refused")}
	o := NewStuckRequestObserver(usecase.QueueService{Queue: repo}, 10*time.Minute, time.Minute)

	o.observeOnce(context.Background())

	repo.mu.Lock()
	calls := len(repo.listCalls)
	repo.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected 1 list call before giving up, got %d", calls)
	}
}

func TestStuckRequestObserverNeverMutatesRows(t *testing.T) {
	repo := &dispatchQueueRepo{stuck: stuckRows(3)}
	o := NewStuckRequestObserver(usecase.QueueService{Queue: repo}, 10*time.Minute, time.Minute)

	o.observeOnce(context.Background())

	rows := repo.completed()
	if len(rows) != 0 {
		t.Fatalf("observer must not complete rows, got %d", len(rows))
	}
	if repo.retries() != 0 {
		t.Fatalf("observer must not touch retry counters")
	}
}

func TestStuckRequestObserverRunStopsOnContextDone(t *testing.T) {
	repo := &dispatchQueueRepo{}
	o := NewStuckRequestObserver(usecase.QueueService{Queue: repo}, time.Minute, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(ch)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-ch:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("Run did not exit after context cancellation")
	}
}
