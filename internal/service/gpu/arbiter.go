// Package gpu arbitrates the single inference slot. Local models share
// one GPU; admitting a second inference trades throughput for
// out-of-memory kills, so the permit count is fixed at one.
package gpu

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

// Stats is a point-in-time snapshot of arbiter accounting.
type Stats struct {
	TotalAcquisitions int64  `json:"total_acquisitions"`
	AverageWaitMS     int64  `json:"average_wait_time_ms"`
	CurrentlyAcquired bool   `json:"currently_acquired"`
	CurrentHolder     string `json:"current_holder,omitempty"`
	CurrentUsageMS    int64  `json:"current_usage_time_ms,omitempty"`
	ResourceAvailable bool   `json:"resource_available"`
}

// Arbiter is the process-local single-permit semaphore guarding the
// GPU. It is not a cross-host lock; one worker process owns one GPU.
type Arbiter struct {
	permit  chan struct{}
	timeout time.Duration
	audit   domain.AuditSink

	mu                sync.Mutex
	acquiredAt        time.Time
	currentHolder     string
	totalAcquisitions int64
	totalWait         time.Duration
}

// NewArbiter creates an arbiter whose Acquire waits at most timeout.
func NewArbiter(timeout time.Duration, sink domain.AuditSink) *Arbiter {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	slog.Info("gpu arbiter initialized",
		slog.Duration("acquire_timeout", timeout),
		slog.Int("max_concurrent", 1))
	return &Arbiter{
		permit:  make(chan struct{}, 1),
		timeout: timeout,
		audit:   sink,
	}
}

// Acquire takes the permit, waiting up to the configured timeout.
// It returns ErrResourceTimeout when the deadline passes and the
// context error when the caller gives up first.
func (a *Arbiter) Acquire(ctx domain.Context, requestID string) error {
	start := time.Now()
	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case a.permit <- struct{}{}:
	case <-timer.C:
		wait := time.Since(start)
		a.mu.Lock()
		holder := a.currentHolder
		a.mu.Unlock()
		slog.Warn("gpu permit acquisition timeout",
			slog.String("request_id", requestID),
			slog.Duration("waited", wait),
			slog.String("current_holder", holder))
		return fmt.Errorf("op=gpu.acquire: %w", domain.ErrResourceTimeout)
	case <-ctx.Done():
		return fmt.Errorf("op=gpu.acquire: %w", ctx.Err())
	}

	wait := time.Since(start)
	a.mu.Lock()
	a.acquiredAt = time.Now()
	a.currentHolder = requestID
	a.totalAcquisitions++
	a.totalWait += wait
	total := a.totalAcquisitions
	a.mu.Unlock()

	observability.GPUAcquireWait.Observe(wait.Seconds())
	observability.GPUHeld.Set(1)
	slog.Info("gpu permit acquired",
		slog.String("request_id", requestID),
		slog.Duration("wait", wait),
		slog.Int64("total_acquisitions", total))
	a.record(ctx, domain.AuditActionGPUAcquired, requestID, map[string]string{
		"wait_ms": fmt.Sprintf("%d", wait.Milliseconds()),
	})
	return nil
}

// Release returns the permit. Calling Release without a hold is a bug
// in the caller and panics; permit accounting must never drift.
func (a *Arbiter) Release(ctx domain.Context, requestID string) {
	a.mu.Lock()
	if a.acquiredAt.IsZero() {
		a.mu.Unlock()
		observability.GPUReleaseWithoutHoldTotal.Inc()
		slog.Error("gpu permit released without a hold",
			slog.String("request_id", requestID))
		panic(fmt.Sprintf("gpu: release without hold (request_id=%s)", requestID))
	}
	if requestID == "" {
		requestID = a.currentHolder
	}
	usage := time.Since(a.acquiredAt)
	a.acquiredAt = time.Time{}
	a.currentHolder = ""
	a.mu.Unlock()

	<-a.permit
	observability.GPUHeld.Set(0)
	slog.Info("gpu permit released",
		slog.String("request_id", requestID),
		slog.Duration("held", usage))
	a.record(ctx, domain.AuditActionGPUReleased, requestID, map[string]string{
		"usage_ms": fmt.Sprintf("%d", usage.Milliseconds()),
	})
}

// Available reports whether the permit is free right now.
func (a *Arbiter) Available() bool {
	return len(a.permit) == 0
}

// Stats snapshots the accounting counters.
func (a *Arbiter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Stats{
		TotalAcquisitions: a.totalAcquisitions,
		CurrentlyAcquired: !a.acquiredAt.IsZero(),
		CurrentHolder:     a.currentHolder,
		ResourceAvailable: len(a.permit) == 0,
	}
	div := a.totalAcquisitions
	if div < 1 {
		div = 1
	}
	s.AverageWaitMS = a.totalWait.Milliseconds() / div
	if !a.acquiredAt.IsZero() {
		s.CurrentUsageMS = time.Since(a.acquiredAt).Milliseconds()
	}
	return s
}

// Close logs final stats. A hold still live at close belongs to an
// in-flight request that will release on its own path; Close never
// touches the permit.
func (a *Arbiter) Close() {
	a.mu.Lock()
	held := !a.acquiredAt.IsZero()
	holder := a.currentHolder
	a.mu.Unlock()
	if held {
		slog.Warn("gpu arbiter closing with permit still held",
			slog.String("current_holder", holder))
	}
	s := a.Stats()
	slog.Info("gpu arbiter closed",
		slog.Int64("total_acquisitions", s.TotalAcquisitions),
		slog.Int64("average_wait_time_ms", s.AverageWaitMS))
}

func (a *Arbiter) record(ctx domain.Context, action, requestID string, details map[string]string) {
	if a.audit == nil {
		return
	}
	rec := domain.AuditRecord{
		Action:    action,
		UserID:    "system",
		RequestID: requestID,
		Details:   details,
	}
	if err := a.audit.Record(ctx, rec); err != nil {
		slog.Warn("gpu audit record failed", slog.Any("error", err))
	}
}
