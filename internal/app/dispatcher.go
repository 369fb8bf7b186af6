package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-broker/internal/config"
	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
	"github.com/fairyhunter13/ai-inference-broker/internal/service/gpu"
	"github.com/fairyhunter13/ai-inference-broker/internal/usecase"
)

// Dispatcher is the worker's single processing loop: claim the next
// request, take the GPU permit, run inference with bounded retries,
// persist side effects and finish the row. One request is in flight
// per process at any time.
type Dispatcher struct {
	cfg     config.Config
	broker  usecase.QueueService
	writer  usecase.SideEffectWriter
	arbiter *gpu.Arbiter
	client  domain.InferenceClient

	breaker   *CycleBreaker
	processed int64
	now       func() time.Time
	sleep     func(context.Context, time.Duration)
}

// NewDispatcher wires the dispatcher's collaborators.
func NewDispatcher(cfg config.Config, broker usecase.QueueService, writer usecase.SideEffectWriter, arbiter *gpu.Arbiter, client domain.InferenceClient) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		broker:  broker,
		writer:  writer,
		arbiter: arbiter,
		client:  client,
		breaker: NewCycleBreaker(cycleBreakerLimit),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Run polls until ctx is canceled or the cycle breaker trips. The
// in-flight request runs on a context detached from ctx, so a
// shutdown signal stops the loop between requests while the current
// one finishes; the caller bounds that wait.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher started",
		slog.Duration("poll_interval", d.cfg.PollInterval),
		slog.Int("max_queue_retries", d.cfg.MaxQueueRetries),
		slog.Duration("gpu_timeout", d.cfg.GPUTimeout))

	for {
		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopping", slog.Int64("requests_processed", d.processed))
			return nil
		default:
		}

		workCtx := context.WithoutCancel(ctx)
		req, ok, err := d.broker.ClaimNext(workCtx, d.now().UTC())
		if err != nil {
			if d.cycleFailed(ctx, err) {
				return fmt.Errorf("op=dispatcher.run: %d consecutive cycle failures: %w", d.breaker.Count(), err)
			}
			continue
		}
		if !ok {
			d.breaker.Success()
			d.idle(ctx)
			continue
		}

		if err := d.process(workCtx, req); err != nil {
			if d.cycleFailed(ctx, err) {
				return fmt.Errorf("op=dispatcher.run: %d consecutive cycle failures: %w", d.breaker.Count(), err)
			}
			continue
		}

		d.breaker.Success()
		d.processed++
		if d.processed%100 == 0 {
			d.logMilestone(workCtx)
		}
	}
}

// process drives one claimed request to a terminal state. The returned
// error is an infrastructure failure only; inference failures end as
// failed rows and a nil return.
func (d *Dispatcher) process(ctx context.Context, req domain.Request) error {
	start := d.now()
	logger := slog.With(
		slog.String("request_id", req.ID),
		slog.String("type", string(req.Type)),
		slog.Int("priority", req.Priority),
		slog.String("user_id", req.UserID))

	payload, isChat := req.Payload.(domain.ChatRequestPayload)
	if req.Type != domain.RequestChat || !isChat {
		logger.Warn("unprocessable request claimed, failing it")
		_, err := d.broker.Finish(ctx, req, domain.RequestOutcome{
			Success:      false,
			ErrorMessage: fmt.Sprintf("Unknown request type: %s", req.Type),
		}, d.now().UTC())
		return err
	}

	if err := d.arbiter.Acquire(ctx, req.ID); err != nil {
		if errors.Is(err, domain.ErrResourceTimeout) {
			logger.Error("gpu acquisition timed out, failing request")
			_, ferr := d.broker.Finish(ctx, req, domain.RequestOutcome{
				Success:      false,
				ErrorMessage: domain.FailureMsgGPUTimeout,
			}, d.now().UTC())
			return ferr
		}
		return err
	}
	defer d.arbiter.Release(ctx, req.ID)

	gpt := d.writer.ResolveCustomGPT(ctx, req.UserID, payload.CustomGPTID)
	in := domain.InferenceInput{
		MessageID:       payload.MessageID,
		ThreadID:        payload.ThreadID,
		CustomGPT:       gpt,
		UserID:          req.UserID,
		UserMessage:     payload.UserMessage,
		ContextMessages: payload.ContextMessages,
		Attachments:     payload.Attachments,
	}

	out, err := d.inferWithRetry(ctx, req.ID, in)
	if err != nil {
		msg := domain.FailureMessageFor(err)
		logger.Error("inference failed, failing request",
			slog.String("failure", msg),
			slog.Any("error", err))
		_, ferr := d.broker.Finish(ctx, req, domain.RequestOutcome{
			Success:      false,
			ErrorMessage: msg,
		}, d.now().UTC())
		return ferr
	}

	meta := domain.MetadataFor(out)
	msgID, seErr := d.writer.PersistAssistantMessage(ctx, req, payload, gpt, out)
	if seErr != nil {
		logger.Warn("side effects failed, completing request anyway", slog.Any("error", seErr))
		meta.SideEffectError = seErr.Error()
	}

	transitioned, err := d.broker.Finish(ctx, req, domain.RequestOutcome{
		Success:  true,
		Content:  out.Content,
		Metadata: &meta,
	}, d.now().UTC())
	if err != nil {
		return err
	}
	logger.Info("request completed",
		slog.Bool("transitioned", transitioned),
		slog.String("message_id", msgID),
		slog.String("model_used", out.ModelUsed),
		slog.Duration("duration", d.now().Sub(start)))
	return nil
}

// inferWithRetry runs up to max_queue_retries+1 attempts with
// deterministic exponential waits. Usage-limit rejections are
// permanent; every failed attempt is persisted on the row's retry
// counter first.
func (d *Dispatcher) inferWithRetry(ctx context.Context, requestID string, in domain.InferenceInput) (domain.InferenceOutput, error) {
	initial, maxInterval, multiplier := d.cfg.GetInferenceBackoffConfig()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = maxInterval
	bo.Multiplier = multiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.cfg.MaxQueueRetries)), ctx)

	var out domain.InferenceOutput
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		res, err := d.client.Infer(ctx, in)
		if err == nil {
			out = res
			return nil
		}
		if !domain.RetryableInference(err) {
			return backoff.Permanent(err)
		}
		if rerr := d.broker.RecordRetry(ctx, requestID); rerr != nil {
			slog.Warn("retry count not persisted",
				slog.String("request_id", requestID),
				slog.Any("error", rerr))
		}
		observability.InferenceRetriesTotal.WithLabelValues(retryReason(err)).Inc()
		slog.Warn("inference attempt failed",
			slog.String("request_id", requestID),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		return err
	}, policy)
	return out, err
}

func retryReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrBackendTransient):
		return "transient"
	case errors.Is(err, domain.ErrBackendMisbehaviour):
		return "backend_error"
	default:
		return "other"
	}
}

// cycleFailed records an infrastructure failure and backs off. It
// returns true when the breaker tripped and the loop must exit.
func (d *Dispatcher) cycleFailed(ctx context.Context, err error) bool {
	sleep, tripped := d.breaker.Failure()
	slog.Error("dispatcher cycle failed",
		slog.Int("consecutive_failures", d.breaker.Count()),
		slog.Any("error", err))
	if tripped {
		observability.DispatcherCycleBreakerTrips.Inc()
		slog.Error("dispatcher exiting after repeated cycle failures",
			slog.Int("consecutive_failures", d.breaker.Count()))
		return true
	}
	d.sleep(ctx, sleep)
	return false
}

func (d *Dispatcher) idle(ctx context.Context) {
	d.sleep(ctx, d.cfg.PollInterval)
}

// sleepCtx waits for dur unless ctx ends first.
func sleepCtx(ctx context.Context, dur time.Duration) {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (d *Dispatcher) logMilestone(ctx context.Context) {
	stats, err := d.broker.Stats(ctx)
	if err != nil {
		slog.Warn("milestone stats unavailable", slog.Any("error", err))
		return
	}
	slog.Info("dispatcher milestone",
		slog.Int64("requests_processed", d.processed),
		slog.Int64("pending", stats.Pending),
		slog.Int64("processing", stats.Processing),
		slog.Int64("completed", stats.Completed),
		slog.Int64("failed", stats.Failed),
		slog.String("queue_health", string(domain.HealthFor(stats))))
}
