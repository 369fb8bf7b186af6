package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

// QueueRepo persists and claims inference requests from PostgreSQL
// using a minimal pgx pool.
type QueueRepo struct{ Pool PgxPool }

// NewQueueRepo constructs a QueueRepo with the given pool.
func NewQueueRepo(p PgxPool) *QueueRepo { return &QueueRepo{Pool: p} }

const queueColumns = `id, request_type, input_data, status, priority, user_id, COALESCE(message_id,''), retry_count, COALESCE(response_content,''), response_metadata, COALESCE(error_message,''), created_at, started_at, completed_at`

func scanRequest(row pgx.Row) (domain.Request, error) {
	var (
		req        domain.Request
		reqType    string
		status     string
		rawPayload []byte
		rawMeta    []byte
	)
	err := row.Scan(&req.ID, &reqType, &rawPayload, &status, &req.Priority, &req.UserID,
		&req.MessageID, &req.RetryCount, &req.ResponseContent, &rawMeta, &req.ErrorMessage,
		&req.CreatedAt, &req.StartedAt, &req.CompletedAt)
	if err != nil {
		return domain.Request{}, err
	}
	req.Type = domain.RequestType(reqType)
	req.Status = domain.RequestStatus(status)
	req.Payload = decodePayload(req.Type, rawPayload)
	req.ResponseMetadata = decodeMetadata(rawMeta)
	return req, nil
}

// Insert stores a new pending row. The id is generated when empty; an
// id collision surfaces as ErrConflict.
func (r *QueueRepo) Insert(ctx domain.Context, req domain.Request) error {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "inference_queue"),
	)
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	payload, err := encodePayload(req.Payload)
	if err != nil { return err }
	q := `INSERT INTO inference_queue (id, request_type, input_data, status, priority, user_id, message_id, retry_count, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	err = withRetry(ctx, func() error {
		_, err := r.Pool.Exec(ctx, q, req.ID, req.Type, payload, domain.RequestPending, req.Priority, req.UserID, req.MessageID, req.RetryCount, createdAt)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("op=queue.insert: %w", domain.ErrConflict)
		}
		return fmt.Errorf("op=queue.insert: %w", err)
	}
	return nil
}

// ClaimOne atomically flips the oldest highest-priority pending row to
// processing and returns it. The claim is a single UPDATE over a
// FOR UPDATE SKIP LOCKED subselect, so concurrent claimers never see
// the same row; ok=false with nil error means nothing was claimable.
func (r *QueueRepo) ClaimOne(ctx domain.Context, now time.Time) (domain.Request, bool, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.ClaimOne")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "inference_queue"),
	)
	q := `UPDATE inference_queue SET status='processing', started_at=$1
	WHERE id = (
		SELECT id FROM inference_queue
		WHERE status='pending'
		ORDER BY priority ASC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + queueColumns
	var req domain.Request
	err := withRetry(ctx, func() error {
		var scanErr error
		req, scanErr = scanRequest(r.Pool.QueryRow(ctx, q, now.UTC()))
		return scanErr
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Request{}, false, nil
		}
		return domain.Request{}, false, fmt.Errorf("op=queue.claim_one: %w", err)
	}
	return req, true, nil
}

// Complete finishes a processing row with the given outcome.
// transitioned=false with nil error means the row was not in
// processing, which the broker treats as an idempotent replay.
func (r *QueueRepo) Complete(ctx domain.Context, id string, outcome domain.RequestOutcome, now time.Time) (bool, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "inference_queue"),
	)
	status := domain.RequestFailed
	if outcome.Success {
		status = domain.RequestCompleted
	}
	meta, err := encodeMetadata(outcome.Metadata)
	if err != nil { return false, err }
	q := `UPDATE inference_queue SET status=$2, response_content=$3, response_metadata=$4, error_message=$5, completed_at=$6 WHERE id=$1 AND status='processing'`
	var tag pgconn.CommandTag
	err = withRetry(ctx, func() error {
		var execErr error
		tag, execErr = r.Pool.Exec(ctx, q, id, status, outcome.Content, meta, outcome.ErrorMessage, now.UTC())
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("op=queue.complete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get loads a request by id.
func (r *QueueRepo) Get(ctx domain.Context, id string) (domain.Request, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.Get")
	defer span.End()
	q := `SELECT ` + queueColumns + ` FROM inference_queue WHERE id=$1`
	req, err := scanRequest(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Request{}, fmt.Errorf("op=queue.get: %w", domain.ErrNotFound)
		}
		return domain.Request{}, fmt.Errorf("op=queue.get: %w", err)
	}
	return req, nil
}

// Stats returns counts by status plus total in a single scan.
func (r *QueueRepo) Stats(ctx domain.Context) (domain.QueueStats, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.Stats")
	defer span.End()
	q := `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE status='pending'),
		COUNT(*) FILTER (WHERE status='processing'),
		COUNT(*) FILTER (WHERE status='completed'),
		COUNT(*) FILTER (WHERE status='failed')
	FROM inference_queue`
	var s domain.QueueStats
	if err := r.Pool.QueryRow(ctx, q).Scan(&s.Total, &s.Pending, &s.Processing, &s.Completed, &s.Failed); err != nil {
		return domain.QueueStats{}, fmt.Errorf("op=queue.stats: %w", err)
	}
	return s, nil
}

// CountByStatus returns the number of rows in one status.
func (r *QueueRepo) CountByStatus(ctx domain.Context, status domain.RequestStatus) (int64, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.CountByStatus")
	defer span.End()
	q := `SELECT COUNT(*) FROM inference_queue WHERE status=$1`
	var count int64
	if err := r.Pool.QueryRow(ctx, q, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("op=queue.count_by_status: %w", err)
	}
	return count, nil
}

// PurgeTerminalOlderThan deletes completed and failed rows created
// before the cutoff. Pending and processing rows are never touched.
func (r *QueueRepo) PurgeTerminalOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.PurgeTerminalOlderThan")
	defer span.End()
	q := `DELETE FROM inference_queue WHERE status IN ('completed','failed') AND created_at < $1`
	tag, err := r.Pool.Exec(ctx, q, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("op=queue.purge_terminal: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListProcessingOlderThan pages through processing rows whose claim
// predates the cutoff, oldest first. Feeds the stuck-row observer.
func (r *QueueRepo) ListProcessingOlderThan(ctx domain.Context, cutoff time.Time, offset, limit int) ([]domain.Request, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.ListProcessingOlderThan")
	defer span.End()
	q := `SELECT ` + queueColumns + ` FROM inference_queue WHERE status='processing' AND started_at < $1 ORDER BY started_at ASC OFFSET $2 LIMIT $3`
	rows, err := r.Pool.Query(ctx, q, cutoff.UTC(), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("op=queue.list_processing: %w", err)
	}
	defer rows.Close()
	var out []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("op=queue.list_processing: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=queue.list_processing: %w", err)
	}
	return out, nil
}

// ResetToPending is the manual operator recovery for a row stuck in
// processing. ok=false means the row was not in processing.
func (r *QueueRepo) ResetToPending(ctx domain.Context, id string) (bool, error) {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.ResetToPending")
	defer span.End()
	q := `UPDATE inference_queue SET status='pending', started_at=NULL WHERE id=$1 AND status='processing'`
	tag, err := r.Pool.Exec(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("op=queue.reset_to_pending: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementRetry bumps retry_count after a failed inference attempt.
func (r *QueueRepo) IncrementRetry(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.queue")
	ctx, span := tracer.Start(ctx, "queue.IncrementRetry")
	defer span.End()
	q := `UPDATE inference_queue SET retry_count = retry_count + 1 WHERE id=$1`
	err := withRetry(ctx, func() error {
		_, err := r.Pool.Exec(ctx, q, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("op=queue.increment_retry: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
