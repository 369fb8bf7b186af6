package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

// transientStoreErr reports whether an error is worth replaying.
// SQL-level failures (constraint violations, bad statements) and empty
// result sets are deterministic and excluded; pool and network
// failures are not.
func transientStoreErr(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return false
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// withRetry replays fn up to two extra times on transient store errors
// with a short constant pause. Exhausted transient errors carry
// domain.ErrStore so the dispatcher's cycle breaker can see them;
// deterministic errors pass through for per-method mapping.
func withRetry(ctx context.Context, fn func() error) error {
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !transientStoreErr(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 2), ctx)
	err := backoff.Retry(op, bo)
	if err == nil {
		return nil
	}
	if transientStoreErr(err) {
		return fmt.Errorf("%w: %w", domain.ErrStore, err)
	}
	return err
}
