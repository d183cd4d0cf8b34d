package signing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// Lock defaults. Acquisition backs off exponentially with a cap so a
// contended workflow surfaces a retryable error instead of hanging.
const (
	defaultLockTTL        = 2 * time.Minute
	defaultLockBackoff    = 50 * time.Millisecond
	defaultLockMaxDelay   = 2 * time.Second
	defaultLockMaxRetries = 6
)

// WorkflowLock is the cross-process mutual exclusion on a workflow row. It
// is a conditional database write, not an in-memory mutex: lock state must
// survive across server instances. The lock only reduces contention on the
// chained PDF; the conditional status commit guarantees correctness even if
// the lock is bypassed or expired.
type WorkflowLock struct {
	pool       *pgxpool.Pool
	log        zerolog.Logger
	ttl        time.Duration
	backoff    time.Duration
	maxDelay   time.Duration
	maxRetries uint64
}

func NewWorkflowLock(pool *pgxpool.Pool, log zerolog.Logger) *WorkflowLock {
	return &WorkflowLock{
		pool:       pool,
		log:        log.With().Str("component", "workflow_lock").Logger(),
		ttl:        defaultLockTTL,
		backoff:    defaultLockBackoff,
		maxDelay:   defaultLockMaxDelay,
		maxRetries: defaultLockMaxRetries,
	}
}

// Acquire claims the workflow for holderID, taking over locks whose holder
// died (acquired longer than the TTL ago). Exhausting the bounded retries
// returns ErrWorkflowBusy.
func (l *WorkflowLock) Acquire(ctx context.Context, workflowID, holderID string) error {
	backoff, err := retry.NewExponential(l.backoff)
	if err != nil {
		return fmt.Errorf("signing: lock backoff config: %w", err)
	}
	backoff = retry.WithCappedDuration(l.maxDelay, backoff)
	backoff = retry.WithMaxRetries(l.maxRetries, backoff)

	attempts := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		tag, err := l.pool.Exec(ctx, `
            UPDATE workflows
            SET lock_holder = $2,
                lock_acquired_at = get_tx_timestamp()
            WHERE id = $1
              AND (lock_holder IS NULL
                   OR lock_acquired_at < get_tx_timestamp() - make_interval(secs => $3))
        `, workflowID, holderID, l.ttl.Seconds())
		if err != nil {
			return retry.RetryableError(fmt.Errorf("signing: lock write: %w", err))
		}
		if tag.RowsAffected() == 0 {
			return retry.RetryableError(ErrWorkflowBusy)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrWorkflowBusy) {
			l.log.Warn().
				Str("workflow_id", workflowID).
				Int("attempts", attempts).
				Msg("workflow lock contended, giving up")
			return ErrWorkflowBusy
		}
		return fmt.Errorf("signing: acquire workflow lock: %w", err)
	}
	return nil
}

// Release clears the lock if holderID still owns it. A takeover by another
// submission after TTL expiry leaves someone else's lock in place; releasing
// is then a no-op.
func (l *WorkflowLock) Release(ctx context.Context, workflowID, holderID string) {
	tag, err := l.pool.Exec(ctx, `
        UPDATE workflows
        SET lock_holder = NULL,
            lock_acquired_at = NULL
        WHERE id = $1 AND lock_holder = $2
    `, workflowID, holderID)
	if err != nil {
		l.log.Error().Err(err).Str("workflow_id", workflowID).Msg("workflow lock release failed")
		return
	}
	if tag.RowsAffected() == 0 {
		l.log.Warn().Str("workflow_id", workflowID).Msg("workflow lock no longer held by releaser")
	}
}
