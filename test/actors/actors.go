// Package actors contains the concurrent workloads for the signing stress
// run. Each actor hammers one contention point of the schema directly, the
// way multiple API instances would.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Requester races to create pending requests for the same workflow signer
// slot. The partial unique index must keep at most one alive.
func Requester(ctx context.Context, pool *pgxpool.Pool, workflowID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		token := fmt.Sprintf("stress-%d-%d", time.Now().UnixNano(), rand.Int63())
		_, err := pool.Exec(ctx, `
			INSERT INTO signature_requests
			    (document_type, signer_email, signer_name, signer_role, position,
			     token, token_expires_at, unsigned_path, workflow_id)
			VALUES ('nda', 'stress@example.com', 'Stress Signer', 'investor', 'party_a',
			        $1, now() + interval '7 days', $2, $3)
		`, token, workflowID+"/"+token+"_unsigned.pdf", workflowID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// expected under contention
			} else {
				return fmt.Errorf("requester insert: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Submitter commits pending requests with the conditional update the
// service uses. Exactly one racer may win each request; the loser's zero
// row count is silent.
func Submitter(ctx context.Context, pool *pgxpool.Pool, workflowID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var reqID, token string
		err := pool.QueryRow(ctx, `
			SELECT id, token FROM signature_requests
			WHERE workflow_id = $1 AND status = 'pending'
			LIMIT 1
		`, workflowID).Scan(&reqID, &token)
		if err == nil {
			tag, err := pool.Exec(ctx, `
				UPDATE signature_requests
				SET status = 'signed',
				    signed_path = $2,
				    signed_at = get_tx_timestamp(),
				    updated_at = get_tx_timestamp()
				WHERE id = $1 AND status = 'pending'
			`, reqID, workflowID+"/"+token+"_signed.pdf")
			if err != nil {
				return fmt.Errorf("submitter commit: %w", err)
			}
			if tag.RowsAffected() == 1 {
				_, _ = pool.Exec(ctx, `
					INSERT INTO signature_events (request_id, type, payload)
					VALUES ($1, 'SIGNATURE_CAPTURED', '{}'::jsonb)
				`, reqID)
				_, _ = pool.Exec(ctx, `
					INSERT INTO outbox (topic, payload)
					VALUES ('signature.signed', jsonb_build_object('request_id', $1))
				`, reqID)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// LockContender fights over the workflow submission lock with the same
// conditional write the service uses, including stale takeover.
func LockContender(ctx context.Context, pool *pgxpool.Pool, workflowID, holderID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tag, err := pool.Exec(ctx, `
			UPDATE workflows
			SET lock_holder = $2, lock_acquired_at = get_tx_timestamp()
			WHERE id = $1
			  AND (lock_holder IS NULL OR lock_acquired_at < now() - interval '2 minutes')
		`, workflowID, holderID)
		if err != nil {
			return fmt.Errorf("lock acquire: %w", err)
		}
		if tag.RowsAffected() == 1 {
			time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
			if _, err := pool.Exec(ctx, `
				UPDATE workflows
				SET lock_holder = NULL, lock_acquired_at = NULL
				WHERE id = $1 AND lock_holder = $2
			`, workflowID, holderID); err != nil {
				return fmt.Errorf("lock release: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Expirer lazily expires pending requests whose token deadline passed.
func Expirer(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `
			UPDATE signature_requests
			SET status = 'expired', updated_at = get_tx_timestamp()
			WHERE status = 'pending' AND token_expires_at < now()
		`)
		if err != nil {
			return fmt.Errorf("expirer: %w", err)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed, with a simulated random failure path bumping attempts.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
