// Package contract exposes the subscription-contract records touched when a
// fully signed pack commits.
package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the contract or document does not exist.
	ErrNotFound = errors.New("contract: not found")
)

// Record mirrors the contracts table columns touched by the service.
type Record struct {
	ID          string
	Status      string
	CommittedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FeeEvent is the output of the external fee-computation collaborator.
type FeeEvent struct {
	Kind     string
	Amount   float64
	OccursAt time.Time
}

// FeeComputer derives fee events for a committed contract. Consumed only,
// never implemented here.
type FeeComputer interface {
	ComputeFeeEvents(ctx context.Context, contractID string) ([]FeeEvent, error)
}

// Repository provides access to contracts and their fee events.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetByID(ctx context.Context, id string) (Record, error) {
	const query = `
		SELECT id, status, committed_at, created_at, updated_at
		FROM contracts
		WHERE id = $1
	`
	var rec Record
	err := r.pool.QueryRow(ctx, query, id).Scan(&rec.ID, &rec.Status, &rec.CommittedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("contract: query by id: %w", err)
	}
	return rec, nil
}

// ContractForDocument resolves the contract owning a subscription document.
func (r *Repository) ContractForDocument(ctx context.Context, documentID string) (string, error) {
	var contractID *string
	err := r.pool.QueryRow(ctx, `SELECT contract_id::text FROM documents WHERE id = $1`, documentID).Scan(&contractID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("contract: document %s: %w", documentID, ErrNotFound)
		}
		return "", fmt.Errorf("contract: resolve document: %w", err)
	}
	if contractID == nil {
		return "", fmt.Errorf("contract: document %s has no owning contract: %w", documentID, ErrNotFound)
	}
	return *contractID, nil
}

// CommitIfAwaiting flips awaiting_signatures -> committed. Zero affected
// rows means another completion already committed; callers treat that as an
// idempotent no-op.
func (r *Repository) CommitIfAwaiting(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contracts
		SET status = 'committed',
		    committed_at = COALESCE(committed_at, get_tx_timestamp()),
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = 'awaiting_signatures'
	`, id)
	if err != nil {
		return false, fmt.Errorf("contract: commit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) FeeEventsExist(ctx context.Context, contractID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM fee_events WHERE contract_id = $1)
	`, contractID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("contract: check fee events: %w", err)
	}
	return exists, nil
}

func (r *Repository) InsertFeeEvents(ctx context.Context, contractID string, events []FeeEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("contract: begin fee tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, ev := range events {
		if _, err := tx.Exec(ctx, `
			INSERT INTO fee_events (contract_id, kind, amount, occurs_at)
			VALUES ($1, $2, $3, $4)
		`, contractID, ev.Kind, ev.Amount, ev.OccursAt); err != nil {
			return fmt.Errorf("contract: insert fee event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("contract: commit fee tx: %w", err)
	}
	return nil
}
