// Package agreements holds introducer and placement agreement records: two
// party documents signed sequentially, where the second signer's request is
// chained off the first signer's output.
package agreements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Kind string

const (
	KindIntroducer Kind = "introducer"
	KindPlacement  Kind = "placement"
)

var (
	ErrNotFound = errors.New("agreements: not found")
	// ErrCounterpartyMissing signals the agreement has no second-party
	// contact info recorded.
	ErrCounterpartyMissing = errors.New("agreements: counterparty contact info missing")
)

// Record mirrors the agreement table columns touched by completion handling.
type Record struct {
	ID           string
	Status       string
	FinalPDFPath *string
	ActivatedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Counterparty is the second signer's resolved contact info. Resolved via an
// explicit query rather than speculative deep field access on joins.
type Counterparty struct {
	Email  string
	Name   string
	UserID *string
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func tableFor(kind Kind) (string, error) {
	switch kind {
	case KindIntroducer:
		return "introducer_agreements", nil
	case KindPlacement:
		return "placement_agreements", nil
	}
	return "", fmt.Errorf("agreements: unknown kind %q", kind)
}

func (r *Repository) Get(ctx context.Context, kind Kind, id string) (Record, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Record{}, err
	}
	query := fmt.Sprintf(`
		SELECT id, status, final_pdf_path, activated_at, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, table)

	var rec Record
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Status, &rec.FinalPDFPath, &rec.ActivatedAt, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("agreements: get %s: %w", kind, err)
	}
	return rec, nil
}

// Counterparty resolves the second party's contact info for the chain step.
func (r *Repository) Counterparty(ctx context.Context, kind Kind, id string) (Counterparty, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Counterparty{}, err
	}
	query := fmt.Sprintf(`
		SELECT second_party_email, second_party_name, second_party_user_id::text
		FROM %s
		WHERE id = $1
	`, table)

	var email, name *string
	var userID *string
	if err := r.pool.QueryRow(ctx, query, id).Scan(&email, &name, &userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Counterparty{}, ErrNotFound
		}
		return Counterparty{}, fmt.Errorf("agreements: resolve counterparty: %w", err)
	}
	if email == nil || *email == "" || name == nil || *name == "" {
		return Counterparty{}, fmt.Errorf("agreement %s: %w", id, ErrCounterpartyMissing)
	}
	return Counterparty{Email: *email, Name: *name, UserID: userID}, nil
}

// Activate flips pending_signatures -> active once both parties have signed,
// attaching the final artifact. Conditional so replayed completions no-op.
func (r *Repository) Activate(ctx context.Context, kind Kind, id, finalPDFPath string) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'active',
		    final_pdf_path = $2,
		    activated_at = COALESCE(activated_at, get_tx_timestamp()),
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = 'pending_signatures'
	`, table)

	tag, err := r.pool.Exec(ctx, query, id, finalPDFPath)
	if err != nil {
		return false, fmt.Errorf("agreements: activate %s: %w", kind, err)
	}
	return tag.RowsAffected() == 1, nil
}
