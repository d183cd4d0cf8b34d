// Package dataroom records time-boxed data-room access granted to NDA
// signers.
package dataroom

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultAccessWindow is how long an executed NDA opens the data room.
const DefaultAccessWindow = 30 * 24 * time.Hour

var ErrNotFound = errors.New("dataroom: grant not found")

// Grant is one signer's access window.
type Grant struct {
	ID           string
	RequestID    string
	GranteeEmail string
	DocumentPath *string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

type CreateParams struct {
	RequestID    string
	GranteeEmail string
	DocumentPath string
	ExpiresAt    time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, params CreateParams) (Grant, error) {
	if params.RequestID == "" || params.GranteeEmail == "" {
		return Grant{}, fmt.Errorf("dataroom: request id and grantee email are required")
	}

	const query = `
		INSERT INTO dataroom_grants (request_id, grantee_email, document_path, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, request_id, grantee_email, document_path, expires_at, created_at
	`
	var g Grant
	err := r.pool.QueryRow(ctx, query,
		params.RequestID,
		params.GranteeEmail,
		params.DocumentPath,
		params.ExpiresAt,
	).Scan(&g.ID, &g.RequestID, &g.GranteeEmail, &g.DocumentPath, &g.ExpiresAt, &g.CreatedAt)
	if err != nil {
		return Grant{}, fmt.Errorf("dataroom: create grant: %w", err)
	}
	return g, nil
}

// ActiveGrant returns the grantee's unexpired grant, if any.
func (r *Repository) ActiveGrant(ctx context.Context, granteeEmail string) (*Grant, error) {
	const query = `
		SELECT id, request_id, grantee_email, document_path, expires_at, created_at
		FROM dataroom_grants
		WHERE grantee_email = $1 AND expires_at > get_tx_timestamp()
		ORDER BY expires_at DESC
		LIMIT 1
	`
	var g Grant
	err := r.pool.QueryRow(ctx, query, granteeEmail).Scan(
		&g.ID, &g.RequestID, &g.GranteeEmail, &g.DocumentPath, &g.ExpiresAt, &g.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("dataroom: active grant: %w", err)
	}
	return &g, nil
}
