package signing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fundflow/placement"
)

// Repository defines the data access the state machine requires.
type Repository interface {
	Insert(ctx context.Context, req Request) (Request, error)
	GetByID(ctx context.Context, id string) (Request, error)
	GetByToken(ctx context.Context, token string) (Request, error)
	HasActive(ctx context.Context, group GroupKey, role Role, position string) (bool, error)
	Siblings(ctx context.Context, group GroupKey) ([]Request, error)
	LatestSigned(ctx context.Context, group GroupKey) (*Request, error)
	MarkSigned(ctx context.Context, id, signedPath string) (bool, error)
	MarkExpired(ctx context.Context, id string) (bool, error)
	MarkCancelled(ctx context.Context, id string) (bool, error)
	AppendEvent(ctx context.Context, requestID, eventType string, payload map[string]any) error
	EnqueueOutbox(ctx context.Context, topic string, payload map[string]any) error
}

const requestColumns = `
    id, document_type::text, signer_email, signer_name, signer_user_id::text,
    signer_role::text, position, status::text, token, token_expires_at,
    unsigned_path, signed_path, placements,
    workflow_id::text, document_id::text, introducer_agreement_id::text, placement_agreement_id::text,
    email_verified, signed_at, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Insert(ctx context.Context, req Request) (Request, error) {
	var placementsJSON any
	if len(req.Placements) > 0 {
		buf, err := json.Marshal(req.Placements)
		if err != nil {
			return Request{}, fmt.Errorf("signing: marshal placements: %w", err)
		}
		placementsJSON = buf
	}

	insertSQL := `
        INSERT INTO signature_requests
            (document_type, signer_email, signer_name, signer_user_id, signer_role, position,
             token, token_expires_at, unsigned_path, placements, email_verified,
             workflow_id, document_id, introducer_agreement_id, placement_agreement_id)
        VALUES ($1::document_type, $2, $3, $4::uuid, $5::signer_role, $6,
                $7, $8, $9, $10::jsonb, $11,
                $12::uuid, $13::uuid, $14::uuid, $15::uuid)
        RETURNING` + requestColumns

	row := r.pool.QueryRow(ctx, insertSQL,
		req.DocumentType,
		req.SignerEmail,
		req.SignerName,
		req.SignerUserID,
		req.Role,
		req.Position,
		req.Token,
		req.TokenExpiresAt,
		req.UnsignedPath,
		placementsJSON,
		req.EmailVerified,
		req.Group.WorkflowID,
		req.Group.DocumentID,
		req.Group.IntroducerAgreementID,
		req.Group.PlacementAgreementID,
	)

	inserted, err := scanRequest(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Request{}, ErrDuplicateRequest
		}
		return Request{}, fmt.Errorf("signing: insert request: %w", err)
	}
	return inserted, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Request, error) {
	query := `SELECT` + requestColumns + ` FROM signature_requests WHERE id = $1`
	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("signing: get request: %w", err)
	}
	return req, nil
}

func (r *PGRepository) GetByToken(ctx context.Context, token string) (Request, error) {
	query := `SELECT` + requestColumns + ` FROM signature_requests WHERE token = $1`
	req, err := scanRequest(r.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("signing: get request by token: %w", err)
	}
	return req, nil
}

// HasActive reports whether an equivalent non-terminal request exists.
// Document-keyed groupings scope the check by position so multiple same-role
// signers can coexist at different slots.
func (r *PGRepository) HasActive(ctx context.Context, group GroupKey, role Role, position string) (bool, error) {
	col, val := group.column()
	query := fmt.Sprintf(`
        SELECT EXISTS (
            SELECT 1 FROM signature_requests
            WHERE %s = $1 AND signer_role = $2::signer_role AND status = 'pending'`, col)
	args := []any{val, role}
	if group.DocumentID != nil {
		query += ` AND position = $3`
		args = append(args, position)
	}
	query += `)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("signing: check active request: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) Siblings(ctx context.Context, group GroupKey) ([]Request, error) {
	col, val := group.column()
	query := fmt.Sprintf(`SELECT %s FROM signature_requests WHERE %s = $1 ORDER BY created_at ASC`, requestColumns, col)

	rows, err := r.pool.Query(ctx, query, val)
	if err != nil {
		return nil, fmt.Errorf("signing: list siblings: %w", err)
	}
	defer rows.Close()

	out := make([]Request, 0, 4)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("signing: scan sibling: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("signing: iterate siblings: %w", err)
	}
	return out, nil
}

// LatestSigned returns the most recently signed sibling, if any. Its signed
// PDF already carries every earlier signature and serves as the chain base.
func (r *PGRepository) LatestSigned(ctx context.Context, group GroupKey) (*Request, error) {
	col, val := group.column()
	query := fmt.Sprintf(`
        SELECT %s FROM signature_requests
        WHERE %s = $1 AND status = 'signed'
        ORDER BY signed_at DESC
        LIMIT 1`, requestColumns, col)

	req, err := scanRequest(r.pool.QueryRow(ctx, query, val))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("signing: latest signed sibling: %w", err)
	}
	return &req, nil
}

// MarkSigned flips pending -> signed. This conditional update is the single
// linearization point; zero affected rows means a concurrent submission won.
func (r *PGRepository) MarkSigned(ctx context.Context, id, signedPath string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
        UPDATE signature_requests
        SET status = 'signed',
            signed_path = $2,
            signed_at = get_tx_timestamp(),
            updated_at = get_tx_timestamp()
        WHERE id = $1 AND status = 'pending'
    `, id, signedPath)
	if err != nil {
		return false, fmt.Errorf("signing: mark signed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) MarkExpired(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
        UPDATE signature_requests
        SET status = 'expired', updated_at = get_tx_timestamp()
        WHERE id = $1 AND status = 'pending'
    `, id)
	if err != nil {
		return false, fmt.Errorf("signing: mark expired: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) MarkCancelled(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
        UPDATE signature_requests
        SET status = 'cancelled', updated_at = get_tx_timestamp()
        WHERE id = $1 AND status = 'pending'
    `, id)
	if err != nil {
		return false, fmt.Errorf("signing: mark cancelled: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AppendEvent records an immutable audit entry for the request.
func (r *PGRepository) AppendEvent(ctx context.Context, requestID, eventType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("signing: marshal event payload: %w", err)
	}
	if _, err := r.pool.Exec(ctx, `
        INSERT INTO signature_events (request_id, type, payload)
        VALUES ($1, $2, $3::jsonb)
    `, requestID, eventType, body); err != nil {
		return fmt.Errorf("signing: insert event: %w", err)
	}
	return nil
}

// EnqueueOutbox emits a message for downstream delivery (email, tasks).
func (r *PGRepository) EnqueueOutbox(ctx context.Context, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("signing: marshal outbox payload: %w", err)
	}
	if _, err := r.pool.Exec(ctx, `
        INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)
    `, topic, body); err != nil {
		return fmt.Errorf("signing: enqueue outbox: %w", err)
	}
	return nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var (
		req            Request
		placementsJSON []byte
	)
	err := row.Scan(
		&req.ID,
		&req.DocumentType,
		&req.SignerEmail,
		&req.SignerName,
		&req.SignerUserID,
		&req.Role,
		&req.Position,
		&req.Status,
		&req.Token,
		&req.TokenExpiresAt,
		&req.UnsignedPath,
		&req.SignedPath,
		&placementsJSON,
		&req.Group.WorkflowID,
		&req.Group.DocumentID,
		&req.Group.IntroducerAgreementID,
		&req.Group.PlacementAgreementID,
		&req.EmailVerified,
		&req.SignedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return Request{}, err
	}
	if len(placementsJSON) > 0 {
		var pls []placement.Placement
		if err := json.Unmarshal(placementsJSON, &pls); err != nil {
			return Request{}, fmt.Errorf("decode placements: %w", err)
		}
		req.Placements = pls
	}
	return req, nil
}
