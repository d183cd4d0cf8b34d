package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrCodeMismatch signals the presented verification code is wrong.
	ErrCodeMismatch = errors.New("identity: verification code mismatch")
	// ErrNoVerification signals the request has no pending verification.
	ErrNoVerification = errors.New("identity: no verification pending")
)

const codeDigits = 6

// VerificationService manages per-request email verification codes. Codes
// are stored bcrypt-hashed on the signature request row.
type VerificationService struct {
	pool *pgxpool.Pool
}

func NewVerificationService(pool *pgxpool.Pool) *VerificationService {
	return &VerificationService{pool: pool}
}

// IssueCode generates a fresh code for the request behind the signing token
// and returns it so the caller can deliver it out-of-band. Issuing resets
// any earlier code.
func (s *VerificationService) IssueCode(ctx context.Context, token string) (string, error) {
	code, err := newCode()
	if err != nil {
		return "", fmt.Errorf("identity: generate code: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("identity: hash code: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
        UPDATE signature_requests
        SET email_verification_hash = $2,
            email_verified = false,
            updated_at = get_tx_timestamp()
        WHERE token = $1 AND status = 'pending'
    `, token, string(hash))
	if err != nil {
		return "", fmt.Errorf("identity: store code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("identity: no pending request for token")
	}

	return code, nil
}

// ConfirmCode compares the presented code against the stored hash and flips
// the request to verified on success.
func (s *VerificationService) ConfirmCode(ctx context.Context, token, code string) error {
	var hash *string
	err := s.pool.QueryRow(ctx, `
        SELECT email_verification_hash FROM signature_requests WHERE token = $1
    `, token).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("identity: no request for token")
		}
		return fmt.Errorf("identity: load verification: %w", err)
	}
	if hash == nil {
		return ErrNoVerification
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*hash), []byte(code)); err != nil {
		return ErrCodeMismatch
	}

	if _, err := s.pool.Exec(ctx, `
        UPDATE signature_requests
        SET email_verified = true,
            email_verification_hash = NULL,
            updated_at = get_tx_timestamp()
        WHERE token = $1
    `, token); err != nil {
		return fmt.Errorf("identity: mark verified: %w", err)
	}

	return nil
}

func newCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
