// Package identity verifies who is acting on a signature request.
//
// Signing links are bearer URLs; when a request is bound to a platform user
// the acting browser must additionally present an identity assertion so a
// forwarded link cannot be used by someone else.
package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrBadAssertion signals an unverifiable identity assertion.
	ErrBadAssertion = errors.New("identity: invalid assertion")
)

// Assertion is the verified identity of the acting signer.
type Assertion struct {
	UserID string
	Email  string
}

// Verifier validates HS256 identity assertions issued by the platform.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifyAssertion validates the token and extracts the acting identity.
func (v *Verifier) VerifyAssertion(tokenString string) (Assertion, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Assertion{}, fmt.Errorf("%w: %v", ErrBadAssertion, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Assertion{}, ErrBadAssertion
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return Assertion{}, fmt.Errorf("%w: missing user_id claim", ErrBadAssertion)
	}
	email, _ := claims["email"].(string)

	return Assertion{UserID: userID, Email: email}, nil
}
