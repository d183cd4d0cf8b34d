// Package storage is a thin adapter over the blob store holding unsigned and
// signed PDF artifacts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound signals the requested blob does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Store abstracts blob persistence. All failures are transport errors and
// retryable by the caller.
type Store interface {
	Upload(ctx context.Context, path string, data []byte, contentType string, metadata map[string]string) (string, error)
	Download(ctx context.Context, path string) ([]byte, error)
	SignedURL(path string, ttl time.Duration) (string, error)
}

// UnsignedPath is the deterministic location of a signer's unsigned input.
func UnsignedPath(scopeID, token string) string {
	return fmt.Sprintf("%s/%s_unsigned.pdf", scopeID, token)
}

// SignedPath is the deterministic location of a signer's signed output.
func SignedPath(scopeID, token string) string {
	return fmt.Sprintf("%s/%s_signed.pdf", scopeID, token)
}

// ArchivePath is where completion handlers archive final artifacts.
func ArchivePath(scopeID, token string) string {
	return fmt.Sprintf("archive/%s/%s.pdf", scopeID, token)
}
