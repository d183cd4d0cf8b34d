package signing

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals no request exists for the identifier or token.
	ErrNotFound = errors.New("signing: request not found")
	// ErrDuplicateRequest signals an equivalent non-terminal request
	// already exists within the grouping.
	ErrDuplicateRequest = errors.New("signing: active request already exists for this role and position")
	// ErrTokenExpired signals the signing token's TTL elapsed.
	ErrTokenExpired = errors.New("signing: token expired")
	// ErrWrongSigner signals the acting identity does not match the bound
	// signer.
	ErrWrongSigner = errors.New("signing: acting identity does not match bound signer")
	// ErrEmailUnverified signals a configured email verification has not
	// completed.
	ErrEmailUnverified = errors.New("signing: email verification incomplete")
	// ErrBrokenTemplate signals a subscription document without signature
	// anchors. This is a template defect, never silently degraded.
	ErrBrokenTemplate = errors.New("signing: document template has no usable signature anchors")
	// ErrWorkflowBusy signals lock acquisition exhausted its retries; the
	// caller may try again.
	ErrWorkflowBusy = errors.New("signing: workflow busy, try again")
	// ErrConcurrentlySigned signals the optimistic commit lost the race to
	// a concurrent submission.
	ErrConcurrentlySigned = errors.New("signing: already signed by a concurrent request")
)

// NotPendingError rejects a transition attempt on a terminal request,
// naming the current status.
type NotPendingError struct {
	RequestID string
	Status    Status
}

func (e *NotPendingError) Error() string {
	return fmt.Sprintf("signing: request %s is %s, not pending", e.RequestID, e.Status)
}

// OrderError rejects a progressive-order violation, naming the party that
// must sign first.
type OrderError struct {
	BlockingPosition string
	BlockingEmail    string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("signing: company must sign first: %s (%s) has not signed", e.BlockingPosition, e.BlockingEmail)
}

// Retryable reports whether the submission may be retried as-is. Validation,
// state, and template errors are terminal for the request.
func Retryable(err error) bool {
	return errors.Is(err, ErrWorkflowBusy) || errors.Is(err, ErrConcurrentlySigned)
}
