package signing

import (
	"context"
	"fmt"

	"fundflow/storage"
)

// SubmitParams carries one signer's signature submission.
type SubmitParams struct {
	Token             string
	SignatureImageB64 string
	// ActorAssertion is the acting user's identity token. Required when
	// the request is bound to a specific platform user.
	ActorAssertion string
}

// Legacy drawing position for documents without anchors: a single signature
// block on the first page.
const (
	legacyPage = 1
	legacyX    = 0.50
	legacyY    = 180.0
)

// Submit runs the full submission state machine: token and state checks,
// identity verification, progressive-order enforcement, workflow locking,
// chained embedding, and the optimistic-locked commit.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Request, error) {
	if params.Token == "" || params.SignatureImageB64 == "" {
		return Request{}, fmt.Errorf("signing: token and signature image are required")
	}

	req, err := s.repo.GetByToken(ctx, params.Token)
	if err != nil {
		return Request{}, err
	}

	// Lazy expiry: tokens carry an absolute deadline checked on access.
	if req.Status == StatusPending && s.now().After(req.TokenExpiresAt) {
		if _, err := s.repo.MarkExpired(ctx, req.ID); err != nil {
			return Request{}, err
		}
		return Request{}, fmt.Errorf("request %s: %w", req.ID, ErrTokenExpired)
	}
	if req.Status != StatusPending {
		return Request{}, &NotPendingError{RequestID: req.ID, Status: req.Status}
	}

	if err := s.verifySigner(req, params); err != nil {
		return Request{}, err
	}
	if !req.EmailVerified {
		return Request{}, fmt.Errorf("request %s: %w", req.ID, ErrEmailUnverified)
	}

	if err := s.enforceSigningOrder(ctx, req); err != nil {
		return Request{}, err
	}

	// Shared-workflow groupings serialize on the lock so two signers cannot
	// both chain onto the same base PDF and overwrite one another.
	if req.Group.RequiresLock() {
		workflowID := *req.Group.WorkflowID
		if err := s.lock.Acquire(ctx, workflowID, req.ID); err != nil {
			return Request{}, err
		}
		defer s.lock.Release(context.WithoutCancel(ctx), workflowID, req.ID)
	}

	return s.embedAndCommit(ctx, req, params)
}

// verifySigner prevents link-sharing bypass on bound requests.
func (s *Service) verifySigner(req Request, params SubmitParams) error {
	if req.SignerUserID == nil {
		return nil
	}
	if s.verifier == nil || params.ActorAssertion == "" {
		return fmt.Errorf("request %s: %w", req.ID, ErrWrongSigner)
	}
	assertion, err := s.verifier.VerifyAssertion(params.ActorAssertion)
	if err != nil {
		return fmt.Errorf("request %s: %w: %v", req.ID, ErrWrongSigner, err)
	}
	if assertion.UserID != *req.SignerUserID {
		return fmt.Errorf("request %s: %w", req.ID, ErrWrongSigner)
	}
	return nil
}

// enforceSigningOrder blocks subscribers until every issuer-side sibling in
// the same document has signed.
func (s *Service) enforceSigningOrder(ctx context.Context, req Request) error {
	if req.DocumentType != DocSubscription || !IsSubscriberPosition(req.Position) {
		return nil
	}
	siblings, err := s.repo.Siblings(ctx, req.Group)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		if sib.ID == req.ID || !IsIssuerPosition(sib.Position) {
			continue
		}
		if sib.Status != StatusSigned {
			return &OrderError{BlockingPosition: sib.Position, BlockingEmail: sib.SignerEmail}
		}
	}
	return nil
}

func (s *Service) embedAndCommit(ctx context.Context, req Request, params SubmitParams) (Request, error) {
	base, chained, err := s.chainBase(ctx, req)
	if err != nil {
		return Request{}, err
	}

	signedAt := s.now().UTC()
	var stamped []byte
	if len(req.Placements) > 0 {
		stamped, err = s.stamper.StampPlacements(base, params.SignatureImageB64, req.Placements, req.SignerName, signedAt)
	} else {
		stamped, err = s.stamper.StampAt(base, params.SignatureImageB64, legacyPage, legacyX, legacyY, req.SignerName, signedAt)
	}
	if err != nil {
		return Request{}, err
	}

	signedPath := storage.SignedPath(req.Group.ScopeID(), req.Token)
	if _, err := s.store.Upload(ctx, signedPath, stamped, "application/pdf", map[string]string{
		"signer_email": req.SignerEmail,
		"signed_at":    signedAt.Format("2006-01-02T15:04:05Z"),
	}); err != nil {
		return Request{}, err
	}

	// The authoritative linearization point. The workflow lock only reduces
	// contention; this conditional update guarantees at-most-one commit.
	committed, err := s.repo.MarkSigned(ctx, req.ID, signedPath)
	if err != nil {
		return Request{}, err
	}
	if !committed {
		return Request{}, fmt.Errorf("request %s: %w", req.ID, ErrConcurrentlySigned)
	}

	req.Status = StatusSigned
	req.SignedPath = &signedPath
	req.SignedAt = &signedAt

	s.audit(ctx, req.ID, "SIGNATURE_CAPTURED", map[string]any{
		"signed_path": signedPath,
		"chained":     chained,
	})
	s.notify(ctx, "signature.signed", map[string]any{
		"request_id":   req.ID,
		"signer_email": req.SignerEmail,
	})

	s.finalizeIfComplete(ctx, req, stamped)

	s.log.Info().
		Str("request_id", req.ID).
		Str("position", req.Position).
		Msg("signature committed")

	return req, nil
}

// chainBase returns the PDF this signature draws onto: the most recently
// signed sibling's output when one exists (it already carries every prior
// mark), otherwise this signer's unsigned original.
func (s *Service) chainBase(ctx context.Context, req Request) ([]byte, bool, error) {
	prev, err := s.repo.LatestSigned(ctx, req.Group)
	if err != nil {
		return nil, false, err
	}
	if prev != nil && prev.SignedPath != nil {
		data, err := s.store.Download(ctx, *prev.SignedPath)
		return data, true, err
	}
	data, err := s.store.Download(ctx, req.UnsignedPath)
	return data, false, err
}

// finalizeIfComplete dispatches the completion router when every sibling has
// signed. Handler failures are reported but never revert the committed
// signature; the signature of record is preserved and downstream actions are
// retried operationally.
func (s *Service) finalizeIfComplete(ctx context.Context, req Request, signedPDF []byte) {
	siblings, err := s.repo.Siblings(ctx, req.Group)
	if err != nil {
		s.log.Error().Err(err).Str("request_id", req.ID).Msg("completion check failed")
		return
	}
	for _, sib := range siblings {
		if sib.Status != StatusSigned {
			return
		}
	}

	if s.router == nil {
		return
	}
	if err := s.router.OnDocumentComplete(ctx, req, signedPDF); err != nil {
		s.log.Error().Err(err).
			Str("request_id", req.ID).
			Str("document_type", string(req.DocumentType)).
			Msg("completion handler failed; signature commit preserved")
		s.audit(ctx, req.ID, "COMPLETION_HANDLER_FAILED", map[string]any{"error": err.Error()})
		return
	}
	s.notify(ctx, "document.completed", map[string]any{
		"request_id":    req.ID,
		"document_type": req.DocumentType,
	})
}
