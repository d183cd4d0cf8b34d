package signing

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"fundflow/anchor"
	"fundflow/identity"
	"fundflow/pdfstamp"
	"fundflow/placement"
	"fundflow/storage"
)

// AnchorScanner detects signature markers in a PDF's text layer.
type AnchorScanner interface {
	Scan(doc []byte) ([]anchor.Anchor, error)
}

// PlacementResolver maps a position to drawing instructions.
type PlacementResolver interface {
	Resolve(anchors []anchor.Anchor, position string) ([]placement.Placement, error)
}

// Stamper burns the signature image and metadata text into the PDF.
type Stamper interface {
	StampPlacements(doc []byte, imageB64 string, placements []placement.Placement, signerName string, signedAt time.Time) ([]byte, error)
	StampAt(doc []byte, imageB64 string, page int, x, y float64, signerName string, signedAt time.Time) ([]byte, error)
}

// IdentityVerifier validates the acting signer's identity assertion.
type IdentityVerifier interface {
	VerifyAssertion(token string) (identity.Assertion, error)
}

// Locker serializes submissions sharing a workflow resource.
type Locker interface {
	Acquire(ctx context.Context, workflowID, holderID string) error
	Release(ctx context.Context, workflowID, holderID string)
}

// CompletionRouter is invoked once every required signer has signed.
// Implementations must be idempotent; retries are possible.
type CompletionRouter interface {
	OnDocumentComplete(ctx context.Context, req Request, signedPDF []byte) error
}

// Service orchestrates the signing workflow end to end.
type Service struct {
	repo     Repository
	store    storage.Store
	scanner  AnchorScanner
	resolver PlacementResolver
	stamper  Stamper
	lock     Locker
	verifier IdentityVerifier
	router   CompletionRouter
	baseURL  string
	log      zerolog.Logger
	now      func() time.Time
	newToken func() (string, error)
}

func NewService(pool *pgxpool.Pool, store storage.Store, appBaseURL string, log zerolog.Logger) *Service {
	return &Service{
		repo:     NewPGRepository(pool),
		store:    store,
		scanner:  anchor.NewScanner(log),
		resolver: placement.NewResolver(placement.DefaultCalibration(), log),
		stamper:  pdfstamp.New(),
		lock:     NewWorkflowLock(pool, log),
		baseURL:  appBaseURL,
		log:      log.With().Str("component", "signing_service").Logger(),
		now:      time.Now,
		newToken: NewToken,
	}
}

func (s *Service) WithRepository(repo Repository) *Service { s.repo = repo; return s }

func (s *Service) WithScanner(sc AnchorScanner) *Service { s.scanner = sc; return s }

func (s *Service) WithResolver(r PlacementResolver) *Service { s.resolver = r; return s }

func (s *Service) WithStamper(st Stamper) *Service { s.stamper = st; return s }

func (s *Service) WithLocker(l Locker) *Service { s.lock = l; return s }

func (s *Service) WithIdentityVerifier(v IdentityVerifier) *Service { s.verifier = v; return s }

func (s *Service) WithCompletionRouter(r CompletionRouter) *Service { s.router = r; return s }

func (s *Service) WithClock(now func() time.Time) *Service { s.now = now; return s }

func (s *Service) WithTokenSource(gen func() (string, error)) *Service { s.newToken = gen; return s }

// CreateParams describes one signer's obligation on one logical document.
type CreateParams struct {
	DocumentType DocumentType
	SignerEmail  string
	SignerName   string
	SignerUserID *string
	Role         Role
	Position     string
	Group        GroupKey
	UnsignedPDF  []byte
	// RequireEmailVerification gates submission behind a verification code.
	RequireEmailVerification bool
}

// CreateResult bundles the stored request with its signing link.
type CreateResult struct {
	Request     Request
	SigningLink string
}

// Create validates the params, freezes placements for subscription packs,
// uploads the unsigned input, and issues the single-use signing token.
func (s *Service) Create(ctx context.Context, params CreateParams) (CreateResult, error) {
	if err := s.validateCreate(params); err != nil {
		return CreateResult{}, err
	}

	exists, err := s.repo.HasActive(ctx, params.Group, params.Role, params.Position)
	if err != nil {
		return CreateResult{}, err
	}
	if exists {
		return CreateResult{}, ErrDuplicateRequest
	}

	token, err := s.newToken()
	if err != nil {
		return CreateResult{}, err
	}

	var placements []placement.Placement
	if params.DocumentType == DocSubscription {
		placements, err = s.resolveSubscriptionPlacements(params)
		if err != nil {
			return CreateResult{}, err
		}
	}

	unsignedPath := storage.UnsignedPath(params.Group.ScopeID(), token)
	if _, err := s.store.Upload(ctx, unsignedPath, params.UnsignedPDF, "application/pdf", map[string]string{
		"signer_email": params.SignerEmail,
		"position":     params.Position,
	}); err != nil {
		return CreateResult{}, err
	}

	req := Request{
		DocumentType:   params.DocumentType,
		SignerEmail:    params.SignerEmail,
		SignerName:     params.SignerName,
		SignerUserID:   params.SignerUserID,
		Role:           params.Role,
		Position:       params.Position,
		Status:         StatusPending,
		Token:          token,
		TokenExpiresAt: s.now().Add(TokenTTL),
		UnsignedPath:   unsignedPath,
		Placements:     placements,
		Group:          params.Group,
		EmailVerified:  !params.RequireEmailVerification,
	}

	inserted, err := s.repo.Insert(ctx, req)
	if err != nil {
		return CreateResult{}, err
	}

	link := SigningURL(s.baseURL, token)
	s.audit(ctx, inserted.ID, "SIGNATURE_REQUESTED", map[string]any{
		"position": inserted.Position,
		"role":     inserted.Role,
	})
	s.notify(ctx, "signature.requested", map[string]any{
		"request_id":   inserted.ID,
		"signer_email": inserted.SignerEmail,
		"signing_link": link,
	})

	s.log.Info().
		Str("request_id", inserted.ID).
		Str("document_type", string(inserted.DocumentType)).
		Str("position", inserted.Position).
		Msg("signature request created")

	return CreateResult{Request: inserted, SigningLink: link}, nil
}

func (s *Service) validateCreate(params CreateParams) error {
	if !params.DocumentType.Valid() {
		return fmt.Errorf("signing: invalid document type %q", params.DocumentType)
	}
	if params.SignerEmail == "" || params.SignerName == "" {
		return fmt.Errorf("signing: signer email and name are required")
	}
	if !params.Role.Valid() {
		return fmt.Errorf("signing: invalid role %q", params.Role)
	}
	if params.Position == "" {
		return fmt.Errorf("signing: position is required")
	}
	if len(params.UnsignedPDF) == 0 {
		return fmt.Errorf("signing: unsigned pdf is required")
	}
	return params.Group.Validate()
}

// resolveSubscriptionPlacements mandates anchor detection at creation time.
// A subscription pack without anchors is a broken template, not a
// recoverable condition.
func (s *Service) resolveSubscriptionPlacements(params CreateParams) ([]placement.Placement, error) {
	anchors, err := s.scanner.Scan(params.UnsignedPDF)
	if err != nil {
		return nil, err
	}
	if len(anchors) == 0 {
		return nil, fmt.Errorf("%w (position %s)", ErrBrokenTemplate, params.Position)
	}
	placements, err := s.resolver.Resolve(anchors, params.Position)
	if err != nil {
		return nil, err
	}
	if len(placements) == 0 {
		return nil, fmt.Errorf("%w: no placements for position %s", ErrBrokenTemplate, params.Position)
	}
	return placements, nil
}

// Cancel terminates a pending request by operator action.
func (s *Service) Cancel(ctx context.Context, requestID string) error {
	ok, err := s.repo.MarkCancelled(ctx, requestID)
	if err != nil {
		return err
	}
	if !ok {
		req, err := s.repo.GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		return &NotPendingError{RequestID: requestID, Status: req.Status}
	}
	s.audit(ctx, requestID, "SIGNATURE_CANCELLED", nil)
	return nil
}

// SignedDocumentURL mints a time-limited URL for the signed artifact.
func (s *Service) SignedDocumentURL(ctx context.Context, requestID string, ttl time.Duration) (string, error) {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return "", err
	}
	if req.SignedPath == nil {
		return "", fmt.Errorf("signing: request %s has no signed document", requestID)
	}
	return s.store.SignedURL(*req.SignedPath, ttl)
}

// audit appends an event; failures are logged, not propagated, so the audit
// trail never blocks the workflow.
func (s *Service) audit(ctx context.Context, requestID, eventType string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	if err := s.repo.AppendEvent(ctx, requestID, eventType, payload); err != nil {
		s.log.Warn().Err(err).Str("request_id", requestID).Str("event", eventType).Msg("audit append failed")
	}
}

func (s *Service) notify(ctx context.Context, topic string, payload map[string]any) {
	if err := s.repo.EnqueueOutbox(ctx, topic, payload); err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Msg("outbox enqueue failed")
	}
}
