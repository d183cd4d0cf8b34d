package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fundflow/identity"
	"fundflow/signing"
)

// signingService is the slice of the signing service the handlers use.
type signingService interface {
	Create(ctx context.Context, params signing.CreateParams) (signing.CreateResult, error)
	Submit(ctx context.Context, params signing.SubmitParams) (signing.Request, error)
	Cancel(ctx context.Context, requestID string) error
	SignedDocumentURL(ctx context.Context, requestID string, ttl time.Duration) (string, error)
}

type verificationService interface {
	IssueCode(ctx context.Context, token string) (string, error)
	ConfirmCode(ctx context.Context, token, code string) error
}

type Server struct {
	signing      signingService
	verification verificationService
	log          zerolog.Logger
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/signature-requests", s.handleSignatureRequests)
	mux.HandleFunc("/api/signature-requests/", s.handleSignatureRequestDetail)
	mux.HandleFunc("/api/sign/", s.handleSign)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type createRequestPayload struct {
	DocumentType             string  `json:"documentType"`
	SignerEmail              string  `json:"signerEmail"`
	SignerName               string  `json:"signerName"`
	SignerUserID             *string `json:"signerUserId"`
	Role                     string  `json:"role"`
	Position                 string  `json:"position"`
	WorkflowID               *string `json:"workflowId"`
	DocumentID               *string `json:"documentId"`
	IntroducerAgreementID    *string `json:"introducerAgreementId"`
	PlacementAgreementID     *string `json:"placementAgreementId"`
	UnsignedPDFB64           string  `json:"unsignedPdf"`
	RequireEmailVerification bool    `json:"requireEmailVerification"`
}

type requestResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	DocumentType   string `json:"documentType"`
	SignerEmail    string `json:"signerEmail"`
	Position       string `json:"position"`
	SigningLink    string `json:"signingLink,omitempty"`
	TokenExpiresAt string `json:"tokenExpiresAt"`
}

func (s *Server) handleSignatureRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload createRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pdf, err := decodePDF(payload.UnsignedPDFB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsignedPdf must be base64-encoded")
		return
	}

	for _, id := range []*string{payload.WorkflowID, payload.DocumentID, payload.IntroducerAgreementID, payload.PlacementAgreementID} {
		if id != nil && uuid.Validate(*id) != nil {
			writeError(w, http.StatusBadRequest, "grouping ids must be UUIDs")
			return
		}
	}

	res, err := s.signing.Create(r.Context(), signing.CreateParams{
		DocumentType: signing.DocumentType(payload.DocumentType),
		SignerEmail:  payload.SignerEmail,
		SignerName:   payload.SignerName,
		SignerUserID: payload.SignerUserID,
		Role:         signing.Role(payload.Role),
		Position:     payload.Position,
		Group: signing.GroupKey{
			WorkflowID:            payload.WorkflowID,
			DocumentID:            payload.DocumentID,
			IntroducerAgreementID: payload.IntroducerAgreementID,
			PlacementAgreementID:  payload.PlacementAgreementID,
		},
		UnsignedPDF:              pdf,
		RequireEmailVerification: payload.RequireEmailVerification,
	})
	if err != nil {
		s.writeSigningError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, requestResponse{
		ID:             res.Request.ID,
		Status:         string(res.Request.Status),
		DocumentType:   string(res.Request.DocumentType),
		SignerEmail:    res.Request.SignerEmail,
		Position:       res.Request.Position,
		SigningLink:    res.SigningLink,
		TokenExpiresAt: res.Request.TokenExpiresAt.Format(time.RFC3339),
	})
}

func (s *Server) handleSignatureRequestDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/signature-requests/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "request id required")
		return
	}
	id := parts[0]
	if uuid.Validate(id) != nil {
		writeError(w, http.StatusBadRequest, "request id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleCancel(w, r, id)
	case len(parts) == 2 && parts[1] == "document" && r.Method == http.MethodGet:
		s.handleDocumentURL(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.signing.Cancel(r.Context(), id); err != nil {
		s.writeSigningError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(signing.StatusCancelled)})
}

func (s *Server) handleDocumentURL(w http.ResponseWriter, r *http.Request, id string) {
	url, err := s.signing.SignedDocumentURL(r.Context(), id, 15*time.Minute)
	if err != nil {
		s.writeSigningError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type submitPayload struct {
	SignatureImage string `json:"signatureImage"`
	IdentityToken  string `json:"identityToken"`
}

type verifyPayload struct {
	Code string `json:"code"`
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sign/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	token := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodPost:
		s.handleSubmit(w, r, token)
	case len(parts) == 2 && parts[1] == "verification" && r.Method == http.MethodPost:
		s.handleIssueCode(w, r, token)
	case len(parts) == 2 && parts[1] == "verify" && r.Method == http.MethodPost:
		s.handleVerify(w, r, token)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleIssueCode generates a verification code for the token's request.
// The code is delivered out-of-band, never in the response.
func (s *Server) handleIssueCode(w http.ResponseWriter, r *http.Request, token string) {
	if _, err := s.verification.IssueCode(r.Context(), token); err != nil {
		s.log.Error().Err(err).Msg("issue verification code")
		writeError(w, http.StatusConflict, "could not issue verification code")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, token string) {
	var payload submitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := s.signing.Submit(r.Context(), signing.SubmitParams{
		Token:             token,
		SignatureImageB64: payload.SignatureImage,
		ActorAssertion:    payload.IdentityToken,
	})
	if err != nil {
		s.writeSigningError(w, err)
		return
	}

	resp := requestResponse{
		ID:           req.ID,
		Status:       string(req.Status),
		DocumentType: string(req.DocumentType),
		SignerEmail:  req.SignerEmail,
		Position:     req.Position,
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleVerify confirms the email verification code bound to the token's
// request. The request id is resolved service-side from the token.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request, token string) {
	var payload verifyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.verification.ConfirmCode(r.Context(), token, payload.Code); err != nil {
		switch {
		case errors.Is(err, identity.ErrCodeMismatch):
			writeError(w, http.StatusForbidden, "verification code mismatch")
		case errors.Is(err, identity.ErrNoVerification):
			writeError(w, http.StatusNotFound, "no verification pending")
		default:
			s.log.Error().Err(err).Msg("confirm verification code")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

func (s *Server) writeSigningError(w http.ResponseWriter, err error) {
	var notPending *signing.NotPendingError
	var orderErr *signing.OrderError

	switch {
	case errors.Is(err, signing.ErrNotFound):
		writeError(w, http.StatusNotFound, "signature request not found")
	case errors.Is(err, signing.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, "an active request already exists for this signer slot")
	case errors.Is(err, signing.ErrTokenExpired):
		writeError(w, http.StatusGone, "signing link has expired")
	case errors.Is(err, signing.ErrWrongSigner):
		writeError(w, http.StatusForbidden, "signing link belongs to a different account")
	case errors.Is(err, signing.ErrEmailUnverified):
		writeError(w, http.StatusForbidden, "email verification required before signing")
	case errors.Is(err, signing.ErrBrokenTemplate):
		writeError(w, http.StatusUnprocessableEntity, "document template has no signature anchors")
	case errors.As(err, &orderErr):
		writeError(w, http.StatusConflict, orderErr.Error())
	case errors.As(err, &notPending):
		writeError(w, http.StatusConflict, notPending.Error())
	case signing.Retryable(err):
		writeError(w, http.StatusConflict, "another submission is in flight, retry shortly")
	default:
		s.log.Error().Err(err).Msg("signing operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodePDF(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, errors.New("empty document")
	}
	return base64.StdEncoding.DecodeString(b64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
