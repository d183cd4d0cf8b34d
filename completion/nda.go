package completion

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"fundflow/dataroom"
	"fundflow/signing"
	"fundflow/storage"
)

// GrantStore is the slice of the data-room repository the NDA handler needs.
type GrantStore interface {
	Create(ctx context.Context, params dataroom.CreateParams) (dataroom.Grant, error)
}

// NDAHandler archives the executed NDA and opens the data room for the
// signer. Archive and grant are independent effects; one failing does not
// skip the other.
type NDAHandler struct {
	store        storage.Store
	grants       GrantStore
	accessWindow time.Duration
	log          zerolog.Logger
	now          func() time.Time
}

func NewNDAHandler(store storage.Store, grants GrantStore, log zerolog.Logger) *NDAHandler {
	return &NDAHandler{
		store:        store,
		grants:       grants,
		accessWindow: dataroom.DefaultAccessWindow,
		log:          log.With().Str("component", "nda_completion").Logger(),
		now:          time.Now,
	}
}

func (h *NDAHandler) WithAccessWindow(d time.Duration) *NDAHandler { h.accessWindow = d; return h }

func (h *NDAHandler) WithClock(now func() time.Time) *NDAHandler { h.now = now; return h }

func (h *NDAHandler) OnAllSignersComplete(ctx context.Context, req signing.Request, signedPDF []byte) (Result, error) {
	var errs *multierror.Error

	archivePath := storage.ArchivePath(req.Group.ScopeID(), req.Token)
	if _, err := h.store.Upload(ctx, archivePath, signedPDF, "application/pdf", map[string]string{
		"request_id":   req.ID,
		"signer_email": req.SignerEmail,
	}); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("archive executed nda: %w", err))
	}

	grant, err := h.grants.Create(ctx, dataroom.CreateParams{
		RequestID:    req.ID,
		GranteeEmail: req.SignerEmail,
		DocumentPath: archivePath,
		ExpiresAt:    h.now().Add(h.accessWindow),
	})
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("grant data room access: %w", err))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return Result{}, err
	}

	h.log.Info().
		Str("request_id", req.ID).
		Str("grant_id", grant.ID).
		Str("grantee", req.SignerEmail).
		Time("expires_at", grant.ExpiresAt).
		Msg("data room opened")

	return Result{Action: "dataroom_granted", Detail: map[string]any{
		"grant_id":     grant.ID,
		"archive_path": archivePath,
	}}, nil
}
