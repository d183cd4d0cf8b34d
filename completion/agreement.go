package completion

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"fundflow/agreements"
	"fundflow/signing"
)

// AgreementStore is the slice of the agreements repository the chain
// handler needs.
type AgreementStore interface {
	Counterparty(ctx context.Context, kind agreements.Kind, id string) (agreements.Counterparty, error)
	Activate(ctx context.Context, kind agreements.Kind, id, finalPDFPath string) (bool, error)
}

// RequestCreator issues the second party's signature request. Satisfied by
// the signing service.
type RequestCreator interface {
	Create(ctx context.Context, params signing.CreateParams) (signing.CreateResult, error)
}

// AgreementChainHandler drives the sequential two party signing of
// introducer and placement agreements. The first party's completion spawns
// the counterparty's request with the partially executed document as its
// input; the counterparty's completion activates the agreement.
type AgreementChainHandler struct {
	kind             agreements.Kind
	counterpartyRole signing.Role
	store            AgreementStore
	creator          RequestCreator
	log              zerolog.Logger
}

func NewIntroducerHandler(store AgreementStore, creator RequestCreator, log zerolog.Logger) *AgreementChainHandler {
	return &AgreementChainHandler{
		kind:             agreements.KindIntroducer,
		counterpartyRole: signing.RoleIntroducer,
		store:            store,
		creator:          creator,
		log:              log.With().Str("component", "introducer_completion").Logger(),
	}
}

func NewPlacementHandler(store AgreementStore, creator RequestCreator, log zerolog.Logger) *AgreementChainHandler {
	return &AgreementChainHandler{
		kind:             agreements.KindPlacement,
		counterpartyRole: signing.RoleCommercialPartner,
		store:            store,
		creator:          creator,
		log:              log.With().Str("component", "placement_completion").Logger(),
	}
}

func (h *AgreementChainHandler) agreementID(req signing.Request) (string, error) {
	var id *string
	switch h.kind {
	case agreements.KindIntroducer:
		id = req.Group.IntroducerAgreementID
	case agreements.KindPlacement:
		id = req.Group.PlacementAgreementID
	}
	if id == nil {
		return "", fmt.Errorf("%s completion: request %s has no agreement grouping", h.kind, req.ID)
	}
	return *id, nil
}

func (h *AgreementChainHandler) OnAllSignersComplete(ctx context.Context, req signing.Request, signedPDF []byte) (Result, error) {
	id, err := h.agreementID(req)
	if err != nil {
		return Result{}, err
	}

	// The first party signs at party_a; their completion fires while the
	// counterparty's request does not exist yet.
	if req.Position == "party_a" {
		return h.chainCounterparty(ctx, id, req, signedPDF)
	}
	return h.activate(ctx, id, req)
}

func (h *AgreementChainHandler) chainCounterparty(ctx context.Context, id string, req signing.Request, signedPDF []byte) (Result, error) {
	cp, err := h.store.Counterparty(ctx, h.kind, id)
	if err != nil {
		return Result{}, fmt.Errorf("%s completion: %w", h.kind, err)
	}

	group := signing.GroupKey{}
	switch h.kind {
	case agreements.KindIntroducer:
		group.IntroducerAgreementID = &id
	case agreements.KindPlacement:
		group.PlacementAgreementID = &id
	}

	res, err := h.creator.Create(ctx, signing.CreateParams{
		DocumentType: req.DocumentType,
		SignerEmail:  cp.Email,
		SignerName:   cp.Name,
		SignerUserID: cp.UserID,
		Role:         h.counterpartyRole,
		Position:     "party_b",
		Group:        group,
		UnsignedPDF:  signedPDF,
	})
	if err != nil {
		if errors.Is(err, signing.ErrDuplicateRequest) {
			// Replayed completion; the counterparty request already
			// exists.
			return Result{Action: "counterparty_already_requested", Detail: map[string]any{
				"agreement_id": id,
			}}, nil
		}
		return Result{}, fmt.Errorf("%s completion: create counterparty request: %w", h.kind, err)
	}

	h.log.Info().
		Str("agreement_id", id).
		Str("counterparty_request_id", res.Request.ID).
		Str("counterparty_email", cp.Email).
		Msg("counterparty request issued")

	return Result{Action: "counterparty_requested", Detail: map[string]any{
		"agreement_id":            id,
		"counterparty_request_id": res.Request.ID,
	}}, nil
}

func (h *AgreementChainHandler) activate(ctx context.Context, id string, req signing.Request) (Result, error) {
	if req.SignedPath == nil {
		return Result{}, fmt.Errorf("%s completion: request %s has no signed artifact", h.kind, req.ID)
	}

	activated, err := h.store.Activate(ctx, h.kind, id, *req.SignedPath)
	if err != nil {
		return Result{}, fmt.Errorf("%s completion: %w", h.kind, err)
	}
	if !activated {
		h.log.Info().
			Str("agreement_id", id).
			Msg("agreement already active, completion replay")
		return Result{Action: "agreement_already_active", Detail: map[string]any{
			"agreement_id": id,
		}}, nil
	}

	h.log.Info().
		Str("agreement_id", id).
		Str("final_pdf_path", *req.SignedPath).
		Msg("agreement activated")

	return Result{Action: "agreement_activated", Detail: map[string]any{
		"agreement_id": id,
	}}, nil
}
