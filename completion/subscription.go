package completion

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"fundflow/contract"
	"fundflow/signing"
)

// ContractStore is the slice of the contract repository the subscription
// handler needs.
type ContractStore interface {
	ContractForDocument(ctx context.Context, documentID string) (string, error)
	CommitIfAwaiting(ctx context.Context, id string) (bool, error)
	FeeEventsExist(ctx context.Context, contractID string) (bool, error)
	InsertFeeEvents(ctx context.Context, contractID string, events []contract.FeeEvent) error
}

// SubscriptionHandler commits the underlying contract once the full
// subscription pack is executed and materializes its fee schedule. Both
// steps are guarded so a replayed completion changes nothing.
type SubscriptionHandler struct {
	contracts ContractStore
	fees      contract.FeeComputer
	log       zerolog.Logger
}

func NewSubscriptionHandler(contracts ContractStore, fees contract.FeeComputer, log zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		contracts: contracts,
		fees:      fees,
		log:       log.With().Str("component", "subscription_completion").Logger(),
	}
}

func (h *SubscriptionHandler) OnAllSignersComplete(ctx context.Context, req signing.Request, _ []byte) (Result, error) {
	if req.Group.DocumentID == nil {
		return Result{}, fmt.Errorf("subscription completion: request %s has no document grouping", req.ID)
	}

	contractID, err := h.contracts.ContractForDocument(ctx, *req.Group.DocumentID)
	if err != nil {
		return Result{}, fmt.Errorf("subscription completion: %w", err)
	}

	committed, err := h.contracts.CommitIfAwaiting(ctx, contractID)
	if err != nil {
		return Result{}, fmt.Errorf("subscription completion: commit contract %s: %w", contractID, err)
	}
	if !committed {
		// Already committed by an earlier delivery; fee events were
		// written then too.
		h.log.Info().
			Str("request_id", req.ID).
			Str("contract_id", contractID).
			Msg("contract already committed, completion replay")
		return Result{Action: "contract_already_committed", Detail: map[string]any{
			"contract_id": contractID,
		}}, nil
	}

	if err := h.materializeFees(ctx, contractID); err != nil {
		return Result{}, err
	}

	h.log.Info().
		Str("request_id", req.ID).
		Str("contract_id", contractID).
		Msg("contract committed")

	return Result{Action: "contract_committed", Detail: map[string]any{
		"contract_id": contractID,
	}}, nil
}

func (h *SubscriptionHandler) materializeFees(ctx context.Context, contractID string) error {
	exists, err := h.contracts.FeeEventsExist(ctx, contractID)
	if err != nil {
		return fmt.Errorf("subscription completion: check fee events: %w", err)
	}
	if exists {
		return nil
	}

	events, err := h.fees.ComputeFeeEvents(ctx, contractID)
	if err != nil {
		return fmt.Errorf("subscription completion: compute fee events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}
	if err := h.contracts.InsertFeeEvents(ctx, contractID, events); err != nil {
		return fmt.Errorf("subscription completion: insert fee events: %w", err)
	}
	return nil
}
