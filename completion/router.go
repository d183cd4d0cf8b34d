// Package completion reacts to fully executed documents. Handlers are keyed
// by document type and run after the signature itself is committed; a
// handler failure never unwinds the signature.
package completion

import (
	"context"

	"github.com/rs/zerolog"

	"fundflow/signing"
)

// Result describes what a handler did, for the audit trail.
type Result struct {
	Action string
	Detail map[string]any
}

// Handler runs once every required signer on a document has signed.
// Implementations must tolerate replays: the same completion can be
// delivered more than once.
type Handler interface {
	OnAllSignersComplete(ctx context.Context, req signing.Request, signedPDF []byte) (Result, error)
}

// Router dispatches completions by document type. Unregistered types fall
// through to a no-op so new document types never block signing.
type Router struct {
	handlers map[signing.DocumentType]Handler
	log      zerolog.Logger
}

func NewRouter(log zerolog.Logger) *Router {
	return &Router{
		handlers: make(map[signing.DocumentType]Handler),
		log:      log.With().Str("component", "completion_router").Logger(),
	}
}

func (r *Router) Register(docType signing.DocumentType, h Handler) *Router {
	r.handlers[docType] = h
	return r
}

// OnDocumentComplete satisfies the signing service's router contract.
func (r *Router) OnDocumentComplete(ctx context.Context, req signing.Request, signedPDF []byte) error {
	h, ok := r.handlers[req.DocumentType]
	if !ok {
		r.log.Info().
			Str("request_id", req.ID).
			Str("document_type", string(req.DocumentType)).
			Msg("no completion handler registered, skipping")
		return nil
	}

	res, err := h.OnAllSignersComplete(ctx, req, signedPDF)
	if err != nil {
		return err
	}

	r.log.Info().
		Str("request_id", req.ID).
		Str("document_type", string(req.DocumentType)).
		Str("action", res.Action).
		Msg("completion handled")
	return nil
}
