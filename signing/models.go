// Package signing implements the signature workflow engine: request
// issuance, the signing state machine, progressive chaining, the workflow
// lock, and the optimistic-locked commit of the signed transition.
package signing

import (
	"fmt"
	"strings"
	"time"

	"fundflow/placement"
)

type DocumentType string

const (
	DocNDA                 DocumentType = "nda"
	DocSubscription        DocumentType = "subscription"
	DocAmendment           DocumentType = "amendment"
	DocIntroducerAgreement DocumentType = "introducer_agreement"
	DocPlacementAgreement  DocumentType = "placement_agreement"
	DocOther               DocumentType = "other"
)

func (d DocumentType) Valid() bool {
	switch d {
	case DocNDA, DocSubscription, DocAmendment, DocIntroducerAgreement, DocPlacementAgreement, DocOther:
		return true
	}
	return false
}

type Role string

const (
	RoleInvestor          Role = "investor"
	RoleAdmin             Role = "admin"
	RoleArranger          Role = "arranger"
	RoleIntroducer        Role = "introducer"
	RoleCommercialPartner Role = "commercial_partner"
)

func (r Role) Valid() bool {
	switch r {
	case RoleInvestor, RoleAdmin, RoleArranger, RoleIntroducer, RoleCommercialPartner:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusSigned    Status = "signed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSigned || s == StatusExpired || s == StatusCancelled
}

// GroupKey ties sibling requests into one logical document. Exactly one
// field is set.
type GroupKey struct {
	WorkflowID            *string
	DocumentID            *string
	IntroducerAgreementID *string
	PlacementAgreementID  *string
}

func (g GroupKey) Validate() error {
	n := 0
	for _, id := range []*string{g.WorkflowID, g.DocumentID, g.IntroducerAgreementID, g.PlacementAgreementID} {
		if id != nil {
			if *id == "" {
				return fmt.Errorf("signing: empty grouping id")
			}
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("signing: exactly one grouping key required, got %d", n)
	}
	return nil
}

// column returns the signature_requests column and value for this key.
func (g GroupKey) column() (string, string) {
	switch {
	case g.WorkflowID != nil:
		return "workflow_id", *g.WorkflowID
	case g.DocumentID != nil:
		return "document_id", *g.DocumentID
	case g.IntroducerAgreementID != nil:
		return "introducer_agreement_id", *g.IntroducerAgreementID
	default:
		return "placement_agreement_id", *g.PlacementAgreementID
	}
}

// ScopeID is the storage path prefix for blobs belonging to this grouping.
func (g GroupKey) ScopeID() string {
	_, id := g.column()
	return id
}

// RequiresLock reports whether submissions in this grouping must serialize
// on the workflow lock. Document-keyed groupings rely solely on the
// conditional commit; agreement groupings are strictly sequential two party
// chains, so only shared workflows can race.
func (g GroupKey) RequiresLock() bool {
	return g.WorkflowID != nil
}

// Request is one signer's obligation to sign one logical document.
type Request struct {
	ID             string
	DocumentType   DocumentType
	SignerEmail    string
	SignerName     string
	SignerUserID   *string
	Role           Role
	Position       string
	Status         Status
	Token          string
	TokenExpiresAt time.Time
	UnsignedPath   string
	SignedPath     *string
	Placements     []placement.Placement
	Group          GroupKey
	EmailVerified  bool
	SignedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsSubscriberPosition reports whether the slot belongs to a subscriber
// (party_a, party_a_2, ...).
func IsSubscriberPosition(position string) bool {
	return strings.HasPrefix(position, "party_a")
}

// IsIssuerPosition reports whether the slot belongs to the issuer side
// (party_b and variants).
func IsIssuerPosition(position string) bool {
	return strings.HasPrefix(position, "party_b")
}
