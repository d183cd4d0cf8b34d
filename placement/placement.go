// Package placement maps a signer's position to drawing instructions.
//
// Anchors answer only "which physical page needs this signer's mark"; the
// actual drawing coordinates are fixed per position class and page label.
// Anchors sit at the end of a signature block, below the visible line, so
// anchor-relative offsets were abandoned upstream for producing negative or
// clamped values.
package placement

import "fmt"

// Placement is a durable drawing instruction, frozen on the signature
// request at creation time so re-signing stays deterministic even if the
// resolution logic evolves.
type Placement struct {
	Page  int     `json:"page"`
	X     float64 `json:"x"` // fraction of page width
	Y     float64 `json:"y"` // points from the page bottom
	Label string  `json:"label"`
}

// Class buckets signature positions by the party they represent.
type Class string

const (
	ClassSubscriber Class = "subscriber" // party_a, party_a_2, ...
	ClassIssuer     Class = "issuer"     // party_b
	ClassArranger   Class = "arranger"   // party_c
)

// Page labels name the role a page plays within the document.
const (
	LabelSubscriptionForm = "subscription_form"
	LabelMainAgreement    = "main_agreement"
	LabelAppendix         = "appendix"
	LabelWireInstructions = "wire_instructions"
	LabelTerms            = "terms_and_conditions"
)

// Classify derives the position class from a party slot string.
func Classify(position string) (Class, error) {
	switch {
	case position == "party_b":
		return ClassIssuer, nil
	case position == "party_c":
		return ClassArranger, nil
	case len(position) >= 7 && position[:7] == "party_a":
		return ClassSubscriber, nil
	}
	return "", fmt.Errorf("placement: unknown position %q", position)
}

type expectation struct {
	AnchorID string
	Label    string
}

// expectations lists the anchor identifiers a position may carry, in the
// order placements are emitted.
func expectations(position string, class Class) []expectation {
	switch class {
	case ClassSubscriber:
		return []expectation{
			{position + "_form", LabelSubscriptionForm},
			{position, LabelMainAgreement},
			{position + "_appendix", LabelAppendix},
		}
	case ClassIssuer:
		return []expectation{
			{"party_b_form", LabelSubscriptionForm},
			{"party_b_wire", LabelWireInstructions},
			{"party_b", LabelMainAgreement},
			{"party_b_tcs", LabelTerms},
		}
	case ClassArranger:
		return []expectation{
			{"party_c", LabelMainAgreement},
			{"party_c_tcs", LabelTerms},
		}
	}
	return nil
}
