package placement

import (
	"github.com/rs/zerolog"

	"fundflow/anchor"
)

// Resolver turns a scanned anchor set into placements for one position.
type Resolver struct {
	cal Calibration
	log zerolog.Logger
}

func NewResolver(cal Calibration, log zerolog.Logger) *Resolver {
	return &Resolver{
		cal: cal,
		log: log.With().Str("component", "placement_resolver").Logger(),
	}
}

// Resolve returns placement instructions for the given position. Only the
// anchor's page number is used; X and Y come from the calibration table.
// Missing optional anchors are skipped with a warning. An empty result is
// returned as-is; the caller decides whether that is fatal.
func (r *Resolver) Resolve(anchors []anchor.Anchor, position string) ([]Placement, error) {
	class, err := Classify(position)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]anchor.Anchor, len(anchors))
	for _, a := range anchors {
		if _, seen := byID[a.ID]; !seen {
			byID[a.ID] = a
		}
	}

	expected := expectations(position, class)
	placements := make([]Placement, 0, len(expected))
	for _, exp := range expected {
		a, ok := byID[exp.AnchorID]
		if !ok {
			r.log.Warn().
				Str("position", position).
				Str("anchor_id", exp.AnchorID).
				Msg("expected anchor not found, skipping")
			continue
		}
		placements = append(placements, Placement{
			Page:  a.Page,
			X:     r.cal.xFor(class, exp.Label),
			Y:     r.cal.yFor(exp.Label),
			Label: exp.Label,
		})
	}

	if min := r.cal.MinPlacements[class]; len(placements) > 0 && len(placements) < min {
		r.log.Warn().
			Str("position", position).
			Int("placements", len(placements)).
			Int("expected_min", min).
			Msg("fewer placements than expected for position class")
	}

	return placements, nil
}
