package placement

// Calibration carries the empirically tuned drawing constants for the
// current document templates. These are configuration data, not logic: the
// resolver only looks values up by class and label.
type Calibration struct {
	// XFractions maps class -> page label -> column fraction. The empty
	// label is the per-class default.
	XFractions map[Class]map[string]float64
	// YOffsets maps page label -> points from the page bottom.
	YOffsets map[string]float64
	DefaultY float64
	// MinPlacements is the expected per-class placement count; falling
	// short is a warning, documents may validly omit optional pages.
	MinPlacements map[Class]int
}

// DefaultCalibration returns the constants tuned against the production
// subscription pack template.
func DefaultCalibration() Calibration {
	return Calibration{
		XFractions: map[Class]map[string]float64{
			ClassSubscriber: {LabelSubscriptionForm: 0.70, "": 0.50},
			ClassIssuer:     {"": 0.25},
			ClassArranger:   {"": 0.70},
		},
		YOffsets: map[string]float64{
			LabelWireInstructions: 260,
		},
		DefaultY: 180,
		MinPlacements: map[Class]int{
			ClassSubscriber: 2,
			ClassIssuer:     4,
			ClassArranger:   2,
		},
	}
}

func (c Calibration) xFor(class Class, label string) float64 {
	byLabel := c.XFractions[class]
	if x, ok := byLabel[label]; ok {
		return x
	}
	return byLabel[""]
}

func (c Calibration) yFor(label string) float64 {
	if y, ok := c.YOffsets[label]; ok {
		return y
	}
	return c.DefaultY
}
