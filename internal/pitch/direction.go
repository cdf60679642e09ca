package pitch

// DefaultTolerance is the relative band around the target counted as on target.
const DefaultTolerance = 0.02

// Direction is the feedback shown to the singer relative to a target.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionOnTarget
	DirectionLow  // sing higher
	DirectionHigh // sing lower
)

func (d Direction) String() string {
	switch d {
	case DirectionOnTarget:
		return "on_target"
	case DirectionLow:
		return "low"
	case DirectionHigh:
		return "high"
	default:
		return "none"
	}
}

// MarshalText encodes the direction by name for JSON payloads.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DirectionalSignal classifies current against target. The band
// [target*(1-tolerance), target*(1+tolerance)] is inclusive at both edges.
func DirectionalSignal(current *float64, target, tolerance float64) Direction {
	if current == nil || !(target > 0) {
		return DirectionNone
	}
	lo, hi := target*(1-tolerance), target*(1+tolerance)
	switch hz := *current; {
	case hz < lo:
		return DirectionLow
	case hz > hi:
		return DirectionHigh
	default:
		return DirectionOnTarget
	}
}
