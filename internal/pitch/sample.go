// Package pitch holds the pitch telemetry model: timestamped samples, the
// append-only sequence a capture session records them into, the cleaning
// predicate and the statistics derived from them.
package pitch

import "math"

// Sample is one pitch estimate. A nil Pitch means no usable estimate for the
// frame. Time is seconds since the capture stream started.
type Sample struct {
	Pitch   *float64 `json:"pitch"`
	Clarity float64  `json:"clarity"`
	Time    float64  `json:"time"`
}

// Hz wraps a frequency for Sample.Pitch. Non-finite values map to nil.
func Hz(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// New builds a sample, clamping clarity into [0,1].
func New(hz, clarity, t float64) Sample {
	return Sample{Pitch: Hz(hz), Clarity: clampUnit(clarity), Time: t}
}

// Value returns the pitch and whether one is present.
func (s Sample) Value() (float64, bool) {
	if s.Pitch == nil {
		return 0, false
	}
	return *s.Pitch, true
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
