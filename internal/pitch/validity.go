package pitch

// Default cleaning thresholds. Frequencies outside the singing range or
// estimates the detector is unsure about are excluded from statistics.
const (
	DefaultMinHz      = 80.0
	DefaultMaxHz      = 1000.0
	DefaultMinClarity = 0.75
)

// Validity decides whether a sample is clean: MinHz < pitch < MaxHz and
// clarity > MinClarity, all bounds exclusive.
type Validity struct {
	MinHz      float64
	MaxHz      float64
	MinClarity float64
}

// DefaultValidity returns the default cleaning thresholds.
func DefaultValidity() Validity {
	return Validity{MinHz: DefaultMinHz, MaxHz: DefaultMaxHz, MinClarity: DefaultMinClarity}
}

// Clean reports whether s passes the predicate.
func (v Validity) Clean(s Sample) bool {
	hz, ok := s.Value()
	return ok && hz > v.MinHz && hz < v.MaxHz && s.Clarity > v.MinClarity
}

// Apply returns s unchanged when clean, otherwise a copy with no pitch and
// zero clarity at the same time.
func (v Validity) Apply(s Sample) Sample {
	if v.Clean(s) {
		return s
	}
	return Sample{Pitch: nil, Clarity: 0, Time: s.Time}
}

// CleanAll maps every sample through Apply.
func (v Validity) CleanAll(samples []Sample) []Sample {
	out := make([]Sample, len(samples))
	for i, s := range samples {
		out[i] = v.Apply(s)
	}
	return out
}

// Mean averages the clean pitches in samples. ok is false when there are
// none.
func (v Validity) Mean(samples []Sample) (mean float64, ok bool) {
	var sum float64
	n := 0
	for _, s := range samples {
		if !v.Clean(s) {
			continue
		}
		sum += *s.Pitch
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
