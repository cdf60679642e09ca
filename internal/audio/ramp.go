package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// Ramp moves a value from From to To over Frames samples along a smoothstep
// curve. A zero-length ramp jumps straight to To.
type Ramp struct {
	From   float64
	To     float64
	Frames int
	pos    int
}

// NewRamp starts a ramp from the current value towards target.
func NewRamp(from, to float64, frames int) Ramp {
	if frames < 0 {
		frames = 0
	}
	return Ramp{From: from, To: to, Frames: frames}
}

// Next advances the ramp by one sample and returns the new value.
func (r *Ramp) Next() float64 {
	if r.pos >= r.Frames {
		return r.To
	}
	r.pos++
	return r.From + (r.To-r.From)*Smoothstep(float64(r.pos)/float64(r.Frames))
}

// Value returns the current value without advancing.
func (r *Ramp) Value() float64 {
	if r.Frames == 0 || r.pos >= r.Frames {
		return r.To
	}
	return r.From + (r.To-r.From)*Smoothstep(float64(r.pos)/float64(r.Frames))
}

// Done reports whether the ramp has reached its target.
func (r *Ramp) Done() bool {
	return r.pos >= r.Frames
}
