package tone

import "github.com/satindergrewal/pitchcoach/internal/audio"

// Param is an automatable per-sample value. Its output is the base value,
// optionally ramping towards a target, plus the summed output of any nodes
// connected to it. Param is not safe for concurrent use; its owner
// serializes access.
type Param struct {
	ramp    audio.Ramp
	inputs  []*Node
	scratch []float32
}

// NewParam creates a parameter holding v.
func NewParam(v float64) *Param {
	return &Param{ramp: audio.NewRamp(v, v, 0)}
}

// Value returns the current base value, excluding modulation.
func (p *Param) Value() float64 { return p.ramp.Value() }

// Target returns the value the parameter is heading to.
func (p *Param) Target() float64 { return p.ramp.To }

// SetValue jumps to v, cancelling any ramp in progress.
func (p *Param) SetValue(v float64) {
	p.ramp = audio.NewRamp(v, v, 0)
}

// RampTo moves smoothly from the current value to v over frames samples.
func (p *Param) RampTo(v float64, frames int) {
	p.ramp = audio.NewRamp(p.ramp.Value(), v, frames)
}

// Ramping reports whether a ramp is still in progress.
func (p *Param) Ramping() bool { return !p.ramp.Done() }

// render advances the parameter by len(dst) samples.
func (p *Param) render(dst []float64) {
	for i := range dst {
		dst[i] = p.ramp.Value()
		p.ramp.Next()
	}
	if len(p.inputs) == 0 {
		return
	}
	if cap(p.scratch) < len(dst) {
		p.scratch = make([]float32, len(dst))
	}
	mod := p.scratch[:len(dst)]
	for _, n := range p.inputs {
		n.Render(mod)
		for i, v := range mod {
			dst[i] += float64(v)
		}
	}
}

func (p *Param) connect(n *Node) {
	for _, in := range p.inputs {
		if in == n {
			return
		}
	}
	p.inputs = append(p.inputs, n)
}

func (p *Param) disconnect(n *Node) {
	p.inputs = removeNode(p.inputs, n)
}

func removeNode(nodes []*Node, n *Node) []*Node {
	for i, in := range nodes {
		if in == n {
			return append(nodes[:i], nodes[i+1:]...)
		}
	}
	return nodes
}
