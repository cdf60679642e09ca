package tone

import "math"

// Node is a sine oscillator with automatable frequency and gain. Its output
// can feed any number of buses and parameters. Node is not safe for
// concurrent use.
type Node struct {
	Frequency *Param
	Gain      *Param

	rate    float64
	phase   float64
	running bool
	busy    bool

	sinks  []*Bus
	params []*Param

	fbuf []float64
	gbuf []float64
}

// NewOscillator creates a stopped oscillator at hz with the given gain.
func NewOscillator(sampleRate, hz, gain float64) *Node {
	return &Node{
		Frequency: NewParam(hz),
		Gain:      NewParam(gain),
		rate:      sampleRate,
	}
}

// ConnectToSink routes the node's output into b. Connecting twice is a no-op.
// Every consumer pulls the node on its own, so the oscillator advances once
// per consumer per render pass.
func (n *Node) ConnectToSink(b *Bus) {
	for _, s := range n.sinks {
		if s == b {
			return
		}
	}
	n.sinks = append(n.sinks, b)
	b.inputs = append(b.inputs, n)
}

// ConnectToParameter adds the node's output to p, sample by sample.
func (n *Node) ConnectToParameter(p *Param) {
	for _, q := range n.params {
		if q == p {
			return
		}
	}
	n.params = append(n.params, p)
	p.connect(n)
}

// DisconnectAll removes every outgoing connection.
func (n *Node) DisconnectAll() {
	for _, b := range n.sinks {
		b.inputs = removeNode(b.inputs, n)
	}
	for _, p := range n.params {
		p.disconnect(n)
	}
	n.sinks = nil
	n.params = nil
}

// Connected reports whether the node has any outgoing connection.
func (n *Node) Connected() bool { return len(n.sinks)+len(n.params) > 0 }

// Start begins oscillation from phase zero.
func (n *Node) Start() {
	n.phase = 0
	n.running = true
}

// Stop silences the oscillator.
func (n *Node) Stop() { n.running = false }

// Running reports whether the oscillator is producing output.
func (n *Node) Running() bool { return n.running }

// Render writes len(out) samples. A stopped node, or one reached again
// through a feedback connection while rendering, writes silence.
func (n *Node) Render(out []float32) {
	if !n.running || n.busy {
		clear(out)
		return
	}
	n.busy = true
	defer func() { n.busy = false }()

	if cap(n.fbuf) < len(out) {
		n.fbuf = make([]float64, len(out))
		n.gbuf = make([]float64, len(out))
	}
	freq, gain := n.fbuf[:len(out)], n.gbuf[:len(out)]
	n.Frequency.render(freq)
	n.Gain.render(gain)

	step := 2 * math.Pi / n.rate
	for i := range out {
		out[i] = float32(gain[i] * math.Sin(n.phase))
		n.phase += step * freq[i]
		if n.phase >= 2*math.Pi || n.phase < 0 {
			n.phase = math.Mod(n.phase, 2*math.Pi)
			if n.phase < 0 {
				n.phase += 2 * math.Pi
			}
		}
	}
}

// Bus sums the output of the nodes connected to it.
type Bus struct {
	inputs  []*Node
	scratch []float32
}

// NewBus creates an empty bus.
func NewBus() *Bus { return &Bus{} }

// Inputs returns the number of connected nodes.
func (b *Bus) Inputs() int { return len(b.inputs) }

// Render mixes every input into out.
func (b *Bus) Render(out []float32) {
	clear(out)
	if cap(b.scratch) < len(out) {
		b.scratch = make([]float32, len(out))
	}
	buf := b.scratch[:len(out)]
	for _, n := range b.inputs {
		n.Render(buf)
		for i, v := range buf {
			out[i] += v
		}
	}
}
