// Package tone synthesizes the reference tone: a fundamental plus a few
// quickly decaying harmonics, mixed on a bus that playback pulls from.
package tone

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/satindergrewal/pitchcoach/internal/audio"
)

const (
	DefaultVolume     = 0.1
	DefaultHarmonics  = 1
	DefaultCutoffHz   = 10000.0
	DefaultTransition = 100 * time.Millisecond

	// TransitionDefault asks SetVolume for the source's configured
	// transition. A zero transition changes the volume instantly.
	TransitionDefault time.Duration = -1

	// harmonicDecay is the exponent of the 1/(k+1)^n weight curve.
	harmonicDecay = 5
)

var ErrDisposed = errors.New("tone source is disposed")

// Options configures a Source. Zero values take the defaults above; a nil
// Volume means DefaultVolume.
type Options struct {
	SampleRate float64
	Frequency  float64
	Volume     *float64
	Harmonics  int
	CutoffHz   float64
	Transition time.Duration
}

// State is a snapshot of a Source.
type State struct {
	FrequencyHz   float64 `json:"frequencyHz"`
	Volume        float64 `json:"volume"`
	HarmonicCount int     `json:"harmonicCount"`
	IsPlaying     bool    `json:"isPlaying"`
}

// Source is a multi-harmonic tone generator. The k-th oscillator (k from 0)
// plays f*(k+1) with weight 1/(k+1)^5; weights are scaled so the gains sum
// to the volume. Harmonics above the cutoff are muted.
//
// All methods are safe for concurrent use; Render is typically called from
// the playback callback.
type Source struct {
	mu sync.Mutex

	rate       float64
	cutoff     float64
	transition time.Duration

	freq     float64
	volume   float64
	weights  []float64
	nodes    []*Node
	out      *Bus
	playing  bool
	disposed bool
}

// New creates a stopped source.
func New(opts Options) (*Source, error) {
	if opts.SampleRate == 0 {
		opts.SampleRate = audio.SampleRate
	}
	volume := DefaultVolume
	if opts.Volume != nil {
		volume = *opts.Volume
	}
	if opts.Harmonics == 0 {
		opts.Harmonics = DefaultHarmonics
	}
	if opts.CutoffHz == 0 {
		opts.CutoffHz = DefaultCutoffHz
	}
	if opts.Transition == 0 {
		opts.Transition = DefaultTransition
	}
	switch {
	case !(opts.SampleRate > 0):
		return nil, fmt.Errorf("tone: invalid sample rate %v", opts.SampleRate)
	case !validFrequency(opts.Frequency):
		return nil, fmt.Errorf("tone: invalid frequency %v", opts.Frequency)
	case opts.Harmonics < 0:
		return nil, fmt.Errorf("tone: invalid harmonic count %d", opts.Harmonics)
	}

	s := &Source{
		rate:       opts.SampleRate,
		cutoff:     opts.CutoffHz,
		transition: opts.Transition,
		freq:       opts.Frequency,
		volume:     clampVolume(volume),
		weights:    harmonicWeights(opts.Harmonics),
		out:        NewBus(),
	}
	for k := range s.weights {
		n := NewOscillator(s.rate, s.freq*float64(k+1), s.gain(k, s.freq, s.volume))
		n.ConnectToSink(s.out)
		s.nodes = append(s.nodes, n)
	}
	return s, nil
}

// harmonicWeights returns 1/(k+1)^5 normalized to sum to one.
func harmonicWeights(n int) []float64 {
	w := make([]float64, n)
	var sum float64
	for k := range w {
		w[k] = 1 / math.Pow(float64(k+1), harmonicDecay)
		sum += w[k]
	}
	for k := range w {
		w[k] /= sum
	}
	return w
}

func (s *Source) gain(k int, freq, volume float64) float64 {
	if s.aboveCutoff(k, freq) {
		return 0
	}
	return volume * s.weights[k]
}

func (s *Source) aboveCutoff(k int, freq float64) bool {
	return freq*float64(k+1) > s.cutoff
}

// Start begins playback. Starting a playing source is a no-op.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	if s.playing {
		return nil
	}
	for _, n := range s.nodes {
		n.Start()
	}
	s.playing = true
	return nil
}

// Stop halts playback. Stopping a stopped source is a no-op.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.stopLocked()
	return nil
}

func (s *Source) stopLocked() {
	for _, n := range s.nodes {
		n.Stop()
	}
	s.playing = false
}

// SetFrequency retunes every harmonic. Harmonics that cross the cutoff are
// muted or restored to their weighted gain at once; the others keep any
// volume ramp in progress.
func (s *Source) SetFrequency(hz float64) error {
	if !validFrequency(hz) {
		return fmt.Errorf("tone: invalid frequency %v", hz)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	prev := s.freq
	s.freq = hz
	for k, n := range s.nodes {
		n.Frequency.SetValue(hz * float64(k+1))
		if s.aboveCutoff(k, prev) != s.aboveCutoff(k, hz) {
			n.Gain.SetValue(s.gain(k, hz, s.volume))
		}
	}
	return nil
}

// SetVolume clamps v to [0,1] and ramps every harmonic to its new gain over
// transition. TransitionDefault (any negative value) uses the source
// default; zero applies the change at once.
func (s *Source) SetVolume(v float64, transition time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	if transition < 0 {
		transition = s.transition
	}
	frames := int(transition.Seconds() * s.rate)
	s.volume = clampVolume(v)
	for k, n := range s.nodes {
		n.Gain.RampTo(s.gain(k, s.freq, s.volume), frames)
	}
	return nil
}

// Dispose stops the source and releases its graph. Every later call returns
// ErrDisposed; Render writes silence.
func (s *Source) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	s.stopLocked()
	for _, n := range s.nodes {
		n.DisconnectAll()
	}
	s.disposed = true
	return nil
}

// Render writes the next len(out) samples of the tone.
func (s *Source) Render(out []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		clear(out)
		return
	}
	s.out.Render(out)
}

// State returns a snapshot of the source.
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		FrequencyHz:   s.freq,
		Volume:        s.volume,
		HarmonicCount: len(s.nodes),
		IsPlaying:     s.playing,
	}
}

// Gains returns the current gain target of each harmonic.
func (s *Source) Gains() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := make([]float64, len(s.nodes))
	for k, n := range s.nodes {
		g[k] = n.Gain.Target()
	}
	return g
}

// Disposed reports whether Dispose has been called.
func (s *Source) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func validFrequency(hz float64) bool {
	return hz > 0 && !math.IsInf(hz, 0)
}

func clampVolume(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
