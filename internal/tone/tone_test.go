package tone

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/pitchcoach/internal/audio"
)

func newSource(t *testing.T, opts Options) *Source {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func vol(v float64) *float64 { return &v }

func peak(buf []float32) float64 {
	var p float64
	for _, v := range buf {
		p = math.Max(p, math.Abs(float64(v)))
	}
	return p
}

func TestNewDefaults(t *testing.T) {
	s := newSource(t, Options{Frequency: 220})
	st := s.State()
	assert.Equal(t, 220.0, st.FrequencyHz)
	assert.Equal(t, DefaultVolume, st.Volume)
	assert.Equal(t, 1, st.HarmonicCount)
	assert.False(t, st.IsPlaying)
}

func TestNewRejectsBadFrequency(t *testing.T) {
	for _, hz := range []float64{0, -5, math.Inf(1), math.NaN()} {
		_, err := New(Options{Frequency: hz})
		assert.Error(t, err, "frequency %v", hz)
	}
}

func TestHarmonicGainsSumToVolume(t *testing.T) {
	s := newSource(t, Options{Frequency: 220, Volume: vol(0.3), Harmonics: 4})
	g := s.Gains()
	require.Len(t, g, 4)

	var sum float64
	for _, v := range g {
		sum += v
	}
	assert.InDelta(t, 0.3, sum, 1e-12)
	assert.InDelta(t, 1.0/32, g[1]/g[0], 1e-12)
	assert.InDelta(t, 1.0/243, g[2]/g[0], 1e-12)
}

func TestHarmonicsAboveCutoffAreMuted(t *testing.T) {
	s := newSource(t, Options{Frequency: 4000, Volume: vol(0.5), Harmonics: 3})
	g := s.Gains()
	assert.Greater(t, g[0], 0.0)
	assert.Greater(t, g[1], 0.0)
	assert.Zero(t, g[2], "12 kHz harmonic is muted")

	require.NoError(t, s.SetFrequency(3000))
	g = s.Gains()
	assert.Greater(t, g[2], 0.0, "9 kHz harmonic is restored")

	require.NoError(t, s.SetFrequency(6000))
	g = s.Gains()
	assert.Greater(t, g[0], 0.0)
	assert.Zero(t, g[1])
	assert.Zero(t, g[2])
}

func TestStartStopIdempotent(t *testing.T) {
	s := newSource(t, Options{Frequency: 440})
	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.True(t, s.State().IsPlaying)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.False(t, s.State().IsPlaying)
}

func TestRenderSilentWhenStopped(t *testing.T) {
	s := newSource(t, Options{Frequency: 440})
	buf := make([]float32, 512)
	for i := range buf {
		buf[i] = 1
	}
	s.Render(buf)
	assert.Zero(t, peak(buf))
}

func TestRenderProducesTone(t *testing.T) {
	const rate, hz = 48000.0, 1000.0
	s := newSource(t, Options{SampleRate: rate, Frequency: hz, Volume: vol(0.5)})
	require.NoError(t, s.Start())

	buf := make([]float32, 4800)
	s.Render(buf)
	assert.InDelta(t, 0.5, peak(buf), 1e-3)

	crossings := 0
	for i := 1; i < len(buf); i++ {
		if buf[i-1] < 0 && buf[i] >= 0 {
			crossings++
		}
	}
	// 100ms of 1 kHz
	assert.InDelta(t, 100, crossings, 1)
}

func TestSetVolumeRamps(t *testing.T) {
	const rate = 48000.0
	s := newSource(t, Options{SampleRate: rate, Frequency: 1000, Volume: vol(0.5)})
	require.NoError(t, s.Start())
	require.NoError(t, s.SetVolume(0, 10*time.Millisecond))
	assert.Equal(t, 0.0, s.State().Volume)

	// first half of the ramp is still audible
	buf := make([]float32, 240)
	s.Render(buf)
	assert.Greater(t, peak(buf), 0.2)

	// after the 480-sample ramp the tone is silent
	rest := make([]float32, 240)
	s.Render(rest)
	tail := make([]float32, 480)
	s.Render(tail)
	assert.Less(t, peak(tail), 1e-6)
}

func TestSetVolumeClamps(t *testing.T) {
	s := newSource(t, Options{Frequency: 220, Harmonics: 2})
	require.NoError(t, s.SetVolume(3, 0))
	assert.Equal(t, 1.0, s.State().Volume)
	require.NoError(t, s.SetVolume(-1, 0))
	assert.Equal(t, 0.0, s.State().Volume)
}

func TestSetVolumeZeroTransitionIsInstant(t *testing.T) {
	s := newSource(t, Options{Frequency: 220})
	require.NoError(t, s.SetVolume(0.5, 0))
	g := s.nodes[0].Gain
	assert.False(t, g.Ramping())
	assert.Equal(t, 0.5, g.Value())
}

func TestSetVolumeDefaultTransition(t *testing.T) {
	s := newSource(t, Options{SampleRate: 48000, Frequency: 220})
	require.NoError(t, s.SetVolume(0.5, TransitionDefault))
	g := s.nodes[0].Gain
	assert.True(t, g.Ramping())

	buf := make([]float64, 4799)
	g.render(buf)
	assert.True(t, g.Ramping(), "default ramp lasts 100ms")
	g.render(make([]float64, 1))
	assert.False(t, g.Ramping())
	assert.Equal(t, 0.5, g.Value())
}

func TestZeroVolumeOptionIsRespected(t *testing.T) {
	s := newSource(t, Options{Frequency: 220, Volume: vol(0), Harmonics: 2})
	assert.Equal(t, 0.0, s.State().Volume)
	assert.Equal(t, []float64{0, 0}, s.Gains())
}

func TestSetFrequencyKeepsVolumeRamp(t *testing.T) {
	s := newSource(t, Options{SampleRate: 48000, Frequency: 220, Volume: vol(0.1)})
	require.NoError(t, s.Start())
	require.NoError(t, s.SetVolume(1, 100*time.Millisecond))
	s.Render(make([]float32, 48))

	g := s.nodes[0].Gain
	before := g.Value()
	require.NoError(t, s.SetFrequency(230))
	assert.True(t, g.Ramping(), "retune must not cut the ramp short")
	assert.Equal(t, before, g.Value())
	assert.Equal(t, 1.0, g.Target())
	assert.Less(t, g.Value(), 0.2)
}

func TestSetFrequencyCrossingCutoffDuringRamp(t *testing.T) {
	s := newSource(t, Options{SampleRate: 48000, Frequency: 4000, Volume: vol(0.1), Harmonics: 2})
	require.NoError(t, s.Start())
	require.NoError(t, s.SetVolume(1, 100*time.Millisecond))
	s.Render(make([]float32, 48))

	require.NoError(t, s.SetFrequency(6000))
	fundamental, second := s.nodes[0].Gain, s.nodes[1].Gain
	assert.True(t, fundamental.Ramping())
	assert.False(t, second.Ramping(), "12 kHz harmonic is clipped at once")
	assert.Zero(t, second.Value())

	require.NoError(t, s.SetFrequency(4000))
	assert.False(t, second.Ramping())
	assert.InDelta(t, s.weights[1], second.Value(), 1e-12, "restored to its weighted gain")
}

func TestDisposeIsTerminal(t *testing.T) {
	s := newSource(t, Options{Frequency: 220, Harmonics: 3})
	require.NoError(t, s.Start())
	require.NoError(t, s.Dispose())

	assert.True(t, s.Disposed())
	assert.False(t, s.State().IsPlaying)
	assert.ErrorIs(t, s.Start(), ErrDisposed)
	assert.ErrorIs(t, s.Stop(), ErrDisposed)
	assert.ErrorIs(t, s.SetFrequency(330), ErrDisposed)
	assert.ErrorIs(t, s.SetVolume(0.2, 0), ErrDisposed)
	assert.ErrorIs(t, s.Dispose(), ErrDisposed)

	buf := []float32{1, 1, 1}
	s.Render(buf)
	assert.Zero(t, peak(buf))
	for _, n := range s.nodes {
		assert.False(t, n.Connected())
		assert.False(t, n.Running())
	}
}

func TestSetFrequencyWhileStoppedApplies(t *testing.T) {
	s := newSource(t, Options{Frequency: 220})
	require.NoError(t, s.SetFrequency(330))
	require.NoError(t, s.Start())
	assert.Equal(t, 330.0, s.State().FrequencyHz)
	assert.Equal(t, 330.0, s.nodes[0].Frequency.Value())
}

func TestNodeConnections(t *testing.T) {
	bus := NewBus()
	n := NewOscillator(48000, 440, 1)
	n.ConnectToSink(bus)
	n.ConnectToSink(bus)
	assert.Equal(t, 1, bus.Inputs())

	p := NewParam(0)
	n.ConnectToParameter(p)
	n.ConnectToParameter(p)
	assert.Len(t, p.inputs, 1)

	n.DisconnectAll()
	assert.Equal(t, 0, bus.Inputs())
	assert.Empty(t, p.inputs)
	assert.False(t, n.Connected())
}

func TestNodeModulatesParameter(t *testing.T) {
	lfo := NewOscillator(48000, 5, 10)
	ref := NewOscillator(48000, 5, 10)
	lfo.Start()
	ref.Start()

	p := NewParam(440)
	lfo.ConnectToParameter(p)

	got := make([]float64, 256)
	p.render(got)
	want := make([]float32, 256)
	ref.Render(want)
	for i := range got {
		assert.InDelta(t, 440+float64(want[i]), got[i], 1e-4)
	}
}

func TestNodeFeedbackRendersSilence(t *testing.T) {
	n := NewOscillator(48000, 440, 1)
	n.ConnectToParameter(n.Frequency)
	n.Start()
	buf := make([]float32, 64)
	n.Render(buf) // must not recurse forever
	assert.LessOrEqual(t, peak(buf), 1.0)
}

func TestParamRamp(t *testing.T) {
	p := NewParam(1)
	p.RampTo(0, 4)
	assert.True(t, p.Ramping())
	assert.Equal(t, 0.0, p.Target())
	buf := make([]float64, 5)
	p.render(buf)
	assert.Equal(t, 1.0, buf[0])
	assert.Equal(t, 0.0, buf[4])
	assert.False(t, p.Ramping())

	p.SetValue(7)
	assert.Equal(t, 7.0, p.Value())
}

func TestFeedEmitsFrames(t *testing.T) {
	s := newSource(t, Options{Frequency: 440})
	require.NoError(t, s.Start())
	f := NewFeed(s, nil)
	f.interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go f.Run(ctx)

	for i := 0; i < 3; i++ {
		select {
		case frame := <-f.Frames():
			assert.Len(t, frame, audio.FrameSamples)
			assert.Greater(t, peak(frame), 0.0)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for frame")
		}
	}
	cancel()

	// channel is closed once Run returns
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-f.Frames():
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

type counter struct{ n float32 }

func (c *counter) Render(out []float32) {
	for i := range out {
		c.n++
		out[i] = c.n
	}
}

func TestTapReframesDeviceBlocks(t *testing.T) {
	src := &counter{}
	var frames [][]float32
	tap := NewTap(src, func(f []float32) { frames = append(frames, f) })

	var played []float32
	block := make([]float32, 300)
	for i := 0; i < 10; i++ {
		tap.Render(block)
		played = append(played, block...)
	}

	require.Len(t, frames, 3000/audio.FrameSamples)
	for i, f := range frames {
		require.Len(t, f, audio.FrameSamples)
		assert.Equal(t, played[i*audio.FrameSamples:(i+1)*audio.FrameSamples], f)
	}
	assert.Equal(t, float32(3000), src.n, "each sample is rendered once")
}

func TestTapSharesOneRenderPath(t *testing.T) {
	s := newSource(t, Options{Frequency: 220, Transition: 50 * time.Millisecond})
	require.NoError(t, s.Start())
	ref := newSource(t, Options{Frequency: 220, Transition: 50 * time.Millisecond})
	require.NoError(t, ref.Start())

	var streamed []float32
	tap := NewTap(s, func(f []float32) { streamed = append(streamed, f...) })
	played := make([]float32, 2*audio.FrameSamples)
	tap.Render(played)

	want := make([]float32, 2*audio.FrameSamples)
	ref.Render(want)
	assert.Equal(t, want, played)
	assert.Equal(t, want, streamed)
}
