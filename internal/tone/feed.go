package tone

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/pitchcoach/internal/audio"
)

// Renderer produces audio on demand. *Source implements it.
type Renderer interface {
	Render(out []float32)
}

// Feed renders a source at real-time pace and outputs 20ms frames for
// streaming consumers.
type Feed struct {
	src      Renderer
	frameCh  chan []float32
	interval time.Duration
	log      *zap.SugaredLogger
}

// NewFeed creates a feed over src. A nil logger discards output.
func NewFeed(src Renderer, log *zap.SugaredLogger) *Feed {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Feed{
		src:      src,
		frameCh:  make(chan []float32, 100),
		interval: audio.FrameDuration,
		log:      log,
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (f *Feed) Frames() <-chan []float32 {
	return f.frameCh
}

// Run renders one frame per tick. Blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	defer close(f.frameCh)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.log.Infof("tone feed started (%s frames)", f.interval)
	defer f.log.Infof("tone feed stopped")

	for {
		frame := make([]float32, audio.FrameSamples)
		f.src.Render(frame)
		if !f.sendFrame(ctx, ticker, frame) {
			return
		}
	}
}

// sendFrame waits for the ticker then sends a frame. Returns false on cancel.
func (f *Feed) sendFrame(ctx context.Context, ticker *time.Ticker, frame []float32) bool {
	select {
	case <-ctx.Done():
		return false
	case <-ticker.C:
	}

	select {
	case f.frameCh <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// Tap passes a renderer through to a pull-driven output while handing the
// same samples to emit in FrameSamples-sized frames. The output's clock
// drives both consumers, so the source is rendered exactly once.
type Tap struct {
	src     Renderer
	emit    func([]float32)
	pending []float32
}

// NewTap wraps src. emit receives a fresh slice per frame and must not block.
func NewTap(src Renderer, emit func([]float32)) *Tap {
	return &Tap{src: src, emit: emit, pending: make([]float32, 0, audio.FrameSamples)}
}

// Render fills out from the wrapped renderer and emits every completed frame.
func (t *Tap) Render(out []float32) {
	t.src.Render(out)
	for len(out) > 0 {
		n := min(audio.FrameSamples-len(t.pending), len(out))
		t.pending = append(t.pending, out[:n]...)
		out = out[n:]
		if len(t.pending) == audio.FrameSamples {
			t.emit(t.pending)
			t.pending = make([]float32, 0, audio.FrameSamples)
		}
	}
}
