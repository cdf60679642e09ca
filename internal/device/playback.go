package device

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/satindergrewal/pitchcoach/internal/audio"
	"github.com/satindergrewal/pitchcoach/internal/tone"
)

// Playback pulls audio from a renderer on the output device's thread.
type Playback struct {
	ctx *malgo.AllocatedContext
	dev *malgo.Device
	log *zap.SugaredLogger

	closeOnce sync.Once
}

// StartPlayback opens the named output (empty for the default) at
// sampleRate and starts rendering r into it.
func StartPlayback(name string, sampleRate int, r tone.Renderer, log *zap.SugaredLogger) (*Playback, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	mctx, err := newContext(log)
	if err != nil {
		return nil, err
	}

	dc := malgo.DefaultDeviceConfig(malgo.Playback)
	dc.Playback.Format = malgo.FormatF32
	dc.Playback.Channels = 1
	dc.SampleRate = uint32(sampleRate)
	if err := selectDevice(mctx, malgo.Playback, name, &dc); err != nil {
		return nil, multierr.Append(err, freeContext(mctx))
	}

	var scratch []float32
	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			scratch = fillOutput(output, r, scratch)
		},
	}
	dev, err := malgo.InitDevice(mctx.Context, dc, callbacks)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("init playback device: %w", err), freeContext(mctx))
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, multierr.Append(fmt.Errorf("start playback device: %w", err), freeContext(mctx))
	}

	log.Infow("playback device started", "device", name, "sample_rate", dev.SampleRate())
	return &Playback{ctx: mctx, dev: dev, log: log}, nil
}

// fillOutput renders len(out)/4 samples from r into out as little-endian
// float32 and returns the scratch buffer for reuse.
func fillOutput(out []byte, r tone.Renderer, scratch []float32) []float32 {
	n := len(out) / 4
	if cap(scratch) < n {
		scratch = make([]float32, n)
	}
	buf := scratch[:n]
	r.Render(buf)
	audio.Float32ToBytes(out, buf)
	return scratch
}

// Close stops and releases the output device.
func (p *Playback) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.dev.Stop()
		p.dev.Uninit()
		err = multierr.Append(err, freeContext(p.ctx))
		p.log.Infow("playback device closed")
	})
	return err
}
