package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/satindergrewal/pitchcoach/internal/audio"
	"github.com/satindergrewal/pitchcoach/internal/capture"
)

// Capture opens microphone streams. Each stream gets its own miniaudio
// context, released when the stream is closed.
type Capture struct {
	name string // empty selects the system default
	log  *zap.SugaredLogger
}

// NewCapture returns a capture device for the named input.
func NewCapture(name string, log *zap.SugaredLogger) *Capture {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Capture{name: name, log: log}
}

// Open implements capture.Device.
func (c *Capture) Open(ctx context.Context, cfg capture.StreamConfig, onData func([]float32)) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.EchoCancellation || cfg.NoiseSuppression {
		c.log.Warnw("input processing not available, capturing raw signal",
			"echo_cancellation", cfg.EchoCancellation,
			"noise_suppression", cfg.NoiseSuppression)
	}

	mctx, err := newContext(c.log)
	if err != nil {
		return nil, err
	}

	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.Capture.Format = malgo.FormatF32
	dc.Capture.Channels = 1
	dc.SampleRate = uint32(cfg.SampleRate)
	dc.Alsa.NoMMap = 1
	if err := selectDevice(mctx, malgo.Capture, c.name, &dc); err != nil {
		return nil, multierr.Append(err, freeContext(mctx))
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) == 0 {
				return
			}
			onData(audio.BytesToFloat32(input))
		},
	}
	dev, err := malgo.InitDevice(mctx.Context, dc, callbacks)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("init capture device: %w", err), freeContext(mctx))
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, multierr.Append(fmt.Errorf("start capture device: %w", err), freeContext(mctx))
	}

	rate := float64(dev.SampleRate())
	c.log.Infow("capture device started", "device", c.name, "sample_rate", rate)
	return &captureStream{ctx: mctx, dev: dev, rate: rate, log: c.log}, nil
}

type captureStream struct {
	ctx  *malgo.AllocatedContext
	dev  *malgo.Device
	rate float64
	log  *zap.SugaredLogger

	stopOnce  sync.Once
	closeOnce sync.Once
}

func (s *captureStream) SampleRate() float64 { return s.rate }

func (s *captureStream) StopTracks() error {
	var err error
	s.stopOnce.Do(func() {
		if e := s.dev.Stop(); e != nil {
			err = fmt.Errorf("stop capture device: %w", e)
		}
	})
	return err
}

func (s *captureStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.StopTracks()
		s.dev.Uninit()
		err = multierr.Append(err, freeContext(s.ctx))
		s.log.Debugw("capture device closed")
	})
	return err
}
