// Package capture owns a recording session: one input stream fanned out to a
// lossy real-time analysis path and a lossless recording path, and the
// ordered teardown that turns the session into an Artifact.
package capture

import (
	"context"
	"errors"
)

var (
	// ErrDeviceUnavailable is returned by Start when the input device cannot
	// be acquired. The recorder stays idle.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrEncoderFailure is returned by Stop when the recording could not be
	// encoded. Hardware is released regardless.
	ErrEncoderFailure = errors.New("recording encoder failed")
	// ErrInvalidState marks operations that do not apply to the current
	// lifecycle state. It is logged, never returned to callers.
	ErrInvalidState = errors.New("invalid recorder state")
)

// StreamConfig requests an input stream. Processing flags mirror the
// constraints a browser or OS capture stack understands; devices that cannot
// honor them ignore them.
type StreamConfig struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultStreamConfig returns the raw-voice configuration: no echo
// cancellation or noise suppression, automatic gain on.
func DefaultStreamConfig(sampleRate int) StreamConfig {
	return StreamConfig{
		SampleRate:       sampleRate,
		Channels:         1,
		EchoCancellation: false,
		NoiseSuppression: false,
		AutoGainControl:  true,
	}
}

// Device opens input streams. onData is called from the device's real-time
// thread with mono float PCM; it must not block and must not retain the
// slice.
type Device interface {
	Open(ctx context.Context, cfg StreamConfig, onData func([]float32)) (Stream, error)
}

// Stream is an open input stream.
type Stream interface {
	// SampleRate is the rate actually delivered, which may differ from the
	// requested one.
	SampleRate() float64
	// StopTracks stops delivery of new data.
	StopTracks() error
	// Close releases the device context.
	Close() error
}
