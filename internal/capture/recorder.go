package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/satindergrewal/pitchcoach/internal/analysis"
	"github.com/satindergrewal/pitchcoach/internal/encoder"
	"github.com/satindergrewal/pitchcoach/internal/pitch"
	"github.com/satindergrewal/pitchcoach/internal/stream"
)

// Options configures every session a Recorder starts.
type Options struct {
	Device Device
	Stream StreamConfig

	WindowSize  int // analysis window in samples
	PitchBuffer int // pending pitch samples before the oldest is dropped
	ChunkBuffer int // pending analysis chunks before the oldest is dropped
	Validity    pitch.Validity
	// Estimator overrides the default McLeod estimator. It must be safe to
	// use from the session's analysis goroutine.
	Estimator analysis.Estimator

	Formats  []string // recording MIME preference, most preferred first
	Bitrate  int
	Encoders *encoder.Registry

	// Telemetry, when set, receives every pitch sample as it is recorded.
	Telemetry *stream.Broadcaster[pitch.Sample]
	Log       *zap.SugaredLogger
}

// Recorder owns the idle/active lifecycle: at most one session at a time,
// with Start and Stop serialized. Active and Last never wait on them.
type Recorder struct {
	mu     sync.Mutex // serializes Start and Stop
	opts   Options
	active atomic.Pointer[Session]
	last   atomic.Pointer[Artifact]
	log    *zap.SugaredLogger
}

// NewRecorder validates opts and fills in defaults.
func NewRecorder(opts Options) (*Recorder, error) {
	if opts.Device == nil {
		return nil, errors.New("capture: nil device")
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	if opts.Stream.SampleRate <= 0 {
		return nil, errors.New("capture: sample rate must be positive")
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = analysis.DefaultWindowSize
	}
	if opts.PitchBuffer <= 0 {
		opts.PitchBuffer = 256
	}
	if opts.ChunkBuffer <= 0 {
		opts.ChunkBuffer = stream.DefaultBuffer
	}
	if opts.Validity == (pitch.Validity{}) {
		opts.Validity = pitch.DefaultValidity()
	}
	if opts.Encoders == nil {
		opts.Encoders = encoder.NewRegistry(opts.Log)
	}
	return &Recorder{opts: opts, log: opts.Log}, nil
}

// Start opens a session, or returns the one already active. On failure the
// recorder stays idle.
func (r *Recorder) Start(ctx context.Context) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.active.Load(); s != nil && !s.Stopped() {
		r.log.Debugw("start while active returns current session", "session", s.ID())
		return s, nil
	}
	r.active.Store(nil)

	s, err := open(ctx, r.opts)
	if err != nil {
		r.log.Errorf("capture start failed: %v", err)
		return nil, err
	}
	r.active.Store(s)
	return s, nil
}

// Stop finalizes the active session. With no active session it is a no-op
// returning nil, nil.
func (r *Recorder) Stop(ctx context.Context) (*Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.active.Swap(nil)
	if s == nil {
		r.log.Debugw("stop while idle", "error", ErrInvalidState)
		return nil, nil
	}

	art, err := s.Stop(ctx)
	if art != nil {
		r.last.Store(art)
	}
	return art, err
}

// Active returns the running session, or nil when idle.
func (r *Recorder) Active() *Session {
	s := r.active.Load()
	if s == nil || s.Stopped() {
		return nil
	}
	return s
}

// Last returns the most recent artifact, or nil.
func (r *Recorder) Last() *Artifact {
	return r.last.Load()
}
