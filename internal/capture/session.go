package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/satindergrewal/pitchcoach/internal/analysis"
	"github.com/satindergrewal/pitchcoach/internal/audio"
	"github.com/satindergrewal/pitchcoach/internal/encoder"
	"github.com/satindergrewal/pitchcoach/internal/pitch"
	"github.com/satindergrewal/pitchcoach/internal/stream"
)

// Session is one active capture. The device callback only copies chunks into
// a broadcaster; an analysis goroutine turns them into pitch samples, a
// collector appends those to the sequence, and a recording goroutine feeds
// every chunk to the encoder.
type Session struct {
	id        uuid.UUID
	startedAt time.Time
	log       *zap.SugaredLogger

	stream     Stream
	rate       float64
	chunks     *stream.Broadcaster[audio.Chunk]
	recordSink *stream.Listener[audio.Chunk]
	proc       *analysis.Processor
	seq        *pitch.Sequence
	agg        *pitch.Aggregator
	enc        encoder.Encoder
	telemetry  *stream.Broadcaster[pitch.Sample]

	cancelRun    context.CancelFunc
	analysisDone chan struct{}
	recordDone   chan struct{}
	writeErr     error // owned by the recording goroutine until recordDone

	stopping  atomic.Bool
	stopped   chan struct{}
	closeOnce sync.Once
}

// open acquires the device and starts the session goroutines.
func open(ctx context.Context, opts Options) (*Session, error) {
	s := &Session{
		id:           uuid.New(),
		log:          opts.Log,
		chunks:       stream.NewBroadcaster[audio.Chunk](),
		telemetry:    opts.Telemetry,
		analysisDone: make(chan struct{}),
		recordDone:   make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	s.log = s.log.With("session", s.id.String())

	// Subscribe before the device starts so no chunk is missed.
	analysisSink := s.chunks.Subscribe(opts.ChunkBuffer)
	s.recordSink = s.chunks.SubscribeLossless()

	st, err := opts.Device.Open(ctx, opts.Stream, s.onData)
	if err != nil {
		s.chunks.Close()
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	s.stream = st
	s.startedAt = time.Now()
	s.rate = st.SampleRate()
	if !(s.rate > 0) {
		s.rate = float64(opts.Stream.SampleRate)
	}

	fail := func(err error) (*Session, error) {
		s.chunks.Close()
		err = multierr.Append(err, st.StopTracks())
		err = multierr.Append(err, st.Close())
		return nil, err
	}

	s.enc, err = opts.Encoders.Negotiate(opts.Formats, encoder.Params{
		SampleRate: int(s.rate),
		Channels:   1,
		Bitrate:    opts.Bitrate,
	})
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrEncoderFailure, err))
	}

	est := opts.Estimator
	if est == nil {
		est = analysis.NewMPM(opts.WindowSize)
	}
	s.proc, err = analysis.NewProcessor(analysis.Config{
		SampleRate: s.rate,
		WindowSize: opts.WindowSize,
		Buffer:     opts.PitchBuffer,
	}, est, s.log)
	if err != nil {
		return fail(err)
	}

	s.seq = pitch.NewSequence(opts.PitchBuffer)
	s.agg = pitch.NewAggregator(s.seq, opts.Validity)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancelRun = cancel
	go s.proc.Run(runCtx, analysisSink.C)
	go s.collect()
	go s.record()

	s.log.Infow("capture started",
		"sample_rate", s.rate,
		"encoding", s.enc.MimeType(),
		"window", opts.WindowSize)
	return s, nil
}

// onData runs on the device thread.
func (s *Session) onData(in []float32) {
	if len(in) == 0 {
		return
	}
	chunk := make(audio.Chunk, len(in))
	copy(chunk, in)
	s.chunks.Publish(chunk)
}

func (s *Session) collect() {
	defer close(s.analysisDone)
	for sample := range s.proc.Samples() {
		if err := s.seq.Append(sample); err != nil {
			s.log.Warnw("pitch sample rejected", "time", sample.Time, "error", err)
			continue
		}
		if s.telemetry != nil {
			s.telemetry.Publish(sample)
		}
	}
}

func (s *Session) record() {
	defer close(s.recordDone)
	for chunk := range s.recordSink.C {
		if s.writeErr != nil {
			continue
		}
		if err := s.enc.Write(chunk); err != nil {
			s.writeErr = err
			s.log.Errorf("recording write failed: %v", err)
		}
	}
}

// ID identifies the session.
func (s *Session) ID() uuid.UUID { return s.id }

// StartedAt is when the device stream opened.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// SampleRate is the rate delivered by the device.
func (s *Session) SampleRate() float64 { return s.rate }

// Aggregator exposes live statistics over the session's samples.
func (s *Session) Aggregator() *pitch.Aggregator { return s.agg }

// Spectrum returns the frequency-domain view of the latest analysis window.
func (s *Session) Spectrum() analysis.Spectrum { return s.proc.Spectrum() }

// MimeType is the negotiated recording encoding.
func (s *Session) MimeType() string { return s.enc.MimeType() }

// Stopped reports whether Stop has been called.
func (s *Session) Stopped() bool { return s.stopping.Load() }

// Done is closed once Stop has released every resource.
func (s *Session) Done() <-chan struct{} { return s.stopped }

// Stop ends the session in a fixed order: input tracks stop, both sinks
// drain, the encoder finalizes, then the device context is closed. Every
// captured chunk reaches the encoder regardless of ctx; ctx only bounds the
// wait for pending pitch analysis. Hardware
// is released even when encoding fails, in which case the error wraps
// ErrEncoderFailure and no artifact is returned. Release errors that do not
// affect the recording are returned alongside the artifact.
//
// Only the first call does any work; later or concurrent calls return nil,
// nil.
func (s *Session) Stop(ctx context.Context) (*Artifact, error) {
	if !s.stopping.CompareAndSwap(false, true) {
		s.log.Debugw("stop ignored", "error", ErrInvalidState)
		return nil, nil
	}
	defer close(s.stopped)

	var errs error
	if err := s.stream.StopTracks(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("stop tracks: %w", err))
	}

	s.chunks.Close()
	if err := s.drain(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}

	data, encErr := s.enc.Finalize()
	if encErr == nil && s.writeErr != nil {
		encErr = s.writeErr
	}

	s.closeOnce.Do(func() {
		if err := s.stream.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close device: %w", err))
		}
	})
	s.seq.Freeze()
	duration := time.Since(s.startedAt)

	if encErr != nil {
		errs = multierr.Append(fmt.Errorf("%w: %w", ErrEncoderFailure, encErr), errs)
		s.log.Errorf("capture stopped without recording: %v", errs)
		return nil, errs
	}

	art := &Artifact{
		ID:             s.id,
		EncodedAudio:   data,
		MimeType:       s.enc.MimeType(),
		Samples:        s.seq.Snapshot(),
		CleanedSamples: s.agg.CleanedSamples(),
		StartedAt:      s.startedAt,
		Duration:       duration,
	}
	if avg, ok := s.agg.AveragePitch(); ok {
		art.AveragePitch = &avg
	}

	s.log.Infow("capture stopped",
		"duration", duration,
		"samples", len(art.Samples),
		"bytes", len(data),
		"dropped_samples", s.proc.Dropped())
	if errs != nil {
		s.log.Warnw("capture released with errors", "error", errs)
	}
	return art, errs
}

// drain waits for both sinks to consume everything published before Stop.
// The recording sink is always drained in full. If ctx ends first, the
// pending analysis backlog is abandoned and an error says so.
func (s *Session) drain(ctx context.Context) error {
	defer s.cancelRun()

	var err error
	select {
	case <-s.analysisDone:
	case <-ctx.Done():
		s.cancelRun()
		<-s.analysisDone
		err = fmt.Errorf("pitch analysis abandoned: %w", ctx.Err())
	}
	<-s.recordDone
	return err
}
