package analysis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/satindergrewal/pitchcoach/internal/audio"
	"github.com/satindergrewal/pitchcoach/internal/pitch"
)

// Config sizes a Processor.
type Config struct {
	SampleRate float64
	WindowSize int
	// Buffer is the capacity of the output channel. When the consumer falls
	// behind the oldest pending sample is dropped.
	Buffer int
}

// Processor slides a window over captured audio and emits one pitch sample
// per chunk once a full window is available. Process must be called from a
// single goroutine.
type Processor struct {
	cfg Config
	est Estimator
	log *zap.SugaredLogger

	buf      []float32
	cursor   int
	consumed int64

	out     chan pitch.Sample
	dropped atomic.Uint64
	skipped atomic.Uint64

	mu     sync.Mutex
	latest []float32 // copy of the last analysed window
}

// NewProcessor creates a processor. A nil logger discards output.
func NewProcessor(cfg Config, est Estimator, log *zap.SugaredLogger) (*Processor, error) {
	if cfg.WindowSize <= 0 {
		return nil, fmt.Errorf("analysis: window size must be positive, got %d", cfg.WindowSize)
	}
	if !(cfg.SampleRate > 0) {
		return nil, fmt.Errorf("analysis: sample rate must be positive, got %v", cfg.SampleRate)
	}
	if est == nil {
		return nil, fmt.Errorf("analysis: nil estimator")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Processor{
		cfg:    cfg,
		est:    est,
		log:    log,
		buf:    make([]float32, 2*cfg.WindowSize),
		out:    make(chan pitch.Sample, cfg.Buffer),
		latest: make([]float32, cfg.WindowSize),
	}, nil
}

// Samples is the output stream. It is closed when Run returns.
func (p *Processor) Samples() <-chan pitch.Sample { return p.out }

// Dropped counts samples discarded because the consumer was slow.
func (p *Processor) Dropped() uint64 { return p.dropped.Load() }

// Skipped counts windows the estimator failed on.
func (p *Processor) Skipped() uint64 { return p.skipped.Load() }

// Run processes chunks until in is closed or ctx is cancelled, then closes
// the output stream.
func (p *Processor) Run(ctx context.Context, in <-chan audio.Chunk) {
	defer close(p.out)
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-in:
			if !ok {
				return
			}
			p.Process(chunk)
		}
	}
}

// Process appends chunk to the rolling buffer and, when at least WindowSize
// samples are buffered, estimates pitch over the newest WindowSize of them.
// The sample's time is the number of frames consumed so far divided by the
// sample rate.
func (p *Processor) Process(chunk []float32) {
	if len(chunk) == 0 {
		return
	}
	if need := p.cursor + len(chunk); need > len(p.buf) {
		grown := make([]float32, need)
		copy(grown, p.buf[:p.cursor])
		p.buf = grown
	}
	copy(p.buf[p.cursor:], chunk)
	p.cursor += len(chunk)
	p.consumed += int64(len(chunk))

	w := p.cfg.WindowSize
	if p.cursor < w {
		return
	}

	window := p.buf[p.cursor-w : p.cursor]
	p.mu.Lock()
	copy(p.latest, window)
	p.mu.Unlock()

	t := float64(p.consumed) / p.cfg.SampleRate
	hz, clarity, err := p.est.Estimate(window, p.cfg.SampleRate)
	if err != nil {
		p.skipped.Add(1)
		p.log.Warnw("pitch estimate failed, skipping window", "time", t, "error", fmt.Errorf("%w: %v", ErrEstimatorFailure, err))
	} else {
		s := pitch.New(hz, clarity, t)
		if !(hz > 0) {
			s.Pitch = nil
		}
		p.emit(s)
	}

	// Drop the oldest len(chunk) samples so the next full window ends at the
	// next chunk.
	shift := min(len(chunk), p.cursor)
	copy(p.buf, p.buf[shift:p.cursor])
	p.cursor -= shift
}

func (p *Processor) emit(s pitch.Sample) {
	for {
		select {
		case p.out <- s:
			return
		default:
		}
		select {
		case <-p.out:
			p.dropped.Add(1)
		default:
		}
	}
}

// Spectrum returns the magnitude spectrum of the most recent window.
func (p *Processor) Spectrum() Spectrum {
	p.mu.Lock()
	window := make([]float32, len(p.latest))
	copy(window, p.latest)
	p.mu.Unlock()
	return ComputeSpectrum(window, p.cfg.SampleRate)
}
