// Package monitor produces the live preview while recording: every interval
// it averages the most recent pitch samples and compares them against the
// target.
package monitor

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/pitchcoach/internal/note"
	"github.com/satindergrewal/pitchcoach/internal/pitch"
	"github.com/satindergrewal/pitchcoach/internal/stream"
)

// Reading is one preview update.
type Reading struct {
	Time         float64         `json:"time"`
	Pitch        *float64        `json:"pitch"`
	Note         string          `json:"note"`
	Cents        float64         `json:"cents"` // offset from Note
	TargetHz     float64         `json:"targetHz"`
	TargetCents  float64         `json:"targetCents"` // offset from TargetHz
	Direction    pitch.Direction `json:"direction"`
	SampleWindow int             `json:"sampleWindow"` // raw samples averaged
}

// AggregatorFunc returns the statistics of the active recording, or nil
// when idle.
type AggregatorFunc func() *pitch.Aggregator

// Config tunes the preview.
type Config struct {
	Interval  time.Duration
	TargetHz  float64
	Tolerance float64
}

// Monitor publishes a Reading every interval while a recording is active.
type Monitor struct {
	source AggregatorFunc
	out    *stream.Broadcaster[Reading]
	cfg    Config
	log    *zap.SugaredLogger

	mu       sync.RWMutex
	target   float64
	latest   Reading
	lastTime float64
}

// New creates a monitor over source publishing to out.
func New(source AggregatorFunc, out *stream.Broadcaster[Reading], cfg Config, log *zap.SugaredLogger) *Monitor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = pitch.DefaultTolerance
	}
	return &Monitor{source: source, out: out, cfg: cfg, log: log, target: cfg.TargetHz, lastTime: -1}
}

// SetTarget changes the frequency readings are compared against.
func (m *Monitor) SetTarget(hz float64) {
	m.mu.Lock()
	m.target = hz
	m.mu.Unlock()
}

// Target returns the current target frequency.
func (m *Monitor) Target() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.target
}

// Latest returns the most recent reading.
func (m *Monitor) Latest() Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Run ticks until ctx is cancelled. It always returns nil so it can run in
// an errgroup next to the server.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.log.Infof("live preview every %s", m.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if r, ok := m.Tick(); ok {
				m.out.Publish(r)
			}
		}
	}
}

// Tick computes one reading. ok is false when idle or when no new sample
// arrived since the previous tick.
func (m *Monitor) Tick() (Reading, bool) {
	agg := m.source()
	if agg == nil {
		return Reading{}, false
	}
	last, ok := agg.LastSample()
	if !ok {
		return Reading{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if last.Time == m.lastTime {
		return Reading{}, false
	}
	m.lastTime = last.Time

	n := WindowSize(agg.EmissionRate(), m.cfg.Interval)
	r := Reading{Time: last.Time, TargetHz: m.target, SampleWindow: n, Note: "--"}
	if avg, ok := agg.RecentAveragePitch(n); ok {
		r.Pitch = pitch.Hz(avg)
		r.Note, r.Cents = note.Nearest(avg)
		r.TargetCents = note.Cents(avg, m.target)
	}
	r.Direction = pitch.DirectionalSignal(r.Pitch, m.target, m.cfg.Tolerance)
	m.latest = r
	return r, true
}

// WindowSize is the number of raw samples emitted during interval at rate,
// at least one.
func WindowSize(rate float64, interval time.Duration) int {
	n := int(math.Floor(rate * interval.Seconds()))
	if n < 1 {
		return 1
	}
	return n
}
