package pitch

// Aggregator derives statistics from a sequence. It reads snapshots only and
// is safe to use while the sequence is still growing.
type Aggregator struct {
	seq      *Sequence
	validity Validity
}

// NewAggregator binds statistics to seq using the given cleaning thresholds.
func NewAggregator(seq *Sequence, v Validity) *Aggregator {
	return &Aggregator{seq: seq, validity: v}
}

// Validity returns the cleaning thresholds in use.
func (a *Aggregator) Validity() Validity { return a.validity }

// Samples returns the raw samples recorded so far.
func (a *Aggregator) Samples() []Sample { return a.seq.Snapshot() }

// CleanedSamples returns every sample mapped through the cleaning predicate.
// The result has the same length and timestamps as the raw sequence.
func (a *Aggregator) CleanedSamples() []Sample {
	return a.validity.CleanAll(a.seq.Snapshot())
}

// AveragePitch is the mean over clean samples.
func (a *Aggregator) AveragePitch() (float64, bool) {
	return a.validity.Mean(a.seq.Snapshot())
}

// RecentAveragePitch is the mean over the clean samples among the last n raw
// samples. A window holding no clean sample yields ok=false.
func (a *Aggregator) RecentAveragePitch(n int) (float64, bool) {
	if n <= 0 {
		return 0, false
	}
	snap := a.seq.Snapshot()
	if n < len(snap) {
		snap = snap[len(snap)-n:]
	}
	return a.validity.Mean(snap)
}

// LastSample returns the most recent raw sample.
func (a *Aggregator) LastSample() (Sample, bool) {
	snap := a.seq.Snapshot()
	if len(snap) == 0 {
		return Sample{}, false
	}
	return snap[len(snap)-1], true
}

// EmissionRate estimates samples per second from the recorded timestamps.
// It returns 0 until two samples exist.
func (a *Aggregator) EmissionRate() float64 {
	snap := a.seq.Snapshot()
	if len(snap) < 2 {
		return 0
	}
	span := snap[len(snap)-1].Time - snap[0].Time
	if span <= 0 {
		return 0
	}
	return float64(len(snap)-1) / span
}
