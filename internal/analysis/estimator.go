// Package analysis turns a capture stream into pitch samples. A Processor
// keeps a rolling window over incoming chunks and runs an Estimator over the
// most recent WindowSize samples each time a chunk arrives.
package analysis

import "errors"

// DefaultWindowSize is the number of samples each estimate looks at.
const DefaultWindowSize = 2048

// ErrEstimatorFailure wraps errors returned by an Estimator. The processor
// skips the window and keeps going.
var ErrEstimatorFailure = errors.New("pitch estimator failed")

// Estimator returns the fundamental frequency of window and a clarity in
// [0,1]. A zero frequency means no pitch was found.
type Estimator interface {
	Estimate(window []float32, sampleRate float64) (hz, clarity float64, err error)
}

// EstimatorFunc adapts a plain function to Estimator.
type EstimatorFunc func(window []float32, sampleRate float64) (float64, float64, error)

func (f EstimatorFunc) Estimate(window []float32, sampleRate float64) (float64, float64, error) {
	return f(window, sampleRate)
}
