package analysis

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// mpmCutoff selects the first key maximum within this fraction of the
	// highest one.
	mpmCutoff = 0.9
	// silenceEnergy is the r(0) below which a window is treated as silent.
	silenceEnergy = 1e-9
)

// MPM is a McLeod pitch method estimator for a fixed window size. The
// autocorrelation is computed through a zero-padded FFT so each estimate is
// O(n log n). An MPM is not safe for concurrent use.
type MPM struct {
	size   int
	fft    *fourier.FFT
	padded []float64
	coeff  []complex128
	acf    []float64
	nsdf   []float64
}

// NewMPM prepares an estimator for windows of size samples.
func NewMPM(size int) *MPM {
	n := 2 * size
	return &MPM{
		size:   size,
		fft:    fourier.NewFFT(n),
		padded: make([]float64, n),
		coeff:  make([]complex128, n/2+1),
		acf:    make([]float64, n),
		nsdf:   make([]float64, size),
	}
}

// Size returns the window length the estimator expects.
func (m *MPM) Size() int { return m.size }

// Estimate implements Estimator.
func (m *MPM) Estimate(window []float32, sampleRate float64) (float64, float64, error) {
	if len(window) != m.size {
		return 0, 0, fmt.Errorf("mpm: window has %d samples, want %d", len(window), m.size)
	}
	if !(sampleRate > 0) {
		return 0, 0, fmt.Errorf("mpm: invalid sample rate %v", sampleRate)
	}

	n := m.size
	var energy float64
	for i, v := range window {
		x := float64(v)
		m.padded[i] = x
		energy += x * x
	}
	for i := n; i < len(m.padded); i++ {
		m.padded[i] = 0
	}
	if energy < silenceEnergy {
		return 0, 0, nil
	}

	m.autocorrelate()
	m.normalize(window)

	period, clarity, ok := m.pickPeak()
	if !ok || period <= 0 {
		return 0, 0, nil
	}
	clarity = math.Min(math.Max(clarity, 0), 1)
	return sampleRate / period, clarity, nil
}

// autocorrelate fills acf[:size] with r(τ) = Σ x[j]x[j+τ].
func (m *MPM) autocorrelate() {
	m.fft.Coefficients(m.coeff, m.padded)
	for i, c := range m.coeff {
		a := cmplx.Abs(c)
		m.coeff[i] = complex(a*a, 0)
	}
	m.fft.Sequence(m.acf, m.coeff)
	// gonum does not normalize the inverse transform.
	scale := 1 / float64(len(m.padded))
	for i := range m.acf[:m.size] {
		m.acf[i] *= scale
	}
}

// normalize computes n'(τ) = 2r(τ)/m(τ) with m(τ) = Σ x[j]² + x[j+τ]²,
// updated incrementally from m(0) = 2r(0).
func (m *MPM) normalize(window []float32) {
	msum := 2 * m.acf[0]
	for tau := 0; tau < m.size; tau++ {
		if tau > 0 {
			a := float64(window[tau-1])
			b := float64(window[m.size-tau])
			msum -= a*a + b*b
		}
		if msum > 0 {
			m.nsdf[tau] = 2 * m.acf[tau] / msum
		} else {
			m.nsdf[tau] = 0
		}
	}
}

// pickPeak finds the highest maximum in each positive lobe after the first
// zero crossing, then returns the first one above mpmCutoff times the best.
func (m *MPM) pickPeak() (period, clarity float64, ok bool) {
	nsdf := m.nsdf
	type peak struct {
		tau int
		val float64
	}
	var maxima []peak

	tau := 1
	for tau < len(nsdf) && nsdf[tau] > 0 {
		tau++
	}
	for tau < len(nsdf) && nsdf[tau] <= 0 {
		tau++
	}
	for tau < len(nsdf) {
		best := peak{tau: tau, val: nsdf[tau]}
		for tau < len(nsdf) && nsdf[tau] > 0 {
			if nsdf[tau] > best.val {
				best = peak{tau: tau, val: nsdf[tau]}
			}
			tau++
		}
		// A lobe cut off by the end of the window has no confirmed maximum.
		if tau < len(nsdf) {
			maxima = append(maxima, best)
		}
		for tau < len(nsdf) && nsdf[tau] <= 0 {
			tau++
		}
	}
	if len(maxima) == 0 {
		return 0, 0, false
	}

	highest := maxima[0].val
	for _, p := range maxima[1:] {
		highest = math.Max(highest, p.val)
	}
	threshold := mpmCutoff * highest
	for _, p := range maxima {
		if p.val >= threshold {
			x, y := interpolate(nsdf, p.tau)
			return x, y, true
		}
	}
	return 0, 0, false
}

// interpolate fits a parabola through tau and its neighbours and returns the
// vertex.
func interpolate(y []float64, tau int) (float64, float64) {
	if tau <= 0 || tau >= len(y)-1 {
		return float64(tau), y[tau]
	}
	a, b, c := y[tau-1], y[tau], y[tau+1]
	den := a - 2*b + c
	if den == 0 {
		return float64(tau), b
	}
	shift := 0.5 * (a - c) / den
	return float64(tau) + shift, b - 0.25*(a-c)*shift
}
