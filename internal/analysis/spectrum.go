package analysis

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// minDecibels floors silent bins so the output never contains -Inf.
const minDecibels = -160.0

// Spectrum is a magnitude snapshot of one analysis window.
type Spectrum struct {
	BinHz    float64   `json:"binHz"`
	Decibels []float64 `json:"decibels"`
}

// Peak returns the frequency of the loudest bin, ignoring DC.
func (s Spectrum) Peak() float64 {
	if len(s.Decibels) < 2 {
		return 0
	}
	return float64(floats.MaxIdx(s.Decibels[1:])+1) * s.BinHz
}

// ComputeSpectrum applies a Hann window to samples and returns per-bin
// magnitudes in dBFS.
func ComputeSpectrum(samples []float32, sampleRate float64) Spectrum {
	n := len(samples)
	if n == 0 || !(sampleRate > 0) {
		return Spectrum{}
	}

	x := make([]float64, n)
	for i, v := range samples {
		x[i] = float64(v)
	}
	floats.Mul(x, hann(n))

	coeff := fourier.NewFFT(n).Coefficients(nil, x)
	db := make([]float64, len(coeff))
	// Sum of Hann weights is n/2; scale so a full-scale sine reads 0 dB.
	norm := 2 / (float64(n) / 2)
	for i, c := range coeff {
		mag := cmplx.Abs(c) * norm
		if mag > 0 {
			db[i] = math.Max(20*math.Log10(mag), minDecibels)
		} else {
			db[i] = minDecibels
		}
	}
	return Spectrum{BinHz: sampleRate / float64(n), Decibels: db}
}

func hann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}
