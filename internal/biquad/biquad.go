// Package biquad implements a Direct-Form-II-Transposed biquad IIR filter
// with RBJ Audio-EQ-Cookbook coefficient derivation.
package biquad

import "math"

// Coefficients holds a normalized biquad's feed-forward (b) and feedback
// (a) taps, with a0 already divided out.
type Coefficients struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// HighPass derives RBJ cookbook high-pass coefficients for cutoff Hz at
// sampleRate Hz using the Butterworth Q (1/√2).
func HighPass(sampleRate, cutoff float64) Coefficients {
	return highPassQ(sampleRate, cutoff, math.Sqrt2/2)
}

func highPassQ(sampleRate, cutoff, q float64) Coefficients {
	w0 := 2 * math.Pi * cutoff / sampleRate
	cosW0 := math.Cos(w0)
	sinW0 := math.Sin(w0)
	alpha := sinW0 / (2 * q)

	b0 := (1 + cosW0) / 2
	b1 := -(1 + cosW0)
	b2 := (1 + cosW0) / 2
	a0 := 1 + alpha
	a1 := -2 * cosW0
	a2 := 1 - alpha

	return Coefficients{
		B0: b0 / a0,
		B1: b1 / a0,
		B2: b2 / a0,
		A1: a1 / a0,
		A2: a2 / a0,
	}
}

// Filter is a Direct-Form-II-Transposed biquad: two state registers, one
// multiply-add per tap, numerically well-behaved for cascaded real-time
// audio use.
type Filter struct {
	c      Coefficients
	z1, z2 float64
}

// New returns a Filter using the given coefficients with zeroed state.
func New(c Coefficients) *Filter {
	return &Filter{c: c}
}

// Reset zeroes the filter's internal state without changing coefficients.
func (f *Filter) Reset() {
	f.z1 = 0
	f.z2 = 0
}

// SetCoefficients replaces the filter's coefficients, leaving state intact.
func (f *Filter) SetCoefficients(c Coefficients) {
	f.c = c
}

// ProcessSample filters a single sample and returns the output.
func (f *Filter) ProcessSample(x float32) float32 {
	in := float64(x)
	out := f.c.B0*in + f.z1
	f.z1 = f.c.B1*in + f.z2 - f.c.A1*out
	f.z2 = f.c.B2*in - f.c.A2*out
	return float32(out)
}

// Process filters frame in place.
func (f *Filter) Process(frame []float32) {
	for i, x := range frame {
		frame[i] = f.ProcessSample(x)
	}
}
