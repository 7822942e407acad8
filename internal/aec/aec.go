// Package aec implements a frequency-domain adaptive filter (FDAF) acoustic
// echo canceller: an overlap-save block adaptive filter running in two
// variants — a single constrained FBLMS block (Block, this file) and a
// partitioned multi-block filter for longer echo tails (PartitionedBlock,
// in partitioned.go).
//
// Usage:
//
//	canceller := aec.NewBlock(512)
//
//	// In the playback path, after filling the far-end output buffer:
//	canceller.FeedFarEnd(refBlock)
//
//	// In the capture path:
//	out := canceller.Process(micBlock)
package aec

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// DefaultMu is the FDAF step size.
	DefaultMu = 0.1
	// DefaultAlpha is the power-spectrum smoothing coefficient.
	DefaultAlpha = 0.9
	// DefaultEps is the normalization floor added to the smoothed power
	// spectrum to avoid division blow-up on near-silent bins.
	DefaultEps = 1e-2
	// DefaultLeaky is the per-update leak applied to the filter weights,
	// keeping them from drifting unboundedly under DC/near-DC excitation.
	DefaultLeaky = 0.9999
)

// Block is a single-block overlap-save constrained FDAF echo canceller.
// The filter length equals the block size M; the FFT length is 2M.
type Block struct {
	enabled bool

	m, n int // block size M, FFT size N = 2M
	mu, alpha, eps, leaky float64

	fft *fourier.CmplxFFT

	farHist []complex128 // last two far-end blocks, length N
	weights []complex128 // adaptive filter in the frequency domain, length N
	power   []float64    // smoothed |X|^2 per bin, length N
}

// NewBlock returns a Block FDAF canceller for blocks of blockSize samples.
func NewBlock(blockSize int) *Block {
	n := blockSize * 2
	return &Block{
		enabled: true,
		m:       blockSize,
		n:       n,
		mu:      DefaultMu,
		alpha:   DefaultAlpha,
		eps:     DefaultEps,
		leaky:   DefaultLeaky,
		fft:     fourier.NewCmplxFFT(n),
		farHist: make([]complex128, n),
		weights: make([]complex128, n),
		power:   make([]float64, n),
	}
}

// SetEnabled enables or disables echo cancellation. Disabling leaves the
// adaptive filter's state intact; Process becomes a passthrough while
// disabled.
func (b *Block) SetEnabled(enabled bool) {
	b.enabled = enabled
}

// Enabled reports whether echo cancellation is currently active.
func (b *Block) Enabled() bool { return b.enabled }

// Reset clears the adaptive filter and far-end history, as if newly
// constructed.
func (b *Block) Reset() {
	for i := range b.weights {
		b.weights[i] = 0
		b.power[i] = 0
		b.farHist[i] = 0
	}
}

// FeedFarEnd records the most recent far-end (playback reference) block,
// which must be exactly m samples. Call once per block before Process.
func (b *Block) FeedFarEnd(block []float32) {
	copy(b.farHist, b.farHist[b.m:])
	for i, s := range block {
		if i >= b.m {
			break
		}
		b.farHist[b.m+i] = complex(float64(s), 0)
	}
}

// Process runs one block of echo cancellation over mic (length m) and
// returns the echo-cancelled output. mic is not modified; the returned
// slice is freshly allocated.
func (b *Block) Process(mic []float32) []float32 {
	out := make([]float32, len(mic))
	if !b.enabled {
		copy(out, mic)
		return out
	}

	x := b.fft.Coefficients(nil, b.farHist)

	y := make([]complex128, b.n)
	for k := range y {
		y[k] = b.weights[k] * x[k]
	}
	yTime := b.fft.Sequence(nil, y)

	// overlap-save: the linear-convolution tail occupies the last m samples.
	echo := make([]float64, b.m)
	for i := 0; i < b.m; i++ {
		echo[i] = real(yTime[b.m+i])
	}

	errPadded := make([]complex128, b.n)
	var errEnergy, micEnergy float64
	for i := 0; i < b.m; i++ {
		mi := 0.0
		if i < len(mic) {
			mi = float64(mic[i])
		}
		e := mi - echo[i]
		errPadded[b.m+i] = complex(e, 0)
		out[i] = float32(e)
		errEnergy += e * e
		micEnergy += mi * mi
	}

	// Double-talk protection: if the error carries much more energy than
	// the microphone input itself, near-end speech is dominating and
	// adapting now would corrupt the filter. Skip the power/weight update
	// for this block.
	if errEnergy >= 2*micEnergy {
		return out
	}

	for k, xk := range x {
		p := real(xk)*real(xk) + imag(xk)*imag(xk)
		b.power[k] = b.alpha*b.power[k] + (1-b.alpha)*p
	}

	e := b.fft.Coefficients(nil, errPadded)

	grad := make([]complex128, b.n)
	for k := range grad {
		grad[k] = cmplxConj(x[k]) * e[k]
	}
	gradTime := b.fft.Sequence(nil, grad)
	// constrain: zero the non-causal half to keep the gradient consistent
	// with a length-m causal filter (prevents circular-convolution drift).
	for i := b.m; i < b.n; i++ {
		gradTime[i] = 0
	}
	gradFreq := b.fft.Coefficients(nil, gradTime)

	for k := range b.weights {
		step := b.mu / (b.power[k] + b.eps)
		b.weights[k] = complex(b.leaky, 0)*b.weights[k] + complex(step, 0)*gradFreq[k]
	}

	return out
}

func cmplxConj(c complex128) complex128 {
	return complex(real(c), -imag(c))
}
