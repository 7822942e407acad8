package aec

import "gonum.org/v1/gonum/dsp/fourier"

const (
	// DefaultPartitions is the number of filter partitions K, each covering
	// one block of far-end history. K≈4-8 partitions of 512 samples covers
	// roughly 40-80ms of echo tail at 48kHz.
	DefaultPartitions = 6
	// DefaultMaxDelay is the largest bulk delay, in blocks, that SetDelay
	// accepts for aligning the far-end reference with the microphone signal
	// before partitioned filtering.
	DefaultMaxDelay = 16
)

// PartitionedBlock is a partitioned frequency-domain adaptive filter
// (PBFDAF): K independent frequency-domain partitions, each covering one
// block of far-end history, summed to estimate echo over a longer tail
// than a single Block filter can reach. A delay ring holds up to MAX_D
// blocks of raw far-end history so a bulk system delay between playback
// and capture, fixed with SetDelay, is compensated before partitioning.
// The delay is not estimated here; it stays 0 until SetDelay is called.
type PartitionedBlock struct {
	enabled bool

	m, n, k int
	mu, alpha, eps, leaky float64

	fft *fourier.CmplxFFT

	// delayRing holds the most recent maxDelay+k+1 raw far-end blocks so a
	// contiguous K-block window can be extracted starting at any candidate
	// delay offset.
	delayRing   [][]float64
	ringHead    int // index of the most recently written block
	maxDelay    int
	delayOffset int // chosen/assumed delay, in blocks, into delayRing

	farFFT  [][]complex128 // per-partition FFT of the two-block window, length k
	weights [][]complex128 // per-partition frequency-domain weights, length k
	power   [][]float64    // per-partition smoothed power spectrum, length k
}

// NewPartitionedBlock returns a K-partition PBFDAF canceller for blocks of
// blockSize samples, with partitions and maxDelay as described above.
func NewPartitionedBlock(blockSize, partitions, maxDelay int) *PartitionedBlock {
	n := blockSize * 2
	p := &PartitionedBlock{
		enabled:   true,
		m:         blockSize,
		n:         n,
		k:         partitions,
		mu:        DefaultMu,
		alpha:     DefaultAlpha,
		eps:       DefaultEps,
		leaky:     DefaultLeaky,
		fft:       fourier.NewCmplxFFT(n),
		maxDelay:  maxDelay,
		farFFT:    make([][]complex128, partitions),
		weights:   make([][]complex128, partitions),
		power:     make([][]float64, partitions),
	}
	ringLen := maxDelay + partitions + 1
	p.delayRing = make([][]float64, ringLen)
	for i := range p.delayRing {
		p.delayRing[i] = make([]float64, blockSize)
	}
	for i := 0; i < partitions; i++ {
		p.farFFT[i] = make([]complex128, n)
		p.weights[i] = make([]complex128, n)
		p.power[i] = make([]float64, n)
	}
	return p
}

// SetEnabled enables or disables echo cancellation.
func (p *PartitionedBlock) SetEnabled(enabled bool) { p.enabled = enabled }

// Enabled reports whether echo cancellation is currently active.
func (p *PartitionedBlock) Enabled() bool { return p.enabled }

// SetDelay fixes the assumed bulk delay between far-end and near-end, in
// blocks, clamped to [0, maxDelay].
func (p *PartitionedBlock) SetDelay(blocks int) {
	if blocks < 0 {
		blocks = 0
	}
	if blocks > p.maxDelay {
		blocks = p.maxDelay
	}
	p.delayOffset = blocks
}

// Reset clears all partition weights and history, as if newly constructed.
func (p *PartitionedBlock) Reset() {
	for _, r := range p.delayRing {
		for i := range r {
			r[i] = 0
		}
	}
	for kk := 0; kk < p.k; kk++ {
		for i := range p.weights[kk] {
			p.weights[kk][i] = 0
			p.power[kk][i] = 0
		}
		for i := range p.farFFT[kk] {
			p.farFFT[kk][i] = 0
		}
	}
}

// FeedFarEnd records the most recent far-end block (length m samples) into
// the delay ring.
func (p *PartitionedBlock) FeedFarEnd(block []float32) {
	p.ringHead = (p.ringHead + 1) % len(p.delayRing)
	dst := p.delayRing[p.ringHead]
	for i := range dst {
		if i < len(block) {
			dst[i] = float64(block[i])
		} else {
			dst[i] = 0
		}
	}
}

// blockAt returns the raw far-end block `blocksBack` blocks behind the most
// recently fed block (0 = most recent).
func (p *PartitionedBlock) blockAt(blocksBack int) []float64 {
	n := len(p.delayRing)
	idx := ((p.ringHead-blocksBack)%n + n) % n
	return p.delayRing[idx]
}

// Process runs one block of partitioned echo cancellation over mic (length
// m) and returns the echo-cancelled output.
func (p *PartitionedBlock) Process(mic []float32) []float32 {
	out := make([]float32, len(mic))
	if !p.enabled {
		copy(out, mic)
		return out
	}

	// Build each partition's two-block window and its FFT, offset by the
	// assumed system delay.
	window := make([]complex128, p.n)
	for kk := 0; kk < p.k; kk++ {
		older := p.blockAt(p.delayOffset + kk + 1)
		newer := p.blockAt(p.delayOffset + kk)
		for i := 0; i < p.m; i++ {
			window[i] = complex(older[i], 0)
			window[p.m+i] = complex(newer[i], 0)
		}
		p.farFFT[kk] = p.fft.Coefficients(p.farFFT[kk], window)
	}

	// Sum each partition's echo contribution in the frequency domain before
	// a single inverse transform.
	ySum := make([]complex128, p.n)
	for kk := 0; kk < p.k; kk++ {
		for b := range ySum {
			ySum[b] += p.weights[kk][b] * p.farFFT[kk][b]
		}
	}
	yTime := p.fft.Sequence(nil, ySum)

	echo := make([]float64, p.m)
	for i := 0; i < p.m; i++ {
		echo[i] = real(yTime[p.m+i])
	}

	errPadded := make([]complex128, p.n)
	var errEnergy, micEnergy float64
	for i := 0; i < p.m; i++ {
		mi := 0.0
		if i < len(mic) {
			mi = float64(mic[i])
		}
		e := mi - echo[i]
		errPadded[p.m+i] = complex(e, 0)
		out[i] = float32(e)
		errEnergy += e * e
		micEnergy += mi * mi
	}

	// Double-talk protection: skip the power/weight update entirely when
	// the error carries much more energy than the microphone input, a
	// sign that near-end speech dominates this block.
	if errEnergy >= 2*micEnergy {
		return out
	}

	for kk := 0; kk < p.k; kk++ {
		for b, xb := range p.farFFT[kk] {
			pw := real(xb)*real(xb) + imag(xb)*imag(xb)
			p.power[kk][b] = p.alpha*p.power[kk][b] + (1-p.alpha)*pw
		}
	}

	e := p.fft.Coefficients(nil, errPadded)

	for kk := 0; kk < p.k; kk++ {
		grad := make([]complex128, p.n)
		for b := range grad {
			grad[b] = cmplxConj(p.farFFT[kk][b]) * e[b]
		}
		gradTime := p.fft.Sequence(nil, grad)
		for i := p.m; i < p.n; i++ {
			gradTime[i] = 0
		}
		gradFreq := p.fft.Coefficients(nil, gradTime)
		for b := range p.weights[kk] {
			step := p.mu / (p.power[kk][b] + p.eps)
			p.weights[kk][b] = complex(p.leaky, 0)*p.weights[kk][b] + complex(step, 0)*gradFreq[b]
		}
	}

	return out
}
