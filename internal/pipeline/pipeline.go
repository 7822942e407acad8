// Package pipeline wires the audio-processing stages — high-pass filter,
// echo canceller, divergence guard, noise gate, and spectral denoiser —
// into the fixed seven-stage order: on the encode path, the microphone
// signal passes through HPF, AEC (guarded), the noise gate, and the
// denoiser before reaching the encoder; on the dispatch path, the far-end
// (decoded, about to be played out) signal passes through a limiter, is
// copied to the speaker, and then passes through a second HPF before
// reaching the AEC's far-end reference input.
package pipeline

import (
	"math"
	"time"

	"duocall/internal/aec"
	"duocall/internal/aecguard"
	"duocall/internal/agc"
	"duocall/internal/biquad"
	"duocall/internal/denoise"
	"duocall/internal/limiter"
	"duocall/internal/noisegate"
	"duocall/internal/park"
	"duocall/internal/ringbuffer"
)

const (
	// SampleRate is the pipeline's fixed operating sample rate.
	SampleRate = 48000
	// Frame is the pipeline's public frame size: 20ms at 48kHz.
	Frame = 960
	// AECBlock is the echo canceller's internal block size.
	AECBlock = 512

	highPassCutoffHz = 80.0

	refLimiterThreshold = 0.9
	refLimiterAttackMs  = 0.1
	refLimiterReleaseMs = 80.0

	gateThreshold = 0.01
	gateFloorGain = 0.001
	gateAttackMs  = 1.0
	gateReleaseMs = 80.0

	guardTriggerThreshold = 5.0
	guardCooldownFrames   = 30

	parkTimeout = 10 * time.Millisecond
)

func ringCapacity() int {
	n := Frame
	if AECBlock > n {
		n = AECBlock
	}
	return 4 * n
}

// echoCanceller is satisfied by both aec.Block and aec.PartitionedBlock so
// the pipeline can be built against either FDAF variant.
type echoCanceller interface {
	FeedFarEnd(block []float32)
	Process(mic []float32) []float32
	SetEnabled(enabled bool)
	Enabled() bool
}

// Pipeline is the AP orchestrator: feed it microphone and far-end frames
// by pushing into MicIn/RefIn, run it in its own goroutine via Run, and
// drain its outputs via EncOut/DispatchOut.
type Pipeline struct {
	micHPF *biquad.Filter
	farHPF *biquad.Filter

	refLimiter *limiter.Limiter
	gate       *noisegate.Gate
	guard      *aecguard.Guard
	canceller  echoCanceller
	denoiser   *denoise.Denoiser
	agc        *agc.AGC
	agcEnabled bool

	MicIn        *ringbuffer.Ring[float32]
	RefIn        *ringbuffer.Ring[float32]
	EncOut       *ringbuffer.Ring[float32]
	DispatchOut  *ringbuffer.Ring[float32]

	micHPFBuf *ringbuffer.Ring[float32]
	refHPFBuf *ringbuffer.Ring[float32]
	aecOutBuf *ringbuffer.Ring[float32]

	wake *park.Handle
}

// New constructs a Pipeline using the canonical single-block FDAF (the
// variant the production pipeline wires up; the partitioned variant in
// NewWithPartitionedAEC exists for longer echo tails but is not the
// default) and a fresh denoiser.
func New() *Pipeline {
	return newWithCanceller(aec.NewBlock(AECBlock))
}

// NewWithPartitionedAEC constructs a Pipeline using the partitioned FDAF
// variant (better echo-tail coverage at higher cost per block) instead of
// the canonical single-block filter.
func NewWithPartitionedAEC() *Pipeline {
	return newWithCanceller(aec.NewPartitionedBlock(AECBlock, aec.DefaultPartitions, aec.DefaultMaxDelay))
}

func newWithCanceller(canceller echoCanceller) *Pipeline {
	capacity := ringCapacity()
	hp := biquad.HighPass(SampleRate, highPassCutoffHz)
	return &Pipeline{
		micHPF:      biquad.New(hp),
		farHPF:      biquad.New(hp),
		refLimiter:  limiter.New(refLimiterThreshold, refLimiterAttackMs, refLimiterReleaseMs, SampleRate),
		gate:        noisegate.New(gateThreshold, gateFloorGain, gateAttackMs, gateReleaseMs, SampleRate),
		guard:       aecguard.New(guardTriggerThreshold, guardCooldownFrames, SampleRate),
		canceller:   canceller,
		denoiser:    denoise.New(Frame),
		agc:         agc.New(),
		MicIn:       ringbuffer.New[float32](capacity),
		RefIn:       ringbuffer.New[float32](capacity),
		EncOut:      ringbuffer.New[float32](capacity),
		DispatchOut: ringbuffer.New[float32](capacity),
		micHPFBuf:   ringbuffer.New[float32](capacity),
		refHPFBuf:   ringbuffer.New[float32](capacity),
		aecOutBuf:   ringbuffer.New[float32](capacity),
		wake:        park.New(),
	}
}

// SetAECEnabled toggles echo cancellation.
func (p *Pipeline) SetAECEnabled(enabled bool) { p.canceller.SetEnabled(enabled) }

// SetDenoiseEnabled toggles the spectral denoiser.
func (p *Pipeline) SetDenoiseEnabled(enabled bool) { p.denoiser.SetEnabled(enabled) }

// SetDenoiseLevel sets the denoiser's blend level in [0,1].
func (p *Pipeline) SetDenoiseLevel(level float32) { p.denoiser.SetLevel(level) }

// SetAGCEnabled toggles the pre-HPF automatic gain control stage. It is off
// by default: the spec's own limiter (§4.3) already controls the far-end
// reference level, and AGC on the near-end signal is an optional quality-of-
// life stage a caller with a quiet microphone can opt into.
func (p *Pipeline) SetAGCEnabled(enabled bool) {
	p.agcEnabled = enabled
	if !enabled {
		p.agc.Reset()
	}
}

// SetAGCLevel sets the AGC's target RMS level, 0-100.
func (p *Pipeline) SetAGCLevel(level int) { p.agc.SetTarget(level) }

// Wake notifies the pipeline's Run loop that new input may be available,
// letting it skip its park timeout.
func (p *Pipeline) Wake() { p.wake.Notify() }

// Close releases the pipeline's native resources (the denoiser's cgo
// state).
func (p *Pipeline) Close() { p.denoiser.Close() }

// Run processes available data until stop is closed. It should run in its
// own goroutine; callers push input via MicIn/RefIn and call Wake to avoid
// waiting out the park timeout, and drain EncOut/DispatchOut from other
// goroutines.
func (p *Pipeline) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !p.tick() {
			p.wake.Park(parkTimeout)
		}
	}
}

// tick processes one frame per ready stage (the AEC stage drains every
// whole block available) and reports whether any stage made progress.
func (p *Pipeline) tick() bool {
	progressed := false

	if p.MicIn.Len() >= Frame {
		buf := make([]float32, Frame)
		p.MicIn.Pop(buf)
		sanitize(buf)
		if p.agcEnabled {
			p.agc.Process(buf)
		}
		p.micHPF.Process(buf)
		p.micHPFBuf.Push(buf)
		progressed = true
	}

	if p.RefIn.Len() >= Frame {
		buf := make([]float32, Frame)
		p.RefIn.Pop(buf)
		sanitize(buf)
		p.refLimiter.Process(buf)

		dispatch := make([]float32, Frame)
		copy(dispatch, buf)
		p.DispatchOut.Push(dispatch)

		sanitize(buf)
		p.farHPF.Process(buf)
		p.refHPFBuf.Push(buf)
		progressed = true
	}

	// Gate on mic occupancy alone: per spec §4.5's tie-break, a short
	// reference FIFO (e.g. before any far-end audio has arrived) is
	// substituted with zeros rather than stalling the mic path.
	for p.micHPFBuf.Len() >= AECBlock {
		micBlk := make([]float32, AECBlock)
		p.micHPFBuf.Pop(micBlk)
		refBlk := make([]float32, AECBlock)
		if p.refHPFBuf.Len() >= AECBlock {
			p.refHPFBuf.Pop(refBlk)
		}

		p.canceller.FeedFarEnd(refBlk)
		out := p.canceller.Process(micBlk)
		p.guard.ExamineAndProtect(micBlk, out)
		p.aecOutBuf.Push(out)
		progressed = true
	}

	if p.aecOutBuf.Len() >= Frame {
		buf := make([]float32, Frame)
		p.aecOutBuf.Pop(buf)
		p.gate.Process(buf)
		sanitize(buf)
		p.denoiser.Process(buf)
		p.EncOut.Push(buf)
		progressed = true
	}

	return progressed
}

// sanitize replaces non-finite samples with 0 and clamps the rest to
// [-1, 1], in place.
func sanitize(frame []float32) {
	for i, x := range frame {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			frame[i] = 0
			continue
		}
		if x > 1 {
			frame[i] = 1
		} else if x < -1 {
			frame[i] = -1
		}
	}
}
