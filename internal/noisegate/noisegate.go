// Package noisegate implements the soft noise gate used by the AP pipeline
// plus a simpler hard-hold gate kept as an alternative for quick cleanup of
// a capture-side meter signal.
package noisegate

import (
	"math"

	"duocall/internal/vad"
)

func coeff(timeMs, sampleRate float64) float64 {
	if timeMs <= 0 {
		return 1
	}
	return 1 - math.Exp(-1/(timeMs*1e-3*sampleRate))
}

// Gate is the canonical soft noise gate: a peak envelope follower (instant
// rise to |x|, fixed-time release) with
// independent attack/release gain-smoothing and a non-zero floor gain
// rather than a hard mute, so gated audio fades to near-silence instead of
// clicking to zero.
type Gate struct {
	threshold    float64
	floorGain    float64
	attackCoeff  float64
	releaseCoeff float64
	envRelease   float64

	currentGain float64
	envelope    float64
}

// New returns a Gate with threshold (recommended 0.005-0.02), floorGain
// (recommended 0.001, -60dBFS), attackMs/releaseMs gain-smoothing time
// constants and a fixed 10ms envelope-follower release, at sampleRate Hz.
func New(threshold, floorGain, attackMs, releaseMs, sampleRate float64) *Gate {
	return &Gate{
		threshold:    threshold,
		floorGain:    floorGain,
		attackCoeff:  coeff(attackMs, sampleRate),
		releaseCoeff: coeff(releaseMs, sampleRate),
		envRelease:   coeff(10.0, sampleRate),
		currentGain:  floorGain,
	}
}

// SetThreshold changes the envelope threshold above which the gate opens.
func (g *Gate) SetThreshold(threshold float64) {
	g.threshold = threshold
}

// ProcessSample gates a single sample and returns the result.
func (g *Gate) ProcessSample(x float32) float32 {
	abs := math.Abs(float64(x))

	if abs > g.envelope {
		g.envelope = abs
	} else {
		g.envelope += g.envRelease * (abs - g.envelope)
	}

	target := g.floorGain
	if g.envelope > g.threshold {
		target = 1.0
	}

	if target > g.currentGain {
		g.currentGain += g.attackCoeff * (target - g.currentGain)
	} else {
		g.currentGain += g.releaseCoeff * (target - g.currentGain)
	}

	return float32(float64(x) * g.currentGain)
}

// Process gates frame in place.
func (g *Gate) Process(frame []float32) {
	for i, x := range frame {
		frame[i] = g.ProcessSample(x)
	}
}

// Reset clears the gate's envelope and gain state.
func (g *Gate) Reset() {
	g.envelope = 0
	g.currentGain = g.floorGain
}

const (
	// DefaultThreshold is the RMS level below which audio is gated (~-40 dBFS).
	DefaultThreshold = float32(0.01)

	// DefaultHold is the number of frames to keep the gate open after the
	// signal drops below threshold (200 ms at 20 ms / frame).
	DefaultHold = 10
)

// Simple is a hard per-frame noise gate that zeroes entire frames below a
// threshold, with a hold period preventing it from chopping speech during
// brief pauses. Kept alongside Gate as a lighter-weight alternative for
// contexts (e.g. a meter/VAD pre-pass) that don't need per-sample smoothing.
type Simple struct {
	threshold float32
	hold      int
	remaining int
	enabled   bool
	open      bool
}

// NewSimple returns a Simple gate with DefaultThreshold and DefaultHold,
// enabled by default.
func NewSimple() *Simple {
	return &Simple{
		threshold: DefaultThreshold,
		hold:      DefaultHold,
		enabled:   true,
	}
}

// SetEnabled enables or disables the gate. When disabled, Process is a no-op.
func (g *Simple) SetEnabled(enabled bool) {
	g.enabled = enabled
	if !enabled {
		g.remaining = 0
		g.open = false
	}
}

// Enabled reports whether the gate is currently enabled.
func (g *Simple) Enabled() bool {
	return g.enabled
}

// SetThreshold sets the RMS gate threshold. level is in [0, 100] and maps
// to an RMS range of [0.001, 0.10]. Lower values open the gate more easily.
func (g *Simple) SetThreshold(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	g.threshold = 0.001 + float32(level)/100.0*0.099
}

// Threshold returns the current RMS threshold (linear amplitude).
func (g *Simple) Threshold() float32 {
	return g.threshold
}

// IsOpen reports whether the gate is currently passing audio.
func (g *Simple) IsOpen() bool {
	return g.open
}

// Process applies the gate to frame in-place. If the frame's RMS is below
// the threshold and the hold period has expired, the frame is zeroed.
// Returns the frame RMS before gating (useful for level meters).
func (g *Simple) Process(frame []float32) float32 {
	rms := vad.RMS(frame)

	if !g.enabled {
		g.open = true
		return rms
	}

	if rms >= g.threshold {
		g.remaining = g.hold
		g.open = true
		return rms
	}

	if g.remaining > 0 {
		g.remaining--
		g.open = true
		return rms
	}

	for i := range frame {
		frame[i] = 0
	}
	g.open = false
	return rms
}

// Reset clears the hold counter without changing settings.
func (g *Simple) Reset() {
	g.remaining = 0
	g.open = false
}
