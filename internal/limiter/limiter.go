// Package limiter implements a smooth one-pole peak limiter: an envelope
// follower gain-rides the signal toward a target threshold with independent
// attack and release time constants.
package limiter

import "math"

// coeff converts a time constant in milliseconds to a one-pole smoothing
// coefficient at the given sample rate: 1 - exp(-1/(timeMs*1e-3*fs)).
func coeff(timeMs, sampleRate float64) float64 {
	if timeMs <= 0 {
		return 1
	}
	return 1 - math.Exp(-1/(timeMs*1e-3*sampleRate))
}

// Limiter is a smooth peak limiter with a fixed threshold and independent
// attack/release gain-smoothing coefficients.
type Limiter struct {
	threshold    float64
	attackCoeff  float64
	releaseCoeff float64
	gain         float64
}

// New returns a Limiter with threshold as the target peak amplitude and
// attackMs/releaseMs as the gain-smoothing time constants at sampleRate Hz.
// The initial gain is unity.
func New(threshold, attackMs, releaseMs, sampleRate float64) *Limiter {
	return &Limiter{
		threshold:    threshold,
		attackCoeff:  coeff(attackMs, sampleRate),
		releaseCoeff: coeff(releaseMs, sampleRate),
		gain:         1.0,
	}
}

// Reset restores unity gain.
func (l *Limiter) Reset() {
	l.gain = 1.0
}

// ProcessSample gain-rides a single sample toward the threshold and returns
// the limited output.
func (l *Limiter) ProcessSample(x float32) float32 {
	in := float64(x)
	abs := math.Abs(in)
	var target float64
	if abs > l.threshold && abs > 0 {
		target = l.threshold / abs
	} else {
		target = 1.0
	}
	if target < l.gain {
		l.gain += l.attackCoeff * (target - l.gain)
	} else {
		l.gain += l.releaseCoeff * (target - l.gain)
	}
	y := in * l.gain
	if y > l.threshold {
		y = l.threshold
	} else if y < -l.threshold {
		y = -l.threshold
	}
	return float32(y)
}

// Process limits frame in place.
func (l *Limiter) Process(frame []float32) {
	for i, x := range frame {
		frame[i] = l.ProcessSample(x)
	}
}
