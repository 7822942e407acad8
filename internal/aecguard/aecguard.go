// Package aecguard implements the AEC divergence guard: a state machine
// that detects runaway adaptive-filter feedback and substitutes a softly
// limited passthrough of the microphone signal for a cooldown period while
// the echo canceller re-converges.
package aecguard

import (
	"math"

	"duocall/internal/limiter"
)

const (
	bypassLimiterThreshold = 0.0001
	bypassLimiterAttackMs  = 10.0
	bypassLimiterReleaseMs = 100.0

	// energyRatioThreshold is the fixed e_out/e_mic cutoff from spec §4.6;
	// it is independent of triggerThreshold (the consecutive-frame count).
	energyRatioThreshold = 1.6
	energyFloor          = 1e-6
)

// Guard watches AEC output energy against microphone input energy and
// trips into a bypass state when the AEC appears to be diverging (its
// output carries substantially more energy than its input did) for
// triggerThreshold consecutive frames.
type Guard struct {
	triggerThreshold   int // consecutive divergent frames required to enter bypass
	cooldownLimitFrame int // frames to remain in bypass once triggered

	bypassLimiter *limiter.Limiter

	assumeFrame       int
	cooldownRemaining int
}

// New returns a Guard. triggerThreshold is the number of consecutive
// divergent frames required before the guard trips into bypass (the
// original implementation uses 5). cooldownLimitFrame is how many
// consecutive frames of bypass are held once triggered before normal AEC
// output resumes (the original uses 30, i.e. ~0.6s at 20ms frames).
func New(triggerThreshold float64, cooldownLimitFrame int, sampleRate float64) *Guard {
	bl := limiter.New(bypassLimiterThreshold, bypassLimiterAttackMs, bypassLimiterReleaseMs, sampleRate)
	return &Guard{
		triggerThreshold:   int(triggerThreshold),
		cooldownLimitFrame: cooldownLimitFrame,
		bypassLimiter:      bl,
	}
}

func energy(frame []float32) float64 {
	var sum float64
	for _, v := range frame {
		sum += float64(v) * float64(v)
	}
	return sum
}

func allFinite(frame []float32) bool {
	for _, v := range frame {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// isDiverged reports whether aecOut looks like a divergent blowup relative
// to micIn, per spec §4.6: any non-finite sample in aecOut is divergent
// outright; otherwise e_mic > 1e-6 and e_out > 1.6·e_mic.
func (g *Guard) isDiverged(micIn, aecOut []float32) bool {
	if !allFinite(aecOut) {
		return true
	}
	inEnergy := energy(micIn)
	outEnergy := energy(aecOut)
	return inEnergy > energyFloor && outEnergy > energyRatioThreshold*inEnergy
}

// ExamineAndProtect inspects the AEC's most recent input/output frame pair.
// While in (or entering) a cooldown, it overwrites aecOut in place with a
// softly limited copy of micIn and returns true. Otherwise it leaves aecOut
// untouched and returns false.
func (g *Guard) ExamineAndProtect(micIn, aecOut []float32) bool {
	if g.cooldownRemaining > 0 {
		g.cooldownRemaining--
		copy(aecOut, micIn)
		g.bypassLimiter.Process(aecOut)
		return true
	}

	if g.isDiverged(micIn, aecOut) {
		g.assumeFrame++
	} else {
		g.assumeFrame = 0
	}

	if g.assumeFrame >= g.triggerThreshold {
		g.assumeFrame = 0
		g.cooldownRemaining = g.cooldownLimitFrame
		g.bypassLimiter.Reset()
		copy(aecOut, micIn)
		g.bypassLimiter.Process(aecOut)
		return true
	}

	return false
}

// Reset clears all guard state, exiting any active cooldown immediately.
func (g *Guard) Reset() {
	g.assumeFrame = 0
	g.cooldownRemaining = 0
	g.bypassLimiter.Reset()
}

// InCooldown reports whether the guard is currently substituting bypass
// output.
func (g *Guard) InCooldown() bool {
	return g.cooldownRemaining > 0
}
