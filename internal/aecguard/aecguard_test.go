package aecguard

import (
	"math"
	"testing"
)

// trip drives g into bypass with triggerThreshold consecutive divergent
// frames, returning once ExamineAndProtect reports true.
func trip(g *Guard, mic, divergent []float32) {
	for {
		if g.ExamineAndProtect(mic, divergent) {
			return
		}
	}
}

func frame(v float32, n int) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestNoDivergenceLeavesOutputUntouched(t *testing.T) {
	g := New(5.0, 30, 48000)
	mic := frame(0.1, 960)
	out := frame(0.05, 960)
	wasProtected := g.ExamineAndProtect(mic, out)
	if wasProtected {
		t.Fatalf("expected no protection for non-divergent output")
	}
	if out[0] != 0.05 {
		t.Fatalf("output was modified despite no divergence")
	}
}

func TestSingleDivergentFrameDoesNotTriggerBypass(t *testing.T) {
	g := New(5.0, 30, 48000)
	mic := frame(0.1, 960)
	blownUp := frame(1.0, 960) // energy ratio far above 1.6, but only one frame
	if g.ExamineAndProtect(mic, blownUp) {
		t.Fatalf("expected a single divergent frame not to trigger bypass")
	}
	if g.InCooldown() {
		t.Fatalf("expected guard to remain in Normal state")
	}
}

func TestDivergenceTriggersBypassAfterConsecutiveFrames(t *testing.T) {
	g := New(5.0, 30, 48000)
	mic := frame(0.1, 960)
	blownUp := frame(1.0, 960) // 10x mic RMS, well above the 1.6 energy ratio

	for i := 0; i < 4; i++ {
		out := frame(1.0, 960)
		if g.ExamineAndProtect(mic, out) {
			t.Fatalf("expected no bypass before trigger_threshold consecutive frames, tripped at frame %d", i)
		}
	}
	if !g.ExamineAndProtect(mic, blownUp) {
		t.Fatalf("expected the 5th consecutive divergent frame to trigger bypass")
	}
	if !g.InCooldown() {
		t.Fatalf("expected guard to enter cooldown")
	}
}

func TestNonConsecutiveDivergenceResetsCounter(t *testing.T) {
	g := New(5.0, 30, 48000)
	mic := frame(0.1, 960)
	blownUp := frame(1.0, 960)
	quiet := frame(0.1, 960)

	for i := 0; i < 4; i++ {
		out := frame(1.0, 960)
		g.ExamineAndProtect(mic, out)
	}
	// a non-divergent frame should reset the consecutive counter
	g.ExamineAndProtect(mic, quiet)
	if g.InCooldown() {
		t.Fatalf("expected counter reset to prevent premature bypass")
	}
	for i := 0; i < 4; i++ {
		out := frame(1.0, 960)
		if g.ExamineAndProtect(mic, out) {
			t.Fatalf("expected no bypass before a fresh run of trigger_threshold frames, tripped at frame %d", i)
		}
	}
	if !g.ExamineAndProtect(mic, blownUp) {
		t.Fatalf("expected bypass after a fresh run of 5 consecutive divergent frames")
	}
}

func TestNonFiniteOutputTriggersImmediateDivergenceCount(t *testing.T) {
	g := New(1.0, 30, 48000)
	mic := frame(0.1, 960)
	nan := frame(0.1, 960)
	nan[0] = float32(math.NaN())
	if !g.ExamineAndProtect(mic, nan) {
		t.Fatalf("expected non-finite output to count as divergent and trigger with trigger_threshold=1")
	}
}

func TestCooldownHoldsForConfiguredFrames(t *testing.T) {
	g := New(5.0, 3, 48000)
	mic := frame(0.1, 960)
	blownUp := frame(1.0, 960)
	trip(g, mic, blownUp)
	for i := 0; i < 3; i++ {
		if !g.InCooldown() {
			t.Fatalf("expected cooldown active at step %d", i)
		}
		out := frame(0.0, 960)
		g.ExamineAndProtect(mic, out)
	}
	if g.InCooldown() {
		t.Fatalf("expected cooldown to have elapsed")
	}
}

func TestResetClearsCooldown(t *testing.T) {
	g := New(5.0, 30, 48000)
	mic := frame(0.1, 960)
	blownUp := frame(1.0, 960)
	trip(g, mic, blownUp)
	if !g.InCooldown() {
		t.Fatalf("expected cooldown active")
	}
	g.Reset()
	if g.InCooldown() {
		t.Fatalf("expected Reset to clear cooldown")
	}
}
