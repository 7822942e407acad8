package noisegate

import (
	"math"
	"testing"
)

func makeSineFrame(amplitude float32, size int) []float32 {
	frame := make([]float32, size)
	for i := range frame {
		t := float64(i) / 48000.0
		frame[i] = amplitude * float32(math.Sin(2*math.Pi*440*t))
	}
	return frame
}

func makeSilentFrame(size int) []float32 {
	return make([]float32, size)
}

func TestSimpleGateZeroesSilentFrames(t *testing.T) {
	g := NewSimple()
	frame := makeSineFrame(0.0005, 960) // well below default threshold
	g.Process(frame)
	for i, s := range frame {
		if s != 0 {
			t.Fatalf("frame[%d] = %f, expected 0 (gated)", i, s)
		}
	}
}

func TestSimpleGatePassesLoudFrames(t *testing.T) {
	g := NewSimple()
	frame := makeSineFrame(0.5, 960) // well above threshold
	g.Process(frame)
	nonZero := false
	for _, s := range frame {
		if s != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Fatal("loud frame was zeroed; gate should pass it through")
	}
}

func TestSimpleGateHoldPreventsChatter(t *testing.T) {
	g := NewSimple()
	g.hold = 3

	loud := makeSineFrame(0.5, 960)
	g.Process(loud)
	if !g.IsOpen() {
		t.Fatal("gate should be open after loud frame")
	}

	for i := 0; i < 3; i++ {
		silent := makeSilentFrame(960)
		g.Process(silent)
		if !g.IsOpen() {
			t.Fatalf("gate closed during hold period at frame %d", i)
		}
	}

	silent := makeSilentFrame(960)
	g.Process(silent)
	if g.IsOpen() {
		t.Fatal("gate should be closed after hold expired")
	}
}

func TestSimpleGateDisabledIsNoOp(t *testing.T) {
	g := NewSimple()
	g.SetEnabled(false)

	frame := makeSineFrame(0.0001, 960)
	orig := make([]float32, len(frame))
	copy(orig, frame)
	g.Process(frame)

	for i := range frame {
		if frame[i] != orig[i] {
			t.Fatalf("frame[%d] modified when gate disabled: got %f, want %f", i, frame[i], orig[i])
		}
	}
}

func TestSimpleGateSetThreshold(t *testing.T) {
	g := NewSimple()
	g.SetThreshold(0)
	if g.Threshold() < 0.001 || g.Threshold() > 0.002 {
		t.Errorf("threshold at level 0: got %f, expected ~0.001", g.Threshold())
	}
	g.SetThreshold(100)
	if g.Threshold() < 0.099 || g.Threshold() > 0.101 {
		t.Errorf("threshold at level 100: got %f, expected ~0.10", g.Threshold())
	}
	g.SetThreshold(50)
	expected := float32(0.001 + 0.099*0.5)
	if math.Abs(float64(g.Threshold()-expected)) > 0.001 {
		t.Errorf("threshold at level 50: got %f, expected ~%f", g.Threshold(), expected)
	}
}

func TestSimpleGateSetThresholdClamp(t *testing.T) {
	g := NewSimple()
	g.SetThreshold(-10)
	if g.Threshold() < 0.001 {
		t.Error("negative level should clamp to 0")
	}
	g.SetThreshold(200)
	if g.Threshold() > 0.101 {
		t.Error("level > 100 should clamp to 100")
	}
}

func TestSimpleGateReturnsRMS(t *testing.T) {
	g := NewSimple()
	frame := makeSineFrame(0.5, 960)
	rms := g.Process(frame)
	if rms <= 0 {
		t.Errorf("Process returned rms=%f, expected > 0", rms)
	}
}

func TestSimpleGateReset(t *testing.T) {
	g := NewSimple()
	loud := makeSineFrame(0.5, 960)
	g.Process(loud)
	g.Reset()
	if g.IsOpen() {
		t.Fatal("gate should be closed after Reset")
	}
	silent := makeSilentFrame(960)
	g.Process(silent)
	if g.IsOpen() {
		t.Fatal("gate should remain closed for silent frame after Reset")
	}
}

func TestGateOpensOnLoudSignal(t *testing.T) {
	g := New(0.01, 0.001, 1.0, 80.0, 48000)
	loud := makeSineFrame(0.5, 4800) // 100ms, enough to settle
	g.Process(loud)
	tail := loud[4000:]
	var sum float64
	for _, v := range tail {
		sum += float64(v) * float64(v)
	}
	rmsOut := math.Sqrt(sum / float64(len(tail)))
	if rmsOut < 0.2 {
		t.Fatalf("expected gate open (near-unity gain) on loud signal, got rms=%v", rmsOut)
	}
}

func TestGateAttenuatesQuietSignal(t *testing.T) {
	g := New(0.01, 0.001, 1.0, 80.0, 48000)
	quiet := makeSineFrame(0.0005, 9600) // 200ms, well below threshold
	g.Process(quiet)
	tail := quiet[8000:]
	var peak float32
	for _, v := range tail {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	if peak > 0.0005 {
		t.Fatalf("expected gate to attenuate quiet signal toward floor gain, peak=%v", peak)
	}
}

func TestGateResetRestoresFloorGain(t *testing.T) {
	g := New(0.01, 0.001, 1.0, 80.0, 48000)
	loud := makeSineFrame(0.5, 960)
	g.Process(loud)
	g.Reset()
	if g.currentGain != g.floorGain {
		t.Fatalf("Reset did not restore floor gain: got %v want %v", g.currentGain, g.floorGain)
	}
}
