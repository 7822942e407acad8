package limiter

import (
	"math"
	"testing"
)

func TestQuietSignalPassesThroughAtUnityGain(t *testing.T) {
	l := New(0.9, 0.1, 80.0, 48000)
	frame := make([]float32, 100)
	for i := range frame {
		frame[i] = 0.1
	}
	out := make([]float32, len(frame))
	copy(out, frame)
	l.Process(out)
	for i, v := range out {
		if math.Abs(float64(v)-float64(frame[i])) > 1e-6 {
			t.Fatalf("sample %d: got %v, want ~%v", i, v, frame[i])
		}
	}
}

func TestLoudSignalClampedNearThreshold(t *testing.T) {
	l := New(0.9, 0.1, 80.0, 48000)
	frame := make([]float32, 4800) // 100ms, enough to settle
	for i := range frame {
		frame[i] = 2.0
	}
	l.Process(frame)
	tail := frame[4000:]
	for i, v := range tail {
		if math.Abs(float64(v)) > 0.95 {
			t.Fatalf("sample %d not limited: %v", i, v)
		}
	}
}

func TestFirstSampleHardClampedDespiteUnsettledGain(t *testing.T) {
	l := New(0.9, 0.1, 80.0, 48000)
	out := l.ProcessSample(5.0)
	if math.Abs(float64(out)) > 0.9+1e-6 {
		t.Fatalf("first sample exceeded threshold before gain settled: %v", out)
	}
}

func TestResetRestoresUnityGain(t *testing.T) {
	l := New(0.1, 1.0, 10.0, 48000)
	loud := make([]float32, 500)
	for i := range loud {
		loud[i] = 5.0
	}
	l.Process(loud)
	if l.gain >= 0.99 {
		t.Fatalf("expected gain to have dropped, got %v", l.gain)
	}
	l.Reset()
	if l.gain != 1.0 {
		t.Fatalf("Reset gain = %v, want 1.0", l.gain)
	}
}
