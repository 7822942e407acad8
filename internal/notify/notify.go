// Package notify synthesises short PCM tones for local UI audio cues
// (connect, disconnect, mute, unmute) — no chat/channel sounds, since those
// have no counterpart in a two-party call.
package notify

import "math"

// Sound identifies a UI audio cue.
type Sound int

const (
	SoundConnect    Sound = iota // ascending two-tone: C5 -> G5
	SoundDisconnect              // descending two-tone: G5 -> C5
	SoundMute                    // descending tone: C5 -> A4
	SoundUnmute                  // ascending tone: A4 -> C5
)

// volume is the peak amplitude of notification tones in the [-1, 1] range.
const volume = 0.18

// Frames synthesises the PCM frames for sound, chunked into frameSize
// slices at the given sample rate. Returns nil for an unrecognized sound.
func Frames(sound Sound, sampleRate, frameSize int) [][]float32 {
	type tone struct {
		freq int
		dur  int // ms
	}
	var tones []tone
	switch sound {
	case SoundConnect:
		tones = []tone{{523, 80}, {784, 120}}
	case SoundDisconnect:
		tones = []tone{{784, 80}, {523, 120}}
	case SoundMute:
		tones = []tone{{523, 80}, {440, 100}}
	case SoundUnmute:
		tones = []tone{{440, 80}, {523, 100}}
	default:
		return nil
	}

	var frames [][]float32
	for _, t := range tones {
		frames = append(frames, sineTone(float64(t.freq), t.dur, sampleRate, frameSize)...)
	}
	return frames
}

// sineTone generates PCM frames for a sine tone at freq Hz lasting
// durationMs milliseconds with a 5ms linear fade in/out, chunked into
// frameSize slices.
func sineTone(freq float64, durationMs, sampleRate, frameSize int) [][]float32 {
	totalSamples := sampleRate * durationMs / 1000
	raw := make([]float32, totalSamples)

	fadeLen := sampleRate * 5 / 1000
	if fadeLen > totalSamples/2 {
		fadeLen = totalSamples / 2
	}

	for i := range raw {
		t := float64(i) / float64(sampleRate)
		s := float32(math.Sin(2 * math.Pi * freq * t))

		var env float32 = 1.0
		if fadeLen > 0 && i < fadeLen {
			env = float32(i) / float32(fadeLen)
		} else if fadeLen > 0 && i >= totalSamples-fadeLen {
			env = float32(totalSamples-1-i) / float32(fadeLen)
		}
		raw[i] = s * env * volume
	}

	var frames [][]float32
	for off := 0; off < len(raw); off += frameSize {
		end := off + frameSize
		frame := make([]float32, frameSize)
		if end > len(raw) {
			copy(frame, raw[off:])
		} else {
			copy(frame, raw[off:end])
		}
		frames = append(frames, frame)
	}
	return frames
}
