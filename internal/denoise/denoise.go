// Package denoise adapts RNNoise, a recurrent-network spectral noise
// suppressor, to the pipeline's frame size. RNNoise operates natively on
// 480-sample (10ms @ 48kHz) frames with persistent per-stream state; a
// 960-sample pipeline frame is split into two halves, each processed by
// its own persistent state instance so the filter's internal history
// stays continuous across calls.
package denoise

/*
#cgo pkg-config: rnnoise
#include <rnnoise.h>
#include <stdlib.h>
*/
import "C"
import (
	"sync"
	"unsafe"
)

// nativeFrameSize is RNNoise's native frame size.
const nativeFrameSize = 480

// Denoiser applies RNNoise-based ML noise suppression to audio buffers
// whose length is a multiple of nativeFrameSize.
type Denoiser struct {
	mu      sync.Mutex
	states  []*C.DenoiseState
	halves  int
	level   float32 // 0.0 = bypass, 1.0 = full suppression
	enabled bool

	cIn  *C.float
	cOut *C.float
}

// New allocates one RNNoise state per nativeFrameSize-sample half of a
// frameSize-sample pipeline frame. frameSize must be a positive multiple
// of nativeFrameSize.
func New(frameSize int) *Denoiser {
	halves := frameSize / nativeFrameSize
	if halves < 1 {
		halves = 1
	}
	states := make([]*C.DenoiseState, halves)
	for i := range states {
		states[i] = C.rnnoise_create(nil)
	}
	cIn := (*C.float)(C.malloc(C.size_t(nativeFrameSize) * C.size_t(unsafe.Sizeof(C.float(0)))))
	cOut := (*C.float)(C.malloc(C.size_t(nativeFrameSize) * C.size_t(unsafe.Sizeof(C.float(0)))))
	return &Denoiser{
		states:  states,
		halves:  halves,
		level:   1.0,
		enabled: false,
		cIn:     cIn,
		cOut:    cOut,
	}
}

// SetEnabled enables or disables noise suppression.
func (d *Denoiser) SetEnabled(on bool) {
	d.mu.Lock()
	d.enabled = on
	d.mu.Unlock()
}

// Enabled reports whether suppression is currently active.
func (d *Denoiser) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// SetLevel sets the suppression blend level (0.0 = bypass, 1.0 = full
// suppression). Values are clamped to [0, 1].
func (d *Denoiser) SetLevel(level float32) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	d.mu.Lock()
	d.level = level
	d.mu.Unlock()
}

// Process applies noise suppression in-place to buf, which must be exactly
// halves*nativeFrameSize samples. No-op when disabled or level == 0.
func (d *Denoiser) Process(buf []float32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.enabled || d.level == 0 {
		return
	}

	inSlice := unsafe.Slice(d.cIn, nativeFrameSize)
	outSlice := unsafe.Slice(d.cOut, nativeFrameSize)
	level := d.level

	for h := 0; h < d.halves; h++ {
		off := h * nativeFrameSize
		for i := 0; i < nativeFrameSize; i++ {
			inSlice[i] = C.float(buf[off+i] * 32767.0)
		}
		C.rnnoise_process_frame(d.states[h], d.cOut, d.cIn)
		for i := 0; i < nativeFrameSize; i++ {
			denoised := float32(outSlice[i]) / 32767.0
			buf[off+i] = buf[off+i]*(1-level) + denoised*level
		}
	}
}

// Close frees the underlying C RNNoise state instances and pre-allocated
// buffers. The Denoiser must not be used afterward.
func (d *Denoiser) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, st := range d.states {
		if st != nil {
			C.rnnoise_destroy(st)
			d.states[i] = nil
		}
	}
	if d.cIn != nil {
		C.free(unsafe.Pointer(d.cIn))
		d.cIn = nil
	}
	if d.cOut != nil {
		C.free(unsafe.Pointer(d.cOut))
		d.cOut = nil
	}
}
