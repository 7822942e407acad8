// Package device bridges PortAudio capture/render streams to the AP
// pipeline's MicIn/DispatchOut rings. It owns no DSP state of its own —
// processing lives in internal/pipeline, encoding/decoding in internal/codec.
package device

import (
	"log"
	"math"
	"sync"
	"sync/atomic"

	"duocall/internal/notify"
	"duocall/internal/pipeline"

	"github.com/gordonklaus/portaudio"
)

// notifChannelBuf is the number of 20ms PCM frames the notification channel
// can buffer — enough for a few seconds of queued UI audio.
const notifChannelBuf = 200

// AudioDevice describes an available audio device.
type AudioDevice struct {
	ID   int
	Name string
}

// paStream abstracts a PortAudio stream so Device can be exercised without
// real hardware.
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
	Write() error
}

// Device owns the capture and playback PortAudio streams and shuttles PCM
// between them and a pipeline.Pipeline.
type Device struct {
	mu sync.Mutex

	inputDeviceID  int
	outputDeviceID int

	pipeline *pipeline.Pipeline

	captureStream  paStream
	playbackStream paStream

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	captureDropped  atomic.Uint64
	playbackStarved atomic.Uint64

	notifCh    chan []float32
	notifScale atomic.Uint32 // float32 bits
}

// New returns a Device driving the given pipeline. Device IDs of -1 mean
// "use the system default".
func New(p *pipeline.Pipeline) *Device {
	d := &Device{
		inputDeviceID:  -1,
		outputDeviceID: -1,
		pipeline:       p,
		notifCh:        make(chan []float32, notifChannelBuf),
		stopCh:         make(chan struct{}),
	}
	d.notifScale.Store(math.Float32bits(1.0))
	return d
}

// SetNotificationVolume sets the notification sound volume (0.0-1.0).
func (d *Device) SetNotificationVolume(vol float32) {
	if vol < 0 {
		vol = 0
	}
	if vol > 1.0 {
		vol = 1.0
	}
	d.notifScale.Store(math.Float32bits(vol))
}

// Play enqueues synthesised PCM frames for sound onto the notification
// channel. Frames are mixed into the played-out signal (bypassing deafen)
// the next time playbackLoop drains them; the channel drops frames rather
// than block if it fills up.
func (d *Device) Play(sound notify.Sound) {
	frames := notify.Frames(sound, pipeline.SampleRate, pipeline.Frame)
	if len(frames) == 0 {
		return
	}
	go func() {
		stopCh := d.stopCh
		for _, frame := range frames {
			select {
			case <-stopCh:
				return
			case d.notifCh <- frame:
			default:
			}
		}
	}()
}

// SetInputDevice sets the input device by index.
func (d *Device) SetInputDevice(id int) {
	d.mu.Lock()
	d.inputDeviceID = id
	d.mu.Unlock()
}

// SetOutputDevice sets the output device by index.
func (d *Device) SetOutputDevice(id int) {
	d.mu.Lock()
	d.outputDeviceID = id
	d.mu.Unlock()
}

// ListInputDevices returns available audio input devices.
func ListInputDevices() []AudioDevice {
	return listDevices(func(i *portaudio.DeviceInfo) bool { return i.MaxInputChannels > 0 })
}

// ListOutputDevices returns available audio output devices.
func ListOutputDevices() []AudioDevice {
	return listDevices(func(i *portaudio.DeviceInfo) bool { return i.MaxOutputChannels > 0 })
}

func listDevices(match func(*portaudio.DeviceInfo) bool) []AudioDevice {
	devices, err := portaudio.Devices()
	if err != nil {
		log.Printf("[device] list devices: %v", err)
		return nil
	}
	var out []AudioDevice
	for i, dev := range devices {
		if match(dev) {
			out = append(out, AudioDevice{ID: i, Name: dev.Name})
		}
	}
	return out
}

func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}

// Start opens the capture/playback streams and launches their goroutines.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return err
	}

	inputDev, err := resolveDevice(devices, d.inputDeviceID, portaudio.DefaultInputDevice)
	if err != nil {
		return err
	}
	outputDev, err := resolveDevice(devices, d.outputDeviceID, portaudio.DefaultOutputDevice)
	if err != nil {
		return err
	}

	captureBuf := make([]float32, pipeline.Frame)
	captureParams := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inputDev,
			Channels: 1,
			Latency:  inputDev.DefaultLowInputLatency,
		},
		SampleRate:      pipeline.SampleRate,
		FramesPerBuffer: pipeline.Frame,
	}
	captureStream, err := portaudio.OpenStream(captureParams, captureBuf)
	if err != nil {
		return err
	}

	playbackBuf := make([]float32, pipeline.Frame)
	playbackParams := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outputDev,
			Channels: 1,
			Latency:  outputDev.DefaultLowOutputLatency,
		},
		SampleRate:      pipeline.SampleRate,
		FramesPerBuffer: pipeline.Frame,
	}
	playbackStream, err := portaudio.OpenStream(playbackParams, playbackBuf)
	if err != nil {
		captureStream.Close()
		return err
	}

	if err := captureStream.Start(); err != nil {
		captureStream.Close()
		playbackStream.Close()
		return err
	}
	if err := playbackStream.Start(); err != nil {
		captureStream.Stop()
		captureStream.Close()
		playbackStream.Close()
		return err
	}

	d.captureStream = captureStream
	d.playbackStream = playbackStream
	d.stopCh = make(chan struct{})
	d.running.Store(true)

	d.wg.Add(2)
	go func() { defer d.wg.Done(); d.captureLoop(captureBuf) }()
	go func() { defer d.wg.Done(); d.playbackLoop(playbackBuf) }()

	log.Printf("[device] started capture=%s playback=%s", inputDev.Name, outputDev.Name)
	return nil
}

// Stop halts capture and playback. Streams are stopped first to unblock any
// in-flight Read/Write calls, then the goroutines are joined before the
// native stream objects are closed.
func (d *Device) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	close(d.stopCh)

	d.mu.Lock()
	if d.captureStream != nil {
		d.captureStream.Stop()
	}
	if d.playbackStream != nil {
		d.playbackStream.Stop()
	}
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	if d.captureStream != nil {
		d.captureStream.Close()
		d.captureStream = nil
	}
	if d.playbackStream != nil {
		d.playbackStream.Close()
		d.playbackStream = nil
	}
	d.mu.Unlock()

	log.Println("[device] stopped")
}

func (d *Device) captureLoop(buf []float32) {
	for d.running.Load() {
		if err := d.captureStream.Read(); err != nil {
			if d.running.Load() {
				log.Printf("[device] capture read: %v", err)
			}
			return
		}
		if d.pipeline.MicIn.Push(buf) < len(buf) {
			d.captureDropped.Add(1)
		}
		d.pipeline.Wake()
	}
}

func (d *Device) playbackLoop(buf []float32) {
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		if d.pipeline.DispatchOut.Len() >= len(buf) {
			d.pipeline.DispatchOut.Pop(buf)
		} else {
			d.playbackStarved.Add(1)
			for i := range buf {
				buf[i] = 0
			}
		}

		// Mix in one notification frame if available. Notifications are
		// local UI cues, so they bypass any deafen/mute state upstream.
		select {
		case notifFrame := <-d.notifCh:
			scale := math.Float32frombits(d.notifScale.Load())
			for i, s := range notifFrame {
				v := buf[i] + s*scale
				if v > 1 {
					v = 1
				} else if v < -1 {
					v = -1
				}
				buf[i] = v
			}
		default:
		}

		if err := d.playbackStream.Write(); err != nil {
			if d.running.Load() {
				log.Printf("[device] playback write: %v", err)
			}
			return
		}
	}
}

// DroppedFrames returns and resets the capture-drop and playback-starve
// counters.
func (d *Device) DroppedFrames() (captureDropped, playbackStarved uint64) {
	return d.captureDropped.Swap(0), d.playbackStarved.Swap(0)
}
