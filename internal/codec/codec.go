// Package codec implements the encoder, decoder, and mixer workers that
// bridge the AP pipeline's float32 PCM frames and the Opus packets carried
// over the network. The codec and its collaborators are defined as small
// interfaces so the workers are testable without a native Opus encoder.
package codec

import (
	"time"

	"duocall/internal/adapt"
	"duocall/internal/jitter"
	"duocall/internal/park"
	"duocall/internal/ringbuffer"
)

const (
	// Frame is the PCM frame size the codec workers operate on; must match
	// pipeline.Frame.
	Frame = 960
	// MaxPacketBytes is the largest Opus packet the encoder may produce
	// (RFC 6716).
	MaxPacketBytes = 1275

	parkTimeout = 10 * time.Millisecond
)

// Encoder abstracts Opus encoding so the encoder worker is testable without
// a native codec.
type Encoder interface {
	Encode(pcm []int16, out []byte) (int, error)
	SetBitrate(bitrate int) error
	SetInBandFEC(fec bool) error
	SetPacketLossPerc(lossPercent int) error
}

// Decoder abstracts Opus decoding, including FEC recovery.
type Decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
	DecodeFEC(data []byte, pcm []int16) error
}

// DecoderFactory constructs a fresh per-sender Decoder.
type DecoderFactory func() (Decoder, error)

// CommandKind discriminates a DecodeCommand's payload.
type CommandKind int

const (
	// DecodeNormal carries a fully received Opus packet.
	DecodeNormal CommandKind = iota
	// DecodeFEC carries the next packet's embedded forward-error-correction
	// data, recovering a single lost frame.
	DecodeFEC
	// DecodePLC requests packet-loss concealment with no packet data.
	DecodePLC
)

// DecodeCommand is a tagged union carrying either an encoded packet or a
// packet-loss-concealment request, destined for one sender's decoder.
type DecodeCommand struct {
	SenderID uint16
	Kind     CommandKind
	Data     []byte
}

// DecodedFrame is one decoded frame of PCM for one sender.
type DecodedFrame struct {
	SenderID uint16
	PCM      []float32 // length Frame
}

// sanitizeSample converts an int16 PCM sample to the pipeline's float32
// range.
func sanitizeSample(s int16) float32 {
	return float32(s) / 32768.0
}

// EncoderWorker pulls Frame-sized PCM blocks from In, encodes them to Opus,
// and delivers packets on Out. It adapts its target bitrate using the
// packet-loss/RTT quality signal reported via ReportQuality.
type EncoderWorker struct {
	enc Encoder
	In  *ringbuffer.Ring[float32]
	Out chan []byte

	wake    *park.Handle
	bitrate int

	pcm     []int16
	packet  []byte
}

// NewEncoderWorker returns a worker reading Frame-sized blocks from in and
// writing encoded packets to a channel of the given buffer depth.
func NewEncoderWorker(enc Encoder, in *ringbuffer.Ring[float32], outBuf int) *EncoderWorker {
	enc.SetInBandFEC(true)
	enc.SetPacketLossPerc(5)
	enc.SetBitrate(adapt.DefaultKbps * 1000)
	return &EncoderWorker{
		enc:     enc,
		In:      in,
		Out:     make(chan []byte, outBuf),
		wake:    park.New(),
		bitrate: adapt.DefaultKbps,
		pcm:     make([]int16, Frame),
		packet:  make([]byte, MaxPacketBytes),
	}
}

// Wake notifies the worker that new input may be available.
func (w *EncoderWorker) Wake() { w.wake.Notify() }

// ReportQuality adapts the encoder's target bitrate and FEC redundancy
// estimate from observed loss rate (0.0-1.0) and round-trip time (ms).
func (w *EncoderWorker) ReportQuality(lossRate, rttMs float64) {
	next := adapt.NextBitrate(w.bitrate, lossRate, rttMs)
	if next != w.bitrate {
		w.bitrate = next
		w.enc.SetBitrate(next * 1000)
	}
	lossPct := int(lossRate * 100)
	if lossPct < 0 {
		lossPct = 0
	}
	if lossPct > 100 {
		lossPct = 100
	}
	w.enc.SetPacketLossPerc(lossPct)
}

// Run encodes available frames until stop is closed.
func (w *EncoderWorker) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !w.tick() {
			w.wake.Park(parkTimeout)
		}
	}
}

func (w *EncoderWorker) tick() bool {
	if w.In.Len() < Frame {
		return false
	}
	buf := make([]float32, Frame)
	w.In.Pop(buf)
	for i, s := range buf {
		v := s
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		w.pcm[i] = int16(v * 32767)
	}
	n, err := w.enc.Encode(w.pcm, w.packet)
	if err != nil {
		return true
	}
	out := make([]byte, n)
	copy(out, w.packet[:n])
	select {
	case w.Out <- out:
	default:
	}
	return true
}

// DecoderWorker maintains one Decoder per sender (pruned when idle) and
// turns a stream of per-sender jitter-buffered frames into DecodedFrame
// values ready for the mixer.
type DecoderWorker struct {
	newDecoder DecoderFactory
	decoders   map[uint16]Decoder
	jb         *jitter.Buffer

	Out chan DecodedFrame

	wake          *park.Handle
	pcm           []int16
	pruneCounter  int
	pruneInterval int

	smoothedLoss float64
}

// NewDecoderWorker returns a worker backed by a per-sender jitter buffer of
// the given depth (frames), using newDecoder to build fresh Decoders.
func NewDecoderWorker(newDecoder DecoderFactory, jitterDepth int) *DecoderWorker {
	return &DecoderWorker{
		newDecoder:    newDecoder,
		decoders:      make(map[uint16]Decoder),
		jb:            jitter.New(jitterDepth),
		Out:           make(chan DecodedFrame, 8),
		wake:          park.New(),
		pcm:           make([]int16, Frame),
		pruneInterval: 500,
	}
}

// Wake notifies the worker that new network data may be available.
func (w *DecoderWorker) Wake() { w.wake.Notify() }

// SetDepth updates the jitter buffer's target depth, in frames.
func (w *DecoderWorker) SetDepth(depth int) { w.jb.SetDepth(depth) }

// ReportQuality smooths a freshly observed packet-loss measurement and
// retunes the jitter buffer's depth from it and the measured inter-arrival
// jitter, in milliseconds.
func (w *DecoderWorker) ReportQuality(jitterMs, rawLossRate float64) {
	w.smoothedLoss = adapt.SmoothLoss(w.smoothedLoss, rawLossRate, 0.3)
	w.jb.SetDepth(adapt.TargetJitterDepth(jitterMs, w.smoothedLoss))
}

// PushPacket enqueues a received Opus packet from sender into the jitter
// buffer for eventual decode.
func (w *DecoderWorker) PushPacket(sender, seq uint16, data []byte) {
	w.jb.Push(sender, seq, data)
}

// commandFor turns one jitter.Frame into the DecodeCommand the spec
// describes: a fully received packet, an FEC-recoverable one, or a bare
// concealment request.
func commandFor(f jitter.Frame) DecodeCommand {
	switch {
	case f.OpusData != nil:
		return DecodeCommand{SenderID: f.SenderID, Kind: DecodeNormal, Data: f.OpusData}
	case f.FECData != nil:
		return DecodeCommand{SenderID: f.SenderID, Kind: DecodeFEC, Data: f.FECData}
	default:
		return DecodeCommand{SenderID: f.SenderID, Kind: DecodePLC}
	}
}

// Run decodes buffered jitter-buffer frames into DecodedFrame values until
// stop is closed.
func (w *DecoderWorker) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !w.tick() {
			w.wake.Park(parkTimeout)
		}
	}
}

func (w *DecoderWorker) tick() bool {
	frames := w.jb.Pop()
	if len(frames) == 0 {
		w.maybePrune()
		return false
	}
	for _, f := range frames {
		cmd := commandFor(f)
		dec, ok := w.decoders[cmd.SenderID]
		if !ok {
			d, err := w.newDecoder()
			if err != nil {
				continue
			}
			dec = d
			w.decoders[cmd.SenderID] = dec
		}

		var n int
		var err error
		switch cmd.Kind {
		case DecodeNormal:
			n, err = dec.Decode(cmd.Data, w.pcm)
		case DecodeFEC:
			if fecErr := dec.DecodeFEC(cmd.Data, w.pcm); fecErr != nil {
				n, err = dec.Decode(nil, w.pcm)
			} else {
				n = Frame
			}
		case DecodePLC:
			n, err = dec.Decode(nil, w.pcm)
		}
		if err != nil {
			continue
		}

		pcm := make([]float32, Frame)
		for i := 0; i < n && i < Frame; i++ {
			pcm[i] = sanitizeSample(w.pcm[i])
		}

		select {
		case w.Out <- DecodedFrame{SenderID: cmd.SenderID, PCM: pcm}:
		default:
		}
	}
	w.maybePrune()
	return true
}

func (w *DecoderWorker) maybePrune() {
	w.pruneCounter++
	if w.pruneCounter < w.pruneInterval {
		return
	}
	w.pruneCounter = 0
	if len(w.decoders) > w.jb.ActiveSenders()+2 {
		w.decoders = make(map[uint16]Decoder)
	}
}

// Mixer additively combines decoded frames from all active senders into a
// single Frame-sized output, pushing silence when nothing is available so
// downstream consumers always see a steady cadence.
type Mixer struct {
	In  chan DecodedFrame
	Out *ringbuffer.Ring[float32]

	wake    *park.Handle
	pending map[uint16][]float32
}

// NewMixer returns a Mixer reading decoded frames from in and pushing
// mixed output onto out.
func NewMixer(in chan DecodedFrame, out *ringbuffer.Ring[float32]) *Mixer {
	return &Mixer{
		In:      in,
		Out:     out,
		wake:    park.New(),
		pending: make(map[uint16][]float32),
	}
}

// Wake notifies the mixer that the decoder has produced new frames.
func (m *Mixer) Wake() { m.wake.Notify() }

// Run mixes and emits output until stop is closed.
func (m *Mixer) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !m.tick() {
			m.wake.Park(parkTimeout)
		}
	}
}

func (m *Mixer) tick() bool {
	drained := false
drain:
	for {
		select {
		case f := <-m.In:
			m.pending[f.SenderID] = f.PCM
			drained = true
		default:
			break drain
		}
	}

	if m.Out.Free() < Frame {
		return drained
	}

	out := make([]float32, Frame)
	if len(m.pending) > 0 {
		for _, pcm := range m.pending {
			for i := 0; i < Frame && i < len(pcm); i++ {
				out[i] += pcm[i]
			}
		}
		for i := range out {
			if out[i] > 1 {
				out[i] = 1
			} else if out[i] < -1 {
				out[i] = -1
			}
		}
		m.pending = make(map[uint16][]float32)
	}
	m.Out.Push(out)
	return true
}
