// Package transport wraps a single pion/webrtc/v4 peer connection carrying
// one unordered, unreliable data channel of Opus packets. It has no notion
// of rooms, channels, or multiple remote peers — a call is exactly one
// PeerConnection to exactly one remote id, matching spec.md's two-party
// scope.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Peer is one WebRTC session: a peer connection plus its audio data channel.
type Peer struct {
	pc *webrtc.PeerConnection

	mu sync.Mutex
	dc *webrtc.DataChannel

	onPacket    func([]byte)
	onCandidate func(json.RawMessage)

	opened   chan struct{}
	closed   chan struct{}
	closeErr error
}

var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// NewPeer creates a peer connection using the default public STUN server.
func NewPeer() (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: defaultICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	p := &Peer{
		pc:     pc,
		opened: make(chan struct{}),
		closed: make(chan struct{}),
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		p.mu.Lock()
		cb := p.onCandidate
		p.mu.Unlock()
		if cb == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		cb(raw)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			p.closeOnce(errors.New("peer connection " + s.String()))
		}
	})
	return p, nil
}

// OnPacket registers the handler invoked for every packet received on the
// data channel. It may be called before or after the channel opens; packets
// that arrive while no handler is registered are dropped.
func (p *Peer) OnPacket(fn func([]byte)) {
	p.mu.Lock()
	p.onPacket = fn
	p.mu.Unlock()
}

// OnICECandidate registers the handler that forwards local ICE candidates to
// the remote peer via the signaling relay.
func (p *Peer) OnICECandidate(fn func(json.RawMessage)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

// CreateOffer is the caller side: it opens the data channel and returns a
// local SDP offer to send through the relay.
func (p *Peer) CreateOffer() (string, error) {
	ordered := false
	maxRetransmits := uint16(0)
	dc, err := p.pc.CreateDataChannel("audio", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		return "", fmt.Errorf("create data channel: %w", err)
	}
	p.bindDataChannel(dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return offer.SDP, nil
}

// CreateAnswer is the callee side: it accepts a remote offer, registers the
// inbound data channel, and returns a local SDP answer.
func (p *Peer) CreateAnswer(offerSDP string) (string, error) {
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.bindDataChannel(dc)
	})

	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		return "", fmt.Errorf("set remote offer: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return answer.SDP, nil
}

// SetAnswer is the caller side: it applies the remote SDP answer.
func (p *Peer) SetAnswer(answerSDP string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	})
}

// AddICECandidate applies one remote ICE candidate received through the
// signaling relay.
func (p *Peer) AddICECandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("decode ICE candidate: %w", err)
	}
	return p.pc.AddICECandidate(init)
}

func (p *Peer) bindDataChannel(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		close(p.opened)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.mu.Lock()
		cb := p.onPacket
		p.mu.Unlock()
		if cb != nil {
			cb(msg.Data)
		}
	})
	dc.OnClose(func() {
		p.closeOnce(errors.New("data channel closed"))
	})
}

// Opened returns a channel closed once the data channel is ready to send.
func (p *Peer) Opened() <-chan struct{} {
	return p.opened
}

// Closed returns a channel closed when the session has ended, along with the
// reason once that happens (via Err).
func (p *Peer) Closed() <-chan struct{} {
	return p.closed
}

// Err returns the reason the session closed, if any.
func (p *Peer) Err() error {
	return p.closeErr
}

// Send writes one packet to the data channel. Safe to call only after
// Opened() has fired.
func (p *Peer) Send(data []byte) error {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil {
		return errors.New("data channel not established")
	}
	return dc.Send(data)
}

func (p *Peer) closeOnce(reason error) {
	select {
	case <-p.closed:
	default:
		p.closeErr = reason
		close(p.closed)
	}
}

// Close tears down the peer connection.
func (p *Peer) Close() error {
	p.closeOnce(nil)
	return p.pc.Close()
}
