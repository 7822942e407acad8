// Package signal implements the rendezvous relay client used to exchange
// WebRTC SDP offers/answers and ICE candidates before the peer-to-peer data
// channel takes over. It is a thin JSON-over-WebSocket client; the relay
// itself is out of scope (a two-party call only needs one to exist
// somewhere on the network).
package signal

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
)

// MessageType discriminates a relay message.
type MessageType string

const (
	// Register announces the local peer id to the relay.
	Register MessageType = "register"
	// Offer carries a WebRTC SDP offer to a named peer.
	Offer MessageType = "offer"
	// Answer carries a WebRTC SDP answer back to the offering peer.
	Answer MessageType = "answer"
	// Candidate carries one ICE candidate.
	Candidate MessageType = "candidate"
)

// Message is the wire format exchanged with the relay.
type Message struct {
	Type MessageType `json:"type"`
	From string      `json:"from,omitempty"`
	To   string      `json:"to,omitempty"`
	SDP  string      `json:"sdp,omitempty"`
	// Candidate holds a JSON-encoded webrtc.ICECandidateInit.
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Conn is a registered connection to the signaling relay.
type Conn struct {
	ws   *websocket.Conn
	self string
}

// Dial connects to the relay at addr (host:port, normalized by
// NormalizeAddr) and registers peerID.
func Dial(addr, peerID string) (*Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/signal"}
	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling relay: %w", err)
	}
	c := &Conn{ws: ws, self: peerID}
	if err := c.send(Message{Type: Register, From: peerID}); err != nil {
		ws.Close()
		return nil, err
	}
	return c, nil
}

// SendOffer sends an SDP offer to peerID.
func (c *Conn) SendOffer(peerID, sdp string) error {
	return c.send(Message{Type: Offer, From: c.self, To: peerID, SDP: sdp})
}

// SendAnswer sends an SDP answer to peerID.
func (c *Conn) SendAnswer(peerID, sdp string) error {
	return c.send(Message{Type: Answer, From: c.self, To: peerID, SDP: sdp})
}

// SendCandidate forwards one ICE candidate to peerID.
func (c *Conn) SendCandidate(peerID string, candidate json.RawMessage) error {
	return c.send(Message{Type: Candidate, From: c.self, To: peerID, Candidate: candidate})
}

func (c *Conn) send(m Message) error {
	return c.ws.WriteJSON(m)
}

// Recv blocks until the next relay message arrives.
func (c *Conn) Recv() (Message, error) {
	var m Message
	err := c.ws.ReadJSON(&m)
	return m, err
}

// Close closes the relay connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}
