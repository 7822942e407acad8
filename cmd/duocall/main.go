// Command duocall is a peer-to-peer voice call client: capture -> AP
// pipeline -> Opus encode -> WebRTC data channel -> Opus decode -> AP
// pipeline (reference path) -> render, for exactly two parties per call.
package main

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"duocall/internal/adapt"
	"duocall/internal/codec"
	"duocall/internal/config"
	"duocall/internal/device"
	"duocall/internal/notify"
	"duocall/internal/pipeline"
	sig "duocall/internal/signal"
	"duocall/internal/transport"
)

var cli struct {
	Listen listenCmd `cmd:"" help:"Register a peer id with the relay and accept one incoming call."`
	Call   callCmd   `cmd:"" help:"Call a peer through the signaling relay."`
}

type listenCmd struct {
	ID        string `arg:"" name:"id" help:"Local peer id to register with the relay."`
	Signal    string `name:"signal" help:"Signaling relay address." default:"localhost:8443"`
	NoAEC     bool   `name:"no-aec" help:"Disable echo cancellation."`
	NoDenoise bool   `name:"no-denoise" help:"Disable noise suppression."`
}

type callCmd struct {
	PeerID string `arg:"" name:"peer-id" help:"Remote peer id to call."`
	Signal string `help:"Signaling relay address." default:"localhost:8443"`
}

func main() {
	logger := log.New(os.Stderr)
	logger.SetReportTimestamp(true)

	kctx := kong.Parse(&cli,
		kong.Name("duocall"),
		kong.Description("Peer-to-peer voice call client."),
		kong.UsageOnError(),
	)

	var err error
	switch kctx.Command() {
	case "listen <id>":
		err = runListen(logger, cli.Listen)
	case "call <peer-id>":
		err = runCall(logger, cli.Call)
	default:
		err = fmt.Errorf("unrecognized command %q", kctx.Command())
	}
	kctx.FatalIfErrorf(err)
}

// session bundles every moving part a call needs once the WebRTC data
// channel is established: the AP pipeline, device glue, and codec workers.
type session struct {
	logger *log.Logger

	pipeline *pipeline.Pipeline
	dev      *device.Device
	peer     *transport.Peer

	enc *codec.EncoderWorker
	dec *codec.DecoderWorker
	mix *codec.Mixer

	stop chan struct{}
}

// remotePeerSender is the fixed sender id used for the one remote peer a
// two-party call ever has.
const remotePeerSender uint16 = 1

func newSession(logger *log.Logger, noAEC, noDenoise bool, peer *transport.Peer) (*session, error) {
	cfg := config.Load()

	p := pipeline.New()
	p.SetAECEnabled(!noAEC)
	p.SetDenoiseEnabled(!noDenoise && cfg.NoiseEnabled)
	p.SetDenoiseLevel(float32(cfg.NoiseLevel) / 100.0)
	p.SetAGCEnabled(cfg.AGCEnabled)
	p.SetAGCLevel(cfg.AGCLevel)

	enc, err := codec.NewOpusEncoder()
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	encWorker := codec.NewEncoderWorker(enc, p.EncOut, 64)
	jitterDepth := cfg.JitterDepth
	if jitterDepth <= 0 {
		jitterDepth = adapt.DefaultJitterDepth
	}
	decWorker := codec.NewDecoderWorker(codec.NewOpusDecoder, jitterDepth)
	mix := codec.NewMixer(decWorker.Out, p.RefIn)

	dev := device.New(p)
	dev.SetInputDevice(cfg.InputDeviceID)
	dev.SetOutputDevice(cfg.OutputDeviceID)
	dev.SetNotificationVolume(float32(cfg.Volume))

	return &session{
		logger:   logger,
		pipeline: p,
		dev:      dev,
		peer:     peer,
		enc:      encWorker,
		dec:      decWorker,
		mix:      mix,
		stop:     make(chan struct{}),
	}, nil
}

// run starts every worker goroutine, bridges the transport <-> codec
// boundary, and blocks until the data channel closes or stop fires.
func (s *session) run() error {
	defer s.pipeline.Close()

	s.peer.OnPacket(func(data []byte) {
		seq, payload, ok := unframe(data)
		if !ok {
			return
		}
		s.dec.PushPacket(remotePeerSender, seq, payload)
	})

	if err := s.dev.Start(); err != nil {
		return fmt.Errorf("start audio device: %w", err)
	}
	defer s.dev.Stop()

	go s.pipeline.Run(s.stop)
	go s.enc.Run(s.stop)
	go s.dec.Run(s.stop)
	go s.mix.Run(s.stop)
	go s.sendLoop()
	go s.qualityLoop()

	s.dev.Play(notify.SoundConnect)

	select {
	case <-s.peer.Closed():
		s.logger.Info("call ended", "reason", s.peer.Err())
	case <-s.stop:
	}
	s.dev.Play(notify.SoundDisconnect)
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	return nil
}

// Close unblocks run() from the outside (SIGINT).
func (s *session) Close() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.peer.Close()
}

func (s *session) sendLoop() {
	var seq uint16
	for {
		select {
		case <-s.stop:
			return
		case pkt, ok := <-s.enc.Out:
			if !ok {
				return
			}
			if err := s.peer.Send(frame(seq, pkt)); err != nil {
				s.logger.Debug("send failed", "err", err)
			}
			seq++
		}
	}
}

const qualityInterval = 5 * time.Second

// qualityLoop periodically reports connection-quality measurements (loss,
// RTT, jitter) to the encoder and decoder so they adapt bitrate and
// jitter-buffer depth, mirroring the 5s cadence the teacher's metrics cache
// used.
func (s *session) qualityLoop() {
	ticker := time.NewTicker(qualityInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// No loss, RTT or jitter is measured over the data channel, so
			// all three are reported as 0: NextBitrate treats rttMs == 0 as
			// "no measurement" and holds, and TargetJitterDepth returns
			// DefaultJitterDepth for jitterMs == 0.
			s.enc.ReportQuality(0, 0)
			s.dec.ReportQuality(0, 0)
		}
	}
}

// frame prepends a 2-byte big-endian sequence number to an Opus packet.
func frame(seq uint16, payload []byte) []byte {
	out := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(out, seq)
	copy(out[2:], payload)
	return out
}

func unframe(data []byte) (seq uint16, payload []byte, ok bool) {
	if len(data) < 2 {
		return 0, nil, false
	}
	return binary.BigEndian.Uint16(data), data[2:], true
}

// localPeerID returns the configured peer id, generating and persisting a
// short random one if none has been set yet.
func localPeerID(cfg config.Config) (string, error) {
	if cfg.PeerID != "" {
		return cfg.PeerID, nil
	}
	id := uuid.New().String()[:8]
	cfg.PeerID = id
	if err := config.Save(cfg); err != nil {
		return "", fmt.Errorf("persist generated peer id: %w", err)
	}
	return id, nil
}

func runListen(logger *log.Logger, cmd listenCmd) error {
	addr, err := sig.NormalizeAddr(cmd.Signal)
	if err != nil {
		return err
	}

	relay, err := sig.Dial(addr, cmd.ID)
	if err != nil {
		return fmt.Errorf("connect to signaling relay: %w", err)
	}
	defer relay.Close()

	logger.Info("waiting for an incoming call", "id", cmd.ID, "relay", addr)

	peer, err := transport.NewPeer()
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	var remoteID string
	established := make(chan error, 1)

	go func() {
		for {
			msg, err := relay.Recv()
			if err != nil {
				return
			}
			switch msg.Type {
			case sig.Offer:
				if remoteID != "" {
					continue // only one incoming call is accepted
				}
				remoteID = msg.From
				peer.OnICECandidate(func(c json.RawMessage) {
					relay.SendCandidate(remoteID, c)
				})
				answerSDP, err := peer.CreateAnswer(msg.SDP)
				if err != nil {
					established <- fmt.Errorf("create answer: %w", err)
					return
				}
				if err := relay.SendAnswer(remoteID, answerSDP); err != nil {
					established <- fmt.Errorf("send answer: %w", err)
					return
				}
			case sig.Candidate:
				if remoteID == "" || msg.From != remoteID {
					continue
				}
				if err := peer.AddICECandidate(msg.Candidate); err != nil {
					logger.Debug("add ICE candidate failed", "err", err)
				}
			}
		}
	}()

	return runUntilReady(logger, peer, established, cmd.NoAEC, cmd.NoDenoise)
}

func runCall(logger *log.Logger, cmd callCmd) error {
	cfg := config.Load()
	localID, err := localPeerID(cfg)
	if err != nil {
		return err
	}

	addr, err := sig.NormalizeAddr(cmd.Signal)
	if err != nil {
		return err
	}

	relay, err := sig.Dial(addr, localID)
	if err != nil {
		return fmt.Errorf("connect to signaling relay: %w", err)
	}
	defer relay.Close()

	peer, err := transport.NewPeer()
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	peer.OnICECandidate(func(c json.RawMessage) {
		relay.SendCandidate(cmd.PeerID, c)
	})

	offerSDP, err := peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := relay.SendOffer(cmd.PeerID, offerSDP); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	logger.Info("calling", "peer", cmd.PeerID, "relay", addr)

	established := make(chan error, 1)
	go func() {
		for {
			msg, err := relay.Recv()
			if err != nil {
				return
			}
			switch msg.Type {
			case sig.Answer:
				if msg.From != cmd.PeerID {
					continue
				}
				if err := peer.SetAnswer(msg.SDP); err != nil {
					established <- fmt.Errorf("apply answer: %w", err)
					return
				}
			case sig.Candidate:
				if msg.From != cmd.PeerID {
					continue
				}
				if err := peer.AddICECandidate(msg.Candidate); err != nil {
					logger.Debug("add ICE candidate failed", "err", err)
				}
			}
		}
	}()

	return runUntilReady(logger, peer, established, false, false)
}

// runUntilReady waits for the data channel to open (or a signaling error),
// then runs the session to completion or until SIGINT. errCh only ever
// carries signaling failures, never a success value.
func runUntilReady(logger *log.Logger, peer *transport.Peer, errCh <-chan error, noAEC, noDenoise bool) error {
	select {
	case err := <-errCh:
		return err
	case <-peer.Opened():
	case <-time.After(30 * time.Second):
		return errors.New("timed out waiting for the call to connect")
	}

	logger.Info("call connected")

	sess, err := newSession(logger, noAEC, noDenoise, peer)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		sess.Close()
	}()

	return sess.run()
}
