package codec

import "gopkg.in/hraban/opus.v2"

const (
	sampleRate = 48000
	channels   = 1
)

// NewOpusEncoder returns the production Encoder: Opus in VoIP mode with DTX
// and in-band FEC enabled, seeded at the adapt.DefaultKbps bitrate default
// (32kbps).
func NewOpusEncoder() (Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	if err := enc.SetBitrate(32000); err != nil {
		return nil, err
	}
	if err := enc.SetDTX(true); err != nil {
		return nil, err
	}
	if err := enc.SetInBandFEC(true); err != nil {
		return nil, err
	}
	if err := enc.SetPacketLossPerc(5); err != nil {
		return nil, err
	}
	return enc, nil
}

// NewOpusDecoder is the production DecoderFactory: each call returns a fresh
// per-sender Opus decoder.
func NewOpusDecoder() (Decoder, error) {
	return opus.NewDecoder(sampleRate, channels)
}
