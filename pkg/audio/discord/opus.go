package discord

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Voice packets are 20 ms of 48 kHz stereo Opus.
const (
	opusRate    = 48000
	opusStereo  = 2
	opusSamples = opusRate / 50 // per channel per packet

	// opusFrameBytes is the interleaved PCM size of one packet.
	opusFrameBytes = opusSamples * opusStereo * audio.BytesPerSample
)

var opusFormat = audio.Format{SampleRate: opusRate, Channels: opusStereo}

// decoderSet keeps one Opus decoder per SSRC, since decoder state spans
// packets of the same stream.
type decoderSet map[uint32]*gopus.Decoder

// decode returns one packet from ssrc as interleaved 48 kHz stereo PCM.
func (s decoderSet) decode(ssrc uint32, packet []byte) ([]byte, error) {
	dec, ok := s[ssrc]
	if !ok {
		var err error
		if dec, err = gopus.NewDecoder(opusRate, opusStereo); err != nil {
			return nil, fmt.Errorf("discord: opus decoder for ssrc %d: %w", ssrc, err)
		}
		s[ssrc] = dec
	}
	samples, err := dec.Decode(packet, opusSamples, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	return audio.FromInt16s(samples), nil
}

// opusEncoder turns opusFrameBytes of interleaved stereo PCM into a packet.
type opusEncoder struct{ enc *gopus.Encoder }

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusRate, opusStereo, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

func (e *opusEncoder) encode(pcm []byte) ([]byte, error) {
	packet, err := e.enc.Encode(audio.Int16s(pcm), opusSamples, opusFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return packet, nil
}

// packetize upmixes mono PCM at rate to 48 kHz stereo and cuts it into
// opusFrameBytes chunks, zero-padding the last.
func packetize(pcm []byte, rate int) [][]byte {
	stereo := audio.Convert(pcm, audio.Mono(rate), opusFormat)
	var out [][]byte
	for off := 0; off < len(stereo); off += opusFrameBytes {
		chunk := make([]byte, opusFrameBytes)
		copy(chunk, stereo[off:])
		out = append(out, chunk)
	}
	return out
}
