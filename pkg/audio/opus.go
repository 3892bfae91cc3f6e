package audio

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/emberassist/ember/pkg/types"
)

// Playback streaming uses 48 kHz Opus at 20 ms frame size, which is what the
// browser's WebCodecs decoder expects.
const (
	PlaybackSampleRate = 48000
	opusFrameMs        = 20
	// opusFrameSamples is the number of samples per channel per 20 ms frame.
	opusFrameSamples = PlaybackSampleRate * opusFrameMs / 1000 // 960
)

// Packetizer encodes PCM into a sequence of 20 ms Opus packets for delivery
// over the session WebSocket. One Packetizer per playback; the encoder keeps
// state across consecutive frames and must not be shared.
type Packetizer struct {
	enc      *gopus.Encoder
	channels int
}

// NewPacketizer creates a Packetizer for mono (1) or stereo (2) output.
func NewPacketizer(channels int) (*Packetizer, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("audio: packetizer supports 1 or 2 channels, got %d", channels)
	}
	enc, err := gopus.NewEncoder(PlaybackSampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &Packetizer{enc: enc, channels: channels}, nil
}

// Packetize converts a clip into Opus packets. The clip is first converted to
// 48 kHz at the packetizer's channel count; the tail is zero-padded to a full
// frame so the final packet decodes cleanly.
func (p *Packetizer) Packetize(clip *types.AudioClip) ([][]byte, error) {
	conv := Convert(clip, Format{SampleRate: PlaybackSampleRate, Channels: p.channels})
	pcm := BytesToInt16s(conv.PCM)

	frameLen := opusFrameSamples * p.channels
	if rem := len(pcm) % frameLen; rem != 0 {
		pcm = append(pcm, make([]int16, frameLen-rem)...)
	}

	packets := make([][]byte, 0, len(pcm)/frameLen)
	for off := 0; off+frameLen <= len(pcm); off += frameLen {
		frame := pcm[off : off+frameLen]
		packet, err := p.enc.Encode(frame, opusFrameSamples, frameLen*2)
		if err != nil {
			return nil, fmt.Errorf("audio: opus encode at frame %d: %w", off/frameLen, err)
		}
		packets = append(packets, packet)
	}
	return packets, nil
}

// FrameDurationMs returns the play length of one packet in milliseconds.
// Clients pace playback by this value.
func (p *Packetizer) FrameDurationMs() int {
	return opusFrameMs
}
