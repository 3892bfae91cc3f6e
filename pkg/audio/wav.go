package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/emberassist/ember/pkg/types"
)

// ErrNotWAV is returned by DecodeWAV when the payload is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("audio: not a WAV file")

// EncodeWAV wraps a PCM clip in a canonical 44-byte RIFF/WAVE header.
// Only PCM16 is produced; this is the format the synthesis endpoints return
// to the client and the transcription providers accept for uploads.
func EncodeWAV(clip *types.AudioClip) []byte {
	var buf bytes.Buffer

	dataSize := len(clip.PCM)
	byteRate := clip.SampleRate * clip.Channels * 2
	blockAlign := clip.Channels * 2

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, int32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, int32(16))
	binary.Write(&buf, binary.LittleEndian, int16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, int16(clip.Channels))
	binary.Write(&buf, binary.LittleEndian, int32(clip.SampleRate))
	binary.Write(&buf, binary.LittleEndian, int32(byteRate))
	binary.Write(&buf, binary.LittleEndian, int16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, int16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, int32(dataSize))
	buf.Write(clip.PCM)

	return buf.Bytes()
}

// DecodeWAV parses a PCM16 RIFF/WAVE payload into an AudioClip. Chunks other
// than "fmt " and "data" are skipped, so files with LIST/INFO metadata decode
// fine. Returns [ErrNotWAV] for non-WAV payloads and a descriptive error for
// WAV files that are not 16-bit PCM.
func DecodeWAV(data []byte) (*types.AudioClip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	var (
		clip      types.AudioClip
		sawFormat bool
	)

	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkSize > len(data) {
			return nil, fmt.Errorf("audio: truncated %q chunk", chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, fmt.Errorf("audio: fmt chunk too short (%d bytes)", chunkSize)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return nil, fmt.Errorf("audio: unsupported WAV format %d (want PCM)", audioFormat)
			}
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if bits != 16 {
				return nil, fmt.Errorf("audio: unsupported bit depth %d (want 16)", bits)
			}
			clip.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			sawFormat = true
		case "data":
			if !sawFormat {
				return nil, errors.New("audio: data chunk before fmt chunk")
			}
			clip.PCM = make([]byte, chunkSize)
			copy(clip.PCM, data[body:body+chunkSize])
			return &clip, nil
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		pos = body + chunkSize + (chunkSize & 1)
	}

	return nil, errors.New("audio: no data chunk found")
}
