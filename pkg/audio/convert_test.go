package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/emberassist/ember/pkg/audio"
	"github.com/emberassist/ember/pkg/types"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestMonoToStereo(t *testing.T) {
	mono := samplesToBytes([]int16{100, 200, 300})
	stereo := audio.MonoToStereo(mono)
	got := bytesToSamples(stereo)
	want := []int16{100, 100, 200, 200, 300, 300}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	// Two max-positive samples should clamp to 32767 (not overflow).
	stereo := samplesToBytes([]int16{32767, 32767})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	if len(got) != 1 {
		t.Fatalf("length mismatch: got %d, want 1", len(got))
	}
	if got[0] != 32767 {
		t.Errorf("got %d, want 32767", got[0])
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 48000, 48000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	// 2 samples at 16kHz → 6 samples at 48kHz (3x)
	pcm := samplesToBytes([]int16{1000, 2000})
	out := audio.ResampleMono16(pcm, 16000, 48000)
	got := bytesToSamples(out)
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	last := got[len(got)-1]
	if last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	// 6 samples at 48kHz → 2 samples at 16kHz (1/3x)
	pcm := samplesToBytes([]int16{100, 200, 300, 400, 500, 600})
	out := audio.ResampleMono16(pcm, 48000, 16000)
	got := bytesToSamples(out)
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
}

func TestConvert_NoOp(t *testing.T) {
	clip := &types.AudioClip{
		PCM:        samplesToBytes([]int16{1, 2, 3}),
		SampleRate: 48000,
		Channels:   1,
	}
	out := audio.Convert(clip, audio.Format{SampleRate: 48000, Channels: 1})
	if out != clip {
		t.Error("matching format should return the clip unchanged")
	}
}

func TestConvert_ResampleAndChannel(t *testing.T) {
	// 16 kHz mono → 48 kHz stereo.
	clip := &types.AudioClip{
		PCM:        samplesToBytes([]int16{1000, 2000}),
		SampleRate: 16000,
		Channels:   1,
	}
	out := audio.Convert(clip, audio.Format{SampleRate: 48000, Channels: 2})
	if out.SampleRate != 48000 || out.Channels != 2 {
		t.Fatalf("got %dHz %dch, want 48000Hz 2ch", out.SampleRate, out.Channels)
	}
	// 2 samples * 3 (resample) * 2 (stereo) = 12 samples.
	if got := len(out.PCM) / 2; got != 12 {
		t.Errorf("expected 12 samples, got %d", got)
	}
}

func TestConvert_OddByteCount(t *testing.T) {
	clip := &types.AudioClip{PCM: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1}
	out := audio.Convert(clip, audio.Format{SampleRate: 48000, Channels: 1})
	if len(out.PCM) != 0 {
		t.Errorf("malformed PCM should convert to empty, got %d bytes", len(out.PCM))
	}
	if out.SampleRate != 48000 {
		t.Errorf("empty clip should carry target rate, got %d", out.SampleRate)
	}
}

func TestClipDuration(t *testing.T) {
	clip := &types.AudioClip{
		PCM:        make([]byte, 48000*2), // one second of 48 kHz mono
		SampleRate: 48000,
		Channels:   1,
	}
	if d := clip.Duration(); d.Seconds() != 1.0 {
		t.Errorf("duration: got %v, want 1s", d)
	}
}
