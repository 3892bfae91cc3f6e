package app

import (
	"context"
	"fmt"
	"time"

	"github.com/emberassist/ember/internal/dialog"
	"github.com/emberassist/ember/internal/observe"
	"github.com/emberassist/ember/internal/server"
	"github.com/emberassist/ember/internal/settings"
	"github.com/emberassist/ember/internal/voicebank"
	"github.com/emberassist/ember/pkg/audio"
	"github.com/emberassist/ember/pkg/provider/tts"
	"github.com/emberassist/ember/pkg/types"
)

// Speech synthesizes utterances in each user's own voice: the enrolled clone
// when the voice bank has one, otherwise the preferred catalogue voice from
// their settings, otherwise the provider default.
type Speech struct {
	tts      tts.Provider
	provider string
	bank     *voicebank.Bank
	settings *settings.Service
	metrics  *observe.Metrics
}

var _ server.Synthesizer = (*Speech)(nil)

// NewSpeech builds the synthesis front end shared by the speak endpoint and
// dialog candidate playback. bank may be nil when voice enrollment is off;
// a nil m falls back to the global meter provider.
func NewSpeech(p tts.Provider, providerName string, bank *voicebank.Bank, prefs *settings.Service, m *observe.Metrics) *Speech {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Speech{
		tts:      p,
		provider: providerName,
		bank:     bank,
		settings: prefs,
		metrics:  m,
	}
}

// Speak synthesizes text as one complete clip in the provider's native
// format. An empty voiceID resolves through the user's enrollment and
// preferences.
func (s *Speech) Speak(ctx context.Context, userID, text, voiceID string) (*types.AudioClip, error) {
	start := time.Now()
	clip, err := s.tts.Synthesize(ctx, tts.SpeechRequest{
		Text:    text,
		VoiceID: s.resolveVoice(ctx, userID, voiceID),
	})
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	s.metrics.RecordProviderRequest(ctx, s.provider, "tts", statusOf(err))
	if err != nil {
		s.metrics.RecordProviderError(ctx, s.provider, "tts")
		return nil, fmt.Errorf("app: synthesize: %w", err)
	}
	return clip, nil
}

// statusOf maps an error to the "status" metric attribute.
func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// resolveVoice picks the voice for a synthesis request. An explicit ID wins,
// then the enrolled clone, then the preferred voice, then provider default.
func (s *Speech) resolveVoice(ctx context.Context, userID, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if s.bank != nil {
		if rec, err := s.bank.Get(userID); err == nil && rec.ClonedVoiceID != "" {
			return rec.ClonedVoiceID
		}
	}
	if s.settings != nil {
		if prefs, err := s.settings.Get(ctx, userID); err == nil {
			return prefs.PreferredVoiceID
		}
	}
	return ""
}

// sessionSpeaker streams synthesized candidate audio to one client in real
// time. It implements [dialog.Speaker]; the dialog cancels ctx to stop
// playback mid-utterance.
type sessionSpeaker struct {
	speech *Speech
	userID string
	out    server.AudioWriter
}

var _ dialog.Speaker = (*sessionSpeaker)(nil)

// Speak synthesizes text and writes it to the client as paced Opus frames.
// It blocks until the last frame is written or ctx is cancelled, so the
// dialog knows when playback finished.
func (sp *sessionSpeaker) Speak(ctx context.Context, text string) error {
	stream, err := sp.speech.tts.SynthesizeStream(ctx, tts.SpeechRequest{
		Text:    text,
		VoiceID: sp.speech.resolveVoice(ctx, sp.userID, ""),
	})
	sp.speech.metrics.RecordProviderRequest(ctx, sp.speech.provider, "tts", statusOf(err))
	if err != nil {
		sp.speech.metrics.RecordProviderError(ctx, sp.speech.provider, "tts")
		return fmt.Errorf("app: start synthesis: %w", err)
	}
	// The provider goroutine blocks on an undrained channel.
	defer audio.Drain(stream.Chunks)

	pack, err := audio.NewPacketizer(1)
	if err != nil {
		return err
	}
	frameBytes := audio.PlaybackSampleRate * pack.FrameDurationMs() / 1000 * 2
	ticker := time.NewTicker(time.Duration(pack.FrameDurationMs()) * time.Millisecond)
	defer ticker.Stop()

	// send packetizes whole frames of 48 kHz mono PCM and paces them out at
	// one frame per tick.
	send := func(pcm []byte) error {
		frames, err := pack.Packetize(&types.AudioClip{
			PCM:        pcm,
			SampleRate: audio.PlaybackSampleRate,
			Channels:   1,
		})
		if err != nil {
			return err
		}
		for _, frame := range frames {
			if err := sp.out.WriteAudio(ctx, frame); err != nil {
				return fmt.Errorf("app: write audio frame: %w", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		return nil
	}

	var carry []byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-stream.Chunks:
			if !ok {
				if err := stream.Err(); err != nil {
					return fmt.Errorf("app: synthesis stream: %w", err)
				}
				if len(carry) > 0 {
					// Tail is zero-padded to a full frame by the packetizer.
					return send(carry)
				}
				return nil
			}
			carry = append(carry, audio.ResampleMono16(chunk, stream.SampleRate, audio.PlaybackSampleRate)...)
			if n := len(carry) / frameBytes * frameBytes; n > 0 {
				if err := send(carry[:n]); err != nil {
					return err
				}
				carry = append(carry[:0], carry[n:]...)
			}
		}
	}
}
