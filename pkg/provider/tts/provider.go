// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service (ElevenLabs, OpenAI, a
// local Coqui server or an external command) and turns one transcript into
// one clip of mono 16-bit PCM. Synthesis is batch: the pipeline re-speaks a
// whole utterance at a time, so there is no text streaming.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned when Synthesize is called with blank text.
var ErrEmptyText = errors.New("tts: text must not be empty")

// Audio is synthesised speech.
type Audio struct {
	// PCM is 16-bit signed little-endian mono audio.
	PCM []byte

	// SampleRate is the sample rate of PCM in Hz.
	SampleRate int
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice. Providers should return
	// an error if the requested voice is not available.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (Audio, error)
}

// VoiceLister is implemented by providers that can enumerate their voices.
type VoiceLister interface {
	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
