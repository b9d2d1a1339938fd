// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider turns one finished speech segment into text. The pipeline
// segments audio itself (see internal/segment), so providers work in batch
// mode: each call receives the complete PCM of one utterance and returns the
// recognised text. Streaming services such as Deepgram are driven the same
// way by sending the whole segment and then closing the stream.
//
// Implementations must be safe for concurrent use; the STT stage may run
// several workers against one Provider.
package stt

import (
	"context"
)

// Request carries one utterance to transcribe.
type Request struct {
	// PCM is 16-bit signed little-endian mono audio.
	PCM []byte

	// SampleRate is the sample rate of PCM in Hz.
	SampleRate int

	// Language is a BCP-47 language tag (e.g., "en", "de-DE"). Empty lets the
	// provider use its configured default or auto-detect.
	Language string

	// Keywords are vocabulary hints for uncommon words. Providers without a
	// boosting API may use them as a prompt or ignore them.
	Keywords []KeywordBoost
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in req.PCM. An utterance without
	// recognisable speech yields an empty string and a nil error.
	Transcribe(ctx context.Context, req Request) (string, error)
}
