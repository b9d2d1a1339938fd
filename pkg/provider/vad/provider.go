// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech scorer (an energy detector, Silero,
// WebRTC VAD, ...) and surfaces it as a per-stream session. The session only
// scores frames: it returns the probability that a frame contains speech and
// leaves every decision (hysteresis, minimum durations, pre-roll) to the
// segmenter that consumes it.
//
// Scoring is synchronous: Score returns immediately, making it suitable for the
// capture loop that runs once per frame.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "errors"

// ErrFrameSize is returned by [SessionHandle.Score] when the frame length does
// not match the configured frame size.
var ErrFrameSize = errors.New("vad: unexpected frame size")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to Score. Common values: 8000, 16000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds. Engines
	// with a fixed model window (Silero: 32 ms at 16 kHz) reject other sizes.
	FrameSizeMs int
}

// SessionHandle scores audio frames for one stream. Each session keeps its own
// internal state (noise floor, model recurrent state); Reset clears this state
// without closing the session.
type SessionHandle interface {
	// Score returns the probability in [0, 1] that frame contains speech. The
	// frame must be little-endian 16-bit mono PCM at the configured SampleRate
	// and FrameSizeMs. An error means the frame could not be scored; callers
	// treat it as non-speech.
	//
	// Score is called synchronously from the capture loop; it must not block.
	Score(frame []byte) (float64, error)

	// Reset clears accumulated state. Use this when the audio stream is
	// interrupted (e.g. after a pause) so stale state does not affect the
	// next frames.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	//
	// Returns an error if the configuration is invalid (e.g. unsupported sample
	// rate or frame size) or if the engine cannot allocate resources.
	NewSession(cfg Config) (SessionHandle, error)
}
