// Package energy provides a pure-Go [vad.Engine] that scores frames by their
// RMS energy relative to an adaptive noise floor.
//
// The score is a logistic function of how far the frame level (in dBFS) sits
// above the tracked noise floor:
//
//	p = 1 / (1 + exp(-(level - floor - margin) / slope))
//
// The noise floor follows quiet frames quickly and rises slowly during loud
// stretches, so steady background noise settles below the speech margin while
// a talker's onset scores close to 1. It needs no model files, which makes it
// the default engine and a fallback when no neural VAD is configured.
package energy

import (
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/vad"
)

const (
	defaultMarginDB    = 12.0
	defaultSlopeDB     = 3.0
	defaultFloorDB     = -60.0
	minFloorDB         = -90.0
	floorRisePerFrame  = 0.02 // dB
	floorFallSmoothing = 0.5
	silenceDB          = -120.0
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Option configures an [Engine].
type Option func(*Engine)

// WithMarginDB sets how many dB above the noise floor a frame must be to
// score 0.5. Default: 12.
func WithMarginDB(db float64) Option {
	return func(e *Engine) { e.marginDB = db }
}

// WithSlopeDB sets the logistic slope in dB. Smaller values give a harder
// speech/non-speech decision. Default: 3.
func WithSlopeDB(db float64) Option {
	return func(e *Engine) {
		if db > 0 {
			e.slopeDB = db
		}
	}
}

// WithInitialFloorDB sets the noise floor a new session starts from.
// Default: -60 dBFS.
func WithInitialFloorDB(db float64) Option {
	return func(e *Engine) { e.floorDB = db }
}

// WithFixedFloor disables noise floor tracking; the initial floor is used for
// every frame.
func WithFixedFloor() Option {
	return func(e *Engine) { e.fixed = true }
}

// Engine creates energy-based VAD sessions.
type Engine struct {
	marginDB float64
	slopeDB  float64
	floorDB  float64
	fixed    bool
}

// New creates an energy Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		marginDB: defaultMarginDB,
		slopeDB:  defaultSlopeDB,
		floorDB:  defaultFloorDB,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy vad: frame size must be positive, got %d ms", cfg.FrameSizeMs)
	}
	return &Session{
		engine:     e,
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * audio.BytesPerSample,
		floorDB:    e.floorDB,
	}, nil
}

// Session is an energy VAD session. It is safe for concurrent use.
type Session struct {
	engine     *Engine
	frameBytes int

	mu      sync.Mutex
	floorDB float64
	closed  bool
}

// Score implements [vad.SessionHandle].
func (s *Session) Score(frame []byte) (float64, error) {
	if len(frame) != s.frameBytes {
		return 0, fmt.Errorf("%w: got %d bytes, want %d", vad.ErrFrameSize, len(frame), s.frameBytes)
	}

	level := levelDB(audio.RMS(frame))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("energy vad: session closed")
	}

	e := s.engine
	p := 1 / (1 + math.Exp(-(level-s.floorDB-e.marginDB)/e.slopeDB))

	if !e.fixed {
		if level < s.floorDB {
			s.floorDB += (level - s.floorDB) * floorFallSmoothing
		} else {
			s.floorDB += floorRisePerFrame
		}
		s.floorDB = max(s.floorDB, minFloorDB)
	}
	return p, nil
}

// Reset restores the initial noise floor.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.floorDB = s.engine.floorDB
}

// Close marks the session closed. Further Score calls return an error.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// NoiseFloorDB returns the current noise floor estimate.
func (s *Session) NoiseFloorDB() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.floorDB
}

// levelDB converts a normalised RMS value to dBFS.
func levelDB(rms float64) float64 {
	if rms <= 0 {
		return silenceDB
	}
	return 20 * math.Log10(rms)
}
