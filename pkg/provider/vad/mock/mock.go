// Package mock scripts VAD scores for tests.
//
//	sess := &mock.Session{Scores: []float64{0.1, 0.9, 0.9, 0.1}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/voxrelay/pkg/provider/vad"
)

// Engine hands out Session, or a fresh zero Session when it is nil.
type Engine struct {
	Session       vad.SessionHandle
	NewSessionErr error

	mu      sync.Mutex
	configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{}, nil
}

// Configs returns the configs NewSession was called with.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session returns ScoreErr if set, else ScoreFunc's result if set, else the
// next entry of Scores, and Default once Scores runs out.
type Session struct {
	ScoreFunc func(frame []byte) (float64, error)
	Scores    []float64
	Default   float64
	ScoreErr  error
	CloseErr  error

	mu     sync.Mutex
	scored int
	resets int
	closes int
}

var _ vad.SessionHandle = (*Session)(nil)

func (s *Session) Score(frame []byte) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.scored
	s.scored++
	switch {
	case s.ScoreErr != nil:
		return 0, s.ScoreErr
	case s.ScoreFunc != nil:
		return s.ScoreFunc(frame)
	case n < len(s.Scores):
		return s.Scores[n], nil
	}
	return s.Default, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.CloseErr
}

// Scored is the number of Score calls so far.
func (s *Session) Scored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scored
}

// Resets is the number of Reset calls so far.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closes is the number of Close calls so far.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
