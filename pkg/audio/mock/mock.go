// Package mock provides in-memory implementations of [audio.Platform] and
// [audio.Connection] for unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts and arguments, and expose exported fields that
// tests set to control behaviour.
//
// Typical usage:
//
//	conn := &mock.Connection{Frames: frames, PlayDuration: 50 * time.Millisecond}
//	platform := &mock.Platform{ConnectResult: conn}
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Connection = (*Connection)(nil)
	_ audio.Platform   = (*Platform)(nil)
)

// ─── Connection ───────────────────────────────────────────────────────────────

// PlayCall records one [Connection.Play] invocation.
type PlayCall struct {
	Clip    audio.Clip
	Started time.Time
	Ended   time.Time
}

// Connection is a mock [audio.Connection].
type Connection struct {
	mu sync.Mutex

	// Frames are returned by ReadFrame in order. When exhausted, ReadFrame
	// returns ReadErr if set, otherwise blocks until ctx is done when Block
	// is true, otherwise returns io.EOF.
	Frames []audio.Frame

	// FrameInterval, when non-zero, makes ReadFrame sleep before returning
	// each frame to mimic a real-time device.
	FrameInterval time.Duration

	// Block makes ReadFrame block after Frames are exhausted.
	Block bool

	// ReadErr is returned once Frames are exhausted.
	ReadErr error

	// PlayDuration is how long Play blocks per clip. Zero uses the clip's
	// own duration.
	PlayDuration time.Duration

	// PlayErr is returned by Play.
	PlayErr error

	// CloseErr is returned by Close.
	CloseErr error

	next       int
	plays      []PlayCall
	closeCount int
	onPlay     func(audio.Clip)
}

// ReadFrame implements [audio.Connection].
func (c *Connection) ReadFrame(ctx context.Context) (audio.Frame, error) {
	c.mu.Lock()
	interval := c.FrameInterval
	if c.next < len(c.Frames) {
		f := c.Frames[c.next]
		c.next++
		c.mu.Unlock()
		if interval > 0 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return audio.Frame{}, ctx.Err()
			}
		}
		return f, nil
	}
	readErr, block := c.ReadErr, c.Block
	c.mu.Unlock()

	if readErr != nil {
		return audio.Frame{}, readErr
	}
	if block {
		<-ctx.Done()
		return audio.Frame{}, ctx.Err()
	}
	return audio.Frame{}, io.EOF
}

// Play implements [audio.Connection]. It blocks for PlayDuration (or the
// clip's duration) and records the call.
func (c *Connection) Play(ctx context.Context, clip audio.Clip) error {
	c.mu.Lock()
	d := c.PlayDuration
	if d == 0 {
		d = clip.Duration()
	}
	playErr := c.PlayErr
	hook := c.onPlay
	c.mu.Unlock()

	if hook != nil {
		hook(clip)
	}

	started := time.Now()
	if playErr == nil && d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			playErr = ctx.Err()
		}
	}

	c.mu.Lock()
	c.plays = append(c.plays, PlayCall{Clip: clip, Started: started, Ended: time.Now()})
	c.mu.Unlock()
	return playErr
}

// Close implements [audio.Connection].
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	return c.CloseErr
}

// OnPlay registers fn to be called synchronously when Play starts.
func (c *Connection) OnPlay(fn func(audio.Clip)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPlay = fn
}

// Plays returns a copy of all recorded Play calls.
func (c *Connection) Plays() []PlayCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PlayCall, len(c.plays))
	copy(out, c.plays)
	return out
}

// PlayedTexts returns the Text of every played clip in order.
func (c *Connection) PlayedTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.plays))
	for i, p := range c.plays {
		out[i] = p.Clip.Text
	}
	return out
}

// CloseCount returns how many times Close was called.
func (c *Connection) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// Platform is a mock [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is returned by Connect.
	ConnectResult audio.Connection

	// ConnectErr is returned by Connect when set.
	ConnectErr error

	connectCalls int
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectCalls++
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	return p.ConnectResult, nil
}

// ConnectCalls returns how many times Connect was called.
func (p *Platform) ConnectCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectCalls
}
