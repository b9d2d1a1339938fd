// Package wavfile provides an offline [audio.Platform] that reads a WAV file
// as the microphone and writes every played clip to a directory, plus WAV
// encode/decode helpers shared by providers that exchange WAV payloads.
//
// The platform is useful for reproducible runs: the same input file always
// produces the same frames, so segment boundaries can be compared across
// runs.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Platform   = (*Platform)(nil)
	_ audio.Connection = (*Connection)(nil)
)

// Option configures a [Platform].
type Option func(*Platform)

// WithOutputDir sets the directory clips are written to. Empty discards
// played clips.
func WithOutputDir(dir string) Option {
	return func(p *Platform) { p.outputDir = dir }
}

// WithRealtime paces ReadFrame and Play at wall-clock speed.
func WithRealtime(on bool) Option {
	return func(p *Platform) { p.realtime = on }
}

// Platform opens a WAV file and exposes it as a frame source.
type Platform struct {
	inputPath  string
	sampleRate int
	frameDur   time.Duration
	outputDir  string
	realtime   bool
}

// New creates a Platform reading inputPath. Frames are delivered as mono PCM
// at sampleRate, frameDur long each.
func New(inputPath string, sampleRate int, frameDur time.Duration, opts ...Option) (*Platform, error) {
	if inputPath == "" {
		return nil, errors.New("wavfile: input path must not be empty")
	}
	if sampleRate <= 0 || frameDur <= 0 {
		return nil, fmt.Errorf("wavfile: invalid frame format %d Hz / %s", sampleRate, frameDur)
	}
	p := &Platform{inputPath: inputPath, sampleRate: sampleRate, frameDur: frameDur}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Connect decodes the input file and returns a connection that replays it.
func (p *Platform) Connect(ctx context.Context) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pcm, src, err := ReadFile(p.inputPath)
	if err != nil {
		return nil, audio.NewDeviceError("open", p.inputPath, err)
	}
	if p.outputDir != "" {
		if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
			return nil, audio.NewDeviceError("open", p.outputDir, err)
		}
	}

	mono := audio.Convert(pcm, src, audio.Mono(p.sampleRate))
	chunker := audio.NewChunker(p.sampleRate, p.frameDur)
	return &Connection{
		frames:    chunker.Write(mono),
		frameDur:  p.frameDur,
		outputDir: p.outputDir,
		realtime:  p.realtime,
	}, nil
}

// Connection replays decoded frames and records played clips.
type Connection struct {
	frameDur  time.Duration
	outputDir string
	realtime  bool

	mu     sync.Mutex
	frames []audio.Frame
	next   int
	played int
	closed bool
}

// ReadFrame returns the next frame, or io.EOF once the file is exhausted.
func (c *Connection) ReadFrame(ctx context.Context) (audio.Frame, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return audio.Frame{}, audio.NewDeviceError("read", "wavfile", errors.New("connection closed"))
	}
	if c.next >= len(c.frames) {
		c.mu.Unlock()
		return audio.Frame{}, io.EOF
	}
	f := c.frames[c.next]
	c.next++
	c.mu.Unlock()

	if c.realtime {
		if err := sleep(ctx, c.frameDur); err != nil {
			return audio.Frame{}, err
		}
	}
	return f, nil
}

// Play writes the clip to the output directory as clip-<id>.wav.
func (c *Connection) Play(ctx context.Context, clip audio.Clip) error {
	c.mu.Lock()
	c.played++
	c.mu.Unlock()

	if c.outputDir != "" {
		name := filepath.Join(c.outputDir, fmt.Sprintf("clip-%06d.wav", clip.ID))
		if err := WriteFile(name, clip.PCM, audio.Mono(clip.SampleRate)); err != nil {
			return audio.NewDeviceError("write", name, err)
		}
	}
	if c.realtime {
		return sleep(ctx, clip.Duration())
	}
	return nil
}

// Played returns the number of clips passed to Play.
func (c *Connection) Played() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.played
}

// Close releases the decoded frames.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.frames = nil
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
