// Package local provides an [audio.Platform] on the default microphone and
// speaker through PortAudio.
//
// Building this package requires the PortAudio C library.
package local

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

var (
	_ audio.Platform   = (*Platform)(nil)
	_ audio.Connection = (*Connection)(nil)
)

// Platform opens the system default input and output devices.
type Platform struct {
	sampleRate int
	frameDur   time.Duration
}

// New returns a platform capturing mono PCM at sampleRate in frameDur
// frames. Clips are played at their own sample rate converted to
// sampleRate.
func New(sampleRate int, frameDur time.Duration) (*Platform, error) {
	if sampleRate <= 0 || frameDur <= 0 {
		return nil, fmt.Errorf("local: invalid frame format %d Hz / %s", sampleRate, frameDur)
	}
	return &Platform{sampleRate: sampleRate, frameDur: frameDur}, nil
}

// Connect initialises PortAudio and starts both streams.
func (p *Platform) Connect(ctx context.Context) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, audio.NewDeviceError("open", "portaudio", err)
	}

	samples := audio.PCMBytes(p.frameDur, p.sampleRate) / audio.BytesPerSample
	c := &Connection{
		rate:   p.sampleRate,
		frame:  p.frameDur,
		in:     make([]int16, samples),
		out:    make([]int16, samples),
		closed: make(chan struct{}),
	}

	var err error
	if c.input, err = portaudio.OpenDefaultStream(1, 0, float64(p.sampleRate), samples, c.in); err != nil {
		_ = portaudio.Terminate()
		return nil, audio.NewDeviceError("open", "input", err)
	}
	if c.output, err = portaudio.OpenDefaultStream(0, 1, float64(p.sampleRate), samples, c.out); err != nil {
		_ = c.input.Close()
		_ = portaudio.Terminate()
		return nil, audio.NewDeviceError("open", "output", err)
	}
	if err := errors.Join(c.input.Start(), c.output.Start()); err != nil {
		_ = c.Close()
		return nil, audio.NewDeviceError("open", "portaudio", err)
	}
	return c, nil
}

// Connection reads the microphone and writes the speaker with PortAudio's
// blocking I/O.
type Connection struct {
	rate  int
	frame time.Duration

	readMu sync.Mutex
	input  *portaudio.Stream
	in     []int16
	seq    uint64

	playMu sync.Mutex
	output *portaudio.Stream
	out    []int16

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// ReadFrame blocks for one frame of microphone audio. A read in progress
// finishes before ctx is observed; reads last one frame period.
func (c *Connection) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if c.isClosed() {
		return audio.Frame{}, audio.NewDeviceError("read", "input", errors.New("connection closed"))
	}
	if err := c.input.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return audio.Frame{}, audio.NewDeviceError("read", "input", err)
	}
	f := audio.Frame{
		Data:       audio.FromInt16s(c.in),
		SampleRate: c.rate,
		Seq:        c.seq,
		Timestamp:  time.Duration(c.seq) * c.frame,
	}
	c.seq++
	return f, nil
}

// Play writes clip to the speaker and returns when the last buffer is
// queued. Cancelling ctx stops between buffers.
func (c *Connection) Play(ctx context.Context, clip audio.Clip) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	samples := audio.Int16s(audio.ResampleMono16(clip.PCM, clip.SampleRate, c.rate))
	for off := 0; off < len(samples); off += len(c.out) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.isClosed() {
			return audio.NewDeviceError("write", "output", errors.New("connection closed"))
		}
		n := copy(c.out, samples[off:])
		clear(c.out[n:])
		if err := c.output.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return audio.NewDeviceError("write", "output", err)
		}
	}
	return nil
}

// Close stops both streams and terminates PortAudio. It is safe to call
// more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.readMu.Lock()
		c.playMu.Lock()
		defer c.readMu.Unlock()
		defer c.playMu.Unlock()

		var errs []error
		for _, s := range []*portaudio.Stream{c.input, c.output} {
			if s == nil {
				continue
			}
			errs = append(errs, s.Stop(), s.Close())
		}
		errs = append(errs, portaudio.Terminate())
		if err := errors.Join(errs...); err != nil {
			c.closeErr = audio.NewDeviceError("close", "portaudio", err)
		}
	})
	return c.closeErr
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
