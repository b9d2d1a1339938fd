// Package audio defines the audio data model shared by every voxrelay stage
// and the device abstraction the pipeline reads frames from and plays clips to.
//
// The two device abstractions are:
//
//   - [Platform] opens the configured input and output devices and returns a
//     [Connection].
//   - [Connection] delivers fixed-size mono [Frame] values from the input and
//     plays [Clip] values on the output.
//
// Implementations live in adapter packages (audio/local, audio/discord,
// audio/wavfile). The interfaces are kept narrow so the pipeline does not
// depend on any device SDK.
package audio

import (
	"context"
	"fmt"
)

// Connection is an opened duplex audio endpoint.
//
// ReadFrame is called from a single goroutine (the capture stage) and Play
// from another (the playback stage); implementations must tolerate both
// running at the same time.
type Connection interface {
	// ReadFrame blocks until the next frame is available. Frames are mono,
	// all of the same length, with Seq increasing by one per call.
	//
	// Device failures are returned as *[DeviceError]. io.EOF signals that a
	// finite source (e.g. a file) is exhausted.
	ReadFrame(ctx context.Context) (Frame, error)

	// Play writes the clip to the output and blocks until it has been handed
	// to the device completely. Interrupting mid-clip is not supported; ctx
	// cancellation only aborts between device writes.
	Play(ctx context.Context, clip Clip) error

	// Close releases the device handles. It is safe to call more than once.
	Close() error
}

// Platform opens a [Connection]. Implementations wrap a specific device SDK
// (PortAudio, Discord voice, WAV files).
type Platform interface {
	// Connect opens the input and output devices. The returned Connection
	// stays open until Close is called; ctx only bounds the open itself.
	Connect(ctx context.Context) (Connection, error)
}

// DeviceError reports that an input or output device is unavailable or
// failed during steady-state I/O. Device errors are fatal to the pipeline.
type DeviceError struct {
	// Op is the failing operation ("open", "read", "write", "close").
	Op string

	// Device names the device (e.g. "input", "output", "discord voice").
	Device string

	Err error
}

// Error implements error.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio: %s %s: %v", e.Op, e.Device, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error { return e.Err }

// NewDeviceError wraps err as a *[DeviceError]. It returns nil for a nil err.
func NewDeviceError(op, device string, err error) error {
	if err == nil {
		return nil
	}
	return &DeviceError{Op: op, Device: device, Err: err}
}
