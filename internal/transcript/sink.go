// Package transcript turns recognised speech into the text shown to viewers.
//
// Two pieces live here:
//
//   - [Corrector] fixes vocabulary terms the STT engine tends to mishear
//     (channel names, game terms, people) using the phonetic matcher in the
//     phonetic subpackage.
//   - [FileSink] mirrors the clip currently playing into a text file that an
//     external overlay polls. Every write replaces the whole file atomically.
package transcript

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Sink receives the text of the clip being played.
//
// Show and ShowNext are called when a clip starts; Clear when playback has
// gone idle. Implementations must not block the caller on slow I/O for the
// delayed variants.
type Sink interface {
	// Show displays text immediately.
	Show(text string)

	// ShowNext displays text after the next-transcript delay. A newer call
	// replaces a pending one.
	ShowNext(text string)

	// Clear empties the display after the clear delay unless Show or
	// ShowNext arrives first.
	Clear()
}

// Nop is a [Sink] that does nothing. It is used when the transcript file is
// disabled.
type Nop struct{}

func (Nop) Show(string)     {}
func (Nop) ShowNext(string) {}
func (Nop) Clear()          {}

var (
	_ Sink = Nop{}
	_ Sink = (*FileSink)(nil)
)

// FileSink is a [Sink] backed by a UTF-8 text file. At most one delayed
// write is pending at a time; any call supersedes it. FileSink is safe for
// concurrent use.
type FileSink struct {
	path       string
	nextDelay  time.Duration
	clearDelay time.Duration

	mu      sync.Mutex
	pending *time.Timer
	gen     uint64
	text    string
	closed  bool
}

// Open creates or truncates the file at path and returns a sink writing to
// it. The parent directory must exist.
func Open(path string, nextDelay, clearDelay time.Duration) (*FileSink, error) {
	s := &FileSink{path: path, nextDelay: nextDelay, clearDelay: clearDelay}
	if err := s.write(""); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the file the sink writes to.
func (s *FileSink) Path() string { return s.path }

// Text returns the content last written to the file.
func (s *FileSink) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Show implements [Sink].
func (s *FileSink) Show(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cancelLocked()
	s.writeLocked(text)
}

// ShowNext implements [Sink].
func (s *FileSink) ShowNext(text string) {
	s.schedule(text, s.nextDelay)
}

// Clear implements [Sink].
func (s *FileSink) Clear() {
	s.schedule("", s.clearDelay)
}

// Close cancels any pending write and empties the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancelLocked()
	s.text = ""
	return s.write("")
}

func (s *FileSink) schedule(text string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cancelLocked()
	if delay <= 0 {
		s.writeLocked(text)
		return
	}
	gen := s.gen
	s.pending = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// A Stop that lost the race leaves a stale callback behind.
		if s.closed || s.gen != gen {
			return
		}
		s.pending = nil
		s.writeLocked(text)
	})
}

// cancelLocked drops the pending write. Must be called with s.mu held.
func (s *FileSink) cancelLocked() {
	s.gen++
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

// writeLocked writes text and logs failures. Must be called with s.mu held.
func (s *FileSink) writeLocked(text string) {
	if err := s.write(text); err != nil {
		slog.Warn("transcript write failed", "path", s.path, "err", err)
		return
	}
	s.text = text
}

// write replaces the file contents through a temp file in the same
// directory, so a polling reader sees either the old or the new text.
func (s *FileSink) write(text string) error {
	dir, base := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return fmt.Errorf("transcript: create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("transcript: write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("transcript: close %s: %w", tmp, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("transcript: chmod %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("transcript: replace %s: %w", s.path, err)
	}
	return nil
}
