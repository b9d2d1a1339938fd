// Package journal records the terminal outcome of every synthesised clip.
//
// A [Recorder] receives [playback.Turn] values from the playback controller's
// turn hook, stamps them with the session ID and hands them to a [Store] on
// its own goroutine, so a slow store never holds up playback. [MemStore]
// keeps the most recent turns in memory; package postgres persists them.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxrelay/internal/playback"
	"github.com/MrWong99/voxrelay/internal/queue"
)

// Turn is one journal entry.
type Turn struct {
	// SessionID identifies the process run that produced the turn.
	SessionID string

	// SegmentID is the id shared by the segment, transcript and clip.
	SegmentID uint64

	// Text is the synthesised text; RawText is the transcript before
	// vocabulary correction.
	Text    string
	RawText string

	// Outcome is "played", "barge_in", "evicted", "cleared" or "error".
	Outcome string

	QueuedAt  time.Time
	StartedAt time.Time // zero unless playback started
	EndedAt   time.Time
}

// Store persists turns. Implementations must be safe for concurrent use.
type Store interface {
	// Write appends t.
	Write(ctx context.Context, t Turn) error

	// Recent returns up to limit turns of sessionID, oldest first. A limit
	// of zero or less returns every retained turn.
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)

	// Close releases the store.
	Close() error
}

// NewSessionID returns a fresh random session ID.
func NewSessionID() string { return uuid.NewString() }

// ─── MemStore ────────────────────────────────────────────────────────────────

// MemStore keeps the most recent turns in memory. The zero value is not
// usable; use [NewMemStore].
type MemStore struct {
	mu    sync.Mutex
	turns *queue.Ring[Turn]
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a store that retains the last capacity turns.
func NewMemStore(capacity int) *MemStore {
	return &MemStore{turns: queue.NewRing[Turn](capacity)}
}

// Write implements [Store].
func (m *MemStore) Write(_ context.Context, t Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns.Push(t)
	return nil
}

// Recent implements [Store].
func (m *MemStore) Recent(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	m.mu.Lock()
	all := m.turns.Items()
	m.mu.Unlock()

	out := make([]Turn, 0, len(all))
	for _, t := range all {
		if sessionID == "" || t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Close implements [Store].
func (m *MemStore) Close() error { return nil }

// ─── Recorder ────────────────────────────────────────────────────────────────

// Recorder feeds playback turns into a store.
type Recorder struct {
	store     Store
	sessionID string
	log       *slog.Logger
	timeout   time.Duration

	turns   chan Turn
	dropped atomic.Uint64
	written atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithLogger sets the recorder's logger.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.log = l }
}

// WithBuffer sets how many turns may wait for the store. Default: 64.
func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) { r.turns = make(chan Turn, max(n, 1)) }
}

// WithWriteTimeout bounds each store write. Default: 5s.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.timeout = d }
}

// NewRecorder returns a recorder writing to store under sessionID.
func NewRecorder(store Store, sessionID string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:     store,
		sessionID: sessionID,
		log:       slog.Default(),
		timeout:   5 * time.Second,
		turns:     make(chan Turn, 64),
		closed:    make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SessionID returns the session the recorder writes under.
func (r *Recorder) SessionID() string { return r.sessionID }

// Hook is a playback turn hook. It never blocks; when the buffer is full the
// turn is dropped and counted.
func (r *Recorder) Hook(pt playback.Turn) {
	t := Turn{
		SessionID: r.sessionID,
		SegmentID: pt.Clip.TranscriptID,
		Text:      pt.Clip.Text,
		RawText:   pt.Clip.RawText,
		Outcome:   pt.Outcome,
		QueuedAt:  pt.QueuedAt,
		StartedAt: pt.StartedAt,
		EndedAt:   pt.EndedAt,
	}
	select {
	case <-r.closed:
		r.dropped.Add(1)
		return
	default:
	}
	select {
	case r.turns <- t:
	default:
		r.dropped.Add(1)
		r.log.Warn("journal buffer full, turn dropped", "segment_id", t.SegmentID)
	}
}

// Run writes buffered turns until ctx is done or Close is called, then
// flushes what is left. On a recorder that is already closed it only
// flushes. Store errors are logged and do not stop Run.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case t := <-r.turns:
			r.write(t)
		case <-ctx.Done():
			r.flush()
			return nil
		case <-r.closed:
			r.flush()
			return nil
		}
	}
}

// Close stops Run after it has flushed the buffer. Turns offered afterwards
// are dropped.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() { close(r.closed) })
}

// Written and Dropped report how many turns reached the store and how many
// were discarded.
func (r *Recorder) Written() uint64 { return r.written.Load() }
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

func (r *Recorder) flush() {
	for {
		select {
		case t := <-r.turns:
			r.write(t)
		default:
			return
		}
	}
}

func (r *Recorder) write(t Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.Write(ctx, t); err != nil {
		r.dropped.Add(1)
		r.log.Warn("journal write failed", "segment_id", t.SegmentID, "err", fmt.Errorf("journal: %w", err))
		return
	}
	r.written.Add(1)
}
