// Package playback gates synthesised clips behind a silence timeout and
// plays them one at a time.
//
// Clips are synthesised as soon as a transcript is ready, but a clip only
// starts once the speaker has been quiet for the configured timeout. New
// speech ("speech resumed" on the [speech.Signal]) discards clips that have
// not started; a clip that is already playing always finishes.
//
//	Idle ──clip──► Waiting ──timeout──► Playing ──done──► Waiting | Idle
//	                  │                    │
//	               resume: drop all     resume: drop backlog, keep playing
//
// The backlog is a bounded ring; when it is full the oldest pending clip is
// evicted so the newest always gets in.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/queue"
	"github.com/MrWong99/voxrelay/internal/speech"
	"github.com/MrWong99/voxrelay/internal/transcript"
	"github.com/MrWong99/voxrelay/pkg/audio"
)

// Player writes a clip to the output device. [audio.Connection] satisfies it.
type Player interface {
	Play(ctx context.Context, clip audio.Clip) error
}

// Config holds the playback parameters.
type Config struct {
	// Timeout is the silence required after a clip arrives, and after the
	// speaker last stopped, before the clip plays.
	Timeout time.Duration

	// MaxQueue bounds the number of pending clips.
	MaxQueue int
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	if c.MaxQueue < 1 {
		errs = append(errs, fmt.Errorf("max queue %d must be at least 1", c.MaxQueue))
	}
	return errors.Join(errs...)
}

// State is the controller state: [Idle], [Waiting], [Playing] or [Draining].
type State interface {
	isState()
}

// Idle means nothing is playing or pending.
type Idle struct{}

// Waiting means Clip is next and will play once the timeout measured from
// Since (or from the last speech end, whichever is later) has passed.
type Waiting struct {
	Since time.Time
	Clip  audio.Clip
}

// Playing means Clip is being written to the device.
type Playing struct {
	Clip audio.Clip
}

// Draining means no more clips will arrive and Pending clips are still to
// be played out. The controller never holds it: [Controller.State] derives
// it from a closed input while a clip is Waiting or Playing, and the
// underlying Waiting and Playing transitions continue unchanged.
type Draining struct {
	Pending int
}

func (Idle) isState()     {}
func (Waiting) isState()  {}
func (Playing) isState()  {}
func (Draining) isState() {}

// Turn is the terminal record of one clip.
type Turn struct {
	Clip audio.Clip

	// Outcome is one of observe.OutcomePlayed, OutcomeBargeIn,
	// OutcomeEvicted, OutcomeCleared or OutcomeError.
	Outcome string

	QueuedAt  time.Time
	StartedAt time.Time // zero unless the clip started
	EndedAt   time.Time
}

// Stats are cumulative controller counters.
type Stats struct {
	Pending  int
	Played   uint64
	BargeIns uint64
	Dropped  uint64 // discarded by barge-in
	Evicted  uint64
	Cleared  uint64
}

// Option configures a [Controller].
type Option func(*Controller)

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics records clip outcomes, barge-ins and wait times on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithTurnHook calls fn with the terminal record of every clip. fn runs on
// the goroutine that settled the clip, without the controller lock held.
func WithTurnHook(fn func(Turn)) Option {
	return func(c *Controller) { c.onTurn = fn }
}

type pending struct {
	clip    audio.Clip
	arrived time.Time
}

// Controller is the playback state machine. Enqueue, Clear, CloseInput, State
// and Stats are safe for concurrent use; Run must be called once.
type Controller struct {
	cfg     Config
	out     Player
	sink    transcript.Sink
	signal  *speech.Signal
	log     *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time
	onTurn  func(Turn)

	mu          sync.Mutex
	state       State
	queue       *queue.Ring[pending]
	seenEpoch   uint64
	displayed   bool // a clip's text is on screen and no Clear has been issued since
	inputClosed bool
	started     time.Time
	queued      time.Time
	stats       Stats

	notify chan struct{}
}

// New creates a Controller playing to out and mirroring text to sink.
func New(cfg Config, out Player, sink transcript.Sink, signal *speech.Signal, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("playback: invalid config: %w", err)
	}
	if out == nil || signal == nil {
		return nil, errors.New("playback: player and signal are required")
	}
	if sink == nil {
		sink = transcript.Nop{}
	}
	c := &Controller{
		cfg:       cfg,
		out:       out,
		sink:      sink,
		signal:    signal,
		log:       slog.Default(),
		now:       time.Now,
		state:     Idle{},
		queue:     queue.NewRing[pending](cfg.MaxQueue),
		seenEpoch: signal.Epoch(),
		notify:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Enqueue adds a clip to the backlog. It never blocks: when the backlog is
// full the oldest pending clip is evicted. Clips arriving after
// [Controller.CloseInput] are ignored.
func (c *Controller) Enqueue(clip audio.Clip) {
	now := c.now()
	c.mu.Lock()
	if c.inputClosed {
		c.mu.Unlock()
		return
	}
	// A resume seen now predates this clip and must not discard it later.
	turns, dropped := c.consumeResumeLocked(now)
	if evicted, ok := c.queue.Push(pending{clip: clip, arrived: now}); ok {
		c.stats.Evicted++
		turns = append(turns, turnFor(evicted, observe.OutcomeEvicted, now))
		c.log.Info("clip evicted", "clip_id", evicted.clip.ID, "queue_max_items", c.cfg.MaxQueue)
	}
	c.waitOnHeadLocked()
	if dropped {
		c.displayed = false
	}
	c.mu.Unlock()

	c.report(turns)
	if dropped {
		c.sink.Clear()
	}
	c.wake()
}

// Clear drops every pending clip and schedules the transcript clear. A clip
// that is playing finishes.
func (c *Controller) Clear() {
	now := c.now()
	c.mu.Lock()
	turns := c.dropAllLocked(observe.OutcomeCleared, now)
	c.displayed = false
	if _, playing := c.state.(Playing); !playing {
		c.state = Idle{}
	}
	c.mu.Unlock()

	c.report(turns)
	c.sink.Clear()
	c.wake()
}

// CloseInput marks the end of input. Run plays out the backlog and returns.
func (c *Controller) CloseInput() {
	c.mu.Lock()
	c.inputClosed = true
	c.mu.Unlock()
	c.wake()
}

// State returns a snapshot of the current state, reporting [Draining] once
// the input is closed and work remains.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, idle := c.state.(Idle); c.inputClosed && !idle {
		return Draining{Pending: c.queue.Len()}
	}
	return c.state
}

// Stats returns a snapshot of the counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Pending = c.queue.Len()
	return s
}

// Run plays clips until ctx is cancelled, the output fails with an
// [audio.DeviceError], or the input is closed and the backlog is empty.
// Other playback errors are logged and the clip counts as finished.
func (c *Controller) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		// Subscribe before evaluating so a change in between is not lost.
		changed := c.signal.Changed()
		act := c.evaluate(c.now())
		if act.clear {
			c.sink.Clear()
		}
		switch act.kind {
		case actDone:
			return nil
		case actPlay:
			if err := c.play(ctx, act.clip, act.next); err != nil {
				c.Clear()
				return err
			}
			continue
		case actWait:
			timer.Reset(act.wait)
		}

		select {
		case <-ctx.Done():
			timer.Stop()
			c.Clear()
			return ctx.Err()
		case <-c.notify:
		case <-changed:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// play writes clip to the output. next reports that the previous clip's text
// is still on screen, in which case the sink replaces it with ShowNext.
func (c *Controller) play(ctx context.Context, clip audio.Clip, next bool) error {
	log := c.log.With("clip_id", clip.ID)
	if next {
		c.sink.ShowNext(clip.Text)
	} else {
		c.sink.Show(clip.Text)
	}
	log.Debug("playing clip", "duration", clip.Duration(), "follows_displayed", next)

	err := c.out.Play(ctx, clip)
	if c.finish(c.now(), err) {
		c.sink.Clear()
	}

	var devErr *audio.DeviceError
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.As(err, &devErr):
		return fmt.Errorf("playback: %w", err)
	default:
		log.Warn("clip playback failed", "err", err)
		return nil
	}
}

// ─── State machine ───────────────────────────────────────────────────────────

type actionKind int

const (
	actIdle actionKind = iota // block until something changes
	actWait                   // block until wait elapses or something changes
	actPlay                   // play clip now
	actDone                   // input closed and nothing left
)

type action struct {
	kind  actionKind
	clip  audio.Clip
	next  bool // previous text still displayed
	wait  time.Duration
	clear bool
}

// evaluate applies any pending resume and decides what Run does next. The
// resume check and the deadline check happen under one lock acquisition, so
// a resume observed here always wins over an expiring timeout.
func (c *Controller) evaluate(now time.Time) action {
	c.mu.Lock()
	turns, dropped := c.consumeResumeLocked(now)
	act := c.nextLocked(now)
	act.clear = dropped && act.kind != actPlay
	if act.clear {
		c.displayed = false
	}
	c.mu.Unlock()

	c.report(turns)
	return act
}

func (c *Controller) nextLocked(now time.Time) action {
	switch st := c.state.(type) {
	case Waiting:
		if c.signal.Active() {
			return action{kind: actIdle}
		}
		deadline := c.deadlineLocked(st.Since)
		if now.Before(deadline) {
			return action{kind: actWait, wait: deadline.Sub(now)}
		}
		p, _ := c.queue.Pop()
		next := c.displayed
		c.displayed = true
		c.state = Playing{Clip: p.clip}
		c.started, c.queued = now, p.arrived
		if c.metrics != nil {
			c.metrics.ClipWait.Record(context.Background(), now.Sub(p.arrived).Seconds())
		}
		return action{kind: actPlay, clip: p.clip, next: next}
	case Playing:
		return action{kind: actIdle}
	}
	if c.inputClosed {
		return action{kind: actDone}
	}
	return action{kind: actIdle}
}

// finish settles the clip that just played and reports whether the
// transcript should be cleared. The resume epoch is consumed before the
// backlog is inspected.
func (c *Controller) finish(now time.Time, playErr error) (clear bool) {
	c.mu.Lock()
	st, ok := c.state.(Playing)
	if !ok {
		c.mu.Unlock()
		return false
	}
	outcome := observe.OutcomePlayed
	if playErr != nil {
		outcome = observe.OutcomeError
	} else {
		c.stats.Played++
	}
	turns := []Turn{{Clip: st.Clip, Outcome: outcome, QueuedAt: c.queued, StartedAt: c.started, EndedAt: now}}
	dropped, _ := c.consumeResumeLocked(now)
	turns = append(turns, dropped...)

	c.state = Idle{}
	c.waitOnHeadLocked()
	if _, waiting := c.state.(Waiting); !waiting {
		// Nothing follows; with a backlog the text stays up until the next
		// clip replaces it.
		clear = true
		c.displayed = false
	}
	c.mu.Unlock()

	c.report(turns)
	return clear
}

// consumeResumeLocked reacts to a resume not yet seen: pending clips are
// dropped and a Waiting controller goes Idle. dropped reports whether a
// Waiting clip was discarded. Must be called with c.mu held.
func (c *Controller) consumeResumeLocked(now time.Time) (turns []Turn, dropped bool) {
	epoch := c.signal.Epoch()
	if epoch == c.seenEpoch {
		return nil, false
	}
	c.seenEpoch = epoch

	switch st := c.state.(type) {
	case Waiting:
		n := c.queue.Len()
		turns = c.dropAllLocked(observe.OutcomeBargeIn, now)
		c.state = Idle{}
		c.countBargeIn()
		c.log.Info("barge-in: pending clips discarded", "clip_id", st.Clip.ID, "dropped", n)
		return turns, true
	case Playing:
		n := c.queue.Len()
		turns = c.dropAllLocked(observe.OutcomeBargeIn, now)
		c.countBargeIn()
		c.log.Info("barge-in: backlog cleared, current clip continues", "clip_id", st.Clip.ID, "dropped", n)
		return turns, false
	}
	return nil, false
}

func (c *Controller) countBargeIn() {
	c.stats.BargeIns++
	if c.metrics != nil {
		c.metrics.BargeIns.Add(context.Background(), 1)
	}
}

// dropAllLocked empties the backlog. Must be called with c.mu held.
func (c *Controller) dropAllLocked(outcome string, now time.Time) []Turn {
	items := c.queue.Clear()
	if len(items) == 0 {
		return nil
	}
	turns := make([]Turn, 0, len(items))
	for _, p := range items {
		turns = append(turns, turnFor(p, outcome, now))
	}
	switch outcome {
	case observe.OutcomeBargeIn:
		c.stats.Dropped += uint64(len(items))
	case observe.OutcomeCleared:
		c.stats.Cleared += uint64(len(items))
	}
	return turns
}

// waitOnHeadLocked points a non-playing controller at the oldest pending
// clip. Must be called with c.mu held.
func (c *Controller) waitOnHeadLocked() {
	if _, playing := c.state.(Playing); playing {
		return
	}
	head, ok := c.queue.Peek()
	if !ok {
		c.state = Idle{}
		return
	}
	c.state = Waiting{Since: head.arrived, Clip: head.clip}
}

// deadlineLocked is the earliest start for a clip that arrived at since.
func (c *Controller) deadlineLocked(since time.Time) time.Time {
	from := since
	if end := c.signal.LastEnd(); end.After(from) {
		from = end
	}
	return from.Add(c.cfg.Timeout)
}

func (c *Controller) report(turns []Turn) {
	for _, t := range turns {
		c.metrics.RecordClip(context.Background(), t.Outcome)
		if c.onTurn != nil {
			c.onTurn(t)
		}
	}
}

func (c *Controller) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func turnFor(p pending, outcome string, now time.Time) Turn {
	return Turn{Clip: p.clip, Outcome: outcome, QueuedAt: p.arrived, EndedAt: now}
}
