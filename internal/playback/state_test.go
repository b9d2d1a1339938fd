package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/speech"
	"github.com/MrWong99/voxrelay/pkg/audio"
)

// The tests in this file drive evaluate and finish directly with a fake
// clock, so every transition is deterministic.

const timeout = time.Second

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type playerFunc func(context.Context, audio.Clip) error

func (f playerFunc) Play(ctx context.Context, clip audio.Clip) error {
	if f == nil {
		return nil
	}
	return f(ctx, clip)
}

type harness struct {
	c      *Controller
	signal *speech.Signal
	clock  time.Time

	mu    sync.Mutex
	turns []Turn
}

func newHarness(t *testing.T, maxQueue int) *harness {
	t.Helper()
	h := &harness{signal: speech.NewSignal(), clock: t0}
	c, err := New(Config{Timeout: timeout, MaxQueue: maxQueue}, playerFunc(nil), nil, h.signal,
		WithClock(func() time.Time { return h.clock }),
		WithTurnHook(func(tr Turn) {
			h.mu.Lock()
			h.turns = append(h.turns, tr)
			h.mu.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.c = c
	return h
}

func (h *harness) at(d time.Duration) time.Time { return t0.Add(d) }

func (h *harness) enqueue(d time.Duration, id uint64) {
	h.clock = h.at(d)
	h.c.Enqueue(audio.Clip{ID: id, Text: "clip"})
}

func (h *harness) outcomes() map[uint64]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[uint64]string, len(h.turns))
	for _, tr := range h.turns {
		out[tr.Clip.ID] = tr.Outcome
	}
	return out
}

func mustState[S State](t *testing.T, c *Controller) S {
	t.Helper()
	st, ok := c.State().(S)
	if !ok {
		var want S
		t.Fatalf("state = %T, want %T", c.State(), want)
	}
	return st
}

func TestTransitions_ClipWaitsForTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 4)

	h.enqueue(0, 1)
	w := mustState[Waiting](t, h.c)
	if w.Clip.ID != 1 || !w.Since.Equal(t0) {
		t.Fatalf("waiting = %+v", w)
	}

	act := h.c.evaluate(h.at(timeout - time.Millisecond))
	if act.kind != actWait || act.wait != time.Millisecond {
		t.Fatalf("before deadline: action = %+v, want wait 1ms", act)
	}

	act = h.c.evaluate(h.at(timeout))
	if act.kind != actPlay || act.clip.ID != 1 || act.next {
		t.Fatalf("at deadline: action = %+v, want play clip 1 with Show", act)
	}
	mustState[Playing](t, h.c)

	if clear := h.c.finish(h.at(2*timeout), nil); !clear {
		t.Error("finishing the last clip should clear the transcript")
	}
	mustState[Idle](t, h.c)
	if got := h.outcomes()[1]; got != observe.OutcomePlayed {
		t.Errorf("outcome = %q, want played", got)
	}
	if h.c.Stats().Played != 1 {
		t.Errorf("Played = %d", h.c.Stats().Played)
	}
}

func TestTransitions_ResumeWhileWaitingDiscards(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 4)

	h.enqueue(0, 1)
	h.enqueue(100*time.Millisecond, 2)
	h.signal.Resume()

	act := h.c.evaluate(h.at(500 * time.Millisecond))
	if act.kind != actIdle || !act.clear {
		t.Fatalf("action = %+v, want idle with clear", act)
	}
	mustState[Idle](t, h.c)
	out := h.outcomes()
	if out[1] != observe.OutcomeBargeIn || out[2] != observe.OutcomeBargeIn {
		t.Errorf("outcomes = %v, want both barge_in", out)
	}
	if st := h.c.Stats(); st.BargeIns != 1 || st.Dropped != 2 || st.Pending != 0 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestTransitions_ResumeAtDeadlineWins(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 4)

	h.enqueue(0, 1)
	h.signal.Resume()
	h.signal.End(h.at(0))

	act := h.c.evaluate(h.at(timeout))
	if act.kind == actPlay {
		t.Fatal("clip played although a resume arrived before the deadline check")
	}
	if got := h.outcomes()[1]; got != observe.OutcomeBargeIn {
		t.Errorf("outcome = %q, want barge_in", got)
	}
}

func TestTransitions_ResumeWhilePlayingClearsBacklog(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 4)

	h.enqueue(0, 1)
	if act := h.c.evaluate(h.at(timeout)); act.kind != actPlay {
		t.Fatalf("action = %+v, want play", act)
	}
	h.enqueue(timeout+100*time.Millisecond, 2)
	h.enqueue(timeout+200*time.Millisecond, 3)
	h.signal.Resume()
	h.signal.End(h.at(timeout + 300*time.Millisecond))

	if clear := h.c.finish(h.at(2*timeout), nil); !clear {
		t.Error("expected clear after the backlog was dropped")
	}
	mustState[Idle](t, h.c)
	out := h.outcomes()
	if out[1] != observe.OutcomePlayed {
		t.Errorf("playing clip outcome = %q, want played", out[1])
	}
	if out[2] != observe.OutcomeBargeIn || out[3] != observe.OutcomeBargeIn {
		t.Errorf("backlog outcomes = %v, want barge_in", out)
	}
}

func TestTransitions_ClipAfterResumeSurvives(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 4)

	h.enqueue(0, 1)
	h.c.evaluate(h.at(timeout))
	h.signal.Resume()
	h.signal.End(h.at(timeout + 100*time.Millisecond))
	h.enqueue(timeout+200*time.Millisecond, 2)

	h.c.finish(h.at(timeout+300*time.Millisecond), nil)
	w := mustState[Waiting](t, h.c)
	if w.Clip.ID != 2 {
		t.Fatalf("waiting on clip %d, want 2", w.Clip.ID)
	}
	if _, dropped := h.outcomes()[2]; dropped {
		t.Error("clip enqueued after the resume was dropped")
	}
}

func TestTransitions_ContinuousPlayback(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 4)

	h.enqueue(0, 1)
	h.c.evaluate(h.at(timeout))
	h.enqueue(timeout, 2)

	// Clip 2 is past its deadline when clip 1 ends.
	if clear := h.c.finish(h.at(3*timeout), nil); clear {
		t.Error("no clear expected with a pending clip")
	}
	act := h.c.evaluate(h.at(3 * timeout))
	if act.kind != actPlay || act.clip.ID != 2 || !act.next {
		t.Fatalf("action = %+v, want clip 2 with ShowNext", act)
	}
}

func TestTransitions_NextClipWaitsItsOwnTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 4)

	h.enqueue(0, 1)
	h.c.evaluate(h.at(timeout))
	h.enqueue(timeout+500*time.Millisecond, 2)

	h.c.finish(h.at(timeout+600*time.Millisecond), nil)
	w := mustState[Waiting](t, h.c)
	if !w.Since.Equal(h.at(timeout + 500*time.Millisecond)) {
		t.Errorf("Since = %v, want the clip's own arrival", w.Since)
	}
	act := h.c.evaluate(h.at(timeout + 600*time.Millisecond))
	if act.kind != actWait || act.wait != 900*time.Millisecond {
		t.Fatalf("action = %+v, want wait 900ms", act)
	}
	// Clip 1's text stays up while clip 2 waits, so clip 2 replaces it.
	act = h.c.evaluate(h.at(2*timeout + 500*time.Millisecond))
	if act.kind != actPlay || act.clip.ID != 2 || !act.next {
		t.Fatalf("action = %+v, want clip 2 with ShowNext", act)
	}
}

func TestTransitions_ShowAfterTranscriptCleared(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		clear func(h *harness)
	}{
		{"backlog ran dry", func(h *harness) {
			h.c.finish(h.at(2*timeout), nil)
		}},
		{"barge-in while next clip waits", func(h *harness) {
			h.enqueue(timeout+100*time.Millisecond, 2)
			h.c.finish(h.at(2*timeout), nil)
			h.signal.Resume()
			h.signal.End(h.at(2 * timeout))
			if act := h.c.evaluate(h.at(2 * timeout)); !act.clear {
				t.Fatalf("action = %+v, want transcript clear", act)
			}
		}},
		{"Clear while next clip waits", func(h *harness) {
			h.enqueue(timeout+100*time.Millisecond, 2)
			h.c.finish(h.at(2*timeout), nil)
			h.c.Clear()
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, 4)
			h.enqueue(0, 1)
			h.c.evaluate(h.at(timeout))
			tc.clear(h)

			h.enqueue(5*timeout, 3)
			act := h.c.evaluate(h.at(6 * timeout))
			if act.kind != actPlay || act.clip.ID != 3 || act.next {
				t.Fatalf("action = %+v, want clip 3 with Show", act)
			}
		})
	}
}

func TestTransitions_ActiveSpeakerHoldsPlayback(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 4)

	h.signal.Resume()
	h.enqueue(0, 1)
	mustState[Waiting](t, h.c)

	if act := h.c.evaluate(h.at(10 * timeout)); act.kind != actIdle {
		t.Fatalf("action while speaker active = %+v, want idle", act)
	}

	h.signal.End(h.at(10 * timeout))
	if act := h.c.evaluate(h.at(10*timeout + timeout/2)); act.kind != actWait || act.wait != timeout/2 {
		t.Fatalf("action = %+v, want wait measured from the speech end", act)
	}
	if act := h.c.evaluate(h.at(11 * timeout)); act.kind != actPlay {
		t.Fatalf("action = %+v, want play", act)
	}
}

func TestTransitions_EvictsOldestPending(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 2)

	h.enqueue(0, 1)
	h.enqueue(10*time.Millisecond, 2)
	h.enqueue(20*time.Millisecond, 3)

	if got := h.outcomes()[1]; got != observe.OutcomeEvicted {
		t.Errorf("oldest outcome = %q, want evicted", got)
	}
	w := mustState[Waiting](t, h.c)
	if w.Clip.ID != 2 || !w.Since.Equal(h.at(10*time.Millisecond)) {
		t.Errorf("waiting = %+v, want clip 2", w)
	}
	if st := h.c.Stats(); st.Evicted != 1 || st.Pending != 2 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestTransitions_EvictionNeverTouchesPlayingClip(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1)

	h.enqueue(0, 1)
	h.c.evaluate(h.at(timeout))
	h.enqueue(timeout, 2)
	h.enqueue(timeout, 3)

	p := mustState[Playing](t, h.c)
	if p.Clip.ID != 1 {
		t.Fatalf("playing clip %d, want 1", p.Clip.ID)
	}
	out := h.outcomes()
	if out[2] != observe.OutcomeEvicted {
		t.Errorf("outcomes = %v, want clip 2 evicted", out)
	}
	if _, ok := out[1]; ok {
		t.Error("playing clip was settled early")
	}
}

func TestTransitions_ClearAndCloseInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 4)

	h.enqueue(0, 1)
	h.enqueue(0, 2)
	h.c.Clear()
	mustState[Idle](t, h.c)
	if st := h.c.Stats(); st.Cleared != 2 {
		t.Errorf("Cleared = %d, want 2", st.Cleared)
	}

	h.enqueue(0, 3)
	h.c.CloseInput()
	if d := mustState[Draining](t, h.c); d.Pending != 1 {
		t.Errorf("Draining.Pending = %d, want 1", d.Pending)
	}
	h.enqueue(0, 4)
	if h.c.Stats().Pending != 1 {
		t.Error("clip accepted after CloseInput")
	}

	h.c.evaluate(h.at(timeout))
	if d := mustState[Draining](t, h.c); d.Pending != 0 {
		t.Errorf("Draining.Pending while playing = %d, want 0", d.Pending)
	}
	h.c.finish(h.at(2*timeout), nil)
	mustState[Idle](t, h.c)
	if act := h.c.evaluate(h.at(2 * timeout)); act.kind != actDone {
		t.Errorf("action = %+v, want done", act)
	}
}
