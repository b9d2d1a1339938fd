// Package segment turns a stream of fixed-duration audio frames into speech
// segments.
//
// A [Segmenter] scores each frame with a VAD session and runs a hysteresis
// state machine over the probabilities:
//
//	Silence  --p >= start-->  Speaking  --p < end-->  Trailing
//	                             ^                       |
//	                             +------p >= start-------+
//	Trailing --silence >= min_silence--> Silence (emit or discard)
//
// Every frame is also pushed into a pre-roll ring so that an emitted segment
// begins up to PreRoll before the detected onset. All timing is derived from
// summed frame durations, so identical input always yields identical
// boundaries.
package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/queue"
	"github.com/MrWong99/voxrelay/internal/speech"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/vad"
)

// scoreWarnInterval bounds how often scorer failures are logged at warn.
const scoreWarnInterval = 10 * time.Second

// Config holds the segmentation parameters. Durations are compared against
// summed frame durations.
type Config struct {
	// StartThreshold is the probability at or above which speech begins (or
	// resumes from Trailing).
	StartThreshold float64

	// EndThreshold is the probability below which Speaking moves to Trailing.
	// Must not exceed StartThreshold.
	EndThreshold float64

	// MinSpeech is the shortest utterance (onset to the start of the final
	// trailing run) that is emitted. Shorter bursts are discarded as noise.
	MinSpeech time.Duration

	// MinSilence is the trailing silence that finalises an utterance.
	MinSilence time.Duration

	// PreRoll is the audio kept ahead of the onset.
	PreRoll time.Duration

	// MaxSegment splits long utterances. Zero disables splitting.
	MaxSegment time.Duration

	// FrameDuration is the nominal duration of every input frame.
	FrameDuration time.Duration
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.StartThreshold <= 0 || c.StartThreshold > 1 {
		errs = append(errs, fmt.Errorf("start threshold %v must be in (0, 1]", c.StartThreshold))
	}
	if c.EndThreshold < 0 || c.EndThreshold > c.StartThreshold {
		errs = append(errs, fmt.Errorf("end threshold %v must be in [0, start threshold]", c.EndThreshold))
	}
	if c.MinSpeech < 0 || c.MinSilence < 0 || c.PreRoll < 0 || c.MaxSegment < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.FrameDuration <= 0 {
		errs = append(errs, errors.New("frame duration must be positive"))
	}
	return errors.Join(errs...)
}

// State is the segmenter state. It is one of [Silence], [Speaking] or
// [Trailing].
type State interface {
	isState()
}

// Silence means no utterance is open.
type Silence struct{}

// Speaking means an utterance is open and the last frame was speech.
type Speaking struct {
	// SegmentStart is the stream time of the utterance onset.
	SegmentStart time.Duration
}

// Trailing means an utterance is open and the trailing frames are silent.
type Trailing struct {
	// SilenceStart is the stream time of the first silent frame of the
	// current trailing run.
	SilenceStart time.Duration
}

func (Silence) isState()  {}
func (Speaking) isState() {}
func (Trailing) isState() {}

// Stats are cumulative segmenter counters.
type Stats struct {
	Emitted     uint64
	Discarded   uint64
	Splits      uint64
	ScoreErrors uint64
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Segmenter) { s.log = l }
}

// WithClock sets the wall clock used for speech end timestamps handed to
// the speech signal. Segment boundaries never depend on it.
func WithClock(now func() time.Time) Option {
	return func(s *Segmenter) { s.now = now }
}

// WithMetrics records segment outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Segmenter) { s.metrics = m }
}

// Segmenter is the VAD-driven frame-to-segment state machine. Process, Flush
// and Reset must be called from a single goroutine; [Segmenter.Run] is that
// goroutine in the pipeline.
type Segmenter struct {
	cfg     Config
	scorer  vad.SessionHandle
	signal  *speech.Signal
	log     *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time

	state State
	ring  *queue.Ring[audio.Frame]
	open  []audio.Frame

	clock     time.Duration // summed duration of all processed frames
	onset     time.Duration // stream time of the current utterance onset
	onsetTS   time.Duration // Timestamp of the onset frame
	silence   time.Duration // length of the current trailing run
	openLen   time.Duration // summed duration of open
	continued bool          // open follows a MaxSegment split
	nextID    uint64

	stats    Stats
	lastWarn time.Time
}

// New creates a Segmenter scoring frames with scorer and reporting onsets and
// ends on signal.
func New(cfg Config, scorer vad.SessionHandle, signal *speech.Signal, opts ...Option) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("segment: invalid config: %w", err)
	}
	if scorer == nil || signal == nil {
		return nil, errors.New("segment: scorer and signal are required")
	}
	ringCap := int((cfg.PreRoll + cfg.FrameDuration - 1) / cfg.FrameDuration)
	s := &Segmenter{
		cfg:    cfg,
		scorer: scorer,
		signal: signal,
		log:    slog.Default(),
		now:    time.Now,
		state:  Silence{},
		ring:   queue.NewRing[audio.Frame](ringCap),
		nextID: 1,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// State returns the current state.
func (s *Segmenter) State() State { return s.state }

// Stats returns the cumulative counters.
func (s *Segmenter) Stats() Stats { return s.stats }

// Process feeds one frame through the state machine. It returns a segment
// when the frame completes one.
func (s *Segmenter) Process(frame audio.Frame) (audio.Segment, bool) {
	p := s.score(frame)
	at := s.clock
	s.clock += frame.Duration()

	var (
		seg audio.Segment
		ok  bool
	)
	switch s.state.(type) {
	case Silence:
		if p >= s.cfg.StartThreshold {
			s.open = append(s.ring.Items(), frame)
			s.openLen = sumDurations(s.open)
			s.onset, s.onsetTS = at, frame.Timestamp
			s.continued = false
			s.state = Speaking{SegmentStart: at}
			s.signal.Resume()
			s.log.Debug("speech onset", "at", at, "prob", p)
		}
	case Speaking:
		s.appendOpen(frame)
		switch {
		case p < s.cfg.EndThreshold:
			s.state = Trailing{SilenceStart: at}
			s.silence = frame.Duration()
			if s.silence >= s.cfg.MinSilence {
				seg, ok = s.finalise(at)
			}
		case s.cfg.MaxSegment > 0 && s.openLen >= s.cfg.MaxSegment:
			seg, ok = s.split()
		}
	case Trailing:
		s.appendOpen(frame)
		if p >= s.cfg.StartThreshold {
			s.state = Speaking{SegmentStart: s.onset}
			s.silence = 0
			break
		}
		s.silence += frame.Duration()
		if s.silence >= s.cfg.MinSilence {
			seg, ok = s.finalise(s.state.(Trailing).SilenceStart)
		}
	}

	s.ring.Push(frame)
	return seg, ok
}

// Flush closes any open utterance as if trailing silence had been observed,
// applying the same minimum speech rule. Use it when the source ends.
func (s *Segmenter) Flush() (audio.Segment, bool) {
	switch st := s.state.(type) {
	case Speaking:
		return s.finalise(s.clock)
	case Trailing:
		return s.finalise(st.SilenceStart)
	}
	return audio.Segment{}, false
}

// Reset drops the open utterance and the pre-roll and clears the VAD
// session state. An open utterance ends the speech signal.
func (s *Segmenter) Reset() {
	if _, silent := s.state.(Silence); !silent {
		s.signal.End(s.now())
	}
	s.state = Silence{}
	s.ring.Clear()
	s.open = nil
	s.openLen, s.silence = 0, 0
	s.continued = false
	s.scorer.Reset()
}

// Run reads frames from src until ctx is done or src fails, pushing every
// segment to out. At io.EOF the open utterance is flushed and Run returns
// nil. While paused reports true, frames are read and dropped; the first
// paused frame resets the segmenter. paused may be nil.
func (s *Segmenter) Run(ctx context.Context, src audio.Connection, out *queue.Queue[audio.Segment], paused func() bool) error {
	wasPaused := false
	for {
		frame, err := src.ReadFrame(ctx)
		if errors.Is(err, io.EOF) {
			if seg, ok := s.Flush(); ok {
				if err := out.Put(ctx, seg); err != nil {
					return err
				}
			}
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if paused != nil && paused() {
			if !wasPaused {
				s.Reset()
				wasPaused = true
			}
			continue
		}
		wasPaused = false

		seg, ok := s.Process(frame)
		if !ok {
			continue
		}
		if err := out.Put(ctx, seg); err != nil {
			return err
		}
	}
}

func (s *Segmenter) score(frame audio.Frame) float64 {
	p, err := s.scorer.Score(frame.Data)
	if err == nil {
		return p
	}
	s.stats.ScoreErrors++
	if s.metrics != nil {
		s.metrics.VADErrors.Add(context.Background(), 1)
	}
	s.log.Debug("vad score failed", "seq", frame.Seq, "err", err)
	if now := s.now(); now.Sub(s.lastWarn) >= scoreWarnInterval {
		s.lastWarn = now
		s.log.Warn("vad scorer failing, treating frames as silence", "errors", s.stats.ScoreErrors, "err", err)
	}
	return 0
}

func (s *Segmenter) appendOpen(frame audio.Frame) {
	s.open = append(s.open, frame)
	s.openLen += frame.Duration()
}

// finalise closes the utterance whose speech ended at speechEnd.
func (s *Segmenter) finalise(speechEnd time.Duration) (audio.Segment, bool) {
	spoken := speechEnd - s.onset
	var (
		seg audio.Segment
		ok  bool
	)
	if !s.continued && spoken < s.cfg.MinSpeech {
		s.stats.Discarded++
		s.record(observe.OutcomeDiscarded)
		s.log.Debug("discarding short utterance", "speech", spoken, "min_speech", s.cfg.MinSpeech)
	} else {
		seg, ok = s.emit(), true
	}

	s.state = Silence{}
	s.open = nil
	s.openLen, s.silence = 0, 0
	s.continued = false
	s.signal.End(s.now())
	return seg, ok
}

// split emits the open buffer and continues the utterance with an empty one.
func (s *Segmenter) split() (audio.Segment, bool) {
	seg := s.emit()
	s.stats.Splits++
	s.record(observe.OutcomeSplit)
	s.open = nil
	s.openLen = 0
	s.continued = true
	s.log.Info("utterance reached max segment length, splitting", "segment_id", seg.ID, "length", seg.Duration())
	return seg, true
}

func (s *Segmenter) emit() audio.Segment {
	seg := audio.Segment{
		ID:     s.nextID,
		Onset:  s.onsetTS,
		Frames: s.open,
	}
	if len(s.open) > 0 {
		seg.Start = s.open[0].Timestamp
		seg.SampleRate = s.open[0].SampleRate
	}
	s.nextID++
	s.stats.Emitted++
	s.record(observe.OutcomeEmitted)
	if s.metrics != nil {
		s.metrics.SegmentLength.Record(context.Background(), seg.Duration().Seconds())
	}
	s.log.Debug("segment emitted", "segment_id", seg.ID, "frames", len(seg.Frames), "length", seg.Duration())
	return seg
}

func (s *Segmenter) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSegment(context.Background(), outcome)
	}
}

func sumDurations(frames []audio.Frame) time.Duration {
	var d time.Duration
	for _, f := range frames {
		d += f.Duration()
	}
	return d
}
