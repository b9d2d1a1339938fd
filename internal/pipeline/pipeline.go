// Package pipeline wires the voice relay stages together and supervises
// them.
//
//	device ─frames─► segmenter ─SegmentQueue─► STT ─TranscriptQueue─► TTS ─► playback ─► device
//	                     │                                                      ▲
//	                     └──────────────── speech resumed ──────────────────────┘
//
// Each stage runs on its own goroutine under one errgroup. Stages talk
// through bounded queues only; the speech signal is the single upstream
// feedback path. Collaborator failures drop the affected item and never stop
// the pipeline. Only device failures end [Pipeline.Run] with an error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/playback"
	"github.com/MrWong99/voxrelay/internal/queue"
	"github.com/MrWong99/voxrelay/internal/segment"
	"github.com/MrWong99/voxrelay/internal/speech"
	"github.com/MrWong99/voxrelay/internal/transcript"
	"github.com/MrWong99/voxrelay/internal/worker"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/provider/vad"
)

// ErrCollaborator marks a failed STT or TTS call. Such errors are logged and
// counted; the item is dropped and the pipeline continues.
var ErrCollaborator = worker.ErrCollaborator

// ErrAlreadyRunning is returned by Run when the pipeline is already running.
var ErrAlreadyRunning = errors.New("pipeline: already running")

// Config is the immutable pipeline configuration.
type Config struct {
	// StartThreshold and EndThreshold are the VAD hysteresis thresholds.
	StartThreshold float64
	EndThreshold   float64

	// MinSpeech is the shortest utterance that is transcribed.
	MinSpeech time.Duration

	// MinSilence is the trailing silence that ends an utterance.
	MinSilence time.Duration

	// PreRoll is the audio kept ahead of a detected onset.
	PreRoll time.Duration

	// VADEndTimeout is the silence required before a clip plays.
	VADEndTimeout time.Duration

	// QueueMaxItems bounds every queue between stages.
	QueueMaxItems int

	// NextTranscriptDelay delays the transcript of a clip that follows
	// another without a gap.
	NextTranscriptDelay time.Duration

	// ClearDelay delays clearing the transcript once playback goes idle.
	ClearDelay time.Duration

	// FrameDuration and SampleRate describe the input frames.
	FrameDuration time.Duration
	SampleRate    int

	// MaxSegment splits long utterances. Zero disables splitting.
	MaxSegment time.Duration

	// STTWorkers and TTSWorkers set the number of concurrent collaborator
	// calls per stage.
	STTWorkers int
	TTSWorkers int
}

func (c Config) segmentConfig() segment.Config {
	return segment.Config{
		StartThreshold: c.StartThreshold,
		EndThreshold:   c.EndThreshold,
		MinSpeech:      c.MinSpeech,
		MinSilence:     c.MinSilence,
		PreRoll:        c.PreRoll,
		MaxSegment:     c.MaxSegment,
		FrameDuration:  c.FrameDuration,
	}
}

func (c Config) playbackConfig() playback.Config {
	return playback.Config{Timeout: c.VADEndTimeout, MaxQueue: c.QueueMaxItems}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	errs := []error{
		c.segmentConfig().Validate(),
		c.playbackConfig().Validate(),
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", c.SampleRate))
	}
	if c.NextTranscriptDelay < 0 || c.ClearDelay < 0 {
		errs = append(errs, errors.New("transcript delays must not be negative"))
	}
	return errors.Join(errs...)
}

// Deps are the collaborators of a pipeline.
type Deps struct {
	// Platform opens the input and output devices.
	Platform audio.Platform

	// VAD scores frames.
	VAD vad.Engine

	// STT and TTS are the speech collaborators. STTName and TTSName label
	// logs and metrics.
	STT     stt.Provider
	STTName string
	TTS     tts.Provider
	TTSName string

	// Voice is passed to every synthesis call.
	Voice tts.VoiceProfile

	// Language and Keywords are passed to every transcription call.
	Language string
	Keywords []stt.KeywordBoost

	// Corrector applies vocabulary correction to transcripts. Optional.
	Corrector *transcript.Corrector

	// Sink receives the playing clip's text. When nil and TranscriptPath is
	// set, Run opens a [transcript.FileSink] at that path for its lifetime.
	Sink           transcript.Sink
	TranscriptPath string
}

func (d Deps) validate() error {
	var errs []error
	if d.Platform == nil {
		errs = append(errs, errors.New("audio platform is required"))
	}
	if d.VAD == nil {
		errs = append(errs, errors.New("vad engine is required"))
	}
	if d.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if d.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	return errors.Join(errs...)
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithMetrics records stage metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTurnHook receives the terminal record of every clip.
func WithTurnHook(fn func(playback.Turn)) Option {
	return func(p *Pipeline) { p.onTurn = fn }
}

// Stats is a point-in-time view of a pipeline.
type Stats struct {
	Running bool
	Paused  bool

	// SpeechOnsets counts detected speech onsets; SpeakerActive reports
	// whether the speaker is talking right now.
	SpeechOnsets  uint64
	SpeakerActive bool

	SegmentQueue    int
	TranscriptQueue int
	QueueCapacity   int

	STT      worker.Stats
	TTS      worker.Stats
	Playback playback.Stats

	// State is the playback state: "idle", "waiting", "playing" or
	// "draining".
	State string
}

// Pipeline is one voice relay run. Pause, Resume, Paused and Stats are safe
// for concurrent use with Run.
type Pipeline struct {
	cfg     Config
	deps    Deps
	log     *slog.Logger
	metrics *observe.Metrics
	onTurn  func(playback.Turn)

	signal *speech.Signal
	paused atomic.Bool

	mu  sync.Mutex
	cur *stages
}

// stages are the parts of a running pipeline that Stats and Pause reach.
type stages struct {
	segments    *queue.Queue[audio.Segment]
	transcripts *queue.Queue[audio.Transcript]
	stt         *worker.Stage[audio.Segment, audio.Transcript]
	tts         *worker.Stage[audio.Transcript, audio.Clip]
	playback    *playback.Controller
}

// New validates cfg and deps and returns a pipeline ready to [Pipeline.Run].
func New(cfg Config, deps Deps, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: invalid config: %w", err)
	}
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	p := &Pipeline{
		cfg:    cfg,
		deps:   deps,
		log:    slog.Default(),
		signal: speech.NewSignal(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Signal returns the speech signal shared by the segmenter and playback.
func (p *Pipeline) Signal() *speech.Signal { return p.signal }

// Run opens the devices and runs every stage until ctx is cancelled, the
// input ends, or a device fails. Cancellation and end of input return nil
// once the stages have stopped; a device failure returns an error wrapping
// the *[audio.DeviceError]. Device handles are released on every path.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	conn, err := p.deps.Platform.Connect(ctx)
	if err != nil {
		var devErr *audio.DeviceError
		if !errors.As(err, &devErr) {
			err = audio.NewDeviceError("open", "platform", err)
		}
		return fmt.Errorf("pipeline: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			p.log.Warn("closing audio connection", "err", cerr)
		}
	}()

	session, err := p.deps.VAD.NewSession(vad.Config{
		SampleRate:  p.cfg.SampleRate,
		FrameSizeMs: int(p.cfg.FrameDuration / time.Millisecond),
	})
	if err != nil {
		return fmt.Errorf("pipeline: open vad session: %w", err)
	}
	defer session.Close()

	sink := p.deps.Sink
	if sink == nil {
		sink = transcript.Nop{}
		if p.deps.TranscriptPath != "" {
			fs, err := transcript.Open(p.deps.TranscriptPath, p.cfg.NextTranscriptDelay, p.cfg.ClearDelay)
			if err != nil {
				return fmt.Errorf("pipeline: %w", err)
			}
			defer func() {
				if cerr := fs.Close(); cerr != nil {
					p.log.Warn("closing transcript file", "err", cerr)
				}
			}()
			sink = fs
		}
	}

	seg, err := segment.New(p.cfg.segmentConfig(), session, p.signal,
		segment.WithLogger(p.log.With("stage", "segment")),
		segment.WithMetrics(p.metrics),
	)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	ctrl, err := playback.New(p.cfg.playbackConfig(), conn, sink, p.signal,
		playback.WithLogger(p.log.With("stage", "playback")),
		playback.WithMetrics(p.metrics),
		playback.WithTurnHook(p.onTurn),
	)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	st := &stages{
		segments:    queue.New[audio.Segment](p.cfg.QueueMaxItems),
		transcripts: queue.New[audio.Transcript](p.cfg.QueueMaxItems),
		stt: worker.NewSTT(p.deps.STT,
			worker.WithWorkers(p.cfg.STTWorkers),
			worker.WithProviderName(p.deps.STTName),
			worker.WithLanguage(p.deps.Language),
			worker.WithKeywords(p.deps.Keywords),
			worker.WithCorrector(p.deps.Corrector),
			worker.WithLogger(p.log.With("stage", "stt")),
			worker.WithMetrics(p.metrics),
		),
		tts: worker.NewTTS(p.deps.TTS, p.deps.Voice,
			worker.WithWorkers(p.cfg.TTSWorkers),
			worker.WithProviderName(p.deps.TTSName),
			worker.WithLogger(p.log.With("stage", "tts")),
			worker.WithMetrics(p.metrics),
		),
		playback: ctrl,
	}

	p.mu.Lock()
	if p.cur != nil {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.cur = st
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.cur = nil
		p.mu.Unlock()
	}()

	if p.metrics != nil {
		p.metrics.ActivePipelines.Add(ctx, 1)
		defer p.metrics.ActivePipelines.Add(context.Background(), -1)
	}
	p.log.Info("pipeline started",
		"sample_rate", p.cfg.SampleRate,
		"frame", p.cfg.FrameDuration,
		"stt", p.deps.STTName,
		"tts", p.deps.TTSName,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer st.segments.Close()
		return seg.Run(gctx, conn, st.segments, p.paused.Load)
	})
	g.Go(func() error {
		defer st.transcripts.Close()
		return st.stt.Run(gctx, st.segments, func(ctx context.Context, tr audio.Transcript) error {
			if p.paused.Load() {
				p.log.Debug("transcript dropped while paused", "transcript_id", tr.ID)
				return nil
			}
			return st.transcripts.Put(ctx, tr)
		})
	})
	g.Go(func() error {
		defer ctrl.CloseInput()
		return st.tts.Run(gctx, st.transcripts, func(_ context.Context, c audio.Clip) error {
			if p.paused.Load() {
				p.log.Debug("clip dropped while paused", "clip_id", c.ID)
				return nil
			}
			ctrl.Enqueue(c)
			return nil
		})
	})
	g.Go(func() error {
		return ctrl.Run(gctx)
	})

	err = g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	p.log.Info("pipeline stopped")
	return nil
}

// Pause stops frame processing and discards everything in flight: queued
// segments and transcripts, pending clips and the transcript file. The
// segmenter resets on the next frame. A clip that is playing finishes.
func (p *Pipeline) Pause() {
	if p.paused.Swap(true) {
		return
	}
	p.mu.Lock()
	st := p.cur
	p.mu.Unlock()

	var segments, transcripts int
	if st != nil {
		segments = len(st.segments.Drain())
		transcripts = len(st.transcripts.Drain())
		st.playback.Clear()
	}
	p.log.Info("pipeline paused", "dropped_segments", segments, "dropped_transcripts", transcripts)
}

// Resume re-enables frame processing after [Pipeline.Pause].
func (p *Pipeline) Resume() {
	if !p.paused.Swap(false) {
		return
	}
	p.log.Info("pipeline resumed")
}

// Toggle flips between paused and running and reports whether the pipeline
// is now paused.
func (p *Pipeline) Toggle() bool {
	if p.paused.Load() {
		p.Resume()
		return false
	}
	p.Pause()
	return true
}

// Paused reports whether the pipeline is paused.
func (p *Pipeline) Paused() bool { return p.paused.Load() }

// Stats returns a snapshot of queue depths, stage counters and state.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	st := p.cur
	p.mu.Unlock()

	s := Stats{
		Paused:        p.paused.Load(),
		SpeechOnsets:  p.signal.Epoch(),
		SpeakerActive: p.signal.Active(),
		QueueCapacity: p.cfg.QueueMaxItems,
		State:         "idle",
	}
	if st == nil {
		return s
	}
	s.Running = true
	s.SegmentQueue = st.segments.Len()
	s.TranscriptQueue = st.transcripts.Len()
	s.STT = st.stt.Stats()
	s.TTS = st.tts.Stats()
	s.Playback = st.playback.Stats()
	s.State = stateName(st.playback.State())
	return s
}

func stateName(s playback.State) string {
	switch s.(type) {
	case playback.Waiting:
		return "waiting"
	case playback.Playing:
		return "playing"
	case playback.Draining:
		return "draining"
	default:
		return "idle"
	}
}
