// Package app wires all voxrelay subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds every subsystem from
// the config and the registry-created providers, Run drives them until the
// input ends or the context is cancelled, and Shutdown tears everything down
// in order.
//
// For testing, inject doubles via functional options (WithJournal, WithBot,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/discord"
	"github.com/MrWong99/voxrelay/internal/health"
	"github.com/MrWong99/voxrelay/internal/journal"
	"github.com/MrWong99/voxrelay/internal/journal/postgres"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/pipeline"
	"github.com/MrWong99/voxrelay/internal/resilience"
	"github.com/MrWong99/voxrelay/internal/transcript"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/provider/vad"
)

// adminGrace bounds the admin server's graceful shutdown.
const adminGrace = 5 * time.Second

// Providers holds one value per collaborator slot, populated by main.go via
// the config registry. All four are required.
type Providers struct {
	STT   stt.Provider
	TTS   tts.Provider
	VAD   vad.Engine
	Audio audio.Platform
}

// Bot is the chat surface that carries the /voice commands.
// [*discord.Bot] satisfies it.
type Bot interface {
	Router() *discord.CommandRouter
	Permissions() *discord.PermissionChecker
	Run(ctx context.Context) error
	Close() error
}

var _ Bot = (*discord.Bot)(nil)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics
	sessionID string

	// Subsystems; initialised in New, torn down in Shutdown.
	sttGuard  *resilience.STTGuard
	ttsGuard  *resilience.TTSGuard
	corrector *transcript.Corrector
	journal   journal.Store
	recorder  *journal.Recorder
	pipeline  *pipeline.Pipeline
	admin     *health.Server
	bot       Bot

	metricsHandler http.Handler

	// closers run in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithJournal injects a turn store instead of creating one from config.
// The caller keeps ownership; Shutdown does not close it.
func WithJournal(s journal.Store) Option {
	return func(a *App) { a.journal = s }
}

// WithBot mounts the /voice commands on b. Shutdown closes it.
func WithBot(b Bot) Option {
	return func(a *App) { a.bot = b }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on the admin server's /metrics route.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithSessionID fixes the journal session ID. Default: a random UUID.
func WithSessionID(id string) Option {
	return func(a *App) { a.sessionID = id }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Everything that can
// fail is built here so that a broken config is reported before any device
// is opened.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.TTS == nil {
		return nil, errors.New("app: stt and tts providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.sessionID == "" {
		a.sessionID = journal.NewSessionID()
	}
	a.log = a.log.With("session_id", a.sessionID)

	// ── 1. Circuit breakers ──────────────────────────────────────────────
	a.initGuards()

	// ── 2. Vocabulary correction ─────────────────────────────────────────
	a.corrector = transcript.NewCorrector(cfg.Transcript.Vocabulary)

	// ── 3. Turn journal ──────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	// ── 4. Pipeline ──────────────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 5. Admin server ──────────────────────────────────────────────────
	a.initAdmin()

	// ── 6. Chat commands ─────────────────────────────────────────────────
	if a.bot != nil {
		discord.NewVoiceCommands(a.pipeline, a.bot.Permissions()).Register(a.bot.Router())
		a.closers = append(a.closers, a.bot.Close)
	}

	// Providers holding native resources (whisper.cpp models) are released
	// last.
	for _, p := range []any{providers.STT, providers.TTS, providers.VAD} {
		if c, ok := p.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initGuards() {
	onChange := func(name string, from, to resilience.State) {
		a.log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
	}
	rc := a.cfg.Resilience
	a.sttGuard = resilience.GuardSTT(a.providers.STT, resilience.CircuitBreakerConfig{
		Name:          "stt/" + a.cfg.STT.Name,
		MaxFailures:   rc.MaxFailures,
		ResetTimeout:  config.Seconds(rc.ResetTimeoutSeconds),
		OnStateChange: onChange,
	})
	a.ttsGuard = resilience.GuardTTS(a.providers.TTS, resilience.CircuitBreakerConfig{
		Name:          "tts/" + a.cfg.TTS.Name,
		MaxFailures:   rc.MaxFailures,
		ResetTimeout:  config.Seconds(rc.ResetTimeoutSeconds),
		OnStateChange: onChange,
	})
}

// initJournal picks the injected store, PostgreSQL when a DSN is configured,
// or an in-memory ring.
func (a *App) initJournal(ctx context.Context) error {
	if a.journal == nil {
		if dsn := a.cfg.Journal.PostgresDSN; dsn != "" {
			store, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.journal = store
			a.closers = append(a.closers, store.Close)
			a.log.Info("journal: postgres")
		} else {
			a.journal = journal.NewMemStore(a.cfg.Journal.MemoryTurns)
		}
	}
	a.recorder = journal.NewRecorder(a.journal, a.sessionID,
		journal.WithLogger(a.log.With("component", "journal")))
	return nil
}

func (a *App) initPipeline() error {
	cfg := a.cfg
	keywords := make([]stt.KeywordBoost, 0, len(cfg.STT.Keywords))
	for _, kw := range cfg.STT.Keywords {
		keywords = append(keywords, stt.KeywordBoost{Keyword: kw, Boost: 1})
	}

	p, err := pipeline.New(PipelineConfig(cfg), pipeline.Deps{
		Platform: a.providers.Audio,
		VAD:      a.providers.VAD,
		STT:      a.sttGuard,
		STTName:  cfg.STT.Name,
		TTS:      a.ttsGuard,
		TTSName:  cfg.TTS.Name,
		Voice: tts.VoiceProfile{
			ID:          cfg.TTS.Voice.ID,
			Provider:    cfg.TTS.Name,
			PitchShift:  cfg.TTS.Voice.PitchShift,
			SpeedFactor: cfg.TTS.Voice.SpeedFactor,
		},
		Language:       cfg.STT.Language,
		Keywords:       keywords,
		Corrector:      a.corrector,
		TranscriptPath: cfg.Transcript.File,
	},
		pipeline.WithLogger(a.log),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithTurnHook(a.recorder.Hook),
	)
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

func (a *App) initAdmin() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}
	checks := health.New(
		health.Checker{Name: "pipeline", Check: func(context.Context) error {
			if !a.pipeline.Stats().Running {
				return errors.New("not running")
			}
			return nil
		}},
		health.Checker{Name: "stt", Check: breakerCheck(a.sttGuard.Breaker())},
		health.Checker{Name: "tts", Check: breakerCheck(a.ttsGuard.Breaker())},
	)
	opts := []health.ServerOption{
		health.WithAdmin(health.NewAdmin(a.pipeline, health.WithJournal(a.journal, a.sessionID))),
		health.WithObserve(a.metrics),
	}
	if a.metricsHandler != nil {
		opts = append(opts, health.WithMetricsHandler(a.metricsHandler))
	}
	a.admin = health.NewServer(a.cfg.Server.ListenAddr, checks, opts...)
}

func breakerCheck(cb *resilience.CircuitBreaker) func(context.Context) error {
	return func(context.Context) error {
		if s := cb.State(); s == resilience.StateOpen {
			return fmt.Errorf("circuit %s", s)
		}
		return nil
	}
}

// PipelineConfig converts the loaded config into the pipeline's
// configuration.
func PipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		StartThreshold:      cfg.VAD.StartThreshold,
		EndThreshold:        cfg.VAD.EndThreshold,
		MinSpeech:           config.Millis(cfg.VAD.MinSpeechMs),
		MinSilence:          config.Millis(cfg.VAD.MinSilenceMs),
		PreRoll:             config.Seconds(cfg.VAD.PrebufferSeconds),
		MaxSegment:          config.Millis(cfg.VAD.MaxSegmentMs),
		VADEndTimeout:       config.Seconds(cfg.Playback.VADEndTimeoutSeconds),
		QueueMaxItems:       cfg.Playback.QueueMaxItems,
		NextTranscriptDelay: config.Seconds(cfg.Transcript.NextTranscriptDelaySeconds),
		ClearDelay:          config.Seconds(cfg.Transcript.ClearDelaySeconds),
		FrameDuration:       cfg.Audio.FrameDuration(),
		SampleRate:          cfg.Audio.SampleRate,
		STTWorkers:          cfg.STT.Workers,
		TTSWorkers:          cfg.TTS.Workers,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Pipeline returns the relay pipeline, e.g. for the pause hotkey.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// SessionID identifies this run in the journal and the logs.
func (a *App) SessionID() string { return a.sessionID }

// Journal returns the turn store.
func (a *App) Journal() journal.Store { return a.journal }

// Recorder returns the journal recorder.
func (a *App) Recorder() *journal.Recorder { return a.recorder }

// ApplyConfig applies the live-reloadable parts of a changed config and
// logs the sections that need a restart. It returns the diff.
func (a *App) ApplyConfig(next *config.Config) config.ConfigDiff {
	d := config.Diff(a.cfg, next)
	if d.VocabularyChanged {
		a.corrector.SetVocabulary(d.NewVocabulary)
		a.log.Info("vocabulary reloaded", "terms", len(d.NewVocabulary))
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changed, restart required", "sections", strings.Join(d.RestartRequired, ","))
	}
	return d
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run drives every subsystem until ctx is cancelled, the input ends, or a
// device fails. The pipeline's error is returned; the other subsystems stop
// when the pipeline does.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()
	// The recorder outlives the pipeline so turns hooked while it winds
	// down are still written.
	recCtx, stopRecorder := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRecorder()

	g.Go(func() error {
		defer stop()
		defer stopRecorder()
		return a.pipeline.Run(runCtx)
	})
	g.Go(func() error {
		return a.recorder.Run(recCtx)
	})
	if a.admin != nil {
		g.Go(func() error {
			if err := a.admin.Serve(runCtx, adminGrace); err != nil {
				return fmt.Errorf("app: admin server: %w", err)
			}
			return nil
		})
	}
	if a.bot != nil {
		g.Go(func() error { return a.bot.Run(runCtx) })
	}

	a.log.Info("voxrelay running",
		"platform", a.cfg.Audio.Platform,
		"stt", a.cfg.STT.Name,
		"tts", a.cfg.TTS.Name,
	)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. If ctx expires before all
// closers finish, the remaining ones are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		a.recorder.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete",
			"turns_written", a.recorder.Written(),
			"turns_dropped", a.recorder.Dropped(),
		)
	})
	return shutdownErr
}

// closeAll runs the closers collected so far after a failed New.
func (a *App) closeAll() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.log.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}
