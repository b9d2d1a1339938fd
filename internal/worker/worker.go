// Package worker runs the collaborator stages of the pipeline: speech
// segments to transcripts ([NewSTT]) and transcripts to clips ([NewTTS]).
//
// A [Stage] pulls items from a [queue.Queue], processes them on one or more
// goroutines and hands results downstream in input order. A failed or empty
// item is dropped and logged; nothing is retried and no error crosses the
// stage boundary.
//
//	in ──► dispatcher ──► worker 1..N ──► slots (input order) ──► emit
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/queue"
	"github.com/MrWong99/voxrelay/internal/transcript"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

// ErrCollaborator marks a failed STT or TTS call. The item is dropped and the
// stage keeps running.
var ErrCollaborator = errors.New("collaborator call failed")

// Stats are cumulative stage counters.
type Stats struct {
	// Done counts items handed downstream.
	Done uint64

	// Empty counts items dropped because the collaborator returned nothing.
	Empty uint64

	// Failed counts items dropped because the collaborator call failed.
	Failed uint64

	// InFlight is the number of items currently being processed.
	InFlight int64
}

// Stage processes items of type In into items of type Out with a fixed
// number of workers. Results are emitted in the order their inputs were
// dequeued regardless of which worker finishes first.
type Stage[In, Out any] struct {
	name    string
	workers int
	process func(ctx context.Context, item In) (Out, bool)

	done     atomic.Uint64
	empty    atomic.Uint64
	failed   atomic.Uint64
	inFlight atomic.Int64
}

// Name returns the stage name ("stt" or "tts").
func (s *Stage[In, Out]) Name() string { return s.name }

// Workers returns the number of worker goroutines.
func (s *Stage[In, Out]) Workers() int { return s.workers }

// Stats returns a snapshot of the counters.
func (s *Stage[In, Out]) Stats() Stats {
	return Stats{
		Done:     s.done.Load(),
		Empty:    s.empty.Load(),
		Failed:   s.failed.Load(),
		InFlight: s.inFlight.Load(),
	}
}

// Run consumes in until it is closed and drained, passing every result to
// emit. It returns nil after the last result has been emitted, ctx.Err() on
// cancellation, or the first emit error.
func (s *Stage[In, Out]) Run(ctx context.Context, in *queue.Queue[In], emit func(context.Context, Out) error) error {
	type result struct {
		v  Out
		ok bool
	}
	type job struct {
		item In
		slot chan result
	}

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job)
	// order holds one slot per dequeued item, oldest first. Its capacity
	// bounds how far workers may run ahead of the emitter.
	order := make(chan chan result, s.workers)

	g.Go(func() error {
		defer close(jobs)
		defer close(order)
		for {
			item, err := in.Get(gctx)
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			if err != nil {
				return err
			}
			slot := make(chan result, 1)
			select {
			case order <- slot:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case jobs <- job{item: item, slot: slot}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	for range s.workers {
		g.Go(func() error {
			for j := range jobs {
				s.inFlight.Add(1)
				v, ok := s.process(gctx, j.item)
				s.inFlight.Add(-1)
				j.slot <- result{v: v, ok: ok}
			}
			return nil
		})
	}

	g.Go(func() error {
		for slot := range order {
			var r result
			select {
			case r = <-slot:
			case <-gctx.Done():
				return gctx.Err()
			}
			if !r.ok {
				continue
			}
			if err := emit(gctx, r.v); err != nil {
				return fmt.Errorf("worker: %s emit: %w", s.name, err)
			}
			s.done.Add(1)
		}
		return nil
	})

	return g.Wait()
}

// Option configures a stage built by [NewSTT] or [NewTTS]. Options that do
// not apply to a stage are ignored.
type Option func(*options)

type options struct {
	workers      int
	providerName string
	log          *slog.Logger
	metrics      *observe.Metrics
	now          func() time.Time

	// STT only.
	language  string
	keywords  []stt.KeywordBoost
	corrector *transcript.Corrector
}

func buildOptions(opts []Option) options {
	o := options{
		workers: 1,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	return o
}

// WithWorkers sets the number of concurrent collaborator calls. Default: 1.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithProviderName labels spans, metrics and logs with the provider name.
func WithProviderName(name string) Option {
	return func(o *options) { o.providerName = name }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records call latency and outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock sets the clock used for Created timestamps. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLanguage sets the BCP-47 language passed to the STT provider.
func WithLanguage(lang string) Option {
	return func(o *options) { o.language = lang }
}

// WithKeywords sets vocabulary hints passed to the STT provider.
func WithKeywords(kw []stt.KeywordBoost) Option {
	return func(o *options) { o.keywords = kw }
}

// WithCorrector applies vocabulary correction to every non-empty transcript.
func WithCorrector(c *transcript.Corrector) Option {
	return func(o *options) { o.corrector = c }
}

func collaboratorError(stage string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCollaborator, stage, err)
}
