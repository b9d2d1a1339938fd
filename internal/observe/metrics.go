// Package observe wires voxrelay into OpenTelemetry. It owns the metric
// instruments every stage records on, the span helpers wrapped around
// collaborator calls, and the admin HTTP middleware.
//
// [InitProvider] installs global providers whose metrics are served in
// Prometheus format. Production code shares [DefaultMetrics]; tests build
// isolated instruments with [NewMetrics] on their own meter provider.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome values for the "outcome" attribute on the stage counters.
const (
	OutcomeEmitted   = "emitted"
	OutcomeDiscarded = "discarded"
	OutcomeSplit     = "split"
	OutcomeEmpty     = "empty"
	OutcomeError     = "error"
	OutcomePlayed    = "played"
	OutcomeBargeIn   = "barge_in"
	OutcomeEvicted   = "evicted"
	OutcomeCleared   = "cleared"
)

// Metrics is the set of instruments recorded by the relay. A nil *Metrics is
// valid for the Record methods, which then do nothing.
type Metrics struct {
	STTDuration   metric.Float64Histogram // seconds per transcription
	TTSDuration   metric.Float64Histogram // seconds per synthesis
	ClipWait      metric.Float64Histogram // seconds from clip arrival to playback start
	SegmentLength metric.Float64Histogram // seconds of audio per emitted segment

	Segments    metric.Int64Counter // by outcome: emitted, discarded, split
	Transcripts metric.Int64Counter // by outcome: emitted, empty, error
	Clips       metric.Int64Counter // by outcome: played, barge_in, evicted, cleared, empty, error
	BargeIns    metric.Int64Counter

	ProviderRequests metric.Int64Counter // by provider, kind, status
	ProviderErrors   metric.Int64Counter // by provider, kind
	VADErrors        metric.Int64Counter

	ActivePipelines metric.Int64UpDownCounter

	HTTPRequestDuration metric.Float64Histogram // by method, path, status
}

var (
	latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	lengthBuckets  = []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60}
)

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := builder{meter: mp.Meter(scopeName)}
	m := &Metrics{
		STTDuration:   b.seconds("voxrelay.stt.duration", "Latency of speech-to-text transcription.", latencyBuckets),
		TTSDuration:   b.seconds("voxrelay.tts.duration", "Latency of text-to-speech synthesis.", latencyBuckets),
		ClipWait:      b.seconds("voxrelay.clip.wait", "Time between clip arrival and the start of playback.", latencyBuckets),
		SegmentLength: b.seconds("voxrelay.segment.length", "Audio length of emitted speech segments.", lengthBuckets),

		Segments:    b.counter("voxrelay.segments", "Segmenter results by outcome."),
		Transcripts: b.counter("voxrelay.transcripts", "Transcription results by outcome."),
		Clips:       b.counter("voxrelay.clips", "Clips by terminal outcome."),
		BargeIns:    b.counter("voxrelay.barge_ins", "Speech resumptions that removed pending playback."),

		ProviderRequests: b.counter("voxrelay.provider.requests", "Provider requests by provider, kind and status."),
		ProviderErrors:   b.counter("voxrelay.provider.errors", "Provider errors by provider and kind."),
		VADErrors:        b.counter("voxrelay.vad.errors", "Frames the VAD scorer could not score."),

		ActivePipelines: b.gauge("voxrelay.active_pipelines", "Number of running pipelines."),

		HTTPRequestDuration: b.seconds("voxrelay.http.request.duration", "Admin HTTP request latency.", nil),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

// builder collects instrument creation errors so NewMetrics reads as a list.
type builder struct {
	meter metric.Meter
	err   error
}

func (b *builder) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.err = errors.Join(b.err, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return c
}

func (b *builder) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return g
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide instruments, created on the global
// meter provider at first use. Call it after [InitProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

func outcome(o string) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", o))
}

// RecordSegment counts one segmenter result.
func (m *Metrics) RecordSegment(ctx context.Context, o string) {
	if m != nil {
		m.Segments.Add(ctx, 1, outcome(o))
	}
}

// RecordTranscript counts one STT result.
func (m *Metrics) RecordTranscript(ctx context.Context, o string) {
	if m != nil {
		m.Transcripts.Add(ctx, 1, outcome(o))
	}
}

// RecordClip counts one terminal clip outcome.
func (m *Metrics) RecordClip(ctx context.Context, o string) {
	if m != nil {
		m.Clips.Add(ctx, 1, outcome(o))
	}
}

// RecordProviderRequest counts one provider request; status is "ok" or "error".
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError counts one failed provider request.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// recordCall records the latency and outcome of one [Call].
func (m *Metrics) recordCall(ctx context.Context, kind, provider string, took time.Duration, err error) {
	switch kind {
	case "stt":
		m.STTDuration.Record(ctx, took.Seconds())
	case "tts":
		m.TTSDuration.Record(ctx, took.Seconds())
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	m.RecordProviderRequest(ctx, provider, kind, status)
}
