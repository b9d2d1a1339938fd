package worker

import (
	"context"
	"strings"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/transcript"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

// NewSTT returns the segment-to-transcript stage.
//
// Whitespace-only results are dropped as non-speech. With [WithCorrector] the
// emitted Text is vocabulary-corrected and RawText keeps the engine output.
// The transcript takes the segment ID.
func NewSTT(p stt.Provider, opts ...Option) *Stage[audio.Segment, audio.Transcript] {
	o := buildOptions(opts)
	s := &Stage[audio.Segment, audio.Transcript]{name: "stt", workers: o.workers}
	s.process = func(ctx context.Context, seg audio.Segment) (audio.Transcript, bool) {
		log := o.log.With("segment_id", seg.ID)

		var text string
		err := observe.Call(ctx, o.metrics, "stt", o.providerName, seg.ID, func(ctx context.Context) error {
			var err error
			text, err = p.Transcribe(ctx, stt.Request{
				PCM:        seg.PCM(),
				SampleRate: seg.SampleRate,
				Language:   o.language,
				Keywords:   o.keywords,
			})
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return audio.Transcript{}, false
			}
			s.failed.Add(1)
			o.metrics.RecordTranscript(ctx, observe.OutcomeError)
			log.Warn("segment dropped", "provider", o.providerName, "err", collaboratorError("stt", err))
			return audio.Transcript{}, false
		}

		raw := strings.TrimSpace(text)
		if raw == "" {
			s.empty.Add(1)
			o.metrics.RecordTranscript(ctx, observe.OutcomeEmpty)
			log.Debug("empty transcript dropped", "duration", seg.Duration())
			return audio.Transcript{}, false
		}

		final := raw
		if o.corrector != nil {
			var fixes []transcript.Correction
			final, fixes = o.corrector.Correct(raw)
			for _, f := range fixes {
				log.Debug("vocabulary corrected", "original", f.Original, "corrected", f.Corrected, "confidence", f.Confidence)
			}
		}

		o.metrics.RecordTranscript(ctx, observe.OutcomeEmitted)
		log.Info("transcribed", "text", final)
		return audio.Transcript{
			ID:        seg.ID,
			SegmentID: seg.ID,
			Text:      final,
			RawText:   raw,
			Created:   o.now(),
		}, true
	}
	return s
}
