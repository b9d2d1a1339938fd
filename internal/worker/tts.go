package worker

import (
	"context"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// NewTTS returns the transcript-to-clip stage. Synthesis starts as soon as a
// transcript is dequeued. voice.PitchShift is applied to the synthesised
// audio; a call that fails or yields no audio drops the transcript.
func NewTTS(p tts.Provider, voice tts.VoiceProfile, opts ...Option) *Stage[audio.Transcript, audio.Clip] {
	o := buildOptions(opts)
	s := &Stage[audio.Transcript, audio.Clip]{name: "tts", workers: o.workers}
	s.process = func(ctx context.Context, tr audio.Transcript) (audio.Clip, bool) {
		log := o.log.With("transcript_id", tr.ID)

		var out tts.Audio
		err := observe.Call(ctx, o.metrics, "tts", o.providerName, tr.ID, func(ctx context.Context) error {
			var err error
			out, err = p.Synthesize(ctx, tr.Text, voice)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return audio.Clip{}, false
			}
			s.failed.Add(1)
			o.metrics.RecordClip(ctx, observe.OutcomeError)
			log.Warn("transcript dropped", "provider", o.providerName, "err", collaboratorError("tts", err))
			return audio.Clip{}, false
		}
		if len(out.PCM) < audio.BytesPerSample || out.SampleRate <= 0 {
			s.empty.Add(1)
			o.metrics.RecordClip(ctx, observe.OutcomeEmpty)
			log.Warn("transcript dropped", "provider", o.providerName, "reason", "no audio")
			return audio.Clip{}, false
		}

		clip := audio.Clip{
			ID:           tr.ID,
			TranscriptID: tr.ID,
			Text:         tr.Text,
			RawText:      tr.RawText,
			PCM:          audio.PitchShift(out.PCM, out.SampleRate, voice.PitchShift),
			SampleRate:   out.SampleRate,
			Created:      o.now(),
		}
		log.Debug("synthesised", "duration", clip.Duration())
		return clip, true
	}
	return s
}
