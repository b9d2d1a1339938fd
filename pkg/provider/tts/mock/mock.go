// Package mock provides a test double for the tts.Provider interface.
//
// By default Synthesize returns Duration worth of silence at SampleRate for
// every request, so clips have a realistic playback length. Set
// SynthesizeFunc to control the audio per text.
//
// Example:
//
//	p := &mock.Provider{SampleRate: 16000, Duration: 200 * time.Millisecond}
//	out, _ := p.Synthesize(ctx, "hello", voice)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider and tts.VoiceLister.
type Provider struct {
	mu sync.Mutex

	// SynthesizeFunc, if set, computes every result.
	SynthesizeFunc func(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Audio, error)

	// SampleRate of the generated audio. Defaults to 16000.
	SampleRate int

	// Duration of the generated audio. Zero yields an empty clip.
	Duration time.Duration

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// Delay blocks each call for this long (or until ctx is done).
	Delay time.Duration

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	calls []SynthesizeCall
}

// Synthesize records the call and returns the scripted audio.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Audio, error) {
	p.mu.Lock()
	p.calls = append(p.calls, SynthesizeCall{Text: text, Voice: voice})
	fn, delay, err := p.SynthesizeFunc, p.Delay, p.Err
	rate, dur := p.SampleRate, p.Duration
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return tts.Audio{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, text, voice)
	}
	if err != nil {
		return tts.Audio{}, err
	}
	if rate == 0 {
		rate = 16000
	}
	return tts.Audio{PCM: make([]byte, audio.PCMBytes(dur, rate)), SampleRate: rate}, nil
}

// ListVoices returns Voices.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, nil
}

// Calls returns a copy of every recorded Synthesize call.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// Texts returns the text of every Synthesize call in order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.Text
	}
	return out
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)
