package resilience

import (
	"context"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// STTGuard implements [stt.Provider] by running every call through a
// [CircuitBreaker].
type STTGuard struct {
	provider stt.Provider
	breaker  *CircuitBreaker
}

var _ stt.Provider = (*STTGuard)(nil)

// GuardSTT wraps p with a breaker built from cfg.
func GuardSTT(p stt.Provider, cfg CircuitBreakerConfig) *STTGuard {
	return &STTGuard{provider: p, breaker: NewCircuitBreaker(cfg)}
}

// Transcribe implements [stt.Provider].
func (g *STTGuard) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	var text string
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		text, err = g.provider.Transcribe(ctx, req)
		return err
	})
	return text, err
}

// Breaker exposes the underlying breaker for status reporting.
func (g *STTGuard) Breaker() *CircuitBreaker { return g.breaker }

// TTSGuard implements [tts.Provider] and [tts.VoiceLister] by running every
// call through a [CircuitBreaker]. ListVoices bypasses the breaker.
type TTSGuard struct {
	provider tts.Provider
	breaker  *CircuitBreaker
}

var (
	_ tts.Provider    = (*TTSGuard)(nil)
	_ tts.VoiceLister = (*TTSGuard)(nil)
)

// GuardTTS wraps p with a breaker built from cfg.
func GuardTTS(p tts.Provider, cfg CircuitBreakerConfig) *TTSGuard {
	return &TTSGuard{provider: p, breaker: NewCircuitBreaker(cfg)}
}

// Synthesize implements [tts.Provider].
func (g *TTSGuard) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Audio, error) {
	var out tts.Audio
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.provider.Synthesize(ctx, text, voice)
		return err
	})
	return out, err
}

// ListVoices forwards to the wrapped provider when it can list voices and
// returns nil otherwise.
func (g *TTSGuard) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if vl, ok := g.provider.(tts.VoiceLister); ok {
		return vl.ListVoices(ctx)
	}
	return nil, nil
}

// Breaker exposes the underlying breaker for status reporting.
func (g *TTSGuard) Breaker() *CircuitBreaker { return g.breaker }
