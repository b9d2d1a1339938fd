// Package openai synthesizes clips with the OpenAI speech endpoint. Audio is
// requested in the raw "pcm" format, which is 24 kHz 16-bit mono.
package openai

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

const (
	// DefaultModel is used when New gets an empty model.
	DefaultModel = oai.SpeechModelTTS1

	// DefaultVoice is used for profiles without an ID.
	DefaultVoice = "alloy"

	pcmRate = 24000
)

// builtinVoices are the voices every account has.
var builtinVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer", "verse"}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

// Option configures a [Provider].
type Option func(*Provider)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithInstructions sets a speaking style. Only gpt-4o-mini-tts honours it.
func WithInstructions(s string) Option {
	return func(p *Provider) { p.instructions = s }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// Provider calls the audio speech API.
type Provider struct {
	client       oai.Client
	model        string
	instructions string
	baseURL      string
	timeout      time.Duration
}

// New returns a provider for model, [DefaultModel] if empty. The client is
// built without retries.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: API key is required")
	}
	p := &Provider{model: cmp.Or(model, DefaultModel)}
	for _, opt := range opts {
		opt(p)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if p.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(p.baseURL))
	}
	if p.timeout > 0 {
		clientOpts = append(clientOpts, option.WithHTTPClient(&http.Client{Timeout: p.timeout}))
	}
	p.client = oai.NewClient(clientOpts...)
	return p, nil
}

// Synthesize renders text in voice.ID, or [DefaultVoice].
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, tts.ErrEmptyText
	}
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(cmp.Or(voice.ID, DefaultVoice)),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.SpeedFactor > 0 {
		params.Speed = oai.Float(voice.SpeedFactor)
	}
	if p.instructions != "" {
		params.Instructions = oai.String(p.instructions)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("openai tts: read audio: %w", err)
	}
	return tts.Audio{PCM: pcm, SampleRate: pcmRate}, nil
}

// ListVoices returns the built-in voices.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, len(builtinVoices))
	for i, id := range builtinVoices {
		out[i] = tts.VoiceProfile{ID: id, Name: strings.ToUpper(id[:1]) + id[1:], Provider: "openai"}
	}
	return out, nil
}
