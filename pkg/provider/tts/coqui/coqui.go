// Package coqui synthesizes speech on a self-hosted Coqui server.
//
// Two server flavours are understood. [APIModeStandard], the default, is the
// stock Coqui TTS server: synthesis is GET /api/tts with query parameters and
// the model's speakers come from GET /details. [APIModeXTTS] is the XTTS v2
// API server: synthesis is POST /tts_to_audio/ with a JSON body and voices
// come from GET /studio_speakers. Either way the reply is a WAV file, which
// is decoded and mixed down to mono.
//
//	p, _ := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	out, err := p.Synthesize(ctx, "hello chat", voice)
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/wavfile"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

// APIMode names the server flavour.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the language code passed to the server. Default "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout bounds each HTTP request. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithAPIMode selects the server flavour. Default [APIModeStandard].
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.mode = mode }
}

// Provider talks to one Coqui server.
type Provider struct {
	base     string
	language string
	mode     APIMode
	client   *http.Client
}

// New returns a provider for the server at serverURL, for example
// "http://localhost:5002".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: server URL is required")
	}
	p := &Provider{
		base:     strings.TrimRight(serverURL, "/"),
		language: "en",
		mode:     APIModeStandard,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	switch p.mode {
	case APIModeStandard, APIModeXTTS:
		return p, nil
	}
	return nil, fmt.Errorf("coqui: unknown API mode %q", p.mode)
}

// Synthesize renders text in voice.ID, which is a speaker name in standard
// mode and a speaker WAV reference in XTTS mode.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, tts.ErrEmptyText
	}

	var req *http.Request
	var err error
	if p.mode == APIModeXTTS {
		body, _ := json.Marshal(map[string]string{
			"text":        text,
			"speaker_wav": voice.ID,
			"language":    p.language,
		})
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/tts_to_audio/", bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		q := url.Values{"text": {text}}
		if voice.ID != "" {
			q.Set("speaker_id", voice.ID)
		}
		if p.language != "" {
			q.Set("language_id", p.language)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/api/tts?"+q.Encode(), nil)
	}
	if err != nil {
		return tts.Audio{}, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	wav, err := p.do(req)
	if err != nil {
		return tts.Audio{}, err
	}
	pcm, format, err := wavfile.DecodeBytes(wav)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("coqui: %w", err)
	}
	return tts.Audio{
		PCM:        audio.Convert(pcm, format, audio.Mono(format.SampleRate)),
		SampleRate: format.SampleRate,
	}, nil
}

// ListVoices returns the studio speakers in XTTS mode. In standard mode it
// returns the speakers of a multi-speaker model, or one profile named after a
// single-speaker model. Profiles are sorted by ID.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.mode == APIModeXTTS {
		var speakers map[string]json.RawMessage
		if err := p.getJSON(ctx, "/studio_speakers", &speakers); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(speakers))
		for name := range speakers {
			names = append(names, name)
		}
		return voiceProfiles(names, "studio", ""), nil
	}

	var details struct {
		ModelName string   `json:"model_name"`
		Speakers  []string `json:"speakers"`
	}
	if err := p.getJSON(ctx, "/details", &details); err != nil {
		return nil, err
	}
	if len(details.Speakers) > 0 {
		return voiceProfiles(details.Speakers, "speaker", details.ModelName), nil
	}
	model := details.ModelName
	if model == "" {
		model = "default"
	}
	return voiceProfiles([]string{model}, "single-speaker", model), nil
}

func (p *Provider) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+path, nil)
	if err != nil {
		return fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := p.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", path, err)
	}
	return nil
}

// do sends req and returns the body of a 200 reply.
func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read %s: %w", req.URL.Path, err)
	}
	return body, nil
}

func voiceProfiles(names []string, kind, model string) []tts.VoiceProfile {
	names = slices.Sorted(slices.Values(names))
	out := make([]tts.VoiceProfile, len(names))
	for i, name := range names {
		meta := map[string]string{"type": kind}
		if model != "" {
			meta["model_name"] = model
		}
		out[i] = tts.VoiceProfile{ID: name, Name: name, Provider: "coqui", Metadata: meta}
	}
	return out
}
