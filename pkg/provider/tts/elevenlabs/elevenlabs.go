// Package elevenlabs synthesizes speech over the ElevenLabs input-streaming
// WebSocket. A transcript is sent as one text message plus the end-of-input
// marker, and PCM chunks are collected until the server flags the last one.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the model ID. Default "eleven_flash_v2_5".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the output format, which must be "pcm_<rate>".
// Default "pcm_16000".
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.format = format }
}

// WithBaseURL overrides https://api.elevenlabs.io. The WebSocket URL uses the
// same host with a ws or wss scheme.
func WithBaseURL(base string) Option {
	return func(p *Provider) { p.base = strings.TrimRight(base, "/") }
}

// Provider renders clips through ElevenLabs.
type Provider struct {
	apiKey string
	model  string
	format string
	rate   int
	base   string
	client *http.Client
}

// New returns a provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: API key is required")
	}
	p := &Provider{
		apiKey: apiKey,
		model:  "eleven_flash_v2_5",
		format: "pcm_16000",
		base:   "https://api.elevenlabs.io",
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	rate, err := pcmRate(p.format)
	if err != nil {
		return nil, err
	}
	p.rate = rate
	return p, nil
}

// textMessage is one client frame on the stream-input socket.
type textMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey             string         `json:"xi_api_key,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is one server frame; Audio is base64 PCM.
type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize renders text in voice.ID, which must be set.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Audio, error) {
	switch {
	case voice.ID == "":
		return tts.Audio{}, errors.New("elevenlabs: voice ID is required")
	case strings.TrimSpace(text) == "":
		return tts.Audio{}, tts.ErrEmptyText
	}

	conn, _, err := websocket.Dial(ctx, p.wsURL(voice.ID), nil)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 << 20)

	settings := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if voice.SpeedFactor > 0 {
		settings.Speed = voice.SpeedFactor
	}
	// The opening frame must carry a single space.
	for _, m := range []textMessage{
		{Text: " ", VoiceSettings: settings, XiAPIKey: p.apiKey},
		{Text: text + " ", TryTriggerGeneration: true},
		{Text: ""},
	} {
		data, _ := json.Marshal(m)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return tts.Audio{}, fmt.Errorf("elevenlabs: write: %w", err)
		}
	}

	pcm, err := collect(ctx, conn)
	if err != nil {
		return tts.Audio{}, err
	}
	return tts.Audio{PCM: pcm, SampleRate: p.rate}, nil
}

// collect reads audio frames until the final one or a normal close.
func collect(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return pcm, nil
		}
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}

		var frame audioResponse
		if json.Unmarshal(msg, &frame) != nil {
			continue
		}
		if frame.Error != "" {
			return nil, fmt.Errorf("elevenlabs: %s: %s", frame.Error, frame.Message)
		}
		if frame.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if frame.IsFinal {
			conn.Close(websocket.StatusNormalClosure, "done")
			return pcm, nil
		}
	}
}

func (p *Provider) wsURL(voiceID string) string {
	base := p.base
	if rest, ok := strings.CutPrefix(base, "https://"); ok {
		base = "wss://" + rest
	} else if rest, ok := strings.CutPrefix(base, "http://"); ok {
		base = "ws://" + rest
	}
	q := url.Values{"model_id": {p.model}, "output_format": {p.format}}
	return base + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

func pcmRate(format string) (int, error) {
	digits, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not PCM", format)
	}
	rate, err := strconv.Atoi(digits)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: invalid output format %q", format)
	}
	return rate, nil
}

// ListVoices returns the voices visible to the API key. Labels and the
// voice category end up in Metadata.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: status %d", resp.StatusCode)
	}

	var body struct {
		Voices []struct {
			VoiceID  string            `json:"voice_id"`
			Name     string            `json:"name"`
			Category string            `json:"category"`
			Labels   map[string]string `json:"labels"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: decode: %w", err)
	}

	out := make([]tts.VoiceProfile, len(body.Voices))
	for i, v := range body.Voices {
		meta := maps.Clone(v.Labels)
		if meta == nil {
			meta = map[string]string{}
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		out[i] = tts.VoiceProfile{ID: v.VoiceID, Name: v.Name, Provider: "elevenlabs", Metadata: meta}
	}
	return out, nil
}
