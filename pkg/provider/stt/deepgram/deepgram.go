// Package deepgram transcribes segments over the Deepgram live WebSocket. A
// segment is streamed in full and closed with CloseStream; the final results
// Deepgram sends back are joined into one transcript.
package deepgram

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

// chunkBytes is 250 ms of 16 kHz mono PCM per binary frame.
const chunkBytes = 8000

var _ stt.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the model. Default "nova-3".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 language. Default "en".
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint replaces wss://api.deepgram.com/v1/listen, for self-hosted
// deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider streams segments to Deepgram.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New returns a provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: API key is required")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    "nova-3",
		language: "en",
		endpoint: "wss://api.deepgram.com/v1/listen",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Transcribe streams req.PCM while collecting final results. Empty PCM
// returns "" without connecting.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if len(req.PCM) == 0 {
		return "", nil
	}
	target, err := p.buildURL(req)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + p.apiKey}},
	})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	var transcript string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stream(gctx, conn, req.PCM) })
	g.Go(func() (err error) {
		transcript, err = finals(gctx, conn)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	return transcript, nil
}

// stream sends pcm in chunks and then CloseStream, after which Deepgram
// flushes its results and closes the socket.
func stream(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for chunk := range slices.Chunk(pcm, chunkBytes) {
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// finals reads until the server closes normally and joins final results.
func finals(ctx context.Context, conn *websocket.Conn) (string, error) {
	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return strings.Join(parts, " "), nil
		}
		if err != nil {
			return "", fmt.Errorf("deepgram: read: %w", err)
		}
		if text, ok := parseFinal(msg); ok && text != "" {
			parts = append(parts, text)
		}
	}
}

// buildURL adds the audio format, language and keyword boosts ("word:boost")
// to the endpoint.
func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", cmp.Or(req.Language, p.language))
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("channels", "1")
	q.Set("sample_rate", strconv.Itoa(req.SampleRate))
	for _, kw := range req.Keywords {
		q.Add("keywords", kw.Keyword+":"+strconv.FormatFloat(kw.Boost, 'g', -1, 64))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseFinal returns the top transcript of a final Results message. Any
// other message reports false.
func parseFinal(data []byte) (string, bool) {
	var msg struct {
		Type    string `json:"type"`
		IsFinal bool   `json:"is_final"`
		Channel struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channel"`
	}
	if json.Unmarshal(data, &msg) != nil || msg.Type != "Results" || !msg.IsFinal {
		return "", false
	}
	if len(msg.Channel.Alternatives) == 0 {
		return "", false
	}
	return strings.TrimSpace(msg.Channel.Alternatives[0].Transcript), true
}
