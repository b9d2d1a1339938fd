package whisper

// NativeProvider needs libwhisper.a and whisper.h reachable through
// LIBRARY_PATH and C_INCLUDE_PATH at build time.

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

// modelRate is the only sample rate whisper.cpp accepts.
const modelRate = 16000

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider runs whisper.cpp in-process. The model is shared and each
// call gets its own inference context, so STT workers may call it
// concurrently.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	threads  uint

	closeOnce sync.Once
	closeErr  error
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language code; "auto" lets the model
// detect it. Default "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets CPU threads per inference. Zero keeps the library
// default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative loads the model file at modelPath. Close releases it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path is required")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model, language: "en"}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Close frees the model. Later calls return the first result.
func (p *NativeProvider) Close() error {
	p.closeOnce.Do(func() { p.closeErr = p.model.Close() })
	return p.closeErr
}

// Transcribe resamples req.PCM to 16 kHz if needed and runs inference. ctx
// is only consulted before inference starts; the library call itself cannot
// be interrupted.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(req.PCM) == 0 {
		return "", nil
	}
	pcm := req.PCM
	if req.SampleRate != modelRate {
		pcm = audio.ResampleMono16(pcm, req.SampleRate, modelRate)
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: new context: %w", err)
	}
	lang := cmp.Or(req.Language, p.language)
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: language rejected, keeping model default", "language", lang, "err", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}
	if prompt := stt.Prompt(req.Keywords); prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	if err := wctx.Process(audio.Float32s(pcm), nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process: %w", err)
	}
	return joinSegments(wctx.NextSegment)
}

// joinSegments drains next until io.EOF and joins the non-blank texts.
func joinSegments(next func() (whisperlib.Segment, error)) (string, error) {
	var b strings.Builder
	for {
		seg, err := next()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("whisper: next segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
}
