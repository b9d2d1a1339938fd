// Package mock provides a test double for the stt.Provider interface.
//
// Results are resolved per call in this order: TranscribeFunc if set, the
// next entry of Texts, then Text. Every request is recorded.
//
// Example:
//
//	p := &mock.Provider{Texts: []string{"hello", "world"}}
//	text, _ := p.Transcribe(ctx, stt.Request{PCM: pcm, SampleRate: 16000})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// TranscribeFunc, if set, computes every result.
	TranscribeFunc func(ctx context.Context, req stt.Request) (string, error)

	// Texts are returned one per call, in order.
	Texts []string

	// Text is returned once Texts is exhausted.
	Text string

	// Err, if non-nil, is returned by every call.
	Err error

	// Delay blocks each call for this long (or until ctx is done).
	Delay time.Duration

	calls []stt.Request
}

// Transcribe records the request and returns the scripted result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	p.mu.Lock()
	idx := len(p.calls)
	p.calls = append(p.calls, req)
	fn, delay, err := p.TranscribeFunc, p.Delay, p.Err
	text := p.Text
	if idx < len(p.Texts) {
		text = p.Texts[idx]
	}
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// Calls returns a copy of every recorded request.
func (p *Provider) Calls() []stt.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]stt.Request, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

var _ stt.Provider = (*Provider)(nil)
