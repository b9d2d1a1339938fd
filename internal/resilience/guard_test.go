package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/internal/resilience"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxrelay/pkg/provider/stt/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxrelay/pkg/provider/tts/mock"
)

func TestGuardSTT_FailsFastWhenOpen(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{Err: errors.New("server down")}
	g := resilience.GuardSTT(p, resilience.CircuitBreakerConfig{Name: "stt", MaxFailures: 2, ResetTimeout: time.Hour})
	ctx := context.Background()
	req := stt.Request{PCM: make([]byte, 320), SampleRate: 16000}

	for range 2 {
		if _, err := g.Transcribe(ctx, req); err == nil {
			t.Fatal("expected provider error")
		}
	}
	if _, err := g.Transcribe(ctx, req); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if p.CallCount() != 2 {
		t.Errorf("provider calls = %d, want 2", p.CallCount())
	}
	if g.Breaker().State() != resilience.StateOpen {
		t.Errorf("breaker state = %v", g.Breaker().State())
	}
}

func TestGuardSTT_PassesText(t *testing.T) {
	t.Parallel()
	g := resilience.GuardSTT(&sttmock.Provider{Text: "hello"}, resilience.CircuitBreakerConfig{Name: "stt"})
	text, err := g.Transcribe(context.Background(), stt.Request{})
	if err != nil || text != "hello" {
		t.Fatalf("Transcribe = %q, %v", text, err)
	}
}

func TestGuardTTS(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{
		Duration: 100 * time.Millisecond,
		Voices:   []tts.VoiceProfile{{ID: "a"}, {ID: "b"}},
	}
	g := resilience.GuardTTS(p, resilience.CircuitBreakerConfig{Name: "tts"})

	out, err := g.Synthesize(context.Background(), "hi", tts.VoiceProfile{ID: "a"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(out.PCM) == 0 {
		t.Error("empty audio")
	}
	voices, err := g.ListVoices(context.Background())
	if err != nil || len(voices) != 2 {
		t.Fatalf("ListVoices = %v, %v", voices, err)
	}
}
