package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/provider/tts/openai"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New("", ""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()
	var body atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body.Store(req)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{1, 0, 2, 0})
	}))
	defer srv.Close()

	p, err := openai.New("sk-test", "", openai.WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Synthesize(context.Background(), "hi there", tts.VoiceProfile{SpeedFactor: 1.25})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if out.SampleRate != 24000 || len(out.PCM) != 4 {
		t.Errorf("audio = %d Hz / %d bytes", out.SampleRate, len(out.PCM))
	}

	req := body.Load().(map[string]any)
	want := map[string]any{
		"input":           "hi there",
		"model":           "tts-1",
		"voice":           "alloy",
		"response_format": "pcm",
		"speed":           1.25,
	}
	for k, v := range want {
		if req[k] != v {
			t.Errorf("request %s = %v, want %v", k, req[k], v)
		}
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()
	p, _ := openai.New("sk-test", "")
	if _, err := p.Synthesize(context.Background(), "", tts.VoiceProfile{}); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()
	p, _ := openai.New("sk-test", "")
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(voices) == 0 || voices[0].ID != "alloy" || voices[0].Name != "Alloy" {
		t.Errorf("voices = %+v", voices)
	}
}
