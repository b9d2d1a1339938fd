package whisper_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/audio/wavfile"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/stt/whisper"
)

// inferenceRequest captures what the mock server received.
type inferenceRequest struct {
	fields   map[string]string
	wavBytes int
}

// newMockServer creates a test server that answers POST /inference with
// responseText and stores the last request in *got.
func newMockServer(t *testing.T, responseText string, got *atomic.Pointer[inferenceRequest]) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req := &inferenceRequest{fields: map[string]string{}}
		for k, v := range r.MultipartForm.Value {
			req.fields[k] = v[0]
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if _, _, err := wavfile.DecodeBytes(data); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.wavBytes = len(data)
		if got != nil {
			got.Store(req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestTranscribe_UploadsWAVAndReturnsText(t *testing.T) {
	t.Parallel()
	var got atomic.Pointer[inferenceRequest]
	srv := newMockServer(t, "  hello there \n", &got)

	p, err := whisper.New(srv.URL+"/", whisper.WithModel("base.en"), whisper.WithLanguage("de"))
	if err != nil {
		t.Fatal(err)
	}
	text, err := p.Transcribe(context.Background(), stt.Request{
		PCM:        make([]byte, 3200),
		SampleRate: 16000,
		Keywords:   []stt.KeywordBoost{{Keyword: "Eldrinax"}, {Keyword: "Zorrath"}},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello there" {
		t.Errorf("text = %q, want %q", text, "hello there")
	}

	req := got.Load()
	if req == nil {
		t.Fatal("server saw no request")
	}
	for k, want := range map[string]string{
		"language":        "de",
		"model":           "base.en",
		"response_format": "json",
		"prompt":          "Eldrinax, Zorrath",
	} {
		if req.fields[k] != want {
			t.Errorf("field %s = %q, want %q", k, req.fields[k], want)
		}
	}
	if req.wavBytes <= 3200 {
		t.Errorf("wav upload = %d bytes, want PCM plus header", req.wavBytes)
	}
}

func TestTranscribe_RequestLanguageOverridesDefault(t *testing.T) {
	t.Parallel()
	var got atomic.Pointer[inferenceRequest]
	srv := newMockServer(t, "bonjour", &got)

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 320), SampleRate: 16000, Language: "fr"}); err != nil {
		t.Fatal(err)
	}
	if lang := got.Load().fields["language"]; lang != "fr" {
		t.Errorf("language = %q, want fr", lang)
	}
}

func TestTranscribe_EmptyPCMSkipsServer(t *testing.T) {
	t.Parallel()
	var got atomic.Pointer[inferenceRequest]
	srv := newMockServer(t, "unused", &got)

	p, _ := whisper.New(srv.URL)
	text, err := p.Transcribe(context.Background(), stt.Request{SampleRate: 16000})
	if err != nil || text != "" {
		t.Errorf("Transcribe = (%q, %v), want empty result", text, err)
	}
	if got.Load() != nil {
		t.Error("server should not be called for empty audio")
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 320), SampleRate: 16000})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %v, want HTTP 500 error", err)
	}
}

func TestTranscribe_MalformedJSON(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 320), SampleRate: 16000}); err == nil {
		t.Error("expected parse error")
	}
}
