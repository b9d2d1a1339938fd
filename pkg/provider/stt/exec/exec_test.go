package exec_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	sttexec "github.com/MrWong99/voxrelay/pkg/provider/stt/exec"
)

// writeScript creates an executable shell script in a temp dir. Tests that
// run scripts are not parallel; a concurrent fork can hold the script open
// for writing and make exec fail with ETXTBSY.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "recognise.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_EmptyCommand(t *testing.T) {
	t.Parallel()
	if _, err := sttexec.New("   "); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestTranscribe_PassesArgumentsAndParsesJSON(t *testing.T) {
	// Echo the arguments back as the transcript, skipping the temp file path.
	script := writeScript(t, `
lang=""
while [ $# -gt 0 ]; do
  case "$1" in
    --audio) [ -s "$2" ] || exit 3; shift 2 ;;
    --language) lang="$2"; shift 2 ;;
    *) shift ;;
  esac
done
printf '{"text":"lang=%s","confidence":0.5}' "$lang"
`)
	p, err := sttexec.New(script, sttexec.WithLanguage("en"), sttexec.WithTempDir(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	text, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 640), SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "lang=en" {
		t.Errorf("text = %q, want %q", text, "lang=en")
	}

	text, err = p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 640), SampleRate: 16000, Language: "de"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "lang=de" {
		t.Errorf("text = %q, want %q", text, "lang=de")
	}
}

func TestTranscribe_CommandFailure(t *testing.T) {
	script := writeScript(t, "echo 'model missing' >&2\nexit 1\n")
	p, _ := sttexec.New(script)
	_, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 640), SampleRate: 16000})
	if err == nil || !strings.Contains(err.Error(), "model missing") {
		t.Errorf("error = %v, want stderr in message", err)
	}
}

func TestTranscribe_BadJSON(t *testing.T) {
	script := writeScript(t, "echo not-json\n")
	p, _ := sttexec.New(script)
	if _, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 640), SampleRate: 16000}); err == nil {
		t.Error("expected decode error")
	}
}
