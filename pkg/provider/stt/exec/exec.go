// Package exec provides an STT provider that shells out to an external
// recogniser. The segment is written to a temporary WAV file whose path is
// appended as "--audio <path>"; the command prints a JSON object
// {"text": "...", "confidence": 0.9} on stdout.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/mattn/go-shellwords"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/wavfile"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Provider runs a recogniser command once per segment.
type Provider struct {
	cmd      []string
	model    string
	language string
	tmpDir   string
}

// Option configures a Provider.
type Option func(*Provider)

// WithModel appends "--model <path>" to every invocation.
func WithModel(path string) Option {
	return func(p *Provider) { p.model = path }
}

// WithLanguage appends "--language <lang>" unless the request sets one.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTempDir sets where WAV payloads are written. Defaults to os.TempDir().
func WithTempDir(dir string) Option {
	return func(p *Provider) { p.tmpDir = dir }
}

type result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// New parses command with shell quoting rules.
func New(command string, opts ...Option) (*Provider, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("exec stt: parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("exec stt: command is empty")
	}
	p := &Provider{cmd: args}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if len(req.PCM) == 0 {
		return "", nil
	}

	file, err := os.CreateTemp(p.tmpDir, "voxrelay_stt_*.wav")
	if err != nil {
		return "", fmt.Errorf("exec stt: temp file: %w", err)
	}
	defer os.Remove(file.Name())
	if err := wavfile.Encode(file, req.PCM, audio.Mono(req.SampleRate)); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("exec stt: close temp file: %w", err)
	}

	args := append([]string{}, p.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if p.model != "" {
		args = append(args, "--model", p.model)
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	if lang != "" {
		args = append(args, "--language", lang)
	}

	command := exec.CommandContext(ctx, p.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return "", fmt.Errorf("exec stt: command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	var res result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return "", fmt.Errorf("exec stt: decode response: %w", err)
	}
	return res.Text, nil
}
