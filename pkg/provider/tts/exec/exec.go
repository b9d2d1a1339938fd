// Package exec provides a TTS provider that shells out to an external
// synthesiser. The command receives one JSON request on stdin:
//
//	{"text": "...", "voice": "...", "sample_rate": 22050}
//
// and answers with newline-delimited JSON chunks on stdout:
//
//	{"pcm_base64": "...", "final": false}
//
// Chunks are concatenated until the command exits.
package exec

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// Provider runs a synthesiser command once per transcript.
type Provider struct {
	cmd        []string
	sampleRate int
}

type request struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
}

type response struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

// New parses command with shell quoting rules. sampleRate is the rate the
// command is asked to produce and the rate its output is assumed to have.
func New(command string, sampleRate int) (*Provider, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("exec tts: parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("exec tts: command is empty")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("exec tts: sample rate must be positive, got %d", sampleRate)
	}
	return &Provider{cmd: args, sampleRate: sampleRate}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, tts.ErrEmptyText
	}
	payload, err := json.Marshal(request{Text: text, Voice: voice.ID, SampleRate: p.sampleRate})
	if err != nil {
		return tts.Audio{}, fmt.Errorf("exec tts: marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.cmd[0], p.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return tts.Audio{}, fmt.Errorf("exec tts: command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	var pcm []byte
	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			return tts.Audio{}, fmt.Errorf("exec tts: decode chunk: %w", err)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			return tts.Audio{}, fmt.Errorf("exec tts: decode pcm: %w", err)
		}
		pcm = append(pcm, chunk...)
		if resp.Final {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return tts.Audio{}, fmt.Errorf("exec tts: read output: %w", err)
	}
	return tts.Audio{PCM: pcm, SampleRate: p.sampleRate}, nil
}
