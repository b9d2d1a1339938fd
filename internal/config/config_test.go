package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/pkg/audio"
	audiomock "github.com/MrWong99/voxrelay/pkg/audio/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxrelay/pkg/provider/stt/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxrelay/pkg/provider/tts/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxrelay/pkg/provider/vad/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

audio:
  platform: wavfile
  sample_rate: 16000
  frame_ms: 20
  input_file: testdata/in.wav
  output_dir: out

vad:
  name: energy
  start_threshold: 0.6
  end_threshold: 0.4
  min_speech_ms: 200
  min_silence_ms: 400
  max_segment_ms: 15000

stt:
  name: deepgram
  api_key: dg-test
  model: nova-2
  language: en-US
  keywords: [Grimjaw, Eldrinax]
  workers: 2

tts:
  name: elevenlabs
  api_key: el-test
  voice:
    id: narrator
    pitch_shift: -2
    speed_factor: 1.1

playback:
  vad_end_timeout_seconds: 0.8
  queue_max_items: 4

transcript:
  file: transcript.txt
  next_transcript_delay_seconds: 0.25
  clear_delay_seconds: 3
  vocabulary: [Grimjaw]
`

// minimalYAML names the two providers that have no default.
const minimalYAML = `
stt:
  name: whisper
tts:
  name: coqui
`

func mustParse(t *testing.T, src string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cfg
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg := mustParse(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Audio.Platform != config.PlatformWAVFile {
		t.Errorf("audio.platform: got %q", cfg.Audio.Platform)
	}
	if got := cfg.Audio.FrameDuration(); got != 20*time.Millisecond {
		t.Errorf("FrameDuration: got %v, want 20ms", got)
	}
	if cfg.VAD.StartThreshold != 0.6 || cfg.VAD.EndThreshold != 0.4 {
		t.Errorf("vad thresholds: got %.2f/%.2f", cfg.VAD.StartThreshold, cfg.VAD.EndThreshold)
	}
	if cfg.STT.Name != "deepgram" || cfg.STT.Model != "nova-2" || cfg.STT.Workers != 2 {
		t.Errorf("stt: got %+v", cfg.STT)
	}
	if len(cfg.STT.Keywords) != 2 {
		t.Errorf("stt.keywords: got %v", cfg.STT.Keywords)
	}
	if cfg.TTS.Voice.ID != "narrator" || cfg.TTS.Voice.PitchShift != -2 {
		t.Errorf("tts.voice: got %+v", cfg.TTS.Voice)
	}
	if cfg.Playback.QueueMaxItems != 4 {
		t.Errorf("playback.queue_max_items: got %d, want 4", cfg.Playback.QueueMaxItems)
	}
	if cfg.Transcript.File != "transcript.txt" || cfg.Transcript.ClearDelaySeconds != 3 {
		t.Errorf("transcript: got %+v", cfg.Transcript)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg := mustParse(t, minimalYAML)

	checks := []struct {
		name      string
		got, want any
	}{
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"platform", cfg.Audio.Platform, config.PlatformLocal},
		{"sample_rate", cfg.Audio.SampleRate, 16000},
		{"frame_ms", cfg.Audio.FrameMs, 32},
		{"vad.name", cfg.VAD.Name, "energy"},
		{"vad.start_threshold", cfg.VAD.StartThreshold, 0.5},
		{"vad.end_threshold", cfg.VAD.EndThreshold, 0.35},
		{"vad.min_speech_ms", cfg.VAD.MinSpeechMs, 250},
		{"vad.min_silence_ms", cfg.VAD.MinSilenceMs, 300},
		{"vad.prebuffer_seconds", cfg.VAD.PrebufferSeconds, 2.0},
		{"stt.workers", cfg.STT.Workers, 1},
		{"tts.workers", cfg.TTS.Workers, 1},
		{"vad_end_timeout_seconds", cfg.Playback.VADEndTimeoutSeconds, 1.0},
		{"queue_max_items", cfg.Playback.QueueMaxItems, 10},
		{"next_transcript_delay_seconds", cfg.Transcript.NextTranscriptDelaySeconds, 0.5},
		{"clear_delay_seconds", cfg.Transcript.ClearDelaySeconds, 2.0},
		{"memory_turns", cfg.Journal.MemoryTurns, 1000},
		{"max_failures", cfg.Resilience.MaxFailures, 5},
		{"reset_timeout_seconds", cfg.Resilience.ResetTimeoutSeconds, 30.0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
	if cfg.Transcript.File != "" {
		t.Errorf("transcript.file: got %q, want empty", cfg.Transcript.File)
	}
}

func TestLoadFromReader_EmptyRequiresProviders(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("{}"))
	if err == nil {
		t.Fatal("expected error for config without providers, got nil")
	}
	for _, want := range []string{"stt.name", "tts.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "speakers: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		config.EnvSTTAPIKey:    "stt-from-env",
		config.EnvTTSAPIKey:    "",
		config.EnvDiscordToken: "bot-token",
		config.EnvJournalDSN:   "postgres://env/db",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	src := minimalYAML + `
  api_key: tts-from-file
audio:
  platform: discord
discord:
  guild_id: "1"
  channel_id: "2"
`
	cfg, err := config.Parse(strings.NewReader(src), lookup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.STT.APIKey != "stt-from-env" {
		t.Errorf("stt.api_key: got %q", cfg.STT.APIKey)
	}
	if cfg.TTS.APIKey != "tts-from-file" {
		t.Errorf("tts.api_key: empty env must not override, got %q", cfg.TTS.APIKey)
	}
	if cfg.Discord.Token != "bot-token" {
		t.Errorf("discord.token: got %q", cfg.Discord.Token)
	}
	if cfg.Journal.PostgresDSN != "postgres://env/db" {
		t.Errorf("journal.postgres_dsn: got %q", cfg.Journal.PostgresDSN)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load("/nonexistent/voxrelay.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestSecondsAndMillis(t *testing.T) {
	t.Parallel()
	if got := config.Seconds(1.5); got != 1500*time.Millisecond {
		t.Errorf("Seconds(1.5) = %v", got)
	}
	if got := config.Millis(250); got != 250*time.Millisecond {
		t.Errorf("Millis(250) = %v", got)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	cfg := mustParse(t, minimalYAML)

	if _, err := reg.CreateSTT(cfg.STT); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateTTS(cfg.TTS); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTTS: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateVAD(cfg.VAD); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateVAD: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateAudio(cfg); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateAudio: got %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	cfg := mustParse(t, sampleYAML)

	var gotModel string
	reg.RegisterSTT("deepgram", func(c config.STTConfig) (stt.Provider, error) {
		gotModel = c.Model
		return &sttmock.Provider{}, nil
	})
	reg.RegisterTTS("elevenlabs", func(config.TTSConfig) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})
	reg.RegisterVAD("energy", func(config.VADConfig) (vad.Engine, error) {
		return &vadmock.Engine{}, nil
	})
	var gotInput string
	reg.RegisterAudio(config.PlatformWAVFile, func(c *config.Config) (audio.Platform, error) {
		gotInput = c.Audio.InputFile
		return &audiomock.Platform{}, nil
	})

	if p, err := reg.CreateSTT(cfg.STT); err != nil || p == nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if gotModel != "nova-2" {
		t.Errorf("stt factory saw model %q, want nova-2", gotModel)
	}
	if p, err := reg.CreateTTS(cfg.TTS); err != nil || p == nil {
		t.Fatalf("CreateTTS: %v", err)
	}
	if e, err := reg.CreateVAD(cfg.VAD); err != nil || e == nil {
		t.Fatalf("CreateVAD: %v", err)
	}
	if p, err := reg.CreateAudio(cfg); err != nil || p == nil {
		t.Fatalf("CreateAudio: %v", err)
	}
	if gotInput != "testdata/in.wav" {
		t.Errorf("audio factory saw input %q", gotInput)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterTTS("coqui", func(config.TTSConfig) (tts.Provider, error) { return nil, boom })

	_, err := reg.CreateTTS(config.TTSConfig{ProviderEntry: config.ProviderEntry{Name: "coqui"}})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want factory error", err)
	}
}

func TestRegistry_Overwrite(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	first := &sttmock.Provider{}
	second := &sttmock.Provider{}
	reg.RegisterSTT("exec", func(config.STTConfig) (stt.Provider, error) { return first, nil })
	reg.RegisterSTT("exec", func(config.STTConfig) (stt.Provider, error) { return second, nil })

	p, err := reg.CreateSTT(config.STTConfig{ProviderEntry: config.ProviderEntry{Name: "exec"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != second {
		t.Error("second registration did not replace the first")
	}
}
