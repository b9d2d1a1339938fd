package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native", "openai", "deepgram", "exec"},
	"tts": {"elevenlabs", "coqui", "openai", "exec"},
	"vad": {"energy"},
}

// Environment variables that override secrets in the file.
const (
	EnvSTTAPIKey    = "VOXRELAY_STT_API_KEY"
	EnvTTSAPIKey    = "VOXRELAY_TTS_API_KEY"
	EnvDiscordToken = "VOXRELAY_DISCORD_TOKEN"
	EnvJournalDSN   = "VOXRELAY_JOURNAL_DSN"
)

// Load reads the YAML file at path, applies environment overrides and
// defaults, and returns the validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := Parse(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted, which keeps it
// deterministic for tests.
func LoadFromReader(r io.Reader) (*Config, error) {
	return Parse(r, nil)
}

// Parse decodes r, applies overrides from lookupEnv (may be nil), fills
// defaults and validates. Unknown YAML fields are rejected.
func Parse(r io.Reader, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if lookupEnv != nil {
		ApplyEnv(cfg, lookupEnv)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overwrites secrets with the environment variables that are set.
func ApplyEnv(cfg *Config, lookupEnv func(string) (string, bool)) {
	for _, o := range []struct {
		key string
		dst *string
	}{
		{EnvSTTAPIKey, &cfg.STT.APIKey},
		{EnvTTSAPIKey, &cfg.TTS.APIKey},
		{EnvDiscordToken, &cfg.Discord.Token},
		{EnvJournalDSN, &cfg.Journal.PostgresDSN},
	} {
		if v, ok := lookupEnv(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}

// ApplyDefaults fills zero-valued fields.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Audio.Platform, PlatformLocal)
	setDefault(&cfg.Audio.SampleRate, 16000)
	setDefault(&cfg.Audio.FrameMs, 32)

	setDefault(&cfg.VAD.Name, "energy")
	setDefault(&cfg.VAD.StartThreshold, 0.5)
	setDefault(&cfg.VAD.EndThreshold, 0.35)
	setDefault(&cfg.VAD.MinSpeechMs, 250)
	setDefault(&cfg.VAD.MinSilenceMs, 300)
	setDefault(&cfg.VAD.PrebufferSeconds, 2.0)

	setDefault(&cfg.STT.Workers, 1)
	setDefault(&cfg.TTS.Workers, 1)

	setDefault(&cfg.Playback.VADEndTimeoutSeconds, 1.0)
	setDefault(&cfg.Playback.QueueMaxItems, 10)

	setDefault(&cfg.Transcript.NextTranscriptDelaySeconds, 0.5)
	setDefault(&cfg.Transcript.ClearDelaySeconds, 2.0)

	setDefault(&cfg.Journal.MemoryTurns, 1000)

	setDefault(&cfg.Resilience.MaxFailures, 5)
	setDefault(&cfg.Resilience.ResetTimeoutSeconds, 30)
}

func setDefault[T comparable](dst *T, v T) {
	var zero T
	if *dst == zero {
		*dst = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		fail("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}

	// Audio
	if !cfg.Audio.Platform.IsValid() {
		fail("audio.platform %q is invalid; valid values: local, discord, wavfile", cfg.Audio.Platform)
	}
	if cfg.Audio.SampleRate <= 0 {
		fail("audio.sample_rate %d must be positive", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameMs <= 0 {
		fail("audio.frame_ms %d must be positive", cfg.Audio.FrameMs)
	}
	if cfg.Audio.Platform == PlatformWAVFile && cfg.Audio.InputFile == "" {
		fail("audio.input_file is required when audio.platform is wavfile")
	}
	if cfg.Audio.Platform == PlatformDiscord {
		if cfg.Discord.Token == "" {
			fail("discord.token is required when audio.platform is discord")
		}
		if cfg.Discord.GuildID == "" || cfg.Discord.ChannelID == "" {
			fail("discord.guild_id and discord.channel_id are required when audio.platform is discord")
		}
	}

	// VAD
	v := cfg.VAD
	if v.StartThreshold <= 0 || v.StartThreshold > 1 {
		fail("vad.start_threshold %.2f is out of range (0, 1]", v.StartThreshold)
	}
	if v.EndThreshold < 0 || v.EndThreshold > v.StartThreshold {
		fail("vad.end_threshold %.2f must be in [0, start_threshold]", v.EndThreshold)
	}
	if v.MinSpeechMs < 0 || v.MinSilenceMs < 0 || v.MaxSegmentMs < 0 || v.PrebufferSeconds < 0 {
		fail("vad durations must not be negative")
	}

	// Providers
	if cfg.STT.Name == "" {
		fail("stt.name is required")
	}
	if cfg.TTS.Name == "" {
		fail("tts.name is required")
	}
	validateProviderName("stt", cfg.STT.Name)
	validateProviderName("tts", cfg.TTS.Name)
	validateProviderName("vad", cfg.VAD.Name)
	if cfg.STT.Workers < 1 || cfg.TTS.Workers < 1 {
		fail("stt.workers and tts.workers must be at least 1")
	}
	if p := cfg.TTS.Voice.PitchShift; p < -12 || p > 12 {
		fail("tts.voice.pitch_shift %.2f is out of range [-12, 12]", p)
	}
	if s := cfg.TTS.Voice.SpeedFactor; s != 0 && (s < 0.5 || s > 2.0) {
		fail("tts.voice.speed_factor %.2f is out of range [0.5, 2.0]", s)
	}

	// Playback and transcript
	if cfg.Playback.VADEndTimeoutSeconds < 0 {
		fail("playback.vad_end_timeout_seconds must not be negative")
	}
	if cfg.Playback.QueueMaxItems < 1 {
		fail("playback.queue_max_items %d must be at least 1", cfg.Playback.QueueMaxItems)
	}
	if cfg.Transcript.NextTranscriptDelaySeconds < 0 || cfg.Transcript.ClearDelaySeconds < 0 {
		fail("transcript delays must not be negative")
	}

	// Journal and resilience
	if cfg.Journal.MemoryTurns < 0 {
		fail("journal.memory_turns must not be negative")
	}
	if cfg.Resilience.MaxFailures < 1 || cfg.Resilience.ResetTimeoutSeconds <= 0 {
		fail("resilience.max_failures and resilience.reset_timeout_seconds must be positive")
	}

	if cfg.Audio.Platform != PlatformDiscord && cfg.Discord.Token != "" {
		slog.Warn("discord.token is set but audio.platform is not discord; the bot will not start")
	}
	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
